package geocode

import (
	"context"
	"fmt"
	"log/slog"

	"walktour/pkg/config"
	"walktour/pkg/geo"
	"walktour/pkg/model"
)

// MaxCityDistance bounds how far the nearest populated place may be.
const MaxCityDistance = 20000.0

// Offline resolves places from local data: the GeoNames city grid,
// country polygons and optional neighborhood polygons. Any part may be nil.
type Offline struct {
	cities    *geo.CityIndex
	countries *geo.CountryService
	areas     *geo.FeatureService
}

// NewOffline wraps already loaded datasets.
func NewOffline(cities *geo.CityIndex, countries *geo.CountryService, areas *geo.FeatureService) *Offline {
	return &Offline{cities: cities, countries: countries, areas: areas}
}

// LoadOffline loads whichever datasets are configured and present.
// Missing files are logged and skipped.
func LoadOffline(cfg config.GeocodeConfig) *Offline {
	o := &Offline{}
	if cfg.CitiesFile != "" {
		idx, err := geo.LoadCityIndex(cfg.CitiesFile)
		if err != nil {
			slog.Warn("Geocode: city index unavailable", "path", cfg.CitiesFile, "error", err)
		} else {
			o.cities = idx
		}
	}
	if cfg.CountriesFile != "" {
		cs, err := geo.NewCountryService(cfg.CountriesFile)
		if err != nil {
			slog.Warn("Geocode: country boundaries unavailable", "path", cfg.CountriesFile, "error", err)
		} else {
			o.countries = cs
		}
	}
	if len(cfg.NeighborhoodFiles) > 0 {
		fs, err := geo.NewFeatureService(cfg.NeighborhoodFiles...)
		if err != nil {
			slog.Warn("Geocode: neighborhood layers unavailable", "error", err)
		} else {
			o.areas = fs
		}
	}
	return o
}

// Name implements Lookuper.
func (o *Offline) Name() string { return "offline" }

// Lookup implements Lookuper.
func (o *Offline) Lookup(ctx context.Context, lat, lon float64) (model.Place, error) {
	if o.cities == nil && o.countries == nil && o.areas == nil {
		return model.Place{}, fmt.Errorf("offline: no datasets loaded")
	}

	var p model.Place
	var cityCountry string
	if o.cities != nil {
		if c, ok := o.cities.Nearest(geo.Point{Lat: lat, Lon: lon}, MaxCityDistance); ok {
			p.City = c.Name
			cityCountry = c.CountryCode
		}
	}
	if o.countries != nil {
		p.Country = o.countries.GetCountryAtPoint(lat, lon).CountryName
	}
	if p.Country == "" {
		p.Country = cityCountry
	}
	if o.areas != nil {
		if f, ok := o.areas.Smallest(lat, lon); ok {
			p.Neighborhood = f.Name
		}
	}
	return p, nil
}
