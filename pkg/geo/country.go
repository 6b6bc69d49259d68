package geo

import (
	"fmt"
	"log/slog"
	"math"
	"os"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// TerritorialWatersM is the coastal band (12 nm) still attributed to a country.
const TerritorialWatersM = 12 * 1852

// CountryResult represents the result of a country lookup.
type CountryResult struct {
	CountryCode string // ISO 3166-1 Alpha-2 (e.g., "FR")
	CountryName string // Full name (e.g., "France")
}

// CountryService provides country boundary detection using GeoJSON polygons.
type CountryService struct {
	features *geojson.FeatureCollection

	mu    sync.RWMutex
	cache map[string]CountryResult
}

// NewCountryService loads country boundaries (Natural Earth admin-0) from a GeoJSON file.
func NewCountryService(geojsonPath string) (*CountryService, error) {
	data, err := os.ReadFile(geojsonPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read countries GeoJSON: %w", err)
	}
	return NewCountryServiceFromData(data)
}

// NewCountryServiceFromData parses a GeoJSON feature collection of countries.
func NewCountryServiceFromData(data []byte) (*CountryService, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse countries GeoJSON: %w", err)
	}

	slog.Info("CountryService: Loaded country boundaries", "features", len(fc.Features))

	return &CountryService{
		features: fc,
		cache:    make(map[string]CountryResult),
	}, nil
}

// GetCountryAtPoint returns the country at the given coordinates.
// Results are cached using ~1km (0.01 degree) quantization.
func (s *CountryService) GetCountryAtPoint(lat, lon float64) CountryResult {
	key := fmt.Sprintf("%.2f,%.2f", lat, lon)

	s.mu.RLock()
	if res, ok := s.cache[key]; ok {
		s.mu.RUnlock()
		return res
	}
	s.mu.RUnlock()

	result := s.lookupCountry(lat, lon)

	s.mu.Lock()
	s.cache[key] = result
	s.mu.Unlock()
	return result
}

// lookupCountry performs the point-in-polygon test, falling back to the
// nearest country within territorial waters for coastal points.
func (s *CountryService) lookupCountry(lat, lon float64) CountryResult {
	point := orb.Point{lon, lat}

	for _, feature := range s.features.Features {
		if !feature.Geometry.Bound().Pad(0.01).Contains(point) {
			continue
		}
		if covers(feature.Geometry, point) {
			return countryOf(feature)
		}
	}

	nearest, minDist := CountryResult{}, math.Inf(1)
	for _, feature := range s.features.Features {
		if d := boundaryMeters(point, feature.Geometry); d < minDist {
			nearest, minDist = countryOf(feature), d
		}
	}
	if minDist > TerritorialWatersM {
		return CountryResult{}
	}
	return nearest
}

func countryOf(f *geojson.Feature) CountryResult {
	return CountryResult{
		CountryCode: isoCode(f.Properties),
		CountryName: prop(f.Properties, "NAME"),
	}
}
