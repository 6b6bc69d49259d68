// Package geocode resolves coordinates to country, city and neighborhood.
package geocode

import (
	"context"
	"log/slog"

	"walktour/pkg/model"
)

// Reverser resolves coordinates to a place. It never fails: unresolved
// fields are left empty.
type Reverser interface {
	ReverseGeocode(ctx context.Context, lat, lon float64) model.Place
}

// Lookuper is one geocoding source that may fail.
type Lookuper interface {
	Name() string
	Lookup(ctx context.Context, lat, lon float64) (model.Place, error)
}

// Chain queries sources in order and fills each empty field from the first
// source that knows it.
type Chain struct {
	sources []Lookuper
}

// NewChain builds a Reverser from the given sources; nil sources are skipped.
func NewChain(sources ...Lookuper) *Chain {
	c := &Chain{}
	for _, s := range sources {
		if s != nil {
			c.sources = append(c.sources, s)
		}
	}
	return c
}

// ReverseGeocode implements Reverser.
func (c *Chain) ReverseGeocode(ctx context.Context, lat, lon float64) model.Place {
	var place model.Place
	for _, s := range c.sources {
		if ctx.Err() != nil {
			break
		}
		p, err := s.Lookup(ctx, lat, lon)
		if err != nil {
			slog.Warn("Geocode: lookup failed", "source", s.Name(), "lat", lat, "lon", lon, "error", err)
			continue
		}
		place = merge(place, p)
		if place.Country != "" && place.City != "" && place.Neighborhood != "" {
			break
		}
	}
	return place
}

func merge(dst, src model.Place) model.Place {
	if dst.Country == "" {
		dst.Country = src.Country
	}
	if dst.City == "" {
		dst.City = src.City
	}
	if dst.Neighborhood == "" {
		dst.Neighborhood = src.Neighborhood
	}
	return dst
}
