package geo

import (
	"fmt"
	"os"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// FeatureResult represents a matched area polygon (e.g. a neighborhood).
type FeatureResult struct {
	Name     string
	Category string
	Area     float64 // Bounding-box area in square degrees, used to pick the tightest match
}

// FeatureService handles lookup of named area polygons from GeoJSON layers.
type FeatureService struct {
	mu       sync.RWMutex
	features []*geojson.Feature
}

// NewFeatureService creates a new service and loads the specified GeoJSON files.
func NewFeatureService(paths ...string) (*FeatureService, error) {
	s := &FeatureService{}
	for _, path := range paths {
		if err := s.load(path); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *FeatureService) load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read geojson %s: %w", path, err)
	}

	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return fmt.Errorf("failed to parse geojson %s: %w", path, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.features = append(s.features, fc.Features...)
	return nil
}

// GetFeaturesAtPoint returns all features covering the given coordinates.
func (s *FeatureService) GetFeaturesAtPoint(lat, lon float64) []FeatureResult {
	point := orb.Point{lon, lat}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []FeatureResult
	for _, f := range s.features {
		b := f.Geometry.Bound()
		if !b.Contains(point) {
			continue
		}

		if covers(f.Geometry, point) {
			results = append(results, FeatureResult{
				Name:     prop(f.Properties, "name"),
				Category: prop(f.Properties, "category"),
				Area:     (b.Max[0] - b.Min[0]) * (b.Max[1] - b.Min[1]),
			})
		}
	}

	return results
}

// Smallest returns the covering feature with the tightest bounds, or false.
func (s *FeatureService) Smallest(lat, lon float64) (FeatureResult, bool) {
	matches := s.GetFeaturesAtPoint(lat, lon)
	if len(matches) == 0 {
		return FeatureResult{}, false
	}
	best := matches[0]
	for _, m := range matches[1:] {
		if m.Area < best.Area {
			best = m
		}
	}
	return best, true
}
