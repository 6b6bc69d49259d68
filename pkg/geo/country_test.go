package geo

import "testing"

const countriesFixture = `{
  "type": "FeatureCollection",
  "features": [
    {
      "type": "Feature",
      "properties": {"ISO_A2": "-99", "ISO_A2_EH": "XA", "NAME": "Squareland"},
      "geometry": {"type": "Polygon", "coordinates": [[[0,0],[10,0],[10,10],[0,10],[0,0]]]}
    },
    {
      "type": "Feature",
      "properties": {"ISO_A2": "XB", "NAME": "Islandia"},
      "geometry": {"type": "MultiPolygon", "coordinates": [[[[20,20],[21,20],[21,21],[20,21],[20,20]]]]}
    }
  ]
}`

func TestCountryService(t *testing.T) {
	cs, err := NewCountryServiceFromData([]byte(countriesFixture))
	if err != nil {
		t.Fatalf("Failed to create CountryService: %v", err)
	}

	tests := []struct {
		name     string
		lat, lon float64
		wantCode string
		wantName string
	}{
		{"Inside polygon, EH fallback", 5, 5, "XA", "Squareland"},
		{"Inside multipolygon", 20.5, 20.5, "XB", "Islandia"},
		{"Coastal water", 10.05, 5, "XA", "Squareland"},
		{"Open sea", 15, 15, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := cs.GetCountryAtPoint(tt.lat, tt.lon)
			if got.CountryCode != tt.wantCode || got.CountryName != tt.wantName {
				t.Errorf("got %+v, want %s/%s", got, tt.wantCode, tt.wantName)
			}
			// Second call hits the cache
			if again := cs.GetCountryAtPoint(tt.lat, tt.lon); again != got {
				t.Errorf("cached result differs: %+v vs %+v", again, got)
			}
		})
	}
}
