package geocode

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"walktour/pkg/cache"
	"walktour/pkg/config"
	"walktour/pkg/geo"
	"walktour/pkg/model"
	"walktour/pkg/request"
	"walktour/pkg/tracker"
)

type stubSource struct {
	name  string
	place model.Place
	err   error
	calls int
}

func (s *stubSource) Name() string { return s.name }

func (s *stubSource) Lookup(ctx context.Context, lat, lon float64) (model.Place, error) {
	s.calls++
	return s.place, s.err
}

func TestChain(t *testing.T) {
	t.Run("FillsGapsFromLaterSources", func(t *testing.T) {
		a := &stubSource{name: "a", place: model.Place{Country: "Spain", City: "Barcelona"}}
		b := &stubSource{name: "b", place: model.Place{City: "Other", Neighborhood: "El Born"}}
		got := NewChain(a, b).ReverseGeocode(context.Background(), 41.38, 2.18)
		assert.Equal(t, model.Place{Country: "Spain", City: "Barcelona", Neighborhood: "El Born"}, got)
	})

	t.Run("StopsWhenComplete", func(t *testing.T) {
		a := &stubSource{name: "a", place: model.Place{Country: "Spain", City: "Barcelona", Neighborhood: "Gràcia"}}
		b := &stubSource{name: "b"}
		NewChain(a, b).ReverseGeocode(context.Background(), 41.4, 2.15)
		assert.Zero(t, b.calls)
	})

	t.Run("NeverErrors", func(t *testing.T) {
		a := &stubSource{name: "a", err: errors.New("503")}
		got := NewChain(a, nil).ReverseGeocode(context.Background(), 0, 0)
		assert.True(t, got.IsEmpty())
	})
}

func TestNominatim(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "/reverse", r.URL.Path)
		assert.Equal(t, "walktour-test", r.Header.Get("User-Agent"))
		assert.Equal(t, "jsonv2", r.URL.Query().Get("format"))
		w.Write([]byte(`{"address":{"country":"Spain","town":"Sitges","suburb":"Centre"}}`))
	}))
	defer srv.Close()

	rc := request.New(cache.NewMemory(16, nil), tracker.New(), request.Options{Retries: 1})
	n := NewNominatim(config.GeocodeConfig{NominatimURL: srv.URL, UserAgent: "walktour-test"}, rc)

	got, err := n.Lookup(context.Background(), 41.2379, 1.8059)
	require.NoError(t, err)
	assert.Equal(t, model.Place{Country: "Spain", City: "Sitges", Neighborhood: "Centre"}, got)

	// Second lookup at the same rounded coordinate is served from cache
	_, err = n.Lookup(context.Background(), 41.23791, 1.80591)
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load())
}

func TestNominatim_ErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":"Unable to geocode"}`))
	}))
	defer srv.Close()

	rc := request.New(nil, tracker.New(), request.Options{Retries: 1})
	n := NewNominatim(config.GeocodeConfig{NominatimURL: srv.URL}, rc)
	_, err := n.Lookup(context.Background(), 0, 0)
	assert.Error(t, err)

	// Through the chain the failure degrades to an empty place
	assert.True(t, NewChain(n).ReverseGeocode(context.Background(), 0, 0).IsEmpty())
}

func TestOffline(t *testing.T) {
	idx, err := geo.ReadCityIndex(strings.NewReader(""))
	require.NoError(t, err)
	idx.Add(geo.City{Name: "Barcelona", Lat: 41.3888, Lon: 2.159, CountryCode: "ES"})
	idx.Add(geo.City{Name: "Girona", Lat: 41.9831, Lon: 2.8249, CountryCode: "ES"})

	o := NewOffline(idx, nil, nil)
	got, err := o.Lookup(context.Background(), 41.385, 2.173)
	require.NoError(t, err)
	assert.Equal(t, "Barcelona", got.City)
	assert.Equal(t, "ES", got.Country)
	assert.Empty(t, got.Neighborhood)

	// Far from any city
	got, err = o.Lookup(context.Background(), 0, 0)
	require.NoError(t, err)
	assert.True(t, got.IsEmpty())
}

func TestOffline_NoData(t *testing.T) {
	_, err := NewOffline(nil, nil, nil).Lookup(context.Background(), 1, 1)
	assert.Error(t, err)

	o := LoadOffline(config.GeocodeConfig{CitiesFile: "does/not/exist.txt"})
	_, err = o.Lookup(context.Background(), 1, 1)
	assert.Error(t, err)
}
