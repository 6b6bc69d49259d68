// Package suggest memoizes whole generated tour sets per request
// fingerprint on top of the geospatial cache.
package suggest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"walktour/pkg/geo"
	"walktour/pkg/geocache"
	"walktour/pkg/model"
)

// DefaultRadius is how far from the requested start a cached set may lie.
const DefaultRadius = 50.0

// noCustomization is the variant of requests without user customization.
const noCustomization = "none"

// Fingerprint identifies a cacheable suggestion request.
type Fingerprint struct {
	Duration      int // Normalized minutes
	Language      string
	Start         geo.Point
	Customization string
}

// NewFingerprint normalizes the request attributes.
func NewFingerprint(minutes int, language string, start geo.Point, customization string) Fingerprint {
	return Fingerprint{
		Duration:      geocache.NormalizeDuration(minutes),
		Language:      geocache.NormalizeLanguage(language),
		Start:         start,
		Customization: strings.TrimSpace(customization),
	}
}

// Variant is a short stable hash of the customization, or "none".
func (f Fingerprint) Variant() string {
	if f.Customization == "" {
		return noCustomization
	}
	sum := sha256.Sum256([]byte(strings.ToLower(f.Customization)))
	return hex.EncodeToString(sum[:6])
}

// Key is unique per fingerprint, so a store replaces any earlier set
// for the same request.
func (f Fingerprint) Key(res int) (string, error) {
	cell, err := geo.CellID(f.Start, res)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("suggestion:%d:%s:%s:%s", f.Duration, f.Language, f.Variant(), cell), nil
}

// Set is one cached batch of tour suggestions.
type Set struct {
	Tours       []model.Tour `json:"tours"`
	GeneratedAt time.Time    `json:"generated_at"`
}

// Cache looks up and stores suggestion sets.
type Cache struct {
	geo    *geocache.Cache
	ttl    time.Duration
	radius float64
	res    int
}

// New creates a suggestion cache.
func New(c *geocache.Cache, ttl time.Duration, radiusMeters float64) *Cache {
	if radiusMeters <= 0 {
		radiusMeters = DefaultRadius
	}
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &Cache{geo: c, ttl: ttl, radius: radiusMeters, res: 11}
}

// Lookup returns the nearest fresh set matching f exactly on duration,
// language and customization. Cache failures are a miss.
func (c *Cache) Lookup(ctx context.Context, f Fingerprint) (Set, bool) {
	if c == nil || c.geo == nil {
		return Set{}, false
	}
	recs := c.geo.QueryRadius(ctx, geocache.Query{
		Kind:         geocache.KindSuggestion,
		MinDuration:  f.Duration,
		MaxDuration:  f.Duration,
		Language:     f.Language,
		Variant:      f.Variant(),
		Center:       f.Start,
		RadiusMeters: c.radius,
		Limit:        1,
	})
	if len(recs) == 0 {
		slog.Debug("Suggest: miss", "duration", f.Duration, "lang", f.Language)
		return Set{}, false
	}

	var set Set
	if err := json.Unmarshal(recs[0].Payload, &set); err != nil {
		slog.Warn("Suggest: undecodable entry, treating as miss", "key", recs[0].Key, "error", err)
		return Set{}, false
	}
	slog.Debug("Suggest: hit", "key", recs[0].Key, "distance_m", int(recs[0].DistanceM))
	return set, true
}

// Store caches set under f.
func (c *Cache) Store(ctx context.Context, f Fingerprint, set Set) error {
	if c == nil || c.geo == nil {
		return nil
	}
	key, err := f.Key(c.res)
	if err != nil {
		return err
	}
	if set.GeneratedAt.IsZero() {
		set.GeneratedAt = time.Now().UTC()
	}
	rec := geocache.Record{
		Key:         key,
		Kind:        geocache.KindSuggestion,
		Variant:     f.Variant(),
		DurationMin: f.Duration,
		Language:    f.Language,
		Location:    f.Start,
	}
	return c.geo.PutJSON(ctx, rec, set, c.ttl)
}
