package geocache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// PutJSON marshals v into rec.Payload and stores the record.
func (c *Cache) PutJSON(ctx context.Context, rec Record, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("geocache: marshal %s: %w", rec.Key, err)
	}
	rec.Payload = data
	return c.Put(ctx, rec, ttl)
}

// GetJSON loads key and unmarshals its payload into a T.
// Undecodable payloads are reported as a miss.
func GetJSON[T any](ctx context.Context, c *Cache, key string) (T, Record, bool) {
	var zero T
	rec, ok := c.Get(ctx, key)
	if !ok {
		return zero, Record{}, false
	}
	var v T
	if err := json.Unmarshal(rec.Payload, &v); err != nil {
		slog.Warn("GeoCache: undecodable payload, treating as miss", "key", key, "error", err)
		return zero, Record{}, false
	}
	return v, rec, true
}

// Remaining returns the ttl left on rec, or 0 for pinned or expired records.
func (r Record) Remaining(now time.Time) time.Duration {
	if r.Pinned || r.ExpiresAt.IsZero() {
		return 0
	}
	if d := r.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}
