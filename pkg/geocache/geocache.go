package geocache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/language"

	"walktour/pkg/db"
	"walktour/pkg/geo"
	"walktour/pkg/store"
)

// ErrUnavailable marks failures of the backing store. Callers treat it as a miss.
var ErrUnavailable = errors.New("geocache: unavailable")

// Record kinds.
const (
	KindSummary    = "summary"
	KindPOI        = "poi"
	KindSuggestion = "suggestion"
)

// Record is one cached entry with its spatial and attribute index fields.
type Record struct {
	Key         string
	Kind        string
	Variant     string
	DurationMin int
	Language    string
	Location    geo.Point
	Payload     []byte
	Pinned      bool
	CreatedAt   time.Time
	ExpiresAt   time.Time // Zero for pinned records

	// DistanceM is set by QueryRadius.
	DistanceM float64
}

// Query selects records by kind, attributes and distance from Center.
type Query struct {
	Kind string
	// Duration range in minutes; both zero matches any duration.
	MinDuration int
	MaxDuration int
	// Language is compared case-insensitively; empty matches any.
	Language string
	// Variant must match exactly when set.
	Variant      string
	Center       geo.Point
	RadiusMeters float64
	Limit        int
}

// Cache is the sqlite-backed geospatial cache.
type Cache struct {
	db       *db.DB
	res      int
	maxCells int
	settle   time.Duration
	now      func() time.Time

	mu          sync.Mutex
	indexReady  bool
	settleUntil time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithResolution sets the H3 resolution used for the cell index.
func WithResolution(res int) Option { return func(c *Cache) { c.res = res } }

// WithMaxCells caps the number of H3 cells in one radius query before
// falling back to a bounding-box scan.
func WithMaxCells(n int) Option { return func(c *Cache) { c.maxCells = n } }

// WithSettleDelay sets how long after index creation queries are best-effort.
func WithSettleDelay(d time.Duration) Option { return func(c *Cache) { c.settle = d } }

// WithClock overrides time.Now (tests).
func WithClock(now func() time.Time) Option { return func(c *Cache) { c.now = now } }

// New creates a cache over an initialized database.
func New(d *db.DB, opts ...Option) *Cache {
	c := &Cache{
		db:       d,
		res:      11,
		maxCells: 5000,
		settle:   2 * time.Second,
		now:      time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

var indexDDL = []struct{ name, ddl string }{
	{"idx_geo_cache_cell", "CREATE INDEX idx_geo_cache_cell ON geo_cache (kind, h3_cell)"},
	{"idx_geo_cache_latlon", "CREATE INDEX idx_geo_cache_latlon ON geo_cache (kind, lat, lon)"},
	{"idx_geo_cache_expiry", "CREATE INDEX idx_geo_cache_expiry ON geo_cache (pinned, expires_at)"},
}

// EnsureIndex creates the secondary indexes if missing. Concurrent creators
// racing on the same index are not an error.
func (c *Cache) EnsureIndex(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.indexReady {
		return nil
	}

	created := false
	for _, idx := range indexDDL {
		var n int
		err := c.db.QueryRowContext(ctx, "SELECT count(*) FROM sqlite_master WHERE type='index' AND name=?", idx.name).Scan(&n)
		if err != nil {
			return fmt.Errorf("%w: check index %s: %v", ErrUnavailable, idx.name, err)
		}
		if n > 0 {
			continue
		}
		if _, err := c.db.ExecContext(ctx, idx.ddl); err != nil {
			if strings.Contains(err.Error(), "already exists") {
				slog.Debug("GeoCache: index created concurrently", "index", idx.name)
				continue
			}
			return fmt.Errorf("%w: create index %s: %v", ErrUnavailable, idx.name, err)
		}
		created = true
	}

	if created {
		c.settleUntil = c.now().Add(c.settle)
		slog.Info("GeoCache: created spatial indexes", "settle", c.settle)
	}
	c.indexReady = true
	return nil
}

// settling reports whether queries are still in the post-creation window.
func (c *Cache) settling() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now().Before(c.settleUntil)
}

// Put stores rec under rec.Key, replacing any existing entry for the key.
// Unpinned records need a positive ttl.
func (c *Cache) Put(ctx context.Context, rec Record, ttl time.Duration) error {
	if rec.Key == "" {
		return errors.New("geocache: empty key")
	}
	if rec.Kind == "" {
		return errors.New("geocache: empty kind")
	}
	if !rec.Location.Valid() {
		return fmt.Errorf("geocache: invalid location %+v", rec.Location)
	}
	if !rec.Pinned && ttl <= 0 {
		return fmt.Errorf("geocache: non-positive ttl %v for unpinned record", ttl)
	}

	cell, err := geo.CellID(rec.Location, c.res)
	if err != nil {
		return err
	}

	payload := rec.Payload
	if compressed, err := store.Compress(payload); err == nil {
		payload = compressed
	}

	now := c.now()
	var expires int64
	if !rec.Pinned {
		expires = now.Add(ttl).UnixMilli()
	}

	_, err = c.db.ExecContext(ctx, `
		INSERT INTO geo_cache (key, kind, variant, duration_min, language, lat, lon, h3_cell, payload, pinned, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			kind = excluded.kind,
			variant = excluded.variant,
			duration_min = excluded.duration_min,
			language = excluded.language,
			lat = excluded.lat,
			lon = excluded.lon,
			h3_cell = excluded.h3_cell,
			payload = excluded.payload,
			pinned = excluded.pinned,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at`,
		rec.Key, rec.Kind, rec.Variant, rec.DurationMin, NormalizeLanguage(rec.Language),
		rec.Location.Lat, rec.Location.Lon, cell, payload, rec.Pinned,
		now.UnixMilli(), expires)
	if err != nil {
		return fmt.Errorf("%w: put %s: %v", ErrUnavailable, rec.Key, err)
	}
	return nil
}

const selectCols = `SELECT key, kind, variant, duration_min, language, lat, lon, payload, pinned, created_at, expires_at FROM geo_cache`

// Get returns the fresh record stored under key. Store failures are a miss.
func (c *Cache) Get(ctx context.Context, key string) (Record, bool) {
	row := c.db.QueryRowContext(ctx, selectCols+` WHERE key = ? AND (pinned = 1 OR expires_at > ?)`, key, c.now().UnixMilli())
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false
	}
	if err != nil {
		slog.Warn("GeoCache: get failed, treating as miss", "key", key, "error", err)
		return Record{}, false
	}
	return rec, true
}

// QueryRadius returns fresh records matching q within q.RadiusMeters of
// q.Center, nearest first. Failures degrade to an empty result.
func (c *Cache) QueryRadius(ctx context.Context, q Query) []Record {
	if err := c.EnsureIndex(ctx); err != nil {
		slog.Warn("GeoCache: index unavailable, treating as miss", "error", err)
		return nil
	}
	if !q.Center.Valid() || q.RadiusMeters < 0 {
		return nil
	}

	recs, err := c.queryRadius(ctx, q)
	if err != nil {
		if c.settling() {
			slog.Debug("GeoCache: query during index settle, treating as miss", "error", err)
		} else {
			slog.Warn("GeoCache: query failed, treating as miss", "kind", q.Kind, "error", err)
		}
		return nil
	}
	return recs
}

func (c *Cache) queryRadius(ctx context.Context, q Query) ([]Record, error) {
	var (
		where []string
		args  []any
	)
	where = append(where, "kind = ?", "(pinned = 1 OR expires_at > ?)")
	args = append(args, q.Kind, c.now().UnixMilli())

	if q.MinDuration > 0 || q.MaxDuration > 0 {
		hi := q.MaxDuration
		if hi < q.MinDuration {
			hi = q.MinDuration
		}
		where = append(where, "duration_min BETWEEN ? AND ?")
		args = append(args, q.MinDuration, hi)
	}
	if q.Language != "" {
		where = append(where, "language = ?")
		args = append(args, NormalizeLanguage(q.Language))
	}
	if q.Variant != "" {
		where = append(where, "variant = ?")
		args = append(args, q.Variant)
	}

	cells, err := geo.CellsCovering(q.Center, q.RadiusMeters, c.res, c.maxCells)
	switch {
	case err == nil:
		where = append(where, "h3_cell IN ("+placeholders(len(cells))+")")
		for _, cell := range cells {
			args = append(args, cell)
		}
	default:
		// Large radius or H3 failure: bounding box on raw coordinates
		slog.Debug("GeoCache: using bounding box scan", "radius", q.RadiusMeters, "reason", err)
		minLat, maxLat, minLon, maxLon := geo.BoundAround(q.Center, q.RadiusMeters)
		where = append(where, "lat BETWEEN ? AND ?")
		args = append(args, minLat, maxLat)
		if minLon >= -180 && maxLon <= 180 {
			where = append(where, "lon BETWEEN ? AND ?")
			args = append(args, minLon, maxLon)
		}
	}

	rows, err := c.db.QueryContext(ctx, selectCols+" WHERE "+strings.Join(where, " AND "), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		rec.DistanceM = geo.Distance(q.Center, rec.Location)
		if rec.DistanceM <= q.RadiusMeters {
			out = append(out, rec)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].DistanceM != out[j].DistanceM {
			return out[i].DistanceM < out[j].DistanceM
		}
		return out[i].Key < out[j].Key
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// Delete removes the entry stored under key.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if _, err := c.db.ExecContext(ctx, "DELETE FROM geo_cache WHERE key = ?", key); err != nil {
		return fmt.Errorf("%w: delete %s: %v", ErrUnavailable, key, err)
	}
	return nil
}

// Pin marks a record as never expiring, or unpins it with a fresh ttl.
func (c *Cache) Pin(ctx context.Context, key string, pinned bool, ttl time.Duration) error {
	var expires int64
	if !pinned {
		if ttl <= 0 {
			return fmt.Errorf("geocache: non-positive ttl %v for unpin", ttl)
		}
		expires = c.now().Add(ttl).UnixMilli()
	}
	res, err := c.db.ExecContext(ctx, "UPDATE geo_cache SET pinned = ?, expires_at = ? WHERE key = ?", pinned, expires, key)
	if err != nil {
		return fmt.Errorf("%w: pin %s: %v", ErrUnavailable, key, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("geocache: no record %q", key)
	}
	return nil
}

// Prune deletes expired, unpinned records and returns how many were removed.
func (c *Cache) Prune(ctx context.Context) (int64, error) {
	res, err := c.db.ExecContext(ctx, "DELETE FROM geo_cache WHERE pinned = 0 AND expires_at <= ?", c.now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("%w: prune: %v", ErrUnavailable, err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(r rowScanner) (Record, error) {
	var (
		rec              Record
		created, expires int64
	)
	if err := r.Scan(&rec.Key, &rec.Kind, &rec.Variant, &rec.DurationMin, &rec.Language,
		&rec.Location.Lat, &rec.Location.Lon, &rec.Payload, &rec.Pinned, &created, &expires); err != nil {
		return Record{}, err
	}
	if store.IsCompressed(rec.Payload) {
		if raw, err := store.Decompress(rec.Payload); err == nil {
			rec.Payload = raw
		}
	}
	rec.CreatedAt = time.UnixMilli(created)
	if expires > 0 {
		rec.ExpiresAt = time.UnixMilli(expires)
	}
	return rec, nil
}

func placeholders(n int) string {
	if n <= 0 {
		return "NULL"
	}
	return strings.Repeat("?,", n-1) + "?"
}

// NormalizeLanguage canonicalizes a BCP 47 tag ("EN_us" and "en-US" both
// become "en-us"). Unparseable tags are only lower-cased.
func NormalizeLanguage(lang string) string {
	lang = strings.TrimSpace(lang)
	if tag, err := language.Parse(lang); err == nil {
		lang = tag.String()
	}
	return strings.ToLower(lang)
}
