package geocache

import (
	"context"
	"fmt"
)

// Stats summarizes cache contents per kind.
type Stats struct {
	Total   int            `json:"total"`
	Pinned  int            `json:"pinned"`
	Expired int            `json:"expired"`
	Bytes   int64          `json:"bytes"`
	ByKind  map[string]int `json:"by_kind"`
}

// Stats counts records, including expired ones not yet pruned.
func (c *Cache) Stats(ctx context.Context) (Stats, error) {
	st := Stats{ByKind: make(map[string]int)}
	rows, err := c.db.QueryContext(ctx, `
		SELECT kind,
		       count(*),
		       sum(CASE WHEN pinned = 1 THEN 1 ELSE 0 END),
		       sum(CASE WHEN pinned = 0 AND expires_at <= ? THEN 1 ELSE 0 END),
		       coalesce(sum(length(payload)), 0)
		FROM geo_cache GROUP BY kind`, c.now().UnixMilli())
	if err != nil {
		return st, fmt.Errorf("%w: stats: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			kind                   string
			total, pinned, expired int
			size                   int64
		)
		if err := rows.Scan(&kind, &total, &pinned, &expired, &size); err != nil {
			return st, err
		}
		st.ByKind[kind] = total
		st.Total += total
		st.Pinned += pinned
		st.Expired += expired
		st.Bytes += size
	}
	return st, rows.Err()
}
