package store

import (
	"context"
	"time"
)

// CacheStore is the persistent tier behind the HTTP response cache.
type CacheStore interface {
	GetCache(ctx context.Context, key string) ([]byte, bool)
	SetCache(ctx context.Context, key string, val []byte) error
}

// StateStore holds small string values: cancel flags and checkpoints.
type StateStore interface {
	GetState(ctx context.Context, key string) (string, bool)
	SetState(ctx context.Context, key, val string) error
	DeleteState(ctx context.Context, key string) error
}

// StateSweeper removes stale state entries by key prefix.
type StateSweeper interface {
	PruneState(ctx context.Context, prefix string, olderThan time.Duration) (int64, error)
}
