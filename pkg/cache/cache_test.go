package cache

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"walktour/pkg/db"
	"walktour/pkg/store"
)

type failingCacher struct{}

func (failingCacher) GetCache(ctx context.Context, key string) ([]byte, bool) { return nil, false }
func (failingCacher) SetCache(ctx context.Context, key string, val []byte) error {
	return errors.New("disk full")
}

func TestMemory(t *testing.T) {
	ctx := context.Background()

	t.Run("HitAndMiss", func(t *testing.T) {
		m := NewMemory(4, nil)
		if _, hit := m.GetCache(ctx, "k"); hit {
			t.Error("Expected miss on empty cache")
		}
		if err := m.SetCache(ctx, "k", []byte("v")); err != nil {
			t.Fatal(err)
		}
		val, hit := m.GetCache(ctx, "k")
		if !hit || string(val) != "v" {
			t.Errorf("Expected hit with v, got %q hit=%v", val, hit)
		}
	})

	t.Run("EvictsOldest", func(t *testing.T) {
		m := NewMemory(2, nil)
		for _, k := range []string{"a", "b", "c"} {
			_ = m.SetCache(ctx, k, []byte(k))
		}
		if m.Len() != 2 {
			t.Errorf("Expected 2 entries, got %d", m.Len())
		}
		if _, hit := m.GetCache(ctx, "a"); hit {
			t.Error("Expected a to be evicted")
		}
		if _, hit := m.GetCache(ctx, "c"); !hit {
			t.Error("Expected c to be cached")
		}
	})

	t.Run("OverwriteKeepsSize", func(t *testing.T) {
		m := NewMemory(2, nil)
		_ = m.SetCache(ctx, "a", []byte("1"))
		_ = m.SetCache(ctx, "a", []byte("2"))
		if m.Len() != 1 {
			t.Errorf("Expected 1 entry, got %d", m.Len())
		}
		val, _ := m.GetCache(ctx, "a")
		if string(val) != "2" {
			t.Errorf("Expected overwritten value, got %q", val)
		}
	})

	t.Run("BackedBySQLite", func(t *testing.T) {
		d, err := db.Init(filepath.Join(t.TempDir(), "cache_test.db"))
		if err != nil {
			t.Fatalf("Failed to init db: %v", err)
		}
		defer d.Close()
		s := store.NewSQLiteStore(d)

		front := NewMemory(8, s)
		if err := front.SetCache(ctx, "nominatim:1", []byte("data")); err != nil {
			t.Fatal(err)
		}

		// A fresh front reads through to the persistent layer
		cold := NewMemory(8, s)
		val, hit := cold.GetCache(ctx, "nominatim:1")
		if !hit || string(val) != "data" {
			t.Errorf("Expected read-through hit, got %q hit=%v", val, hit)
		}
		if cold.Len() != 1 {
			t.Errorf("Expected read-through to populate memory, got %d", cold.Len())
		}
	})

	t.Run("BackingError", func(t *testing.T) {
		m := NewMemory(2, failingCacher{})
		if err := m.SetCache(ctx, "k", []byte("v")); err == nil {
			t.Error("Expected error from backing cacher")
		}
		if m.Len() != 0 {
			t.Error("Expected nothing cached after backing failure")
		}
	})
}
