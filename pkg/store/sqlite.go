package store

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"walktour/pkg/db"
)

// Store defines the repository interface.
// Consumers should depend on specific sub-interfaces when possible.
type Store interface {
	CacheStore
	StateStore
	StateSweeper

	// Close closes the store connection.
	Close() error
}

// SQLiteStore implements Store.
type SQLiteStore struct {
	db *db.DB
}

// NewSQLiteStore creates a new store.
func NewSQLiteStore(db *db.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Cache ---

// GetCache returns a cached HTTP body, transparently gunzipping it.
func (s *SQLiteStore) GetCache(ctx context.Context, key string) ([]byte, bool) {
	var val []byte
	err := s.db.QueryRowContext(ctx, "SELECT value FROM cache WHERE key = ?", key).Scan(&val)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false
	}
	if err != nil {
		slog.Warn("Store: cache read failed, treating as miss", "key", key, "error", err)
		return nil, false
	}

	if IsCompressed(val) {
		decompressed, err := Decompress(val)
		if err == nil {
			return decompressed, true
		}
		// Corrupt or not actually gzip, return raw
	}

	return val, true
}

// SetCache stores val gzipped when that succeeds.
func (s *SQLiteStore) SetCache(ctx context.Context, key string, val []byte) error {
	compressed, err := Compress(val)
	if err == nil {
		val = compressed
	}

	query := `INSERT OR REPLACE INTO cache (key, value, created_at) VALUES (?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query, key, val, sqliteTime(time.Now()))
	return err
}

// --- State ---

func (s *SQLiteStore) GetState(ctx context.Context, key string) (string, bool) {
	var val string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM persistent_state WHERE key = ?", key).Scan(&val)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			slog.Warn("Store: state read failed", "key", key, "error", err)
		}
		return "", false
	}
	return val, true
}

func (s *SQLiteStore) SetState(ctx context.Context, key, val string) error {
	query := `INSERT OR REPLACE INTO persistent_state (key, value, created_at) VALUES (?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query, key, val, sqliteTime(time.Now()))
	return err
}

func (s *SQLiteStore) DeleteState(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM persistent_state WHERE key = ?", key)
	return err
}

// PruneState deletes state entries under prefix written before now-olderThan.
func (s *SQLiteStore) PruneState(ctx context.Context, prefix string, olderThan time.Duration) (int64, error) {
	deadline := sqliteTime(time.Now().Add(-olderThan))
	res, err := s.db.ExecContext(ctx, "DELETE FROM persistent_state WHERE key LIKE ? AND created_at < ?", prefix+"%", deadline)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// sqliteTime formats t like SQLite's CURRENT_TIMESTAMP so string comparison orders correctly.
func sqliteTime(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05")
}
