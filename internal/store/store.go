package store

import (
	"context"
	"log/slog"
	"strings"
)

// Entry is one persisted value. Key is a content/identity fingerprint, Type
// names the codec type needed to decode Data.
type Entry struct {
	Key  string
	Type string
	Rule string
	Data []byte
}

// Stats summarises the contents of a Store.
type Stats struct {
	Entries int
	Bytes   int64
}

// Store is a content-addressed persistence layer for computed values.
//
// Writes are append-only: saving a key that already exists keeps the first
// value, so concurrent writers never race on a read-modify-write of one key.
type Store interface {
	// Load returns the entry for key, reporting false if it is missing.
	Load(ctx context.Context, key string) (Entry, bool, error)
	// Save records an entry unless its key is already present.
	Save(ctx context.Context, e Entry) error
	Stats(ctx context.Context) (Stats, error)
	Clear(ctx context.Context) error
	Close() error
}

// Open returns an in-memory store for "" or "memory" and a migrated SQLite
// store at path otherwise.
func Open(ctx context.Context, path string, logger *slog.Logger) (Store, error) {
	if path == "" || strings.EqualFold(path, "memory") {
		return NewMemoryStore(), nil
	}
	st, err := NewSQLiteStore(path, logger)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, err
	}
	return st, nil
}
