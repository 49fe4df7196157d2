// Package sqlite provides the embedded document-store backend.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"tutordesk/internal/infra/docstore/sqlstore"
)

const (
	driverName  = "sqlite"
	defaultPath = "tutordesk.db"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Dialect is the SQLite statement set.
var Dialect = sqlstore.Dialect{
	Name: "sqlite",
	Schema: []string{
		`CREATE TABLE IF NOT EXISTS documents (
			collection TEXT NOT NULL,
			id TEXT NOT NULL,
			payload BLOB NOT NULL,
			PRIMARY KEY (collection, id)
		)`,
	},
	Upsert:           `INSERT INTO documents (collection, id, payload) VALUES (?, ?, ?) ON CONFLICT (collection, id) DO UPDATE SET payload = excluded.payload`,
	Delete:           `DELETE FROM documents WHERE collection = ? AND id = ?`,
	SelectAll:        `SELECT collection, id, payload FROM documents`,
	SelectCollection: `SELECT id, payload FROM documents WHERE collection = ?`,
}

// Open opens (creating if needed) the database file at path and returns a
// hydrated document store.
func Open(ctx context.Context, path string, opts ...sqlstore.Option) (*sqlstore.Store, error) {
	if path == "" {
		path = defaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	openMu.Lock()
	db, err := sqlOpen(driverName, path)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection keeps writers serialized; busy_timeout covers other processes.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, `PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("configure sqlite: %w", err)
	}
	store, err := sqlstore.Open(ctx, db, Dialect, opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dsn string) (*sql.DB, error)) func() {
	openMu.Lock()
	prev := sqlOpen
	sqlOpen = fn
	openMu.Unlock()
	return func() {
		openMu.Lock()
		sqlOpen = prev
		openMu.Unlock()
	}
}
