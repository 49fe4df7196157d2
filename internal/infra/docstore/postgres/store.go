// Package postgres provides the Postgres document-store backend. Documents are
// stored as JSONB rows and mirrored in memory for queries and live observers.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"tutordesk/internal/infra/docstore/sqlstore"
)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/tutordesk?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Dialect is the Postgres statement set.
var Dialect = sqlstore.Dialect{
	Name: "postgres",
	Schema: []string{
		`CREATE TABLE IF NOT EXISTS documents (
			collection TEXT NOT NULL,
			id TEXT NOT NULL,
			payload JSONB NOT NULL,
			PRIMARY KEY (collection, id)
		)`,
		`CREATE INDEX IF NOT EXISTS documents_owner_idx ON documents (collection, (payload->>'ownerUid'))`,
	},
	Upsert:           `INSERT INTO documents (collection, id, payload) VALUES ($1, $2, $3) ON CONFLICT (collection, id) DO UPDATE SET payload = EXCLUDED.payload`,
	Delete:           `DELETE FROM documents WHERE collection = $1 AND id = $2`,
	SelectAll:        `SELECT collection, id, payload FROM documents`,
	SelectCollection: `SELECT id, payload FROM documents WHERE collection = $1`,
}

// Open connects using dsn (falling back to a local default), ensures the schema,
// and hydrates the in-memory mirror.
func Open(ctx context.Context, dsn string, opts ...sqlstore.Option) (*sqlstore.Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
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
