package core

import (
	"context"
	"errors"
	"fmt"

	"tutordesk/internal/infra/changefeed"
	"tutordesk/internal/infra/docstore/memory"
	"tutordesk/internal/infra/docstore/postgres"
	"tutordesk/internal/infra/docstore/sqlite"
	"tutordesk/internal/infra/docstore/sqlstore"
	"tutordesk/pkg/domain"
)

// StorageDriver identifies a document store backend.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

// StorageConfig selects and configures the document store.
type StorageConfig struct {
	Driver        StorageDriver
	SQLitePath    string
	PostgresDSN   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisChannel  string
}

// DocumentBackend is a document store that owns resources.
type DocumentBackend interface {
	domain.DocumentStore
	Close() error
}

type memoryBackend struct{ *memory.Store }

func (memoryBackend) Close() error { return nil }

// OpenDocumentStore opens the configured backend. SQL backends announce their
// writes on a redis change feed when RedisAddr is set, so that processes
// sharing one database observe each other's writes. Defaults to sqlite.
func OpenDocumentStore(ctx context.Context, cfg StorageConfig, logger Logger) (DocumentBackend, error) {
	if logger == nil {
		logger = noopLogger{}
	}
	driver := cfg.Driver
	if driver == "" {
		driver = StorageSQLite
	}
	if driver == StorageMemory {
		return memoryBackend{memory.NewStore()}, nil
	}
	if driver != StorageSQLite && driver != StoragePostgres {
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}

	opts := []sqlstore.Option{
		sqlstore.WithFeedErrorHandler(func(err error) {
			logger.Warn("change feed error", "driver", string(driver), "error", err)
		}),
	}
	var feed changefeed.Feed
	if cfg.RedisAddr != "" {
		rf, err := changefeed.OpenRedis(ctx, changefeed.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Channel:  cfg.RedisChannel,
		})
		if err != nil {
			return nil, err
		}
		feed = rf
		opts = append(opts, sqlstore.WithFeed(rf))
	}

	var (
		store *sqlstore.Store
		err   error
	)
	switch driver {
	case StorageSQLite:
		store, err = sqlite.Open(ctx, cfg.SQLitePath, opts...)
	case StoragePostgres:
		store, err = postgres.Open(ctx, cfg.PostgresDSN, opts...)
	}
	if err != nil {
		if feed != nil {
			err = errors.Join(err, feed.Close())
		}
		return nil, err
	}
	logger.Info("document store opened", "driver", string(driver), "change_feed", feed != nil)
	return &sqlBackend{Store: store, feed: feed}, nil
}

type sqlBackend struct {
	*sqlstore.Store
	feed changefeed.Feed
}

func (b *sqlBackend) Close() error {
	err := b.Store.Close()
	if b.feed != nil {
		err = errors.Join(err, b.feed.Close())
	}
	return err
}
