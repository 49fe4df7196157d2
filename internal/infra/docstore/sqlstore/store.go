// Package sqlstore persists the in-memory document store to a single SQL table
// and keeps separate processes in sync through a change feed.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"tutordesk/internal/infra/changefeed"
	"tutordesk/internal/infra/docstore/memory"
	"tutordesk/pkg/domain"
)

// Dialect holds the statements a backend needs. Statements take their
// arguments in the order documented on each field.
type Dialect struct {
	Name string
	// Schema creates the documents table if missing.
	Schema []string
	// Upsert takes (collection, id, payload).
	Upsert string
	// Delete takes (collection, id).
	Delete string
	// SelectAll returns (collection, id, payload) rows.
	SelectAll string
	// SelectCollection takes (collection) and returns (id, payload) rows.
	SelectCollection string
}

// Option configures a Store.
type Option func(*config)

type config struct {
	feed        changefeed.Feed
	onFeedError func(error)
	memOpts     []memory.Option
}

// WithFeed attaches a change feed used to announce local writes and to reload
// collections written by other processes.
func WithFeed(feed changefeed.Feed) Option {
	return func(c *config) { c.feed = feed }
}

// WithFeedErrorHandler receives publish and reload failures. They never fail a write.
func WithFeedErrorHandler(fn func(error)) Option {
	return func(c *config) { c.onFeedError = fn }
}

// WithMemoryOptions forwards options to the embedded memory store.
func WithMemoryOptions(opts ...memory.Option) Option {
	return func(c *config) { c.memOpts = append(c.memOpts, opts...) }
}

// Store is a memory.Store whose writes go through to SQL before they become visible.
type Store struct {
	*memory.Store
	db      *sql.DB
	dialect Dialect
	origin  string

	feed        changefeed.Feed
	feedSub     domain.Subscription
	onFeedError func(error)

	closeOnce sync.Once
}

var _ domain.DocumentStore = (*Store)(nil)

// Open ensures the schema exists, hydrates every collection from db, and starts
// listening on the change feed when one is configured.
func Open(ctx context.Context, db *sql.DB, dialect Dialect, opts ...Option) (*Store, error) {
	if db == nil {
		return nil, errors.New("sqlstore: db is required")
	}
	cfg := config{onFeedError: func(error) {}}
	for _, opt := range opts {
		opt(&cfg)
	}
	for _, stmt := range dialect.Schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("%s: ensure schema: %w", dialect.Name, err)
		}
	}
	s := &Store{
		db:          db,
		dialect:     dialect,
		origin:      uuid.NewString(),
		feed:        cfg.feed,
		onFeedError: cfg.onFeedError,
	}
	memOpts := append(append([]memory.Option(nil), cfg.memOpts...),
		memory.WithWriteHook(s.writeThrough),
		memory.WithCommitHook(s.announce),
	)
	s.Store = memory.NewStore(memOpts...)
	if err := s.hydrate(ctx); err != nil {
		return nil, err
	}
	if s.feed != nil {
		sub, err := s.feed.Subscribe(ctx, s.onEvent)
		if err != nil {
			return nil, fmt.Errorf("%s: subscribe change feed: %w", dialect.Name, err)
		}
		s.feedSub = sub
	}
	return s, nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Origin identifies this process on the change feed.
func (s *Store) Origin() string { return s.origin }

func (s *Store) hydrate(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, s.dialect.SelectAll)
	if err != nil {
		return fmt.Errorf("%s: select documents: %w", s.dialect.Name, err)
	}
	defer func() { _ = rows.Close() }()
	byCollection := map[string][]domain.Document{}
	for rows.Next() {
		var collection, id string
		var payload []byte
		if err := rows.Scan(&collection, &id, &payload); err != nil {
			return fmt.Errorf("%s: scan document: %w", s.dialect.Name, err)
		}
		doc, err := decode(id, payload)
		if err != nil {
			return fmt.Errorf("%s: decode %s/%s: %w", s.dialect.Name, collection, id, err)
		}
		byCollection[collection] = append(byCollection[collection], doc)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("%s: iterate documents: %w", s.dialect.Name, err)
	}
	for collection, docs := range byCollection {
		s.ReplaceCollection(collection, docs)
	}
	return nil
}

// Reload re-reads one collection from the database and redelivers it to observers.
func (s *Store) Reload(ctx context.Context, collection string) error {
	rows, err := s.db.QueryContext(ctx, s.dialect.SelectCollection, collection)
	if err != nil {
		return domain.Unavailable("reload "+collection, err)
	}
	defer func() { _ = rows.Close() }()
	var docs []domain.Document
	for rows.Next() {
		var id string
		var payload []byte
		if err := rows.Scan(&id, &payload); err != nil {
			return fmt.Errorf("%s: scan document: %w", s.dialect.Name, err)
		}
		doc, err := decode(id, payload)
		if err != nil {
			return fmt.Errorf("%s: decode %s/%s: %w", s.dialect.Name, collection, id, err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("%s: iterate documents: %w", s.dialect.Name, err)
	}
	s.ReplaceCollection(collection, docs)
	return nil
}

func decode(id string, payload []byte) (domain.Document, error) {
	data := map[string]any{}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &data); err != nil {
			return domain.Document{}, err
		}
	}
	return domain.Document{ID: id, Data: data}, nil
}

func (s *Store) writeThrough(ctx context.Context, m memory.Mutation) error {
	switch m.Op {
	case memory.OpDelete:
		if _, err := s.db.ExecContext(ctx, s.dialect.Delete, m.Collection, m.ID); err != nil {
			return fmt.Errorf("%s: delete %s/%s: %w", s.dialect.Name, m.Collection, m.ID, err)
		}
	default:
		payload, err := json.Marshal(m.After)
		if err != nil {
			return domain.WriteRejectedError{Collection: m.Collection, Op: string(m.Op), Reason: err}
		}
		if _, err := s.db.ExecContext(ctx, s.dialect.Upsert, m.Collection, m.ID, payload); err != nil {
			return fmt.Errorf("%s: upsert %s/%s: %w", s.dialect.Name, m.Collection, m.ID, err)
		}
	}
	return nil
}

func (s *Store) announce(m memory.Mutation) {
	if s.feed == nil {
		return
	}
	e := changefeed.Event{Origin: s.origin, Collection: m.Collection, ID: m.ID, Op: string(m.Op)}
	if err := s.feed.Publish(context.Background(), e); err != nil {
		s.onFeedError(fmt.Errorf("publish change %s/%s: %w", m.Collection, m.ID, err))
	}
}

func (s *Store) onEvent(e changefeed.Event) {
	if e.Origin == s.origin || e.Collection == "" {
		return
	}
	if err := s.Reload(context.Background(), e.Collection); err != nil {
		s.onFeedError(err)
	}
}

// Close stops listening on the change feed and closes the database.
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.feedSub != nil {
			s.feedSub.Unsubscribe()
		}
		err = s.db.Close()
	})
	return err
}
