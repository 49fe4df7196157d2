package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"tutordesk/internal/infra/changefeed"
	"tutordesk/internal/infra/docstore/sqlstore"
	"tutordesk/pkg/domain"
)

func openTemp(t *testing.T, path string, opts ...sqlstore.Option) *sqlstore.Store {
	t.Helper()
	store, err := Open(context.Background(), path, opts...)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestWritesSurviveReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "tutordesk.db")
	store := openTemp(t, path)

	keep, err := store.Add(ctx, domain.CollectionStudents, map[string]any{"ownerUid": "u1", "name": "Amira"})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	drop, err := store.Add(ctx, domain.CollectionStudents, map[string]any{"ownerUid": "u1", "name": "Badr"})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := store.Update(ctx, domain.CollectionStudents, keep, map[string]any{"status": "active"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := store.Delete(ctx, domain.CollectionStudents, drop); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened := openTemp(t, path)
	docs, err := reopened.Query(ctx, domain.Query{Collection: domain.CollectionStudents}.Where(domain.FieldOwner, "u1"))
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(docs) != 1 || docs[0].ID != keep || docs[0].Data["status"] != "active" {
		t.Fatalf("unexpected hydrated docs %+v", docs)
	}
}

func TestChangeFeedReloadsPeerWrites(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "shared.db")
	feed := changefeed.NewLocal()
	writer := openTemp(t, path, sqlstore.WithFeed(feed))
	reader := openTemp(t, path, sqlstore.WithFeed(feed))

	var last []domain.Document
	q := domain.Query{Collection: domain.CollectionGroups}.Where(domain.FieldOwner, "u1")
	sub, err := reader.Observe(ctx, q, func(docs []domain.Document) { last = docs }, nil)
	if err != nil {
		t.Fatalf("observe: %v", err)
	}
	defer sub.Unsubscribe()

	if _, err := writer.Add(ctx, domain.CollectionGroups, map[string]any{"ownerUid": "u1", "name": "Evening"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if len(last) != 1 || last[0].Data["name"] != "Evening" {
		t.Fatalf("reader should observe peer write, got %+v", last)
	}
}

func TestOpenFailurePropagates(t *testing.T) {
	restore := OverrideSQLOpen(func(string, string) (*sql.DB, error) { return nil, errors.New("boom") })
	defer restore()
	if _, err := Open(context.Background(), filepath.Join(t.TempDir(), "x.db")); err == nil {
		t.Fatalf("expected open error")
	}
}
