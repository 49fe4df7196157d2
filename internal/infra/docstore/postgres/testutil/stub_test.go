package testutil

import (
	"context"
	"database/sql/driver"
	"testing"
)

func TestStubUpsertsDeletesAndFilters(t *testing.T) {
	ctx := context.Background()
	_, conn := NewStubDB()

	upsert := "INSERT INTO documents (collection, id, payload) VALUES ($1, $2, $3) ON CONFLICT (collection, id) DO UPDATE SET payload = EXCLUDED.payload"
	for _, args := range [][]driver.NamedValue{
		{{Value: "groups"}, {Value: "g1"}, {Value: []byte("{}")}},
		{{Value: "groups"}, {Value: "g1"}, {Value: []byte(`{"v":2}`)}},
		{{Value: "students"}, {Value: "g1"}, {Value: []byte("{}")}},
	} {
		if _, err := conn.ExecContext(ctx, upsert, args); err != nil {
			t.Fatalf("ExecContext insert: %v", err)
		}
	}
	if n := len(conn.Rows("documents")); n != 2 {
		t.Fatalf("expected conflict key to dedupe, got %d rows", n)
	}

	rows, err := conn.QueryContext(ctx, "SELECT id, payload FROM documents WHERE collection = $1", []driver.NamedValue{{Value: "groups"}})
	if err != nil {
		t.Fatalf("QueryContext: %v", err)
	}
	dest := make([]driver.Value, 2)
	if err := rows.Next(dest); err != nil {
		t.Fatalf("Next: %v", err)
	}
	if dest[0] != "g1" || string(dest[1].([]byte)) != `{"v":2}` {
		t.Fatalf("unexpected row values: %v", dest)
	}
	if err := rows.Next(dest); err == nil {
		t.Fatalf("expected only the groups row")
	}

	if _, err := conn.ExecContext(ctx, "DELETE FROM documents WHERE collection = $1 AND id = $2", []driver.NamedValue{{Value: "students"}, {Value: "g1"}}); err != nil {
		t.Fatalf("ExecContext delete: %v", err)
	}
	if n := len(conn.Rows("documents")); n != 1 {
		t.Fatalf("expected delete to remove one row, got %d", n)
	}
}
