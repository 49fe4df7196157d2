package state

import "tutordesk/pkg/domain"

// Table is one entity type's slot in the Store: its records plus sync flags.
type Table[T domain.Record] struct {
	store   *Store
	name    string
	records Slice[T]
	loading bool
	stale   bool
}

func newTable[T domain.Record](s *Store, name string) *Table[T] {
	return &Table[T]{store: s, name: name, records: Slice[T]{}}
}

func (t *Table[T]) reset() {
	t.records = Slice[T]{}
	t.loading = false
	t.stale = false
}

// Name is the collection the table mirrors.
func (t *Table[T]) Name() string { return t.name }

// All returns a copy of the records, most recent first.
func (t *Table[T]) All() []T {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	return append([]T(nil), t.records...)
}

// Get returns the record with id.
func (t *Table[T]) Get(id string) (T, bool) {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	return t.records.Get(id)
}

// Len reports the number of records.
func (t *Table[T]) Len() int {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	return len(t.records)
}

// Loading reports whether a fetch is in flight.
func (t *Table[T]) Loading() bool {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	return t.loading
}

// Stale reports whether the live channel failed since the last snapshot.
func (t *Table[T]) Stale() bool {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	return t.stale
}

// ReplaceAll installs a complete snapshot. It clears the loading and stale flags.
func (t *Table[T]) ReplaceAll(records []T) {
	next := ReplaceAll(records)
	t.store.dispatch(Change{Topic: t.name, Op: "replaceAll"}, func() {
		t.records = next
		t.loading = false
		t.stale = false
	})
}

// InsertOne adds a record first.
func (t *Table[T]) InsertOne(r T) {
	t.store.dispatch(Change{Topic: t.name, Op: "insertOne"}, func() {
		t.records = t.records.InsertOne(r)
	})
}

// ReplaceOne swaps the record with r's identifier; unknown identifiers are ignored.
func (t *Table[T]) ReplaceOne(r T) {
	t.store.dispatch(Change{Topic: t.name, Op: "replaceOne"}, func() {
		t.records = t.records.ReplaceOne(r)
	})
}

// RemoveOne drops the record with id; unknown identifiers are ignored.
func (t *Table[T]) RemoveOne(id string) {
	t.store.dispatch(Change{Topic: t.name, Op: "removeOne"}, func() {
		t.records = t.records.RemoveOne(id)
	})
}

// SetLoading flags an in-flight fetch.
func (t *Table[T]) SetLoading(loading bool) {
	t.store.dispatch(Change{Topic: t.name, Op: "loading"}, func() { t.loading = loading })
}

// MarkStale flags the records as no longer live.
func (t *Table[T]) MarkStale() {
	t.store.dispatch(Change{Topic: t.name, Op: "stale"}, func() {
		t.stale = true
		t.loading = false
	})
}
