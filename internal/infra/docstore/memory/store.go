// Package memory provides an in-memory document store with live queries. It is
// the reference backend for tests and ephemeral environments, and the read model
// the SQL backends write through.
package memory

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"

	"tutordesk/pkg/domain"
)

var _ domain.DocumentStore = (*Store)(nil)

// Op names a committed write.
type Op string

// Write operations reported to hooks.
const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Mutation describes one write. Before is nil for creates and After is nil for deletes.
type Mutation struct {
	Op         Op
	Collection string
	ID         string
	Before     map[string]any
	After      map[string]any
}

// WriteHook runs inside the store lock before a mutation becomes visible. Returning
// an error aborts the write.
type WriteHook func(ctx context.Context, m Mutation) error

var (
	errOwnerRequired  = errors.New("ownerUid is required")
	errOwnerImmutable = errors.New("ownerUid cannot be changed")
	errOwnerMismatch  = errors.New("ownerUid does not match the signed-in principal")
)

// ownedBy reports whether data may be written on behalf of the principal in ctx.
// Writes without a principal are store-internal and always allowed.
func ownedBy(ctx context.Context, data map[string]any) bool {
	owner, ok := domain.OwnerFrom(ctx)
	return !ok || data[domain.FieldOwner] == owner
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the timestamp source.
func WithClock(fn func() time.Time) Option {
	return func(s *Store) {
		if fn != nil {
			s.nowFn = fn
		}
	}
}

// WithIDGenerator overrides document identifier generation.
func WithIDGenerator(fn func() string) Option {
	return func(s *Store) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// WithWriteHook installs a hook invoked for every write before it is committed.
func WithWriteHook(h WriteHook) Option {
	return func(s *Store) { s.writeHook = h }
}

// WithCommitHook installs a callback invoked after a write is committed and
// observers have been notified.
func WithCommitHook(fn func(Mutation)) Option {
	return func(s *Store) { s.commitHook = fn }
}

type watcher struct {
	id         uint64
	query      domain.Query
	filters    filterSet
	onSnapshot func([]domain.Document)
	onError    func(error)
}

// Store keeps collections of JSON-normalized documents in memory.
type Store struct {
	mu          sync.RWMutex
	collections map[string]map[string]map[string]any
	watchers    map[uint64]*watcher
	nextWatcher uint64
	lastStamp   time.Time

	// notifyMu serializes observer delivery so each observer sees snapshots in order.
	notifyMu sync.Mutex

	nowFn      func() time.Time
	newID      func() string
	writeHook  WriteHook
	commitHook func(Mutation)
}

// NewStore constructs an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		collections: make(map[string]map[string]map[string]any),
		watchers:    make(map[uint64]*watcher),
		nowFn:       func() time.Time { return time.Now().UTC() },
		newID:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// stamp returns a strictly increasing timestamp so creation order survives
// clocks with coarse resolution. Callers hold the write lock.
func (s *Store) stamp() string {
	now := s.nowFn().UTC()
	if !now.After(s.lastStamp) {
		now = s.lastStamp.Add(time.Nanosecond)
	}
	s.lastStamp = now
	return now.Format(time.RFC3339Nano)
}

func (s *Store) collection(name string) map[string]map[string]any {
	docs, ok := s.collections[name]
	if !ok {
		docs = make(map[string]map[string]any)
		s.collections[name] = docs
	}
	return docs
}

// Query runs a one-shot query.
func (s *Store) Query(ctx context.Context, q domain.Query) ([]domain.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.Unavailable("query "+q.Collection, err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return evaluate(s.collections[q.Collection], q), nil
}

// Add inserts a document and returns its generated identifier.
func (s *Store) Add(ctx context.Context, collection string, fields map[string]any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", domain.Unavailable("add "+collection, err)
	}
	data, err := Normalize(fields)
	if err != nil {
		return "", domain.WriteRejectedError{Collection: collection, Op: string(OpCreate), Reason: err}
	}
	if owner, _ := data[domain.FieldOwner].(string); owner == "" {
		return "", domain.WriteRejectedError{Collection: collection, Op: string(OpCreate), Reason: errOwnerRequired}
	}
	if !ownedBy(ctx, data) {
		return "", domain.WriteRejectedError{Collection: collection, Op: string(OpCreate), Reason: errOwnerMismatch}
	}
	delete(data, domain.FieldID)

	s.mu.Lock()
	id := s.newID()
	ts := s.stamp()
	data[domain.FieldCreatedAt] = ts
	data[domain.FieldUpdatedAt] = ts
	m := Mutation{Op: OpCreate, Collection: collection, ID: id, After: data}
	if err := s.runHook(ctx, m); err != nil {
		s.mu.Unlock()
		return "", err
	}
	s.collection(collection)[id] = data
	s.mu.Unlock()

	s.afterCommit(m)
	return id, nil
}

// Update merges fields into an existing document and refreshes updatedAt.
func (s *Store) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	if err := ctx.Err(); err != nil {
		return domain.Unavailable("update "+collection, err)
	}
	patch, err := Normalize(fields)
	if err != nil {
		return domain.WriteRejectedError{Collection: collection, Op: string(OpUpdate), Reason: err}
	}
	delete(patch, domain.FieldID)
	delete(patch, domain.FieldCreatedAt)

	s.mu.Lock()
	before, ok := s.collections[collection][id]
	if !ok || !ownedBy(ctx, before) {
		s.mu.Unlock()
		return domain.NotFoundError{Collection: collection, ID: id}
	}
	if owner, present := patch[domain.FieldOwner]; present && !reflect.DeepEqual(owner, before[domain.FieldOwner]) {
		s.mu.Unlock()
		return domain.WriteRejectedError{Collection: collection, Op: string(OpUpdate), Reason: errOwnerImmutable}
	}
	after := cloneData(before)
	for k, v := range patch {
		after[k] = v
	}
	after[domain.FieldUpdatedAt] = s.stamp()
	m := Mutation{Op: OpUpdate, Collection: collection, ID: id, Before: before, After: after}
	if err := s.runHook(ctx, m); err != nil {
		s.mu.Unlock()
		return err
	}
	s.collections[collection][id] = after
	s.mu.Unlock()

	s.afterCommit(m)
	return nil
}

// Delete removes a document.
func (s *Store) Delete(ctx context.Context, collection, id string) error {
	if err := ctx.Err(); err != nil {
		return domain.Unavailable("delete "+collection, err)
	}
	s.mu.Lock()
	before, ok := s.collections[collection][id]
	if !ok || !ownedBy(ctx, before) {
		s.mu.Unlock()
		return domain.NotFoundError{Collection: collection, ID: id}
	}
	m := Mutation{Op: OpDelete, Collection: collection, ID: id, Before: before}
	if err := s.runHook(ctx, m); err != nil {
		s.mu.Unlock()
		return err
	}
	delete(s.collections[collection], id)
	s.mu.Unlock()

	s.afterCommit(m)
	return nil
}

func (s *Store) runHook(ctx context.Context, m Mutation) error {
	if s.writeHook == nil {
		return nil
	}
	if err := s.writeHook(ctx, m); err != nil {
		if errors.Is(err, domain.ErrWriteRejected) || errors.Is(err, domain.ErrRemoteUnavailable) {
			return err
		}
		return domain.Unavailable(string(m.Op)+" "+m.Collection, err)
	}
	return nil
}

func (s *Store) afterCommit(m Mutation) {
	s.notify(m.Collection, func(w *watcher) bool {
		return w.filters.match(m.ID, m.Before) || w.filters.match(m.ID, m.After)
	})
	if s.commitHook != nil {
		s.commitHook(m)
	}
}

// Observe registers a live query. The initial snapshot is delivered before
// Observe returns.
func (s *Store) Observe(ctx context.Context, q domain.Query, onSnapshot func([]domain.Document), onError func(error)) (domain.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.Unavailable("observe "+q.Collection, err)
	}
	if onSnapshot == nil {
		return nil, errors.New("memory: onSnapshot callback is required")
	}
	s.notifyMu.Lock()
	s.mu.Lock()
	s.nextWatcher++
	w := &watcher{
		id:         s.nextWatcher,
		query:      q,
		filters:    compileFilters(q.Filters),
		onSnapshot: onSnapshot,
		onError:    onError,
	}
	s.watchers[w.id] = w
	initial := evaluate(s.collections[q.Collection], q)
	s.mu.Unlock()
	onSnapshot(initial)
	s.notifyMu.Unlock()

	var once sync.Once
	return domain.SubscriptionFunc(func() {
		once.Do(func() { s.removeWatcher(w.id) })
	}), nil
}

func (s *Store) removeWatcher(id uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.watchers[id]; !ok {
		return false
	}
	delete(s.watchers, id)
	return true
}

// notify redelivers the full result set to every watcher of collection accepted
// by want. Snapshots are evaluated at delivery time so late deliveries never
// carry stale data.
func (s *Store) notify(collection string, want func(*watcher) bool) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	type delivery struct {
		fn   func([]domain.Document)
		docs []domain.Document
	}
	s.mu.RLock()
	var pending []delivery
	for _, w := range s.watchers {
		if w.query.Collection != collection || !want(w) {
			continue
		}
		pending = append(pending, delivery{fn: w.onSnapshot, docs: evaluate(s.collections[collection], w.query)})
	}
	s.mu.RUnlock()
	for _, d := range pending {
		d.fn(d.docs)
	}
}

// ReplaceCollection swaps the contents of a collection without running hooks and
// redelivers to every watcher of it. SQL backends use it to apply changes made by
// other processes.
func (s *Store) ReplaceCollection(collection string, docs []domain.Document) {
	next := make(map[string]map[string]any, len(docs))
	for _, doc := range docs {
		next[doc.ID] = cloneData(doc.Data)
	}
	s.mu.Lock()
	s.collections[collection] = next
	s.mu.Unlock()
	s.notify(collection, func(*watcher) bool { return true })
}

// FailWatchers ends every live query on collection with err. Each affected
// onError callback is invoked once and the watcher is removed.
func (s *Store) FailWatchers(collection string, err error) int {
	s.mu.Lock()
	var failed []*watcher
	for id, w := range s.watchers {
		if w.query.Collection == collection {
			failed = append(failed, w)
			delete(s.watchers, id)
		}
	}
	s.mu.Unlock()
	for _, w := range failed {
		if w.onError != nil {
			w.onError(err)
		}
	}
	return len(failed)
}

// WatcherCount reports the number of open live queries.
func (s *Store) WatcherCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.watchers)
}
