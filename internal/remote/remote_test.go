package remote

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tutordesk/internal/infra/docstore/memory"
	"tutordesk/internal/state"
	"tutordesk/pkg/domain"
)

// laggingStore runs beforeReturn after a query has read its result but before
// the result is handed back, simulating a slow response.
type laggingStore struct {
	*memory.Store
	mu           sync.Mutex
	beforeReturn func()
	queries      int
}

func (l *laggingStore) Query(ctx context.Context, q domain.Query) ([]domain.Document, error) {
	docs, err := l.Store.Query(ctx, q)
	l.mu.Lock()
	l.queries++
	hook := l.beforeReturn
	l.beforeReturn = nil
	l.mu.Unlock()
	if hook != nil {
		hook()
	}
	return docs, err
}

type failingStore struct {
	*memory.Store
	err error
}

func (f failingStore) Query(context.Context, domain.Query) ([]domain.Document, error) {
	return nil, f.err
}

type countingMetrics struct {
	mu         sync.Mutex
	deliveries map[string]int
	discards   map[string]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{deliveries: map[string]int{}, discards: map[string]int{}}
}

func (m *countingMetrics) SubscriptionDelivery(c string) {
	m.mu.Lock()
	m.deliveries[c]++
	m.mu.Unlock()
}

func (m *countingMetrics) StaleFetchDiscarded(c string) {
	m.mu.Lock()
	m.discards[c]++
	m.mu.Unlock()
}

func newState() *state.Store {
	return state.NewStore(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
}

func TestAdapterCreateFetchUpdateRemove(t *testing.T) {
	ctx := context.Background()
	docs := memory.NewStore()
	payments := New[domain.Payment](docs, PaymentsSpec)

	id, err := payments.Create(ctx, domain.Payment{
		Base:      domain.Base{OwnerUID: "u1", ID: "client-side"},
		StudentID: "s1",
		Amount:    decimal.RequireFromString("120.50"),
		Month:     "2024-05",
		Status:    domain.PaymentPending,
		DueDate:   time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if id == "client-side" || id == "" {
		t.Fatalf("identifier must be assigned by the store, got %q", id)
	}
	if _, err := payments.Create(ctx, domain.Payment{Base: domain.Base{OwnerUID: "u1"}, StudentID: "s2", Month: "2024-04", Status: domain.PaymentPaid}); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := payments.FetchAll(ctx, "u1", "2024-05")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(got) != 1 || got[0].ID != id || !got[0].Amount.Equal(decimal.RequireFromString("120.50")) {
		t.Fatalf("unexpected fetch %+v", got)
	}
	if got[0].CreatedAt.IsZero() || got[0].UpdatedAt.IsZero() {
		t.Fatalf("timestamps should be server-assigned")
	}
	all, _ := payments.FetchAll(ctx, "u1", "")
	if len(all) != 2 {
		t.Fatalf("empty period should not filter, got %d", len(all))
	}

	if err := payments.Update(ctx, "u1", id, domain.Patch{"status": domain.PaymentPaid}); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, _ = payments.FetchAll(ctx, "u1", "2024-05")
	if got[0].Status != domain.PaymentPaid {
		t.Fatalf("update not applied: %+v", got[0])
	}
	if err := payments.Remove(ctx, "u1", id); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := payments.Remove(ctx, "u1", id); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := payments.Update(ctx, "u1", id, domain.Patch{"status": "paid"}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestAdapterRequiresOwner(t *testing.T) {
	ctx := context.Background()
	students := New[domain.Student](memory.NewStore(), StudentsSpec)
	if _, err := students.FetchAll(ctx, "", ""); !errors.Is(err, domain.ErrAuthRequired) {
		t.Fatalf("expected auth required, got %v", err)
	}
	if _, err := students.Create(ctx, domain.Student{Name: "x"}); !errors.Is(err, domain.ErrAuthRequired) {
		t.Fatalf("expected auth required, got %v", err)
	}
	if _, err := students.Subscribe(ctx, "", "", func([]domain.Student) {}, nil); !errors.Is(err, domain.ErrAuthRequired) {
		t.Fatalf("expected auth required, got %v", err)
	}
}

func TestAdapterTransportFailureIsUnavailable(t *testing.T) {
	students := New[domain.Student](failingStore{Store: memory.NewStore(), err: errors.New("connection reset")}, StudentsSpec)
	if _, err := students.FetchAll(context.Background(), "u1", ""); !errors.Is(err, domain.ErrRemoteUnavailable) {
		t.Fatalf("expected remote unavailable, got %v", err)
	}
}

func TestSessionsOrderedByDateDescending(t *testing.T) {
	ctx := context.Background()
	sessions := New[domain.Session](memory.NewStore(), SessionsSpec)
	for _, day := range []int{3, 9, 1} {
		_, err := sessions.Create(ctx, domain.Session{
			Base:   domain.Base{OwnerUID: "u1"},
			Title:  "lesson",
			Date:   time.Date(2024, 5, day, 17, 0, 0, 0, time.UTC),
			Status: domain.SessionScheduled,
		})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	got, _ := sessions.FetchAll(ctx, "u1", "")
	if len(got) != 3 || got[0].Date.Day() != 9 || got[2].Date.Day() != 1 {
		t.Fatalf("expected date-descending order, got %v %v %v", got[0].Date, got[1].Date, got[2].Date)
	}
}

func TestSubscribeRedeliversFullSet(t *testing.T) {
	ctx := context.Background()
	docs := memory.NewStore()
	groups := New[domain.Group](docs, GroupsSpec)
	var deliveries [][]domain.Group
	sub, err := groups.Subscribe(ctx, "u1", "", func(gs []domain.Group) { deliveries = append(deliveries, gs) }, nil)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()
	_, _ = groups.Create(ctx, domain.Group{Base: domain.Base{OwnerUID: "u1"}, Name: "A", Color: "#fff"})
	_, _ = groups.Create(ctx, domain.Group{Base: domain.Base{OwnerUID: "u1"}, Name: "B", Color: "#000"})
	if len(deliveries) != 3 || len(deliveries[2]) != 2 || deliveries[2][0].Name != "B" {
		t.Fatalf("expected full newest-first redelivery, got %+v", deliveries)
	}
}

func TestStartAppliesFetchThenSubscription(t *testing.T) {
	ctx := context.Background()
	docs := memory.NewStore()
	st := newState()
	students := New[domain.Student](docs, StudentsSpec)
	_, _ = students.Create(ctx, domain.Student{Base: domain.Base{OwnerUID: "u1"}, Name: "Amal", Status: domain.StudentActive})

	metrics := newCountingMetrics()
	b := Bind(students, st.Students, WithMetrics(metrics))
	if err := b.Start(ctx, "u1", ""); err != nil {
		t.Fatalf("start: %v", err)
	}
	if st.Students.Len() != 1 || st.Students.Loading() {
		t.Fatalf("expected fetched snapshot, len=%d loading=%v", st.Students.Len(), st.Students.Loading())
	}
	_, _ = students.Create(ctx, domain.Student{Base: domain.Base{OwnerUID: "u1"}, Name: "Bilal", Status: domain.StudentActive})
	if st.Students.Len() != 2 {
		t.Fatalf("expected subscription delivery to update the table")
	}
	if metrics.deliveries[domain.CollectionStudents] != 2 {
		t.Fatalf("expected initial + change deliveries, got %d", metrics.deliveries[domain.CollectionStudents])
	}
	b.Stop()
	if docs.WatcherCount() != 0 {
		t.Fatalf("stop should release the subscription")
	}
}

func TestStaleFetchIsDiscarded(t *testing.T) {
	ctx := context.Background()
	inner := memory.NewStore()
	docs := &laggingStore{Store: inner}
	st := newState()
	students := New[domain.Student](docs, StudentsSpec)
	_, _ = students.Create(ctx, domain.Student{Base: domain.Base{OwnerUID: "u1"}, Name: "first", Status: domain.StudentActive})

	metrics := newCountingMetrics()
	b := Bind(students, st.Students, WithMetrics(metrics))
	if err := b.Start(ctx, "u1", ""); err != nil {
		t.Fatalf("start: %v", err)
	}

	// The refresh reads one student; before its response lands, a write pushes
	// a newer two-student snapshot through the subscription.
	docs.mu.Lock()
	docs.beforeReturn = func() {
		_, _ = students.Create(ctx, domain.Student{Base: domain.Base{OwnerUID: "u1"}, Name: "second", Status: domain.StudentActive})
	}
	docs.mu.Unlock()
	if err := b.Refresh(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if st.Students.Len() != 2 {
		t.Fatalf("stale fetch overwrote newer delivery: len=%d", st.Students.Len())
	}
	if metrics.discards[domain.CollectionStudents] != 1 {
		t.Fatalf("expected one discarded fetch, got %d", metrics.discards[domain.CollectionStudents])
	}
	if st.Students.Loading() {
		t.Fatalf("loading flag should clear after a discarded fetch")
	}

	if err := b.Refresh(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if metrics.discards[domain.CollectionStudents] != 1 {
		t.Fatalf("an up-to-date fetch must be applied")
	}
}

func TestFetchFailureLeavesTableUntouched(t *testing.T) {
	ctx := context.Background()
	st := newState()
	st.Students.ReplaceAll([]domain.Student{{Base: domain.Base{ID: "s1", OwnerUID: "u1"}, Name: "kept"}})
	students := New[domain.Student](failingStore{Store: memory.NewStore(), err: errors.New("offline")}, StudentsSpec)
	b := Bind(students, st.Students)
	if err := b.Start(ctx, "u1", ""); !errors.Is(err, domain.ErrRemoteUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
	if got := st.Students.All(); len(got) != 1 || got[0].Name != "kept" || st.Students.Loading() {
		t.Fatalf("failed fetch corrupted the table: %+v", got)
	}
}

func TestSubscriptionErrorMarksStaleUntilResync(t *testing.T) {
	ctx := context.Background()
	docs := memory.NewStore()
	st := newState()
	var reported []string
	syncer := NewSyncer(
		Bind(New[domain.Student](docs, StudentsSpec), st.Students, WithErrorHandler(func(c string, err error) {
			reported = append(reported, c)
		})),
		Bind(New[domain.Group](docs, GroupsSpec), st.Groups),
	)
	if err := syncer.StartAll(ctx, "u1", "2024-05"); err != nil {
		t.Fatalf("start: %v", err)
	}
	docs.FailWatchers(domain.CollectionStudents, errors.New("permission denied"))
	if !st.Students.Stale() || st.Groups.Stale() {
		t.Fatalf("only the failed collection should be stale")
	}
	if len(reported) != 1 {
		t.Fatalf("error should be surfaced once, got %v", reported)
	}
	if docs.WatcherCount() != 1 {
		t.Fatalf("failed channel must be released, watchers=%d", docs.WatcherCount())
	}
	if err := syncer.Resync(ctx); err != nil {
		t.Fatalf("resync: %v", err)
	}
	if st.Students.Stale() || docs.WatcherCount() != 2 {
		t.Fatalf("resync should restart the stale channel")
	}
}

func TestSetPeriodRestartsPeriodScopedChannels(t *testing.T) {
	ctx := context.Background()
	docs := memory.NewStore()
	st := newState()
	payments := New[domain.Payment](docs, PaymentsSpec)
	for _, month := range []domain.Period{"2024-04", "2024-05", "2024-05"} {
		_, _ = payments.Create(ctx, domain.Payment{Base: domain.Base{OwnerUID: "u1"}, StudentID: "s", Month: month, Status: domain.PaymentPending})
	}
	syncer := NewSyncer(Bind(payments, st.Payments), Bind(New[domain.Student](docs, StudentsSpec), st.Students))
	if err := syncer.StartAll(ctx, "u1", "2024-05"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if st.Payments.Len() != 2 {
		t.Fatalf("expected two May payments, got %d", st.Payments.Len())
	}
	if err := syncer.SetPeriod(ctx, "2024-04"); err != nil {
		t.Fatalf("set period: %v", err)
	}
	if st.Payments.Len() != 1 {
		t.Fatalf("expected one April payment, got %d", st.Payments.Len())
	}
	if docs.WatcherCount() != 2 {
		t.Fatalf("period change must replace, not add, subscriptions: %d", docs.WatcherCount())
	}
	_, _ = payments.Create(ctx, domain.Payment{Base: domain.Base{OwnerUID: "u1"}, StudentID: "s", Month: "2024-05", Status: domain.PaymentPending})
	if st.Payments.Len() != 1 {
		t.Fatalf("old period subscription still delivering")
	}
	syncer.StopAll()
	if docs.WatcherCount() != 0 {
		t.Fatalf("stop all should release every channel")
	}
}

func TestFetchLandingAfterStopIsDiscarded(t *testing.T) {
	ctx := context.Background()
	docs := &laggingStore{Store: memory.NewStore()}
	st := newState()
	students := New[domain.Student](docs, StudentsSpec)
	_, _ = students.Create(ctx, domain.Student{Base: domain.Base{OwnerUID: "u1"}, Name: "Amal", Status: domain.StudentActive})

	metrics := newCountingMetrics()
	b := Bind(students, st.Students, WithMetrics(metrics))
	if err := b.Start(ctx, "u1", ""); err != nil {
		t.Fatalf("start: %v", err)
	}

	// Sign-out tears the binding down and clears the store while the refresh
	// is still waiting on its response.
	docs.mu.Lock()
	docs.beforeReturn = func() {
		b.Stop()
		st.Clear()
	}
	docs.mu.Unlock()
	if err := b.Refresh(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if st.Students.Len() != 0 {
		t.Fatalf("a fetch landing after stop refilled the table: len=%d", st.Students.Len())
	}
	if metrics.discards[domain.CollectionStudents] != 1 {
		t.Fatalf("expected the late fetch discarded, got %d", metrics.discards[domain.CollectionStudents])
	}
	if err := b.Refresh(ctx); !errors.Is(err, domain.ErrAuthRequired) {
		t.Fatalf("a stopped binding has no owner to refresh for, got %v", err)
	}
}

func TestAdapterScopesByOwner(t *testing.T) {
	ctx := context.Background()
	students := New[domain.Student](memory.NewStore(), StudentsSpec)
	id, err := students.Create(ctx, domain.Student{Base: domain.Base{OwnerUID: "u1"}, Name: "Amal", Status: domain.StudentActive})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := students.Get(ctx, "u1", id)
	if err != nil || got.Name != "Amal" {
		t.Fatalf("owner get: %+v, %v", got, err)
	}
	if _, err := students.Get(ctx, "u2", id); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found for another owner, got %v", err)
	}
	if _, err := students.Get(ctx, "", id); !errors.Is(err, domain.ErrAuthRequired) {
		t.Fatalf("expected auth required, got %v", err)
	}
	if err := students.Update(ctx, "u2", id, domain.Patch{"name": "x"}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found for a foreign update, got %v", err)
	}
	if err := students.Remove(ctx, "u2", id); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found for a foreign remove, got %v", err)
	}
	if err := students.Remove(ctx, "", id); !errors.Is(err, domain.ErrAuthRequired) {
		t.Fatalf("expected auth required, got %v", err)
	}
	got, _ = students.Get(ctx, "u1", id)
	if got.Name != "Amal" {
		t.Fatalf("foreign writes must leave the record alone, got %+v", got)
	}
}
