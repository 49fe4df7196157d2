package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"tutordesk/internal/infra/docstore/memory"
	"tutordesk/internal/remote"
	"tutordesk/internal/state"
	"tutordesk/pkg/domain"
)

// fakeProvider holds back the first auth state until release is called, like
// a hosted provider finishing its bootstrap check.
type fakeProvider struct {
	mu        sync.Mutex
	current   *domain.Principal
	booted    bool
	observers []func(*domain.Principal)
}

func (f *fakeProvider) ObserveAuthState(fn func(*domain.Principal)) domain.Subscription {
	f.mu.Lock()
	f.observers = append(f.observers, fn)
	booted, current := f.booted, f.current
	f.mu.Unlock()
	if booted {
		fn(current)
	}
	return domain.SubscriptionFunc(func() {
		f.mu.Lock()
		f.observers = nil
		f.mu.Unlock()
	})
}

func (f *fakeProvider) SignOut(context.Context) error {
	f.set(nil)
	return nil
}

func (f *fakeProvider) set(p *domain.Principal) {
	f.mu.Lock()
	f.current = p
	f.booted = true
	fns := append([]func(*domain.Principal)(nil), f.observers...)
	f.mu.Unlock()
	for _, fn := range fns {
		fn(p)
	}
}

// countingDocs counts Unsubscribe calls per Observe.
type countingDocs struct {
	*memory.Store
	mu       sync.Mutex
	released []int
}

func (c *countingDocs) Observe(ctx context.Context, q domain.Query, onSnapshot func([]domain.Document), onError func(error)) (domain.Subscription, error) {
	sub, err := c.Store.Observe(ctx, q, onSnapshot, onError)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	idx := len(c.released)
	c.released = append(c.released, 0)
	c.mu.Unlock()
	return domain.SubscriptionFunc(func() {
		c.mu.Lock()
		c.released[idx]++
		c.mu.Unlock()
		sub.Unsubscribe()
	}), nil
}

func (c *countingDocs) releases() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int(nil), c.released...)
}

type fixture struct {
	docs     *countingDocs
	store    *state.Store
	provider *fakeProvider
	gate     *Gate
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	docs := &countingDocs{Store: memory.NewStore()}
	store := state.NewStore(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
	syncer := remote.NewSyncer(
		remote.Bind(remote.New[domain.Student](docs, remote.StudentsSpec), store.Students),
		remote.Bind(remote.New[domain.Group](docs, remote.GroupsSpec), store.Groups),
		remote.Bind(remote.New[domain.Session](docs, remote.SessionsSpec), store.Sessions),
		remote.Bind(remote.New[domain.Payment](docs, remote.PaymentsSpec), store.Payments),
	)
	provider := &fakeProvider{}
	return fixture{docs: docs, store: store, provider: provider, gate: NewGate(provider, syncer, store)}
}

func seed(t *testing.T, docs domain.DocumentStore) {
	t.Helper()
	ctx := context.Background()
	if _, err := docs.Add(ctx, domain.CollectionStudents, map[string]any{"ownerUid": "u1", "name": "Ana", "status": "active"}); err != nil {
		t.Fatalf("seed student: %v", err)
	}
	if _, err := docs.Add(ctx, domain.CollectionGroups, map[string]any{"ownerUid": "u1", "name": "Evening", "color": "#112233"}); err != nil {
		t.Fatalf("seed group: %v", err)
	}
	if _, err := docs.Add(ctx, domain.CollectionPayments, map[string]any{"ownerUid": "u1", "studentId": "s1", "amount": "10", "month": "2024-05", "status": "paid"}); err != nil {
		t.Fatalf("seed payment: %v", err)
	}
}

func TestGateStatesAndRequire(t *testing.T) {
	f := newFixture(t)
	if f.gate.Status() != StatusUnauthenticated {
		t.Fatalf("initial status should be unauthenticated")
	}
	if _, err := f.gate.Require(); !errors.Is(err, domain.ErrAuthRequired) {
		t.Fatalf("expected ErrAuthRequired, got %v", err)
	}

	var seen []Status
	f.gate.Observe(func(s Status) { seen = append(seen, s) })
	f.gate.Start(context.Background())
	if f.gate.Status() != StatusAuthenticating {
		t.Fatalf("expected authenticating during bootstrap, got %s", f.gate.Status())
	}
	if _, err := f.gate.Require(); !errors.Is(err, domain.ErrAuthRequired) {
		t.Fatalf("authenticating must not satisfy Require")
	}

	f.provider.set(&domain.Principal{UID: "u1"})
	uid, err := f.gate.Require()
	if err != nil || uid != "u1" {
		t.Fatalf("expected u1, got %q, %v", uid, err)
	}
	if err := f.gate.SignOut(context.Background()); err != nil {
		t.Fatalf("sign out: %v", err)
	}
	want := []Status{StatusAuthenticating, StatusAuthenticated, StatusUnauthenticated}
	if len(seen) != len(want) {
		t.Fatalf("transitions = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("transitions = %v, want %v", seen, want)
		}
	}
}

func TestNoSyncWhileUnauthenticated(t *testing.T) {
	f := newFixture(t)
	f.gate.Start(context.Background())
	f.provider.set(nil)
	if f.docs.WatcherCount() != 0 {
		t.Fatalf("no subscription may be opened while signed out")
	}
}

func TestSignInStartsEveryChannel(t *testing.T) {
	f := newFixture(t)
	seed(t, f.docs)
	f.gate.Start(context.Background())
	f.provider.set(&domain.Principal{UID: "u1"})

	if got := f.docs.WatcherCount(); got != 4 {
		t.Fatalf("expected 4 live subscriptions, got %d", got)
	}
	if f.store.Students.Len() != 1 || f.store.Groups.Len() != 1 || f.store.Payments.Len() != 1 {
		t.Fatalf("expected seeded records mirrored")
	}
}

func TestSignOutReleasesEverySubscriptionOnceAndClears(t *testing.T) {
	f := newFixture(t)
	seed(t, f.docs)
	f.gate.Start(context.Background())
	f.provider.set(&domain.Principal{UID: "u1"})
	f.store.SetStudentFilter(state.StudentFilter{Search: "ana"})

	if err := f.gate.SignOut(context.Background()); err != nil {
		t.Fatalf("sign out: %v", err)
	}
	releases := f.docs.releases()
	if len(releases) != 4 {
		t.Fatalf("expected 4 subscriptions, got %d", len(releases))
	}
	for i, n := range releases {
		if n != 1 {
			t.Fatalf("subscription %d released %d times", i, n)
		}
	}
	if f.docs.WatcherCount() != 0 {
		t.Fatalf("watchers left after sign out")
	}
	if f.store.Students.Len()+f.store.Groups.Len()+f.store.Sessions.Len()+f.store.Payments.Len() != 0 {
		t.Fatalf("tables should be cleared on sign out")
	}
	if f.store.StudentFilter().Search != "" {
		t.Fatalf("filters should be reset on sign out")
	}

	f.gate.Close()
	for i, n := range f.docs.releases() {
		if n != 1 {
			t.Fatalf("close released subscription %d again (%d)", i, n)
		}
	}
}

func TestSwitchingPrincipalRestartsForNewOwner(t *testing.T) {
	f := newFixture(t)
	seed(t, f.docs)
	f.gate.Start(context.Background())
	f.provider.set(&domain.Principal{UID: "u1"})
	f.provider.set(&domain.Principal{UID: "u2"})

	if f.store.Students.Len() != 0 {
		t.Fatalf("records of the previous owner must not survive")
	}
	if f.docs.WatcherCount() != 4 {
		t.Fatalf("expected subscriptions for the new owner only, got %d", f.docs.WatcherCount())
	}
	if uid, _ := f.gate.Require(); uid != "u2" {
		t.Fatalf("expected u2, got %s", uid)
	}
}

// hangingDocs blocks every query until its context is cancelled.
type hangingDocs struct {
	*memory.Store
	started chan struct{}
}

func (h *hangingDocs) Query(ctx context.Context, _ domain.Query) ([]domain.Document, error) {
	h.started <- struct{}{}
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestSignOutCancelsHungInitialSync(t *testing.T) {
	docs := &hangingDocs{Store: memory.NewStore(), started: make(chan struct{}, 8)}
	store := state.NewStore(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
	syncer := remote.NewSyncer(remote.Bind(remote.New[domain.Student](docs, remote.StudentsSpec), store.Students))
	provider := &fakeProvider{}
	gate := NewGate(provider, syncer, store)
	gate.Start(context.Background())

	signedIn := make(chan struct{})
	go func() {
		provider.set(&domain.Principal{UID: "u1"})
		close(signedIn)
	}()
	<-docs.started

	signedOut := make(chan struct{})
	go func() {
		provider.set(nil)
		close(signedOut)
	}()
	select {
	case <-signedOut:
	case <-time.After(2 * time.Second):
		t.Fatalf("sign-out blocked behind a hung fetch")
	}
	<-signedIn
	if gate.Status() != StatusUnauthenticated {
		t.Fatalf("expected unauthenticated, got %s", gate.Status())
	}
	if store.Students.Len() != 0 || store.Students.Loading() {
		t.Fatalf("store should be cleared after sign-out")
	}
}
