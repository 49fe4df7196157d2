package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"tutordesk/internal/infra/docstore/memory"
	"tutordesk/internal/infra/identity"
	"tutordesk/internal/session"
	"tutordesk/pkg/domain"
)

func storedDoc(t *testing.T, docs domain.DocumentStore, collection, id string) (domain.Document, bool) {
	t.Helper()
	found, err := docs.Query(context.Background(), domain.Query{Collection: collection}.Where(domain.FieldID, id))
	if err != nil {
		t.Fatalf("query %s/%s: %v", collection, id, err)
	}
	if len(found) == 0 {
		return domain.Document{}, false
	}
	return found[0], true
}

func TestForeignOwnerCannotUpdateOrDelete(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.signIn(t, "victim")
	st, err := h.svc.Students().Create(ctx, domain.Student{Name: "Ana", Status: domain.StudentActive})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	h.signIn(t, "attacker")
	if _, err := h.svc.Students().Update(ctx, st.ID, domain.Patch{"name": "Pwned"}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found for a foreign update, got %v", err)
	}
	if err := h.svc.Students().Delete(ctx, st.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found for a foreign delete, got %v", err)
	}

	doc, ok := storedDoc(t, h.docs, domain.CollectionStudents, st.ID)
	if !ok {
		t.Fatalf("victim's student was deleted")
	}
	if doc.Data["name"] != "Ana" || doc.Data[domain.FieldOwner] != "victim" {
		t.Fatalf("victim's student was modified: %+v", doc.Data)
	}
	if h.svc.State().Students.Len() != 0 {
		t.Fatalf("attacker's table must not see the victim's records")
	}
}

func TestUpdateOutsideMirroredPeriodValidates(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.signIn(t, "u1")
	april, err := h.svc.Payments().Create(ctx, payment("s1", "40", "2024-04", domain.PaymentPending))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := h.svc.Payments().Get(april.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("april payment should not be mirrored while the period is 2024-05")
	}

	for _, patch := range []domain.Patch{{"status": "bogus"}, {"month": "April"}} {
		if _, err := h.svc.Payments().Update(ctx, april.ID, patch); !errors.Is(err, domain.ErrWriteRejected) {
			t.Fatalf("expected %v rejected, got %v", patch, err)
		}
	}
	doc, ok := storedDoc(t, h.docs, domain.CollectionPayments, april.ID)
	if !ok || fmt.Sprint(doc.Data["status"]) != "pending" || fmt.Sprint(doc.Data[domain.FieldMonth]) != "2024-04" {
		t.Fatalf("rejected patches must not reach the document store: %+v", doc.Data)
	}

	updated, err := h.svc.Payments().Update(ctx, april.ID, domain.Patch{"status": "paid"})
	if err != nil {
		t.Fatalf("valid update: %v", err)
	}
	if updated.Status != domain.PaymentPaid || updated.Month != "2024-04" {
		t.Fatalf("unexpected merged payment %+v", updated)
	}
	if h.svc.State().Payments.Len() != 0 {
		t.Fatalf("an out-of-period update must stay out of the table")
	}
}

// heldDocs parks payment queries for one period until released.
type heldDocs struct {
	domain.DocumentStore
	period  string
	armed   atomic.Bool
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (d *heldDocs) Query(ctx context.Context, q domain.Query) ([]domain.Document, error) {
	if d.armed.Load() && q.Collection == domain.CollectionPayments {
		for _, f := range q.Filters {
			if f.Field == domain.FieldMonth && fmt.Sprint(f.Value) == d.period {
				d.once.Do(func() { close(d.started) })
				<-d.release
				return d.DocumentStore.Query(context.WithoutCancel(ctx), q)
			}
		}
	}
	return d.DocumentStore.Query(ctx, q)
}

func TestLateFetchAfterSignOutLeavesStoreEmpty(t *testing.T) {
	docs := &heldDocs{
		DocumentStore: memory.NewStore(),
		period:        "2024-06",
		started:       make(chan struct{}),
		release:       make(chan struct{}),
	}
	provider, err := identity.NewTokenProvider(identity.Config{Secret: "core-test-secret-0123456789"})
	if err != nil {
		t.Fatalf("provider: %v", err)
	}
	svc := NewService(docs, provider, WithClock(ClockFunc(func() time.Time { return may2024 })))
	svc.Start(context.Background())
	t.Cleanup(svc.Close)
	h := harness{provider: provider, svc: svc}
	h.signIn(t, "u1")

	ctx := context.Background()
	if _, err := svc.Payments().Create(ctx, payment("s1", "80", "2024-06", domain.PaymentPending)); err != nil {
		t.Fatalf("create: %v", err)
	}
	docs.armed.Store(true)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_ = svc.SetCurrentPeriod(ctx, "2024-06")
	}()
	select {
	case <-docs.started:
	case <-time.After(2 * time.Second):
		t.Fatalf("period change never queried payments")
	}
	go func() {
		defer wg.Done()
		if err := svc.Gate().SignOut(ctx); err != nil {
			t.Errorf("sign out: %v", err)
		}
	}()
	time.Sleep(20 * time.Millisecond)
	close(docs.release)

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("period change and sign out did not finish")
	}

	if svc.Gate().Status() != session.StatusUnauthenticated {
		t.Fatalf("expected unauthenticated, got %s", svc.Gate().Status())
	}
	if n := svc.State().Payments.Len(); n != 0 {
		t.Fatalf("a fetch that lands after sign out must not refill the store, got %d payments", n)
	}
}
