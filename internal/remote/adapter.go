// Package remote binds entity types to their document-store collections:
// one-shot fetches, writes, and live subscriptions that redeliver the full
// matching result set.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"tutordesk/pkg/domain"
)

// CollectionSpec describes how an entity type is queried.
type CollectionSpec struct {
	Collection string
	// OrderField is sorted descending.
	OrderField string
	// PeriodField, when set, is the billing-period field a non-empty period filters on.
	PeriodField string
	// Limit caps one-shot fetches; zero means unlimited.
	Limit int
}

// Collection specs for every mirrored entity type.
var (
	StudentsSpec = CollectionSpec{Collection: domain.CollectionStudents, OrderField: domain.FieldCreatedAt}
	GroupsSpec   = CollectionSpec{Collection: domain.CollectionGroups, OrderField: domain.FieldCreatedAt}
	SessionsSpec = CollectionSpec{Collection: domain.CollectionSessions, OrderField: domain.FieldDate}
	PaymentsSpec = CollectionSpec{Collection: domain.CollectionPayments, OrderField: domain.FieldCreatedAt, PeriodField: domain.FieldMonth}
	StatsSpec    = CollectionSpec{Collection: domain.CollectionMonthlyStats, OrderField: domain.FieldMonth, PeriodField: domain.FieldMonth}
)

// Adapter issues queries and writes for one entity type.
type Adapter[T domain.Record] struct {
	docs domain.DocumentStore
	spec CollectionSpec
}

// New constructs an adapter for spec.
func New[T domain.Record](docs domain.DocumentStore, spec CollectionSpec) *Adapter[T] {
	return &Adapter[T]{docs: docs, spec: spec}
}

// Spec returns the collection spec.
func (a *Adapter[T]) Spec() CollectionSpec { return a.spec }

// Query builds the owner-scoped query, adding the period filter when the
// collection is period-scoped and period is non-empty.
func (a *Adapter[T]) Query(owner string, period domain.Period) domain.Query {
	q := domain.Query{
		Collection: a.spec.Collection,
		OrderBy:    []domain.Order{{Field: a.spec.OrderField, Descending: true}},
	}.Where(domain.FieldOwner, owner)
	if a.spec.PeriodField != "" && period != "" {
		q = q.Where(a.spec.PeriodField, string(period))
	}
	return q
}

// FetchAll runs a one-shot query for owner and period.
func (a *Adapter[T]) FetchAll(ctx context.Context, owner string, period domain.Period) ([]T, error) {
	if owner == "" {
		return nil, domain.ErrAuthRequired
	}
	q := a.Query(owner, period)
	q.Limit = a.spec.Limit
	return a.Find(ctx, q)
}

// Find runs q and decodes the result.
func (a *Adapter[T]) Find(ctx context.Context, q domain.Query) ([]T, error) {
	docs, err := a.docs.Query(ctx, q)
	if err != nil {
		return nil, classify("query "+a.spec.Collection, err)
	}
	return decodeAll[T](a.spec.Collection, docs)
}

// Create writes record without its identifier and timestamps and returns the
// identifier assigned by the store.
func (a *Adapter[T]) Create(ctx context.Context, record T) (string, error) {
	if record.Owner() == "" {
		return "", domain.ErrAuthRequired
	}
	fields, err := Encode(record)
	if err != nil {
		return "", domain.WriteRejectedError{Collection: a.spec.Collection, Op: "create", Reason: err}
	}
	delete(fields, domain.FieldID)
	delete(fields, domain.FieldCreatedAt)
	delete(fields, domain.FieldUpdatedAt)
	id, err := a.docs.Add(domain.WithOwner(ctx, record.Owner()), a.spec.Collection, fields)
	if err != nil {
		return "", classify("create "+a.spec.Collection, err)
	}
	return id, nil
}

// Get loads the document with id owned by owner, bypassing any period filter.
func (a *Adapter[T]) Get(ctx context.Context, owner, id string) (T, error) {
	var zero T
	if owner == "" {
		return zero, domain.ErrAuthRequired
	}
	q := domain.Query{Collection: a.spec.Collection, Limit: 1}.
		Where(domain.FieldOwner, owner).
		Where(domain.FieldID, id)
	found, err := a.Find(ctx, q)
	if err != nil {
		return zero, err
	}
	if len(found) == 0 {
		return zero, domain.NotFoundError{Collection: a.spec.Collection, ID: id}
	}
	return found[0], nil
}

// Update merges patch into the document with id owned by owner.
func (a *Adapter[T]) Update(ctx context.Context, owner, id string, patch domain.Patch) error {
	if owner == "" {
		return domain.ErrAuthRequired
	}
	fields := make(map[string]any, len(patch))
	for k, v := range patch {
		fields[k] = v
	}
	delete(fields, domain.FieldID)
	delete(fields, domain.FieldCreatedAt)
	delete(fields, domain.FieldUpdatedAt)
	if err := a.docs.Update(domain.WithOwner(ctx, owner), a.spec.Collection, id, fields); err != nil {
		return classify("update "+a.spec.Collection, err)
	}
	return nil
}

// Remove deletes the document with id owned by owner.
func (a *Adapter[T]) Remove(ctx context.Context, owner, id string) error {
	if owner == "" {
		return domain.ErrAuthRequired
	}
	if err := a.docs.Delete(domain.WithOwner(ctx, owner), a.spec.Collection, id); err != nil {
		return classify("delete "+a.spec.Collection, err)
	}
	return nil
}

// Subscribe opens a live query for owner and period. onChange receives the
// complete matching set on every change. onError is called at most once, after
// which the channel is closed and no further deliveries arrive.
func (a *Adapter[T]) Subscribe(ctx context.Context, owner string, period domain.Period, onChange func([]T), onError func(error)) (domain.Subscription, error) {
	if owner == "" {
		return nil, domain.ErrAuthRequired
	}
	return a.Watch(ctx, a.Query(owner, period), onChange, onError)
}

// Watch opens a live query for q.
func (a *Adapter[T]) Watch(ctx context.Context, q domain.Query, onChange func([]T), onError func(error)) (domain.Subscription, error) {
	var (
		mu     sync.Mutex
		failed bool
		sub    domain.Subscription
	)
	fail := func(err error) {
		mu.Lock()
		if failed {
			mu.Unlock()
			return
		}
		failed = true
		current := sub
		mu.Unlock()
		if current != nil {
			current.Unsubscribe()
		}
		if onError != nil {
			onError(err)
		}
	}
	s, err := a.docs.Observe(ctx, q, func(docs []domain.Document) {
		mu.Lock()
		done := failed
		mu.Unlock()
		if done {
			return
		}
		records, err := decodeAll[T](a.spec.Collection, docs)
		if err != nil {
			fail(err)
			return
		}
		onChange(records)
	}, func(err error) {
		fail(classify("observe "+a.spec.Collection, err))
	})
	if err != nil {
		return nil, classify("observe "+a.spec.Collection, err)
	}
	var once sync.Once
	release := domain.SubscriptionFunc(func() { once.Do(s.Unsubscribe) })
	mu.Lock()
	sub = release
	closeNow := failed
	mu.Unlock()
	if closeNow {
		release()
	}
	return release, nil
}

// classify keeps taxonomy errors and reports everything else as a transport failure.
func classify(op string, err error) error {
	switch {
	case errors.Is(err, domain.ErrAuthRequired),
		errors.Is(err, domain.ErrRemoteUnavailable),
		errors.Is(err, domain.ErrWriteRejected),
		errors.Is(err, domain.ErrNotFound):
		return err
	default:
		return domain.Unavailable(op, err)
	}
}

// Encode converts a record to its document field mapping.
func Encode(record any) (map[string]any, error) {
	raw, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	fields := map[string]any{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return fields, nil
}

// Decode converts a document to a record. The document identifier wins over
// any id field in the payload.
func Decode[T domain.Record](doc domain.Document) (T, error) {
	var out T
	fields := make(map[string]any, len(doc.Data)+1)
	for k, v := range doc.Data {
		fields[k] = v
	}
	fields[domain.FieldID] = doc.ID
	raw, err := json.Marshal(fields)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, err
	}
	return out, nil
}

func decodeAll[T domain.Record](collection string, docs []domain.Document) ([]T, error) {
	out := make([]T, 0, len(docs))
	for _, doc := range docs {
		rec, err := Decode[T](doc)
		if err != nil {
			return nil, fmt.Errorf("decode %s/%s: %w", collection, doc.ID, err)
		}
		out = append(out, rec)
	}
	return out, nil
}
