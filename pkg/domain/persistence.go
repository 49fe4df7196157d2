package domain

import "context"

// Filter is an equality constraint on a document field. A filter on FieldID
// matches the document identifier.
type Filter struct {
	Field string
	Value any
}

// Order sorts query results by a document field.
type Order struct {
	Field      string
	Descending bool
}

// Query selects documents from one collection.
type Query struct {
	Collection string
	Filters    []Filter
	OrderBy    []Order
	Limit      int // zero means unlimited
}

// Where returns a copy of q with an additional equality filter.
func (q Query) Where(field string, value any) Query {
	q.Filters = append(append([]Filter(nil), q.Filters...), Filter{Field: field, Value: value})
	return q
}

// Document is a stored field mapping and its store-assigned identifier.
type Document struct {
	ID   string
	Data map[string]any
}

// Subscription is the token returned by a live query. Unsubscribe releases the channel
// and must be invoked exactly once when the subscriber is no longer interested.
type Subscription interface {
	Unsubscribe()
}

// SubscriptionFunc adapts a function to the Subscription interface.
type SubscriptionFunc func()

// Unsubscribe calls f.
func (f SubscriptionFunc) Unsubscribe() { f() }

type ownerKey struct{}

// WithOwner returns a context carrying the principal a write is issued for.
func WithOwner(ctx context.Context, owner string) context.Context {
	return context.WithValue(ctx, ownerKey{}, owner)
}

// OwnerFrom returns the principal carried by ctx.
func OwnerFrom(ctx context.Context) (string, bool) {
	owner, ok := ctx.Value(ownerKey{}).(string)
	return owner, ok && owner != ""
}

// DocumentStore is the hosted document database consumed by the sync adapters.
// Implementations stamp createdAt/updatedAt on Add, refresh updatedAt on Update, and
// redeliver the full matching result set to observers after every relevant write.
// When ctx carries an owner (WithOwner), writes are only accepted for documents
// owned by it: Add rejects a foreign ownerUid, and Update and Delete report a
// document of another owner as not found.
type DocumentStore interface {
	// Query runs a one-shot query.
	Query(ctx context.Context, q Query) ([]Document, error)
	// Add inserts a document and returns its new identifier.
	Add(ctx context.Context, collection string, fields map[string]any) (string, error)
	// Update merges fields into an existing document.
	Update(ctx context.Context, collection, id string, fields map[string]any) error
	// Delete removes a document.
	Delete(ctx context.Context, collection, id string) error
	// Observe opens a live query. onSnapshot receives the initial result set and then the
	// complete result set after every change; onError is called at most once and ends the
	// subscription.
	Observe(ctx context.Context, q Query, onSnapshot func([]Document), onError func(error)) (Subscription, error)
}
