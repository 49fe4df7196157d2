package core

import (
	"context"
	"fmt"
	"reflect"

	"tutordesk/internal/remote"
	"tutordesk/internal/state"
	"tutordesk/pkg/domain"
)

// Collection issues writes for one record type and applies them to the
// matching store table once the document store has accepted them.
type Collection[T domain.Record] struct {
	svc     *Service
	adapter *remote.Adapter[T]
	table   *state.Table[T]
}

func newCollection[T domain.Record](svc *Service, adapter *remote.Adapter[T], table *state.Table[T]) *Collection[T] {
	return &Collection[T]{svc: svc, adapter: adapter, table: table}
}

// Name returns the collection name.
func (c *Collection[T]) Name() string { return c.adapter.Spec().Collection }

// List returns the mirrored records, most recent first.
func (c *Collection[T]) List() ([]T, error) {
	if _, err := c.svc.gate.Require(); err != nil {
		return nil, err
	}
	return c.table.All(), nil
}

// Get returns one mirrored record.
func (c *Collection[T]) Get(id string) (T, error) {
	var zero T
	if _, err := c.svc.gate.Require(); err != nil {
		return zero, err
	}
	r, ok := c.table.Get(id)
	if !ok {
		return zero, domain.NotFoundError{Collection: c.Name(), ID: id}
	}
	return r, nil
}

// Create stamps the owner key, validates and writes the record. The store
// table gains the record only after the write succeeds.
func (c *Collection[T]) Create(ctx context.Context, record T) (T, error) {
	var created T
	err := c.svc.run(ctx, "create_"+c.Name(), c.Name(), func(ctx context.Context, owner string) (string, error) {
		fields, err := remote.Encode(record)
		if err != nil {
			return "", domain.WriteRejectedError{Collection: c.Name(), Op: "create", Reason: err}
		}
		fields[domain.FieldOwner] = owner
		delete(fields, domain.FieldID)
		candidate, err := remote.Decode[T](domain.Document{Data: fields})
		if err != nil {
			return "", domain.WriteRejectedError{Collection: c.Name(), Op: "create", Reason: err}
		}
		if err := domain.ValidateRecord(c.Name(), "create", candidate); err != nil {
			return "", err
		}
		id, err := c.adapter.Create(ctx, candidate)
		if err != nil {
			return "", err
		}
		if delivered, ok := c.table.Get(id); ok {
			created = delivered
			return id, nil
		}
		now := c.svc.clock.Now()
		fields[domain.FieldCreatedAt] = now
		fields[domain.FieldUpdatedAt] = now
		created, err = remote.Decode[T](domain.Document{ID: id, Data: fields})
		if err != nil {
			return id, fmt.Errorf("decode created %s: %w", c.Name(), err)
		}
		c.apply(owner, created, fields)
		return id, nil
	})
	return created, err
}

// Update merges patch into the record, validates the result and writes the
// patch. Records outside the mirrored set are loaded from the document store
// first. The table entry is replaced once the write succeeds.
func (c *Collection[T]) Update(ctx context.Context, id string, patch domain.Patch) (T, error) {
	var updated T
	err := c.svc.run(ctx, "update_"+c.Name(), c.Name(), func(ctx context.Context, owner string) (string, error) {
		if v, ok := patch[domain.FieldOwner]; ok && !reflect.DeepEqual(v, owner) {
			return id, domain.WriteRejectedError{Collection: c.Name(), Op: "update", Reason: fmt.Errorf("%s is immutable", domain.FieldOwner)}
		}
		current, known := c.table.Get(id)
		if !known || current.Owner() != owner {
			loaded, err := c.adapter.Get(ctx, owner, id)
			if err != nil {
				return id, err
			}
			current = loaded
		}
		fields, err := remote.Encode(current)
		if err != nil {
			return id, domain.WriteRejectedError{Collection: c.Name(), Op: "update", Reason: err}
		}
		patchFields, err := remote.Encode(map[string]any(patch))
		if err != nil {
			return id, domain.WriteRejectedError{Collection: c.Name(), Op: "update", Reason: err}
		}
		for k, v := range patchFields {
			fields[k] = v
		}
		fields[domain.FieldUpdatedAt] = c.svc.clock.Now()
		merged, err := remote.Decode[T](domain.Document{ID: id, Data: fields})
		if err != nil {
			return id, domain.WriteRejectedError{Collection: c.Name(), Op: "update", Reason: err}
		}
		if err := domain.ValidateRecord(c.Name(), "update", merged); err != nil {
			return id, err
		}
		if err := c.adapter.Update(ctx, owner, id, patch); err != nil {
			return id, err
		}
		updated = merged
		c.apply(owner, merged, fields)
		return id, nil
	})
	return updated, err
}

// Delete removes the record remotely and then from the table.
func (c *Collection[T]) Delete(ctx context.Context, id string) error {
	return c.svc.run(ctx, "delete_"+c.Name(), c.Name(), func(ctx context.Context, owner string) (string, error) {
		if err := c.adapter.Remove(ctx, owner, id); err != nil {
			return id, err
		}
		c.table.RemoveOne(id)
		return id, nil
	})
}

// apply reflects an accepted write in the table. A subscription delivery may
// already have brought the record in; records outside the current period of a
// period-scoped collection are left to the subscription. Nothing is applied
// once owner is no longer the signed-in principal.
func (c *Collection[T]) apply(owner string, record T, fields map[string]any) {
	if current, err := c.svc.gate.Require(); err != nil || current != owner {
		return
	}
	if field := c.adapter.Spec().PeriodField; field != "" {
		if fmt.Sprint(fields[field]) != string(c.svc.store.Period()) {
			c.table.RemoveOne(record.RecordID())
			return
		}
	}
	if _, ok := c.table.Get(record.RecordID()); ok {
		c.table.ReplaceOne(record)
		return
	}
	c.table.InsertOne(record)
}
