package domain

import (
	"errors"
	"fmt"
)

// Sentinel conditions of the error taxonomy. Typed errors below match them via errors.Is.
var (
	// ErrAuthRequired is returned when an operation runs before a principal is authenticated.
	ErrAuthRequired = errors.New("authentication required")
	// ErrRemoteUnavailable reports a transport failure talking to the document store.
	ErrRemoteUnavailable = errors.New("remote unavailable")
	// ErrWriteRejected reports a create/update/delete refused by the document store.
	ErrWriteRejected = errors.New("write rejected")
	// ErrNotFound reports an update/delete target that no longer exists.
	ErrNotFound = errors.New("not found")
)

// NotFoundError identifies the missing document.
type NotFoundError struct {
	Collection string
	ID         string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Collection, e.ID)
}

// Is matches ErrNotFound.
func (e NotFoundError) Is(target error) bool { return target == ErrNotFound }

// WriteRejectedError describes why the document store refused a write.
type WriteRejectedError struct {
	Collection string
	Op         string
	Reason     error
}

func (e WriteRejectedError) Error() string {
	if e.Reason == nil {
		return fmt.Sprintf("%s %s rejected", e.Op, e.Collection)
	}
	return fmt.Sprintf("%s %s rejected: %v", e.Op, e.Collection, e.Reason)
}

// Is matches ErrWriteRejected.
func (e WriteRejectedError) Is(target error) bool { return target == ErrWriteRejected }

// Unwrap exposes the underlying reason.
func (e WriteRejectedError) Unwrap() error { return e.Reason }

// Unavailable wraps a transport error so that it matches ErrRemoteUnavailable.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrRemoteUnavailable, err)
}
