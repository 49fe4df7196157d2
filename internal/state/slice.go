package state

import "tutordesk/pkg/domain"

// Slice is an ordered record sequence, most recent first. Its transitions
// never modify the receiver's backing array; they return a new Slice.
type Slice[T domain.Record] []T

// ReplaceAll returns a copy of records. A snapshot replaces, never merges.
func ReplaceAll[T domain.Record](records []T) Slice[T] {
	if len(records) == 0 {
		return Slice[T]{}
	}
	return append(Slice[T](nil), records...)
}

// InsertOne places r first.
func (s Slice[T]) InsertOne(r T) Slice[T] {
	out := make(Slice[T], 0, len(s)+1)
	out = append(out, r)
	return append(out, s...)
}

// ReplaceOne swaps the record with r's identifier. An unknown identifier
// returns s unchanged.
func (s Slice[T]) ReplaceOne(r T) Slice[T] {
	idx := s.Index(r.RecordID())
	if idx < 0 {
		return s
	}
	out := append(Slice[T](nil), s...)
	out[idx] = r
	return out
}

// RemoveOne drops the record with id. An unknown identifier returns s unchanged.
func (s Slice[T]) RemoveOne(id string) Slice[T] {
	idx := s.Index(id)
	if idx < 0 {
		return s
	}
	out := make(Slice[T], 0, len(s)-1)
	out = append(out, s[:idx]...)
	return append(out, s[idx+1:]...)
}

// Index returns the position of id or -1.
func (s Slice[T]) Index(id string) int {
	for i, r := range s {
		if r.RecordID() == id {
			return i
		}
	}
	return -1
}

// Get returns the record with id.
func (s Slice[T]) Get(id string) (T, bool) {
	if idx := s.Index(id); idx >= 0 {
		return s[idx], true
	}
	var zero T
	return zero, false
}
