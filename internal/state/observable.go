package state

import (
	"sync"

	"tutordesk/pkg/domain"
)

// Subject is a synchronous publish point. Publish calls every registered
// observer, in registration order, before it returns.
type Subject[T any] struct {
	mu        sync.Mutex
	next      uint64
	observers []observer[T]
}

type observer[T any] struct {
	id uint64
	fn func(T)
}

// Subscribe registers fn and returns the token that removes it.
func (s *Subject[T]) Subscribe(fn func(T)) domain.Subscription {
	s.mu.Lock()
	s.next++
	id := s.next
	s.observers = append(s.observers, observer[T]{id: id, fn: fn})
	s.mu.Unlock()

	var once sync.Once
	return domain.SubscriptionFunc(func() {
		once.Do(func() { s.remove(id) })
	})
}

func (s *Subject[T]) remove(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, o := range s.observers {
		if o.id == id {
			s.observers = append(s.observers[:i:i], s.observers[i+1:]...)
			return
		}
	}
}

// Publish delivers v to the observers registered at the time of the call.
func (s *Subject[T]) Publish(v T) {
	s.mu.Lock()
	current := append([]observer[T](nil), s.observers...)
	s.mu.Unlock()
	for _, o := range current {
		o.fn(v)
	}
}

// Len reports the number of registered observers.
func (s *Subject[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.observers)
}
