// Package changefeed broadcasts document-store write notifications between
// processes that share one SQL database.
package changefeed

import (
	"context"
	"sync"

	"tutordesk/pkg/domain"
)

// Event announces that a collection changed. Receivers reload the collection;
// the event carries no document payload.
type Event struct {
	Origin     string `json:"origin"`
	Collection string `json:"collection"`
	ID         string `json:"id"`
	Op         string `json:"op"`
}

// Feed publishes and delivers change events.
type Feed interface {
	Publish(ctx context.Context, e Event) error
	// Subscribe registers fn for every event published after it returns.
	Subscribe(ctx context.Context, fn func(Event)) (domain.Subscription, error)
	Close() error
}

// Local is an in-process Feed. Publish delivers synchronously to all subscribers.
type Local struct {
	mu     sync.RWMutex
	next   uint64
	subs   map[uint64]func(Event)
	closed bool
}

var _ Feed = (*Local)(nil)

// NewLocal constructs an empty in-process feed.
func NewLocal() *Local {
	return &Local{subs: make(map[uint64]func(Event))}
}

// Publish delivers e to every subscriber.
func (l *Local) Publish(_ context.Context, e Event) error {
	l.mu.RLock()
	if l.closed {
		l.mu.RUnlock()
		return nil
	}
	fns := make([]func(Event), 0, len(l.subs))
	for _, fn := range l.subs {
		fns = append(fns, fn)
	}
	l.mu.RUnlock()
	for _, fn := range fns {
		fn(e)
	}
	return nil
}

// Subscribe registers fn.
func (l *Local) Subscribe(_ context.Context, fn func(Event)) (domain.Subscription, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.next++
	id := l.next
	l.subs[id] = fn
	var once sync.Once
	return domain.SubscriptionFunc(func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.subs, id)
			l.mu.Unlock()
		})
	}), nil
}

// Close drops all subscribers.
func (l *Local) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	l.subs = map[uint64]func(Event){}
	return nil
}
