package remote

import (
	"context"
	"errors"
	"sync"

	"tutordesk/internal/state"
	"tutordesk/pkg/domain"
)

// Logger is the subset of the service logger used by sync channels.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Metrics receives sync counters.
type Metrics interface {
	SubscriptionDelivery(collection string)
	StaleFetchDiscarded(collection string)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

type noopMetrics struct{}

func (noopMetrics) SubscriptionDelivery(string) {}
func (noopMetrics) StaleFetchDiscarded(string)  {}

// Channel is one independently synchronized collection.
type Channel interface {
	Name() string
	// PeriodScoped reports whether the channel must restart when the period changes.
	PeriodScoped() bool
	// Start runs fetch-then-subscribe for owner and period, replacing any
	// previous subscription.
	Start(ctx context.Context, owner string, period domain.Period) error
	// Stop releases the live subscription, if any.
	Stop()
	// Stale reports whether the live subscription failed since the last Start.
	Stale() bool
}

// fetchGuard discards one-shot fetch results that were overtaken by a newer
// fetch, by a subscription delivery or by Stop. mu also serializes applying
// results.
type fetchGuard struct {
	mu     sync.Mutex
	issued uint64
	floor  uint64
}

func (g *fetchGuard) begin() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.issued++
	return g.issued
}

// Binding mirrors one adapter into one store table.
type Binding[T domain.Record] struct {
	adapter      *Adapter[T]
	table        *state.Table[T]
	periodScoped bool
	logger       Logger
	metrics      Metrics
	onError      func(collection string, err error)

	guard fetchGuard

	mu     sync.Mutex
	sub    domain.Subscription
	gen    uint64
	owner  string
	period domain.Period
	stale  bool
}

// BindingOption configures a Binding.
type BindingOption func(*bindingConfig)

type bindingConfig struct {
	logger  Logger
	metrics Metrics
	onError func(string, error)
}

// WithLogger sets the logger.
func WithLogger(l Logger) BindingOption {
	return func(c *bindingConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) BindingOption {
	return func(c *bindingConfig) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithErrorHandler receives the single error reported by a failed subscription.
func WithErrorHandler(fn func(collection string, err error)) BindingOption {
	return func(c *bindingConfig) { c.onError = fn }
}

// Bind connects adapter to table.
func Bind[T domain.Record](adapter *Adapter[T], table *state.Table[T], opts ...BindingOption) *Binding[T] {
	cfg := bindingConfig{logger: noopLogger{}, metrics: noopMetrics{}}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Binding[T]{
		adapter:      adapter,
		table:        table,
		periodScoped: adapter.spec.PeriodField != "",
		logger:       cfg.logger,
		metrics:      cfg.metrics,
		onError:      cfg.onError,
	}
}

// Name returns the collection name.
func (b *Binding[T]) Name() string { return b.adapter.spec.Collection }

// PeriodScoped reports whether the collection is filtered by period.
func (b *Binding[T]) PeriodScoped() bool { return b.periodScoped }

// Stale reports whether the subscription failed since the last Start.
func (b *Binding[T]) Stale() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stale
}

// Start fetches the current snapshot, applies it, and then subscribes. A fetch
// failure leaves the table at its prior contents.
func (b *Binding[T]) Start(ctx context.Context, owner string, period domain.Period) error {
	b.mu.Lock()
	b.releaseLocked()
	b.gen++
	gen := b.gen
	b.owner, b.period, b.stale = owner, period, false
	b.mu.Unlock()

	if err := b.fetch(ctx, gen, owner, period); err != nil {
		return err
	}
	if !b.current(gen) {
		return nil
	}

	sub, err := b.adapter.Subscribe(ctx, owner, period,
		func(records []T) { b.deliver(gen, records) },
		func(err error) { b.fail(gen, err) },
	)
	if err != nil {
		b.table.MarkStale()
		b.mu.Lock()
		b.stale = true
		b.mu.Unlock()
		return err
	}
	b.mu.Lock()
	if b.gen != gen {
		b.mu.Unlock()
		sub.Unsubscribe()
		return nil
	}
	b.sub = sub
	b.mu.Unlock()
	return nil
}

// Refresh re-runs the one-shot fetch for the current owner and period without
// touching the subscription.
func (b *Binding[T]) Refresh(ctx context.Context) error {
	b.mu.Lock()
	owner, period, gen := b.owner, b.period, b.gen
	b.mu.Unlock()
	if owner == "" {
		return domain.ErrAuthRequired
	}
	return b.fetch(ctx, gen, owner, period)
}

// fetch applies the one-shot result only if no newer fetch, delivery, Start or
// Stop happened while it was in flight.
func (b *Binding[T]) fetch(ctx context.Context, gen uint64, owner string, period domain.Period) error {
	tag := b.guard.begin()
	b.table.SetLoading(true)
	records, err := b.adapter.FetchAll(ctx, owner, period)
	if err != nil {
		b.table.SetLoading(false)
		return err
	}
	b.guard.mu.Lock()
	defer b.guard.mu.Unlock()
	if tag != b.guard.issued || tag <= b.guard.floor || !b.current(gen) {
		b.metrics.StaleFetchDiscarded(b.Name())
		b.logger.Debug("discarding stale fetch", "collection", b.Name(), "tag", tag, "issued", b.guard.issued, "floor", b.guard.floor)
		b.table.SetLoading(false)
		return nil
	}
	b.table.ReplaceAll(records)
	return nil
}

func (b *Binding[T]) current(gen uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.gen == gen
}

func (b *Binding[T]) deliver(gen uint64, records []T) {
	b.guard.mu.Lock()
	defer b.guard.mu.Unlock()
	if !b.current(gen) {
		return
	}
	b.guard.floor = b.guard.issued
	b.metrics.SubscriptionDelivery(b.Name())
	b.table.ReplaceAll(records)
}

func (b *Binding[T]) fail(gen uint64, err error) {
	b.mu.Lock()
	if b.gen != gen {
		b.mu.Unlock()
		return
	}
	b.sub = nil
	b.stale = true
	b.mu.Unlock()

	b.logger.Warn("subscription ended", "collection", b.Name(), "error", err)
	b.table.MarkStale()
	if b.onError != nil {
		b.onError(b.Name(), err)
	}
}

// Stop releases the subscription. Pending deliveries and fetches in flight are
// ignored.
func (b *Binding[T]) Stop() {
	b.guard.mu.Lock()
	defer b.guard.mu.Unlock()
	b.guard.issued++
	b.mu.Lock()
	defer b.mu.Unlock()
	b.releaseLocked()
	b.gen++
	b.owner, b.period = "", ""
}

func (b *Binding[T]) releaseLocked() {
	if b.sub != nil {
		b.sub.Unsubscribe()
		b.sub = nil
	}
}

// Syncer starts, restarts and stops a set of channels for the signed-in owner.
type Syncer struct {
	channels []Channel

	// running is held shared while channels start and exclusively by StopAll,
	// so a teardown never interleaves with a start.
	running sync.RWMutex

	mu      sync.Mutex
	owner   string
	period  domain.Period
	session context.Context
	cancel  context.CancelFunc
}

// NewSyncer groups channels.
func NewSyncer(channels ...Channel) *Syncer {
	return &Syncer{channels: channels}
}

// Channels returns the managed channels.
func (s *Syncer) Channels() []Channel { return append([]Channel(nil), s.channels...) }

// Owner returns the owner the channels were started for.
func (s *Syncer) Owner() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.owner
}

// StartAll starts every channel concurrently. Channels sync independently; one
// failing does not prevent the others from starting. The work is cancelled by
// StopAll.
func (s *Syncer) StartAll(ctx context.Context, owner string, period domain.Period) error {
	if owner == "" {
		return domain.ErrAuthRequired
	}
	s.running.RLock()
	defer s.running.RUnlock()
	session, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.owner, s.period, s.session, s.cancel = owner, period, session, cancel
	s.mu.Unlock()
	return s.start(session, owner, period, func(Channel) bool { return true })
}

// SetPeriod restarts the period-scoped channels for period.
func (s *Syncer) SetPeriod(ctx context.Context, period domain.Period) error {
	s.running.RLock()
	defer s.running.RUnlock()
	s.mu.Lock()
	owner, session := s.owner, s.session
	s.period = period
	s.mu.Unlock()
	if owner == "" {
		return nil
	}
	ctx, stop := withSession(ctx, session)
	defer stop()
	return s.start(ctx, owner, period, Channel.PeriodScoped)
}

// Resync restarts every channel whose subscription failed.
func (s *Syncer) Resync(ctx context.Context) error {
	s.running.RLock()
	defer s.running.RUnlock()
	s.mu.Lock()
	owner, period, session := s.owner, s.period, s.session
	s.mu.Unlock()
	if owner == "" {
		return domain.ErrAuthRequired
	}
	ctx, stop := withSession(ctx, session)
	defer stop()
	return s.start(ctx, owner, period, Channel.Stale)
}

// Refresh re-runs the one-shot fetch of every binding for the current owner
// and period, leaving subscriptions in place.
func (s *Syncer) Refresh(ctx context.Context) error {
	s.running.RLock()
	defer s.running.RUnlock()
	s.mu.Lock()
	owner, session := s.owner, s.session
	s.mu.Unlock()
	if owner == "" {
		return domain.ErrAuthRequired
	}
	ctx, stop := withSession(ctx, session)
	defer stop()
	var errs []error
	for _, ch := range s.channels {
		if r, ok := ch.(interface{ Refresh(context.Context) error }); ok {
			if err := r.Refresh(ctx); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// StopAll cancels work in flight, waits for it, stops every channel and
// forgets the owner.
func (s *Syncer) StopAll() {
	s.mu.Lock()
	cancel := s.cancel
	s.owner, s.period, s.session, s.cancel = "", "", nil, nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.running.Lock()
	defer s.running.Unlock()
	for _, ch := range s.channels {
		ch.Stop()
	}
}

// withSession derives a context from ctx that is also cancelled with session.
func withSession(ctx, session context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	if session == nil {
		return ctx, cancel
	}
	detach := context.AfterFunc(session, cancel)
	return ctx, func() {
		detach()
		cancel()
	}
}

func (s *Syncer) start(ctx context.Context, owner string, period domain.Period, want func(Channel) bool) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, ch := range s.channels {
		if !want(ch) {
			continue
		}
		wg.Add(1)
		go func(ch Channel) {
			defer wg.Done()
			if err := ch.Start(ctx, owner, period); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(ch)
	}
	wg.Wait()
	return errors.Join(errs...)
}
