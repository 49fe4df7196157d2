package stats

import (
	"context"
	"sync"

	"tutordesk/internal/remote"
	"tutordesk/internal/state"
	"tutordesk/pkg/domain"
)

// HistoryLimit is the number of periods returned by HistoricalStats.
const HistoryLimit = 12

// Cached reads and writes the monthlyStats collection.
type Cached struct {
	adapter *remote.Adapter[domain.MonthlyStats]
}

// NewCached constructs the cached-statistics path over docs.
func NewCached(docs domain.DocumentStore) *Cached {
	return &Cached{adapter: remote.New[domain.MonthlyStats](docs, remote.StatsSpec)}
}

// GetPeriodStats returns the statistics document for period, or nil when none
// has been computed yet. Absence is not an error.
func (c *Cached) GetPeriodStats(ctx context.Context, owner string, period domain.Period) (*domain.MonthlyStats, error) {
	if owner == "" {
		return nil, domain.ErrAuthRequired
	}
	q := c.adapter.Query(owner, period)
	q.Limit = 1
	found, err := c.adapter.Find(ctx, q)
	if err != nil {
		return nil, err
	}
	return first(found), nil
}

// HistoricalStats returns up to HistoryLimit documents, most recent period first.
func (c *Cached) HistoricalStats(ctx context.Context, owner string) ([]domain.MonthlyStats, error) {
	if owner == "" {
		return nil, domain.ErrAuthRequired
	}
	q := c.adapter.Query(owner, "")
	q.Limit = HistoryLimit
	return c.adapter.Find(ctx, q)
}

// SubscribePeriodStats delivers the period's document, or nil, on every change.
func (c *Cached) SubscribePeriodStats(ctx context.Context, owner string, period domain.Period, fn func(*domain.MonthlyStats), onError func(error)) (domain.Subscription, error) {
	if owner == "" {
		return nil, domain.ErrAuthRequired
	}
	q := c.adapter.Query(owner, period)
	q.Limit = 1
	return c.adapter.Watch(ctx, q, func(found []domain.MonthlyStats) { fn(first(found)) }, onError)
}

// PublishPeriodStats creates or replaces the document for stats.Month and
// returns its identifier.
func (c *Cached) PublishPeriodStats(ctx context.Context, stats domain.MonthlyStats) (string, error) {
	if stats.OwnerUID == "" {
		return "", domain.ErrAuthRequired
	}
	if err := domain.ValidateRecord(domain.CollectionMonthlyStats, "publish", stats); err != nil {
		return "", err
	}
	existing, err := c.GetPeriodStats(ctx, stats.OwnerUID, stats.Month)
	if err != nil {
		return "", err
	}
	if existing == nil {
		return c.adapter.Create(ctx, stats)
	}
	patch, err := remote.Encode(stats)
	if err != nil {
		return "", domain.WriteRejectedError{Collection: domain.CollectionMonthlyStats, Op: "publish", Reason: err}
	}
	if err := c.adapter.Update(ctx, stats.OwnerUID, existing.ID, patch); err != nil {
		return "", err
	}
	return existing.ID, nil
}

func first(found []domain.MonthlyStats) *domain.MonthlyStats {
	if len(found) == 0 {
		return nil
	}
	v := found[0]
	return &v
}

// PeriodChannel keeps the store's period statistics in sync with the cached document.
type PeriodChannel struct {
	cached  *Cached
	store   *state.Store
	onError func(collection string, err error)

	// applyMu orders applying results against Stop.
	applyMu sync.Mutex

	mu    sync.Mutex
	sub   domain.Subscription
	gen   uint64
	stale bool
}

var _ remote.Channel = (*PeriodChannel)(nil)

// Channel returns a sync channel that mirrors the current period's document into store.
func (c *Cached) Channel(store *state.Store, onError func(collection string, err error)) *PeriodChannel {
	return &PeriodChannel{cached: c, store: store, onError: onError}
}

// Name returns the collection name.
func (p *PeriodChannel) Name() string { return domain.CollectionMonthlyStats }

// PeriodScoped is always true.
func (p *PeriodChannel) PeriodScoped() bool { return true }

// Stale reports whether the subscription failed since the last Start.
func (p *PeriodChannel) Stale() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stale
}

// Start looks the period up and then subscribes to it.
func (p *PeriodChannel) Start(ctx context.Context, owner string, period domain.Period) error {
	p.mu.Lock()
	if p.sub != nil {
		p.sub.Unsubscribe()
		p.sub = nil
	}
	p.gen++
	gen := p.gen
	p.stale = false
	p.mu.Unlock()

	p.store.ResetPeriodStats()
	found, err := p.cached.GetPeriodStats(ctx, owner, period)
	if err != nil {
		return err
	}
	p.apply(gen, found)
	sub, err := p.cached.SubscribePeriodStats(ctx, owner, period, func(s *domain.MonthlyStats) {
		p.apply(gen, s)
	}, func(err error) {
		p.mu.Lock()
		if p.gen != gen {
			p.mu.Unlock()
			return
		}
		p.sub = nil
		p.stale = true
		p.mu.Unlock()
		if p.onError != nil {
			p.onError(p.Name(), err)
		}
	})
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gen != gen {
		sub.Unsubscribe()
		return nil
	}
	p.sub = sub
	return nil
}

// apply sets stats unless the channel was restarted or stopped since gen.
func (p *PeriodChannel) apply(gen uint64, stats *domain.MonthlyStats) {
	p.applyMu.Lock()
	defer p.applyMu.Unlock()
	if p.current(gen) {
		p.store.SetPeriodStats(stats)
	}
}

func (p *PeriodChannel) current(gen uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gen == gen
}

// Stop releases the subscription.
func (p *PeriodChannel) Stop() {
	p.applyMu.Lock()
	defer p.applyMu.Unlock()
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sub != nil {
		p.sub.Unsubscribe()
		p.sub = nil
	}
	p.gen++
}
