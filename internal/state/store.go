// Package state holds the in-memory mirror of the remote collections together
// with UI filter values, and notifies observers synchronously on every change.
package state

import (
	"sync"
	"time"

	"tutordesk/pkg/domain"
)

// Topics published on the store bus besides the collection names.
const (
	TopicStats = "stats"
	TopicUI    = "ui"
)

// Change describes a completed store mutation.
type Change struct {
	Topic string
	Op    string
}

// Store is the application state container. It is created by the composition
// root and shared by reference; there is no package-level instance.
type Store struct {
	// mu guards every field below; dispatchMu serializes mutate+notify so
	// observers see changes in the order they were applied.
	mu         sync.RWMutex
	dispatchMu sync.Mutex
	bus        Subject[Change]

	Students *Table[domain.Student]
	Groups   *Table[domain.Group]
	Sessions *Table[domain.Session]
	Payments *Table[domain.Payment]

	periodStats  *domain.MonthlyStats
	statsLoaded  bool
	history      []domain.MonthlyStats
	period       domain.Period
	studentQuery StudentFilter
	paymentQuery PaymentStatusFilter
}

// NewStore constructs an empty store whose current period is the month of now.
func NewStore(now time.Time) *Store {
	s := &Store{period: domain.PeriodOf(now)}
	s.Students = newTable[domain.Student](s, domain.CollectionStudents)
	s.Groups = newTable[domain.Group](s, domain.CollectionGroups)
	s.Sessions = newTable[domain.Session](s, domain.CollectionSessions)
	s.Payments = newTable[domain.Payment](s, domain.CollectionPayments)
	return s
}

// Observe registers fn for every subsequent change.
func (s *Store) Observe(fn func(Change)) domain.Subscription {
	return s.bus.Subscribe(fn)
}

// dispatch applies fn under the write lock and then notifies observers before
// returning. Observers may read the store but must not mutate it.
func (s *Store) dispatch(c Change, fn func()) {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()
	s.mu.Lock()
	fn()
	s.mu.Unlock()
	s.bus.Publish(c)
}

// Clear drops every record, cached statistic and filter. The current period is kept.
func (s *Store) Clear() {
	s.dispatch(Change{Topic: TopicUI, Op: "clear"}, func() {
		s.Students.reset()
		s.Groups.reset()
		s.Sessions.reset()
		s.Payments.reset()
		s.periodStats = nil
		s.statsLoaded = false
		s.history = nil
		s.studentQuery = StudentFilter{}
		s.paymentQuery = PaymentStatusAll
	})
}

// Period returns the billing period currently in view.
func (s *Store) Period() domain.Period {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.period
}

// SetPeriod replaces the period in view.
func (s *Store) SetPeriod(p domain.Period) {
	s.dispatch(Change{Topic: TopicUI, Op: "period"}, func() { s.period = p })
}

// StudentFilter returns the student list filter.
func (s *Store) StudentFilter() StudentFilter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.studentQuery
}

// SetStudentFilter replaces the student list filter.
func (s *Store) SetStudentFilter(f StudentFilter) {
	s.dispatch(Change{Topic: TopicUI, Op: "studentFilter"}, func() { s.studentQuery = f })
}

// PaymentFilter returns the payment status filter.
func (s *Store) PaymentFilter() PaymentStatusFilter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.paymentQuery == "" {
		return PaymentStatusAll
	}
	return s.paymentQuery
}

// SetPaymentFilter replaces the payment status filter.
func (s *Store) SetPaymentFilter(f PaymentStatusFilter) {
	s.dispatch(Change{Topic: TopicUI, Op: "paymentFilter"}, func() { s.paymentQuery = f })
}

// PeriodStats returns the cached statistics document for the current period.
// A nil result means none has been computed; loaded reports whether a lookup
// has completed since the last period change.
func (s *Store) PeriodStats() (stats *domain.MonthlyStats, loaded bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.periodStats == nil {
		return nil, s.statsLoaded
	}
	cp := *s.periodStats
	return &cp, s.statsLoaded
}

// SetPeriodStats records the outcome of a period statistics lookup.
func (s *Store) SetPeriodStats(stats *domain.MonthlyStats) {
	var cp *domain.MonthlyStats
	if stats != nil {
		v := *stats
		cp = &v
	}
	s.dispatch(Change{Topic: TopicStats, Op: "period"}, func() {
		s.periodStats = cp
		s.statsLoaded = true
	})
}

// ResetPeriodStats forgets the cached statistics, e.g. after a period change.
func (s *Store) ResetPeriodStats() {
	s.dispatch(Change{Topic: TopicStats, Op: "reset"}, func() {
		s.periodStats = nil
		s.statsLoaded = false
	})
}

// HistoricalStats returns the cached statistics history, most recent period first.
func (s *Store) HistoricalStats() []domain.MonthlyStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.MonthlyStats(nil), s.history...)
}

// SetHistoricalStats replaces the statistics history.
func (s *Store) SetHistoricalStats(history []domain.MonthlyStats) {
	cp := append([]domain.MonthlyStats(nil), history...)
	s.dispatch(Change{Topic: TopicStats, Op: "history"}, func() { s.history = cp })
}

// FilteredStudents applies the current student filter.
func (s *Store) FilteredStudents() []domain.Student {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return FilterStudents(s.Students.records, s.studentQuery)
}

// FilteredPayments applies the current payment status filter.
func (s *Store) FilteredPayments() []domain.Payment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return FilterPayments(s.Payments.records, s.paymentQuery)
}

// GroupName resolves a student's or session's group reference for display.
func (s *Store) GroupName(groupID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return ResolveGroupName(s.Groups.records, groupID)
}
