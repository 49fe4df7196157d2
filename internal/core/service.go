// Package core is the composition root: it wires the document store, the
// identity gate, the sync channels and the entity store into one Service.
package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tutordesk/internal/remote"
	"tutordesk/internal/session"
	"tutordesk/internal/state"
	"tutordesk/internal/stats"
	"tutordesk/pkg/domain"
)

// Service exposes the tutoring operations for the signed-in principal.
type Service struct {
	docs    domain.DocumentStore
	store   *state.Store
	gate    *session.Gate
	syncer  *remote.Syncer
	cached  *stats.Cached
	logger  Logger
	clock   Clock
	metrics MetricsRecorder
	tracer  Tracer
	audit   AuditRecorder

	students *Collection[domain.Student]
	groups   *Collection[domain.Group]
	sessions *Collection[domain.Session]
	payments *Collection[domain.Payment]
}

// NewService wires a service over docs and the identity provider. Nothing is
// fetched until Start is called and the provider reports a principal.
func NewService(docs domain.DocumentStore, provider domain.IdentityProvider, opts ...Option) *Service {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	s := &Service{
		docs:    docs,
		store:   state.NewStore(o.clock.Now()),
		cached:  stats.NewCached(docs),
		logger:  o.logger,
		clock:   o.clock,
		metrics: o.metrics,
		tracer:  o.tracer,
		audit:   o.audit,
	}

	bindOpts := []remote.BindingOption{
		remote.WithLogger(s.logger),
		remote.WithErrorHandler(s.subscriptionFailed),
	}
	if m, ok := o.metrics.(remote.Metrics); ok {
		bindOpts = append(bindOpts, remote.WithMetrics(m))
	}
	studentsAdapter := remote.New[domain.Student](docs, remote.StudentsSpec)
	groupsAdapter := remote.New[domain.Group](docs, remote.GroupsSpec)
	sessionsAdapter := remote.New[domain.Session](docs, remote.SessionsSpec)
	paymentsAdapter := remote.New[domain.Payment](docs, remote.PaymentsSpec)

	s.syncer = remote.NewSyncer(
		remote.Bind(studentsAdapter, s.store.Students, bindOpts...),
		remote.Bind(groupsAdapter, s.store.Groups, bindOpts...),
		remote.Bind(sessionsAdapter, s.store.Sessions, bindOpts...),
		remote.Bind(paymentsAdapter, s.store.Payments, bindOpts...),
		s.cached.Channel(s.store, s.subscriptionFailed),
	)
	s.gate = session.NewGate(provider, s.syncer, s.store, session.WithLogger(s.logger))

	s.students = newCollection(s, studentsAdapter, s.store.Students)
	s.groups = newCollection(s, groupsAdapter, s.store.Groups)
	s.sessions = newCollection(s, sessionsAdapter, s.store.Sessions)
	s.payments = newCollection(s, paymentsAdapter, s.store.Payments)
	return s
}

// Start begins following the identity provider.
func (s *Service) Start(ctx context.Context) { s.gate.Start(ctx) }

// Close stops every subscription and clears the store.
func (s *Service) Close() { s.gate.Close() }

// State returns the entity store.
func (s *Service) State() *state.Store { return s.store }

// Gate returns the identity gate.
func (s *Service) Gate() *session.Gate { return s.gate }

// Students returns the student collection.
func (s *Service) Students() *Collection[domain.Student] { return s.students }

// Groups returns the group collection.
func (s *Service) Groups() *Collection[domain.Group] { return s.groups }

// Sessions returns the session collection.
func (s *Service) Sessions() *Collection[domain.Session] { return s.sessions }

// Payments returns the payment collection, scoped to the current period.
func (s *Service) Payments() *Collection[domain.Payment] { return s.payments }

// Dashboard combines the live figures with the cached period document.
type Dashboard struct {
	Period       domain.Period        `json:"period"`
	Live         stats.Live           `json:"live"`
	Cached       *domain.MonthlyStats `json:"cached"`
	CachedLoaded bool                 `json:"cachedLoaded"`
}

// Dashboard recomputes the live figures from the store.
func (s *Service) Dashboard(ctx context.Context) (Dashboard, error) {
	var d Dashboard
	err := s.run(ctx, "dashboard", "", func(context.Context, string) (string, error) {
		cached, loaded := s.store.PeriodStats()
		d = Dashboard{
			Period:       s.store.Period(),
			Live:         stats.FromStore(s.store),
			Cached:       cached,
			CachedLoaded: loaded,
		}
		return "", nil
	})
	return d, err
}

// ReportData is a point-in-time copy of the current period for exports.
type ReportData struct {
	Owner    string           `json:"owner"`
	Period   domain.Period    `json:"period"`
	Live     stats.Live       `json:"live"`
	Students []domain.Student `json:"students"`
	Groups   []domain.Group   `json:"groups"`
	Payments []domain.Payment `json:"payments"`
}

// ReportData snapshots the store for the signed-in principal.
func (s *Service) ReportData(ctx context.Context) (ReportData, error) {
	var d ReportData
	err := s.run(ctx, "report_snapshot", "", func(_ context.Context, owner string) (string, error) {
		d = ReportData{
			Owner:    owner,
			Period:   s.store.Period(),
			Live:     stats.FromStore(s.store),
			Students: s.store.Students.All(),
			Groups:   s.store.Groups.All(),
			Payments: s.store.Payments.All(),
		}
		return "", nil
	})
	return d, err
}

// SetCurrentPeriod changes the period and restarts the period-scoped channels.
func (s *Service) SetCurrentPeriod(ctx context.Context, p domain.Period) error {
	if !p.Valid() {
		return domain.WriteRejectedError{Collection: "period", Op: "set", Reason: fmt.Errorf("invalid period %q", p)}
	}
	return s.run(ctx, "set_period", "", func(ctx context.Context, _ string) (string, error) {
		if s.store.Period() == p {
			return "", nil
		}
		s.store.SetPeriod(p)
		return "", s.syncer.SetPeriod(ctx, p)
	})
}

// LoadHistory reads the most recent cached period documents into the store.
func (s *Service) LoadHistory(ctx context.Context) ([]domain.MonthlyStats, error) {
	var history []domain.MonthlyStats
	err := s.run(ctx, "load_history", "", func(ctx context.Context, owner string) (string, error) {
		var err error
		history, err = s.cached.HistoricalStats(ctx, owner)
		if err != nil {
			return "", err
		}
		s.store.SetHistoricalStats(history)
		return "", nil
	})
	return history, err
}

// PublishStats rolls the current period up from the store and writes it to
// the cached statistics collection.
func (s *Service) PublishStats(ctx context.Context) (domain.MonthlyStats, error) {
	var built domain.MonthlyStats
	err := s.run(ctx, "publish_"+domain.CollectionMonthlyStats, domain.CollectionMonthlyStats, func(ctx context.Context, owner string) (string, error) {
		period := s.store.Period()
		built = stats.BuildMonthlyStats(owner, period, s.store.Students.All(), s.store.Payments.All(), s.store.Sessions.All())
		id, err := s.cached.PublishPeriodStats(ctx, built)
		built.ID = id
		return id, err
	})
	return built, err
}

// Resync restarts every channel whose subscription failed.
func (s *Service) Resync(ctx context.Context) error {
	return s.run(ctx, "resync", "", func(ctx context.Context, _ string) (string, error) {
		return "", s.syncer.Resync(ctx)
	})
}

// Refresh re-fetches every collection for the current owner and period without
// reopening subscriptions.
func (s *Service) Refresh(ctx context.Context) error {
	return s.run(ctx, "refresh", "", func(ctx context.Context, _ string) (string, error) {
		return "", s.syncer.Refresh(ctx)
	})
}

// Filters is the list filter state held by the store.
type Filters struct {
	Students state.StudentFilter       `json:"students"`
	Payments state.PaymentStatusFilter `json:"payments"`
}

// Filters returns the current list filters.
func (s *Service) Filters() (Filters, error) {
	if _, err := s.gate.Require(); err != nil {
		return Filters{}, err
	}
	return Filters{Students: s.store.StudentFilter(), Payments: s.store.PaymentFilter()}, nil
}

// SetFilters replaces the list filters.
func (s *Service) SetFilters(f Filters) error {
	if _, err := s.gate.Require(); err != nil {
		return err
	}
	s.store.SetStudentFilter(f.Students)
	s.store.SetPaymentFilter(f.Payments)
	return nil
}

// FilteredStudents returns the mirrored students matching the current filter.
func (s *Service) FilteredStudents() ([]domain.Student, error) {
	if _, err := s.gate.Require(); err != nil {
		return nil, err
	}
	return s.store.FilteredStudents(), nil
}

// FilteredPayments returns the current period's payments matching the current filter.
func (s *Service) FilteredPayments() ([]domain.Payment, error) {
	if _, err := s.gate.Require(); err != nil {
		return nil, err
	}
	return s.store.FilteredPayments(), nil
}

// GroupNames resolves the group label of every student in students.
func (s *Service) GroupNames(students []domain.Student) map[string]string {
	out := make(map[string]string, len(students))
	for _, st := range students {
		out[st.ID] = s.store.GroupName(st.GroupID)
	}
	return out
}

// StaleCollections lists the channels whose subscription failed.
func (s *Service) StaleCollections() []string {
	var out []string
	for _, ch := range s.syncer.Channels() {
		if ch.Stale() {
			out = append(out, ch.Name())
		}
	}
	return out
}

func (s *Service) subscriptionFailed(collection string, err error) {
	s.logger.Warn("subscription failed; collection marked stale", "collection", collection, "error", err)
}

// run requires an authenticated principal and wraps fn with tracing, metrics,
// logging and, for writes to a collection, an audit entry.
func (s *Service) run(ctx context.Context, op, collection string, fn func(context.Context, string) (string, error)) error {
	start := s.clock.Now()
	ctx, span := s.tracer.Start(ctx, op)

	owner, err := s.gate.Require()
	var id string
	if err == nil {
		id, err = fn(ctx, owner)
	}

	duration := s.clock.Now().Sub(start)
	span.End(err)
	s.metrics.Observe(ctx, op, err == nil, duration)
	if err != nil {
		s.logger.Error("tutordesk operation failed", "operation", op, "error", err)
	} else {
		s.logger.Debug("tutordesk operation completed", "operation", op, "duration", duration)
	}
	if collection != "" {
		s.recordAudit(ctx, op, collection, id, owner, duration, err)
	}
	return err
}

func (s *Service) recordAudit(ctx context.Context, op, collection, id, actor string, duration time.Duration, err error) {
	action, _, _ := strings.Cut(op, "_")
	entry := AuditEntry{
		Operation:  op,
		Collection: collection,
		Action:     action,
		EntityID:   id,
		Actor:      actor,
		Status:     AuditStatusSuccess,
		Duration:   duration,
		Timestamp:  s.clock.Now(),
	}
	if err != nil {
		entry.Status = AuditStatusError
		entry.Error = err.Error()
	}
	s.audit.Record(ctx, entry)
}
