// Package session gates every remote read and write on an authenticated principal.
package session

import (
	"context"
	"sync"

	"tutordesk/internal/remote"
	"tutordesk/internal/state"
	"tutordesk/pkg/domain"
)

// Status is the authentication state of the process.
type Status string

const (
	StatusUnauthenticated Status = "unauthenticated"
	StatusAuthenticating  Status = "authenticating"
	StatusAuthenticated   Status = "authenticated"
)

// Logger is the subset of the service logger used by the gate.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any) {}
func (noopLogger) Warn(string, ...any) {}

// Option configures a Gate.
type Option func(*Gate)

// WithLogger sets the gate logger.
func WithLogger(l Logger) Option {
	return func(g *Gate) {
		if l != nil {
			g.logger = l
		}
	}
}

// Gate follows the identity provider. Entering the authenticated state starts
// every sync channel; leaving it stops them all and clears the store.
type Gate struct {
	provider domain.IdentityProvider
	syncer   *remote.Syncer
	store    *state.Store
	logger   Logger
	changes  state.Subject[Status]

	// transition serializes auth state handling.
	transition sync.Mutex

	mu        sync.RWMutex
	ctx       context.Context
	status    Status
	principal *domain.Principal
	sub       domain.Subscription
	// cancel ends the sync work of the session started for sessionUID.
	cancel     context.CancelFunc
	sessionUID string
}

// NewGate constructs a gate in the unauthenticated state.
func NewGate(provider domain.IdentityProvider, syncer *remote.Syncer, store *state.Store, opts ...Option) *Gate {
	g := &Gate{
		provider: provider,
		syncer:   syncer,
		store:    store,
		logger:   noopLogger{},
		status:   StatusUnauthenticated,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Start begins observing the identity provider. The gate is authenticating
// until the provider reports its first state. ctx bounds the sync work the
// gate starts and should live as long as the process.
func (g *Gate) Start(ctx context.Context) {
	g.mu.Lock()
	if g.sub != nil {
		g.mu.Unlock()
		return
	}
	g.ctx = ctx
	g.mu.Unlock()

	g.setStatus(StatusAuthenticating, nil)
	sub := g.provider.ObserveAuthState(g.handle)

	g.mu.Lock()
	g.sub = sub
	g.mu.Unlock()
}

// Close stops observing the provider and tears down any active session.
func (g *Gate) Close() {
	g.mu.Lock()
	sub := g.sub
	g.sub = nil
	g.mu.Unlock()
	if sub != nil {
		sub.Unsubscribe()
	}
	g.handle(nil)
}

// SignOut asks the provider to end the session. The teardown runs when the
// provider reports the change.
func (g *Gate) SignOut(ctx context.Context) error {
	return g.provider.SignOut(ctx)
}

// Status returns the current state.
func (g *Gate) Status() Status {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.status
}

// Principal returns the signed-in principal, or nil.
func (g *Gate) Principal() *domain.Principal {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.principal == nil {
		return nil
	}
	cp := *g.principal
	return &cp
}

// Require returns the owner key of the signed-in principal, or ErrAuthRequired.
func (g *Gate) Require() (string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.status != StatusAuthenticated || g.principal == nil {
		return "", domain.ErrAuthRequired
	}
	return g.principal.UID, nil
}

// Observe registers fn for status transitions.
func (g *Gate) Observe(fn func(Status)) domain.Subscription {
	return g.changes.Subscribe(fn)
}

func (g *Gate) handle(p *domain.Principal) {
	g.interrupt(p)
	g.transition.Lock()
	defer g.transition.Unlock()

	g.mu.RLock()
	prev := g.principal
	ctx := g.ctx
	g.mu.RUnlock()

	if p != nil && prev != nil && prev.UID == p.UID {
		g.setStatus(StatusAuthenticated, p)
		return
	}
	if prev != nil {
		// Leave the authenticated state first so no write lands in the
		// store after it is cleared.
		next := StatusUnauthenticated
		if p != nil {
			next = StatusAuthenticating
		}
		g.setStatus(next, nil)
		g.syncer.StopAll()
		g.store.Clear()
		g.logger.Info("session ended", "uid", prev.UID)
	}
	if p == nil {
		g.setStatus(StatusUnauthenticated, nil)
		return
	}

	if ctx == nil {
		ctx = context.Background()
	}
	sessionCtx, cancel := context.WithCancel(ctx)
	g.mu.Lock()
	if g.cancel != nil {
		g.cancel()
	}
	g.cancel, g.sessionUID = cancel, p.UID
	g.mu.Unlock()

	g.setStatus(StatusAuthenticated, p)
	g.logger.Info("session started", "uid", p.UID)
	if err := g.syncer.StartAll(sessionCtx, p.UID, g.store.Period()); err != nil {
		g.logger.Warn("initial sync incomplete", "uid", p.UID, "error", err)
	}
}

// interrupt cancels the running session's sync work unless p continues it.
// It runs before the transition lock so a hung fetch cannot hold up sign-out.
func (g *Gate) interrupt(p *domain.Principal) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cancel == nil || (p != nil && p.UID == g.sessionUID) {
		return
	}
	g.cancel()
	g.cancel, g.sessionUID = nil, ""
}

func (g *Gate) setStatus(s Status, p *domain.Principal) {
	g.mu.Lock()
	changed := g.status != s
	g.status = s
	if p != nil {
		cp := *p
		g.principal = &cp
	} else {
		g.principal = nil
	}
	g.mu.Unlock()
	if changed {
		g.changes.Publish(s)
	}
}
