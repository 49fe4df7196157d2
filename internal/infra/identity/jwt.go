// Package identity implements the identity provider with HS256 session tokens.
package identity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"tutordesk/pkg/domain"
)

// Claims carries the principal in a session token. Subject holds the UID.
type Claims struct {
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Config configures a TokenProvider.
type Config struct {
	Secret string
	Issuer string
	TTL    time.Duration
	Now    func() time.Time
}

// ErrInvalidToken reports a token that fails verification.
var ErrInvalidToken = errors.New("invalid session token")

// TokenProvider signs and verifies session tokens and tracks the signed-in
// principal of this process.
type TokenProvider struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time

	mu        sync.Mutex
	current   *domain.Principal
	expiry    *time.Timer
	nextObs   uint64
	observers map[uint64]func(*domain.Principal)
}

var _ domain.IdentityProvider = (*TokenProvider)(nil)

// NewTokenProvider validates cfg and constructs a provider.
func NewTokenProvider(cfg Config) (*TokenProvider, error) {
	if len(cfg.Secret) < 16 {
		return nil, errors.New("identity: secret must be at least 16 bytes")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 12 * time.Hour
	}
	if cfg.Issuer == "" {
		cfg.Issuer = "tutordesk"
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	return &TokenProvider{
		secret:    []byte(cfg.Secret),
		issuer:    cfg.Issuer,
		ttl:       cfg.TTL,
		now:       cfg.Now,
		observers: make(map[uint64]func(*domain.Principal)),
	}, nil
}

// Mint issues a token for p.
func (t *TokenProvider) Mint(p domain.Principal) (string, error) {
	if p.UID == "" {
		return "", errors.New("identity: principal uid is required")
	}
	now := t.now()
	claims := Claims{
		Email: p.Email,
		Name:  p.DisplayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.UID,
			Issuer:    t.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

// Verify parses token and returns its principal and expiry.
func (t *TokenProvider) Verify(token string) (*domain.Principal, time.Time, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(*jwt.Token) (any, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(t.issuer),
		jwt.WithTimeFunc(t.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return nil, time.Time{}, ErrInvalidToken
	}
	return &domain.Principal{UID: claims.Subject, Email: claims.Email, DisplayName: claims.Name}, claims.ExpiresAt.Time, nil
}

// SignIn verifies token and makes its principal the current one. Observers are
// notified, and the session ends on its own when the token expires.
func (t *TokenProvider) SignIn(_ context.Context, token string) (*domain.Principal, error) {
	p, expires, err := t.Verify(token)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	if t.expiry != nil {
		t.expiry.Stop()
	}
	t.current = p
	t.expiry = time.AfterFunc(expires.Sub(t.now()), func() { t.expire(p) })
	t.mu.Unlock()
	t.notify(p)
	cp := *p
	return &cp, nil
}

func (t *TokenProvider) expire(p *domain.Principal) {
	t.mu.Lock()
	if t.current != p {
		t.mu.Unlock()
		return
	}
	t.current = nil
	t.expiry = nil
	t.mu.Unlock()
	t.notify(nil)
}

// Current returns the signed-in principal, or nil.
func (t *TokenProvider) Current() *domain.Principal {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == nil {
		return nil
	}
	cp := *t.current
	return &cp
}

// ObserveAuthState delivers the current principal immediately and again on every change.
func (t *TokenProvider) ObserveAuthState(fn func(*domain.Principal)) domain.Subscription {
	t.mu.Lock()
	t.nextObs++
	id := t.nextObs
	t.observers[id] = fn
	current := t.current
	t.mu.Unlock()
	fn(copyPrincipal(current))

	var once sync.Once
	return domain.SubscriptionFunc(func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.observers, id)
			t.mu.Unlock()
		})
	})
}

// SignOut ends the session. Signing out while signed out is a no-op.
func (t *TokenProvider) SignOut(_ context.Context) error {
	t.mu.Lock()
	if t.current == nil {
		t.mu.Unlock()
		return nil
	}
	if t.expiry != nil {
		t.expiry.Stop()
		t.expiry = nil
	}
	t.current = nil
	t.mu.Unlock()
	t.notify(nil)
	return nil
}

func (t *TokenProvider) notify(p *domain.Principal) {
	t.mu.Lock()
	fns := make([]func(*domain.Principal), 0, len(t.observers))
	for _, fn := range t.observers {
		fns = append(fns, fn)
	}
	t.mu.Unlock()
	for _, fn := range fns {
		fn(copyPrincipal(p))
	}
}

func copyPrincipal(p *domain.Principal) *domain.Principal {
	if p == nil {
		return nil
	}
	cp := *p
	return &cp
}
