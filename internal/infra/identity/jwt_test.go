package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"tutordesk/pkg/domain"
)

const testSecret = "0123456789abcdef-test-secret"

func TestMintVerifyRoundTrip(t *testing.T) {
	p, err := NewTokenProvider(Config{Secret: testSecret, TTL: time.Hour})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	token, err := p.Mint(domain.Principal{UID: "u1", Email: "t@example.com", DisplayName: "Tutor"})
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	got, expires, err := p.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if got.UID != "u1" || got.Email != "t@example.com" || got.DisplayName != "Tutor" {
		t.Fatalf("unexpected principal %+v", got)
	}
	if time.Until(expires) <= 0 {
		t.Fatalf("expiry should be in the future")
	}
}

func TestVerifyRejectsForeignAndExpiredTokens(t *testing.T) {
	p, _ := NewTokenProvider(Config{Secret: testSecret})
	other, _ := NewTokenProvider(Config{Secret: "another-secret-of-length"})
	token, _ := other.Mint(domain.Principal{UID: "u1"})
	if _, _, err := p.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected invalid token for wrong secret, got %v", err)
	}

	past := time.Now().Add(-48 * time.Hour)
	stale, _ := NewTokenProvider(Config{Secret: testSecret, TTL: time.Hour, Now: func() time.Time { return past }})
	expired, _ := stale.Mint(domain.Principal{UID: "u1"})
	if _, _, err := p.Verify(expired); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected invalid token for expired session, got %v", err)
	}
	if _, _, err := p.Verify("not-a-token"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected invalid token, got %v", err)
	}
}

func TestNewTokenProviderRequiresSecret(t *testing.T) {
	if _, err := NewTokenProvider(Config{Secret: "short"}); err == nil {
		t.Fatalf("expected error for short secret")
	}
}

func TestObserveAuthStateLifecycle(t *testing.T) {
	ctx := context.Background()
	p, _ := NewTokenProvider(Config{Secret: testSecret})
	var states []*domain.Principal
	sub := p.ObserveAuthState(func(pr *domain.Principal) { states = append(states, pr) })
	if len(states) != 1 || states[0] != nil {
		t.Fatalf("expected immediate signed-out delivery, got %+v", states)
	}
	token, _ := p.Mint(domain.Principal{UID: "u1"})
	if _, err := p.SignIn(ctx, token); err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if len(states) != 2 || states[1] == nil || states[1].UID != "u1" {
		t.Fatalf("expected signed-in delivery, got %+v", states)
	}
	if p.Current() == nil {
		t.Fatalf("expected current principal")
	}
	if err := p.SignOut(ctx); err != nil {
		t.Fatalf("sign out: %v", err)
	}
	if err := p.SignOut(ctx); err != nil {
		t.Fatalf("second sign out: %v", err)
	}
	if len(states) != 3 || states[2] != nil {
		t.Fatalf("expected a single signed-out delivery, got %+v", states)
	}
	sub.Unsubscribe()
	_, _ = p.SignIn(ctx, token)
	if len(states) != 3 {
		t.Fatalf("unsubscribed observer still notified")
	}
}

func TestSessionExpiresOnItsOwn(t *testing.T) {
	p, _ := NewTokenProvider(Config{Secret: testSecret, TTL: 1100 * time.Millisecond})
	lost := make(chan struct{}, 1)
	p.ObserveAuthState(func(pr *domain.Principal) {
		if pr == nil && p.Current() == nil {
			select {
			case lost <- struct{}{}:
			default:
			}
		}
	})
	<-lost // initial signed-out delivery
	token, _ := p.Mint(domain.Principal{UID: "u1"})
	if _, err := p.SignIn(context.Background(), token); err != nil {
		t.Fatalf("sign in: %v", err)
	}
	select {
	case <-lost:
	case <-time.After(5 * time.Second):
		t.Fatalf("session did not expire")
	}
}
