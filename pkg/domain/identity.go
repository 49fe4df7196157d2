package domain

import "context"

// Principal is the authenticated owner. UID is the owner key carried on every record.
type Principal struct {
	UID         string `json:"uid"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
}

// IdentityProvider is the hosted sign-in service. ObserveAuthState delivers the current
// principal (nil when signed out) immediately and again on every change.
type IdentityProvider interface {
	ObserveAuthState(fn func(*Principal)) Subscription
	SignOut(ctx context.Context) error
}
