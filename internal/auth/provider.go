// Package auth is the identity provider the session manager depends on:
// credential-based session issuance plus a session-change notification.
package auth

import "context"

// Identity is an authenticated principal. The id is stable across logins
// and is the key of the corresponding profile document.
type Identity struct {
	ID     string
	Handle string
}

// Provider is the auth collaborator contract.
type Provider interface {
	// CreateIdentity registers a new identity and signs it in.
	CreateIdentity(ctx context.Context, handle, secret string) (Identity, error)
	// Authenticate verifies a credential and signs the identity in.
	Authenticate(ctx context.Context, handle, secret string) (Identity, error)
	// SignOut clears the persisted credential.
	SignOut(ctx context.Context) error
	// Current returns the signed-in identity, or (nil, nil) when signed out.
	// An expired persisted credential is an unauthenticated error.
	Current(ctx context.Context) (*Identity, error)
	// OnIdentityChange registers a handler invoked once immediately with
	// the current identity and again after every sign-in or sign-out.
	OnIdentityChange(handler func(*Identity)) func()
}
