package main

import (
	"context"
	"fmt"
	"strings"
)

// SmartLink authentication collaborator. The OAuth token endpoints are
// external; the engine only requires a provider that can produce a valid
// bearer token on demand.

// TokenProvider produces bearer tokens for broker registration.
type TokenProvider interface {
	// EnsureValidToken returns a currently valid bearer token, acquiring
	// or refreshing one if necessary.
	EnsureValidToken(ctx context.Context) (string, error)

	// RefreshIfNeeded refreshes a token that is near expiry and returns
	// the (possibly unchanged) bearer.
	RefreshIfNeeded(ctx context.Context) (string, error)
}

// StaticTokenProvider serves a fixed bearer token from configuration.
type StaticTokenProvider struct {
	Token string
}

func (p *StaticTokenProvider) EnsureValidToken(ctx context.Context) (string, error) {
	if strings.TrimSpace(p.Token) == "" {
		return "", fmt.Errorf("%w: no SmartLink token configured", ErrAuth)
	}
	return p.Token, nil
}

func (p *StaticTokenProvider) RefreshIfNeeded(ctx context.Context) (string, error) {
	return p.EnsureValidToken(ctx)
}

// StoredTokenProvider reads the bearer token from a credential store under
// the SmartLink key. Refresh against the OAuth endpoint is the host
// application's job; the engine re-reads the store so an externally
// refreshed token is picked up.
type StoredTokenProvider struct {
	Store CredentialStore
	Scope CredentialScope
}

const smartlinkTokenKey = "smartlink.bearer"

func (p *StoredTokenProvider) EnsureValidToken(ctx context.Context) (string, error) {
	token, err := p.Store.Get(smartlinkTokenKey, p.Scope)
	if err != nil {
		return "", fmt.Errorf("%w: no stored SmartLink token: %v", ErrAuth, err)
	}
	if token == "" {
		return "", fmt.Errorf("%w: stored SmartLink token is empty", ErrAuth)
	}
	return token, nil
}

func (p *StoredTokenProvider) RefreshIfNeeded(ctx context.Context) (string, error) {
	return p.EnsureValidToken(ctx)
}
