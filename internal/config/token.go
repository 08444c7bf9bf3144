package config

import "context"

// StaticTokenProvider serves a single, never-expiring token — the
// collector only ever runs against a personal access token, never an
// OAuth flow with refresh, so this is deliberately simpler than a
// general-purpose credentials store.
type StaticTokenProvider struct {
	token string
}

// NewStaticTokenProvider wraps a token string as a token provider.
func NewStaticTokenProvider(token string) *StaticTokenProvider {
	return &StaticTokenProvider{token: token}
}

// GetToken returns the wrapped token.
func (p *StaticTokenProvider) GetToken(_ context.Context) (string, error) {
	if p.token == "" {
		return "", ErrMissingToken
	}
	return p.token, nil
}
