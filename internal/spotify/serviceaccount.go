package spotify

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/oauth2"
)

// ServiceAccount is a system-level Spotify credential with its own refresh
// lifecycle, used for fallback lookups that are not tied to any end user.
type ServiceAccount struct {
	clientID     string
	clientSecret string

	mu           sync.Mutex
	refreshToken string
	client       *Client
}

// NewServiceAccount creates a service account from client credentials and a
// long-lived refresh token.
func NewServiceAccount(clientID, clientSecret, refreshToken string) *ServiceAccount {
	return &ServiceAccount{
		clientID:     clientID,
		clientSecret: clientSecret,
		refreshToken: refreshToken,
	}
}

// Client returns an authenticated client, minting an access token on first
// use. Concurrent enrichment workers share the same client.
func (s *ServiceAccount) Client(ctx context.Context) (*Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		return s.client, nil
	}
	return s.refreshLocked(ctx)
}

// Refresh discards the current access token and mints a new one. Called at
// most once per failed request, mirroring the per-user refresh policy.
func (s *ServiceAccount) Refresh(ctx context.Context) (*Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshLocked(ctx)
}

func (s *ServiceAccount) refreshLocked(ctx context.Context) (*Client, error) {
	token, err := RefreshToken(ctx, s.clientID, s.clientSecret, s.refreshToken)
	if err != nil {
		return nil, fmt.Errorf("refreshing service credential: %w", err)
	}
	s.refreshToken = token.RefreshToken
	s.client = New(ctx, &oauth2.Token{
		AccessToken: token.AccessToken,
		TokenType:   token.TokenType,
		Expiry:      token.Expiry,
	})
	return s.client, nil
}
