package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/chainvista/dlt-gateway/pkg/config"
	"github.com/chainvista/dlt-gateway/pkg/types"
)

// HTTPIdentityProvider refreshes tokens against the IAM upstream's refresh
// endpoint. It performs a single call per invocation; coordination of
// concurrent refreshes is the auth gate's responsibility.
type HTTPIdentityProvider struct {
	refreshURL string
	client     *http.Client
}

// NewHTTPIdentityProvider creates an identity provider client
func NewHTTPIdentityProvider(cfg *config.IdentityProviderConfig) *HTTPIdentityProvider {
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPIdentityProvider{
		refreshURL: cfg.RefreshURL,
		client:     &http.Client{Timeout: timeout},
	}
}

// Refresh exchanges an expired access token for a fresh credential pair
func (p *HTTPIdentityProvider) Refresh(ctx context.Context, expiredToken string) (*types.AuthToken, error) {
	if p.refreshURL == "" {
		return nil, fmt.Errorf("identity provider refresh URL not configured")
	}

	body, err := json.Marshal(map[string]string{"access_token": expiredToken})
	if err != nil {
		return nil, fmt.Errorf("failed to encode refresh request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.refreshURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("refresh request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("identity provider rejected refresh: status %d", resp.StatusCode)
	}

	var token types.AuthToken
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return nil, fmt.Errorf("failed to decode refresh response: %w", err)
	}
	if token.AccessToken == "" {
		return nil, fmt.Errorf("identity provider returned empty access token")
	}

	return &token, nil
}
