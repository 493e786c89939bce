package streaming

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Token is a short-lived bearer credential for the streaming connection
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// TokenProvider issues ephemeral streaming tokens
type TokenProvider interface {
	Fetch(ctx context.Context) (Token, error)
}

// TokenConfig contains token endpoint configuration
type TokenConfig struct {
	Endpoint     string
	APIKey       string
	Lifetime     time.Duration
	FetchTimeout time.Duration
}

// HTTPTokenProvider fetches tokens from the token-issuing endpoint
type HTTPTokenProvider struct {
	config     TokenConfig
	httpClient *http.Client
}

// NewHTTPTokenProvider creates a token provider for the given endpoint
func NewHTTPTokenProvider(config TokenConfig) (*HTTPTokenProvider, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}

	if config.APIKey == "" {
		return nil, fmt.Errorf("API key cannot be empty")
	}

	if config.Lifetime <= 0 {
		config.Lifetime = 600 * time.Second
	}

	if config.FetchTimeout <= 0 {
		config.FetchTimeout = 8 * time.Second
	}

	return &HTTPTokenProvider{
		config: config,
		httpClient: &http.Client{
			Timeout: config.FetchTimeout,
		},
	}, nil
}

// Fetch requests a fresh token. The call is bounded by the configured
// fetch timeout regardless of the caller's context.
func (p *HTTPTokenProvider) Fetch(ctx context.Context) (Token, error) {
	ctx, cancel := context.WithTimeout(ctx, p.config.FetchTimeout)
	defer cancel()

	endpoint, err := url.Parse(p.config.Endpoint)
	if err != nil {
		return Token{}, fmt.Errorf("invalid token endpoint: %w", err)
	}

	query := endpoint.Query()
	query.Set("expires_in_seconds", strconv.Itoa(int(p.config.Lifetime.Seconds())))
	endpoint.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, "GET", endpoint.String(), nil)
	if err != nil {
		return Token{}, fmt.Errorf("failed to create token request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+p.config.APIKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return Token{}, fmt.Errorf("token fetch failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Token{}, fmt.Errorf("failed to read token response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Token{}, fmt.Errorf("token endpoint returned HTTP %d: %s", resp.StatusCode, string(body))
	}

	var payload struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return Token{}, fmt.Errorf("failed to parse token response: %w", err)
	}

	if payload.Token == "" {
		return Token{}, fmt.Errorf("token endpoint returned an empty token")
	}

	return Token{
		Value:     payload.Token,
		ExpiresAt: time.Now().Add(p.config.Lifetime),
	}, nil
}
