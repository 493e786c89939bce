package consultation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Store persists consultation records
type Store interface {
	Create(ctx context.Context, rec Record) (string, error)
}

// StoreConfig contains persistence collaborator configuration
type StoreConfig struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
}

// HTTPStore talks to the external persistence collaborator over HTTP
type HTTPStore struct {
	config     StoreConfig
	httpClient *http.Client
}

// NewHTTPStore creates a persistence client
func NewHTTPStore(config StoreConfig) (*HTTPStore, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}

	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	return &HTTPStore{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}, nil
}

// Create persists a record and returns its identifier. The caller assigns
// the id; the collaborator may echo it back or return its own.
func (s *HTTPStore) Create(ctx context.Context, rec Record) (string, error) {
	body, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("failed to encode record: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if s.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.config.APIKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("persistence request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read persistence response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("persistence returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var payload struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(respBody, &payload); err == nil && payload.ID != "" {
		return payload.ID, nil
	}

	return rec.ID, nil
}

// Get fetches a single record by id
func (s *HTTPStore) Get(ctx context.Context, id string) (Record, error) {
	var rec Record
	if id == "" {
		return rec, fmt.Errorf("id cannot be empty")
	}

	if err := s.getJSON(ctx, s.config.Endpoint+"/"+url.PathEscape(id), &rec); err != nil {
		return rec, err
	}

	return rec, nil
}

// List fetches all records belonging to an owner
func (s *HTTPStore) List(ctx context.Context, owner string) ([]Record, error) {
	if owner == "" {
		return nil, fmt.Errorf("owner cannot be empty")
	}

	var recs []Record
	if err := s.getJSON(ctx, s.config.Endpoint+"?owner="+url.QueryEscape(owner), &recs); err != nil {
		return nil, err
	}

	return recs, nil
}

func (s *HTTPStore) getJSON(ctx context.Context, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if s.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.config.APIKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("persistence request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read persistence response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("persistence returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to decode persistence response: %w", err)
	}

	return nil
}
