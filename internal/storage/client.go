package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Config contains object storage configuration
type Config struct {
	Endpoint string
	Bucket   string
	Owner    string
	APIKey   string
	Timeout  time.Duration
}

// Client uploads objects to a bucketed object store
type Client struct {
	config     Config
	httpClient *http.Client
}

// NewClient creates a new object storage client
func NewClient(config Config) (*Client, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}

	if config.Bucket == "" {
		return nil, fmt.Errorf("bucket cannot be empty")
	}

	if config.Owner == "" {
		return nil, fmt.Errorf("owner cannot be empty")
	}

	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}, nil
}

// Put uploads bytes under an owner-scoped path and returns the public URL.
// Existing objects at the same path are overwritten.
func (c *Client) Put(ctx context.Context, name string, data []byte, contentType string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("object name cannot be empty")
	}

	if len(data) == 0 {
		return "", fmt.Errorf("object data cannot be empty")
	}

	path := c.config.Owner + "/" + name
	endpoint := strings.TrimRight(c.config.Endpoint, "/")
	uploadURL := fmt.Sprintf("%s/object/%s/%s", endpoint, c.config.Bucket, path)

	req, err := http.NewRequestWithContext(ctx, "POST", uploadURL, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to create upload request: %w", err)
	}

	req.Header.Set("Content-Type", contentType)
	req.Header.Set("x-upsert", "true")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("storage upload failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("storage returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return fmt.Sprintf("%s/object/public/%s/%s", endpoint, c.config.Bucket, path), nil
}
