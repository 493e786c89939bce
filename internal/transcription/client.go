package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"time"
)

// Config contains batch transcription client configuration
type Config struct {
	Endpoint      string
	APIKey        string
	Language      string
	SpeakerLabels bool
	UploadTimeout time.Duration
	UploadRetries int
	PollInterval  time.Duration
	PollTimeout   time.Duration
}

// Client provides HTTP client functionality for the batch transcription API
type Client struct {
	config     Config
	httpClient *http.Client
	logger     *slog.Logger
}

// Result is a completed batch transcription
type Result struct {
	Text       string      `json:"text"`
	Utterances []Utterance `json:"utterances,omitempty"`
}

// Utterance is one speaker-labeled segment
type Utterance struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
	Start   int    `json:"start"`
	End     int    `json:"end"`
}

// NewClient creates a new batch transcription client
func NewClient(config Config, logger *slog.Logger) (*Client, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}

	if config.APIKey == "" {
		return nil, fmt.Errorf("API key cannot be empty")
	}

	if config.Language == "" {
		config.Language = "es"
	}

	if config.UploadTimeout <= 0 {
		config.UploadTimeout = 60 * time.Second
	}

	if config.UploadRetries < 0 {
		config.UploadRetries = 2
	}

	if config.PollInterval <= 0 {
		config.PollInterval = 3 * time.Second
	}

	if config.PollTimeout <= 0 {
		config.PollTimeout = 5 * time.Minute
	}

	return &Client{
		config: config,
		httpClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger: logger,
	}, nil
}

// Upload sends raw audio bytes to the transcription service and returns the
// service-side reference URL. Retries with exponential backoff.
func (c *Client) Upload(ctx context.Context, audio []byte) (string, error) {
	if len(audio) == 0 {
		return "", fmt.Errorf("audio cannot be empty")
	}

	var lastErr error

	for attempt := 0; attempt <= c.config.UploadRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * time.Second

			c.logger.Warn("Retrying audio upload",
				slog.Int("attempt", attempt+1),
				slog.Int("max_attempts", c.config.UploadRetries+1),
				slog.Duration("backoff", backoff),
			)

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		uploadURL, err := c.doUpload(ctx, audio)
		if err == nil {
			return uploadURL, nil
		}
		lastErr = err
	}

	return "", fmt.Errorf("upload failed after %d attempts: %w", c.config.UploadRetries+1, lastErr)
}

func (c *Client) doUpload(ctx context.Context, audio []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.UploadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "POST", c.config.Endpoint+"/upload", bytes.NewReader(audio))
	if err != nil {
		return "", fmt.Errorf("failed to create upload request: %w", err)
	}

	req.Header.Set("Authorization", c.config.APIKey)
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read upload response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("upload returned HTTP %d: %s", resp.StatusCode, string(body))
	}

	var payload struct {
		UploadURL string `json:"upload_url"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("failed to parse upload response: %w", err)
	}

	if payload.UploadURL == "" {
		return "", fmt.Errorf("upload response carried no URL")
	}

	return payload.UploadURL, nil
}

// Transcribe submits an uploaded audio reference and polls at a fixed
// interval until the job reaches a terminal state or the wall-clock timeout
// elapses.
func (c *Client) Transcribe(ctx context.Context, audioURL string) (*Result, error) {
	jobID, err := c.submit(ctx, audioURL)
	if err != nil {
		return nil, err
	}

	c.logger.Info("Batch transcription submitted",
		slog.String("job_id", jobID),
	)

	deadline := time.Now().Add(c.config.PollTimeout)

	for time.Now().Before(deadline) {
		result, done, err := c.poll(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if done {
			return result, nil
		}

		select {
		case <-time.After(c.config.PollInterval):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("transcription timed out after %s", c.config.PollTimeout)
}

func (c *Client) submit(ctx context.Context, audioURL string) (string, error) {
	payload := map[string]any{
		"audio_url":      audioURL,
		"language_code":  c.config.Language,
		"speaker_labels": c.config.SpeakerLabels,
	}
	body, _ := json.Marshal(payload)

	req, err := http.NewRequestWithContext(ctx, "POST", c.config.Endpoint+"/transcript", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create submit request: %w", err)
	}

	req.Header.Set("Authorization", c.config.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("submit request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read submit response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("submit returned HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("failed to parse submit response: %w", err)
	}

	if parsed.ID == "" {
		return "", fmt.Errorf("submit response carried no job id")
	}

	return parsed.ID, nil
}

func (c *Client) poll(ctx context.Context, jobID string) (*Result, bool, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.config.Endpoint+"/transcript/"+jobID, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create poll request: %w", err)
	}

	req.Header.Set("Authorization", c.config.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("poll request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read poll response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, false, fmt.Errorf("poll returned HTTP %d: %s", resp.StatusCode, string(body))
	}

	var parsed struct {
		Status     string      `json:"status"`
		Text       string      `json:"text"`
		Error      string      `json:"error"`
		Utterances []Utterance `json:"utterances"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, false, fmt.Errorf("failed to parse poll response: %w", err)
	}

	switch parsed.Status {
	case "completed":
		if parsed.Text == "" {
			return nil, false, fmt.Errorf("transcription completed with empty text")
		}
		return &Result{Text: parsed.Text, Utterances: parsed.Utterances}, true, nil

	case "error":
		if parsed.Error == "" {
			parsed.Error = "unknown transcription error"
		}
		return nil, false, fmt.Errorf("transcription failed: %s", parsed.Error)

	default:
		// queued or processing
		return nil, false, nil
	}
}
