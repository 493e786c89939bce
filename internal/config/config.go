package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Capture   CaptureConfig   `yaml:"capture"`
	Streaming StreamingConfig `yaml:"streaming"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Summary   SummaryConfig   `yaml:"summary"`
	Storage   StorageConfig   `yaml:"storage"`
	Persist   PersistConfig   `yaml:"persistence"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// CaptureConfig contains recording and device-resilience parameters
type CaptureConfig struct {
	Source              string `yaml:"source"`                // raw s16le PCM stream path (FIFO)
	SampleRate          int    `yaml:"sample_rate"`
	MaxDurationSeconds  int    `yaml:"max_duration"`          // recording ceiling, seconds
	BackupInterval      int    `yaml:"backup_interval"`       // seconds between automatic backups
	HealthCheckInterval int    `yaml:"health_check_interval"` // seconds between device checks
	MaxRetryAttempts    int    `yaml:"max_retry_attempts"`    // device recovery ceiling
}

// StreamingConfig contains realtime transcription session parameters
type StreamingConfig struct {
	URL                  string   `yaml:"url"`
	TokenURL             string   `yaml:"token_url"`
	TokenLifetimeSeconds int      `yaml:"token_lifetime"`      // requested token lifetime
	TokenRefreshSeconds  int      `yaml:"token_refresh"`       // proactive refresh point, < lifetime
	TokenFetchTimeout    int      `yaml:"token_fetch_timeout"` // seconds
	ConnectTimeout       int      `yaml:"connect_timeout"`     // seconds
	SendInterval         int      `yaml:"send_interval_ms"`    // outbound buffer drain period
	MaxMessageBytes      int      `yaml:"max_message_bytes"`   // per-message wire ceiling
	ReplayBytes          int      `yaml:"replay_bytes"`        // audio tail replayed after reconnect
	MaxReconnectAttempts int      `yaml:"max_reconnect_attempts"`
	ReconnectDelay       int      `yaml:"reconnect_delay"`  // seconds
	StabilityWindow      int      `yaml:"stability_window"` // seconds active before attempt counter resets
	SpeechModel          string   `yaml:"speech_model"`
	Keyterms             []string `yaml:"keyterms"` // empty = built-in medical vocabulary
	APIKey               string   `yaml:"-"`        // from ASSEMBLYAI_API_KEY
}

// PipelineConfig contains batch transcription pipeline parameters
type PipelineConfig struct {
	Endpoint      string `yaml:"endpoint"`
	Language      string `yaml:"language"`
	SpeakerLabels bool   `yaml:"speaker_labels"`
	UploadTimeout int    `yaml:"upload_timeout"` // seconds, per attempt
	UploadRetries int    `yaml:"upload_retries"` // retries after the first attempt
	PollInterval  int    `yaml:"poll_interval"`  // seconds
	PollTimeout   int    `yaml:"poll_timeout"`   // wall-clock cap, seconds
	APIKey        string `yaml:"-"`              // from ASSEMBLYAI_API_KEY
}

// SummaryConfig contains summarization service parameters
type SummaryConfig struct {
	Endpoint string `yaml:"endpoint"`
	Model    string `yaml:"model"`
	Timeout  int    `yaml:"timeout"` // seconds
	APIKey   string `yaml:"-"`       // from OPENAI_API_KEY
}

// StorageConfig contains durable object storage parameters
type StorageConfig struct {
	Endpoint string `yaml:"endpoint"`
	Bucket   string `yaml:"bucket"`
	Owner    string `yaml:"owner"` // owner scope for object paths
	Timeout  int    `yaml:"timeout"`
	APIKey   string `yaml:"-"` // from STORAGE_API_KEY
}

// PersistConfig contains the persistence collaborator endpoint
type PersistConfig struct {
	Endpoint string `yaml:"endpoint"`
	Timeout  int    `yaml:"timeout"`
	APIKey   string `yaml:"-"` // from PERSIST_API_KEY
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads and parses the configuration file, then overlays secrets from
// the environment. API keys never live in the YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	config.Streaming.APIKey = os.Getenv("ASSEMBLYAI_API_KEY")
	config.Pipeline.APIKey = os.Getenv("ASSEMBLYAI_API_KEY")
	config.Summary.APIKey = os.Getenv("OPENAI_API_KEY")
	config.Storage.APIKey = os.Getenv("STORAGE_API_KEY")
	config.Persist.APIKey = os.Getenv("PERSIST_API_KEY")

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Capture.Validate(); err != nil {
		return fmt.Errorf("capture config: %w", err)
	}

	if err := c.Streaming.Validate(); err != nil {
		return fmt.Errorf("streaming config: %w", err)
	}

	if err := c.Pipeline.Validate(); err != nil {
		return fmt.Errorf("pipeline config: %w", err)
	}

	if err := c.Summary.Validate(); err != nil {
		return fmt.Errorf("summary config: %w", err)
	}

	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage config: %w", err)
	}

	if err := c.Persist.Validate(); err != nil {
		return fmt.Errorf("persistence config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates capture configuration
func (c *CaptureConfig) Validate() error {
	if c.Source == "" {
		return fmt.Errorf("source cannot be empty")
	}

	if c.SampleRate != 16000 {
		return fmt.Errorf("sample_rate must be 16000 Hz for the streaming protocol, got %d", c.SampleRate)
	}

	if c.MaxDurationSeconds < 1 {
		return fmt.Errorf("max_duration must be at least 1 second, got %d", c.MaxDurationSeconds)
	}

	if c.BackupInterval < 1 {
		return fmt.Errorf("backup_interval must be at least 1 second, got %d", c.BackupInterval)
	}

	if c.HealthCheckInterval < 1 {
		return fmt.Errorf("health_check_interval must be at least 1 second, got %d", c.HealthCheckInterval)
	}

	if c.MaxRetryAttempts < 0 {
		return fmt.Errorf("max_retry_attempts cannot be negative, got %d", c.MaxRetryAttempts)
	}

	return nil
}

// Validate validates streaming configuration
func (s *StreamingConfig) Validate() error {
	if s.URL == "" {
		return fmt.Errorf("url cannot be empty")
	}

	if s.TokenURL == "" {
		return fmt.Errorf("token_url cannot be empty")
	}

	if s.TokenLifetimeSeconds < 60 {
		return fmt.Errorf("token_lifetime must be at least 60 seconds, got %d", s.TokenLifetimeSeconds)
	}

	if s.TokenRefreshSeconds < 1 || s.TokenRefreshSeconds >= s.TokenLifetimeSeconds {
		return fmt.Errorf("token_refresh (%d) must be positive and below token_lifetime (%d)",
			s.TokenRefreshSeconds, s.TokenLifetimeSeconds)
	}

	if s.TokenFetchTimeout < 1 {
		return fmt.Errorf("token_fetch_timeout must be at least 1 second, got %d", s.TokenFetchTimeout)
	}

	if s.ConnectTimeout < 1 {
		return fmt.Errorf("connect_timeout must be at least 1 second, got %d", s.ConnectTimeout)
	}

	if s.SendInterval < 10 {
		return fmt.Errorf("send_interval_ms must be at least 10 ms, got %d", s.SendInterval)
	}

	// The wire protocol accepts 50-1000 ms of 16 kHz 16-bit mono per message.
	if s.MaxMessageBytes < 1600 || s.MaxMessageBytes > 32000 {
		return fmt.Errorf("max_message_bytes must be between 1600 and 32000, got %d", s.MaxMessageBytes)
	}

	if s.ReplayBytes < 0 || s.ReplayBytes > s.MaxMessageBytes {
		return fmt.Errorf("replay_bytes must be between 0 and max_message_bytes (%d), got %d",
			s.MaxMessageBytes, s.ReplayBytes)
	}

	if s.MaxReconnectAttempts < 1 {
		return fmt.Errorf("max_reconnect_attempts must be at least 1, got %d", s.MaxReconnectAttempts)
	}

	if s.ReconnectDelay < 1 {
		return fmt.Errorf("reconnect_delay must be at least 1 second, got %d", s.ReconnectDelay)
	}

	if s.StabilityWindow < 1 {
		return fmt.Errorf("stability_window must be at least 1 second, got %d", s.StabilityWindow)
	}

	if len(s.Keyterms) > 100 {
		return fmt.Errorf("keyterms cannot exceed 100 entries, got %d", len(s.Keyterms))
	}

	for _, term := range s.Keyterms {
		if len(term) > 50 {
			return fmt.Errorf("keyterm %q exceeds 50 characters", term)
		}
	}

	return nil
}

// Validate validates pipeline configuration
func (p *PipelineConfig) Validate() error {
	if p.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}

	if p.Language == "" {
		return fmt.Errorf("language cannot be empty")
	}

	if p.UploadTimeout < 1 {
		return fmt.Errorf("upload_timeout must be at least 1 second, got %d", p.UploadTimeout)
	}

	if p.UploadRetries < 0 {
		return fmt.Errorf("upload_retries cannot be negative, got %d", p.UploadRetries)
	}

	if p.PollInterval < 1 {
		return fmt.Errorf("poll_interval must be at least 1 second, got %d", p.PollInterval)
	}

	if p.PollTimeout <= p.PollInterval {
		return fmt.Errorf("poll_timeout (%d) must be greater than poll_interval (%d)",
			p.PollTimeout, p.PollInterval)
	}

	return nil
}

// Validate validates summary configuration
func (s *SummaryConfig) Validate() error {
	if s.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}

	if s.Model == "" {
		return fmt.Errorf("model cannot be empty")
	}

	if s.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", s.Timeout)
	}

	return nil
}

// Validate validates storage configuration
func (s *StorageConfig) Validate() error {
	if s.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}

	if s.Bucket == "" {
		return fmt.Errorf("bucket cannot be empty")
	}

	if s.Owner == "" {
		return fmt.Errorf("owner cannot be empty")
	}

	if s.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", s.Timeout)
	}

	return nil
}

// Validate validates persistence configuration
func (p *PersistConfig) Validate() error {
	if p.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}

	if p.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", p.Timeout)
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// GetMaxDuration returns the recording ceiling as a time.Duration
func (c *CaptureConfig) GetMaxDuration() time.Duration {
	return time.Duration(c.MaxDurationSeconds) * time.Second
}

// GetBackupInterval returns the backup cadence as a time.Duration
func (c *CaptureConfig) GetBackupInterval() time.Duration {
	return time.Duration(c.BackupInterval) * time.Second
}

// GetHealthCheckInterval returns the device check cadence as a time.Duration
func (c *CaptureConfig) GetHealthCheckInterval() time.Duration {
	return time.Duration(c.HealthCheckInterval) * time.Second
}

// GetTokenLifetime returns the requested token lifetime as a time.Duration
func (s *StreamingConfig) GetTokenLifetime() time.Duration {
	return time.Duration(s.TokenLifetimeSeconds) * time.Second
}

// GetTokenFetchTimeout returns the token fetch bound as a time.Duration
func (s *StreamingConfig) GetTokenFetchTimeout() time.Duration {
	return time.Duration(s.TokenFetchTimeout) * time.Second
}

// GetConnectTimeout returns the connect bound as a time.Duration
func (s *StreamingConfig) GetConnectTimeout() time.Duration {
	return time.Duration(s.ConnectTimeout) * time.Second
}

// GetSendInterval returns the outbound drain period as a time.Duration
func (s *StreamingConfig) GetSendInterval() time.Duration {
	return time.Duration(s.SendInterval) * time.Millisecond
}

// GetTokenRefresh returns the proactive refresh point as a time.Duration
func (s *StreamingConfig) GetTokenRefresh() time.Duration {
	return time.Duration(s.TokenRefreshSeconds) * time.Second
}

// GetReconnectDelay returns the reconnect backoff as a time.Duration
func (s *StreamingConfig) GetReconnectDelay() time.Duration {
	return time.Duration(s.ReconnectDelay) * time.Second
}

// GetStabilityWindow returns the counter-reset window as a time.Duration
func (s *StreamingConfig) GetStabilityWindow() time.Duration {
	return time.Duration(s.StabilityWindow) * time.Second
}

// GetUploadTimeout returns the per-attempt upload bound as a time.Duration
func (p *PipelineConfig) GetUploadTimeout() time.Duration {
	return time.Duration(p.UploadTimeout) * time.Second
}

// GetPollInterval returns the poll cadence as a time.Duration
func (p *PipelineConfig) GetPollInterval() time.Duration {
	return time.Duration(p.PollInterval) * time.Second
}

// GetPollTimeout returns the wall-clock poll cap as a time.Duration
func (p *PipelineConfig) GetPollTimeout() time.Duration {
	return time.Duration(p.PollTimeout) * time.Second
}

// GetTimeout returns the summarization request bound as a time.Duration
func (s *SummaryConfig) GetTimeout() time.Duration {
	return time.Duration(s.Timeout) * time.Second
}

// GetTimeout returns the storage request bound as a time.Duration
func (s *StorageConfig) GetTimeout() time.Duration {
	return time.Duration(s.Timeout) * time.Second
}

// GetTimeout returns the persistence request bound as a time.Duration
func (p *PersistConfig) GetTimeout() time.Duration {
	return time.Duration(p.Timeout) * time.Second
}
