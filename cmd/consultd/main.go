package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/FelipeSuaya/consult-summary-gen/internal/capture"
	"github.com/FelipeSuaya/consult-summary-gen/internal/config"
	"github.com/FelipeSuaya/consult-summary-gen/internal/consultation"
	"github.com/FelipeSuaya/consult-summary-gen/internal/metrics"
	"github.com/FelipeSuaya/consult-summary-gen/internal/queue"
	"github.com/FelipeSuaya/consult-summary-gen/internal/server"
	"github.com/FelipeSuaya/consult-summary-gen/internal/storage"
	"github.com/FelipeSuaya/consult-summary-gen/internal/streaming"
	"github.com/FelipeSuaya/consult-summary-gen/internal/summary"
	"github.com/FelipeSuaya/consult-summary-gen/internal/transcription"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "consult-summary-gen"
	serviceVersion    = "1.0.0"
)

// transcriptState holds the latest live transcript so the HTTP API can
// report it without reaching into the streaming session.
type transcriptState struct {
	mu          sync.Mutex
	accumulated string
	pending     string
}

func (t *transcriptState) apply(u streaming.Update) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.accumulated = u.Accumulated
	t.pending = u.Pending
}

func (t *transcriptState) current() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.accumulated == "" {
		return t.pending
	}
	if t.pending == "" {
		return t.accumulated
	}
	return t.accumulated + " " + t.pending
}

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load .env secrets before the config overlay reads the environment.
	// Missing file is fine; deployments inject real environment variables.
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger based on configuration
	logger := initLogger(cfg.Logging)

	// Log service startup
	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	// Log configuration summary (without sensitive data)
	logger.Info("Configuration loaded",
		slog.String("audio_source", cfg.Capture.Source),
		slog.Int("sample_rate", cfg.Capture.SampleRate),
		slog.Duration("max_recording", cfg.Capture.GetMaxDuration()),
		slog.String("streaming_url", cfg.Streaming.URL),
		slog.String("speech_model", cfg.Streaming.SpeechModel),
		slog.String("pipeline_endpoint", cfg.Pipeline.Endpoint),
		slog.String("summary_model", cfg.Summary.Model),
		slog.String("log_level", cfg.Logging.Level),
	)

	// Create cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Prometheus metrics
	appMetrics := metrics.NewMetrics()
	logger.Info("Prometheus metrics initialized")

	// Token provider for the realtime streaming connection
	tokenProvider, err := streaming.NewHTTPTokenProvider(streaming.TokenConfig{
		Endpoint:     cfg.Streaming.TokenURL,
		APIKey:       cfg.Streaming.APIKey,
		Lifetime:     cfg.Streaming.GetTokenLifetime(),
		FetchTimeout: cfg.Streaming.GetTokenFetchTimeout(),
	})
	if err != nil {
		logger.Error("Failed to create token provider", slog.String("error", err.Error()))
		os.Exit(1)
	}

	streamConfig := streaming.Config{
		URL:                  cfg.Streaming.URL,
		SampleRate:           cfg.Capture.SampleRate,
		SpeechModel:          cfg.Streaming.SpeechModel,
		Keyterms:             cfg.Streaming.Keyterms,
		ConnectTimeout:       cfg.Streaming.GetConnectTimeout(),
		SendInterval:         cfg.Streaming.GetSendInterval(),
		MaxMessageBytes:      cfg.Streaming.MaxMessageBytes,
		ReplayBytes:          cfg.Streaming.ReplayBytes,
		MaxReconnectAttempts: cfg.Streaming.MaxReconnectAttempts,
		ReconnectDelay:       cfg.Streaming.GetReconnectDelay(),
		StabilityWindow:      cfg.Streaming.GetStabilityWindow(),
		TokenRefresh:         cfg.Streaming.GetTokenRefresh(),
	}

	// Each recording gets its own session; the observer feeds the shared
	// transcript state that the HTTP API reports.
	transcripts := &transcriptState{}
	sessionFactory := func() capture.LiveSession {
		session := streaming.NewSession(streamConfig, tokenProvider, logger)

		var obsMu sync.Mutex
		var accumulated int
		session.SetObserver(func(u streaming.Update) {
			transcripts.apply(u)

			obsMu.Lock()
			if len(u.Accumulated) > accumulated {
				appMetrics.RecordTurnFinalized()
				accumulated = len(u.Accumulated)
			}
			obsMu.Unlock()

			switch u.State {
			case streaming.StateReconnecting:
				appMetrics.RecordStreamReconnect()
			case streaming.StateFailed:
				appMetrics.RecordStreamFailure()
			}
		})
		return session
	}

	// Job queue and capture manager
	jobQueue := queue.NewQueue(logger)

	// Job metrics ride the queue's change notifications. The subscriber keeps
	// its own view of active jobs so it never calls back into the queue.
	var jobsMu sync.Mutex
	activeSteps := make(map[string]queue.Step)
	jobQueue.Subscribe(func(job queue.Job) {
		jobsMu.Lock()
		defer jobsMu.Unlock()

		switch job.Step {
		case queue.StepCompleted:
			appMetrics.RecordJobCompleted(time.Since(job.CreatedAt).Seconds())
			delete(activeSteps, job.ID)
		case queue.StepFailed:
			appMetrics.RecordJobFailed(activeSteps[job.ID].String())
			delete(activeSteps, job.ID)
		default:
			if _, seen := activeSteps[job.ID]; !seen {
				appMetrics.RecordJobEnqueued()
			}
			activeSteps[job.ID] = job.Step
		}
		appMetrics.SetQueueDepth(len(activeSteps))
	})

	device, err := capture.NewStreamDevice(cfg.Capture.Source, logger)
	if err != nil {
		logger.Error("Failed to create audio device", slog.String("error", err.Error()))
		os.Exit(1)
	}

	manager := capture.NewManager(capture.Config{
		SampleRate:          cfg.Capture.SampleRate,
		MaxDuration:         cfg.Capture.GetMaxDuration(),
		BackupInterval:      cfg.Capture.GetBackupInterval(),
		HealthCheckInterval: cfg.Capture.GetHealthCheckInterval(),
		MaxRetryAttempts:    cfg.Capture.MaxRetryAttempts,
	}, device, sessionFactory, queue.NewCaptureSink(jobQueue), logger)
	logger.Info("Capture manager initialized")

	// Pipeline collaborators
	transcriptionClient, err := transcription.NewClient(transcription.Config{
		Endpoint:      cfg.Pipeline.Endpoint,
		APIKey:        cfg.Pipeline.APIKey,
		Language:      cfg.Pipeline.Language,
		SpeakerLabels: cfg.Pipeline.SpeakerLabels,
		UploadTimeout: cfg.Pipeline.GetUploadTimeout(),
		UploadRetries: cfg.Pipeline.UploadRetries,
		PollInterval:  cfg.Pipeline.GetPollInterval(),
		PollTimeout:   cfg.Pipeline.GetPollTimeout(),
	}, logger)
	if err != nil {
		logger.Error("Failed to create transcription client", slog.String("error", err.Error()))
		os.Exit(1)
	}

	summaryClient, err := summary.NewClient(summary.Config{
		Endpoint: cfg.Summary.Endpoint,
		Model:    cfg.Summary.Model,
		APIKey:   cfg.Summary.APIKey,
		Timeout:  cfg.Summary.GetTimeout(),
	}, logger)
	if err != nil {
		logger.Error("Failed to create summary client", slog.String("error", err.Error()))
		os.Exit(1)
	}

	storageClient, err := storage.NewClient(storage.Config{
		Endpoint: cfg.Storage.Endpoint,
		Bucket:   cfg.Storage.Bucket,
		Owner:    cfg.Storage.Owner,
		APIKey:   cfg.Storage.APIKey,
		Timeout:  cfg.Storage.GetTimeout(),
	})
	if err != nil {
		logger.Error("Failed to create storage client", slog.String("error", err.Error()))
		os.Exit(1)
	}

	recordStore, err := consultation.NewHTTPStore(consultation.StoreConfig{
		Endpoint: cfg.Persist.Endpoint,
		APIKey:   cfg.Persist.APIKey,
		Timeout:  cfg.Persist.GetTimeout(),
	})
	if err != nil {
		logger.Error("Failed to create persistence client", slog.String("error", err.Error()))
		os.Exit(1)
	}

	orchestrator := queue.NewOrchestrator(
		jobQueue,
		transcriptionClient,
		transcriptionClient,
		summaryClient,
		storageClient,
		recordStore,
		cfg.Storage.Owner,
		logger,
	)

	go orchestrator.Run(ctx)
	logger.Info("Processing orchestrator started")

	// Initialize HTTP API server (if enabled)
	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(cfg.HTTP, logger, cfg, manager, jobQueue,
			transcripts.current, appMetrics)
		if err := httpServer.Start(); err != nil {
			logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
			os.Exit(1)
		}
		logger.Info("HTTP API server initialized",
			slog.String("address", fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port)),
		)
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...")

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("Context cancelled, shutting down")
	}

	logger.Info("Starting graceful shutdown...")

	// Stop HTTP server first (stop accepting new requests)
	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}

	// Finalize any in-flight recording so its audio is not lost
	if manager.Status() == capture.StatusRecording {
		if _, err := manager.Stop(); err != nil {
			logger.Error("Error finalizing recording", slog.String("error", err.Error()))
		}
	}

	// Stop the orchestrator loop
	cancel()

	jobs := jobQueue.Jobs()
	pending := 0
	for _, job := range jobs {
		if !job.Step.IsTerminal() {
			pending++
		}
	}
	logger.Info("Final queue statistics",
		slog.Int("total_jobs", len(jobs)),
		slog.Int("pending_jobs", pending),
	)

	logger.Info("Service stopped")
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	// Parse log level
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo // default fallback
	}

	// Configure handler options
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug, // Add source info for debug level
	}

	// Determine output destination
	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		// Assume it's a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	// Create handler based on format
	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	case "text", "":
		handler = slog.NewTextHandler(output, opts)
	default:
		// Default to text format
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
