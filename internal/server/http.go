package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/FelipeSuaya/consult-summary-gen/internal/capture"
	"github.com/FelipeSuaya/consult-summary-gen/internal/config"
	"github.com/FelipeSuaya/consult-summary-gen/internal/metrics"
	"github.com/FelipeSuaya/consult-summary-gen/internal/queue"
)

// maxUploadBytes caps direct audio uploads at 100 MB, comfortably above a
// maximum-length consultation encoded as 16 kHz 16-bit mono WAV.
const maxUploadBytes = 100 << 20

// TranscriptSource reports the latest live transcript of the active
// recording, or an empty string when no session is running.
type TranscriptSource func() string

// HTTPServer provides HTTP API endpoints for recording control and job
// queue management
type HTTPServer struct {
	server     *http.Server
	logger     *slog.Logger
	config     *config.Config
	manager    *capture.Manager
	queue      *queue.Queue
	transcript TranscriptSource
	metrics    *metrics.Metrics

	startTime time.Time
}

// NewHTTPServer creates a new HTTP API server
func NewHTTPServer(cfg config.HTTPConfig, logger *slog.Logger,
	appConfig *config.Config, manager *capture.Manager, q *queue.Queue,
	transcript TranscriptSource, m *metrics.Metrics) *HTTPServer {

	h := &HTTPServer{
		logger:     logger,
		config:     appConfig,
		manager:    manager,
		queue:      q,
		transcript: transcript,
		metrics:    m,
		startTime:  time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	// Health check endpoint
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))

	// Recording control endpoints
	mux.HandleFunc("/recording", h.withMetrics("/recording", h.handleRecordingStatus))
	mux.HandleFunc("/recording/start", h.withMetrics("/recording/start", h.handleRecordingStart))
	mux.HandleFunc("/recording/stop", h.withMetrics("/recording/stop", h.handleRecordingStop))
	mux.HandleFunc("/recording/backup", h.withMetrics("/recording/backup", h.handleRecordingBackup))

	// Job queue endpoints
	mux.HandleFunc("/jobs", h.withMetrics("/jobs", h.handleJobs))
	mux.HandleFunc("/jobs/", h.withMetrics("/jobs/{id}", h.handleJobDetail))

	// Configuration endpoint
	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))

	// Prometheus metrics endpoint (no metrics needed for metrics endpoint)
	mux.Handle("/metrics", promhttp.Handler())

	// Root endpoint with API documentation
	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: 200}

		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	uptime := time.Since(h.startTime)
	jobs := h.queue.Jobs()

	pending := 0
	for _, job := range jobs {
		if !job.Step.IsTerminal() {
			pending++
		}
	}

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    uptime.String(),
		"service": map[string]interface{}{
			"name":    "consult-summary-gen",
			"version": "1.0.0",
		},
		"components": map[string]interface{}{
			"recording": map[string]interface{}{
				"status":     h.manager.Status().String(),
				"batch_mode": h.manager.BatchMode(),
			},
			"queue": map[string]interface{}{
				"status":       "running",
				"total_jobs":   len(jobs),
				"pending_jobs": pending,
			},
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(health)
}

type startRequest struct {
	SubjectName string `json:"subject_name"`
	PatientName string `json:"patient_name"`
}

func (r startRequest) subject() string {
	if r.SubjectName != "" {
		return r.SubjectName
	}
	return r.PatientName
}

// handleRecordingStart implements the POST /recording/start endpoint
func (h *HTTPServer) handleRecordingStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	subject := req.subject()
	if err := h.manager.Start(r.Context(), subject); err != nil {
		switch {
		case errors.Is(err, capture.ErrSubjectNameRequired):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, capture.ErrPermissionDenied):
			http.Error(w, err.Error(), http.StatusForbidden)
		case strings.Contains(err.Error(), "already in progress"):
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	h.metrics.RecordRecordingStarted()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":       h.manager.Status().String(),
		"subject_name": subject,
	})
}

// handleRecordingBackup implements the POST /recording/backup endpoint
func (h *HTTPServer) handleRecordingBackup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := h.manager.Backup(); err != nil {
		if errors.Is(err, capture.ErrNoAudio) {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	h.metrics.RecordBackup()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"backups": h.manager.Backups(),
	})
}

// handleRecordingStop implements the POST /recording/stop endpoint
func (h *HTTPServer) handleRecordingStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	rec, err := h.manager.Stop()
	if err != nil {
		switch {
		case errors.Is(err, capture.ErrNoAudio):
			h.metrics.RecordRecordingFailed()
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		case strings.Contains(err.Error(), "no recording in progress"):
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	h.metrics.RecordRecordingCompleted(rec.Duration.Seconds())
	if rec.BatchMode {
		h.metrics.RecordBatchModeDowngrade()
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":       h.manager.Status().String(),
		"subject_name": rec.SubjectName,
		"duration":     rec.Duration.Seconds(),
		"batch_mode":   rec.BatchMode,
		"audio_bytes":  len(rec.Audio),
	})
}

// handleRecordingStatus implements the GET /recording endpoint
func (h *HTTPServer) handleRecordingStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status := map[string]interface{}{
		"status":         h.manager.Status().String(),
		"elapsed":        h.manager.Elapsed().Seconds(),
		"batch_mode":     h.manager.BatchMode(),
		"backups":        h.manager.Backups(),
		"captured_bytes": h.manager.CapturedBytes(),
		"timestamp":      time.Now().UTC(),
	}
	if h.transcript != nil {
		status["live_transcript"] = h.transcript()
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

// handleJobs implements the /jobs endpoint: GET lists jobs, POST enqueues
// audio directly without going through the recording manager
func (h *HTTPServer) handleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		jobs := h.queue.Jobs()

		response := map[string]interface{}{
			"total_jobs": len(jobs),
			"timestamp":  time.Now().UTC(),
			"jobs":       jobs,
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(response)

	case http.MethodPost:
		h.handleJobUpload(w, r)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleJobUpload enqueues uploaded audio as a batch-mode job. Accepts
// multipart form data with an "audio" file and a "subject_name" field, or a
// raw audio body with a subject_name query parameter.
func (h *HTTPServer) handleJobUpload(w http.ResponseWriter, r *http.Request) {
	var audio []byte
	var subjectName string

	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "multipart/form-data") {
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			http.Error(w, "Invalid multipart form", http.StatusBadRequest)
			return
		}

		file, _, err := r.FormFile("audio")
		if err != nil {
			http.Error(w, "Audio file required", http.StatusBadRequest)
			return
		}
		defer file.Close()

		audio, err = io.ReadAll(file)
		if err != nil {
			http.Error(w, "Failed to read audio file", http.StatusBadRequest)
			return
		}

		subjectName = r.FormValue("subject_name")
	} else {
		var err error
		audio, err = io.ReadAll(io.LimitReader(r.Body, maxUploadBytes))
		if err != nil {
			http.Error(w, "Failed to read request body", http.StatusBadRequest)
			return
		}

		subjectName = r.URL.Query().Get("subject_name")
	}

	jobID, err := h.queue.Enqueue(queue.Job{
		SubjectName: subjectName,
		Audio:       audio,
		BatchMode:   true,
		CreatedAt:   time.Now(),
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"job_id":       jobID,
		"subject_name": subjectName,
		"audio_bytes":  len(audio),
	})
}

// handleJobDetail implements the /jobs/{id} endpoints: GET returns a job,
// DELETE dismisses it, POST /jobs/{id}/retry resets a failed job, and
// POST /jobs/clear-completed removes all completed jobs
func (h *HTTPServer) handleJobDetail(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/jobs/")
	if path == "" {
		http.Error(w, "Job ID required", http.StatusBadRequest)
		return
	}

	if path == "clear-completed" {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		removed := h.queue.ClearCompleted()

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"removed": removed,
		})
		return
	}

	if id, ok := strings.CutSuffix(path, "/retry"); ok {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		if err := h.queue.Reset(id); err != nil {
			h.jobError(w, err)
			return
		}

		h.metrics.RecordJobRetried()

		job, _ := h.queue.Get(id)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(job)
		return
	}

	switch r.Method {
	case http.MethodGet:
		job, ok := h.queue.Get(path)
		if !ok {
			http.Error(w, "Job not found", http.StatusNotFound)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(job)

	case http.MethodDelete:
		if err := h.queue.Dismiss(path); err != nil {
			h.jobError(w, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// jobError maps queue errors to HTTP status codes
func (h *HTTPServer) jobError(w http.ResponseWriter, err error) {
	if strings.Contains(err.Error(), "not found") {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	http.Error(w, err.Error(), http.StatusConflict)
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Return sanitized configuration (remove sensitive data)
	sanitizedConfig := map[string]interface{}{
		"capture": map[string]interface{}{
			"sample_rate":           h.config.Capture.SampleRate,
			"max_duration":          h.config.Capture.MaxDurationSeconds,
			"backup_interval":       h.config.Capture.BackupInterval,
			"health_check_interval": h.config.Capture.HealthCheckInterval,
			"max_retry_attempts":    h.config.Capture.MaxRetryAttempts,
		},
		"streaming": map[string]interface{}{
			"url":                    h.config.Streaming.URL,
			"speech_model":           h.config.Streaming.SpeechModel,
			"token_lifetime":         h.config.Streaming.TokenLifetimeSeconds,
			"token_refresh":          h.config.Streaming.TokenRefreshSeconds,
			"max_message_bytes":      h.config.Streaming.MaxMessageBytes,
			"replay_bytes":           h.config.Streaming.ReplayBytes,
			"max_reconnect_attempts": h.config.Streaming.MaxReconnectAttempts,
			"stability_window":       h.config.Streaming.StabilityWindow,
			// Note: API key is intentionally omitted for security
		},
		"pipeline": map[string]interface{}{
			"endpoint":       h.config.Pipeline.Endpoint,
			"language":       h.config.Pipeline.Language,
			"speaker_labels": h.config.Pipeline.SpeakerLabels,
			"upload_retries": h.config.Pipeline.UploadRetries,
			"poll_interval":  h.config.Pipeline.PollInterval,
			"poll_timeout":   h.config.Pipeline.PollTimeout,
		},
		"summary": map[string]interface{}{
			"model":   h.config.Summary.Model,
			"timeout": h.config.Summary.Timeout,
		},
		"storage": map[string]interface{}{
			"bucket": h.config.Storage.Bucket,
			"owner":  h.config.Storage.Owner,
		},
		"logging": map[string]interface{}{
			"level":  h.config.Logging.Level,
			"format": h.config.Logging.Format,
			"output": h.config.Logging.Output,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sanitizedConfig)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	apiDoc := map[string]interface{}{
		"service": "Consultation Summary Service",
		"version": "1.0.0",
		"endpoints": map[string]interface{}{
			"GET /":                         "API documentation",
			"GET /health":                   "Service health check",
			"GET /recording":                "Current recording status",
			"POST /recording/start":         "Start a consultation recording",
			"POST /recording/stop":          "Stop the recording and enqueue processing",
			"POST /recording/backup":        "Take an immediate audio backup",
			"GET /jobs":                     "List all processing jobs",
			"POST /jobs":                    "Enqueue uploaded audio for processing",
			"GET /jobs/{id}":                "Get job details",
			"POST /jobs/{id}/retry":         "Retry a failed job from the beginning",
			"DELETE /jobs/{id}":             "Dismiss a terminal job",
			"POST /jobs/clear-completed":    "Remove all completed jobs",
			"GET /config":                   "Get service configuration",
			"GET /metrics":                  "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(apiDoc)
}
