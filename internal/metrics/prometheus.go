package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the consultation service
type Metrics struct {
	// Recording metrics
	RecordingsStarted   prometheus.Counter
	RecordingsCompleted prometheus.Counter
	RecordingsFailed    prometheus.Counter
	RecordingDuration   prometheus.Histogram
	BackupsTaken        prometheus.Counter

	// Streaming metrics
	StreamReconnects    prometheus.Counter
	StreamFailures      prometheus.Counter
	TurnsFinalized      prometheus.Counter
	BatchModeDowngrades prometheus.Counter

	// Pipeline metrics
	JobsEnqueued  prometheus.Counter
	JobsCompleted prometheus.Counter
	JobsFailed    *prometheus.CounterVec
	JobsRetried   prometheus.Counter
	JobDuration   prometheus.Histogram
	QueueDepth    prometheus.Gauge

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		// Recording metrics
		RecordingsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "consult_recordings_started_total",
			Help: "Total number of recordings started",
		}),
		RecordingsCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "consult_recordings_completed_total",
			Help: "Total number of recordings finalized into a job",
		}),
		RecordingsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "consult_recordings_failed_total",
			Help: "Total number of recordings that produced no audio",
		}),
		RecordingDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "consult_recording_duration_seconds",
			Help:    "Duration of finalized recordings in seconds",
			Buckets: prometheus.ExponentialBuckets(15, 2, 8), // 15s to ~32 minutes
		}),
		BackupsTaken: promauto.NewCounter(prometheus.CounterOpts{
			Name: "consult_backups_taken_total",
			Help: "Total number of in-memory audio backups taken",
		}),

		// Streaming metrics
		StreamReconnects: promauto.NewCounter(prometheus.CounterOpts{
			Name: "consult_stream_reconnects_total",
			Help: "Total number of streaming reconnect attempts",
		}),
		StreamFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "consult_stream_failures_total",
			Help: "Total number of streaming sessions that exhausted reconnects",
		}),
		TurnsFinalized: promauto.NewCounter(prometheus.CounterOpts{
			Name: "consult_turns_finalized_total",
			Help: "Total number of finalized transcript turns",
		}),
		BatchModeDowngrades: promauto.NewCounter(prometheus.CounterOpts{
			Name: "consult_batch_mode_downgrades_total",
			Help: "Total number of recordings downgraded to batch transcription",
		}),

		// Pipeline metrics
		JobsEnqueued: promauto.NewCounter(prometheus.CounterOpts{
			Name: "consult_jobs_enqueued_total",
			Help: "Total number of processing jobs enqueued",
		}),
		JobsCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "consult_jobs_completed_total",
			Help: "Total number of processing jobs completed",
		}),
		JobsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "consult_jobs_failed_total",
			Help: "Total number of processing jobs failed, by pipeline step",
		}, []string{"step"}),
		JobsRetried: promauto.NewCounter(prometheus.CounterOpts{
			Name: "consult_jobs_retried_total",
			Help: "Total number of failed jobs reset for retry",
		}),
		JobDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "consult_job_duration_seconds",
			Help:    "End-to-end duration of completed job pipelines",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s to ~17 minutes
		}),
		QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "consult_queue_depth",
			Help: "Current number of non-terminal jobs in the queue",
		}),

		// HTTP API metrics
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "consult_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "consult_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "consult_http_errors_total",
			Help: "Total number of HTTP error responses",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordRecordingStarted increments the recordings started counter
func (m *Metrics) RecordRecordingStarted() {
	m.RecordingsStarted.Inc()
}

// RecordRecordingCompleted records a finalized recording and its duration
func (m *Metrics) RecordRecordingCompleted(durationSeconds float64) {
	m.RecordingsCompleted.Inc()
	m.RecordingDuration.Observe(durationSeconds)
}

// RecordRecordingFailed increments the failed recordings counter
func (m *Metrics) RecordRecordingFailed() {
	m.RecordingsFailed.Inc()
}

// RecordBackup increments the backups counter
func (m *Metrics) RecordBackup() {
	m.BackupsTaken.Inc()
}

// RecordStreamReconnect increments the reconnect attempts counter
func (m *Metrics) RecordStreamReconnect() {
	m.StreamReconnects.Inc()
}

// RecordStreamFailure increments the exhausted-session counter
func (m *Metrics) RecordStreamFailure() {
	m.StreamFailures.Inc()
}

// RecordTurnFinalized increments the finalized turns counter
func (m *Metrics) RecordTurnFinalized() {
	m.TurnsFinalized.Inc()
}

// RecordBatchModeDowngrade increments the downgrade counter
func (m *Metrics) RecordBatchModeDowngrade() {
	m.BatchModeDowngrades.Inc()
}

// RecordJobEnqueued increments the enqueued jobs counter
func (m *Metrics) RecordJobEnqueued() {
	m.JobsEnqueued.Inc()
}

// RecordJobCompleted records a completed job and its pipeline duration
func (m *Metrics) RecordJobCompleted(durationSeconds float64) {
	m.JobsCompleted.Inc()
	m.JobDuration.Observe(durationSeconds)
}

// RecordJobFailed records a failed job at the given pipeline step
func (m *Metrics) RecordJobFailed(step string) {
	m.JobsFailed.WithLabelValues(step).Inc()
}

// RecordJobRetried increments the retried jobs counter
func (m *Metrics) RecordJobRetried() {
	m.JobsRetried.Inc()
}

// SetQueueDepth sets the current queue depth gauge
func (m *Metrics) SetQueueDepth(depth int) {
	m.QueueDepth.Set(float64(depth))
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error response
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
