package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/FelipeSuaya/consult-summary-gen/internal/audio"
)

// Status represents the recording lifecycle state
type Status int

const (
	StatusIdle Status = iota
	StatusRecording
	StatusStopping
	StatusStopped
	StatusFailed
)

// String returns the human-readable status name
func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusRecording:
		return "recording"
	case StatusStopping:
		return "stopping"
	case StatusStopped:
		return "stopped"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Recording is the finalized capture handed to the background pipeline
type Recording struct {
	SubjectName    string
	Audio          []byte // WAV blob
	LiveTranscript string
	BatchMode      bool
	CapturedAt     time.Time
	Duration       time.Duration
}

// Backup is one point-in-time snapshot of captured audio
type Backup struct {
	TakenAt time.Time
	PCM     []byte
}

// LiveSession is the realtime transcription collaborator. A failure to
// start it downgrades the recording to batch mode instead of aborting.
type LiveSession interface {
	Start(ctx context.Context) error
	Write(samples []float32)
	Stop() string
}

// SessionFactory creates a fresh live session per recording
type SessionFactory func() LiveSession

// JobSink receives finished recordings for background processing
type JobSink interface {
	Enqueue(rec Recording) (jobID string, err error)
}

// Config contains capture manager configuration
type Config struct {
	SampleRate          int
	MaxDuration         time.Duration
	BackupInterval      time.Duration
	HealthCheckInterval time.Duration
	MaxRetryAttempts    int
}

// Manager owns the device handle and the recording timers. One recording is
// active at a time; Start rejects overlap.
type Manager struct {
	config   Config
	device   Device
	sessions SessionFactory
	sink     JobSink
	logger   *slog.Logger

	mu            sync.Mutex
	status        Status
	subjectName   string
	encoding      string
	startedAt     time.Time
	chunks        [][]byte // PCM captured so far, never pruned mid-session
	capturedBytes int
	backups       []Backup
	lastBackupAt  time.Time
	retryCount    int
	batchMode     bool
	handle        Handle
	session       LiveSession
	lastRecording *Recording
	lastErr       error

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopDone chan struct{}
}

// NewManager creates a capture manager in the Idle state
func NewManager(config Config, device Device, sessions SessionFactory, sink JobSink, logger *slog.Logger) *Manager {
	return &Manager{
		config:   config,
		device:   device,
		sessions: sessions,
		sink:     sink,
		logger:   logger,
		status:   StatusIdle,
	}
}

// Status returns the current recording status
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Elapsed returns how long the current recording has been running
func (m *Manager) Elapsed() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status != StatusRecording && m.status != StatusStopping {
		return 0
	}
	return time.Since(m.startedAt)
}

// BatchMode reports whether live transcription degraded to batch mode
func (m *Manager) BatchMode() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.batchMode
}

// CapturedBytes returns how many PCM bytes have been captured so far
func (m *Manager) CapturedBytes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.capturedBytes
}

// Backups returns the number of snapshots taken so far
func (m *Manager) Backups() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.backups)
}

// Start validates preconditions, acquires the device, begins capturing, and
// concurrently attempts to start the live transcription session. A failure
// to start streaming is non-fatal and downgrades the recording to batch
// mode; device errors abort the start and no job is enqueued.
func (m *Manager) Start(ctx context.Context, subjectName string) error {
	if subjectName == "" {
		return ErrSubjectNameRequired
	}

	m.mu.Lock()
	if m.status == StatusRecording || m.status == StatusStopping {
		status := m.status
		m.mu.Unlock()
		return fmt.Errorf("recording already in progress (status %s)", status)
	}
	m.mu.Unlock()

	encoding, err := pickEncoding(m.device.SupportedEncodings())
	if err != nil {
		return err
	}

	handle, err := m.device.Acquire(ctx, encoding, m.config.SampleRate)
	if err != nil {
		return fmt.Errorf("failed to acquire device: %w", err)
	}

	session := m.sessions()

	runCtx, cancel := context.WithCancel(context.Background())

	m.mu.Lock()
	m.status = StatusRecording
	m.subjectName = subjectName
	m.encoding = encoding
	m.startedAt = time.Now()
	m.chunks = nil
	m.capturedBytes = 0
	m.backups = nil
	m.lastBackupAt = time.Time{}
	m.retryCount = 0
	m.batchMode = false
	m.handle = handle
	m.session = session
	m.lastRecording = nil
	m.lastErr = nil
	m.cancel = cancel
	m.stopDone = make(chan struct{})
	m.mu.Unlock()

	m.logger.Info("Recording started",
		slog.String("subject", subjectName),
		slog.String("encoding", encoding),
		slog.Int("sample_rate", m.config.SampleRate),
	)

	// Live streaming start runs concurrently with capture.
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := session.Start(runCtx); err != nil {
			m.logger.Warn("Live transcription unavailable, falling back to batch mode",
				slog.String("error", err.Error()),
			)
			m.mu.Lock()
			m.batchMode = true
			m.mu.Unlock()
		}
	}()

	m.wg.Add(1)
	go m.run(runCtx)

	return nil
}

// run is the capture loop: consumes samples and device errors, and drives
// the backup, health-check, and duration-ceiling timers.
func (m *Manager) run(ctx context.Context) {
	defer m.wg.Done()

	backupTicker := time.NewTicker(m.config.BackupInterval)
	defer backupTicker.Stop()

	healthTicker := time.NewTicker(m.config.HealthCheckInterval)
	defer healthTicker.Stop()

	maxTimer := time.NewTimer(m.config.MaxDuration)
	defer maxTimer.Stop()

	for {
		m.mu.Lock()
		handle := m.handle
		session := m.session
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			return

		case samples, ok := <-handle.Samples():
			if !ok {
				if !m.recover(ctx) {
					return
				}
				continue
			}
			pcm := audio.EncodePCM16(samples)
			m.mu.Lock()
			m.chunks = append(m.chunks, pcm)
			m.capturedBytes += len(pcm)
			m.mu.Unlock()
			session.Write(samples)

		case err := <-handle.Errors():
			m.logger.Warn("Recorder error",
				slog.String("error", err.Error()),
			)
			if !m.recover(ctx) {
				return
			}

		case <-backupTicker.C:
			m.takeBackup()

		case <-healthTicker.C:
			if !handle.Healthy() {
				m.logger.Warn("Device health check failed, no live tracks")
				if !m.recover(ctx) {
					return
				}
			}

		case <-maxTimer.C:
			m.logger.Info("Maximum recording duration reached, stopping",
				slog.Duration("max_duration", m.config.MaxDuration),
			)
			go m.Stop()
			return
		}
	}
}

// takeBackup snapshots all captured-so-far audio if enough time has elapsed
// since the last backup. Backups accumulate until the session ends.
func (m *Manager) takeBackup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.status != StatusRecording || m.capturedBytes == 0 {
		return
	}

	if !m.lastBackupAt.IsZero() && time.Since(m.lastBackupAt) < m.config.BackupInterval {
		return
	}

	snapshot := m.concatChunksLocked()
	m.backups = append(m.backups, Backup{TakenAt: time.Now(), PCM: snapshot})
	m.lastBackupAt = time.Now()

	m.logger.Debug("Audio backup taken",
		slog.Int("backup_count", len(m.backups)),
		slog.Int("snapshot_bytes", len(snapshot)),
	)
}

// recover tears down and re-acquires the device after a recorder failure,
// resuming capture under the same logical recording. Returns false when the
// retry ceiling is exhausted, in which case finalization proceeds from the
// best available backup.
func (m *Manager) recover(ctx context.Context) bool {
	m.mu.Lock()
	if m.status != StatusRecording {
		m.mu.Unlock()
		return false
	}
	if m.retryCount >= m.config.MaxRetryAttempts {
		m.mu.Unlock()
		m.logger.Error("Device retry ceiling reached, finalizing from backups",
			slog.Int("attempts", m.config.MaxRetryAttempts),
		)
		go m.Stop()
		return false
	}
	m.retryCount++
	attempt := m.retryCount
	old := m.handle
	m.mu.Unlock()

	// Snapshot before touching the device so nothing is lost if
	// reacquisition fails.
	m.takeBackupForced()

	if old != nil {
		old.Close()
	}

	m.logger.Info("Attempting device recovery",
		slog.Int("attempt", attempt),
		slog.Int("max_attempts", m.config.MaxRetryAttempts),
	)

	handle, err := m.device.Acquire(ctx, m.encoding, m.config.SampleRate)
	if err != nil {
		m.logger.Warn("Device reacquisition failed",
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
		return m.recover(ctx)
	}

	m.mu.Lock()
	m.handle = handle
	m.mu.Unlock()

	m.logger.Info("Device recovered, capture resumed",
		slog.Int("attempt", attempt),
	)

	return true
}

// Backup takes an immediate snapshot of all captured audio, outside the
// automatic cadence. Only valid while a recording is in progress.
func (m *Manager) Backup() error {
	m.mu.Lock()

	if m.status != StatusRecording {
		m.mu.Unlock()
		return fmt.Errorf("no recording in progress")
	}

	if m.capturedBytes == 0 {
		m.mu.Unlock()
		return ErrNoAudio
	}

	snapshot := m.concatChunksLocked()
	m.backups = append(m.backups, Backup{TakenAt: time.Now(), PCM: snapshot})
	m.lastBackupAt = time.Now()
	count := len(m.backups)
	m.mu.Unlock()

	m.logger.Info("Manual audio backup taken",
		slog.Int("backup_count", count),
		slog.Int("snapshot_bytes", len(snapshot)),
	)

	return nil
}

// takeBackupForced snapshots regardless of the backup cadence
func (m *Manager) takeBackupForced() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.capturedBytes == 0 {
		return
	}

	snapshot := m.concatChunksLocked()
	m.backups = append(m.backups, Backup{TakenAt: time.Now(), PCM: snapshot})
	m.lastBackupAt = time.Now()
}

// Stop finalizes the recording. Idempotent: repeated calls return the first
// outcome. Gracefully shuts down the live session first to retrieve the
// best-known transcript, then encodes the blob and hands it to the queue.
// Returns ErrNoAudio if literally zero bytes were ever captured.
func (m *Manager) Stop() (*Recording, error) {
	m.mu.Lock()
	switch m.status {
	case StatusStopped, StatusFailed:
		rec, err := m.lastRecording, m.lastErr
		m.mu.Unlock()
		return rec, err
	case StatusStopping:
		done := m.stopDone
		m.mu.Unlock()
		// Another Stop is finalizing; wait for it.
		<-done
		m.mu.Lock()
		rec, err := m.lastRecording, m.lastErr
		m.mu.Unlock()
		return rec, err
	case StatusIdle:
		m.mu.Unlock()
		return nil, fmt.Errorf("no recording in progress")
	}
	m.status = StatusStopping
	cancel := m.cancel
	session := m.session
	handle := m.handle
	done := m.stopDone
	m.mu.Unlock()
	defer close(done)

	if cancel != nil {
		cancel()
	}
	if handle != nil {
		handle.Close()
	}
	m.wg.Wait()

	var transcript string
	if session != nil {
		transcript = session.Stop()
	}

	m.mu.Lock()
	pcm := m.concatChunksLocked()
	if len(pcm) == 0 && len(m.backups) > 0 {
		pcm = m.backups[len(m.backups)-1].PCM
	}
	duration := time.Since(m.startedAt)
	subject := m.subjectName
	batchMode := m.batchMode
	m.mu.Unlock()

	if len(pcm) == 0 {
		m.mu.Lock()
		m.status = StatusFailed
		m.lastErr = ErrNoAudio
		m.handle = nil
		m.session = nil
		m.mu.Unlock()
		return nil, ErrNoAudio
	}

	blob, err := audio.EncodeWAV(pcm, m.config.SampleRate)
	if err != nil {
		m.mu.Lock()
		m.status = StatusFailed
		m.lastErr = err
		m.mu.Unlock()
		return nil, fmt.Errorf("failed to encode recording: %w", err)
	}

	rec := &Recording{
		SubjectName:    subject,
		Audio:          blob,
		LiveTranscript: transcript,
		BatchMode:      batchMode,
		CapturedAt:     time.Now(),
		Duration:       duration,
	}

	jobID, err := m.sink.Enqueue(*rec)
	if err != nil {
		m.mu.Lock()
		m.status = StatusFailed
		m.lastErr = err
		m.lastRecording = rec
		m.mu.Unlock()
		return rec, fmt.Errorf("failed to enqueue recording: %w", err)
	}

	m.mu.Lock()
	m.status = StatusStopped
	m.lastRecording = rec
	m.lastErr = nil
	m.handle = nil
	m.session = nil
	m.chunks = nil
	m.mu.Unlock()

	m.logger.Info("Recording finalized",
		slog.String("subject", subject),
		slog.String("job_id", jobID),
		slog.Int("audio_bytes", len(blob)),
		slog.Duration("duration", duration),
		slog.Bool("batch_mode", batchMode),
	)

	return rec, nil
}

func (m *Manager) concatChunksLocked() []byte {
	out := make([]byte, 0, m.capturedBytes)
	for _, chunk := range m.chunks {
		out = append(out, chunk...)
	}
	return out
}
