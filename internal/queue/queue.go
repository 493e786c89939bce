package queue

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/FelipeSuaya/consult-summary-gen/internal/capture"
)

// Queue is an explicitly constructed, injectable job queue. Jobs are kept
// in enqueue order; the orchestrator claims the oldest Queued job. All
// mutation goes through the queue so subscribers see every change.
type Queue struct {
	mu          sync.Mutex
	jobs        []*Job
	byID        map[string]*Job
	subscribers []func(Job)

	wake   chan struct{}
	logger *slog.Logger
}

// NewQueue creates an empty job queue
func NewQueue(logger *slog.Logger) *Queue {
	return &Queue{
		byID:   make(map[string]*Job),
		wake:   make(chan struct{}, 1),
		logger: logger,
	}
}

// Enqueue appends a job to the tail of the queue. Safe to call at any time,
// including while another job is draining. Assigns an id when the caller
// did not.
func (q *Queue) Enqueue(job Job) (string, error) {
	if len(job.Audio) == 0 {
		return "", fmt.Errorf("job audio cannot be empty")
	}

	if job.SubjectName == "" {
		return "", fmt.Errorf("job subject name cannot be empty")
	}

	if job.ID == "" {
		job.ID = uuid.New().String()
	}

	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}

	job.Step = StepQueued
	job.Progress = 0
	job.ResultID = ""
	job.Error = ""

	q.mu.Lock()
	if _, exists := q.byID[job.ID]; exists {
		q.mu.Unlock()
		return "", fmt.Errorf("job %s already enqueued", job.ID)
	}
	stored := job
	q.jobs = append(q.jobs, &stored)
	q.byID[job.ID] = &stored
	depth := len(q.jobs)
	q.mu.Unlock()

	q.logger.Info("Job enqueued",
		slog.String("job_id", job.ID),
		slog.String("subject", job.SubjectName),
		slog.Int("audio_bytes", len(job.Audio)),
		slog.Int("queue_depth", depth),
	)

	q.publish(stored)
	q.wakeup()

	return job.ID, nil
}

// Reset moves a Failed job back to Queued so the whole pipeline re-runs
// from the first step. Prior job data stays intact until then.
func (q *Queue) Reset(id string) error {
	q.mu.Lock()
	job, exists := q.byID[id]
	if !exists {
		q.mu.Unlock()
		return fmt.Errorf("job %s not found", id)
	}
	if job.Step != StepFailed {
		step := job.Step
		q.mu.Unlock()
		return fmt.Errorf("job %s is %s, only failed jobs can be reset", id, step)
	}
	job.Step = StepQueued
	job.Progress = 0
	job.AudioURL = ""
	job.ResultID = ""
	job.Error = ""
	snapshot := *job
	q.mu.Unlock()

	q.logger.Info("Job reset for retry",
		slog.String("job_id", id),
	)

	q.publish(snapshot)
	q.wakeup()

	return nil
}

// Dismiss removes a terminal job from the queue
func (q *Queue) Dismiss(id string) error {
	q.mu.Lock()
	job, exists := q.byID[id]
	if !exists {
		q.mu.Unlock()
		return fmt.Errorf("job %s not found", id)
	}
	if !job.Step.IsTerminal() {
		step := job.Step
		q.mu.Unlock()
		return fmt.Errorf("job %s is %s, only terminal jobs can be dismissed", id, step)
	}
	delete(q.byID, id)
	for i, j := range q.jobs {
		if j.ID == id {
			q.jobs = append(q.jobs[:i], q.jobs[i+1:]...)
			break
		}
	}
	q.mu.Unlock()

	return nil
}

// ClearCompleted removes all completed jobs, returning how many were removed
func (q *Queue) ClearCompleted() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.jobs[:0]
	removed := 0
	for _, job := range q.jobs {
		if job.Step == StepCompleted {
			delete(q.byID, job.ID)
			removed++
			continue
		}
		kept = append(kept, job)
	}
	q.jobs = kept
	return removed
}

// Jobs returns a snapshot of all jobs in enqueue order
func (q *Queue) Jobs() []Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Job, len(q.jobs))
	for i, job := range q.jobs {
		out[i] = *job
	}
	return out
}

// Get returns a snapshot of one job
func (q *Queue) Get(id string) (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, exists := q.byID[id]
	if !exists {
		return Job{}, false
	}
	return *job, true
}

// Subscribe registers an observer for job changes. Observers run on queue
// and orchestrator goroutines and must not call back into the queue.
func (q *Queue) Subscribe(fn func(Job)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.subscribers = append(q.subscribers, fn)
}

// Wake signals the orchestrator that queued work may exist
func (q *Queue) Wake() <-chan struct{} {
	return q.wake
}

// nextQueued returns a snapshot of the oldest job still in Queued state
func (q *Queue) nextQueued() (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, job := range q.jobs {
		if job.Step == StepQueued {
			return *job, true
		}
	}
	return Job{}, false
}

// advance transitions a job's step and progress
func (q *Queue) advance(id string, step Step, progress int) {
	q.mu.Lock()
	job, exists := q.byID[id]
	if !exists {
		q.mu.Unlock()
		return
	}
	job.Step = step
	if progress > job.Progress {
		job.Progress = progress
	}
	snapshot := *job
	q.mu.Unlock()

	q.publish(snapshot)
}

// setAudioURL records the best-effort object storage reference
func (q *Queue) setAudioURL(id, url string) {
	q.mu.Lock()
	job, exists := q.byID[id]
	if !exists {
		q.mu.Unlock()
		return
	}
	job.AudioURL = url
	snapshot := *job
	q.mu.Unlock()

	q.publish(snapshot)
}

// complete marks a job done and attaches the persisted record id
func (q *Queue) complete(id, resultID string) {
	q.mu.Lock()
	job, exists := q.byID[id]
	if !exists {
		q.mu.Unlock()
		return
	}
	job.Step = StepCompleted
	job.Progress = 100
	job.ResultID = resultID
	snapshot := *job
	q.mu.Unlock()

	q.logger.Info("Job completed",
		slog.String("job_id", id),
		slog.String("result_id", resultID),
	)

	q.publish(snapshot)
}

// fail parks a job with a human-readable error, leaving prior data intact
// for inspection and explicit retry
func (q *Queue) fail(id, message string) {
	q.mu.Lock()
	job, exists := q.byID[id]
	if !exists {
		q.mu.Unlock()
		return
	}
	job.Step = StepFailed
	job.Error = message
	snapshot := *job
	q.mu.Unlock()

	q.logger.Error("Job failed",
		slog.String("job_id", id),
		slog.String("error", message),
	)

	q.publish(snapshot)
}

func (q *Queue) publish(job Job) {
	q.mu.Lock()
	subscribers := make([]func(Job), len(q.subscribers))
	copy(subscribers, q.subscribers)
	q.mu.Unlock()

	for _, fn := range subscribers {
		fn(job)
	}
}

func (q *Queue) wakeup() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// CaptureSink adapts the queue to the capture manager's finished-recording
// handoff.
type CaptureSink struct {
	queue *Queue
}

// NewCaptureSink wraps a queue as a capture job sink
func NewCaptureSink(queue *Queue) *CaptureSink {
	return &CaptureSink{queue: queue}
}

// Enqueue converts a finished recording into a processing job
func (s *CaptureSink) Enqueue(rec capture.Recording) (string, error) {
	return s.queue.Enqueue(Job{
		SubjectName:    rec.SubjectName,
		Audio:          rec.Audio,
		LiveTranscript: rec.LiveTranscript,
		BatchMode:      rec.BatchMode,
		CreatedAt:      rec.CapturedAt,
	})
}
