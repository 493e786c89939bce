package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/FelipeSuaya/consult-summary-gen/internal/consultation"
	"github.com/FelipeSuaya/consult-summary-gen/internal/transcription"
)

// Uploader sends audio to the batch transcription service. Fatal to the job
// on failure.
type Uploader interface {
	Upload(ctx context.Context, audio []byte) (string, error)
}

// Transcriber runs batch transcription on an uploaded audio reference
type Transcriber interface {
	Transcribe(ctx context.Context, audioURL string) (*transcription.Result, error)
}

// Summarizer produces the structured clinical summary
type Summarizer interface {
	Summarize(ctx context.Context, transcript string) (string, error)
}

// ObjectStore persists the audio blob for later playback. Best-effort: a
// failure here is logged and the job proceeds without an audio URL.
type ObjectStore interface {
	Put(ctx context.Context, name string, data []byte, contentType string) (string, error)
}

// pollFallback bounds how long the orchestrator sleeps between queue scans
// when no wake signal arrives.
const pollFallback = 500 * time.Millisecond

// Orchestrator drains the queue strictly one job at a time. The in-flight
// guard is the only thing standing between two concurrent drains, so every
// drain path goes through it.
type Orchestrator struct {
	queue       *Queue
	uploader    Uploader
	transcriber Transcriber
	summarizer  Summarizer
	objects     ObjectStore
	records     consultation.Store
	owner       string
	logger      *slog.Logger

	mu       sync.Mutex
	inFlight bool
}

// NewOrchestrator wires the pipeline collaborators to a queue
func NewOrchestrator(
	queue *Queue,
	uploader Uploader,
	transcriber Transcriber,
	summarizer Summarizer,
	objects ObjectStore,
	records consultation.Store,
	owner string,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		queue:       queue,
		uploader:    uploader,
		transcriber: transcriber,
		summarizer:  summarizer,
		objects:     objects,
		records:     records,
		owner:       owner,
		logger:      logger,
	}
}

// Run watches the queue until the context is cancelled. Blocks; callers run
// it on its own goroutine.
func (o *Orchestrator) Run(ctx context.Context) {
	ticker := time.NewTicker(pollFallback)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-o.queue.Wake():
		case <-ticker.C:
		}

		o.drain(ctx)
	}
}

// drain processes queued jobs until none remain. The in-flight guard makes
// overlapping drains impossible.
func (o *Orchestrator) drain(ctx context.Context) {
	o.mu.Lock()
	if o.inFlight {
		o.mu.Unlock()
		return
	}
	o.inFlight = true
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.inFlight = false
		o.mu.Unlock()
	}()

	for ctx.Err() == nil {
		job, ok := o.queue.nextQueued()
		if !ok {
			return
		}
		o.process(ctx, job)
	}
}

// process runs one job through the full pipeline to a terminal state
func (o *Orchestrator) process(ctx context.Context, job Job) {
	started := time.Now()

	o.logger.Info("Processing job",
		slog.String("job_id", job.ID),
		slog.String("subject", job.SubjectName),
		slog.Bool("batch_mode", job.BatchMode),
	)

	// Step 1: upload. Batch upload is fatal on failure; object storage is
	// best-effort and runs concurrently with it.
	o.queue.advance(job.ID, StepUploading, 10)

	var wg sync.WaitGroup
	var audioURL string
	var uploadErr error

	wg.Add(1)
	go func() {
		defer wg.Done()
		audioURL, uploadErr = o.uploader.Upload(ctx, job.Audio)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		publicURL, err := o.objects.Put(ctx, job.ID+".wav", job.Audio, "audio/wav")
		if err != nil {
			o.logger.Warn("Audio storage upload failed, continuing without audio URL",
				slog.String("job_id", job.ID),
				slog.String("error", err.Error()),
			)
			return
		}
		o.queue.setAudioURL(job.ID, publicURL)
	}()

	wg.Wait()

	if uploadErr != nil {
		o.queue.fail(job.ID, fmt.Sprintf("audio upload failed: %v", uploadErr))
		return
	}

	// Step 2: batch transcription.
	o.queue.advance(job.ID, StepTranscribing, 40)

	result, err := o.transcriber.Transcribe(ctx, audioURL)
	if err != nil {
		o.queue.fail(job.ID, fmt.Sprintf("transcription failed: %v", err))
		return
	}

	// Step 3: summarization, corrections included.
	o.queue.advance(job.ID, StepSummarizing, 70)

	summaryText, err := o.summarizer.Summarize(ctx, result.Text)
	if err != nil {
		o.queue.fail(job.ID, fmt.Sprintf("summarization failed: %v", err))
		return
	}

	// Step 4: persist the record.
	o.queue.advance(job.ID, StepSaving, 90)

	current, _ := o.queue.Get(job.ID)
	record := consultation.Record{
		ID:            uuid.New().String(),
		Owner:         o.owner,
		PatientName:   job.SubjectName,
		DateTime:      job.CreatedAt,
		Transcription: result.Text,
		Summary:       summaryText,
		PatientData:   consultation.ExtractPatientData(summaryText),
		AudioURL:      current.AudioURL,
	}

	resultID, err := o.records.Create(ctx, record)
	if err != nil {
		o.queue.fail(job.ID, fmt.Sprintf("saving consultation failed: %v", err))
		return
	}

	o.queue.complete(job.ID, resultID)

	o.logger.Info("Job pipeline finished",
		slog.String("job_id", job.ID),
		slog.String("result_id", resultID),
		slog.Duration("elapsed", time.Since(started)),
	)
}
