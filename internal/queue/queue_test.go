package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/FelipeSuaya/consult-summary-gen/internal/consultation"
	"github.com/FelipeSuaya/consult-summary-gen/internal/transcription"
)

type fakeUploader struct {
	calls int32
	err   error
	gate  chan struct{} // when set, Upload blocks until closed
}

func (u *fakeUploader) Upload(ctx context.Context, audio []byte) (string, error) {
	n := atomic.AddInt32(&u.calls, 1)
	if u.gate != nil {
		select {
		case <-u.gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if u.err != nil {
		return "", u.err
	}
	return fmt.Sprintf("https://cdn.example.com/u%d", n), nil
}

func (u *fakeUploader) callCount() int32 { return atomic.LoadInt32(&u.calls) }

type fakeTranscriber struct {
	err  error
	text string
}

func (t *fakeTranscriber) Transcribe(ctx context.Context, audioURL string) (*transcription.Result, error) {
	if t.err != nil {
		return nil, t.err
	}
	return &transcription.Result{Text: t.text}, nil
}

type fakeSummarizer struct {
	mu       sync.Mutex
	failures int // fail this many calls, then succeed
	out      string
}

func (s *fakeSummarizer) Summarize(ctx context.Context, transcript string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return "", errors.New("model overloaded")
	}
	return s.out, nil
}

type fakeObjects struct {
	err error
}

func (o *fakeObjects) Put(ctx context.Context, name string, data []byte, contentType string) (string, error) {
	if o.err != nil {
		return "", o.err
	}
	return "https://storage.example.com/" + name, nil
}

type fakeRecords struct {
	mu      sync.Mutex
	err     error
	created []consultation.Record
}

func (r *fakeRecords) Create(ctx context.Context, rec consultation.Record) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return "", r.err
	}
	r.created = append(r.created, rec)
	return rec.ID, nil
}

func (r *fakeRecords) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.created))
	for i, rec := range r.created {
		out[i] = rec.PatientName
	}
	return out
}

type testPipeline struct {
	queue       *Queue
	uploader    *fakeUploader
	transcriber *fakeTranscriber
	summarizer  *fakeSummarizer
	objects     *fakeObjects
	records     *fakeRecords
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestPipeline() *testPipeline {
	return &testPipeline{
		queue:       NewQueue(testLogger()),
		uploader:    &fakeUploader{},
		transcriber: &fakeTranscriber{text: "Paciente refiere cefalea."},
		summarizer:  &fakeSummarizer{out: "MOTIVO DE CONSULTA: cefalea."},
		objects:     &fakeObjects{},
		records:     &fakeRecords{},
	}
}

func (p *testPipeline) start(t *testing.T) context.CancelFunc {
	t.Helper()
	orchestrator := NewOrchestrator(
		p.queue, p.uploader, p.transcriber, p.summarizer, p.objects, p.records,
		"clinic-1", testLogger(),
	)
	ctx, cancel := context.WithCancel(context.Background())
	go orchestrator.Run(ctx)
	return cancel
}

func testJob(subject string) Job {
	return Job{SubjectName: subject, Audio: []byte{1, 2, 3, 4}}
}

func waitFor(t *testing.T, timeout time.Duration, condition func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return condition()
}

func (p *testPipeline) jobStep(id string) Step {
	job, _ := p.queue.Get(id)
	return job.Step
}

func TestEnqueueValidation(t *testing.T) {
	q := NewQueue(testLogger())

	if _, err := q.Enqueue(Job{SubjectName: "Jane"}); err == nil {
		t.Error("expected error for empty audio")
	}
	if _, err := q.Enqueue(Job{Audio: []byte{1}}); err == nil {
		t.Error("expected error for empty subject name")
	}

	id, err := q.Enqueue(testJob("Jane Doe"))
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if id == "" {
		t.Error("expected assigned job id")
	}

	job, ok := q.Get(id)
	if !ok || job.Step != StepQueued || job.Progress != 0 {
		t.Errorf("expected fresh queued job, got %+v", job)
	}
}

func TestQueueSequentiality(t *testing.T) {
	p := newTestPipeline()
	p.uploader.gate = make(chan struct{})
	cancel := p.start(t)
	defer cancel()

	id1, _ := p.queue.Enqueue(testJob("First"))
	id2, _ := p.queue.Enqueue(testJob("Second"))
	id3, _ := p.queue.Enqueue(testJob("Third"))

	if !waitFor(t, 2*time.Second, func() bool { return p.jobStep(id1) == StepUploading }) {
		t.Fatalf("first job never started, step %s", p.jobStep(id1))
	}

	// While the first job is artificially slow, the others stay queued.
	time.Sleep(50 * time.Millisecond)
	if step := p.jobStep(id2); step != StepQueued {
		t.Errorf("expected second job queued while first drains, got %s", step)
	}
	if step := p.jobStep(id3); step != StepQueued {
		t.Errorf("expected third job queued while first drains, got %s", step)
	}

	close(p.uploader.gate)

	if !waitFor(t, 3*time.Second, func() bool {
		return p.jobStep(id1) == StepCompleted &&
			p.jobStep(id2) == StepCompleted &&
			p.jobStep(id3) == StepCompleted
	}) {
		t.Fatalf("jobs did not complete: %s %s %s", p.jobStep(id1), p.jobStep(id2), p.jobStep(id3))
	}

	names := p.records.names()
	if len(names) != 3 || names[0] != "First" || names[1] != "Second" || names[2] != "Third" {
		t.Errorf("expected records persisted in FIFO order, got %v", names)
	}
}

func TestUploadFailureIsFatal(t *testing.T) {
	p := newTestPipeline()
	p.uploader.err = errors.New("network down")
	cancel := p.start(t)
	defer cancel()

	id, _ := p.queue.Enqueue(testJob("Jane Doe"))

	if !waitFor(t, 2*time.Second, func() bool { return p.jobStep(id) == StepFailed }) {
		t.Fatalf("expected failed job, got %s", p.jobStep(id))
	}

	job, _ := p.queue.Get(id)
	if job.Error == "" {
		t.Error("expected human-readable error on failed job")
	}
	if len(p.records.names()) != 0 {
		t.Error("expected no record persisted for failed job")
	}
}

func TestObjectStorageFailureIsNonFatal(t *testing.T) {
	p := newTestPipeline()
	p.objects.err = errors.New("bucket unavailable")
	cancel := p.start(t)
	defer cancel()

	id, _ := p.queue.Enqueue(testJob("Jane Doe"))

	if !waitFor(t, 2*time.Second, func() bool { return p.jobStep(id) == StepCompleted }) {
		t.Fatalf("expected completed job despite storage failure, got %s", p.jobStep(id))
	}

	job, _ := p.queue.Get(id)
	if job.AudioURL != "" {
		t.Errorf("expected empty audio URL after storage failure, got %q", job.AudioURL)
	}

	p.records.mu.Lock()
	defer p.records.mu.Unlock()
	if len(p.records.created) != 1 || p.records.created[0].AudioURL != "" {
		t.Errorf("expected record persisted without audio URL")
	}
}

func TestRetryResetsFromScratch(t *testing.T) {
	p := newTestPipeline()
	p.summarizer.failures = 1 // first pass fails at step 3
	cancel := p.start(t)
	defer cancel()

	id, _ := p.queue.Enqueue(testJob("Jane Doe"))

	if !waitFor(t, 2*time.Second, func() bool { return p.jobStep(id) == StepFailed }) {
		t.Fatalf("expected failed job, got %s", p.jobStep(id))
	}
	if got := p.uploader.callCount(); got != 1 {
		t.Fatalf("expected 1 upload before reset, got %d", got)
	}

	if err := p.queue.Reset(id); err != nil {
		t.Fatalf("reset failed: %v", err)
	}

	if !waitFor(t, 2*time.Second, func() bool { return p.jobStep(id) == StepCompleted }) {
		t.Fatalf("expected completed job after reset, got %s", p.jobStep(id))
	}

	// The retry re-executed the upload step even though the first run had
	// reached summarization.
	if got := p.uploader.callCount(); got != 2 {
		t.Errorf("expected retry to upload again, got %d uploads", got)
	}
}

func TestResetRequiresFailedJob(t *testing.T) {
	q := NewQueue(testLogger())
	id, _ := q.Enqueue(testJob("Jane Doe"))

	if err := q.Reset(id); err == nil {
		t.Error("expected error resetting a queued job")
	}
	if err := q.Reset("missing"); err == nil {
		t.Error("expected error resetting an unknown job")
	}
}

func TestDismiss(t *testing.T) {
	p := newTestPipeline()
	cancel := p.start(t)
	defer cancel()

	id, _ := p.queue.Enqueue(testJob("Jane Doe"))

	if err := p.queue.Dismiss(id); err == nil {
		t.Error("expected error dismissing a non-terminal job")
	}

	if !waitFor(t, 2*time.Second, func() bool { return p.jobStep(id) == StepCompleted }) {
		t.Fatalf("job never completed, step %s", p.jobStep(id))
	}

	if err := p.queue.Dismiss(id); err != nil {
		t.Fatalf("dismiss failed: %v", err)
	}
	if _, ok := p.queue.Get(id); ok {
		t.Error("expected dismissed job removed")
	}
}

func TestClearCompleted(t *testing.T) {
	p := newTestPipeline()
	cancel := p.start(t)
	defer cancel()

	id1, _ := p.queue.Enqueue(testJob("First"))
	id2, _ := p.queue.Enqueue(testJob("Second"))

	if !waitFor(t, 3*time.Second, func() bool {
		return p.jobStep(id1) == StepCompleted && p.jobStep(id2) == StepCompleted
	}) {
		t.Fatal("jobs never completed")
	}

	if removed := p.queue.ClearCompleted(); removed != 2 {
		t.Errorf("expected 2 jobs cleared, got %d", removed)
	}
	if len(p.queue.Jobs()) != 0 {
		t.Errorf("expected empty queue, got %d jobs", len(p.queue.Jobs()))
	}
}

func TestSubscriberSeesStepSequence(t *testing.T) {
	p := newTestPipeline()

	var mu sync.Mutex
	steps := make(map[string][]Step)
	p.queue.Subscribe(func(job Job) {
		mu.Lock()
		steps[job.ID] = append(steps[job.ID], job.Step)
		mu.Unlock()
	})

	cancel := p.start(t)
	defer cancel()

	id, _ := p.queue.Enqueue(testJob("Jane Doe"))

	if !waitFor(t, 2*time.Second, func() bool { return p.jobStep(id) == StepCompleted }) {
		t.Fatal("job never completed")
	}

	mu.Lock()
	defer mu.Unlock()

	want := []Step{StepQueued, StepUploading, StepTranscribing, StepSummarizing, StepSaving, StepCompleted}
	var got []Step
	for _, step := range steps[id] {
		// setAudioURL republishes the current step; collapse repeats.
		if len(got) == 0 || got[len(got)-1] != step {
			got = append(got, step)
		}
	}

	if len(got) != len(want) {
		t.Fatalf("expected step sequence %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected step sequence %v, got %v", want, got)
		}
	}
}
