package queue

import (
	"encoding/json"
	"time"
)

// Step is the job pipeline position. Monotonic except that Failed is
// user-resettable back to Queued.
type Step int

const (
	StepQueued Step = iota
	StepUploading
	StepTranscribing
	StepSummarizing
	StepSaving
	StepCompleted
	StepFailed
)

// String returns the human-readable step name
func (s Step) String() string {
	switch s {
	case StepQueued:
		return "queued"
	case StepUploading:
		return "uploading"
	case StepTranscribing:
		return "transcribing"
	case StepSummarizing:
		return "summarizing"
	case StepSaving:
		return "saving"
	case StepCompleted:
		return "completed"
	case StepFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalJSON encodes the step by name
func (s Step) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// IsTerminal reports whether the step is a pipeline end state
func (s Step) IsTerminal() bool {
	return s == StepCompleted || s == StepFailed
}

// Job is the unit of background work: one finished recording's journey
// through the processing pipeline.
type Job struct {
	ID             string    `json:"id"`
	SubjectName    string    `json:"subject_name"`
	Audio          []byte    `json:"-"`
	LiveTranscript string    `json:"live_transcript,omitempty"`
	BatchMode      bool      `json:"batch_mode"`
	CreatedAt      time.Time `json:"created_at"`

	Step     Step   `json:"step"`
	Progress int    `json:"progress"`
	AudioURL string `json:"audio_url,omitempty"`
	ResultID string `json:"result_id,omitempty"`
	Error    string `json:"error,omitempty"`
}
