package streaming

// BeginMessage acknowledges session start from the streaming service
type BeginMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	ExpiresAt int64  `json:"expires_at"`
}

// TurnMessage carries one turn's current text and finalization flags
type TurnMessage struct {
	Type            string  `json:"type"`
	Transcript      string  `json:"transcript"`
	EndOfTurn       bool    `json:"end_of_turn"`
	TurnIsFormatted bool    `json:"turn_is_formatted"`
	Start           float64 `json:"start,omitempty"`
	End             float64 `json:"end,omitempty"`
	Words           []Word  `json:"words,omitempty"`
}

// Word is one recognized word inside a turn
type Word struct {
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence,omitempty"`
}

// TerminationMessage is the service's final message before closing
type TerminationMessage struct {
	Type                   string  `json:"type"`
	AudioDurationSeconds   float64 `json:"audio_duration_seconds"`
	SessionDurationSeconds float64 `json:"session_duration_seconds"`
}

// TerminateMessage requests a graceful session close
type TerminateMessage struct {
	Type string `json:"type"`
}
