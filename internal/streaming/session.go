package streaming

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/FelipeSuaya/consult-summary-gen/internal/audio"
)

// State represents the session lifecycle state
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateActive
	StateReconnecting
	StateClosed
	StateFailed
)

// String returns the human-readable state name
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Update is delivered to the observer on every transcript or state change.
// Pending is provisional text that will be revised until its turn finalizes;
// consumers render Accumulated followed by Pending as one logical stream.
type Update struct {
	State       State
	Accumulated string
	Pending     string
}

// Observer receives session updates. Called from session goroutines, so
// implementations must be fast and must not call back into the session.
type Observer func(Update)

// Config contains streaming session configuration
type Config struct {
	URL         string
	SampleRate  int
	SpeechModel string
	Keyterms    []string

	ConnectTimeout time.Duration
	SendInterval   time.Duration

	MaxMessageBytes int
	ReplayBytes     int

	MaxReconnectAttempts int
	ReconnectDelay       time.Duration
	StabilityWindow      time.Duration
	TokenRefresh         time.Duration
}

// closeGrace bounds how long Stop waits for the service to acknowledge
// termination before tearing the connection down anyway.
const closeGrace = 2 * time.Second

// Session owns one logical live transcription for the duration of a
// recording. All mutable state is guarded by mu; the read loop, send loop,
// and the caller's Start/Stop/Write never touch it unguarded.
type Session struct {
	config Config
	tokens TokenProvider
	logger *slog.Logger
	buffer *audio.ChunkBuffer

	// writeMu serializes socket writes between the send loop and Stop.
	writeMu sync.Mutex

	mu                sync.Mutex
	state             State
	accumulated       string
	pending           string
	conn              *websocket.Conn
	reconnectAttempts int
	activeSince       time.Time
	refreshAt         time.Time
	refreshRequested  bool
	stopRequested     bool
	observer          Observer

	cancel     context.CancelFunc
	wg         sync.WaitGroup
	terminated chan struct{}
	termOnce   sync.Once
}

// NewSession creates a streaming session in the Idle state
func NewSession(config Config, tokens TokenProvider, logger *slog.Logger) *Session {
	if len(config.Keyterms) == 0 {
		config.Keyterms = DefaultKeyterms
	}
	config.Keyterms = SanitizeKeyterms(config.Keyterms)

	return &Session{
		config:     config,
		tokens:     tokens,
		logger:     logger,
		buffer:     audio.NewChunkBuffer(),
		state:      StateIdle,
		terminated: make(chan struct{}),
	}
}

// SetObserver registers the update observer. Must be called before Start.
func (s *Session) SetObserver(observer Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observer = observer
}

// State returns the current session state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Transcript returns the accumulated and pending transcript text
func (s *Session) Transcript() (accumulated, pending string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accumulated, s.pending
}

// ReconnectAttempts returns the current reconnect attempt count
func (s *Session) ReconnectAttempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reconnectAttempts
}

func (s *Session) writeMessage(conn *websocket.Conn, messageType int, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return conn.WriteMessage(messageType, data)
}

// Start acquires a token, opens the duplex connection, and blocks until the
// service acknowledges session start or the connect timeout elapses. On
// success the session is Active and audio written via Write flows to the
// wire on the send interval.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("session cannot start from state %s", state)
	}
	s.state = StateConnecting
	s.mu.Unlock()
	s.notify()

	conn, err := s.connect(ctx)
	if err != nil {
		s.mu.Lock()
		s.state = StateFailed
		s.mu.Unlock()
		s.notify()
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	s.conn = conn
	s.state = StateActive
	s.activeSince = time.Now()
	s.refreshAt = time.Now().Add(s.config.TokenRefresh)
	s.cancel = cancel
	s.mu.Unlock()
	s.notify()

	s.wg.Add(2)
	go s.readLoop(runCtx, conn)
	go s.sendLoop(runCtx)

	return nil
}

// Write appends audio samples to the outbound buffer. Safe to call from the
// audio producer at any time; samples queued while the session is not Active
// are sent after reconnection, bounded by the replay window. Once the
// session has closed or failed nothing will ever drain the buffer, so
// writes are dropped instead of accumulating a second copy of the audio.
func (s *Session) Write(samples []float32) {
	s.mu.Lock()
	terminal := s.state == StateClosed || s.state == StateFailed
	s.mu.Unlock()
	if terminal {
		return
	}
	s.buffer.Append(audio.EncodePCM16(samples))
}

// Stop flushes buffered audio, requests graceful termination, folds any
// pending turn into the accumulated transcript, and tears down all
// resources. Idempotent and safe to call from any state; always returns the
// best-known transcript.
func (s *Session) Stop() string {
	s.mu.Lock()
	alreadyStopped := s.stopRequested
	s.stopRequested = true
	conn := s.conn
	active := s.state == StateActive
	cancel := s.cancel
	s.mu.Unlock()

	if alreadyStopped {
		s.mu.Lock()
		final := s.accumulated
		s.mu.Unlock()
		return final
	}

	if conn != nil && active {
		// Flush buffered-but-unsent audio before requesting termination.
		for _, frame := range s.buffer.Drain(s.config.MaxMessageBytes) {
			if err := s.writeMessage(conn, websocket.BinaryMessage, frame); err != nil {
				break
			}
		}
		if tail := s.buffer.Flush(); len(tail) > 0 {
			s.writeMessage(conn, websocket.BinaryMessage, tail)
		}

		terminate, _ := json.Marshal(TerminateMessage{Type: "Terminate"})
		if err := s.writeMessage(conn, websocket.TextMessage, terminate); err == nil {
			select {
			case <-s.terminated:
			case <-time.After(closeGrace):
			}
		}
	}

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close()
	}
	// A reconnect racing this stop may have installed a fresh connection
	// after the snapshot above was taken. Close whatever is installed now
	// so the read loop cannot keep blocking on it.
	s.mu.Lock()
	current := s.conn
	s.mu.Unlock()
	if current != nil && current != conn {
		current.Close()
	}
	s.wg.Wait()

	s.mu.Lock()
	if s.pending != "" {
		s.accumulated = joinTranscript(s.accumulated, s.pending)
		s.pending = ""
	}
	if s.state != StateFailed {
		s.state = StateClosed
	}
	s.conn = nil
	final := s.accumulated
	s.mu.Unlock()
	s.notify()

	return final
}

// connect fetches a token, dials the streaming endpoint, and waits for the
// service's session-start acknowledgment.
func (s *Session) connect(ctx context.Context) (*websocket.Conn, error) {
	token, err := s.tokens.Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("token acquisition failed: %w", err)
	}

	endpoint, err := url.Parse(s.config.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid streaming URL: %w", err)
	}

	query := endpoint.Query()
	query.Set("sample_rate", strconv.Itoa(s.config.SampleRate))
	query.Set("encoding", "pcm_s16le")
	query.Set("speech_model", s.config.SpeechModel)
	query.Set("format_turns", "true")
	query.Set("token", token.Value)
	if len(s.config.Keyterms) > 0 {
		hint, _ := json.Marshal(s.config.Keyterms)
		query.Set("keyterms_prompt", string(hint))
	}
	endpoint.RawQuery = query.Encode()

	dialer := websocket.Dialer{
		HandshakeTimeout: s.config.ConnectTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}

	// The first inbound message must acknowledge session start.
	conn.SetReadDeadline(time.Now().Add(s.config.ConnectTimeout))
	_, data, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("connection closed before session start: %w", err)
	}

	var begin BeginMessage
	if err := json.Unmarshal(data, &begin); err != nil || begin.Type != "Begin" {
		conn.Close()
		return nil, fmt.Errorf("expected session start acknowledgment, got: %s", string(data))
	}
	conn.SetReadDeadline(time.Time{})

	s.logger.Info("Streaming session acknowledged",
		slog.String("session_id", begin.ID),
	)

	return conn, nil
}

// readLoop consumes inbound messages until the connection is deliberately
// closed. An unsolicited close hands control to the reconnect path.
func (s *Session) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer s.wg.Done()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if s.stopping() || ctx.Err() != nil {
				return
			}

			conn = s.reconnect(ctx)
			if conn == nil {
				return
			}
			continue
		}

		s.handleMessage(data)
	}
}

// reconnect re-establishes the connection after an unsolicited close or a
// deliberate token refresh. Returns the new connection, or nil once the
// attempt ceiling is exhausted or a stop pre-empts the loop. Audio captured
// during the outage stays buffered; only the most recent replay window is
// kept on resume.
func (s *Session) reconnect(ctx context.Context) *websocket.Conn {
	s.mu.Lock()
	deliberate := s.refreshRequested
	s.refreshRequested = false
	old := s.conn
	s.conn = nil
	s.state = StateReconnecting
	s.mu.Unlock()
	if old != nil {
		old.Close()
	}
	s.notify()

	for {
		s.mu.Lock()
		if !deliberate {
			if s.reconnectAttempts >= s.config.MaxReconnectAttempts {
				s.state = StateFailed
				s.mu.Unlock()
				s.notify()
				s.logger.Error("Streaming reconnect attempts exhausted",
					slog.Int("attempts", s.config.MaxReconnectAttempts),
				)
				return nil
			}
			s.reconnectAttempts++
		}
		attempt := s.reconnectAttempts
		s.mu.Unlock()

		if !deliberate {
			select {
			case <-time.After(s.config.ReconnectDelay):
			case <-ctx.Done():
				return nil
			}
		}
		deliberate = false

		if s.stopping() || ctx.Err() != nil {
			return nil
		}

		conn, err := s.connect(ctx)
		if err != nil {
			s.logger.Warn("Streaming reconnect attempt failed",
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
			continue
		}

		s.buffer.TrimToLast(s.config.ReplayBytes)

		s.mu.Lock()
		// A stop issued while the dial was in flight wins over the fresh
		// connection; installing it would leave the read loop alive past
		// the stop.
		if s.stopRequested || ctx.Err() != nil {
			s.mu.Unlock()
			conn.Close()
			return nil
		}
		s.conn = conn
		s.state = StateActive
		s.activeSince = time.Now()
		s.refreshAt = time.Now().Add(s.config.TokenRefresh)
		s.mu.Unlock()
		s.notify()

		s.logger.Info("Streaming session re-established",
			slog.Int("attempt", attempt),
		)

		return conn
	}
}

// sendLoop drains the outbound buffer on a fixed period, decoupling network
// sends from audio-callback cadence. It also hosts the stability-window
// reset and the proactive token refresh checks.
func (s *Session) sendLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.SendInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.checkStability()
			s.checkTokenRefresh()
			s.flushFrames()
		}
	}
}

// flushFrames sends all complete wire frames currently buffered
func (s *Session) flushFrames() {
	s.mu.Lock()
	conn := s.conn
	active := s.state == StateActive
	s.mu.Unlock()

	if !active || conn == nil {
		return
	}

	for _, frame := range s.buffer.Drain(s.config.MaxMessageBytes) {
		if err := s.writeMessage(conn, websocket.BinaryMessage, frame); err != nil {
			s.logger.Warn("Failed to send audio frame",
				slog.Int("frame_bytes", len(frame)),
				slog.String("error", err.Error()),
			)
			return
		}
	}
}

// checkStability resets the reconnect attempt counter once the connection
// has stayed Active for the full stability window.
func (s *Session) checkStability() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateActive || s.reconnectAttempts == 0 {
		return
	}

	if time.Since(s.activeSince) >= s.config.StabilityWindow {
		s.logger.Debug("Connection stable, resetting reconnect attempts",
			slog.Int("previous_attempts", s.reconnectAttempts),
		)
		s.reconnectAttempts = 0
	}
}

// checkTokenRefresh closes the connection ahead of token expiry so the read
// loop reconnects with a fresh token. The refresh is deliberate and does not
// count against the reconnect attempt ceiling.
func (s *Session) checkTokenRefresh() {
	s.mu.Lock()
	due := s.state == StateActive && !s.refreshAt.IsZero() && time.Now().After(s.refreshAt)
	conn := s.conn
	if due {
		s.refreshRequested = true
		s.refreshAt = time.Time{}
	}
	s.mu.Unlock()

	if due && conn != nil {
		s.logger.Info("Proactively refreshing streaming token")
		conn.Close()
	}
}

func (s *Session) handleMessage(data []byte) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		s.logger.Warn("Ignoring malformed streaming message",
			slog.String("error", err.Error()),
		)
		return
	}

	switch envelope.Type {
	case "Turn":
		var turn TurnMessage
		if err := json.Unmarshal(data, &turn); err != nil {
			s.logger.Warn("Ignoring malformed turn message",
				slog.String("error", err.Error()),
			)
			return
		}
		s.applyTurn(turn)

	case "Termination":
		var term TerminationMessage
		if err := json.Unmarshal(data, &term); err == nil {
			s.logger.Info("Streaming session terminated",
				slog.Float64("audio_duration_seconds", term.AudioDurationSeconds),
				slog.Float64("session_duration_seconds", term.SessionDurationSeconds),
			)
		}
		s.termOnce.Do(func() { close(s.terminated) })
	}
}

// applyTurn appends finalized turn text to the accumulated transcript or
// replaces the pending text wholesale. The accumulated transcript only ever
// grows, and only from finalized turns.
func (s *Session) applyTurn(turn TurnMessage) {
	text := strings.TrimSpace(turn.Transcript)

	s.mu.Lock()
	if turn.EndOfTurn && turn.TurnIsFormatted {
		if text != "" {
			s.accumulated = joinTranscript(s.accumulated, text)
		}
		s.pending = ""
	} else {
		s.pending = text
	}
	s.mu.Unlock()
	s.notify()
}

func (s *Session) stopping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopRequested
}

func (s *Session) notify() {
	s.mu.Lock()
	observer := s.observer
	update := Update{
		State:       s.state,
		Accumulated: s.accumulated,
		Pending:     s.pending,
	}
	s.mu.Unlock()

	if observer != nil {
		observer(update)
	}
}

func joinTranscript(accumulated, text string) string {
	if accumulated == "" {
		return text
	}
	return accumulated + " " + text
}
