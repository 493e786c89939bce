package streaming

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type fakeTokenProvider struct {
	mu        sync.Mutex
	calls     int
	failAfter int // fail every fetch after this many successes; 0 = never fail
}

func (p *fakeTokenProvider) Fetch(ctx context.Context) (Token, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.failAfter > 0 && p.calls > p.failAfter {
		return Token{}, fmt.Errorf("token endpoint unavailable")
	}
	return Token{Value: "test-token", ExpiresAt: time.Now().Add(10 * time.Minute)}, nil
}

func (p *fakeTokenProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(url string) Config {
	return Config{
		URL:                  url,
		SampleRate:           16000,
		SpeechModel:          "universal-streaming-multilingual",
		ConnectTimeout:       2 * time.Second,
		SendInterval:         20 * time.Millisecond,
		MaxMessageBytes:      25600,
		ReplayBytes:          16000,
		MaxReconnectAttempts: 3,
		ReconnectDelay:       20 * time.Millisecond,
		StabilityWindow:      10 * time.Second,
		TokenRefresh:         10 * time.Minute,
	}
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
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

func TestTurnAccumulation(t *testing.T) {
	session := NewSession(testConfig("ws://unused"), &fakeTokenProvider{}, testLogger())

	// Unfinalized updates replace the pending text wholesale and never
	// touch the accumulated transcript.
	session.applyTurn(TurnMessage{Type: "Turn", Transcript: "buenos"})
	session.applyTurn(TurnMessage{Type: "Turn", Transcript: "buenos dias"})

	accumulated, pending := session.Transcript()
	if accumulated != "" {
		t.Errorf("expected empty accumulated transcript, got %q", accumulated)
	}
	if pending != "buenos dias" {
		t.Errorf("expected pending 'buenos dias', got %q", pending)
	}

	session.applyTurn(TurnMessage{Type: "Turn", Transcript: " Buenos dias. ", EndOfTurn: true, TurnIsFormatted: true})
	session.applyTurn(TurnMessage{Type: "Turn", Transcript: "como"})
	session.applyTurn(TurnMessage{Type: "Turn", Transcript: "Como esta?", EndOfTurn: true, TurnIsFormatted: true})

	accumulated, pending = session.Transcript()
	if accumulated != "Buenos dias. Como esta?" {
		t.Errorf("expected space-joined finalized turns, got %q", accumulated)
	}
	if pending != "" {
		t.Errorf("expected pending cleared after finalized turn, got %q", pending)
	}
}

func TestTurnAccumulationIgnoresEmptyFinalizedText(t *testing.T) {
	session := NewSession(testConfig("ws://unused"), &fakeTokenProvider{}, testLogger())

	session.applyTurn(TurnMessage{Type: "Turn", Transcript: "Hola.", EndOfTurn: true, TurnIsFormatted: true})
	session.applyTurn(TurnMessage{Type: "Turn", Transcript: "   ", EndOfTurn: true, TurnIsFormatted: true})

	accumulated, _ := session.Transcript()
	if accumulated != "Hola." {
		t.Errorf("expected blank finalized turn to be dropped, got %q", accumulated)
	}
}

func TestObserverReceivesUpdates(t *testing.T) {
	session := NewSession(testConfig("ws://unused"), &fakeTokenProvider{}, testLogger())

	var mu sync.Mutex
	var updates []Update
	session.SetObserver(func(u Update) {
		mu.Lock()
		updates = append(updates, u)
		mu.Unlock()
	})

	session.applyTurn(TurnMessage{Type: "Turn", Transcript: "hola"})
	session.applyTurn(TurnMessage{Type: "Turn", Transcript: "Hola doctor.", EndOfTurn: true, TurnIsFormatted: true})

	mu.Lock()
	defer mu.Unlock()
	if len(updates) != 2 {
		t.Fatalf("expected 2 updates, got %d", len(updates))
	}
	if updates[0].Pending != "hola" || updates[0].Accumulated != "" {
		t.Errorf("unexpected first update: %+v", updates[0])
	}
	if updates[1].Accumulated != "Hola doctor." || updates[1].Pending != "" {
		t.Errorf("unexpected second update: %+v", updates[1])
	}
}

func TestStopFoldsPendingTurn(t *testing.T) {
	session := NewSession(testConfig("ws://unused"), &fakeTokenProvider{}, testLogger())

	session.applyTurn(TurnMessage{Type: "Turn", Transcript: "Primera frase.", EndOfTurn: true, TurnIsFormatted: true})
	session.applyTurn(TurnMessage{Type: "Turn", Transcript: "segunda frase inconclusa"})

	final := session.Stop()
	if final != "Primera frase. segunda frase inconclusa" {
		t.Errorf("expected pending turn folded into final transcript, got %q", final)
	}

	// Stop is idempotent.
	if again := session.Stop(); again != final {
		t.Errorf("expected idempotent Stop to return %q, got %q", final, again)
	}
}

func TestStartFailsWhenTokenUnavailable(t *testing.T) {
	tokens := &fakeTokenProvider{failAfter: 1}
	tokens.calls = 1 // every remaining fetch fails

	session := NewSession(testConfig("ws://unused"), tokens, testLogger())

	err := session.Start(context.Background())
	if err == nil {
		t.Fatal("expected start to fail when token fetch fails")
	}
	if !strings.Contains(err.Error(), "token acquisition failed") {
		t.Errorf("expected token acquisition error, got %v", err)
	}
	if session.State() != StateFailed {
		t.Errorf("expected state failed, got %s", session.State())
	}
}

func TestStartFailsWithoutBeginAcknowledgment(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.Close() // close before acknowledging
	}))
	defer server.Close()

	session := NewSession(testConfig(wsURL(server)), &fakeTokenProvider{}, testLogger())

	err := session.Start(context.Background())
	if err == nil {
		t.Fatal("expected start to fail when the socket closes before acknowledgment")
	}
	if session.State() != StateFailed {
		t.Errorf("expected state failed, got %s", session.State())
	}
}

func TestReconnectBound(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		begin, _ := json.Marshal(BeginMessage{Type: "Begin", ID: "session-1"})
		conn.WriteMessage(websocket.TextMessage, begin)
		conn.Close() // drop the connection right after acknowledging
	}))
	defer server.Close()

	config := testConfig(wsURL(server))
	tokens := &fakeTokenProvider{failAfter: 1} // initial connect succeeds, every reconnect fails
	session := NewSession(config, tokens, testLogger())

	if err := session.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	if !waitFor(t, 5*time.Second, func() bool { return session.State() == StateFailed }) {
		t.Fatalf("expected session to reach failed state, got %s", session.State())
	}

	expectedFetches := 1 + config.MaxReconnectAttempts
	if got := tokens.callCount(); got != expectedFetches {
		t.Errorf("expected exactly %d token fetches, got %d", expectedFetches, got)
	}

	// A failed session never retries again.
	time.Sleep(5 * config.ReconnectDelay)
	if got := tokens.callCount(); got != expectedFetches {
		t.Errorf("expected no further attempts after failure, got %d fetches", got)
	}

	session.Stop()
}

func TestStopPreemptsInFlightReconnect(t *testing.T) {
	upgrader := websocket.Upgrader{}

	var mu sync.Mutex
	connCount := 0
	reconnectGate := make(chan struct{})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		connCount++
		n := connCount
		mu.Unlock()

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		begin, _ := json.Marshal(BeginMessage{Type: "Begin", ID: fmt.Sprintf("session-%d", n)})

		if n == 1 {
			conn.WriteMessage(websocket.TextMessage, begin)
			conn.Close() // force a reconnect
			return
		}

		// Hold the reconnect in its acknowledgment wait until the stop has
		// been issued, then acknowledge and keep the socket open silently.
		<-reconnectGate
		conn.WriteMessage(websocket.TextMessage, begin)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	session := NewSession(testConfig(wsURL(server)), &fakeTokenProvider{}, testLogger())
	if err := session.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	if !waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return connCount >= 2
	}) {
		t.Fatal("reconnect attempt never reached the server")
	}

	done := make(chan struct{})
	go func() {
		session.Stop()
		close(done)
	}()

	// Land the stop while the reconnect is mid-acknowledgment, then let
	// the reconnect complete.
	time.Sleep(50 * time.Millisecond)
	close(reconnectGate)

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop blocked on a reconnect that completed after it was requested")
	}
}

func TestTokenRefreshReconnectsWithoutPenalty(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		begin, _ := json.Marshal(BeginMessage{Type: "Begin", ID: "session-1"})
		conn.WriteMessage(websocket.TextMessage, begin)

		for {
			messageType, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if messageType == websocket.TextMessage {
				var msg TerminateMessage
				if json.Unmarshal(data, &msg) == nil && msg.Type == "Terminate" {
					term, _ := json.Marshal(TerminationMessage{Type: "Termination"})
					conn.WriteMessage(websocket.TextMessage, term)
					return
				}
			}
		}
	}))
	defer server.Close()

	config := testConfig(wsURL(server))
	config.TokenRefresh = 50 * time.Millisecond
	// A refresh that wrongly took the penalized path would stall on this
	// delay and never fetch a second token in time.
	config.ReconnectDelay = 10 * time.Second

	tokens := &fakeTokenProvider{}
	session := NewSession(config, tokens, testLogger())

	if err := session.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	if !waitFor(t, 2*time.Second, func() bool { return tokens.callCount() >= 2 }) {
		t.Fatalf("expected a second token fetch from the proactive refresh, got %d", tokens.callCount())
	}

	if !waitFor(t, 2*time.Second, func() bool { return session.State() == StateActive }) {
		t.Fatalf("expected session active after refresh reconnect, got %s", session.State())
	}
	if got := session.ReconnectAttempts(); got != 0 {
		t.Errorf("expected refresh reconnect to leave attempt counter at 0, got %d", got)
	}

	session.Stop()
}

func TestWriteDroppedAfterTerminalState(t *testing.T) {
	session := NewSession(testConfig("ws://unused"), &fakeTokenProvider{}, testLogger())

	samples := make([]float32, 800)
	session.Write(samples)
	if session.buffer.Len() == 0 {
		t.Fatal("expected write to buffer audio while the session is not terminal")
	}

	session.Stop()

	before := session.buffer.Len()
	session.Write(samples)
	if got := session.buffer.Len(); got != before {
		t.Errorf("expected writes dropped after stop, buffer grew from %d to %d bytes", before, got)
	}

	session.mu.Lock()
	session.state = StateFailed
	session.mu.Unlock()

	session.Write(samples)
	if got := session.buffer.Len(); got != before {
		t.Errorf("expected writes dropped after failure, buffer grew from %d to %d bytes", before, got)
	}
}

func TestStabilityWindowResetsAttempts(t *testing.T) {
	session := NewSession(testConfig("ws://unused"), &fakeTokenProvider{}, testLogger())

	session.mu.Lock()
	session.state = StateActive
	session.reconnectAttempts = 2
	session.activeSince = time.Now().Add(-11 * time.Second)
	session.mu.Unlock()

	session.checkStability()

	if got := session.ReconnectAttempts(); got != 0 {
		t.Errorf("expected attempt counter reset to 0 after stability window, got %d", got)
	}
}

func TestStabilityWindowNotElapsedKeepsAttempts(t *testing.T) {
	session := NewSession(testConfig("ws://unused"), &fakeTokenProvider{}, testLogger())

	session.mu.Lock()
	session.state = StateActive
	session.reconnectAttempts = 2
	session.activeSince = time.Now()
	session.mu.Unlock()

	session.checkStability()

	if got := session.ReconnectAttempts(); got != 2 {
		t.Errorf("expected attempt counter unchanged inside stability window, got %d", got)
	}
}

func TestSessionLifecycle(t *testing.T) {
	upgrader := websocket.Upgrader{}

	var mu sync.Mutex
	var receivedAudio int

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("sample_rate") != "16000" {
			t.Errorf("expected sample_rate=16000, got %q", r.URL.Query().Get("sample_rate"))
		}
		if r.URL.Query().Get("encoding") != "pcm_s16le" {
			t.Errorf("expected encoding=pcm_s16le, got %q", r.URL.Query().Get("encoding"))
		}
		if r.URL.Query().Get("token") != "test-token" {
			t.Errorf("expected token query parameter, got %q", r.URL.Query().Get("token"))
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		begin, _ := json.Marshal(BeginMessage{Type: "Begin", ID: "session-1"})
		conn.WriteMessage(websocket.TextMessage, begin)

		partial, _ := json.Marshal(TurnMessage{Type: "Turn", Transcript: "hola"})
		conn.WriteMessage(websocket.TextMessage, partial)

		final, _ := json.Marshal(TurnMessage{Type: "Turn", Transcript: "Hola doctor.", EndOfTurn: true, TurnIsFormatted: true})
		conn.WriteMessage(websocket.TextMessage, final)

		for {
			messageType, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			switch messageType {
			case websocket.BinaryMessage:
				mu.Lock()
				receivedAudio += len(data)
				mu.Unlock()
			case websocket.TextMessage:
				var msg TerminateMessage
				if json.Unmarshal(data, &msg) == nil && msg.Type == "Terminate" {
					term, _ := json.Marshal(TerminationMessage{Type: "Termination", AudioDurationSeconds: 1})
					conn.WriteMessage(websocket.TextMessage, term)
					return
				}
			}
		}
	}))
	defer server.Close()

	session := NewSession(testConfig(wsURL(server)), &fakeTokenProvider{}, testLogger())

	if err := session.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if session.State() != StateActive {
		t.Fatalf("expected active state after start, got %s", session.State())
	}

	samples := make([]float32, 1600)
	for i := range samples {
		samples[i] = 0.25
	}
	session.Write(samples)

	if !waitFor(t, 3*time.Second, func() bool {
		accumulated, _ := session.Transcript()
		return accumulated == "Hola doctor."
	}) {
		accumulated, pending := session.Transcript()
		t.Fatalf("expected finalized turn in transcript, got accumulated=%q pending=%q", accumulated, pending)
	}

	final := session.Stop()
	if final != "Hola doctor." {
		t.Errorf("expected final transcript 'Hola doctor.', got %q", final)
	}
	if session.State() != StateClosed {
		t.Errorf("expected closed state after stop, got %s", session.State())
	}

	mu.Lock()
	defer mu.Unlock()
	if receivedAudio != len(samples)*2 {
		t.Errorf("expected %d audio bytes on the wire, got %d", len(samples)*2, receivedAudio)
	}
}
