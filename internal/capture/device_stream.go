package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/FelipeSuaya/consult-summary-gen/internal/audio"
)

// readBlock is 50 ms of 16 kHz 16-bit mono per read.
const readBlock = 1600

// healthyWindow is how long a stream device may go without delivering
// samples before Healthy reports false.
const healthyWindow = 5 * time.Second

// StreamDevice captures PCM from a raw s16le byte stream at a filesystem
// path, typically a FIFO fed by an external recorder process. It is the
// production Device implementation for headless deployments.
type StreamDevice struct {
	path   string
	logger *slog.Logger
}

// NewStreamDevice creates a device backed by the PCM stream at path
func NewStreamDevice(path string, logger *slog.Logger) (*StreamDevice, error) {
	if path == "" {
		return nil, fmt.Errorf("stream path cannot be empty")
	}

	return &StreamDevice{
		path:   path,
		logger: logger,
	}, nil
}

// SupportedEncodings reports the container formats this device can produce
func (d *StreamDevice) SupportedEncodings() []string {
	return []string{"wav"}
}

// Acquire opens the stream for capture. Permission problems on the path are
// reported as ErrPermissionDenied so callers can distinguish operator
// misconfiguration from transient device faults. Opening a FIFO blocks until
// a producer attaches, so the open is raced against the context; a cancelled
// acquire returns ctx.Err() instead of waiting on a producer that may never
// come back.
func (d *StreamDevice) Acquire(ctx context.Context, encoding string, sampleRate int) (Handle, error) {
	if encoding != "wav" {
		return nil, fmt.Errorf("unsupported encoding %q: %w", encoding, ErrNoSupportedEncoding)
	}

	file, err := d.open(ctx)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return nil, fmt.Errorf("cannot open audio stream %s: %w", d.path, ErrPermissionDenied)
		}
		return nil, fmt.Errorf("cannot open audio stream %s: %w", d.path, err)
	}

	h := &streamHandle{
		file:     file,
		samples:  make(chan []float32, 16),
		errs:     make(chan error, 1),
		done:     make(chan struct{}),
		lastRead: time.Now(),
	}

	go h.readLoop()

	d.logger.Info("Audio stream acquired",
		slog.String("path", d.path),
		slog.Int("sample_rate", sampleRate),
	)

	return h, nil
}

// open runs os.Open on its own goroutine and races it against the context.
// If the context wins, the eventual open result is closed in the background
// so a late-attaching producer does not leak a descriptor.
func (d *StreamDevice) open(ctx context.Context) (*os.File, error) {
	type result struct {
		file *os.File
		err  error
	}

	ch := make(chan result, 1)
	go func() {
		file, err := os.Open(d.path)
		ch <- result{file: file, err: err}
	}()

	select {
	case res := <-ch:
		return res.file, res.err
	case <-ctx.Done():
		go func() {
			if res := <-ch; res.file != nil {
				res.file.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

// streamHandle is one live capture handle over an open PCM stream
type streamHandle struct {
	file    *os.File
	samples chan []float32
	errs    chan error
	done    chan struct{}

	mu       sync.Mutex
	lastRead time.Time
	closed   bool
}

func (h *streamHandle) readLoop() {
	defer close(h.samples)

	buf := make([]byte, readBlock)
	for {
		n, err := io.ReadFull(h.file, buf)
		if n > 0 {
			h.mu.Lock()
			h.lastRead = time.Now()
			h.mu.Unlock()

			select {
			case h.samples <- audio.DecodePCM16(buf[:n]):
			case <-h.done:
				return
			}
		}

		if err != nil {
			// A read failure after Close is the normal teardown path. Before
			// Close, EOF means the producer detached mid-recording and the
			// manager should attempt recovery.
			select {
			case <-h.done:
			default:
				select {
				case h.errs <- fmt.Errorf("audio stream read failed: %w", err):
				default:
				}
			}
			return
		}
	}
}

// Samples delivers decoded sample blocks from the stream
func (h *streamHandle) Samples() <-chan []float32 {
	return h.samples
}

// Errors delivers stream-level failures
func (h *streamHandle) Errors() <-chan error {
	return h.errs
}

// Healthy reports whether the stream delivered samples recently
func (h *streamHandle) Healthy() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return false
	}
	return time.Since(h.lastRead) < healthyWindow
}

// Close releases the stream. Idempotent.
func (h *streamHandle) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	close(h.done)
	h.mu.Unlock()

	return h.file.Close()
}

var _ Device = (*StreamDevice)(nil)
