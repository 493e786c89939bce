package capture

import (
	"context"
	"errors"
)

// Sentinel errors surfaced to the operator before or during capture
var (
	ErrSubjectNameRequired = errors.New("subject name is required")
	ErrPermissionDenied    = errors.New("microphone permission denied")
	ErrNoSupportedEncoding = errors.New("no supported audio encoding")
	ErrNoAudio             = errors.New("no audio captured")
)

// preferredEncoding is picked when the device supports it; otherwise the
// first supported alternative is used.
const preferredEncoding = "wav"

// Device abstracts the microphone. Implementations wrap the platform audio
// backend; tests substitute fakes.
type Device interface {
	// SupportedEncodings reports the container formats the device can
	// produce, in the device's preference order.
	SupportedEncodings() []string

	// Acquire opens the device for capture at the given encoding and
	// sample rate. Returns ErrPermissionDenied when the operator has not
	// granted microphone access.
	Acquire(ctx context.Context, encoding string, sampleRate int) (Handle, error)
}

// Handle is one live capture handle. Exclusively owned by a single manager;
// reacquiring during recovery fully releases the prior handle first.
type Handle interface {
	// Samples delivers float32 sample blocks from the audio producer.
	// Closed when the device stops producing.
	Samples() <-chan []float32

	// Errors delivers device-level failures (track ended, backend fault).
	Errors() <-chan error

	// Healthy reports whether the device still has live, enabled tracks.
	Healthy() bool

	// Close releases the device.
	Close() error
}

// pickEncoding selects the capture encoding from a capability probe
func pickEncoding(supported []string) (string, error) {
	for _, encoding := range supported {
		if encoding == preferredEncoding {
			return encoding, nil
		}
	}
	if len(supported) > 0 {
		return supported[0], nil
	}
	return "", ErrNoSupportedEncoding
}
