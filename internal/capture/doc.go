// Package capture owns the microphone device and the recording lifecycle:
// timers for the duration ceiling, periodic local backups, device health
// checks, and bounded recovery-by-restart when the recorder misbehaves.
// A finished recording is finalized into a single WAV blob and handed to
// the background processing queue.
package capture
