// Package transcription provides the batch speech-to-text client: raw audio
// upload with bounded retries, job submission, and polling until a terminal
// state or a wall-clock timeout.
package transcription
