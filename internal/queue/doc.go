// Package queue holds the durable, ordered queue of finished-recording jobs
// and the orchestrator that drains them strictly one at a time through
// upload, transcription, summarization, and persistence.
package queue
