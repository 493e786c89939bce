// Package streaming manages the realtime transcription session: ephemeral
// token acquisition, the duplex websocket to the speech-to-text service,
// outbound audio frame delivery, turn accumulation, and reconnection with
// bounded attempts and proactive token refresh.
package streaming
