// Package audio handles PCM encoding, wire-frame chunking, and WAV container
// encoding. It converts floating-point capture samples into the 16 kHz mono
// 16-bit PCM stream the streaming protocol expects, and slices the outbound
// byte accumulator into frames bounded by the protocol's per-message ceiling.
package audio
