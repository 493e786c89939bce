package audio

import (
	"sync"
)

// EncodePCM16 converts floating-point samples in [-1, 1] to 16-bit signed
// little-endian PCM. Out-of-range samples are clamped. Negative samples scale
// by 0x8000 and positive samples by 0x7FFF so both extremes map onto the full
// int16 range without overflow.
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}

		var v int16
		if s < 0 {
			v = int16(s * 0x8000)
		} else {
			v = int16(s * 0x7FFF)
		}

		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}

// DecodePCM16 converts 16-bit signed little-endian PCM back to
// floating-point samples in [-1, 1]. Inverse of EncodePCM16. A trailing
// odd byte is dropped.
func DecodePCM16(pcm []byte) []float32 {
	out := make([]float32, len(pcm)/2)
	for i := range out {
		v := int16(uint16(pcm[i*2]) | uint16(pcm[i*2+1])<<8)
		if v < 0 {
			out[i] = float32(v) / 0x8000
		} else {
			out[i] = float32(v) / 0x7FFF
		}
	}
	return out
}

// ChunkBuffer accumulates a continuous PCM byte stream and drains it as
// wire-size-bounded frames. It is the single handoff point between the audio
// producer and the network consumer: Append is called from the capture path,
// Drain from the sender's timer.
type ChunkBuffer struct {
	data []byte
	mu   sync.Mutex
}

// NewChunkBuffer creates an empty chunk buffer.
func NewChunkBuffer() *ChunkBuffer {
	return &ChunkBuffer{
		data: make([]byte, 0, 64*1024),
	}
}

// Append adds PCM bytes to the tail of the accumulator.
func (b *ChunkBuffer) Append(pcm []byte) {
	if len(pcm) == 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = append(b.data, pcm...)
}

// Drain removes and returns complete frames of exactly ceiling bytes, in
// arrival order. Trailing bytes that do not fill a whole frame stay buffered
// for the next drain, so no emitted frame ever exceeds the ceiling and no
// audio is reordered or lost.
func (b *ChunkBuffer) Drain(ceiling int) [][]byte {
	if ceiling <= 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(b.data) / ceiling
	if n == 0 {
		return nil
	}

	frames := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		frame := make([]byte, ceiling)
		copy(frame, b.data[i*ceiling:(i+1)*ceiling])
		frames = append(frames, frame)
	}

	remaining := len(b.data) - n*ceiling
	copy(b.data, b.data[n*ceiling:])
	b.data = b.data[:remaining]

	return frames
}

// Flush removes and returns everything still buffered, including the trailing
// partial frame. Used when a session stops and the remainder must go out.
func (b *ChunkBuffer) Flush() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.data) == 0 {
		return nil
	}

	out := make([]byte, len(b.data))
	copy(out, b.data)
	b.data = b.data[:0]
	return out
}

// TrimToLast discards all but the newest n bytes. Used on reconnect so only
// a bounded tail of outage audio is replayed, keeping every resumed message
// inside the protocol's per-message duration limit.
func (b *ChunkBuffer) TrimToLast(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if n < 0 {
		n = 0
	}

	if len(b.data) > n {
		copy(b.data, b.data[len(b.data)-n:])
		b.data = b.data[:n]
	}
}

// Len returns the number of buffered bytes.
func (b *ChunkBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}
