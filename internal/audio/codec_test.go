package audio

import (
	"bytes"
	"testing"
)

func TestEncodePCM16(t *testing.T) {
	tests := []struct {
		name     string
		samples  []float32
		expected []byte
	}{
		{
			name:     "silence",
			samples:  []float32{0, 0},
			expected: []byte{0, 0, 0, 0},
		},
		{
			name:     "full scale positive",
			samples:  []float32{1.0},
			expected: []byte{0xFF, 0x7F}, // 32767 little-endian
		},
		{
			name:     "full scale negative",
			samples:  []float32{-1.0},
			expected: []byte{0x00, 0x80}, // -32768 little-endian
		},
		{
			name:     "clamps above range",
			samples:  []float32{2.5},
			expected: []byte{0xFF, 0x7F},
		},
		{
			name:     "clamps below range",
			samples:  []float32{-2.5},
			expected: []byte{0x00, 0x80},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EncodePCM16(tt.samples)
			if !bytes.Equal(got, tt.expected) {
				t.Errorf("EncodePCM16(%v) = %v, expected %v", tt.samples, got, tt.expected)
			}
		})
	}
}

func TestEncodePCM16Length(t *testing.T) {
	samples := make([]float32, 1600) // 100ms at 16kHz
	pcm := EncodePCM16(samples)
	if len(pcm) != 3200 {
		t.Errorf("Expected 3200 bytes, got %d", len(pcm))
	}
}

func TestChunkBufferDrainRetainsPartial(t *testing.T) {
	// Three 4000-byte chunks against a 10000-byte ceiling must yield a
	// single full frame with 2000 bytes left buffered.
	buf := NewChunkBuffer()
	for i := 0; i < 3; i++ {
		chunk := make([]byte, 4000)
		for j := range chunk {
			chunk[j] = byte(i)
		}
		buf.Append(chunk)
	}

	frames := buf.Drain(10000)
	if len(frames) != 1 {
		t.Fatalf("Expected 1 frame, got %d", len(frames))
	}

	if len(frames[0]) != 10000 {
		t.Errorf("Expected frame of 10000 bytes, got %d", len(frames[0]))
	}

	if buf.Len() != 2000 {
		t.Errorf("Expected 2000 bytes retained, got %d", buf.Len())
	}

	// The retained tail belongs to the third chunk.
	rest := buf.Flush()
	for i, b := range rest {
		if b != 2 {
			t.Fatalf("Retained byte %d = %d, expected 2", i, b)
		}
	}
}

func TestChunkBufferFrameSizeBound(t *testing.T) {
	buf := NewChunkBuffer()
	ceiling := 25600

	// Irregular arrival sizes, same as audio-callback cadence jitter.
	for _, size := range []int{100, 3200, 25600, 51200, 7, 25599, 25601} {
		buf.Append(make([]byte, size))

		for _, frame := range buf.Drain(ceiling) {
			if len(frame) > ceiling {
				t.Fatalf("Frame of %d bytes exceeds ceiling %d", len(frame), ceiling)
			}
		}
	}
}

func TestChunkBufferDrainPreservesOrder(t *testing.T) {
	buf := NewChunkBuffer()
	data := make([]byte, 300)
	for i := range data {
		data[i] = byte(i)
	}
	buf.Append(data[:120])
	buf.Append(data[120:])

	var got []byte
	for _, frame := range buf.Drain(100) {
		got = append(got, frame...)
	}
	got = append(got, buf.Flush()...)

	if !bytes.Equal(got, data) {
		t.Error("Drained bytes do not match appended bytes in order")
	}
}

func TestChunkBufferTrimToLast(t *testing.T) {
	buf := NewChunkBuffer()
	data := make([]byte, 100)
	for i := range data {
		data[i] = byte(i)
	}
	buf.Append(data)

	buf.TrimToLast(30)

	if buf.Len() != 30 {
		t.Fatalf("Expected 30 bytes after trim, got %d", buf.Len())
	}

	rest := buf.Flush()
	if !bytes.Equal(rest, data[70:]) {
		t.Error("TrimToLast did not keep the newest bytes")
	}

	// Trimming below zero clears the buffer entirely.
	buf.Append(data)
	buf.TrimToLast(-1)
	if buf.Len() != 0 {
		t.Errorf("Expected empty buffer after negative trim, got %d bytes", buf.Len())
	}
}

func TestChunkBufferDrainEmpty(t *testing.T) {
	buf := NewChunkBuffer()
	if frames := buf.Drain(1000); frames != nil {
		t.Errorf("Expected nil frames from empty buffer, got %d", len(frames))
	}
	if out := buf.Flush(); out != nil {
		t.Errorf("Expected nil flush from empty buffer, got %d bytes", len(out))
	}
}
