// Package audio turns the speech payload returned by the TTS model into
// playable sample buffers.
package audio

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"time"
)

const (
	// SampleRate of the PCM the TTS model emits
	SampleRate = 24000
	// Channels of the PCM the TTS model emits
	Channels = 1
	// BitsPerSample of the PCM the TTS model emits
	BitsPerSample = 16
)

// Buffer is a decoded, normalized mono sample buffer.
type Buffer struct {
	SampleRate int
	Channels   int
	Samples    []float32
}

// Frames is the number of sample frames in the buffer.
func (b *Buffer) Frames() int {
	if b.Channels <= 0 {
		return 0
	}
	return len(b.Samples) / b.Channels
}

// Duration is the playback length of the buffer.
func (b *Buffer) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(b.Frames()) * time.Second / time.Duration(b.SampleRate)
}

// Decode converts a base64 payload of signed 16-bit little-endian mono PCM
// into a Buffer. A trailing odd byte is dropped rather than rejected.
func Decode(payload string) (*Buffer, error) {
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("audio payload is not valid base64: %w", err)
	}
	return DecodePCM(raw), nil
}

// DecodePCM normalizes raw S16LE bytes. Each sample is int16/32768.
func DecodePCM(raw []byte) *Buffer {
	n := len(raw) / 2
	samples := make([]float32, n)
	for i := 0; i < n; i++ {
		v := int16(binary.LittleEndian.Uint16(raw[2*i:]))
		samples[i] = float32(v) / 32768.0
	}
	return &Buffer{SampleRate: SampleRate, Channels: Channels, Samples: samples}
}
