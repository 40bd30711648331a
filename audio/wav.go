package audio

import (
	"encoding/binary"
	"math"
)

const wavHeaderSize = 44

// EncodeWAV re-quantizes the buffer to 16-bit PCM and prepends a RIFF/WAVE
// header so the result can be uploaded or served as a regular audio file.
func EncodeWAV(b *Buffer) []byte {
	dataSize := len(b.Samples) * 2
	out := make([]byte, wavHeaderSize+dataSize)
	copy(out, wavHeader(dataSize, b.Channels, b.SampleRate, BitsPerSample))

	pcm := out[wavHeaderSize:]
	for i, s := range b.Samples {
		binary.LittleEndian.PutUint16(pcm[2*i:], uint16(quantize(s)))
	}
	return out
}

// quantize is the inverse of the decoder's int16/32768 normalization.
func quantize(s float32) int16 {
	v := math.Round(float64(s) * 32768.0)
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

// wavHeader creates a simple WAV header. dataSize is the size of the raw audio
// data chunk only.
func wavHeader(dataSize, numChannels, sampleRate, bitsPerSample int) []byte {
	header := make([]byte, wavHeaderSize)
	byteRate := uint32(sampleRate * numChannels * bitsPerSample / 8)
	blockAlign := uint16(numChannels * bitsPerSample / 8)

	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], uint32(dataSize+36))
	copy(header[8:12], "WAVE")

	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16) // PCM fmt chunk size
	binary.LittleEndian.PutUint16(header[20:22], 1)  // PCM
	binary.LittleEndian.PutUint16(header[22:24], uint16(numChannels))
	binary.LittleEndian.PutUint32(header[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(header[28:32], byteRate)
	binary.LittleEndian.PutUint16(header[32:34], blockAlign)
	binary.LittleEndian.PutUint16(header[34:36], uint16(bitsPerSample))

	copy(header[36:40], "data")
	binary.LittleEndian.PutUint32(header[40:44], uint32(dataSize))
	return header
}
