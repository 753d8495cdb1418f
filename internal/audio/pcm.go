package audio

import (
	"encoding/binary"
	"fmt"
	"time"
)

// FullScale is the magnitude used to normalise PCM-16 samples to [-1, 1].
const FullScale = 32768.0

// BytesToSamples converts little-endian PCM-16 bytes to samples. A trailing
// odd byte is ignored.
func BytesToSamples(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return samples
}

// SamplesToBytes converts samples to little-endian PCM-16 bytes
func SamplesToBytes(samples []int16) []byte {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(s))
	}
	return data
}

// Normalize scales PCM-16 samples to float32 amplitudes in [-1, 1)
func Normalize(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(float64(s) / FullScale)
	}
	return out
}

// Duration returns the playback length of n mono samples at sampleRate
func Duration(n, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(sampleRate)
}

// Format describes an uncompressed PCM stream
type Format struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// Validate checks that the format can be written by EncodeWAV
func (f Format) Validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", f.SampleRate)
	}
	if f.Channels < 1 {
		return fmt.Errorf("channels must be at least 1, got %d", f.Channels)
	}
	if f.BitsPerSample != 16 {
		return fmt.Errorf("unsupported bit depth: %d (only 16-bit is supported)", f.BitsPerSample)
	}
	return nil
}

// BlockAlign returns the number of bytes per sample frame
func (f Format) BlockAlign() int {
	return f.Channels * f.BitsPerSample / 8
}
