package audio

import (
	"math"
	"testing"
)

func sine(n, sampleRate int, freq, amplitude float64) []int16 {
	samples := make([]int16, n)
	for i := range samples {
		t := float64(i) / float64(sampleRate)
		samples[i] = int16(amplitude * math.Sin(2*math.Pi*freq*t))
	}
	return samples
}

func TestEncodeWAV(t *testing.T) {
	// 440Hz sine wave for 0.1 seconds at 16kHz
	sampleRate := 16000
	samples := sine(1600, sampleRate, 440, 16383)

	format := Format{SampleRate: sampleRate, Channels: 1, BitsPerSample: 16}
	wavData, err := EncodeWAV(samples, format)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	expectedSize := 44 + len(samples)*2
	if len(wavData) != expectedSize {
		t.Errorf("Expected WAV size %d, got %d", expectedSize, len(wavData))
	}

	if err := ValidateWAV(wavData); err != nil {
		t.Errorf("Generated WAV is invalid: %v", err)
	}

	info, err := GetWAVInfo(wavData)
	if err != nil {
		t.Fatalf("Failed to get WAV info: %v", err)
	}

	if info.SampleRate != uint32(sampleRate) {
		t.Errorf("Expected sample rate %d, got %d", sampleRate, info.SampleRate)
	}

	if info.Channels != 1 {
		t.Errorf("Expected 1 channel, got %d", info.Channels)
	}

	if info.BitsPerSample != 16 {
		t.Errorf("Expected 16 bits per sample, got %d", info.BitsPerSample)
	}

	if math.Abs(info.Duration-0.1) > 0.001 {
		t.Errorf("Expected duration 0.1s, got %f", info.Duration)
	}
}

func TestEncodeDecodeWAV(t *testing.T) {
	original := []int16{0, 1000, -1000, 32767, -32768, 16383, -16383}
	format := Format{SampleRate: 16000, Channels: 1, BitsPerSample: 16}

	wavData, err := EncodeWAV(original, format)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	decoded, decodedFormat, err := DecodeWAV(wavData)
	if err != nil {
		t.Fatalf("DecodeWAV failed: %v", err)
	}

	if decodedFormat != format {
		t.Errorf("Expected format %+v, got %+v", format, decodedFormat)
	}

	if len(decoded) != len(original) {
		t.Fatalf("Expected %d samples, got %d", len(original), len(decoded))
	}

	for i := range original {
		if decoded[i] != original[i] {
			t.Errorf("Sample %d: expected %d, got %d", i, original[i], decoded[i])
		}
	}
}

func TestEncodeWAVStereo(t *testing.T) {
	format := Format{SampleRate: 8000, Channels: 2, BitsPerSample: 16}

	wavData, err := EncodeWAV([]int16{1, 2, 3, 4}, format)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	info, err := GetWAVInfo(wavData)
	if err != nil {
		t.Fatalf("Failed to get WAV info: %v", err)
	}

	if info.NumFrames != 2 {
		t.Errorf("Expected 2 frames, got %d", info.NumFrames)
	}

	if _, err := EncodeWAV([]int16{1, 2, 3}, format); err == nil {
		t.Error("Expected error for partial stereo frame")
	}
}

func TestEncodeFloatWAV(t *testing.T) {
	samples := []float32{0, 0.5, -0.5, 1.5, -2, 0.25}

	wavData, err := EncodeFloatWAV(samples, 16000)
	if err != nil {
		t.Fatalf("EncodeFloatWAV failed: %v", err)
	}

	info, err := GetWAVInfo(wavData)
	if err != nil {
		t.Fatalf("Failed to get WAV info: %v", err)
	}

	if info.AudioFormat != 3 {
		t.Errorf("Expected IEEE float format 3, got %d", info.AudioFormat)
	}

	if info.BitsPerSample != 32 {
		t.Errorf("Expected 32 bits per sample, got %d", info.BitsPerSample)
	}

	decoded, rate, err := DecodeFloatWAV(wavData)
	if err != nil {
		t.Fatalf("DecodeFloatWAV failed: %v", err)
	}

	if rate != 16000 {
		t.Errorf("Expected sample rate 16000, got %d", rate)
	}

	expected := []float32{0, 0.5, -0.5, 1, -1, 0.25}
	for i := range expected {
		if decoded[i] != expected[i] {
			t.Errorf("Sample %d: expected %f, got %f", i, expected[i], decoded[i])
		}
	}

	// PCM decoder must refuse float data
	if _, _, err := DecodeWAV(wavData); err == nil {
		t.Error("Expected DecodeWAV to reject float WAV")
	}
}

func TestEncodeWAVErrors(t *testing.T) {
	tests := []struct {
		name    string
		samples []int16
		format  Format
	}{
		{"empty samples", nil, Format{SampleRate: 16000, Channels: 1, BitsPerSample: 16}},
		{"zero sample rate", []int16{1}, Format{SampleRate: 0, Channels: 1, BitsPerSample: 16}},
		{"8-bit", []int16{1}, Format{SampleRate: 16000, Channels: 1, BitsPerSample: 8}},
		{"no channels", []int16{1}, Format{SampleRate: 16000, Channels: 0, BitsPerSample: 16}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := EncodeWAV(tt.samples, tt.format); err == nil {
				t.Error("Expected error but got none")
			}
		})
	}

	if _, err := EncodeFloatWAV(nil, 16000); err == nil {
		t.Error("Expected error for empty float samples")
	}
}

func TestValidateWAV(t *testing.T) {
	valid, err := EncodeWAV([]int16{1, 2, 3}, Format{SampleRate: 16000, Channels: 1, BitsPerSample: 16})
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	corrupt := func(offset int, value string) []byte {
		data := make([]byte, len(valid))
		copy(data, valid)
		copy(data[offset:], value)
		return data
	}

	tests := []struct {
		name    string
		data    []byte
		wantErr bool
	}{
		{"valid", valid, false},
		{"too short", valid[:20], true},
		{"bad riff", corrupt(0, "RIFX"), true},
		{"bad wave", corrupt(8, "WAVX"), true},
		{"bad fmt", corrupt(12, "fmtx"), true},
		{"bad data", corrupt(36, "datx"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateWAV(tt.data)
			if (err != nil) != tt.wantErr {
				t.Errorf("Expected error=%v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestDecodeWAVTruncated(t *testing.T) {
	wavData, err := EncodeWAV([]int16{1, 2, 3, 4}, Format{SampleRate: 16000, Channels: 1, BitsPerSample: 16})
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	if _, _, err := DecodeWAV(wavData[:len(wavData)-2]); err == nil {
		t.Error("Expected error for truncated data chunk")
	}
}

func BenchmarkEncodeWAV(b *testing.B) {
	samples := sine(16000, 16000, 440, 16383)
	format := Format{SampleRate: 16000, Channels: 1, BitsPerSample: 16}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, err := EncodeWAV(samples, format)
		if err != nil {
			b.Fatalf("EncodeWAV failed: %v", err)
		}
	}
}
