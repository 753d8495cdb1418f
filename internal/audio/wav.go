package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

const (
	wavFormatPCM   = 1
	wavFormatFloat = 3
	wavHeaderSize  = 44
)

// WAVHeader represents the header structure of a canonical WAV file
type WAVHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // File size - 8 bytes
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM, 3 for IEEE float
	NumChannels   uint16  // Number of channels
	SampleRate    uint32  // Sample rate
	ByteRate      uint32  // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16  // NumChannels * BitsPerSample / 8
	BitsPerSample uint16  // Bits per sample
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // Number of bytes in the data
}

func newWAVHeader(audioFormat uint16, channels, sampleRate, bitsPerSample int, dataSize uint32) WAVHeader {
	blockAlign := uint16(channels * bitsPerSample / 8)
	return WAVHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   audioFormat,
		NumChannels:   uint16(channels),
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate) * uint32(blockAlign),
		BlockAlign:    blockAlign,
		BitsPerSample: uint16(bitsPerSample),
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}
}

// EncodeWAV encodes interleaved PCM-16 samples into WAV format
func EncodeWAV(samples []int16, format Format) ([]byte, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("cannot encode empty audio samples")
	}

	if err := format.Validate(); err != nil {
		return nil, err
	}

	if len(samples)%format.Channels != 0 {
		return nil, fmt.Errorf("sample count %d is not a multiple of %d channels", len(samples), format.Channels)
	}

	dataSize := uint32(len(samples) * 2)
	header := newWAVHeader(wavFormatPCM, format.Channels, format.SampleRate, format.BitsPerSample, dataSize)

	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+len(samples)*2))

	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}

	if err := binary.Write(buf, binary.LittleEndian, samples); err != nil {
		return nil, fmt.Errorf("failed to write audio data: %w", err)
	}

	return buf.Bytes(), nil
}

// EncodeFloatWAV encodes mono float32 samples in [-1, 1] as a 32-bit IEEE
// float WAV file. Values outside the range are clamped.
func EncodeFloatWAV(samples []float32, sampleRate int) ([]byte, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("cannot encode empty audio samples")
	}

	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	dataSize := uint32(len(samples) * 4)
	header := newWAVHeader(wavFormatFloat, 1, sampleRate, 32, dataSize)

	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+len(samples)*4))
	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}

	frame := make([]byte, 4)
	for _, s := range samples {
		if s != s { // NaN
			s = 0
		}
		s = max(-1, min(1, s))
		binary.LittleEndian.PutUint32(frame, math.Float32bits(s))
		buf.Write(frame)
	}

	return buf.Bytes(), nil
}

// DecodeWAV decodes PCM-16 WAV data back to interleaved samples
func DecodeWAV(data []byte) ([]int16, Format, error) {
	header, err := readHeader(data)
	if err != nil {
		return nil, Format{}, err
	}

	if header.AudioFormat != wavFormatPCM {
		return nil, Format{}, fmt.Errorf("unsupported audio format: %d (only PCM is supported)", header.AudioFormat)
	}

	if header.BitsPerSample != 16 {
		return nil, Format{}, fmt.Errorf("unsupported bit depth: %d (only 16-bit is supported)", header.BitsPerSample)
	}

	numSamples := int(header.Subchunk2Size) / 2
	if numSamples <= 0 {
		return nil, Format{}, fmt.Errorf("no audio data found")
	}
	if len(data)-wavHeaderSize < numSamples*2 {
		return nil, Format{}, fmt.Errorf("WAV data truncated: header declares %d bytes, have %d",
			header.Subchunk2Size, len(data)-wavHeaderSize)
	}

	samples := BytesToSamples(data[wavHeaderSize : wavHeaderSize+numSamples*2])
	format := Format{
		SampleRate:    int(header.SampleRate),
		Channels:      int(header.NumChannels),
		BitsPerSample: int(header.BitsPerSample),
	}

	return samples, format, nil
}

// DecodeFloatWAV decodes a mono 32-bit float WAV file
func DecodeFloatWAV(data []byte) ([]float32, int, error) {
	header, err := readHeader(data)
	if err != nil {
		return nil, 0, err
	}

	if header.AudioFormat != wavFormatFloat || header.BitsPerSample != 32 {
		return nil, 0, fmt.Errorf("expected 32-bit float WAV, got format %d with %d bits",
			header.AudioFormat, header.BitsPerSample)
	}

	numSamples := int(header.Subchunk2Size) / 4
	if len(data)-wavHeaderSize < numSamples*4 {
		return nil, 0, fmt.Errorf("WAV data truncated")
	}

	samples := make([]float32, numSamples)
	for i := range samples {
		off := wavHeaderSize + i*4
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[off:]))
	}

	return samples, int(header.SampleRate), nil
}

func readHeader(data []byte) (*WAVHeader, error) {
	if err := ValidateWAV(data); err != nil {
		return nil, err
	}

	var header WAVHeader
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("failed to read WAV header: %w", err)
	}

	return &header, nil
}

// ValidateWAV validates a WAV file format without decoding the entire audio data
func ValidateWAV(data []byte) error {
	if len(data) < wavHeaderSize {
		return fmt.Errorf("WAV data too short: need at least %d bytes, got %d", wavHeaderSize, len(data))
	}

	if string(data[0:4]) != "RIFF" {
		return fmt.Errorf("invalid WAV file: missing RIFF header")
	}

	if string(data[8:12]) != "WAVE" {
		return fmt.Errorf("invalid WAV file: missing WAVE format")
	}

	if string(data[12:16]) != "fmt " {
		return fmt.Errorf("invalid WAV file: missing fmt chunk")
	}

	if string(data[36:40]) != "data" {
		return fmt.Errorf("invalid WAV file: missing data chunk")
	}

	return nil
}

// WAVInfo holds basic information about a WAV file
type WAVInfo struct {
	AudioFormat   uint16  `json:"audio_format"`
	SampleRate    uint32  `json:"sample_rate"`
	Channels      uint16  `json:"channels"`
	BitsPerSample uint16  `json:"bits_per_sample"`
	Duration      float64 `json:"duration_seconds"`
	DataSize      uint32  `json:"data_size_bytes"`
	NumFrames     uint32  `json:"num_frames"`
}

// GetWAVInfo extracts metadata from a WAV file
func GetWAVInfo(data []byte) (*WAVInfo, error) {
	header, err := readHeader(data)
	if err != nil {
		return nil, err
	}

	if header.SampleRate == 0 || header.BlockAlign == 0 {
		return nil, fmt.Errorf("invalid WAV header: sample rate %d, block align %d",
			header.SampleRate, header.BlockAlign)
	}

	numFrames := header.Subchunk2Size / uint32(header.BlockAlign)
	duration := float64(numFrames) / float64(header.SampleRate)

	return &WAVInfo{
		AudioFormat:   header.AudioFormat,
		SampleRate:    header.SampleRate,
		Channels:      header.NumChannels,
		BitsPerSample: header.BitsPerSample,
		Duration:      duration,
		DataSize:      header.Subchunk2Size,
		NumFrames:     numFrames,
	}, nil
}
