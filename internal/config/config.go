package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	HTTP          HTTPConfig          `yaml:"http"`
	Audio         AudioConfig         `yaml:"audio"`
	Enhancement   EnhancementConfig   `yaml:"enhancement"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Delivery      DeliveryConfig      `yaml:"delivery"`
	Debug         DebugConfig         `yaml:"debug"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// ServerConfig contains UDP ingress configuration
type ServerConfig struct {
	UDPPort     int    `yaml:"udp_port"`
	BindAddress string `yaml:"bind_address"`
	BufferSize  int    `yaml:"buffer_size"` // max datagram size in bytes
	QueueSize   int    `yaml:"queue_size"`  // packets waiting for the controller
	ReadBuffer  int    `yaml:"read_buffer"` // socket receive buffer in bytes
}

// HTTPConfig contains status API server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// AudioConfig contains capture format and segmentation parameters
type AudioConfig struct {
	SampleRate        int     `yaml:"sample_rate"`
	Channels          int     `yaml:"channels"`
	BitsPerSample     int     `yaml:"bits_per_sample"`
	AudioTimeout      float64 `yaml:"audio_timeout"`       // seconds of silence that end a recording
	PollInterval      float64 `yaml:"poll_interval"`       // seconds
	MaxBufferSeconds  float64 `yaml:"max_buffer_seconds"`  // hard cap on one recording
	RetainSeconds     float64 `yaml:"retain_seconds"`      // kept after the cap is hit
	MinSegmentSeconds float64 `yaml:"min_segment_seconds"` // shorter segments are discarded
	PipelineQueue     int     `yaml:"pipeline_queue"`      // closed segments waiting for transcription
}

// EnhancementConfig contains signal conditioning parameters
type EnhancementConfig struct {
	Enabled          bool    `yaml:"enabled"`
	NoiseLeadSeconds float64 `yaml:"noise_lead_seconds"`
	NoiseFactor      float64 `yaml:"noise_factor"`
	NoiseAttenuation float64 `yaml:"noise_attenuation"`
	LowCutHz         float64 `yaml:"low_cut_hz"`
	HighCutHz        float64 `yaml:"high_cut_hz"`
	FilterOrder      int     `yaml:"filter_order"`
	CompressorKnee   float64 `yaml:"compressor_knee"` // fraction of peak
	CompressorRatio  float64 `yaml:"compressor_ratio"`
	TargetRMS        float64 `yaml:"target_rms"` // fraction of full scale
	MaxGain          float64 `yaml:"max_gain"`
	WienerWindow     int     `yaml:"wiener_window"` // samples
}

// TranscriptionConfig contains transcription service configuration
type TranscriptionConfig struct {
	Endpoint       string `yaml:"endpoint"`
	HealthEndpoint string `yaml:"health_endpoint"`
	APIKey         string `yaml:"api_key"`
	Model          string `yaml:"model"`
	Language       string `yaml:"language"`
	Task           string `yaml:"task"`
	Timeout        int    `yaml:"timeout"` // seconds
}

// DeliveryConfig describes the downstream device that receives finished text
type DeliveryConfig struct {
	DeviceIP        string `yaml:"device_ip"`
	DevicePort      int    `yaml:"device_port"`
	Path            string `yaml:"path"`
	Timeout         int    `yaml:"timeout"`          // seconds
	BreakerFailures int    `yaml:"breaker_failures"` // consecutive failures before the breaker opens
	BreakerReset    int    `yaml:"breaker_reset"`    // seconds the breaker stays open
}

// DebugConfig controls diagnostic WAV dumps
type DebugConfig struct {
	DumpDir         string `yaml:"dump_dir"`
	DumpOnRejection bool   `yaml:"dump_on_rejection"`
	DumpOnError     bool   `yaml:"dump_on_error"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns the configuration used when no config file is present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			UDPPort:     8080,
			BindAddress: "0.0.0.0",
			BufferSize:  4096,
			QueueSize:   1024,
			ReadBuffer:  1 << 20,
		},
		HTTP: HTTPConfig{
			Port:    9090,
			Address: "127.0.0.1",
			Enabled: false,
		},
		Audio: AudioConfig{
			SampleRate:        16000,
			Channels:          1,
			BitsPerSample:     16,
			AudioTimeout:      2.0,
			PollInterval:      0.1,
			MaxBufferSeconds:  30,
			RetainSeconds:     20,
			MinSegmentSeconds: 1.0,
			PipelineQueue:     2,
		},
		Enhancement: EnhancementConfig{
			Enabled:          true,
			NoiseLeadSeconds: 0.5,
			NoiseFactor:      1.5,
			NoiseAttenuation: 0.1,
			LowCutHz:         300,
			HighCutHz:        3400,
			FilterOrder:      4,
			CompressorKnee:   0.7,
			CompressorRatio:  4,
			TargetRMS:        0.15,
			MaxGain:          3.0,
			WienerWindow:     512,
		},
		Transcription: TranscriptionConfig{
			Endpoint: "http://127.0.0.1:8178/inference",
			Model:    "base",
			Language: "en",
			Task:     "transcribe",
			Timeout:  60,
		},
		Delivery: DeliveryConfig{
			DeviceIP:        "192.168.1.100",
			DevicePort:      80,
			Path:            "/receive-text",
			Timeout:         10,
			BreakerFailures: 5,
			BreakerReset:    30,
		},
		Debug: DebugConfig{
			DumpDir:         "debug_audio",
			DumpOnRejection: false,
			DumpOnError:     true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Load reads and parses the configuration file. Values absent from the file
// keep their defaults. A missing file is not an error: the defaults are
// returned and fromFile is false.
func Load(path string) (cfg *Config, fromFile bool, err error) {
	cfg = Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, false, nil
		}
		return nil, false, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, false, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, false, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, true, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Enhancement.Validate(c.Audio.SampleRate); err != nil {
		return fmt.Errorf("enhancement config: %w", err)
	}

	if err := c.Transcription.Validate(); err != nil {
		return fmt.Errorf("transcription config: %w", err)
	}

	if err := c.Delivery.Validate(); err != nil {
		return fmt.Errorf("delivery config: %w", err)
	}

	if err := c.Debug.Validate(); err != nil {
		return fmt.Errorf("debug config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	if s.UDPPort < 1 || s.UDPPort > 65535 {
		return fmt.Errorf("udp_port must be between 1 and 65535, got %d", s.UDPPort)
	}

	if s.BindAddress == "" {
		return fmt.Errorf("bind_address cannot be empty")
	}

	if s.BufferSize < 512 || s.BufferSize > 65535 {
		return fmt.Errorf("buffer_size must be between 512 and 65535 bytes, got %d", s.BufferSize)
	}

	if s.QueueSize < 1 {
		return fmt.Errorf("queue_size must be at least 1, got %d", s.QueueSize)
	}

	if s.ReadBuffer < 0 {
		return fmt.Errorf("read_buffer cannot be negative, got %d", s.ReadBuffer)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.SampleRate < 8000 || a.SampleRate > 48000 {
		return fmt.Errorf("sample_rate must be between 8000 and 48000 Hz, got %d", a.SampleRate)
	}

	if a.Channels != 1 {
		return fmt.Errorf("channels must be 1 (mono), got %d", a.Channels)
	}

	if a.BitsPerSample != 16 {
		return fmt.Errorf("bits_per_sample must be 16, got %d", a.BitsPerSample)
	}

	if a.AudioTimeout <= 0 {
		return fmt.Errorf("audio_timeout must be positive, got %f", a.AudioTimeout)
	}

	if a.PollInterval <= 0 || a.PollInterval >= a.AudioTimeout {
		return fmt.Errorf("poll_interval must be positive and shorter than audio_timeout, got %f", a.PollInterval)
	}

	if a.MaxBufferSeconds <= 0 {
		return fmt.Errorf("max_buffer_seconds must be positive, got %f", a.MaxBufferSeconds)
	}

	if a.RetainSeconds <= 0 || a.RetainSeconds >= a.MaxBufferSeconds {
		return fmt.Errorf("retain_seconds (%f) must be positive and less than max_buffer_seconds (%f)",
			a.RetainSeconds, a.MaxBufferSeconds)
	}

	if a.MinSegmentSeconds < 0 || a.MinSegmentSeconds >= a.MaxBufferSeconds {
		return fmt.Errorf("min_segment_seconds must be between 0 and max_buffer_seconds, got %f", a.MinSegmentSeconds)
	}

	if a.PipelineQueue < 1 {
		return fmt.Errorf("pipeline_queue must be at least 1, got %d", a.PipelineQueue)
	}

	return nil
}

// Validate validates enhancement configuration against the capture sample rate
func (e *EnhancementConfig) Validate(sampleRate int) error {
	if !e.Enabled {
		return nil
	}

	if e.NoiseLeadSeconds <= 0 {
		return fmt.Errorf("noise_lead_seconds must be positive, got %f", e.NoiseLeadSeconds)
	}

	if e.NoiseFactor <= 0 {
		return fmt.Errorf("noise_factor must be positive, got %f", e.NoiseFactor)
	}

	if e.NoiseAttenuation < 0 || e.NoiseAttenuation > 1 {
		return fmt.Errorf("noise_attenuation must be between 0 and 1, got %f", e.NoiseAttenuation)
	}

	nyquist := float64(sampleRate) / 2
	if e.LowCutHz <= 0 || e.HighCutHz <= e.LowCutHz || e.HighCutHz >= nyquist {
		return fmt.Errorf("band %.0f-%.0f Hz must satisfy 0 < low < high < %.0f", e.LowCutHz, e.HighCutHz, nyquist)
	}

	if e.FilterOrder < 1 || e.FilterOrder > 8 {
		return fmt.Errorf("filter_order must be between 1 and 8, got %d", e.FilterOrder)
	}

	if e.CompressorKnee <= 0 || e.CompressorKnee > 1 {
		return fmt.Errorf("compressor_knee must be in (0, 1], got %f", e.CompressorKnee)
	}

	if e.CompressorRatio < 1 {
		return fmt.Errorf("compressor_ratio must be at least 1, got %f", e.CompressorRatio)
	}

	if e.TargetRMS <= 0 || e.TargetRMS > 1 {
		return fmt.Errorf("target_rms must be in (0, 1], got %f", e.TargetRMS)
	}

	if e.MaxGain <= 0 {
		return fmt.Errorf("max_gain must be positive, got %f", e.MaxGain)
	}

	if e.WienerWindow < 1 {
		return fmt.Errorf("wiener_window must be at least 1, got %d", e.WienerWindow)
	}

	return nil
}

// Validate validates transcription configuration
func (t *TranscriptionConfig) Validate() error {
	if t.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}

	if t.Language == "" {
		return fmt.Errorf("language cannot be empty")
	}

	validTasks := map[string]bool{"transcribe": true, "translate": true}
	if !validTasks[t.Task] {
		return fmt.Errorf("task must be 'transcribe' or 'translate', got '%s'", t.Task)
	}

	if t.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", t.Timeout)
	}

	return nil
}

// Validate validates delivery configuration
func (d *DeliveryConfig) Validate() error {
	if d.DeviceIP == "" {
		return fmt.Errorf("device_ip cannot be empty")
	}

	if d.DevicePort < 1 || d.DevicePort > 65535 {
		return fmt.Errorf("device_port must be between 1 and 65535, got %d", d.DevicePort)
	}

	if d.Path == "" || d.Path[0] != '/' {
		return fmt.Errorf("path must start with '/', got '%s'", d.Path)
	}

	if d.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", d.Timeout)
	}

	if d.BreakerFailures < 1 {
		return fmt.Errorf("breaker_failures must be at least 1, got %d", d.BreakerFailures)
	}

	if d.BreakerReset < 1 {
		return fmt.Errorf("breaker_reset must be at least 1 second, got %d", d.BreakerReset)
	}

	return nil
}

// Validate validates debug dump configuration
func (d *DebugConfig) Validate() error {
	if (d.DumpOnRejection || d.DumpOnError) && d.DumpDir == "" {
		return fmt.Errorf("dump_dir cannot be empty when dumps are enabled")
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// GetAudioTimeout returns the silence timeout as a time.Duration
func (a *AudioConfig) GetAudioTimeout() time.Duration {
	return time.Duration(a.AudioTimeout * float64(time.Second))
}

// GetPollInterval returns the timeout poll interval as a time.Duration
func (a *AudioConfig) GetPollInterval() time.Duration {
	return time.Duration(a.PollInterval * float64(time.Second))
}

// MaxBufferBytes returns the hard cap on one recording in bytes
func (a *AudioConfig) MaxBufferBytes() int {
	return a.secondsToBytes(a.MaxBufferSeconds)
}

// RetainBytes returns how many bytes survive an overflow truncation
func (a *AudioConfig) RetainBytes() int {
	return a.secondsToBytes(a.RetainSeconds)
}

// MinSegmentSamples returns the shortest segment that is worth transcribing
func (a *AudioConfig) MinSegmentSamples() int {
	return int(a.MinSegmentSeconds * float64(a.SampleRate))
}

// secondsToBytes converts a duration to a whole number of sample frames in bytes
func (a *AudioConfig) secondsToBytes(seconds float64) int {
	bytesPerFrame := a.Channels * a.BitsPerSample / 8
	frames := int(seconds * float64(a.SampleRate))
	return frames * bytesPerFrame
}

// GetTimeoutDuration returns the transcription timeout as a time.Duration
func (t *TranscriptionConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(t.Timeout) * time.Second
}

// URL returns the delivery endpoint URL
func (d *DeliveryConfig) URL() string {
	return fmt.Sprintf("http://%s:%d%s", d.DeviceIP, d.DevicePort, d.Path)
}

// GetTimeoutDuration returns the delivery timeout as a time.Duration
func (d *DeliveryConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(d.Timeout) * time.Second
}

// GetBreakerResetDuration returns how long the delivery breaker stays open
func (d *DeliveryConfig) GetBreakerResetDuration() time.Duration {
	return time.Duration(d.BreakerReset) * time.Second
}
