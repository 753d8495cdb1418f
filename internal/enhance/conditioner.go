package enhance

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"
)

var (
	// ErrTooShort is returned when a segment is too short for the band-pass filter
	ErrTooShort = errors.New("segment too short to filter")
	// ErrInvalidBand is returned when the pass band does not fit below Nyquist
	ErrInvalidBand = errors.New("invalid pass band")
	// ErrNonFinite is returned when a stage produces NaN or Inf
	ErrNonFinite = errors.New("non-finite sample")
)

// Status describes how a stage or a whole conditioning run ended
type Status int

const (
	StatusOk Status = iota
	StatusDegraded
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusOk:
		return "ok"
	case StatusDegraded:
		return "degraded"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// MarshalText renders the status by name in JSON and logs
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Stage names, in processing order
const (
	StageNoiseGate  = "noise_gate"
	StageBandpass   = "bandpass"
	StageCompressor = "compressor"
	StageAGC        = "agc"
	StageWiener     = "wiener"
	StageQuantize   = "quantize"
)

// StageReport records the outcome of one stage
type StageReport struct {
	Name    string `json:"name"`
	Status  Status `json:"status"`
	Skipped bool   `json:"skipped,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

// Result is the output of Conditioner.Process. Samples always has the same
// length as the input. When Status is StatusDegraded, Samples is the original
// input and Reason explains which stage failed.
type Result struct {
	Samples  []int16
	Status   Status
	Reason   string
	Err      error
	Stages   []StageReport
	Duration time.Duration
}

// Config holds the stage parameters
type Config struct {
	SampleRate       int
	NoiseLeadSeconds float64 // lead-in used to estimate the noise floor
	NoiseFactor      float64 // noise threshold = factor * mean |lead-in|
	NoiseAttenuation float64 // gain applied below the noise threshold
	LowCutHz         float64
	HighCutHz        float64
	FilterOrder      int
	CompressorKnee   float64 // threshold as a fraction of peak
	CompressorRatio  float64
	TargetRMS        float64 // fraction of full scale
	MaxGain          float64
	WienerWindow     int // upper bound on the envelope window in samples
}

// DefaultConfig returns the voice-band defaults for 16 kHz capture
func DefaultConfig() Config {
	return Config{
		SampleRate:       16000,
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
	}
}

const fullScale = 32768.0

// Conditioner runs the five enhancement stages over complete segments. It
// holds no per-segment state and is safe for concurrent use.
type Conditioner struct {
	config   Config
	sections []Section
	logger   *slog.Logger
}

// NewConditioner designs the band-pass filter and validates the parameters.
func NewConditioner(logger *slog.Logger, config Config) (*Conditioner, error) {
	if config.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", config.SampleRate)
	}
	if config.CompressorRatio < 1 {
		return nil, fmt.Errorf("compressor ratio must be at least 1, got %f", config.CompressorRatio)
	}
	if config.WienerWindow < 1 {
		return nil, fmt.Errorf("wiener window must be at least 1, got %d", config.WienerWindow)
	}

	sections, err := DesignBandpass(config.FilterOrder, config.LowCutHz, config.HighCutHz, float64(config.SampleRate))
	if err != nil {
		return nil, fmt.Errorf("failed to design band-pass filter: %w", err)
	}

	return &Conditioner{
		config:   config,
		sections: sections,
		logger:   logger,
	}, nil
}

// Sections returns the band-pass filter used by the conditioner
func (c *Conditioner) Sections() []Section {
	return c.sections
}

type stage struct {
	name string
	run  func(x []float64) (StageReport, []float64, error)
}

// Process conditions one segment. It never fails: when any stage fails, the
// original samples are returned with StatusDegraded.
func (c *Conditioner) Process(samples []int16) Result {
	start := time.Now()

	x := make([]float64, len(samples))
	for i, s := range samples {
		x[i] = float64(s)
	}

	stages := []stage{
		{StageNoiseGate, c.noiseGate},
		{StageBandpass, c.bandpass},
		{StageCompressor, c.compress},
		{StageAGC, c.agc},
		{StageWiener, c.wiener},
	}

	result := Result{Stages: make([]StageReport, 0, len(stages)+1)}

	for _, st := range stages {
		report, out, err := st.run(x)
		report.Name = st.name
		if err == nil {
			err = checkFinite(out)
		}
		if err != nil {
			report.Status = StatusFailed
			report.Detail = err.Error()
			result.Stages = append(result.Stages, report)
			return c.failClosed(samples, result, st.name, err, start)
		}
		result.Stages = append(result.Stages, report)
		x = out
	}

	result.Samples = quantize(x)
	result.Stages = append(result.Stages, StageReport{Name: StageQuantize, Status: StatusOk})
	result.Status = StatusOk
	result.Duration = time.Since(start)
	return result
}

func (c *Conditioner) failClosed(original []int16, result Result, stageName string, err error, start time.Time) Result {
	result.Samples = make([]int16, len(original))
	copy(result.Samples, original)
	result.Status = StatusDegraded
	result.Reason = fmt.Sprintf("%s: %v", stageName, err)
	result.Err = err
	result.Duration = time.Since(start)

	if c.logger != nil {
		c.logger.Warn("Enhancement failed, using original audio",
			slog.String("stage", stageName),
			slog.Int("samples", len(original)),
			slog.String("error", err.Error()))
	}

	return result
}

// noiseGate attenuates samples below a threshold estimated from the lead-in
func (c *Conditioner) noiseGate(x []float64) (StageReport, []float64, error) {
	if len(x) == 0 {
		return StageReport{Skipped: true, Detail: "empty segment"}, x, nil
	}
	lead := int(c.config.NoiseLeadSeconds * float64(c.config.SampleRate))
	lead = min(max(lead, 1), len(x))

	var sum float64
	for _, v := range x[:lead] {
		sum += math.Abs(v)
	}
	threshold := c.config.NoiseFactor * sum / float64(lead)

	out := make([]float64, len(x))
	gated := 0
	for i, v := range x {
		if math.Abs(v) < threshold {
			out[i] = v * c.config.NoiseAttenuation
			gated++
		} else {
			out[i] = v
		}
	}

	return StageReport{Detail: fmt.Sprintf("threshold=%.1f gated=%d", threshold, gated)}, out, nil
}

func (c *Conditioner) bandpass(x []float64) (StageReport, []float64, error) {
	out, err := FiltFilt(c.sections, x)
	if err != nil {
		return StageReport{}, nil, err
	}
	return StageReport{Detail: fmt.Sprintf("%.0f-%.0f Hz", c.config.LowCutHz, c.config.HighCutHz)}, out, nil
}

// compress applies a hard-knee compressor relative to the segment peak
func (c *Conditioner) compress(x []float64) (StageReport, []float64, error) {
	peak := peakOf(x)
	if peak == 0 {
		return StageReport{Skipped: true, Detail: "silent segment"}, x, nil
	}

	threshold := c.config.CompressorKnee * peak
	out := make([]float64, len(x))
	compressed := 0
	for i, v := range x {
		a := math.Abs(v)
		if a > threshold {
			out[i] = math.Copysign(threshold+(a-threshold)/c.config.CompressorRatio, v)
			compressed++
		} else {
			out[i] = v
		}
	}

	return StageReport{Detail: fmt.Sprintf("threshold=%.1f compressed=%d", threshold, compressed)}, out, nil
}

// agc scales the segment toward the target RMS with a capped gain
func (c *Conditioner) agc(x []float64) (StageReport, []float64, error) {
	rms := rmsOf(x)
	if rms == 0 {
		return StageReport{Skipped: true, Detail: "silent segment"}, x, nil
	}

	gain := min(c.config.TargetRMS*fullScale/rms, c.config.MaxGain)
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = v * gain
	}

	return StageReport{Detail: fmt.Sprintf("gain=%.3f", gain)}, out, nil
}

// wiener applies a per-sample gain P_s/(P_s+P_n) where the noise power is
// taken from the first envelope window
func (c *Conditioner) wiener(x []float64) (StageReport, []float64, error) {
	if len(x) == 0 {
		return StageReport{Skipped: true, Detail: "empty segment"}, x, nil
	}
	window := max(min(c.config.WienerWindow, len(x)/8), 1)

	env := movingAverageAbs(x, window)

	var noise float64
	head := min(window, len(env))
	for _, e := range env[:head] {
		noise += e * e
	}
	noise /= float64(head)

	out := make([]float64, len(x))
	for i, v := range x {
		ps := env[i] * env[i]
		g := 1.0
		if ps+noise > 0 {
			g = ps / (ps + noise)
		}
		out[i] = v * g
	}

	return StageReport{Detail: fmt.Sprintf("window=%d noise_power=%.1f", window, noise)}, out, nil
}

// movingAverageAbs returns the centred moving average of |x| with the given
// window. Samples outside the signal count as zero.
func movingAverageAbs(x []float64, window int) []float64 {
	prefix := make([]float64, len(x)+1)
	for i, v := range x {
		prefix[i+1] = prefix[i] + math.Abs(v)
	}

	left := (window - 1) / 2
	env := make([]float64, len(x))
	for i := range x {
		lo := max(i-left, 0)
		hi := min(i-left+window, len(x))
		env[i] = (prefix[hi] - prefix[lo]) / float64(window)
	}
	return env
}

func quantize(x []float64) []int16 {
	out := make([]int16, len(x))
	for i, v := range x {
		v = math.Round(v)
		out[i] = int16(max(-32768, min(32767, v)))
	}
	return out
}

func checkFinite(x []float64) error {
	for i, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w at index %d", ErrNonFinite, i)
		}
	}
	return nil
}

func peakOf(x []float64) float64 {
	var peak float64
	for _, v := range x {
		peak = max(peak, math.Abs(v))
	}
	return peak
}

func rmsOf(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	var sum float64
	for _, v := range x {
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(x)))
}
