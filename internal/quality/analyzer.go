package quality

import (
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
	"gonum.org/v1/gonum/floats"
)

// Level is the verdict on a segment's peak amplitude
type Level string

const (
	LevelVeryLow  Level = "very_low"
	LevelLow      Level = "low"
	LevelGood     Level = "good"
	LevelClipping Level = "clipping"
)

// Rating grades speech-band content and SNR
type Rating string

const (
	RatingGood     Rating = "good"
	RatingModerate Rating = "moderate"
	RatingPoor     Rating = "poor"
)

const (
	veryLowPeak  = 1000
	lowPeak      = 5000
	clippingPeak = 30000

	maxFFTSize = 4096
)

// MaxSNR is reported when the noise floor estimate is zero
const MaxSNR = 120.0

// Report holds signal statistics for one segment
type Report struct {
	Samples         int           `json:"samples"`
	Duration        time.Duration `json:"duration"`
	Peak            int           `json:"peak"`
	Min             int           `json:"min"`
	Max             int           `json:"max"`
	RMS             float64       `json:"rms"`
	SNR             float64       `json:"snr_db"` // capped at MaxSNR
	SpeechBandRatio float64       `json:"speech_band_ratio"`
	DominantHz      float64       `json:"dominant_hz"`
	Level           Level         `json:"level"`
	SpeechContent   Rating        `json:"speech_content"`
	NoiseRating     Rating        `json:"noise_rating"`
}

// Analyzer computes quality reports for PCM-16 segments
type Analyzer struct {
	sampleRate int
	bandLow    float64
	bandHigh   float64
}

// NewAnalyzer creates an analyzer measuring speech content in [bandLow, bandHigh] Hz
func NewAnalyzer(sampleRate int, bandLow, bandHigh float64) *Analyzer {
	return &Analyzer{
		sampleRate: sampleRate,
		bandLow:    bandLow,
		bandHigh:   bandHigh,
	}
}

// Analyze measures a segment. It never fails; an empty segment yields a zero
// report with LevelVeryLow.
func (a *Analyzer) Analyze(samples []int16) Report {
	report := Report{
		Samples:       len(samples),
		Level:         LevelVeryLow,
		SpeechContent: RatingPoor,
		NoiseRating:   RatingPoor,
	}
	if len(samples) == 0 || a.sampleRate <= 0 {
		return report
	}
	report.Duration = time.Duration(len(samples)) * time.Second / time.Duration(a.sampleRate)

	x := make([]float64, len(samples))
	abs := make([]float64, len(samples))
	for i, s := range samples {
		x[i] = float64(s)
		abs[i] = math.Abs(x[i])
	}

	report.Min = int(floats.Min(x))
	report.Max = int(floats.Max(x))
	report.Peak = int(floats.Max(abs))
	report.RMS = math.Sqrt(floats.Dot(x, x) / float64(len(x)))
	report.SNR = snr(abs, report.RMS)
	report.SpeechBandRatio, report.DominantHz = a.spectrum(x)

	report.Level = levelOf(report.Peak)
	report.SpeechContent = rate(report.SpeechBandRatio, 0.6, 0.3)
	report.NoiseRating = rate(report.SNR, 20, 10)

	return report
}

// snr estimates the signal-to-noise ratio from the mean of the quietest 10%
// of sample magnitudes.
func snr(abs []float64, rms float64) float64 {
	if rms == 0 {
		return 0
	}

	sorted := make([]float64, len(abs))
	copy(sorted, abs)
	sort.Float64s(sorted)

	n := len(sorted) / 10
	if n == 0 {
		return MaxSNR
	}
	floor := floats.Sum(sorted[:n]) / float64(n)
	if floor == 0 {
		return MaxSNR
	}

	return min(20*math.Log10(rms/floor), MaxSNR)
}

// spectrum returns the share of power inside the speech band and the
// strongest non-DC frequency, from a Hann-windowed FFT of the segment start.
func (a *Analyzer) spectrum(x []float64) (ratio, dominant float64) {
	size := min(len(x), maxFFTSize)
	if size < 2 {
		return 0, 0
	}

	seq := make([]float64, size)
	copy(seq, x[:size])
	window.Hann(seq)

	fft := fourier.NewFFT(size)
	coeffs := fft.Coefficients(nil, seq)

	var speech, total, best float64
	for i := 0; i < size/2; i++ {
		freq := fft.Freq(i) * float64(a.sampleRate)
		mag := math.Hypot(real(coeffs[i]), imag(coeffs[i]))
		power := mag * mag
		total += power
		if freq >= a.bandLow && freq <= a.bandHigh {
			speech += power
		}
		if i > 0 && mag > best {
			best = mag
			dominant = freq
		}
	}

	if total > 0 {
		ratio = speech / total
	}
	return ratio, dominant
}

func levelOf(peak int) Level {
	switch {
	case peak < veryLowPeak:
		return LevelVeryLow
	case peak < lowPeak:
		return LevelLow
	case peak > clippingPeak:
		return LevelClipping
	default:
		return LevelGood
	}
}

func rate(value, good, moderate float64) Rating {
	switch {
	case value > good:
		return RatingGood
	case value > moderate:
		return RatingModerate
	default:
		return RatingPoor
	}
}
