package enhance

import (
	"errors"
	"math"
	"testing"
)

func newTestConditioner(t *testing.T) *Conditioner {
	t.Helper()
	c, err := NewConditioner(nil, DefaultConfig())
	if err != nil {
		t.Fatalf("NewConditioner failed: %v", err)
	}
	return c
}

func tone(n int, freq, amplitude float64) []int16 {
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = int16(amplitude * math.Sin(2*math.Pi*freq*float64(i)/16000))
	}
	return samples
}

func TestNewConditionerRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"zero sample rate", func(c *Config) { c.SampleRate = 0 }},
		{"band above nyquist", func(c *Config) { c.SampleRate = 6000 }},
		{"expanding ratio", func(c *Config) { c.CompressorRatio = 0.5 }},
		{"zero window", func(c *Config) { c.WienerWindow = 0 }},
		{"zero order", func(c *Config) { c.FilterOrder = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.mutate(&config)
			if _, err := NewConditioner(nil, config); err == nil {
				t.Error("Expected error but got none")
			}
		})
	}
}

func TestProcessPreservesShape(t *testing.T) {
	c := newTestConditioner(t)

	tests := []struct {
		name    string
		samples []int16
	}{
		{"speech-band tone", tone(16000, 440, 10000)},
		{"quiet tone", tone(16000, 1000, 200)},
		{"full scale tone", tone(8000, 2000, 32767)},
		{"silence", make([]int16, 16000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := c.Process(tt.samples)

			if result.Status != StatusOk {
				t.Fatalf("Expected status ok, got %s (%s)", result.Status, result.Reason)
			}

			if len(result.Samples) != len(tt.samples) {
				t.Errorf("Expected %d samples, got %d", len(tt.samples), len(result.Samples))
			}

			if len(result.Stages) != 6 {
				t.Errorf("Expected 6 stage reports, got %d", len(result.Stages))
			}
		})
	}
}

func TestProcessSilenceStaysSilent(t *testing.T) {
	c := newTestConditioner(t)

	result := c.Process(make([]int16, 16000))
	for i, s := range result.Samples {
		if s != 0 {
			t.Fatalf("Sample %d: expected 0, got %d", i, s)
		}
	}

	for _, report := range result.Stages {
		if (report.Name == StageCompressor || report.Name == StageAGC) && !report.Skipped {
			t.Errorf("Expected %s to be skipped for silence", report.Name)
		}
	}
}

func TestProcessFailsClosed(t *testing.T) {
	c := newTestConditioner(t)

	tests := []struct {
		name    string
		samples []int16
	}{
		{"single sample", []int16{1234}},
		{"shorter than padding", tone(27, 440, 5000)},
		{"empty", []int16{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := c.Process(tt.samples)

			if result.Status != StatusDegraded {
				t.Fatalf("Expected status degraded, got %s", result.Status)
			}

			if !errors.Is(result.Err, ErrTooShort) {
				t.Errorf("Expected ErrTooShort, got %v", result.Err)
			}

			if result.Reason == "" {
				t.Error("Expected a reason for degraded result")
			}

			if len(result.Samples) != len(tt.samples) {
				t.Fatalf("Expected %d samples, got %d", len(tt.samples), len(result.Samples))
			}

			for i := range tt.samples {
				if result.Samples[i] != tt.samples[i] {
					t.Errorf("Sample %d: expected original %d, got %d", i, tt.samples[i], result.Samples[i])
				}
			}

			last := result.Stages[len(result.Stages)-1]
			if last.Name != StageBandpass || last.Status != StatusFailed {
				t.Errorf("Expected failing stage bandpass, got %s (%s)", last.Name, last.Status)
			}
		})
	}
}

func TestProcessDoesNotModifyInput(t *testing.T) {
	c := newTestConditioner(t)

	input := tone(16000, 440, 8000)
	original := make([]int16, len(input))
	copy(original, input)

	c.Process(input)

	for i := range input {
		if input[i] != original[i] {
			t.Fatalf("Sample %d of the input was modified", i)
		}
	}
}

func TestNoiseGate(t *testing.T) {
	c := newTestConditioner(t)

	// 0.5 s lead-in at |x| = 100 gives a threshold of 150
	x := make([]float64, 16000)
	for i := range x {
		if i < 8000 {
			x[i] = 100
		} else {
			x[i] = -1000
		}
	}

	report, out, err := c.noiseGate(x)
	if err != nil {
		t.Fatalf("noiseGate failed: %v", err)
	}

	if out[0] != 10 {
		t.Errorf("Expected lead-in attenuated to 10, got %f", out[0])
	}

	if out[12000] != -1000 {
		t.Errorf("Expected loud sample unchanged, got %f", out[12000])
	}

	if report.Detail == "" {
		t.Error("Expected stage detail")
	}
}

func TestCompress(t *testing.T) {
	c := newTestConditioner(t)

	_, out, err := c.compress([]float64{0, 50, 100, -100, -70})
	if err != nil {
		t.Fatalf("compress failed: %v", err)
	}

	// threshold is 70: 100 -> 70 + 30/4
	expected := []float64{0, 50, 77.5, -77.5, -70}
	for i := range expected {
		if math.Abs(out[i]-expected[i]) > 1e-9 {
			t.Errorf("Sample %d: expected %f, got %f", i, expected[i], out[i])
		}
	}
}

func TestAGC(t *testing.T) {
	c := newTestConditioner(t)

	tests := []struct {
		name  string
		level float64
		want  float64
	}{
		{"gain capped at 3", 1000, 3000},
		{"attenuates loud input", 10000, 0.15 * 32768},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			x := []float64{tt.level, -tt.level, tt.level, -tt.level}
			_, out, err := c.agc(x)
			if err != nil {
				t.Fatalf("agc failed: %v", err)
			}
			if math.Abs(out[0]-tt.want) > 1e-6 {
				t.Errorf("Expected %f, got %f", tt.want, out[0])
			}
		})
	}

	report, out, _ := c.agc([]float64{0, 0})
	if !report.Skipped || out[0] != 0 {
		t.Error("Expected agc to skip silent input")
	}
}

func TestWiener(t *testing.T) {
	c := newTestConditioner(t)

	// quiet lead-in sets the noise power; the loud tail is left nearly intact
	x := make([]float64, 16384)
	for i := range x {
		if i < 4096 {
			x[i] = 10
		} else {
			x[i] = 1000
		}
	}

	_, out, err := c.wiener(x)
	if err != nil {
		t.Fatalf("wiener failed: %v", err)
	}

	if out[10000] < 999 {
		t.Errorf("Expected loud sample near 1000, got %f", out[10000])
	}

	if out[2000] < 3 || out[2000] > 7 {
		t.Errorf("Expected quiet sample suppressed to about half, got %f", out[2000])
	}

	_, zeros, _ := c.wiener(make([]float64, 64))
	for i, v := range zeros {
		if v != 0 {
			t.Fatalf("Sample %d: expected 0, got %f", i, v)
		}
	}
}

func TestMovingAverageAbs(t *testing.T) {
	env := movingAverageAbs([]float64{4, -4, 4, -4, 4}, 1)
	for i, v := range env {
		if v != 4 {
			t.Errorf("Sample %d: expected 4 with window 1, got %f", i, v)
		}
	}

	env = movingAverageAbs([]float64{0, 0, 9, 0, 0}, 3)
	expected := []float64{0, 3, 3, 3, 0}
	for i := range expected {
		if math.Abs(env[i]-expected[i]) > 1e-9 {
			t.Errorf("Sample %d: expected %f, got %f", i, expected[i], env[i])
		}
	}
}

func TestStatusString(t *testing.T) {
	tests := map[Status]string{
		StatusOk:       "ok",
		StatusDegraded: "degraded",
		StatusFailed:   "failed",
		Status(9):      "status(9)",
	}

	for status, want := range tests {
		if status.String() != want {
			t.Errorf("Expected %q, got %q", want, status.String())
		}
	}
}
