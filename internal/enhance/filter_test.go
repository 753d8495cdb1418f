package enhance

import (
	"errors"
	"math"
	"testing"
)

func defaultSections(t *testing.T) []Section {
	t.Helper()
	sections, err := DesignBandpass(4, 300, 3400, 16000)
	if err != nil {
		t.Fatalf("DesignBandpass failed: %v", err)
	}
	return sections
}

func TestDesignBandpassSections(t *testing.T) {
	sections := defaultSections(t)

	if len(sections) != 4 {
		t.Fatalf("Expected 4 sections for order 4, got %d", len(sections))
	}

	for i, s := range sections {
		if s.A[0] != 1 {
			t.Errorf("Section %d: expected a0=1, got %f", i, s.A[0])
		}
		// stable poles lie inside the unit circle: |a2| = |z|^2 < 1
		if math.Abs(s.A[2]) >= 1 {
			t.Errorf("Section %d: unstable pole pair, a2=%f", i, s.A[2])
		}
	}

	if PadLength(sections) != 27 {
		t.Errorf("Expected pad length 27, got %d", PadLength(sections))
	}
}

func TestBandpassResponse(t *testing.T) {
	sections := defaultSections(t)

	tests := []struct {
		name string
		freq float64
		min  float64
		max  float64
	}{
		{"low edge is -3 dB", 300, 0.7061, 0.7081},
		{"high edge is -3 dB", 3400, 0.7061, 0.7081},
		{"passband", 1000, 0.999, 1.001},
		{"below band", 100, 0, 0.05},
		{"above band", 7000, 0, 0.01},
		{"dc", 0, 0, 1e-9},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Response(sections, tt.freq, 16000)
			if got < tt.min || got > tt.max {
				t.Errorf("Expected |H(%.0f Hz)| in [%f, %f], got %f", tt.freq, tt.min, tt.max, got)
			}
		})
	}
}

func TestDesignBandpassOddOrder(t *testing.T) {
	sections, err := DesignBandpass(3, 300, 3400, 16000)
	if err != nil {
		t.Fatalf("DesignBandpass failed: %v", err)
	}

	if len(sections) != 3 {
		t.Fatalf("Expected 3 sections, got %d", len(sections))
	}

	if got := Response(sections, 300, 16000); math.Abs(got-math.Sqrt2/2) > 1e-3 {
		t.Errorf("Expected -3 dB at 300 Hz, got %f", got)
	}
}

func TestDesignBandpassInvalidBand(t *testing.T) {
	tests := []struct {
		name      string
		low, high float64
		rate      float64
	}{
		{"high at nyquist", 300, 8000, 16000},
		{"high above nyquist", 300, 5000, 8000},
		{"inverted", 3400, 300, 16000},
		{"zero low", 0, 3400, 16000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DesignBandpass(4, tt.low, tt.high, tt.rate)
			if !errors.Is(err, ErrInvalidBand) {
				t.Errorf("Expected ErrInvalidBand, got %v", err)
			}
		})
	}
}

func TestFiltFiltTooShort(t *testing.T) {
	sections := defaultSections(t)

	if _, err := FiltFilt(sections, make([]float64, 27)); !errors.Is(err, ErrTooShort) {
		t.Errorf("Expected ErrTooShort for 27 samples, got %v", err)
	}

	out, err := FiltFilt(sections, make([]float64, 28))
	if err != nil {
		t.Fatalf("Expected 28 samples to filter, got %v", err)
	}
	if len(out) != 28 {
		t.Errorf("Expected 28 output samples, got %d", len(out))
	}
}

func TestFiltFiltZeroPhase(t *testing.T) {
	sections := defaultSections(t)

	const rate = 16000.0
	x := make([]float64, 4000)
	for i := range x {
		x[i] = 10000 * math.Sin(2*math.Pi*1000*float64(i)/rate)
	}

	y, err := FiltFilt(sections, x)
	if err != nil {
		t.Fatalf("FiltFilt failed: %v", err)
	}

	// A passband tone comes out unshifted and at unit gain away from the edges
	for i := 1000; i < 3000; i++ {
		if diff := math.Abs(y[i] - x[i]); diff > 100 {
			t.Fatalf("Sample %d: expected %f, got %f", i, x[i], y[i])
		}
	}
}

func TestFiltFiltRejectsOutOfBand(t *testing.T) {
	sections := defaultSections(t)

	x := make([]float64, 8000)
	for i := range x {
		x[i] = 10000 * math.Sin(2*math.Pi*50*float64(i)/16000)
	}

	y, err := FiltFilt(sections, x)
	if err != nil {
		t.Fatalf("FiltFilt failed: %v", err)
	}

	var peak float64
	for _, v := range y[2000:6000] {
		peak = max(peak, math.Abs(v))
	}
	if peak > 100 {
		t.Errorf("Expected 50 Hz hum to be attenuated below 100, got peak %f", peak)
	}
}
