package enhance

import (
	"fmt"
	"math"
	"math/cmplx"
	"sort"
)

// Section is one second-order IIR stage. A[0] is always 1.
type Section struct {
	B [3]float64
	A [3]float64
}

// DesignBandpass returns a Butterworth band-pass filter as cascaded
// second-order sections. order is the order of the low-pass prototype, so the
// result has order sections and a total order of 2*order. The analog design is
// pre-warped so the digital filter is exactly -3 dB at low and high.
func DesignBandpass(order int, low, high, sampleRate float64) ([]Section, error) {
	if order < 1 {
		return nil, fmt.Errorf("filter order must be at least 1, got %d", order)
	}
	nyquist := sampleRate / 2
	if sampleRate <= 0 || low <= 0 || high <= low || high >= nyquist {
		return nil, fmt.Errorf("%w: %.1f-%.1f Hz at %.0f Hz sample rate", ErrInvalidBand, low, high, sampleRate)
	}

	fs2 := 2 * sampleRate
	w1 := fs2 * math.Tan(math.Pi*low/sampleRate)
	w2 := fs2 * math.Tan(math.Pi*high/sampleRate)
	bw := w2 - w1
	w0 := math.Sqrt(w1 * w2)

	// Analog band-pass poles, then bilinear transform
	poles := make([]complex128, 0, 2*order)
	for k := 0; k < order; k++ {
		p := cmplx.Exp(complex(0, math.Pi*float64(2*k+order+1)/float64(2*order)))
		half := p * complex(bw/2, 0)
		root := cmplx.Sqrt(half*half - complex(w0*w0, 0))
		for _, s := range []complex128{half + root, half - root} {
			poles = append(poles, (complex(fs2, 0)+s)/(complex(fs2, 0)-s))
		}
	}

	var upper []complex128
	var reals []float64
	for _, z := range poles {
		switch {
		case imag(z) > 1e-12:
			upper = append(upper, z)
		case imag(z) >= -1e-12:
			reals = append(reals, real(z))
		}
	}
	if len(reals)%2 != 0 || len(upper)+len(reals)/2 != order {
		return nil, fmt.Errorf("%w: unpaired poles in band-pass design", ErrNonFinite)
	}
	sort.Float64s(reals)

	sections := make([]Section, 0, order)
	for _, z := range upper {
		sections = append(sections, Section{
			B: [3]float64{1, 0, -1},
			A: [3]float64{1, -2 * real(z), absSquared(z)},
		})
	}
	for i := 0; i < len(reals); i += 2 {
		sections = append(sections, Section{
			B: [3]float64{1, 0, -1},
			A: [3]float64{1, -(reals[i] + reals[i+1]), reals[i] * reals[i+1]},
		})
	}

	// Unity gain at the geometric centre of the band
	center := 2 * math.Atan(w0/fs2)
	gain := responseAt(sections, center)
	if gain == 0 || math.IsNaN(gain) || math.IsInf(gain, 0) {
		return nil, fmt.Errorf("%w: band-pass gain %v", ErrNonFinite, gain)
	}
	for i := range sections[0].B {
		sections[0].B[i] /= gain
	}

	return sections, nil
}

func absSquared(z complex128) float64 {
	return real(z)*real(z) + imag(z)*imag(z)
}

// Response returns the magnitude response of the cascade at freq Hz.
func Response(sections []Section, freq, sampleRate float64) float64 {
	return responseAt(sections, 2*math.Pi*freq/sampleRate)
}

func responseAt(sections []Section, omega float64) float64 {
	zInv := cmplx.Exp(complex(0, -omega))
	zInv2 := zInv * zInv
	h := complex(1, 0)
	for _, s := range sections {
		num := complex(s.B[0], 0) + complex(s.B[1], 0)*zInv + complex(s.B[2], 0)*zInv2
		den := complex(s.A[0], 0) + complex(s.A[1], 0)*zInv + complex(s.A[2], 0)*zInv2
		h *= num / den
	}
	return cmplx.Abs(h)
}

// PadLength returns the number of samples FiltFilt extends each edge by.
func PadLength(sections []Section) int {
	return 3 * (2*len(sections) + 1)
}

// FiltFilt applies the cascade forward and then backward, giving zero phase
// and squared magnitude response. The input is extended at both ends by odd
// reflection and each section starts from its steady-state condition for the
// edge sample. Inputs not longer than PadLength return ErrTooShort.
func FiltFilt(sections []Section, x []float64) ([]float64, error) {
	padlen := PadLength(sections)
	if len(x) <= padlen {
		return nil, fmt.Errorf("%w: need more than %d samples, got %d", ErrTooShort, padlen, len(x))
	}

	ext := oddExtend(x, padlen)
	zi := steadyState(sections)

	y := sosFilter(sections, ext, zi, ext[0])
	reverse(y)
	y = sosFilter(sections, y, zi, y[0])
	reverse(y)

	out := make([]float64, len(x))
	copy(out, y[padlen:padlen+len(x)])
	return out, nil
}

// oddExtend reflects n samples about each endpoint: 2*x[0]-x[n..1] before
// and 2*x[last]-x[last-1..last-n] after.
func oddExtend(x []float64, n int) []float64 {
	last := len(x) - 1
	ext := make([]float64, 0, len(x)+2*n)
	for i := n; i >= 1; i-- {
		ext = append(ext, 2*x[0]-x[i])
	}
	ext = append(ext, x...)
	for i := 1; i <= n; i++ {
		ext = append(ext, 2*x[last]-x[last-i])
	}
	return ext
}

// steadyState returns per-section initial states for a unit step input,
// scaled by the DC gain of the preceding sections.
func steadyState(sections []Section) [][2]float64 {
	zi := make([][2]float64, len(sections))
	scale := 1.0
	for i, s := range sections {
		sumB := s.B[0] + s.B[1] + s.B[2]
		sumA := s.A[0] + s.A[1] + s.A[2]
		h := sumB / sumA
		zi[i][0] = scale * (s.B[1] + s.B[2] - (s.A[1]+s.A[2])*h)
		zi[i][1] = scale * (s.B[2] - s.A[2]*h)
		scale *= h
	}
	return zi
}

// sosFilter runs the cascade in transposed direct form II with initial state
// zi*x0.
func sosFilter(sections []Section, x []float64, zi [][2]float64, x0 float64) []float64 {
	y := make([]float64, len(x))
	copy(y, x)
	for i, s := range sections {
		z1 := zi[i][0] * x0
		z2 := zi[i][1] * x0
		for n, in := range y {
			out := s.B[0]*in + z1
			z1 = s.B[1]*in - s.A[1]*out + z2
			z2 = s.B[2]*in - s.A[2]*out
			y[n] = out
		}
	}
	return y
}

func reverse(x []float64) {
	for i, j := 0, len(x)-1; i < j; i, j = i+1, j-1 {
		x[i], x[j] = x[j], x[i]
	}
}
