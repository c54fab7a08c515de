// Package fft runs real-input Fourier transforms over the values of one
// series.
//
// Transformed data is packed in place into an array of length n:
//
//	v[0]                 = Re[0]
//	even n: v[1]         = Re[n/2]
//	        v[2k],v[2k+1] = Re[k], Im[k]          1 <= k < n/2
//	odd n:  v[2k],v[2k+1] = Re[k], Im[k]          1 <= k < (n-1)/2
//	        v[n-1]       = Re[(n-1)/2]
//	        v[1]         = Im[(n-1)/2]
//
// IFFT reads the same layout, so IFFT(FFT(x)) == x.
package fft

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/vjranagit/historian/pkg/types"
)

// Generator buffers up to n samples and transforms them in place
type Generator struct {
	n         int
	values    []float64
	firstTime int64
	lastTime  int64
}

// NewGenerator creates a generator for exactly n samples
func NewGenerator(n int) *Generator {
	if n < 0 {
		n = 0
	}
	return &Generator{n: n, values: make([]float64, 0, n)}
}

// Len returns the configured sample count
func (g *Generator) Len() int {
	return g.n
}

// Data appends a sample. Numeric, multistate and binary values are supported.
func (g *Generator) Data(s types.Sample) error {
	if len(g.values) >= g.n {
		return &types.Error{
			Message:       "generator is full",
			Kind:          types.StateInvalid,
			PropertyName:  "n",
			PropertyValue: g.n,
		}
	}
	f, ok := s.Value.Float()
	if !ok {
		return &types.Error{
			Message:       "value cannot be transformed",
			Kind:          types.UnsupportedType,
			PropertyName:  "kind",
			PropertyValue: s.Value.Kind().String(),
		}
	}
	if len(g.values) == 0 {
		g.firstTime = s.Timestamp
	}
	g.lastTime = s.Timestamp
	g.values = append(g.values, f)
	return nil
}

// AverageSamplePeriodMs returns (last-first)/(n-1), or 0 with fewer than two
// samples
func (g *Generator) AverageSamplePeriodMs() float64 {
	if len(g.values) < 2 {
		return 0
	}
	return float64(g.lastTime-g.firstTime) / float64(len(g.values)-1)
}

// Values returns the buffered (or transformed) values. The slice is owned by
// the generator.
func (g *Generator) Values() []float64 {
	return g.values
}

// FFT replaces the buffered values with their packed forward transform
func (g *Generator) FFT() {
	n := len(g.values)
	if n == 0 {
		return
	}
	coeff := fourier.NewFFT(n).Coefficients(nil, g.values)
	pack(g.values, coeff)
}

// IFFT treats the buffered values as a packed spectrum and replaces them with
// the scaled inverse transform
func (g *Generator) IFFT() {
	n := len(g.values)
	if n == 0 {
		return
	}
	coeff := unpack(g.values)
	seq := fourier.NewFFT(n).Sequence(nil, coeff)
	scale := 1 / float64(n)
	for i, v := range seq {
		g.values[i] = v * scale
	}
}

// pack writes n/2+1 complex coefficients into the real-FFT layout
func pack(dst []float64, coeff []complex128) {
	n := len(dst)
	dst[0] = real(coeff[0])
	if n == 1 {
		return
	}
	if n%2 == 0 {
		dst[1] = real(coeff[n/2])
		for k := 1; k < n/2; k++ {
			dst[2*k] = real(coeff[k])
			dst[2*k+1] = imag(coeff[k])
		}
		return
	}
	h := (n - 1) / 2
	for k := 1; k < h; k++ {
		dst[2*k] = real(coeff[k])
		dst[2*k+1] = imag(coeff[k])
	}
	dst[n-1] = real(coeff[h])
	dst[1] = imag(coeff[h])
}

// unpack is the inverse of pack
func unpack(src []float64) []complex128 {
	n := len(src)
	coeff := make([]complex128, n/2+1)
	coeff[0] = complex(src[0], 0)
	if n == 1 {
		return coeff
	}
	if n%2 == 0 {
		coeff[n/2] = complex(src[1], 0)
		for k := 1; k < n/2; k++ {
			coeff[k] = complex(src[2*k], src[2*k+1])
		}
		return coeff
	}
	h := (n - 1) / 2
	for k := 1; k < h; k++ {
		coeff[k] = complex(src[2*k], src[2*k+1])
	}
	coeff[h] = complex(src[n-1], src[1])
	return coeff
}

// Bin is one frequency bin of a spectrum
type Bin struct {
	Frequency float64 `json:"frequency"`
	Period    float64 `json:"period"`
	Value     float64 `json:"value"`
}

// SampleRateHz prefers the poll period hint and falls back to the measured
// average sample period. It returns 0 when neither is usable.
func SampleRateHz(pollPeriodMs int64, averagePeriodMs float64) float64 {
	if pollPeriodMs > 0 {
		return 1000 / float64(pollPeriodMs)
	}
	if averagePeriodMs > 0 {
		return 1000 / averagePeriodMs
	}
	return 0
}

// Spectrum extracts magnitude, frequency and period per bin from a packed
// array. The odd length tail bin is read from v[n/2] (real) and v[1]
// (imaginary).
func Spectrum(values []float64, sampleRateHz float64) []Bin {
	n := len(values)
	if n == 0 {
		return []Bin{}
	}
	bins := make([]Bin, 0, n/2+1)
	bins = append(bins, Bin{Value: values[0]})
	if n == 1 {
		return bins
	}

	length := float64(n)
	if n%2 == 0 {
		for i := 1; i < n/2; i++ {
			bins = append(bins, bin(i, length, sampleRateHz, values[2*i], values[2*i+1]))
		}
		return bins
	}

	h := (n - 1) / 2
	for i := 1; i < h; i++ {
		bins = append(bins, bin(i, length, sampleRateHz, values[2*i], values[2*i+1]))
	}
	return append(bins, bin(h, length, sampleRateHz, values[n/2], values[1]))
}

func bin(i int, n, rate, re, im float64) Bin {
	freq := float64(i) * rate / n
	b := Bin{
		Frequency: freq,
		Value:     cmplx.Abs(complex(re, im)),
	}
	if freq != 0 && !math.IsInf(freq, 0) {
		b.Period = 1 / freq
	}
	return b
}
