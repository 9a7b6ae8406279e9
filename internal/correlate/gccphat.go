// SPDX-License-Identifier: MIT
/*
Package correlate estimates the time difference of arrival between two
equal-length frames using generalized cross-correlation with per-lag
phase-transform weighting (GCC-PHAT).

Lag convention:

	R[lag] = Σ signal1[i] · signal2[i+lag]   for lag in [-(n-1), n-1]

R is stored at index lag+(n-1), so the zero-lag centre sits at n-1. A
positive delay means signal2 lags signal1: the sound reached the first
microphone first.

Each lag is divided by sqrt(E1·E2), the energies of the two overlapping
segments. Lags whose energy product falls below normEpsilon keep their raw
sum so near-silent frames still produce a (tiny) correlation.

The correlator owns a workspace sized for the last frame length it saw and
is not safe for concurrent use.
*/
package correlate

import (
	"fmt"
	"locator/pkg/bitint"
	"math"
	"strings"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"
)

const (
	DefaultSampleRate       = 48000.0
	DefaultConfidenceRadius = 100

	normEpsilon = 1e-10
)

// Method selects how the raw cross-correlation is computed.
type Method int

const (
	// MethodFFT zero-pads both frames and correlates in the frequency domain.
	MethodFFT Method = iota
	// MethodDirect sums every lag explicitly. O(n²), kept as a reference.
	MethodDirect
)

// String returns the name accepted by ParseMethod.
func (m Method) String() string {
	switch m {
	case MethodFFT:
		return "fft"
	case MethodDirect:
		return "direct"
	default:
		return fmt.Sprintf("Method(%d)", int(m))
	}
}

// ParseMethod converts a case-insensitive name to a Method.
func ParseMethod(name string) (Method, error) {
	switch strings.ToLower(name) {
	case "fft", "":
		return MethodFFT, nil
	case "direct":
		return MethodDirect, nil
	default:
		return MethodFFT, fmt.Errorf("unknown correlation method: '%s'", name)
	}
}

// Config controls a Correlator.
type Config struct {
	SampleRate float64 // Hz, used to convert samples to seconds
	// Window applies WindowFunc to both frames before correlating. Without
	// it a periodic input correlates equally well at every multiple of its
	// period, and the lowest-index tie wins: identical sines can report a
	// delay of many periods. Only windowed frames keep |delay| near zero for
	// identical periodic inputs.
	Window           bool
	WindowFunc       WindowFunc // taper used when Window is set
	Method           Method
	ConfidenceRadius int // lags either side of the peak searched for a competitor
}

// DefaultConfig returns a 48 kHz, Hann-windowed FFT correlator config.
func DefaultConfig() Config {
	return Config{
		SampleRate:       DefaultSampleRate,
		Window:           true,
		WindowFunc:       Hann,
		Method:           MethodFFT,
		ConfidenceRadius: DefaultConfidenceRadius,
	}
}

// Pre-allocated buffers for one frame length.
type workspace struct {
	n            int
	window       []float64 // taper coefficients, len n
	x, y         []float64 // windowed frames, len n
	head1, head2 []float64 // head[k] = Σ x[i]² for i < k, len n+1
	tail1, tail2 []float64 // tail[k] = Σ x[i]² for i >= k, len n+1
	corr         []float64 // normalized correlation, len 2n-1

	// FFT path only.
	fft            *fourier.FFT
	padX, padY     []float64    // zero-padded frames, len fftSize
	coeffX, coeffY []complex128 // spectra, len fftSize/2+1
	raw            []float64    // inverse transform output, len fftSize
}

// Correlator computes GCC-PHAT delay estimates.
type Correlator struct {
	cfg Config
	ws  workspace
}

// New creates a Correlator. Zero fields in cfg fall back to DefaultConfig.
func New(cfg Config) *Correlator {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	if cfg.ConfidenceRadius <= 0 {
		cfg.ConfidenceRadius = DefaultConfidenceRadius
	}
	return &Correlator{cfg: cfg}
}

// Config returns the active configuration.
func (c *Correlator) Config() Config {
	return c.cfg
}

// EstimateTDOA returns the delay of signal2 relative to signal1. The peak is
// searched within ±maxLagSamples of zero lag; a non-positive value searches
// ±n/2. Unequal or empty frames, and pairs where either frame is entirely
// zero, return the zero Result. It never fails.
func (c *Correlator) EstimateTDOA(signal1, signal2 []float32, maxLagSamples int) Result {
	n := len(signal1)
	if n == 0 || n != len(signal2) {
		return Result{}
	}
	c.prepare(n)
	ws := &c.ws

	for i := range n {
		ws.x[i] = float64(signal1[i]) * ws.window[i]
		ws.y[i] = float64(signal2[i]) * ws.window[i]
		ws.head1[i+1] = ws.head1[i] + ws.x[i]*ws.x[i]
		ws.head2[i+1] = ws.head2[i] + ws.y[i]*ws.y[i]
	}
	// Tails are summed from the end so short edge segments keep their precision.
	for i := n - 1; i >= 0; i-- {
		ws.tail1[i] = ws.tail1[i+1] + ws.x[i]*ws.x[i]
		ws.tail2[i] = ws.tail2[i+1] + ws.y[i]*ws.y[i]
	}
	if ws.head1[n] == 0 || ws.head2[n] == 0 {
		clear(ws.corr)
		return Result{}
	}

	if ws.fft == nil {
		c.correlateDirect()
	} else {
		c.correlateFFT()
	}
	c.normalize()

	center := n - 1
	if maxLagSamples <= 0 {
		maxLagSamples = n / 2
	}
	maxLagSamples = min(maxLagSamples, n-1)

	lo := center - maxLagSamples
	peak := lo + floats.MaxIdx(ws.corr[lo:center+maxLagSamples+1])
	peakValue := ws.corr[peak]
	delay := peak - center

	return Result{
		DelaySamples: delay,
		DelaySeconds: float64(delay) / c.cfg.SampleRate,
		Confidence:   c.confidence(peak),
		PeakValue:    peakValue,
	}
}

// Correlation returns a copy of the normalized correlation from the last
// EstimateTDOA call, indexed by lag+(n-1).
func (c *Correlator) Correlation() []float64 {
	out := make([]float64, len(c.ws.corr))
	copy(out, c.ws.corr)
	return out
}

// prepare sizes the workspace for frames of n samples. Only a change of
// frame length allocates.
func (c *Correlator) prepare(n int) {
	ws := &c.ws
	if ws.n == n && ws.window != nil {
		return
	}
	ws.n = n
	ws.window = make([]float64, n)
	if c.cfg.Window {
		fillWindow(ws.window, c.cfg.WindowFunc)
	} else {
		fillWindow(ws.window, Rectangular)
	}
	ws.x = make([]float64, n)
	ws.y = make([]float64, n)
	ws.head1 = make([]float64, n+1)
	ws.head2 = make([]float64, n+1)
	ws.tail1 = make([]float64, n+1)
	ws.tail2 = make([]float64, n+1)
	ws.corr = make([]float64, 2*n-1)

	if c.cfg.Method == MethodFFT && n > 1 {
		size := bitint.CorrelationSize(n)
		ws.fft = fourier.NewFFT(size)
		ws.padX = make([]float64, size)
		ws.padY = make([]float64, size)
		ws.coeffX = make([]complex128, size/2+1)
		ws.coeffY = make([]complex128, size/2+1)
		ws.raw = make([]float64, size)
	} else {
		ws.fft = nil
		ws.padX, ws.padY, ws.coeffX, ws.coeffY, ws.raw = nil, nil, nil, nil, nil
	}
}

// correlateDirect fills corr with raw lag sums.
func (c *Correlator) correlateDirect() {
	ws := &c.ws
	n := ws.n
	for lag := -(n - 1); lag < n; lag++ {
		lo := max(0, -lag)
		hi := min(n, n-lag)
		ws.corr[lag+n-1] = floats.Dot(ws.x[lo:hi], ws.y[lo+lag:hi+lag])
	}
}

// correlateFFT fills corr with raw lag sums via conj(X)·Y in the frequency
// domain. The padded length holds all 2n-1 lags without wrap-around.
func (c *Correlator) correlateFFT() {
	ws := &c.ws
	n := ws.n
	size := len(ws.padX)

	copy(ws.padX, ws.x)
	copy(ws.padY, ws.y)
	clear(ws.padX[n:])
	clear(ws.padY[n:])

	ws.fft.Coefficients(ws.coeffX, ws.padX)
	ws.fft.Coefficients(ws.coeffY, ws.padY)
	for k := range ws.coeffX {
		a := ws.coeffX[k]
		ws.coeffY[k] *= complex(real(a), -imag(a))
	}
	ws.fft.Sequence(ws.raw, ws.coeffY)

	// Sequence is unnormalized.
	scale := 1 / float64(size)
	for lag := 0; lag < n; lag++ {
		ws.corr[n-1+lag] = ws.raw[lag] * scale
	}
	for m := 1; m < n; m++ {
		ws.corr[n-1-m] = ws.raw[size-m] * scale
	}
}

// normalize divides each lag by the energy of its overlapping segments.
// Normalized values are clamped to [-1, 1] to absorb rounding.
func (c *Correlator) normalize() {
	ws := &c.ws
	n := ws.n
	for k := range ws.corr {
		lag := k - (n - 1)
		var p1, p2 float64
		if lag >= 0 {
			p1 = ws.head1[n-lag]
			p2 = ws.tail2[lag]
		} else {
			m := -lag
			p1 = ws.tail1[m]
			p2 = ws.head2[n-m]
		}
		norm := math.Sqrt(p1 * p2)
		if norm >= normEpsilon {
			ws.corr[k] = math.Max(-1, math.Min(1, ws.corr[k]/norm))
		}
	}
}

// confidence is the peak divided by the strongest other value within the
// configured radius, clamped to [0, 1]. With no positive competitor it is
// min(1, peak).
func (c *Correlator) confidence(peak int) float64 {
	corr := c.ws.corr
	peakValue := corr[peak]

	second := 0.0
	found := false
	lo := max(0, peak-c.cfg.ConfidenceRadius)
	hi := min(len(corr)-1, peak+c.cfg.ConfidenceRadius)
	for k := lo; k <= hi; k++ {
		if k == peak {
			continue
		}
		if corr[k] > second {
			second = corr[k]
			found = true
		}
	}

	conf := peakValue
	if found {
		conf = peakValue / second
	}
	if math.IsNaN(conf) {
		return 0
	}
	return math.Max(0, math.Min(1, conf))
}

// EstimateTDOA correlates two frames with a throwaway default Correlator.
func EstimateTDOA(signal1, signal2 []float32, maxLagSamples int) Result {
	return New(DefaultConfig()).EstimateTDOA(signal1, signal2, maxLagSamples)
}
