// SPDX-License-Identifier: MIT
package correlate

import (
	"locator/pkg/utils"
	"math"
	"testing"
)

const (
	testFrameSize  = 2048
	testSampleRate = 48000.0
)

func TestEstimateTDOA_IdenticalSine(t *testing.T) {
	sine := utils.GenerateSineWave(testFrameSize, testSampleRate, 1000)

	for _, method := range []Method{MethodFFT, MethodDirect} {
		t.Run(method.String(), func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Method = method
			r := New(cfg).EstimateTDOA(sine, sine, 0)

			if abs(r.DelaySamples) > 5 {
				t.Errorf("DelaySamples = %d, want |delay| <= 5", r.DelaySamples)
			}
			if r.Confidence < 0 || r.Confidence > 1 {
				t.Errorf("Confidence = %f outside [0, 1]", r.Confidence)
			}
			if math.Abs(r.PeakValue-1) > 1e-6 {
				t.Errorf("PeakValue = %f, want 1 for identical frames", r.PeakValue)
			}
		})
	}
}

func TestEstimateTDOA_UnwindowedSineLandsOnPeriodTie(t *testing.T) {
	const period = 48 // 1 kHz at 48 kHz
	sine := utils.GenerateSineWave(testFrameSize, testSampleRate, 1000)

	cfg := DefaultConfig()
	cfg.Window = false
	r := New(cfg).EstimateTDOA(sine, sine, 0)

	// Every whole-period lag normalizes to 1 and the first one scanned wins.
	if r.DelaySamples%period != 0 {
		t.Errorf("DelaySamples = %d, want a multiple of the %d-sample period", r.DelaySamples, period)
	}
	if r.DelaySamples >= -5 {
		t.Errorf("DelaySamples = %d, want a negative whole-period tie", r.DelaySamples)
	}
	if math.Abs(r.PeakValue-1) > 1e-6 {
		t.Errorf("PeakValue = %f, want 1", r.PeakValue)
	}
}

func TestEstimateTDOA_KnownShift(t *testing.T) {
	tests := []struct {
		name      string
		shift     int
		maxLag    int
		wantDelay int
		tolerance int
	}{
		{"Right 100", 100, 0, 100, 10},
		{"Left 60", -60, 0, -60, 10},
		{"Right 1", 1, 0, 1, 0},
		{"Within explicit window", 300, 400, 300, 10},
	}

	noise := utils.GenerateNoise(testFrameSize, 42, 0.5)
	for _, tt := range tests {
		for _, method := range []Method{MethodFFT, MethodDirect} {
			t.Run(tt.name+"/"+method.String(), func(t *testing.T) {
				cfg := DefaultConfig()
				cfg.Method = method
				shifted := utils.Delay(noise, tt.shift)

				r := New(cfg).EstimateTDOA(noise, shifted, tt.maxLag)
				if abs(r.DelaySamples-tt.wantDelay) > tt.tolerance {
					t.Errorf("DelaySamples = %d, want %d±%d", r.DelaySamples, tt.wantDelay, tt.tolerance)
				}
				wantSeconds := float64(r.DelaySamples) / testSampleRate
				if r.DelaySeconds != wantSeconds {
					t.Errorf("DelaySeconds = %g, want %g", r.DelaySeconds, wantSeconds)
				}
				if r.Confidence < 0 || r.Confidence > 1 {
					t.Errorf("Confidence = %f outside [0, 1]", r.Confidence)
				}
			})
		}
	}
}

func TestEstimateTDOA_SignFollowsArgumentOrder(t *testing.T) {
	noise := utils.GenerateNoise(testFrameSize, 3, 0.5)
	shifted := utils.Delay(noise, 80)
	c := New(DefaultConfig())

	forward := c.EstimateTDOA(noise, shifted, 0)
	backward := c.EstimateTDOA(shifted, noise, 0)
	if forward.DelaySamples != -backward.DelaySamples {
		t.Errorf("forward %d and backward %d should be opposite", forward.DelaySamples, backward.DelaySamples)
	}
	if forward.DelaySamples <= 0 {
		t.Errorf("forward delay = %d, want positive when the second signal lags", forward.DelaySamples)
	}
}

func TestEstimateTDOA_PeakRestrictedToMaxLag(t *testing.T) {
	noise := utils.GenerateNoise(testFrameSize, 9, 0.5)
	shifted := utils.Delay(noise, 500)

	r := EstimateTDOA(noise, shifted, 50)
	if abs(r.DelaySamples) > 50 {
		t.Errorf("DelaySamples = %d escaped the ±50 search window", r.DelaySamples)
	}

	// A lag beyond the frame is clamped rather than indexing out of range.
	r = EstimateTDOA(noise[:64], shifted[:64], 10_000)
	if abs(r.DelaySamples) > 63 {
		t.Errorf("DelaySamples = %d beyond frame", r.DelaySamples)
	}
}

func TestEstimateTDOA_Degenerate(t *testing.T) {
	noise := utils.GenerateNoise(256, 1, 0.5)
	silence := make([]float32, 256)

	tests := []struct {
		name string
		a, b []float32
	}{
		{"Unequal lengths", noise, noise[:255]},
		{"Empty", nil, nil},
		{"Both silent", silence, silence},
		{"One silent", noise, silence},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New(DefaultConfig()).EstimateTDOA(tt.a, tt.b, 0)
			if !r.IsZero() {
				t.Errorf("expected zero result, got %+v", r)
			}
		})
	}
}

func TestEstimateTDOA_NearSilenceFallsBackToRawSum(t *testing.T) {
	// Energy product below the epsilon leaves raw sums in place, so the
	// result is finite and the confidence stays in range.
	quiet := utils.GenerateNoise(512, 5, 1e-7)
	cfg := DefaultConfig()
	cfg.Window = false
	c := New(cfg)

	r := c.EstimateTDOA(quiet, quiet, 0)
	if math.IsNaN(r.PeakValue) || math.IsInf(r.PeakValue, 0) {
		t.Fatalf("PeakValue = %f", r.PeakValue)
	}
	if r.PeakValue > 1e-10 {
		t.Errorf("PeakValue = %g, want unnormalized raw sum", r.PeakValue)
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		t.Errorf("Confidence = %f outside [0, 1]", r.Confidence)
	}
}

func TestEstimateTDOA_ConfidenceAlwaysInRange(t *testing.T) {
	c := New(DefaultConfig())
	for seed := range uint64(20) {
		a := utils.GenerateNoise(1024, seed, 0.3)
		b := utils.GenerateNoise(1024, seed+100, 0.3)
		for _, pair := range [][2][]float32{{a, b}, {a, a}, {a, utils.Delay(a, int(seed)*7)}} {
			r := c.EstimateTDOA(pair[0], pair[1], 0)
			if r.Confidence < 0 || r.Confidence > 1 || math.IsNaN(r.Confidence) {
				t.Fatalf("seed %d: Confidence = %f outside [0, 1]", seed, r.Confidence)
			}
		}
	}
}

func TestMethodsAgree(t *testing.T) {
	a := utils.GenerateNoise(1000, 11, 0.5)
	b := utils.Delay(utils.GenerateNoise(1000, 11, 0.5), 37)

	cfg := DefaultConfig()
	cfg.Window = false
	fft := New(cfg)
	cfg.Method = MethodDirect
	direct := New(cfg)

	rf := fft.EstimateTDOA(a, b, 0)
	rd := direct.EstimateTDOA(a, b, 0)
	if rf.DelaySamples != rd.DelaySamples {
		t.Errorf("fft delay %d != direct delay %d", rf.DelaySamples, rd.DelaySamples)
	}

	cf, cd := fft.Correlation(), direct.Correlation()
	if len(cf) != 2*1000-1 || len(cf) != len(cd) {
		t.Fatalf("correlation lengths fft=%d direct=%d", len(cf), len(cd))
	}
	// Compare the central half, where every lag overlaps at least n/2 samples.
	for k := 500; k < 1500; k++ {
		if math.Abs(cf[k]-cd[k]) > 1e-6 {
			t.Fatalf("lag %d: fft %g != direct %g", k-999, cf[k], cd[k])
		}
	}
	if peak := utils.FindPeakBin(cd, 999-500, 999+500) - 999; peak != rd.DelaySamples {
		t.Errorf("correlation peak at lag %d, result says %d", peak, rd.DelaySamples)
	}
}

func TestCorrelation_NormalizedRange(t *testing.T) {
	a := utils.GenerateComplexWave(512, testSampleRate)
	b := utils.GenerateNoise(512, 2, 0.5)
	c := New(DefaultConfig())
	c.EstimateTDOA(a, b, 0)

	for k, v := range c.Correlation() {
		if v > 1+1e-9 || v < -1-1e-9 {
			t.Fatalf("lag %d: normalized value %f outside [-1, 1]", k-511, v)
		}
	}
}

func TestResult_EstimatedDistance(t *testing.T) {
	tests := []Result{
		{DelaySamples: 100, DelaySeconds: 100 / testSampleRate},
		{DelaySamples: -48, DelaySeconds: -48 / testSampleRate},
		{},
	}
	for _, r := range tests {
		want := math.Abs(r.DelaySeconds) * 343
		if got := r.EstimatedDistance(343); got != want {
			t.Errorf("EstimatedDistance(343) = %g, want %g", got, want)
		}
	}
}

func TestParseWindowFunc(t *testing.T) {
	tests := []struct {
		name    string
		want    WindowFunc
		wantErr bool
	}{
		{"Hann", Hann, false},
		{"hanning", Hann, false},
		{"", Hann, false},
		{"BLACKMAN", Blackman, false},
		{"none", Rectangular, false},
		{"kaiser", Hann, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseWindowFunc(tt.name)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseWindowFunc(%q) error = %v, wantErr %v", tt.name, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseWindowFunc(%q) = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}

func TestParseMethod(t *testing.T) {
	if m, err := ParseMethod("Direct"); err != nil || m != MethodDirect {
		t.Errorf("ParseMethod(Direct) = %v, %v", m, err)
	}
	if m, err := ParseMethod(""); err != nil || m != MethodFFT {
		t.Errorf("ParseMethod(\"\") = %v, %v", m, err)
	}
	if _, err := ParseMethod("gpu"); err == nil {
		t.Error("ParseMethod(gpu) should fail")
	}
}

func TestFillWindow_Hann(t *testing.T) {
	coeffs := make([]float64, 9)
	fillWindow(coeffs, Hann)
	if coeffs[0] > 1e-12 || coeffs[8] > 1e-12 {
		t.Errorf("Hann edges = %f, %f, want 0", coeffs[0], coeffs[8])
	}
	if math.Abs(coeffs[4]-1) > 1e-12 {
		t.Errorf("Hann centre = %f, want 1", coeffs[4])
	}

	short := make([]float64, 2)
	fillWindow(short, Hann)
	if short[0] != 1 || short[1] != 1 {
		t.Errorf("short frame window = %v, want rectangular", short)
	}
}

func TestEstimateTDOA_NoAllocsAfterWarmup(t *testing.T) {
	a := utils.GenerateNoise(testFrameSize, 1, 0.5)
	b := utils.Delay(a, 20)
	c := New(DefaultConfig())
	c.EstimateTDOA(a, b, 0)

	allocs := testing.AllocsPerRun(20, func() {
		c.EstimateTDOA(a, b, 0)
	})
	if allocs > 0 {
		t.Errorf("EstimateTDOA allocated: got %.1f allocs, want 0", allocs)
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func BenchmarkEstimateTDOA(b *testing.B) {
	a := utils.GenerateNoise(testFrameSize, 1, 0.5)
	s := utils.Delay(a, 100)

	for _, method := range []Method{MethodFFT, MethodDirect} {
		b.Run(method.String(), func(b *testing.B) {
			cfg := DefaultConfig()
			cfg.Method = method
			c := New(cfg)

			b.ReportAllocs()
			for b.Loop() {
				c.EstimateTDOA(a, s, 0)
			}
		})
	}
}
