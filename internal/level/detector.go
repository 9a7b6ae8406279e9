// SPDX-License-Identifier: MIT
/*
Package level turns raw frame amplitude into a steady 0..1 intensity.

Each call to Process:
 1. applies the sensitivity pre-gain, clamped to 1.0
 2. measures SNR against the adaptive noise floor
 3. moves the floor quickly when the signal is quiet and slowly when it is not
 4. rescales the level above the floor into [0, 1] with a visual boost
 5. smooths the result with separate attack and release rates

"Detecting" is a hard gate on the raw input only, independent of the
adaptive floor, so true silence always decays to zero.
*/
package level

import (
	"math"
	"sync"
)

// Detector defaults.
const (
	DefaultQuietSNRThresholdDB = 6.0
	DefaultQuietFloorRate      = 0.01
	DefaultLoudFloorRate       = 0.0005
	DefaultVisualGain          = 2.0
	DefaultAttack              = 0.5
	DefaultRelease             = 0.1
	DefaultDetectionFloor      = 1e-4

	initialFloorRMS  = 1e-3
	initialFloorPeak = 2e-3
	minFloor         = 1e-6
	maxFloor         = 0.99
	minSNRLevel      = 1e-12
)

// Config controls a Detector. Use DefaultConfig and override fields.
type Config struct {
	BaseGainDB          float64
	Sensitivity         float64
	QuietSNRThresholdDB float64 // below this SNR the floor follows the input
	QuietFloorRate      float64 // floor EMA rate while quiet
	LoudFloorRate       float64 // floor EMA rate otherwise
	VisualGain          float64
	Attack              float64 // smoothing rate when rising
	Release             float64 // smoothing rate when falling
	DetectionFloor      float64 // raw peak or RMS above this counts as sound
	StabilityWindow     int
}

// DefaultConfig returns the detector defaults at sensitivity 1.
func DefaultConfig() Config {
	return Config{
		BaseGainDB:          0,
		Sensitivity:         DefaultSensitivity,
		QuietSNRThresholdDB: DefaultQuietSNRThresholdDB,
		QuietFloorRate:      DefaultQuietFloorRate,
		LoudFloorRate:       DefaultLoudFloorRate,
		VisualGain:          DefaultVisualGain,
		Attack:              DefaultAttack,
		Release:             DefaultRelease,
		DetectionFloor:      DefaultDetectionFloor,
		StabilityWindow:     DefaultStabilityWindow,
	}
}

// State is the detector output after one frame.
type State struct {
	Peak           float64 `json:"peak"`
	RMS            float64 `json:"rms"`
	NoiseFloorPeak float64 `json:"noise_floor_peak"`
	NoiseFloorRMS  float64 `json:"noise_floor_rms"`
	SNRDB          float64 `json:"snr_db"`
	Detecting      bool    `json:"detecting"`
	Stability      float64 `json:"stability"`
}

// Detector holds the noise floor and smoothing state for one source. All
// methods are safe for concurrent use.
type Detector struct {
	mu        sync.Mutex
	cfg       Config
	gain      float64 // linear pre-gain
	floorRMS  float64
	floorPeak float64
	peak      float64 // smoothed output
	rms       float64 // smoothed output
	stability *Stability
	state     State
}

// NewDetector creates a Detector with the given config.
func NewDetector(cfg Config) *Detector {
	cfg.Sensitivity = ClampSensitivity(cfg.Sensitivity)
	if cfg.StabilityWindow <= 0 {
		cfg.StabilityWindow = DefaultStabilityWindow
	}
	d := &Detector{
		cfg:       cfg,
		stability: NewStability(cfg.StabilityWindow),
	}
	d.gain = DBToLinear(GainDB(cfg.Sensitivity, cfg.BaseGainDB))
	d.resetLocked()
	return d
}

// Process feeds one frame's raw peak and RMS and returns the new state.
func (d *Detector) Process(rawPeak, rawRMS float64) State {
	d.mu.Lock()
	defer d.mu.Unlock()

	gainedPeak := math.Min(1, rawPeak*d.gain)
	gainedRMS := math.Min(1, rawRMS*d.gain)

	snr := 20 * math.Log10(math.Max(gainedRMS, minSNRLevel)/d.floorRMS)

	rate := d.cfg.LoudFloorRate
	if snr < d.cfg.QuietSNRThresholdDB {
		rate = d.cfg.QuietFloorRate
	}
	d.floorRMS = clampFloor(d.floorRMS + rate*(gainedRMS-d.floorRMS))
	d.floorPeak = clampFloor(d.floorPeak + rate*(gainedPeak-d.floorPeak))

	detecting := rawPeak > d.cfg.DetectionFloor || rawRMS > d.cfg.DetectionFloor

	var targetPeak, targetRMS float64
	if detecting {
		targetPeak = d.normalize(gainedPeak, d.floorPeak)
		targetRMS = d.normalize(gainedRMS, d.floorRMS)
	}
	d.peak = d.smooth(d.peak, targetPeak)
	d.rms = d.smooth(d.rms, targetRMS)

	d.stability.Add(d.rms)

	d.state = State{
		Peak:           d.peak,
		RMS:            d.rms,
		NoiseFloorPeak: d.floorPeak,
		NoiseFloorRMS:  d.floorRMS,
		SNRDB:          snr,
		Detecting:      detecting,
		Stability:      d.stability.Value(),
	}
	return d.state
}

// ProcessFrame measures a frame and feeds it to Process.
func (d *Detector) ProcessFrame(frame []float32) State {
	peak, rms := Measure(frame)
	return d.Process(peak, rms)
}

// State returns the result of the most recent Process call.
func (d *Detector) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// SetSensitivity changes the pre-gain. The value is clamped to [0.1, 2.0].
func (d *Detector) SetSensitivity(s float64) {
	d.mu.Lock()
	d.cfg.Sensitivity = ClampSensitivity(s)
	d.gain = DBToLinear(GainDB(d.cfg.Sensitivity, d.cfg.BaseGainDB))
	d.mu.Unlock()
}

// Sensitivity returns the current sensitivity.
func (d *Detector) Sensitivity() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg.Sensitivity
}

// Reset restores the initial noise floor and clears smoothing.
func (d *Detector) Reset() {
	d.mu.Lock()
	d.resetLocked()
	d.mu.Unlock()
}

func (d *Detector) resetLocked() {
	d.floorRMS = initialFloorRMS
	d.floorPeak = initialFloorPeak
	d.peak = 0
	d.rms = 0
	d.stability.Reset()
	d.state = State{
		NoiseFloorPeak: d.floorPeak,
		NoiseFloorRMS:  d.floorRMS,
		Stability:      neutralStability,
	}
}

// normalize rescales the part of level above floor into [0, 1].
func (d *Detector) normalize(level, floor float64) float64 {
	v := (level - floor) / (1 - floor) * d.cfg.VisualGain
	return math.Max(0, math.Min(1, v))
}

func (d *Detector) smooth(current, target float64) float64 {
	rate := d.cfg.Release
	if target > current {
		rate = d.cfg.Attack
	}
	return current + rate*(target-current)
}

func clampFloor(f float64) float64 {
	return math.Max(minFloor, math.Min(maxFloor, f))
}
