// SPDX-License-Identifier: MIT
package audio

import (
	"math"
	"sync/atomic"
)

// Gate silences capture frames whose peak stays below a threshold, so room
// hiss between events reads as true silence downstream. A threshold of 0
// leaves every frame open.
type Gate struct {
	enabled   atomic.Bool
	threshold atomic.Uint32 // float32 bits, full scale 1.0
}

// NewGate returns a Gate with the given threshold, enabled when threshold > 0.
func NewGate(threshold float64) *Gate {
	g := &Gate{}
	g.SetThreshold(threshold)
	g.enabled.Store(g.Threshold() > 0)
	return g
}

func (g *Gate) Enable() {
	g.enabled.Store(true)
}

func (g *Gate) Disable() {
	g.enabled.Store(false)
}

// Enabled reports whether the gate is active.
func (g *Gate) Enabled() bool {
	return g.enabled.Load()
}

// SetThreshold adjusts the noise gate threshold.
// The value is in the range of 0.0-1.0 where 0=always open, 1=always closed.
func (g *Gate) SetThreshold(threshold float64) {
	if threshold < 0.0 || math.IsNaN(threshold) {
		threshold = 0.0
	}
	if threshold > 1.0 {
		threshold = 1.0
	}
	g.threshold.Store(math.Float32bits(float32(threshold)))
}

// Threshold returns the current noise gate threshold in the range 0.0-1.0.
func (g *Gate) Threshold() float64 {
	return float64(math.Float32frombits(g.threshold.Load()))
}

// Apply zeroes frame in place when the gate is enabled and the frame's peak
// does not exceed the threshold. It reports whether the frame passed.
func (g *Gate) Apply(frame []float32) bool {
	if !g.enabled.Load() {
		return true
	}
	threshold := math.Float32frombits(g.threshold.Load())

	var peak float32
	for _, s := range frame {
		peak = max(peak, float32(math.Abs(float64(s))))
	}
	if peak > threshold {
		return true
	}
	clear(frame)
	return false
}
