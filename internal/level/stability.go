// SPDX-License-Identifier: MIT
package level

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

const (
	DefaultStabilityWindow = 10

	neutralStability   = 0.5
	minStabilitySample = 3
	stabilityScale     = 10.0
)

// Stability scores how steady the recent intensities are: exp(-10·variance)
// over the last window values, 1 for a constant level. With fewer than 3
// values it reports a neutral 0.5. It is not safe for concurrent use.
type Stability struct {
	values []float64
	next   int
	count  int
}

// NewStability creates a tracker over the last window values.
func NewStability(window int) *Stability {
	if window < minStabilitySample {
		window = DefaultStabilityWindow
	}
	return &Stability{values: make([]float64, window)}
}

// Add records one intensity sample.
func (s *Stability) Add(v float64) {
	s.values[s.next] = v
	s.next = (s.next + 1) % len(s.values)
	if s.count < len(s.values) {
		s.count++
	}
}

// Value returns the current score in [0, 1].
func (s *Stability) Value() float64 {
	if s.count < minStabilitySample {
		return neutralStability
	}
	// Variance ignores order, so the ring can be used as-is.
	variance := stat.PopVariance(s.values[:s.count], nil)
	return math.Exp(-stabilityScale * variance)
}

// Reset forgets all samples.
func (s *Stability) Reset() {
	clear(s.values)
	s.next = 0
	s.count = 0
}
