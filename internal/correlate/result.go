// SPDX-License-Identifier: MIT
package correlate

import "math"

// Result is one delay estimate between two frames.
type Result struct {
	DelaySamples int     `json:"delay_samples"` // positive when the second signal lags the first
	DelaySeconds float64 `json:"delay_seconds"` // DelaySamples / sample rate
	Confidence   float64 `json:"confidence"`    // 0..1
	PeakValue    float64 `json:"peak_value"`    // correlation value at the chosen lag
}

// EstimatedDistance returns the path-length difference implied by the delay.
func (r Result) EstimatedDistance(speedOfSound float64) float64 {
	return math.Abs(r.DelaySeconds) * speedOfSound
}

// IsZero reports whether r is the zero result returned for unusable input.
func (r Result) IsZero() bool {
	return r == Result{}
}
