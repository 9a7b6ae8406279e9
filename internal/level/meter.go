// SPDX-License-Identifier: MIT
package level

import "math"

// Measure returns the absolute peak and the RMS of a frame.
func Measure(frame []float32) (peak, rms float64) {
	if len(frame) == 0 {
		return 0, 0
	}
	var sum float64
	for _, s := range frame {
		v := float64(s)
		sum += v * v
		peak = math.Max(peak, math.Abs(v))
	}
	return peak, math.Sqrt(sum / float64(len(frame)))
}
