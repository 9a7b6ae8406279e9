// SPDX-License-Identifier: MIT
package level

import "math"

const (
	MinSensitivity     = 0.1
	MaxSensitivity     = 2.0
	DefaultSensitivity = 1.0

	// dB below the base gain at MinSensitivity.
	sensitivityCutDB = 20.0
	// dB above the base gain at MaxSensitivity.
	sensitivityBoostDB = 12.0
)

// ClampSensitivity limits s to [MinSensitivity, MaxSensitivity]. NaN maps
// to the default.
func ClampSensitivity(s float64) float64 {
	if math.IsNaN(s) {
		return DefaultSensitivity
	}
	return math.Max(MinSensitivity, math.Min(MaxSensitivity, s))
}

// GainDB maps a sensitivity to a pre-gain in dB. Below 1 the range
// [0.1, 1) covers [base-20, base); from 1 to 2 it covers [base, base+12].
func GainDB(sensitivity, baseGainDB float64) float64 {
	s := ClampSensitivity(sensitivity)
	if s < 1 {
		return baseGainDB - sensitivityCutDB + (s-MinSensitivity)/(1-MinSensitivity)*sensitivityCutDB
	}
	return baseGainDB + (s-1)/(MaxSensitivity-1)*sensitivityBoostDB
}

// DBToLinear converts a gain in dB to a linear factor.
func DBToLinear(db float64) float64 {
	return math.Pow(10, db/20)
}
