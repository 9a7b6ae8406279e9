// SPDX-License-Identifier: MIT
package tdoa

import (
	"fmt"
	"locator/internal/correlate"
	"math"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"
)

// SourceID names one mono input stream. The caller picks it.
type SourceID string

// PairID identifies a microphone pair regardless of declaration order.
type PairID struct {
	A, B SourceID // A <= B
}

// NewPairID returns the unordered identity of a and b.
func NewPairID(a, b SourceID) PairID {
	if b < a {
		a, b = b, a
	}
	return PairID{A: a, B: b}
}

// String renders the identity as "A:B".
func (id PairID) String() string {
	return string(id.A) + ":" + string(id.B)
}

// MarshalText lets PairID key JSON objects.
func (id PairID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText parses "A:B".
func (id *PairID) UnmarshalText(text []byte) error {
	a, b, ok := strings.Cut(string(text), ":")
	if !ok || a == "" || b == "" {
		return fmt.Errorf("invalid pair id %q", text)
	}
	*id = NewPairID(SourceID(a), SourceID(b))
	return nil
}

// Pair is two microphones with positions in metres. Correlation treats First
// as the reference: a positive delay means the sound reached First first.
type Pair struct {
	First          SourceID `json:"first"`
	Second         SourceID `json:"second"`
	FirstPosition  r3.Vec   `json:"first_position"`
	SecondPosition r3.Vec   `json:"second_position"`
}

// ID returns the unordered pair identity.
func (p Pair) ID() PairID {
	return NewPairID(p.First, p.Second)
}

// Distance returns the spacing between the two microphones.
func (p Pair) Distance() float64 {
	return r3.Norm(r3.Sub(p.SecondPosition, p.FirstPosition))
}

// MaxLagSamples returns the largest delay the geometry allows, rounded up,
// plus one sample of slack. It returns 0 for coincident microphones.
func (p Pair) MaxLagSamples(speedOfSound, sampleRate float64) int {
	d := p.Distance()
	if d == 0 || speedOfSound <= 0 {
		return 0
	}
	return int(math.Ceil(d/speedOfSound*sampleRate)) + 1
}

// Bearing returns the far-field angle of arrival in radians relative to the
// pair's broadside, positive towards First. Delays longer than the spacing
// allows saturate at ±π/2.
func (p Pair) Bearing(r correlate.Result, speedOfSound float64) float64 {
	d := p.Distance()
	if d == 0 {
		return 0
	}
	ratio := r.DelaySeconds * speedOfSound / d
	return math.Asin(math.Max(-1, math.Min(1, ratio)))
}

func (p Pair) String() string {
	return fmt.Sprintf("%s→%s (%.3fm)", p.First, p.Second, p.Distance())
}
