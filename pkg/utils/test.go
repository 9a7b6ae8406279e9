// SPDX-License-Identifier: MIT
package utils

import (
	"math"
	"math/rand/v2"
	"sync"
)

// MockTransport implements the Transport interface for testing.
type MockTransport struct {
	mu       sync.Mutex
	lastData any
	count    int
	closed   bool
}

// Send stores the data for later inspection instead of transmitting.
func (m *MockTransport) Send(data any) error {
	m.mu.Lock()
	m.lastData = data
	m.count++
	m.mu.Unlock()
	return nil
}

// Close marks the transport closed.
func (m *MockTransport) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// LastData returns the most recent payload passed to Send.
func (m *MockTransport) LastData() any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastData
}

// Count returns how many times Send has been called.
func (m *MockTransport) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.count
}

// Closed reports whether Close has been called.
func (m *MockTransport) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// GenerateComplexWave returns a 440Hz fundamental with two harmonics.
func GenerateComplexWave(size int, sampleRate float64) []float32 {
	buffer := make([]float32, size)
	for i := range buffer {
		tm := float64(i) / sampleRate
		signal := math.Sin(2*math.Pi*440*tm)*0.5 +
			math.Sin(2*math.Pi*880*tm)*0.3 +
			math.Sin(2*math.Pi*1320*tm)*0.2
		buffer[i] = float32(signal * 0.9)
	}
	return buffer
}

// GenerateSineWave returns a sine at 0.9 full scale.
func GenerateSineWave(size int, sampleRate, frequency float64) []float32 {
	return GenerateTone(size, sampleRate, frequency, 0.9)
}

// GenerateTone returns a sine of the given amplitude.
func GenerateTone(size int, sampleRate, frequency, amplitude float64) []float32 {
	buffer := make([]float32, size)
	for i := range buffer {
		t := float64(i) / sampleRate
		buffer[i] = float32(math.Sin(2*math.Pi*frequency*t) * amplitude)
	}
	return buffer
}

// GenerateNoise returns uniform white noise in [-amplitude, amplitude).
// The same seed always yields the same samples.
func GenerateNoise(size int, seed uint64, amplitude float64) []float32 {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	buffer := make([]float32, size)
	for i := range buffer {
		buffer[i] = float32((rng.Float64()*2 - 1) * amplitude)
	}
	return buffer
}

// Delay returns a copy of signal shifted right by shift samples, padding the
// start with zeros. A negative shift moves the signal left and pads the end.
func Delay(signal []float32, shift int) []float32 {
	out := make([]float32, len(signal))
	for i := range out {
		j := i - shift
		if j >= 0 && j < len(signal) {
			out[i] = signal[j]
		}
	}
	return out
}

// FindPeakBin returns the index of the largest value in values[startBin:endBin+1].
func FindPeakBin(values []float64, startBin, endBin int) int {
	if len(values) == 0 {
		return 0
	}

	if startBin < 0 {
		startBin = 0
	}

	if endBin >= len(values) {
		endBin = len(values) - 1
	}

	peakBin := startBin
	peakValue := values[startBin]

	for bin := startBin + 1; bin <= endBin; bin++ {
		if values[bin] > peakValue {
			peakValue = values[bin]
			peakBin = bin
		}
	}

	return peakBin
}
