// SPDX-License-Identifier: MIT
/*
Package ringbuf implements the fixed-capacity sample store kept for each
audio source. Once the buffer has wrapped, new samples overwrite the oldest.

Thread Safety:
- One writer (the capture path) and any number of readers may run concurrently
- Every operation holds the buffer's mutex for O(requested length)
- No allocation after construction except in Latest, which returns a new slice
*/
package ringbuf

import "sync"

// Buffer is a circular float32 store holding the most recent Capacity()
// samples ever appended. Slots that were never written read as zero.
type Buffer struct {
	mu      sync.Mutex
	data    []float32
	cursor  int    // next write position
	written uint64 // total samples ever appended
}

// New creates a Buffer holding capacity samples. A non-positive capacity
// is raised to 1.
func New(capacity int) *Buffer {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer{data: make([]float32, capacity)}
}

// Capacity returns the fixed number of samples the buffer holds.
func (b *Buffer) Capacity() int {
	return len(b.data)
}

// Append writes samples one at a time, advancing the cursor modulo capacity.
func (b *Buffer) Append(samples []float32) {
	b.mu.Lock()
	n := len(b.data)
	// Only the last n samples of an oversized write survive.
	if len(samples) > n {
		skip := len(samples) - n
		b.cursor = (b.cursor + skip) % n
		b.written += uint64(skip)
		samples = samples[skip:]
	}
	first := copy(b.data[b.cursor:], samples)
	copy(b.data, samples[first:])
	b.cursor = (b.cursor + len(samples)) % n
	b.written += uint64(len(samples))
	b.mu.Unlock()
}

// Latest returns the most recent count samples, oldest first. It returns nil
// when count exceeds the capacity, and an empty slice for count <= 0.
func (b *Buffer) Latest(count int) []float32 {
	if count > len(b.data) {
		return nil
	}
	if count <= 0 {
		return []float32{}
	}
	out := make([]float32, count)
	b.LatestInto(out)
	return out
}

// LatestInto fills dst with the most recent len(dst) samples, oldest first,
// and reports how many of them were actually appended rather than zero fill.
// It leaves dst untouched and returns 0 when len(dst) exceeds the capacity.
func (b *Buffer) LatestInto(dst []float32) int {
	count := len(dst)
	n := len(b.data)
	if count > n || count == 0 {
		return 0
	}

	b.mu.Lock()
	start := b.cursor - count
	if start < 0 {
		start += n
	}
	first := copy(dst, b.data[start:min(start+count, n)])
	copy(dst[first:], b.data[:count-first])
	valid := b.written
	b.mu.Unlock()

	if valid < uint64(count) {
		return int(valid)
	}
	return count
}

// Len returns the number of valid samples currently held.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.written < uint64(len(b.data)) {
		return int(b.written)
	}
	return len(b.data)
}

// Written returns the total number of samples appended since creation or
// the last Reset.
func (b *Buffer) Written() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.written
}

// Reset zeroes the buffer and rewinds the cursor.
func (b *Buffer) Reset() {
	b.mu.Lock()
	clear(b.data)
	b.cursor = 0
	b.written = 0
	b.mu.Unlock()
}
