// SPDX-License-Identifier: MIT
package ringbuf

import (
	"sync"
	"testing"
)

func sequence(start, count int) []float32 {
	s := make([]float32, count)
	for i := range s {
		s[i] = float32(start + i)
	}
	return s
}

func equal(a, b []float32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestLatest_ExactCapacity(t *testing.T) {
	const capacity = 64
	b := New(capacity)
	in := sequence(1, capacity)
	b.Append(in)

	got := b.Latest(capacity)
	if !equal(got, in) {
		t.Errorf("Latest(%d) = %v, want %v", capacity, got, in)
	}
}

func TestLatest_Wrapped(t *testing.T) {
	tests := []struct {
		name   string
		k      int
		chunks int // number of Append calls the samples are split into
	}{
		{"Single write", 10, 1},
		{"Chunked writes", 10, 7},
		{"Oversized write", 3 * 64, 1},
		{"One extra", 1, 5},
	}

	const capacity = 64
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New(capacity)
			in := sequence(1, capacity+tt.k)
			step := (len(in) + tt.chunks - 1) / tt.chunks
			for i := 0; i < len(in); i += step {
				b.Append(in[i:min(i+step, len(in))])
			}

			got := b.Latest(capacity)
			want := in[tt.k:]
			if !equal(got, want) {
				t.Errorf("Latest(%d) = %v, want %v", capacity, got, want)
			}
		})
	}
}

func TestLatest_Partial(t *testing.T) {
	b := New(16)
	b.Append(sequence(1, 20))

	got := b.Latest(3)
	want := []float32{18, 19, 20}
	if !equal(got, want) {
		t.Errorf("Latest(3) = %v, want %v", got, want)
	}
}

func TestLatest_ZeroFilledBeforeFull(t *testing.T) {
	b := New(8)
	b.Append([]float32{5, 6})

	got := b.Latest(4)
	want := []float32{0, 0, 5, 6}
	if !equal(got, want) {
		t.Errorf("Latest(4) = %v, want %v", got, want)
	}
}

func TestLatest_Oversized(t *testing.T) {
	b := New(8)
	b.Append(sequence(0, 8))

	if got := b.Latest(9); len(got) != 0 {
		t.Errorf("Latest(9) = %v, want empty", got)
	}
	if got := b.Latest(0); len(got) != 0 {
		t.Errorf("Latest(0) = %v, want empty", got)
	}
}

func TestLatestInto_ValidCount(t *testing.T) {
	b := New(8)
	dst := make([]float32, 4)

	if n := b.LatestInto(dst); n != 0 {
		t.Errorf("empty buffer LatestInto = %d, want 0", n)
	}

	b.Append([]float32{1, 2, 3})
	if n := b.LatestInto(dst); n != 3 {
		t.Errorf("LatestInto after 3 samples = %d, want 3", n)
	}

	b.Append(sequence(4, 20))
	if n := b.LatestInto(dst); n != 4 {
		t.Errorf("LatestInto after wrap = %d, want 4", n)
	}
	if !equal(dst, []float32{20, 21, 22, 23}) {
		t.Errorf("dst = %v", dst)
	}

	big := make([]float32, 9)
	big[0] = 42
	if n := b.LatestInto(big); n != 0 || big[0] != 42 {
		t.Errorf("oversized LatestInto = %d (dst[0]=%f), want 0 and untouched dst", n, big[0])
	}
}

func TestLenWrittenReset(t *testing.T) {
	b := New(10)
	if b.Capacity() != 10 {
		t.Fatalf("Capacity() = %d, want 10", b.Capacity())
	}

	b.Append(sequence(0, 4))
	if b.Len() != 4 || b.Written() != 4 {
		t.Errorf("after 4: Len=%d Written=%d", b.Len(), b.Written())
	}

	b.Append(sequence(0, 25))
	if b.Len() != 10 || b.Written() != 29 {
		t.Errorf("after 29: Len=%d Written=%d", b.Len(), b.Written())
	}

	b.Reset()
	if b.Len() != 0 || b.Written() != 0 {
		t.Errorf("after Reset: Len=%d Written=%d", b.Len(), b.Written())
	}
	for _, v := range b.Latest(10) {
		if v != 0 {
			t.Fatalf("Reset left data behind: %v", b.Latest(10))
		}
	}
}

func TestNew_NonPositiveCapacity(t *testing.T) {
	b := New(0)
	if b.Capacity() != 1 {
		t.Errorf("Capacity() = %d, want 1", b.Capacity())
	}
	b.Append([]float32{1, 2, 3})
	if got := b.Latest(1); !equal(got, []float32{3}) {
		t.Errorf("Latest(1) = %v, want [3]", got)
	}
}

// TestConcurrentReadWrite runs one writer against several readers. Every read
// must see a contiguous, increasing run because appends are atomic per call.
func TestConcurrentReadWrite(t *testing.T) {
	const (
		capacity = 4096
		frame    = 256
		writes   = 400
	)
	b := New(capacity)

	var wg sync.WaitGroup
	done := make(chan struct{})

	for range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			dst := make([]float32, frame)
			for {
				select {
				case <-done:
					return
				default:
				}
				if b.LatestInto(dst) < frame {
					continue
				}
				for i := 1; i < frame; i++ {
					if dst[i] != dst[i-1]+1 {
						t.Errorf("torn read at %d: %f then %f", i, dst[i-1], dst[i])
						return
					}
				}
			}
		}()
	}

	for i := range writes {
		b.Append(sequence(i*frame, frame))
	}
	close(done)
	wg.Wait()
}

func TestAppendLatestInto_NoAllocs(t *testing.T) {
	b := New(96000)
	in := sequence(0, 512)
	dst := make([]float32, 2048)

	allocs := testing.AllocsPerRun(100, func() {
		b.Append(in)
		b.LatestInto(dst)
	})
	if allocs > 0 {
		t.Errorf("Append/LatestInto allocated: got %.1f allocs, want 0", allocs)
	}
}

func BenchmarkAppend(b *testing.B) {
	buf := New(96000)
	in := sequence(0, 512)

	b.ReportAllocs()
	for b.Loop() {
		buf.Append(in)
	}
}

func BenchmarkLatestInto(b *testing.B) {
	buf := New(96000)
	buf.Append(sequence(0, 96000))
	dst := make([]float32, 2048)

	b.ReportAllocs()
	for b.Loop() {
		buf.LatestInto(dst)
	}
}
