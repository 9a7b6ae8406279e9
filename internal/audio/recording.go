// SPDX-License-Identifier: MIT
package audio

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	// Consecutive failed writes after which a Recorder stops accepting data.
	maxConsecutiveWriteFailures = 5

	wavFormatPCM = 1
)

// ErrRecorderClosed is returned by Write after Close or after too many
// consecutive write failures.
var ErrRecorderClosed = errors.New("recorder closed")

// Recorder writes multi-channel float32 frames to a PCM WAV file.
type Recorder struct {
	mu       sync.Mutex
	file     *os.File
	encoder  *wav.Encoder
	buf      *audio.IntBuffer // reusable interleaved buffer
	channels int
	scale    float64 // full-scale integer for the bit depth
	frames   int
	failures int
	closed   bool
}

// NewRecorder creates filename and prepares a WAV encoder. framesPerBuffer
// sizes the conversion buffer; larger writes grow it once.
func NewRecorder(filename string, sampleRate, channels, bitDepth, framesPerBuffer int) (*Recorder, error) {
	switch bitDepth {
	case 16, 24, 32:
	default:
		return nil, fmt.Errorf("unsupported bit depth: %d", bitDepth)
	}
	if channels <= 0 {
		return nil, fmt.Errorf("invalid channel count: %d", channels)
	}

	file, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create recording file: %w", err)
	}

	return &Recorder{
		file:    file,
		encoder: wav.NewEncoder(file, sampleRate, bitDepth, channels, wavFormatPCM),
		buf: &audio.IntBuffer{
			Format: &audio.Format{
				NumChannels: channels,
				SampleRate:  sampleRate,
			},
			Data:           make([]int, framesPerBuffer*channels),
			SourceBitDepth: bitDepth,
		},
		channels: channels,
		scale:    float64(int64(1)<<(bitDepth-1) - 1),
	}, nil
}

// Write interleaves one block of per-channel samples and appends it to the
// file. Channels beyond the recorder's count are ignored; missing channels and
// short channels are written as silence. Samples are clipped to [-1, 1].
func (r *Recorder) Write(channels [][]float32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRecorderClosed
	}

	n := 0
	for _, ch := range channels {
		n = max(n, len(ch))
	}
	if n == 0 {
		return nil
	}

	size := n * r.channels
	if cap(r.buf.Data) < size {
		r.buf.Data = make([]int, size)
	}
	r.buf.Data = r.buf.Data[:size]

	for c := range r.channels {
		var src []float32
		if c < len(channels) {
			src = channels[c]
		}
		for i := range n {
			var v float64
			if i < len(src) {
				v = math.Max(-1, math.Min(1, float64(src[i])))
			}
			r.buf.Data[i*r.channels+c] = int(math.Round(v * r.scale))
		}
	}

	if err := r.encoder.Write(r.buf); err != nil {
		r.failures++
		if r.failures >= maxConsecutiveWriteFailures {
			r.closeLocked()
		}
		return fmt.Errorf("failed to write WAV data: %w", err)
	}
	r.failures = 0
	r.frames += n
	return nil
}

// Frames returns the number of frames written so far.
func (r *Recorder) Frames() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames
}

// Filename returns the path being written.
func (r *Recorder) Filename() string {
	return r.file.Name()
}

// Close finalizes the WAV header and closes the file. It is safe to call
// more than once.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closeLocked()
}

func (r *Recorder) closeLocked() error {
	if r.closed {
		return nil
	}
	r.closed = true

	encErr := r.encoder.Close()
	fileErr := r.file.Close()
	if encErr != nil {
		return fmt.Errorf("failed to finalize WAV file: %w", encErr)
	}
	return fileErr
}

// RecordingFilename returns a timestamped file name in dir, in the form
// recording-DD-MM-YYYY-HHMMSS.wav.
func RecordingFilename(dir string, now time.Time) string {
	return filepath.Join(dir, "recording-"+now.UTC().Format("02-01-2006-150405")+".wav")
}
