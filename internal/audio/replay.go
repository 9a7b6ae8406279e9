// SPDX-License-Identifier: MIT
package audio

import (
	"errors"
	"fmt"
	"locator/internal/tdoa"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// ErrInvalidWAV is returned for files that are not PCM WAV.
var ErrInvalidWAV = errors.New("not a valid PCM WAV file")

// FileInfo describes a decoded WAV file.
type FileInfo struct {
	SampleRate int
	Channels   int
	BitDepth   int
	Frames     int // frames fed to the ingester
}

// ReplayOptions controls ReplayFile.
type ReplayOptions struct {
	// Sources maps file channels to source IDs. Channels without an entry or
	// with an empty ID are skipped.
	Sources []tdoa.SourceID
	// FramesPerBuffer is the chunk size fed per channel, as a capture
	// callback would deliver it. 0 defaults to 512.
	FramesPerBuffer int
	// Gate, when set, is applied to every chunk before ingest.
	Gate *Gate
	// OnChunk runs after each chunk is ingested with the running frame
	// count. A non-nil error stops the replay and is returned.
	OnChunk func(frames int) error
}

// ReadFileInfo reads a PCM WAV header. Frames is the file's total frame
// count.
func ReadFileInfo(path string) (FileInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return FileInfo{}, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	dec, err := openPCM(path, f)
	if err != nil {
		return FileInfo{}, err
	}
	if err := dec.FwdToPCM(); err != nil {
		return FileInfo{}, fmt.Errorf("%s: %w", path, err)
	}

	info := FileInfo{
		SampleRate: int(dec.SampleRate),
		Channels:   int(dec.NumChans),
		BitDepth:   int(dec.BitDepth),
	}
	if frameBytes := int64(info.Channels) * int64((info.BitDepth+7)/8); frameBytes > 0 {
		info.Frames = int(dec.PCMLen() / frameBytes)
	}
	return info, nil
}

func openPCM(path string, f *os.File) (*wav.Decoder, error) {
	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%s: %w", path, ErrInvalidWAV)
	}
	if dec.WavAudioFormat != wavFormatPCM {
		return nil, fmt.Errorf("%s: unsupported WAV format %d: %w", path, dec.WavAudioFormat, ErrInvalidWAV)
	}
	return dec, nil
}

// ReplayFile decodes a multi-channel PCM WAV file and feeds each mapped
// channel to sink in FramesPerBuffer chunks, converted to float32 in
// [-1, 1).
func ReplayFile(path string, sink Ingester, opts ReplayOptions) (FileInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return FileInfo{}, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	dec, err := openPCM(path, f)
	if err != nil {
		return FileInfo{}, err
	}

	info := FileInfo{
		SampleRate: int(dec.SampleRate),
		Channels:   int(dec.NumChans),
		BitDepth:   int(dec.BitDepth),
	}
	framesPerBuffer := opts.FramesPerBuffer
	if framesPerBuffer <= 0 {
		framesPerBuffer = 512
	}

	buf := &audio.IntBuffer{
		Format: dec.Format(),
		Data:   make([]int, framesPerBuffer*info.Channels),
	}
	frames := make([][]float32, info.Channels)
	for c := range frames {
		frames[c] = make([]float32, framesPerBuffer)
	}
	offset, scale := pcmScale(info.BitDepth)

	for {
		n, err := dec.PCMBuffer(buf)
		if err != nil {
			return info, fmt.Errorf("failed to decode %s: %w", path, err)
		}
		count := n / info.Channels
		if count == 0 {
			break
		}

		for i := range count {
			for c := range info.Channels {
				frames[c][i] = float32(float64(buf.Data[i*info.Channels+c]-offset) * scale)
			}
		}
		for c, id := range opts.Sources {
			if id == "" || c >= info.Channels {
				continue
			}
			chunk := frames[c][:count]
			if opts.Gate != nil {
				opts.Gate.Apply(chunk)
			}
			sink.Ingest(id, chunk)
		}
		info.Frames += count

		if opts.OnChunk != nil {
			if err := opts.OnChunk(info.Frames); err != nil {
				return info, err
			}
		}
	}

	return info, nil
}

// pcmScale returns the zero offset and the factor mapping integer samples of
// the given bit depth to [-1, 1). 8-bit WAV samples are unsigned.
func pcmScale(bitDepth int) (offset int, scale float64) {
	if bitDepth == 8 {
		return 128, 1.0 / 128
	}
	return 0, 1.0 / float64(int64(1)<<(bitDepth-1))
}
