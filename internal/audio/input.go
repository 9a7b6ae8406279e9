// SPDX-License-Identifier: MIT
/*
Package audio captures, replays and records the multi-channel streams that
feed the locator. Every channel becomes one source; frames are handed to an
Ingester without the package knowing what happens to them.

Thread Safety:
- The capture callback uses pre-allocated buffers only and never logs
- Recording is switched on and off with an atomic pointer swap
- Start, Stop and Close must be called from one goroutine
*/
package audio

import (
	"errors"
	"fmt"
	"locator/internal/tdoa"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/gordonklaus/portaudio"
)

// Ingester receives one mono frame per source. It must not retain frame.
type Ingester interface {
	Ingest(id tdoa.SourceID, frame []float32)
}

// InputConfig describes the capture stream.
type InputConfig struct {
	DeviceID        int
	SampleRate      float64
	FramesPerBuffer int
	Channels        int
	LowLatency      bool
	// Sources maps device channels to source IDs. Empty IDs are not ingested.
	Sources []tdoa.SourceID
	// GateThreshold silences frames whose peak stays below it. 0 disables
	// the gate.
	GateThreshold float64
}

// ErrAlreadyRecording is returned by StartRecording while a recording runs.
var ErrAlreadyRecording = errors.New("already recording")

// Input owns a PortAudio input stream and pushes every callback's channels
// to an Ingester.
type Input struct {
	cfg  InputConfig
	sink Ingester
	gate *Gate

	device  *portaudio.DeviceInfo
	latency time.Duration
	stream  *portaudio.Stream

	frames [][]float32 // per-channel scratch, FramesPerBuffer each

	recorder      atomic.Pointer[Recorder]
	writeFailures atomic.Uint64
	callbacks     atomic.Uint64
}

// NewInput resolves the device and pre-allocates the callback buffers.
func NewInput(cfg InputConfig, sink Ingester) (*Input, error) {
	if sink == nil {
		return nil, fmt.Errorf("Input: ingester cannot be nil")
	}
	device, err := InputDevice(cfg.DeviceID)
	if err != nil {
		return nil, err
	}
	if cfg.Channels > device.MaxInputChannels {
		return nil, fmt.Errorf("device %q has %d input channels, %d requested",
			device.Name, device.MaxInputChannels, cfg.Channels)
	}

	in := newInput(cfg, sink)
	in.device = device
	if cfg.LowLatency {
		in.latency = device.DefaultLowInputLatency
	} else {
		in.latency = device.DefaultHighInputLatency
	}
	return in, nil
}

func newInput(cfg InputConfig, sink Ingester) *Input {
	frames := make([][]float32, cfg.Channels)
	for c := range frames {
		frames[c] = make([]float32, cfg.FramesPerBuffer)
	}
	return &Input{
		cfg:    cfg,
		sink:   sink,
		gate:   NewGate(cfg.GateThreshold),
		frames: frames,
	}
}

// Gate returns the input's noise gate.
func (in *Input) Gate() *Gate {
	return in.gate
}

// Start opens and starts the non-interleaved float32 input stream.
func (in *Input) Start() error {
	if in.stream != nil {
		return nil
	}
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   in.device,
			Channels: in.cfg.Channels,
			Latency:  in.latency,
		},
		FramesPerBuffer: in.cfg.FramesPerBuffer,
		SampleRate:      in.cfg.SampleRate,
	}

	stream, err := portaudio.OpenStream(params, in.process)
	if err != nil {
		return fmt.Errorf("failed to open input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("failed to start input stream: %w", err)
	}
	in.stream = stream
	return nil
}

// Stop stops and closes the stream. Calling Stop on a stopped Input is a
// no-op.
func (in *Input) Stop() error {
	if in.stream == nil {
		return nil
	}
	if err := in.stream.Stop(); err != nil {
		return err
	}
	if err := in.stream.Close(); err != nil {
		return err
	}
	in.stream = nil
	return nil
}

// StartRecording writes the raw input of every channel to filename.
func (in *Input) StartRecording(filename string, bitDepth int) error {
	if in.recorder.Load() != nil {
		return ErrAlreadyRecording
	}
	r, err := NewRecorder(filename, int(in.cfg.SampleRate), in.cfg.Channels, bitDepth, in.cfg.FramesPerBuffer)
	if err != nil {
		return err
	}
	if !in.recorder.CompareAndSwap(nil, r) {
		r.Close()
		return ErrAlreadyRecording
	}
	in.writeFailures.Store(0)
	return nil
}

// StopRecording finalizes the current recording, if any.
func (in *Input) StopRecording() error {
	r := in.recorder.Swap(nil)
	if r == nil {
		return nil
	}
	return r.Close()
}

// Recording reports whether a recording is in progress.
func (in *Input) Recording() bool {
	return in.recorder.Load() != nil
}

// WriteFailures returns how many recording writes failed since the last
// StartRecording.
func (in *Input) WriteFailures() uint64 {
	return in.writeFailures.Load()
}

// Callbacks returns how many capture callbacks have run.
func (in *Input) Callbacks() uint64 {
	return in.callbacks.Load()
}

// Close stops recording and the stream.
func (in *Input) Close() error {
	recErr := in.StopRecording()
	if err := in.Stop(); err != nil {
		return err
	}
	return recErr
}

// process is the capture callback. It records the raw block, gates a copy
// of each mapped channel and hands it to the ingester.
// Performance Critical:
// - Runs in a dedicated OS thread (LockOSThread)
// - Uses pre-allocated buffers only
// - No logging
func (in *Input) process(buffers [][]float32) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	in.callbacks.Add(1)

	if r := in.recorder.Load(); r != nil {
		if err := r.Write(buffers); err != nil {
			in.writeFailures.Add(1)
		}
	}

	for c, id := range in.cfg.Sources {
		if id == "" || c >= len(buffers) || c >= len(in.frames) {
			continue
		}
		n := min(len(buffers[c]), len(in.frames[c]))
		frame := in.frames[c][:n]
		copy(frame, buffers[c])
		in.gate.Apply(frame)
		in.sink.Ingest(id, frame)
	}
}
