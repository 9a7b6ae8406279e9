// SPDX-License-Identifier: MIT
package audio

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/gordonklaus/portaudio"
)

// fakeHost is a microphone array, a duplex interface and a pair of speakers.
var fakeHost = []*portaudio.DeviceInfo{
	{
		Name:                    "Mic Array",
		HostApi:                 &portaudio.HostApiInfo{Name: "ALSA"},
		MaxInputChannels:        4,
		DefaultSampleRate:       48000,
		DefaultLowInputLatency:  2 * time.Millisecond,
		DefaultHighInputLatency: 12 * time.Millisecond,
	},
	{
		Name:              "USB Interface",
		MaxInputChannels:  2,
		MaxOutputChannels: 2,
		DefaultSampleRate: 44100,
	},
	{
		Name:              "Speakers",
		MaxOutputChannels: 2,
		DefaultSampleRate: 48000,
	},
}

// withHost swaps the PortAudio device queries for the test's duration.
func withHost(t *testing.T, devices []*portaudio.DeviceInfo, err error) {
	t.Helper()
	origDevices, origDefault := paDevicesFunc, paLibDefaultInputDeviceFunc
	t.Cleanup(func() {
		paDevicesFunc, paLibDefaultInputDeviceFunc = origDevices, origDefault
	})
	paDevicesFunc = func() ([]*portaudio.DeviceInfo, error) { return devices, err }
	paLibDefaultInputDeviceFunc = func() (*portaudio.DeviceInfo, error) {
		if len(devices) == 0 {
			return nil, errors.New("no default input")
		}
		return devices[0], nil
	}
}

func TestHostDevices(t *testing.T) {
	withHost(t, fakeHost, nil)

	devices, err := HostDevices()
	if err != nil {
		t.Fatalf("HostDevices: %v", err)
	}

	want := []Device{
		{ID: 0, Name: "Mic Array", HostAPI: "ALSA", MaxInputChannels: 4, DefaultSampleRate: 48000},
		{ID: 1, Name: "USB Interface", MaxInputChannels: 2, MaxOutputChannels: 2, DefaultSampleRate: 44100},
		{ID: 2, Name: "Speakers", MaxOutputChannels: 2, DefaultSampleRate: 48000},
	}
	if len(devices) != len(want) {
		t.Fatalf("got %d devices, want %d", len(devices), len(want))
	}
	for i := range want {
		if devices[i] != want[i] {
			t.Errorf("devices[%d] = %+v, want %+v", i, devices[i], want[i])
		}
	}
}

func TestHostDevices_Error(t *testing.T) {
	withHost(t, nil, errors.New("host unavailable"))

	if _, err := HostDevices(); err == nil || !strings.Contains(err.Error(), "host unavailable") {
		t.Errorf("HostDevices error = %v, want the host error", err)
	}
}

func TestInputDevice(t *testing.T) {
	withHost(t, fakeHost, nil)

	tests := []struct {
		name     string
		id       int
		wantName string
		wantErr  string
	}{
		{"System default", DefaultDeviceID, "Mic Array", ""},
		{"Multi-channel array", 0, "Mic Array", ""},
		{"Duplex interface", 1, "USB Interface", ""},
		{"Output only", 2, "", "does not support input"},
		{"Below default", -2, "", "invalid device ID"},
		{"Past the end", len(fakeHost), "", "invalid device ID"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev, err := InputDevice(tt.id)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Errorf("InputDevice(%d) error = %v, want %q", tt.id, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("InputDevice(%d): %v", tt.id, err)
			}
			if dev.Name != tt.wantName {
				t.Errorf("InputDevice(%d) = %q, want %q", tt.id, dev.Name, tt.wantName)
			}
		})
	}
}

func TestInputDevice_NoDefault(t *testing.T) {
	withHost(t, nil, nil)

	if _, err := InputDevice(DefaultDeviceID); err == nil ||
		!strings.Contains(err.Error(), "default input device") {
		t.Errorf("error = %v, want a default device failure", err)
	}
}

func TestNewInput_Channels(t *testing.T) {
	withHost(t, fakeHost, nil)

	tests := []struct {
		name        string
		cfg         InputConfig
		wantErr     string
		wantLatency time.Duration
	}{
		{"All array channels", InputConfig{DeviceID: 0, Channels: 4, FramesPerBuffer: 256, LowLatency: true}, "", 2 * time.Millisecond},
		{"High latency", InputConfig{DeviceID: 0, Channels: 2, FramesPerBuffer: 256}, "", 12 * time.Millisecond},
		{"More channels than the device", InputConfig{DeviceID: 1, Channels: 4, FramesPerBuffer: 256}, "2 input channels, 4 requested", 0},
		{"Output device", InputConfig{DeviceID: 2, Channels: 1, FramesPerBuffer: 256}, "does not support input", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, err := NewInput(tt.cfg, &countingIngester{})
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Errorf("NewInput error = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewInput: %v", err)
			}
			if in.latency != tt.wantLatency {
				t.Errorf("latency = %s, want %s", in.latency, tt.wantLatency)
			}
			if len(in.frames) != tt.cfg.Channels || len(in.frames[0]) != tt.cfg.FramesPerBuffer {
				t.Errorf("frames = %d x %d", len(in.frames), len(in.frames[0]))
			}
		})
	}

	if _, err := NewInput(InputConfig{Channels: 1}, nil); err == nil {
		t.Error("expected an error for a nil ingester")
	}
}

func TestListDevices(t *testing.T) {
	withHost(t, fakeHost, nil)

	var out bytes.Buffer
	if err := ListDevices(&out); err != nil {
		t.Fatalf("ListDevices: %v", err)
	}
	text := out.String()
	for _, want := range []string{
		"[0] Mic Array (Input)",
		"[1] USB Interface (Input/Output)",
		"[2] Speakers (Output)",
		"Input channels: 4, Output channels: 0",
		"Default sample rate: 44100 Hz",
		"Latency: Low=2.00ms, High=12.00ms",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("output missing %q:\n%s", want, text)
		}
	}
}

func TestListDevices_Error(t *testing.T) {
	withHost(t, nil, errors.New("host unavailable"))

	var out bytes.Buffer
	if err := ListDevices(&out); err == nil {
		t.Error("expected the host error")
	}
	if out.Len() != 0 {
		t.Errorf("wrote %q before failing", out.String())
	}
}
