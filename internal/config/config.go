// SPDX-License-Identifier: MIT
package config

import (
	"locator/internal/audio"
	"time"
)

// Defaults and limits for the locator configuration.
const (
	DefaultInputDevice     = audio.DefaultDeviceID
	DefaultSampleRate      = 48000
	DefaultFramesPerBuffer = 512
	DefaultInputChannels   = 2

	DefaultFrameSize     = 2048
	DefaultBufferSeconds = 2.0
	DefaultTickInterval  = 50 * time.Millisecond
	DefaultSpeedOfSound  = 343.0

	DefaultRecordingDir    = "./recordings"
	DefaultRecordingFormat = "wav"
	DefaultBitDepth        = 16

	DefaultUDPTargetAddress = "127.0.0.1:9090"
	DefaultUDPSendInterval  = 33 * time.Millisecond // ~30Hz
	DefaultWebSocketAddress = ":8081"
	DefaultServerAddress    = ":8080"

	// Hardware and processing limits
	MinDeviceID     = audio.DefaultDeviceID
	MinSampleRate   = 8000
	MaxSampleRate   = 192000
	MaxBufferFrames = 8192
	MaxChannels     = 64
)

// Config represents the main application configuration structure, loaded from YAML.
type Config struct {
	Debug     bool            `yaml:"debug"`     // Enable debug logging.
	LogLevel  string          `yaml:"log_level"` // Logging level ("debug", "info", "warn", "error").
	Audio     AudioConfig     `yaml:"audio"`
	Sources   []SourceConfig  `yaml:"sources"` // Empty means one source per input channel.
	Pairs     []PairConfig    `yaml:"pairs"`   // Empty means every combination of sources.
	TDOA      TDOAConfig      `yaml:"tdoa"`
	Level     LevelConfig     `yaml:"level"`
	Recording RecordingConfig `yaml:"recording"`
	Transport TransportConfig `yaml:"transport"`
	Server    ServerConfig    `yaml:"server"`
}

// AudioConfig holds the capture device settings.
type AudioConfig struct {
	InputDevice     int     `yaml:"input_device"`      // PortAudio device index (-1 for default).
	SampleRate      float64 `yaml:"sample_rate"`       // Hz; also the correlator's sample rate.
	FramesPerBuffer int     `yaml:"frames_per_buffer"` // Frames per capture callback.
	LowLatency      bool    `yaml:"low_latency"`       // Request the device's low input latency.
	InputChannels   int     `yaml:"input_channels"`    // Channels opened on the device.
	GateThreshold   float64 `yaml:"gate_threshold"`    // Peak below which a block is silenced; 0 disables.
}

// SourceConfig maps one input channel to a named microphone.
type SourceConfig struct {
	ID       string     `yaml:"id"`
	Channel  int        `yaml:"channel"`  // Zero-based device channel.
	Position [3]float64 `yaml:"position"` // Metres, x/y/z.
}

// PairConfig names two sources to correlate. First is the reference.
type PairConfig struct {
	First  string `yaml:"first"`
	Second string `yaml:"second"`
}

// TDOAConfig holds the scheduler and correlator settings.
type TDOAConfig struct {
	FrameSize          int           `yaml:"frame_size"`            // Samples correlated per source each tick.
	BufferSeconds      float64       `yaml:"buffer_seconds"`        // Ring buffer length per source.
	MaxLagSamples      int           `yaml:"max_lag_samples"`       // 0 searches ±frame_size/2.
	LimitLagToGeometry bool          `yaml:"limit_lag_to_geometry"` // Bound each pair's search by its spacing.
	SpeedOfSound       float64       `yaml:"speed_of_sound"`        // m/s.
	Window             bool          `yaml:"window"`                // Taper frames before correlating.
	WindowFunc         string        `yaml:"window_func"`           // "hann", "hamming", "blackman", ...
	Method             string        `yaml:"method"`                // "fft" or "direct".
	TickInterval       time.Duration `yaml:"tick_interval"`
}

// LevelConfig holds the level detector settings.
type LevelConfig struct {
	Sensitivity float64 `yaml:"sensitivity"`  // 0.1 to 2.0, 1.0 is neutral.
	BaseGainDB  float64 `yaml:"base_gain_db"` // Gain at sensitivity 1.0.
}

// RecordingConfig holds settings related to audio recording functionality.
type RecordingConfig struct {
	Enabled    bool   `yaml:"enabled"`     // Record the raw input while running.
	OutputDir  string `yaml:"output_dir"`  // Directory for generated file names.
	OutputFile string `yaml:"output_file"` // Explicit file name; empty generates one.
	Format     string `yaml:"format"`      // Only "wav".
	BitDepth   int    `yaml:"bit_depth"`   // 16, 24 or 32.
}

// TransportConfig holds settings related to publishing results.
type TransportConfig struct {
	UDPEnabled       bool          `yaml:"udp_enabled"`        // Send result packets over UDP.
	UDPTargetAddress string        `yaml:"udp_target_address"` // e.g. "127.0.0.1:9090".
	UDPSendInterval  time.Duration `yaml:"udp_send_interval"`
	WebSocketEnabled bool          `yaml:"websocket_enabled"` // Broadcast results to WebSocket clients.
	WebSocketAddress string        `yaml:"websocket_address"`
	LogResults       bool          `yaml:"log_results"` // Log every snapshot at debug level.
}

// ServerConfig holds the HTTP API settings.
type ServerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		LogLevel: "info",
		Audio: AudioConfig{
			InputDevice:     DefaultInputDevice,
			SampleRate:      DefaultSampleRate,
			FramesPerBuffer: DefaultFramesPerBuffer,
			InputChannels:   DefaultInputChannels,
		},
		TDOA: TDOAConfig{
			FrameSize:     DefaultFrameSize,
			BufferSeconds: DefaultBufferSeconds,
			SpeedOfSound:  DefaultSpeedOfSound,
			Window:        true,
			WindowFunc:    "hann",
			Method:        "fft",
			TickInterval:  DefaultTickInterval,
		},
		Level: LevelConfig{
			Sensitivity: 1.0,
		},
		Recording: RecordingConfig{
			OutputDir: DefaultRecordingDir,
			Format:    DefaultRecordingFormat,
			BitDepth:  DefaultBitDepth,
		},
		Transport: TransportConfig{
			UDPTargetAddress: DefaultUDPTargetAddress,
			UDPSendInterval:  DefaultUDPSendInterval,
			WebSocketAddress: DefaultWebSocketAddress,
		},
		Server: ServerConfig{
			Address: DefaultServerAddress,
		},
	}
}
