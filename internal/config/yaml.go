// SPDX-License-Identifier: MIT
package config

import (
	"errors"
	"fmt"
	applog "locator/internal/log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultPath is the config file looked for when no path is given.
const DefaultPath = "config.yaml"

// DefaultEnvFile may hold LOCATOR_* variables. Variables already set in the
// environment win.
const DefaultEnvFile = ".env"

// LoadConfig loads configuration from a YAML file specified by path. If path is empty,
// it searches default locations ("config.yaml"). If no file is found, it uses built-in
// defaults. After loading defaults or from file, it applies environment variable
// overrides and validates the final configuration.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		candidates := []string{DefaultPath}
		for _, candidate := range candidates {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := godotenv.Load(DefaultEnvFile); err == nil {
		applog.Infof("Config: Loaded environment from %s", DefaultEnvFile)
	}

	// Apply environment variable overrides AFTER loading from file.
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks every section and returns all problems found, joined.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if _, ok := applog.ParseLevel(c.LogLevel); !ok && c.LogLevel != "" {
		add("log_level %q is not a known level", c.LogLevel)
	}

	// Audio
	a := c.Audio
	if a.InputDevice < MinDeviceID {
		add("audio.input_device %d must be >= %d", a.InputDevice, MinDeviceID)
	}
	if a.SampleRate < MinSampleRate || a.SampleRate > MaxSampleRate {
		add("audio.sample_rate %.0f outside [%d, %d]", a.SampleRate, MinSampleRate, MaxSampleRate)
	}
	if a.FramesPerBuffer <= 0 || a.FramesPerBuffer > MaxBufferFrames {
		add("audio.frames_per_buffer %d outside [1, %d]", a.FramesPerBuffer, MaxBufferFrames)
	}
	if a.InputChannels <= 0 || a.InputChannels > MaxChannels {
		add("audio.input_channels %d outside [1, %d]", a.InputChannels, MaxChannels)
	}
	if a.GateThreshold < 0 || a.GateThreshold > 1 {
		add("audio.gate_threshold %g outside [0, 1]", a.GateThreshold)
	}

	// Sources and pairs
	ids := make(map[string]bool, len(c.Sources))
	for i, s := range c.Sources {
		switch {
		case s.ID == "":
			add("sources[%d].id must be set", i)
		case strings.Contains(s.ID, ":"):
			add("sources[%d].id %q must not contain ':'", i, s.ID)
		case ids[s.ID]:
			add("sources[%d].id %q is declared twice", i, s.ID)
		}
		ids[s.ID] = true
		if s.Channel < 0 || s.Channel >= a.InputChannels {
			add("sources[%d].channel %d outside [0, %d)", i, s.Channel, a.InputChannels)
		}
	}
	known := func(id string) bool {
		if len(c.Sources) > 0 {
			return ids[id]
		}
		for _, s := range c.ResolvedSources() {
			if s.ID == id {
				return true
			}
		}
		return false
	}
	for i, p := range c.Pairs {
		if !known(p.First) {
			add("pairs[%d].first %q is not a declared source", i, p.First)
		}
		if !known(p.Second) {
			add("pairs[%d].second %q is not a declared source", i, p.Second)
		}
		if p.First == p.Second {
			add("pairs[%d] pairs %q with itself", i, p.First)
		}
	}
	if len(c.ResolvedPairs()) == 0 {
		errs = append(errs, ErrNoPairs)
	}

	// TDOA
	t := c.TDOA
	if t.FrameSize <= 0 {
		add("tdoa.frame_size %d must be positive", t.FrameSize)
	}
	if t.BufferSeconds <= 0 {
		add("tdoa.buffer_seconds %g must be positive", t.BufferSeconds)
	} else if t.FrameSize > 0 && int(t.BufferSeconds*a.SampleRate) < t.FrameSize {
		add("tdoa.buffer_seconds %g holds fewer than frame_size %d samples", t.BufferSeconds, t.FrameSize)
	}
	if t.MaxLagSamples < 0 {
		add("tdoa.max_lag_samples %d must not be negative", t.MaxLagSamples)
	}
	if t.SpeedOfSound <= 0 {
		add("tdoa.speed_of_sound %g must be positive", t.SpeedOfSound)
	}
	if t.TickInterval <= 0 {
		add("tdoa.tick_interval %s must be positive", t.TickInterval)
	}
	if _, err := c.CorrelatorConfig(); err != nil {
		add("tdoa: %w", err)
	}

	// Level
	if s := c.Level.Sensitivity; s < 0.1 || s > 2.0 {
		add("level.sensitivity %g outside [0.1, 2.0]", s)
	}

	// Recording
	r := c.Recording
	if r.Format != DefaultRecordingFormat {
		add("recording.format %q is not supported (only %q)", r.Format, DefaultRecordingFormat)
	}
	switch r.BitDepth {
	case 16, 24, 32:
	default:
		add("recording.bit_depth %d must be 16, 24 or 32", r.BitDepth)
	}

	// Transport
	tr := c.Transport
	if tr.UDPEnabled {
		if tr.UDPTargetAddress == "" {
			add("transport.udp_target_address must be set when UDP is enabled")
		} else if !strings.Contains(tr.UDPTargetAddress, ":") {
			add("transport.udp_target_address '%s' appears invalid (missing port?)", tr.UDPTargetAddress)
		}
		if tr.UDPSendInterval <= 0 {
			add("transport.udp_send_interval must be positive when UDP is enabled")
		}
	}
	if tr.WebSocketEnabled && tr.WebSocketAddress == "" {
		add("transport.websocket_address must be set when WebSocket is enabled")
	}
	if c.Server.Enabled && c.Server.Address == "" {
		add("server.address must be set when the server is enabled")
	}

	return errors.Join(errs...)
}

// ErrNoPairs is returned by Validate when the configuration yields no pair
// to correlate.
var ErrNoPairs = errors.New("at least two sources are needed to form a pair")

// applyEnvOverrides reads LOCATOR_* variables over file and default values.
// Unparsable values are ignored with a warning.
func (cfg *Config) applyEnvOverrides() {
	// LOCATOR_DEBUG
	if val, ok := os.LookupEnv("LOCATOR_DEBUG"); ok {
		if bVal, err := strconv.ParseBool(val); err == nil {
			cfg.Debug = bVal
			applog.Infof("Config: Overriding debug from env: %v", bVal)
		} else {
			applog.Warnf("Config: Ignoring LOCATOR_DEBUG=%q: %v", val, err)
		}
	}
	// LOCATOR_LOG_LEVEL
	if val, ok := os.LookupEnv("LOCATOR_LOG_LEVEL"); ok {
		cfg.LogLevel = val
		applog.Infof("Config: Overriding log_level from env: %s", val)
	}
	// LOCATOR_INPUT_DEVICE
	if val, ok := os.LookupEnv("LOCATOR_INPUT_DEVICE"); ok {
		if iVal, err := strconv.Atoi(val); err == nil {
			cfg.Audio.InputDevice = iVal
			applog.Infof("Config: Overriding audio.input_device from env: %d", iVal)
		} else {
			applog.Warnf("Config: Ignoring LOCATOR_INPUT_DEVICE=%q: %v", val, err)
		}
	}
	// LOCATOR_SENSITIVITY
	if val, ok := os.LookupEnv("LOCATOR_SENSITIVITY"); ok {
		if fVal, err := strconv.ParseFloat(val, 64); err == nil {
			cfg.Level.Sensitivity = fVal
			applog.Infof("Config: Overriding level.sensitivity from env: %g", fVal)
		} else {
			applog.Warnf("Config: Ignoring LOCATOR_SENSITIVITY=%q: %v", val, err)
		}
	}

	// LOCATOR_UDP_{...}
	// These are specific to the transport layer.

	// LOCATOR_UDP_ENABLED
	if val, ok := os.LookupEnv("LOCATOR_UDP_ENABLED"); ok {
		if bVal, err := strconv.ParseBool(val); err == nil {
			cfg.Transport.UDPEnabled = bVal
			applog.Infof("Config: Overriding transport.udp_enabled from env: %v", bVal)
		} else {
			applog.Warnf("Config: Ignoring LOCATOR_UDP_ENABLED=%q: %v", val, err)
		}
	}
	// LOCATOR_UDP_TARGET_ADDRESS
	if val, ok := os.LookupEnv("LOCATOR_UDP_TARGET_ADDRESS"); ok {
		cfg.Transport.UDPTargetAddress = val
		applog.Infof("Config: Overriding transport.udp_target_address from env: %s", val)
	}
	// LOCATOR_UDP_SEND_INTERVAL
	if val, ok := os.LookupEnv("LOCATOR_UDP_SEND_INTERVAL"); ok {
		if dur, err := time.ParseDuration(val); err == nil {
			cfg.Transport.UDPSendInterval = dur
			applog.Infof("Config: Overriding transport.udp_send_interval from env: %s", dur)
		} else {
			applog.Warnf("Config: Ignoring LOCATOR_UDP_SEND_INTERVAL=%q: %v", val, err)
		}
	}
	// LOCATOR_SERVER_ADDRESS
	if val, ok := os.LookupEnv("LOCATOR_SERVER_ADDRESS"); ok {
		cfg.Server.Enabled = true
		cfg.Server.Address = val
		applog.Infof("Config: Overriding server.address from env: %s", val)
	}
}
