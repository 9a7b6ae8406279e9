// SPDX-License-Identifier: MIT
package config

import (
	"fmt"
	"locator/internal/audio"
	"locator/internal/correlate"
	"locator/internal/tdoa"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// ResolvedSources returns the configured sources, or one source per input
// channel named "ch0", "ch1", ... when none are declared.
func (c *Config) ResolvedSources() []SourceConfig {
	if len(c.Sources) > 0 {
		return c.Sources
	}
	out := make([]SourceConfig, c.Audio.InputChannels)
	for ch := range out {
		out[ch] = SourceConfig{ID: fmt.Sprintf("ch%d", ch), Channel: ch}
	}
	return out
}

// ChannelSources returns the source ID for every device channel. Channels
// without a source map to the empty ID and are not ingested.
func (c *Config) ChannelSources() []tdoa.SourceID {
	ids := make([]tdoa.SourceID, c.Audio.InputChannels)
	for _, s := range c.ResolvedSources() {
		if s.Channel >= 0 && s.Channel < len(ids) {
			ids[s.Channel] = tdoa.SourceID(s.ID)
		}
	}
	return ids
}

// ResolvedPairs returns the configured pairs with source positions filled
// in, or every combination of sources in declaration order when none are
// declared. Pairs naming unknown sources are left out.
func (c *Config) ResolvedPairs() []tdoa.Pair {
	sources := c.ResolvedSources()
	pos := make(map[string]r3.Vec, len(sources))
	for _, s := range sources {
		pos[s.ID] = r3.Vec{X: s.Position[0], Y: s.Position[1], Z: s.Position[2]}
	}

	var decl []PairConfig
	if len(c.Pairs) > 0 {
		decl = c.Pairs
	} else {
		for i := range sources {
			for j := i + 1; j < len(sources); j++ {
				decl = append(decl, PairConfig{First: sources[i].ID, Second: sources[j].ID})
			}
		}
	}

	pairs := make([]tdoa.Pair, 0, len(decl))
	for _, p := range decl {
		a, okA := pos[p.First]
		b, okB := pos[p.Second]
		if !okA || !okB || p.First == p.Second {
			continue
		}
		pairs = append(pairs, tdoa.Pair{
			First:          tdoa.SourceID(p.First),
			Second:         tdoa.SourceID(p.Second),
			FirstPosition:  a,
			SecondPosition: b,
		})
	}
	return pairs
}

// CorrelatorConfig builds the correlator settings from the tdoa section.
func (c *Config) CorrelatorConfig() (correlate.Config, error) {
	cc := correlate.DefaultConfig()
	cc.SampleRate = c.Audio.SampleRate
	cc.Window = c.TDOA.Window

	wf, err := correlate.ParseWindowFunc(c.TDOA.WindowFunc)
	if err != nil {
		return cc, err
	}
	cc.WindowFunc = wf

	m, err := correlate.ParseMethod(c.TDOA.Method)
	if err != nil {
		return cc, err
	}
	cc.Method = m
	return cc, nil
}

// EngineConfig builds the engine settings. The config should have passed
// Validate.
func (c *Config) EngineConfig() (tdoa.EngineConfig, error) {
	cc, err := c.CorrelatorConfig()
	if err != nil {
		return tdoa.EngineConfig{}, fmt.Errorf("failed to build correlator config: %w", err)
	}

	ec := tdoa.DefaultEngineConfig()
	ec.Scheduler.FrameSize = c.TDOA.FrameSize
	ec.Scheduler.BufferCapacity = int(math.Ceil(c.TDOA.BufferSeconds * c.Audio.SampleRate))
	ec.Scheduler.MaxLagSamples = c.TDOA.MaxLagSamples
	ec.Scheduler.LimitLagToGeometry = c.TDOA.LimitLagToGeometry
	ec.Scheduler.SpeedOfSound = c.TDOA.SpeedOfSound
	ec.Scheduler.Correlator = cc
	ec.Level.Sensitivity = c.Level.Sensitivity
	ec.Level.BaseGainDB = c.Level.BaseGainDB
	return ec, nil
}

// InputConfig builds the capture settings from the audio section.
func (c *Config) InputConfig() audio.InputConfig {
	return audio.InputConfig{
		DeviceID:        c.Audio.InputDevice,
		SampleRate:      c.Audio.SampleRate,
		FramesPerBuffer: c.Audio.FramesPerBuffer,
		Channels:        c.Audio.InputChannels,
		LowLatency:      c.Audio.LowLatency,
		Sources:         c.ChannelSources(),
		GateThreshold:   c.Audio.GateThreshold,
	}
}
