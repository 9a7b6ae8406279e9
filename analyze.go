// SPDX-License-Identifier: MIT
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"locator/internal/audio"
	"locator/internal/config"
	applog "locator/internal/log"
	"locator/internal/tdoa"
	"text/tabwriter"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// analyzeFile replays a multi-channel WAV through the engine, ticking once
// per tick interval of file time, and writes every snapshot and a per-pair
// summary to w. The file's sample rate and channel count replace the
// configured device values.
func analyzeFile(cfg *config.Config, path string, w io.Writer, jsonOut bool) error {
	info, err := audio.ReadFileInfo(path)
	if err != nil {
		return err
	}
	applog.Infof("Analyze: %s: %d channels, %d Hz, %d bit, %d frames",
		path, info.Channels, info.SampleRate, info.BitDepth, info.Frames)

	cfg.Audio.SampleRate = float64(info.SampleRate)
	cfg.Audio.InputChannels = info.Channels
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration does not fit %s: %w", path, err)
	}

	ec, err := cfg.EngineConfig()
	if err != nil {
		return err
	}
	engine := tdoa.NewEngine(ec)
	engine.RegisterPairs(cfg.ResolvedPairs())

	printer := &snapshotPrinter{w: w, jsonOut: jsonOut, tick: cfg.TDOA.TickInterval}
	summary := newPairSummary()
	runner, err := tdoa.NewRunner(cfg.TDOA.TickInterval, engine, printer, summary)
	if err != nil {
		return err
	}

	tickFrames := max(1, int(cfg.TDOA.TickInterval.Seconds()*cfg.Audio.SampleRate))
	nextTick := tickFrames
	_, err = audio.ReplayFile(path, engine, audio.ReplayOptions{
		Sources:         cfg.ChannelSources(),
		FramesPerBuffer: cfg.Audio.FramesPerBuffer,
		OnChunk: func(frames int) error {
			for frames >= nextTick {
				runner.Step()
				nextTick += tickFrames
			}
			return printer.err
		},
	})
	if err != nil {
		return err
	}

	if !jsonOut {
		return summary.write(w, engine.Pairs())
	}
	return nil
}

// snapshotPrinter writes each snapshot as text lines or one JSON object.
type snapshotPrinter struct {
	w       io.Writer
	jsonOut bool
	tick    time.Duration // file time between snapshots
	err     error
}

func (p *snapshotPrinter) Send(data any) error {
	snap, ok := data.(*tdoa.Snapshot)
	if !ok || p.err != nil {
		return p.err
	}
	if p.jsonOut {
		p.err = json.NewEncoder(p.w).Encode(snap)
		return p.err
	}

	at := time.Duration(snap.Seq) * p.tick
	for _, id := range tdoa.SortedPairIDs(snap.Results) {
		r := snap.Results[id].Result
		if r.IsZero() {
			continue
		}
		_, p.err = fmt.Fprintf(p.w, "%8.3fs  %-20s delay=%+5d (%+.3fms) confidence=%.2f\n",
			at.Seconds(), id, r.DelaySamples, r.DelaySeconds*1000, r.Confidence)
		if p.err != nil {
			return p.err
		}
	}
	return nil
}

// pairSummary collects every non-zero estimate per pair.
type pairSummary struct {
	delays  map[tdoa.PairID][]float64
	weights map[tdoa.PairID][]float64
}

func newPairSummary() *pairSummary {
	return &pairSummary{
		delays:  make(map[tdoa.PairID][]float64),
		weights: make(map[tdoa.PairID][]float64),
	}
}

func (s *pairSummary) Send(data any) error {
	snap, ok := data.(*tdoa.Snapshot)
	if !ok {
		return nil
	}
	for id, e := range snap.Results {
		if e.Result.IsZero() {
			continue
		}
		s.delays[id] = append(s.delays[id], float64(e.Result.DelaySamples))
		s.weights[id] = append(s.weights[id], e.Result.Confidence)
	}
	return nil
}

// stats returns the confidence-weighted mean and standard deviation of the
// delay in samples, and the number of estimates.
func (s *pairSummary) stats(id tdoa.PairID) (mean, std float64, n int) {
	x, w := s.delays[id], s.weights[id]
	if len(x) == 0 {
		return 0, 0, 0
	}
	if floats.Sum(w) == 0 {
		w = nil
	}
	mean, std = stat.PopMeanStdDev(x, w)
	return mean, std, len(x)
}

func (s *pairSummary) write(w io.Writer, pairs []tdoa.Pair) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\nPAIR\tESTIMATES\tMEAN DELAY\tSTD DEV")
	for _, p := range pairs {
		mean, std, n := s.stats(p.ID())
		if n == 0 {
			fmt.Fprintf(tw, "%s\t0\t-\t-\n", p)
			continue
		}
		fmt.Fprintf(tw, "%s\t%d\t%+.1f samples\t%.1f\n", p, n, mean, std)
	}
	return tw.Flush()
}
