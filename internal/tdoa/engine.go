// SPDX-License-Identifier: MIT
package tdoa

import (
	"locator/internal/correlate"
	"locator/internal/level"
	"sort"
	"sync"
)

// EngineConfig combines scheduler and level detector settings.
type EngineConfig struct {
	Scheduler Config
	Level     level.Config
}

// DefaultEngineConfig returns the scheduler and detector defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Scheduler: DefaultConfig(),
		Level:     level.DefaultConfig(),
	}
}

// Engine is the in-process boundary of the locator: captured frames go in
// through Ingest, delay estimates and per-source levels come out. It runs one
// level detector per source next to the scheduler.
type Engine struct {
	sched    *Scheduler
	levelCfg level.Config

	mu        sync.RWMutex
	detectors map[SourceID]*level.Detector
}

// NewEngine creates an Engine with no pairs registered.
func NewEngine(cfg EngineConfig) *Engine {
	cfg.Level.Sensitivity = level.ClampSensitivity(cfg.Level.Sensitivity)
	return &Engine{
		sched:     NewScheduler(cfg.Scheduler),
		levelCfg:  cfg.Level,
		detectors: make(map[SourceID]*level.Detector),
	}
}

// Ingest buffers one mono frame for a source and updates its level. It does
// not log and allocates only when a source is first seen.
func (e *Engine) Ingest(id SourceID, frame []float32) {
	e.sched.Ingest(id, frame)
	e.detector(id).ProcessFrame(frame)
}

// Tick runs one scheduler tick and returns the published snapshot.
func (e *Engine) Tick() *Snapshot {
	return e.sched.Tick()
}

// Snapshot returns the latest published snapshot without ticking.
func (e *Engine) Snapshot() *Snapshot {
	return e.sched.Snapshot()
}

// CurrentResults returns a copy of the latest pair results.
func (e *Engine) CurrentResults() map[PairID]correlate.Result {
	return e.sched.Results()
}

// CurrentLevel returns the level state of a source. ok is false for a
// source that has never been ingested.
func (e *Engine) CurrentLevel(id SourceID) (level.State, bool) {
	e.mu.RLock()
	d := e.detectors[id]
	e.mu.RUnlock()
	if d == nil {
		return level.State{}, false
	}
	return d.State(), true
}

// Levels returns the level state of every source seen so far.
func (e *Engine) Levels() map[SourceID]level.State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[SourceID]level.State, len(e.detectors))
	for id, d := range e.detectors {
		out[id] = d.State()
	}
	return out
}

// RegisterPairs replaces the active pair set and prepares a level detector
// for every source named.
func (e *Engine) RegisterPairs(pairs []Pair) {
	e.sched.RegisterPairs(pairs)
	for _, p := range pairs {
		e.detector(p.First)
		e.detector(p.Second)
	}
}

// UnregisterSource drops a source's buffer and level history.
func (e *Engine) UnregisterSource(id SourceID) {
	e.sched.UnregisterSource(id)
	e.mu.Lock()
	delete(e.detectors, id)
	e.mu.Unlock()
}

// Pairs returns the active pair set.
func (e *Engine) Pairs() []Pair {
	return e.sched.Pairs()
}

// Sources returns every source with a buffer, sorted.
func (e *Engine) Sources() []SourceID {
	return e.sched.Sources()
}

// State returns the scheduler lifecycle stage.
func (e *Engine) State() State {
	return e.sched.State()
}

// SetSensitivity applies a new sensitivity to every source, current and
// future.
func (e *Engine) SetSensitivity(s float64) {
	s = level.ClampSensitivity(s)
	e.mu.Lock()
	e.levelCfg.Sensitivity = s
	for _, d := range e.detectors {
		d.SetSensitivity(s)
	}
	e.mu.Unlock()
}

// Sensitivity returns the sensitivity applied to new sources.
func (e *Engine) Sensitivity() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.levelCfg.Sensitivity
}

// ResetLevels restores every detector's initial noise floor.
func (e *Engine) ResetLevels() {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, d := range e.detectors {
		d.Reset()
	}
}

func (e *Engine) detector(id SourceID) *level.Detector {
	e.mu.RLock()
	d := e.detectors[id]
	e.mu.RUnlock()
	if d != nil {
		return d
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if d = e.detectors[id]; d == nil {
		d = level.NewDetector(e.levelCfg)
		e.detectors[id] = d
	}
	return d
}

// SortedPairIDs returns the keys of a result map in a stable order.
func SortedPairIDs[V any](m map[PairID]V) []PairID {
	ids := make([]PairID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if ids[i].A != ids[j].A {
			return ids[i].A < ids[j].A
		}
		return ids[i].B < ids[j].B
	})
	return ids
}
