// SPDX-License-Identifier: MIT
/*
Package tdoa turns N microphone streams into pairwise delay estimates.

The Scheduler keeps one ring buffer per source and a registry of microphone
pairs. Ingest appends captured samples; Tick pulls the latest FrameSize
samples of every paired source, correlates each pair and publishes the
results as one immutable Snapshot.

Thread Safety:
  - Ingest for different sources never contends (per-source buffer locks)
  - The source map is read-locked on the ingest path and write-locked only
    when a source first appears or the pair set changes
  - Tick is single-flight; a call made while another is running returns the
    current snapshot
  - Snapshots are published with an atomic pointer swap and never mutated
*/
package tdoa

import (
	"locator/internal/correlate"
	applog "locator/internal/log"
	"locator/internal/ringbuf"
	"maps"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

const (
	DefaultFrameSize      = 2048
	DefaultBufferCapacity = 96000 // 2 s at 48 kHz
	DefaultSpeedOfSound   = 343.0 // m/s at 20 °C
)

// State is the scheduler lifecycle stage.
type State int32

const (
	StateUninitialized State = iota // no pairs registered
	StateConfigured                 // pairs registered, idle
	StateProcessing                 // tick in flight
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateConfigured:
		return "configured"
	case StateProcessing:
		return "processing"
	default:
		return "unknown"
	}
}

// Config controls a Scheduler.
type Config struct {
	FrameSize      int // samples correlated per source each tick
	BufferCapacity int // ring buffer size per source
	// MaxLagSamples bounds the peak search; 0 searches ±FrameSize/2.
	MaxLagSamples int
	// LimitLagToGeometry bounds each pair's search by its microphone spacing.
	LimitLagToGeometry bool
	SpeedOfSound       float64
	Correlator         correlate.Config
}

// DefaultConfig returns 2048-sample frames over 2 s buffers at 48 kHz.
func DefaultConfig() Config {
	return Config{
		FrameSize:      DefaultFrameSize,
		BufferCapacity: DefaultBufferCapacity,
		SpeedOfSound:   DefaultSpeedOfSound,
		Correlator:     correlate.DefaultConfig(),
	}
}

// Estimate is one pair's result in a snapshot.
type Estimate struct {
	Pair   Pair             `json:"pair"`
	Result correlate.Result `json:"result"`
}

// Snapshot is the published outcome of one tick.
type Snapshot struct {
	Seq     uint64              `json:"seq"`
	At      time.Time           `json:"at"`
	Results map[PairID]Estimate `json:"results"`
}

// frame is the per-source scratch filled at the start of a tick.
type frame struct {
	data  []float32
	valid int
	tick  uint64
}

// Scheduler owns the per-source buffers and the pair registry.
type Scheduler struct {
	cfg Config

	mu      sync.RWMutex
	buffers map[SourceID]*ringbuf.Buffer
	pairs   []Pair // replaced, never modified in place

	tickMu     sync.Mutex // single-flight
	correlator *correlate.Correlator
	frames     map[SourceID]*frame
	seq        uint64

	snapshot atomic.Pointer[Snapshot]
	state    atomic.Int32
}

// NewScheduler creates a Scheduler. Zero fields in cfg take defaults; a
// buffer smaller than one frame is grown to the frame size.
func NewScheduler(cfg Config) *Scheduler {
	if cfg.FrameSize <= 0 {
		cfg.FrameSize = DefaultFrameSize
	}
	if cfg.BufferCapacity <= 0 {
		cfg.BufferCapacity = DefaultBufferCapacity
	}
	if cfg.BufferCapacity < cfg.FrameSize {
		applog.Warnf("Scheduler: Buffer capacity %d below frame size %d, raising it", cfg.BufferCapacity, cfg.FrameSize)
		cfg.BufferCapacity = cfg.FrameSize
	}
	if cfg.SpeedOfSound <= 0 {
		cfg.SpeedOfSound = DefaultSpeedOfSound
	}

	s := &Scheduler{
		cfg:        cfg,
		buffers:    make(map[SourceID]*ringbuf.Buffer),
		correlator: correlate.New(cfg.Correlator),
		frames:     make(map[SourceID]*frame),
	}
	s.snapshot.Store(&Snapshot{Results: map[PairID]Estimate{}})
	return s
}

// Config returns the active configuration.
func (s *Scheduler) Config() Config {
	return s.cfg
}

// RegisterPairs replaces the active pair set. Buffers for sources already
// known are kept; missing ones are created. When two pairs share an
// unordered identity the later one wins.
func (s *Scheduler) RegisterPairs(pairs []Pair) {
	seen := make(map[PairID]int, len(pairs))
	next := make([]Pair, 0, len(pairs))
	for _, p := range pairs {
		if p.First == p.Second {
			applog.Warnf("Scheduler: Ignoring pair with identical sources %q", p.First)
			continue
		}
		if i, ok := seen[p.ID()]; ok {
			applog.Warnf("Scheduler: Duplicate pair %s, keeping the later declaration", p.ID())
			next[i] = p
			continue
		}
		seen[p.ID()] = len(next)
		next = append(next, p)
	}

	s.mu.Lock()
	for _, p := range next {
		s.ensureBufferLocked(p.First)
		s.ensureBufferLocked(p.Second)
	}
	s.pairs = next
	// A running tick settles the state itself when it finishes.
	if State(s.state.Load()) != StateProcessing {
		s.settleStateLocked()
	}
	s.mu.Unlock()

	applog.Infof("Scheduler: Registered %d pairs", len(next))
}

// Pairs returns a copy of the active pair set.
func (s *Scheduler) Pairs() []Pair {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Pair, len(s.pairs))
	copy(out, s.pairs)
	return out
}

// Sources returns the known source IDs in sorted order.
func (s *Scheduler) Sources() []SourceID {
	s.mu.RLock()
	ids := make([]SourceID, 0, len(s.buffers))
	for id := range s.buffers {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// UnregisterSource drops a source's buffer. Pairs that use it are skipped
// until samples for it arrive again.
func (s *Scheduler) UnregisterSource(id SourceID) {
	s.mu.Lock()
	delete(s.buffers, id)
	s.mu.Unlock()
}

// Ingest appends a frame to the source's buffer, creating the buffer on
// first sight. The frame is copied; the caller may reuse it.
func (s *Scheduler) Ingest(id SourceID, samples []float32) {
	s.mu.RLock()
	buf := s.buffers[id]
	s.mu.RUnlock()

	if buf == nil {
		s.mu.Lock()
		buf = s.ensureBufferLocked(id)
		s.mu.Unlock()
	}
	buf.Append(samples)
}

// Buffered returns how many valid samples a source holds.
func (s *Scheduler) Buffered(id SourceID) int {
	s.mu.RLock()
	buf := s.buffers[id]
	s.mu.RUnlock()
	if buf == nil {
		return 0
	}
	return buf.Len()
}

// State returns the lifecycle stage.
func (s *Scheduler) State() State {
	return State(s.state.Load())
}

// Snapshot returns the most recently published snapshot. It is never nil
// and must not be modified.
func (s *Scheduler) Snapshot() *Snapshot {
	return s.snapshot.Load()
}

// Results returns a copy of the published result map.
func (s *Scheduler) Results() map[PairID]correlate.Result {
	snap := s.snapshot.Load()
	out := make(map[PairID]correlate.Result, len(snap.Results))
	for id, e := range snap.Results {
		out[id] = e.Result
	}
	return out
}

// Tick correlates every registered pair whose sources both hold at least
// FrameSize samples and publishes the new snapshot. Pairs without enough
// data are left out of the snapshot.
func (s *Scheduler) Tick() *Snapshot {
	if !s.tickMu.TryLock() {
		return s.snapshot.Load()
	}
	defer s.tickMu.Unlock()

	s.mu.RLock()
	pairs := s.pairs
	if len(pairs) == 0 {
		s.settleStateLocked()
		s.mu.RUnlock()
		return s.publish(map[PairID]Estimate{})
	}
	s.state.Store(int32(StateProcessing))
	s.seq++
	tick := s.seq
	for _, p := range pairs {
		s.pullLocked(p.First, tick)
		s.pullLocked(p.Second, tick)
	}
	s.mu.RUnlock()

	defer func() {
		s.mu.RLock()
		s.settleStateLocked()
		s.mu.RUnlock()
	}()

	results := make(map[PairID]Estimate, len(pairs))
	for _, p := range pairs {
		a, b := s.frames[p.First], s.frames[p.Second]
		if a == nil || b == nil || a.valid < s.cfg.FrameSize || b.valid < s.cfg.FrameSize {
			if applog.Enabled(applog.LevelDebug) {
				applog.Debugf("Scheduler: Skipping %s, not enough data (%d/%d)", p.ID(), validOf(a), validOf(b))
			}
			continue
		}

		maxLag := s.cfg.MaxLagSamples
		if s.cfg.LimitLagToGeometry {
			if geo := p.MaxLagSamples(s.cfg.SpeedOfSound, s.correlator.Config().SampleRate); geo > 0 {
				maxLag = geo
			}
		}
		results[p.ID()] = Estimate{
			Pair:   p,
			Result: s.correlator.EstimateTDOA(a.data, b.data, maxLag),
		}
	}

	return s.publishSeq(tick, results)
}

// pullLocked copies the latest frame of a source into its scratch buffer
// once per tick. Caller holds mu for reading.
func (s *Scheduler) pullLocked(id SourceID, tick uint64) {
	f := s.frames[id]
	if f != nil && f.tick == tick {
		return
	}
	buf := s.buffers[id]
	if buf == nil {
		delete(s.frames, id)
		return
	}
	if f == nil {
		f = &frame{data: make([]float32, s.cfg.FrameSize)}
		s.frames[id] = f
	}
	f.valid = buf.LatestInto(f.data)
	f.tick = tick
}

func (s *Scheduler) publish(results map[PairID]Estimate) *Snapshot {
	s.seq++
	return s.publishSeq(s.seq, results)
}

func (s *Scheduler) publishSeq(seq uint64, results map[PairID]Estimate) *Snapshot {
	snap := &Snapshot{Seq: seq, At: time.Now(), Results: results}
	s.snapshot.Store(snap)
	return snap
}

// settleStateLocked derives the idle state from the pair set. Caller holds mu.
func (s *Scheduler) settleStateLocked() {
	if len(s.pairs) == 0 {
		s.state.Store(int32(StateUninitialized))
	} else {
		s.state.Store(int32(StateConfigured))
	}
}

func (s *Scheduler) ensureBufferLocked(id SourceID) *ringbuf.Buffer {
	buf, ok := s.buffers[id]
	if !ok {
		buf = ringbuf.New(s.cfg.BufferCapacity)
		s.buffers[id] = buf
	}
	return buf
}

func validOf(f *frame) int {
	if f == nil {
		return 0
	}
	return f.valid
}

// Copy returns a snapshot whose result map can be modified freely.
func (s *Snapshot) Copy() *Snapshot {
	return &Snapshot{Seq: s.Seq, At: s.At, Results: maps.Clone(s.Results)}
}
