// SPDX-License-Identifier: MIT
package tdoa

import (
	"fmt"
	applog "locator/internal/log"
	"sync"
	"time"
)

// Ticker produces snapshots. Engine and Scheduler implement it.
type Ticker interface {
	Tick() *Snapshot
}

// Sink receives every new snapshot. Transports implement it.
type Sink interface {
	Send(data any) error
}

// Runner drives Tick on a fixed interval from one goroutine and hands each
// new snapshot to its sinks. It is started and stopped with Start and Stop.
type Runner struct {
	source   Ticker
	sinks    []Sink
	interval time.Duration

	ticker   *time.Ticker   // Ticker that triggers a processing tick.
	doneChan chan struct{}  // Closed to stop the goroutine.
	stopOnce sync.Once      // Ensures the stop logic runs once per Start/Stop cycle.
	wg       sync.WaitGroup // Waits for the goroutine during Stop.
	mu       sync.Mutex     // Protects ticker and doneChan during Start/Stop.

	lastSeq uint64 // only touched by the runner goroutine
}

// NewRunner creates a Runner. An interval <= 0 defaults to 50ms.
func NewRunner(interval time.Duration, source Ticker, sinks ...Sink) (*Runner, error) {
	if source == nil {
		return nil, fmt.Errorf("Runner: tick source cannot be nil")
	}
	if interval <= 0 {
		interval = 50 * time.Millisecond
		applog.Warnf("Runner: Invalid interval provided, defaulting to %s", interval)
	}
	return &Runner{source: source, sinks: sinks, interval: interval}, nil
}

// Start launches the tick goroutine. Calling Start on a running Runner is a
// no-op.
func (r *Runner) Start() {
	r.mu.Lock()
	if r.ticker != nil {
		r.mu.Unlock()
		applog.Warnf("Runner: Start called but already running.")
		return
	}

	r.ticker = time.NewTicker(r.interval)
	r.doneChan = make(chan struct{})
	r.stopOnce = sync.Once{}

	ticker := r.ticker
	doneChan := r.doneChan
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		applog.Infof("Runner: Tick loop started (Interval: %s, Sinks: %d)", r.interval, len(r.sinks))
		for {
			select {
			case <-ticker.C:
				r.Step()
			case <-doneChan:
				applog.Infof("Runner: Tick loop received stop signal.")
				return
			}
		}
	}()
}

// Step runs one tick and publishes the snapshot if it is new. The tick
// goroutine calls it on every interval; offline analysis calls it directly
// on a Runner that was never started.
func (r *Runner) Step() *Snapshot {
	snap := r.source.Tick()
	if snap == nil || snap.Seq == r.lastSeq {
		return snap
	}
	r.lastSeq = snap.Seq

	for _, sink := range r.sinks {
		if err := sink.Send(snap); err != nil {
			applog.Errorf("Runner: Sink %T failed: %v", sink, err)
		}
	}
	return snap
}

// Stop signals the goroutine to exit and waits for it. Calling Stop on a
// stopped Runner is a no-op.
func (r *Runner) Stop() error {
	r.mu.Lock()
	if r.ticker == nil {
		r.mu.Unlock()
		applog.Debugf("Runner: Stop called but not running.")
		return nil
	}

	r.stopOnce.Do(func() {
		close(r.doneChan)
		r.ticker.Stop()
		r.ticker = nil
	})
	r.mu.Unlock()

	r.wg.Wait()
	applog.Infof("Runner: Tick loop finished.")
	return nil
}

// Close implements io.Closer.
func (r *Runner) Close() error {
	return r.Stop()
}

var _ interface{ Close() error } = (*Runner)(nil)
