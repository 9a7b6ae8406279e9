// SPDX-License-Identifier: MIT
package tdoa

import (
	"errors"
	"locator/pkg/utils"
	"sync/atomic"
	"testing"
	"time"
)

// fixedTicker returns the same snapshot until advance is called.
type fixedTicker struct {
	seq atomic.Uint64
}

func (f *fixedTicker) Tick() *Snapshot {
	return &Snapshot{Seq: f.seq.Load(), Results: map[PairID]Estimate{}}
}

func (f *fixedTicker) advance() {
	f.seq.Add(1)
}

type failingSink struct{ calls int }

func (f *failingSink) Send(any) error {
	f.calls++
	return errors.New("sink unavailable")
}

func TestNewRunner(t *testing.T) {
	if _, err := NewRunner(time.Millisecond, nil); err == nil {
		t.Error("NewRunner accepted a nil source")
	}

	r, err := NewRunner(0, &fixedTicker{})
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	if r.interval != 50*time.Millisecond {
		t.Errorf("interval = %s, want the 50ms default", r.interval)
	}
}

func TestRunner_StepPublishesOncePerSeq(t *testing.T) {
	src := &fixedTicker{}
	sink := &utils.MockTransport{}
	r, err := NewRunner(time.Second, src, sink)
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}

	src.advance()
	r.Step()
	r.Step()
	if sink.Count() != 1 {
		t.Errorf("sink called %d times for one snapshot, want 1", sink.Count())
	}

	src.advance()
	r.Step()
	if sink.Count() != 2 {
		t.Errorf("sink called %d times after a new snapshot, want 2", sink.Count())
	}
	snap, ok := sink.LastData().(*Snapshot)
	if !ok || snap.Seq != 2 {
		t.Errorf("sink received %#v, want snapshot with Seq 2", sink.LastData())
	}
}

func TestRunner_SinkErrorDoesNotStopOthers(t *testing.T) {
	src := &fixedTicker{}
	bad := &failingSink{}
	good := &utils.MockTransport{}
	r, _ := NewRunner(time.Second, src, bad, good)

	src.advance()
	r.Step()
	if bad.calls != 1 || good.Count() != 1 {
		t.Errorf("calls bad=%d good=%d, want 1 each", bad.calls, good.Count())
	}
}

func TestRunner_StartStop(t *testing.T) {
	e := testEngine()
	e.RegisterPairs([]Pair{{First: "a", Second: "b"}})
	sink := &utils.MockTransport{}

	r, err := NewRunner(5*time.Millisecond, e, sink)
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}

	r.Start()
	r.Start() // no-op while running

	deadline := time.Now().Add(2 * time.Second)
	for sink.Count() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if err := r.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if sink.Count() < 3 {
		t.Fatalf("sink received %d snapshots, want at least 3", sink.Count())
	}

	count := sink.Count()
	time.Sleep(20 * time.Millisecond)
	if sink.Count() != count {
		t.Errorf("sink kept receiving after Stop: %d -> %d", count, sink.Count())
	}

	if err := r.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}

	// A stopped Runner can be started again.
	r.Start()
	if err := r.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}
