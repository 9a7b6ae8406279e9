// SPDX-License-Identifier: MIT
package tdoa

import (
	"locator/internal/level"
	"locator/pkg/utils"
	"testing"
)

func testEngine() *Engine {
	cfg := DefaultEngineConfig()
	cfg.Scheduler = testConfig()
	return NewEngine(cfg)
}

func TestEngine_IngestFeedsSchedulerAndLevels(t *testing.T) {
	e := testEngine()
	e.RegisterPairs([]Pair{{First: "left", Second: "right"}})

	if _, ok := e.CurrentLevel("left"); !ok {
		t.Error("RegisterPairs did not prepare a detector for left")
	}
	if _, ok := e.CurrentLevel("nowhere"); ok {
		t.Error("CurrentLevel reported an unknown source")
	}

	noise := utils.GenerateNoise(testCapacity, 21, 0.5)
	feed(e, "left", noise)
	feed(e, "right", utils.Delay(noise, 5))

	snap := e.Tick()
	if snap != e.Snapshot() {
		t.Error("Snapshot() differs from the snapshot Tick returned")
	}
	res, ok := e.CurrentResults()[NewPairID("left", "right")]
	if !ok {
		t.Fatal("missing result for left:right")
	}
	if abs(res.DelaySamples-5) > 2 {
		t.Errorf("DelaySamples = %d, want 5±2", res.DelaySamples)
	}

	st, _ := e.CurrentLevel("left")
	if !st.Detecting || st.RMS <= 0 {
		t.Errorf("loud noise not reflected in level state: %+v", st)
	}
	if len(e.Levels()) != 2 {
		t.Errorf("Levels() has %d sources, want 2", len(e.Levels()))
	}
}

func TestEngine_LevelsDecayOnSilence(t *testing.T) {
	e := testEngine()
	loud := utils.GenerateTone(testChunk, testSampleRate, 1000, 0.8)
	silence := make([]float32, testChunk)

	for range 20 {
		e.Ingest("mic", loud)
	}
	before, _ := e.CurrentLevel("mic")

	for range 200 {
		e.Ingest("mic", silence)
	}
	after, _ := e.CurrentLevel("mic")

	if after.Detecting {
		t.Error("silence reported as detecting")
	}
	if after.RMS >= before.RMS || after.RMS > 1e-6 {
		t.Errorf("RMS after silence = %f, before = %f", after.RMS, before.RMS)
	}
}

func TestEngine_SetSensitivity(t *testing.T) {
	e := testEngine()
	e.Ingest("early", make([]float32, testChunk))

	e.SetSensitivity(5)
	if got := e.Sensitivity(); got != level.MaxSensitivity {
		t.Errorf("Sensitivity() = %f, want clamped %f", got, level.MaxSensitivity)
	}

	e.SetSensitivity(0.5)
	e.Ingest("late", make([]float32, testChunk))

	tone := utils.GenerateTone(testChunk, testSampleRate, 1000, 0.05)
	low := testEngine()
	low.SetSensitivity(0.5)
	low.Ingest("ref", make([]float32, testChunk))
	for range 10 {
		e.Ingest("early", tone)
		e.Ingest("late", tone)
		low.Ingest("ref", tone)
	}

	early, _ := e.CurrentLevel("early")
	late, _ := e.CurrentLevel("late")
	ref, _ := low.CurrentLevel("ref")
	if early.RMS != ref.RMS || late.RMS != ref.RMS {
		t.Errorf("sensitivity not applied uniformly: early %f late %f ref %f", early.RMS, late.RMS, ref.RMS)
	}
}

func TestEngine_ResetLevels(t *testing.T) {
	e := testEngine()
	tone := utils.GenerateTone(testChunk, testSampleRate, 1000, 0.8)
	for range 10 {
		e.Ingest("mic", tone)
	}

	e.ResetLevels()
	st, _ := e.CurrentLevel("mic")
	if st.RMS != 0 || st.Peak != 0 || st.Detecting {
		t.Errorf("state after reset = %+v, want cleared", st)
	}
}

func TestEngine_UnregisterSource(t *testing.T) {
	e := testEngine()
	e.RegisterPairs([]Pair{{First: "a", Second: "b"}})
	e.Ingest("a", make([]float32, testChunk))

	e.UnregisterSource("a")
	if _, ok := e.CurrentLevel("a"); ok {
		t.Error("detector kept after UnregisterSource")
	}
	for _, id := range e.Sources() {
		if id == "a" {
			t.Error("buffer kept after UnregisterSource")
		}
	}
	if len(e.Pairs()) != 1 || e.State() != StateConfigured {
		t.Errorf("pair set changed by UnregisterSource: %v, %s", e.Pairs(), e.State())
	}
}

func TestSortedPairIDs(t *testing.T) {
	m := map[PairID]int{
		NewPairID("c", "d"): 0,
		NewPairID("a", "c"): 0,
		NewPairID("a", "b"): 0,
	}
	got := SortedPairIDs(m)
	want := []string{"a:b", "a:c", "c:d"}
	for i := range want {
		if got[i].String() != want[i] {
			t.Errorf("SortedPairIDs()[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}
