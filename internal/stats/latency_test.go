package stats

import (
	"slices"
	"testing"

	"github.com/prepdeck/voicepipe/internal/protocol"
)

func record(t *Tracker, totals ...int) {
	for _, ms := range totals {
		t.Record(protocol.LatencyReport{TotalMs: ms})
	}
}

func TestTrackerRollingStats(t *testing.T) {
	t.Parallel()

	tr := NewTracker(5)
	record(tr, 300, 500, 700, 400, 600)

	snap := tr.Snapshot()
	if snap.AverageMs != 500 {
		t.Errorf("average = %d, want 500", snap.AverageMs)
	}
	if snap.BestMs != 300 {
		t.Errorf("best = %d, want 300", snap.BestMs)
	}
	if want := []int{300, 500, 700, 400, 600}; !slices.Equal(snap.History, want) {
		t.Errorf("history = %v, want %v", snap.History, want)
	}
}

func TestTrackerEvictsOldest(t *testing.T) {
	t.Parallel()

	tr := NewTracker(5)
	record(tr, 1000, 300, 500, 700, 400, 600)

	snap := tr.Snapshot()
	if want := []int{300, 500, 700, 400, 600}; !slices.Equal(snap.History, want) {
		t.Errorf("history = %v, want %v", snap.History, want)
	}
	if snap.BestMs != 300 {
		t.Errorf("best = %d, want 300 with 1000 evicted", snap.BestMs)
	}
	if snap.Turns != 6 {
		t.Errorf("turns = %d, want 6", snap.Turns)
	}
}

func TestTrackerEmpty(t *testing.T) {
	t.Parallel()

	snap := NewTracker(5).Snapshot()
	if snap.AverageMs != 0 || snap.BestMs != 0 {
		t.Errorf("empty stats = avg %d best %d, want zeros", snap.AverageMs, snap.BestMs)
	}
	if len(snap.History) != 0 {
		t.Errorf("history = %v, want empty", snap.History)
	}
}

func TestTrackerKeepsLastReport(t *testing.T) {
	t.Parallel()

	tr := NewTracker(5)
	tr.Record(protocol.LatencyReport{STTMs: 120, LLMFirstTokenMs: 310, TTSFirstChunkMs: 150, TotalMs: 580})

	snap := tr.Snapshot()
	if snap.Last.LLMFirstTokenMs != 310 {
		t.Errorf("last report = %+v", snap.Last)
	}
}
