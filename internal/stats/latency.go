// Package stats aggregates per-turn latency reports from the remote
// interviewer into a small rolling history for display.
package stats

import (
	"sync"

	"github.com/prepdeck/voicepipe/internal/protocol"
)

// defaultWindow is how many recent turns feed the rolling statistics.
const defaultWindow = 5

// Tracker collects latency reports and derives rolling display statistics.
// There are no retries and no persistence; this is last-few-turns UX
// feedback only.
//
// Thread-safe for concurrent use.
type Tracker struct {
	mu sync.Mutex

	window  int
	history ringBuffer
	last    protocol.LatencyReport
	turns   int64
}

// NewTracker creates a Tracker retaining the given number of recent turns.
func NewTracker(window int) *Tracker {
	if window <= 0 {
		window = defaultWindow
	}
	return &Tracker{
		window:  window,
		history: newRingBuffer(window),
	}
}

// Record appends one completed turn's report, evicting the oldest entry
// beyond the window.
func (t *Tracker) Record(report protocol.LatencyReport) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.history.add(report.TotalMs)
	t.last = report
	t.turns++
}

// Snapshot captures a point-in-time view of the rolling statistics.
type Snapshot struct {
	// Last is the most recent full report, zero before the first turn.
	Last protocol.LatencyReport
	// History holds the retained totalMs values, oldest first.
	History []int
	// AverageMs is the rolling mean of History, 0 when empty.
	AverageMs int
	// BestMs is the rolling minimum of History, 0 when empty.
	BestMs int
	// Turns counts all reports ever recorded, not just the retained window.
	Turns int64
}

// Snapshot returns a point-in-time view of the rolling statistics.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	history := t.history.values()
	snap := Snapshot{
		Last:    t.last,
		History: history,
		Turns:   t.turns,
	}
	if len(history) == 0 {
		return snap
	}

	sum := 0
	best := history[0]
	for _, v := range history {
		sum += v
		if v < best {
			best = v
		}
	}
	snap.AverageMs = sum / len(history)
	snap.BestMs = best
	return snap
}

// ringBuffer is a bounded ring buffer of millisecond samples.
type ringBuffer struct {
	data []int
	size int
	pos  int
	full bool
}

func newRingBuffer(size int) ringBuffer {
	return ringBuffer{
		data: make([]int, size),
		size: size,
	}
}

func (rb *ringBuffer) add(v int) {
	rb.data[rb.pos] = v
	rb.pos++
	if rb.pos >= rb.size {
		rb.pos = 0
		rb.full = true
	}
}

// values returns the retained samples in insertion order, oldest first.
func (rb *ringBuffer) values() []int {
	if !rb.full {
		out := make([]int, rb.pos)
		copy(out, rb.data[:rb.pos])
		return out
	}
	out := make([]int, 0, rb.size)
	out = append(out, rb.data[rb.pos:]...)
	out = append(out, rb.data[:rb.pos]...)
	return out
}
