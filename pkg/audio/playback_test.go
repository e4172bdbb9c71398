package audio

import (
	"sync"
	"testing"
	"time"
)

type fakeOutput struct {
	mu        sync.Mutex
	scheduled []time.Time
	samples   [][]float32
	gain      float64
	closed    bool
}

func (f *fakeOutput) Schedule(samples []float32, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scheduled = append(f.scheduled, at)
	f.samples = append(f.samples, samples)
	return nil
}

func (f *fakeOutput) SetGain(gain float64) {
	f.mu.Lock()
	f.gain = gain
	f.mu.Unlock()
}

func (f *fakeOutput) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

type fakeOpener struct {
	mu      sync.Mutex
	devices []*fakeOutput
}

func (f *fakeOpener) Open(int) (OutputDevice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	dev := &fakeOutput{}
	f.devices = append(f.devices, dev)
	return dev, nil
}

// fixedClock pins the queue's idea of now.
func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestPlaybackEnqueueGapFree(t *testing.T) {
	t.Parallel()

	opener := &fakeOpener{}
	q, err := NewPlaybackQueue(opener, 16000)
	if err != nil {
		t.Fatal(err)
	}
	t0 := time.Unix(100, 0)
	q.now = fixedClock(t0)

	// Two 100 ms buffers enqueued back to back: the second starts exactly
	// where the first ends even though both arrive at the same instant.
	buf := make([]float32, 1600)
	if err := q.Enqueue(buf); err != nil {
		t.Fatal(err)
	}
	if err := q.Enqueue(buf); err != nil {
		t.Fatal(err)
	}

	dev := opener.devices[0]
	if len(dev.scheduled) != 2 {
		t.Fatalf("scheduled %d buffers, want 2", len(dev.scheduled))
	}
	if got := dev.scheduled[0]; !got.Equal(t0) {
		t.Errorf("first buffer at %v, want %v", got, t0)
	}
	want := t0.Add(100 * time.Millisecond)
	if got := dev.scheduled[1]; !got.Equal(want) {
		t.Errorf("second buffer at %v, want %v", got, want)
	}
}

func TestPlaybackFlushSilencesPending(t *testing.T) {
	t.Parallel()

	opener := &fakeOpener{}
	q, err := NewPlaybackQueue(opener, 16000)
	if err != nil {
		t.Fatal(err)
	}
	t0 := time.Unix(100, 0)
	q.now = fixedClock(t0)
	q.SetVolume(0.5)

	if err := q.Enqueue(make([]float32, 16000)); err != nil {
		t.Fatal(err)
	}
	if !q.IsPlaying() {
		t.Fatal("expected playing after enqueue")
	}

	if err := q.Flush(); err != nil {
		t.Fatal(err)
	}

	// The old device is closed so its pending second of audio dies with it,
	// and a fresh device took its place carrying the same gain.
	if len(opener.devices) != 2 {
		t.Fatalf("opened %d devices, want 2 after flush", len(opener.devices))
	}
	if !opener.devices[0].closed {
		t.Error("old device not closed by flush")
	}
	if got := opener.devices[1].gain; got != 0.5 {
		t.Errorf("new device gain = %v, want 0.5", got)
	}
	if q.IsPlaying() {
		t.Error("still playing after flush")
	}

	// New audio lands on the new device with a reset clock.
	if err := q.Enqueue(make([]float32, 1600)); err != nil {
		t.Fatal(err)
	}
	if len(opener.devices[1].scheduled) != 1 {
		t.Fatalf("post-flush buffer not scheduled on new device")
	}
	if got := opener.devices[1].scheduled[0]; !got.Equal(t0) {
		t.Errorf("post-flush buffer at %v, want %v", got, t0)
	}
}

func TestPlaybackSetVolumeClamps(t *testing.T) {
	t.Parallel()

	opener := &fakeOpener{}
	q, err := NewPlaybackQueue(opener, 16000)
	if err != nil {
		t.Fatal(err)
	}

	q.SetVolume(1.7)
	if got := opener.devices[0].gain; got != 1.0 {
		t.Errorf("gain = %v, want clamp to 1.0", got)
	}
	q.SetVolume(-0.2)
	if got := opener.devices[0].gain; got != 0 {
		t.Errorf("gain = %v, want clamp to 0", got)
	}
}

func TestPlaybackDestroy(t *testing.T) {
	t.Parallel()

	opener := &fakeOpener{}
	q, err := NewPlaybackQueue(opener, 16000)
	if err != nil {
		t.Fatal(err)
	}
	if err := q.Destroy(); err != nil {
		t.Fatal(err)
	}
	if err := q.Destroy(); err != nil {
		t.Fatalf("second Destroy = %v, want nil", err)
	}
	if !opener.devices[0].closed {
		t.Error("device not closed on destroy")
	}
	if err := q.Enqueue(make([]float32, 16)); err == nil {
		t.Error("Enqueue after Destroy succeeded, want error")
	}
	if q.IsPlaying() {
		t.Error("IsPlaying true after destroy")
	}
}
