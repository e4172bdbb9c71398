package audio

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeInput is a channel-backed InputDevice for capture tests.
type fakeInput struct {
	openErr error
	frames  chan AudioFrame

	mu     sync.Mutex
	closed bool
}

func newFakeInput() *fakeInput {
	return &fakeInput{frames: make(chan AudioFrame, 64)}
}

func (f *fakeInput) Open(context.Context) (<-chan AudioFrame, error) {
	if f.openErr != nil {
		return nil, f.openErr
	}
	return f.frames, nil
}

func (f *fakeInput) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.frames)
	}
	return nil
}

// steppedClock returns a now func that advances by step on every call.
func steppedClock(step time.Duration) func() time.Time {
	var mu sync.Mutex
	t := time.Unix(0, 0)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(step)
		return t
	}
}

// pcmFrame builds a 16 kHz mono frame of the given duration filled with a
// constant sample value.
func pcmFrame(d time.Duration, sample int16) AudioFrame {
	n := int(d * 16000 / time.Second)
	return AudioFrame{
		Data:       Int16sToBytes(repeatSample(sample, n)),
		SampleRate: 16000,
		Channels:   1,
	}
}

func repeatSample(s int16, n int) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = s
	}
	return out
}

func TestNewCaptureRequiresDevice(t *testing.T) {
	t.Parallel()

	if _, err := NewCapture(CaptureConfig{}); err == nil {
		t.Fatal("expected error for missing device")
	}
}

func TestCaptureOpenPermissionDenied(t *testing.T) {
	t.Parallel()

	in := newFakeInput()
	in.openErr = ErrPermissionDenied
	c, err := NewCapture(CaptureConfig{Device: in})
	if err != nil {
		t.Fatal(err)
	}
	err = c.Open(context.Background())
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("Open error = %v, want ErrPermissionDenied", err)
	}
}

func TestCaptureSegmentEmission(t *testing.T) {
	t.Parallel()

	in := newFakeInput()
	segments := make(chan AudioFrame, 8)
	c, err := NewCapture(CaptureConfig{
		Device:          in,
		SampleRate:      16000,
		SegmentDuration: 250 * time.Millisecond,
		OnSegment:       func(f AudioFrame) { segments <- f },
	})
	if err != nil {
		t.Fatal(err)
	}
	c.now = steppedClock(50 * time.Millisecond)
	if err := c.Open(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	c.StartRecording()
	for i := 0; i < 5; i++ {
		in.frames <- pcmFrame(50*time.Millisecond, 1000)
	}

	select {
	case seg := <-segments:
		if got, want := seg.Duration(), 250*time.Millisecond; got != want {
			t.Errorf("segment duration = %v, want %v", got, want)
		}
	case <-time.After(time.Second):
		t.Fatal("no segment emitted after 250ms of frames")
	}
}

func TestCaptureStartStopIdempotent(t *testing.T) {
	t.Parallel()

	in := newFakeInput()
	segments := make(chan AudioFrame, 8)
	c, err := NewCapture(CaptureConfig{
		Device:    in,
		OnSegment: func(f AudioFrame) { segments <- f },
	})
	if err != nil {
		t.Fatal(err)
	}
	c.now = steppedClock(50 * time.Millisecond)
	if err := c.Open(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	// A second StartRecording must not reset or duplicate the stream.
	c.StartRecording()
	c.StartRecording()
	if !c.Recording() {
		t.Fatal("expected recording after StartRecording")
	}

	in.frames <- pcmFrame(100*time.Millisecond, 1000)
	// Give the loop time to accumulate before stopping.
	deadline := time.Now().Add(time.Second)
	for c.Recording() && time.Now().Before(deadline) {
		c.mu.Lock()
		buffered := len(c.seg) > 0
		c.mu.Unlock()
		if buffered {
			break
		}
		time.Sleep(time.Millisecond)
	}

	// Stop flushes the partial segment exactly once.
	c.StopRecording()
	c.StopRecording()
	if c.Recording() {
		t.Fatal("expected not recording after StopRecording")
	}

	select {
	case seg := <-segments:
		if got, want := seg.Duration(), 100*time.Millisecond; got != want {
			t.Errorf("flushed segment duration = %v, want %v", got, want)
		}
	case <-time.After(time.Second):
		t.Fatal("partial segment not flushed on stop")
	}
	select {
	case <-segments:
		t.Fatal("second StopRecording emitted a duplicate segment")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestCaptureVolumeWhileIdle(t *testing.T) {
	t.Parallel()

	in := newFakeInput()
	volumes := make(chan float64, 8)
	c, err := NewCapture(CaptureConfig{
		Device:   in,
		OnVolume: func(rms float64, _ time.Time) { volumes <- rms },
	})
	if err != nil {
		t.Fatal(err)
	}
	c.now = steppedClock(50 * time.Millisecond)
	if err := c.Open(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	// Not recording: volume must still flow for barge-in detection.
	in.frames <- pcmFrame(50*time.Millisecond, 16384)

	select {
	case rms := <-volumes:
		if rms < 0.4 || rms > 0.6 {
			t.Errorf("rms = %v, want ~0.5 for half-scale input", rms)
		}
	case <-time.After(time.Second):
		t.Fatal("no volume sample while idle")
	}
}

func TestCaptureCloseIdempotent(t *testing.T) {
	t.Parallel()

	in := newFakeInput()
	c, err := NewCapture(CaptureConfig{Device: in})
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Open(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close = %v, want nil", err)
	}
	if c.Recording() {
		t.Fatal("recording after Close")
	}
}
