package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Default capture parameters. Segments of ~250 ms keep the interviewer's
// speech recognition fed without flooding the transport; volume samples are
// throttled to ~20 Hz so downstream consumers are not overwhelmed.
const (
	defaultSegmentDuration = 250 * time.Millisecond
	defaultVolumeInterval  = 50 * time.Millisecond
	defaultSampleRate      = 16000
)

// CaptureConfig configures a [Capture].
type CaptureConfig struct {
	// Device is the microphone source. Required.
	Device InputDevice

	// SampleRate is the expected PCM rate of device frames. Defaults to 16000.
	SampleRate int

	// SegmentDuration is the target length of emitted segments.
	// Defaults to 250 ms.
	SegmentDuration time.Duration

	// VolumeInterval throttles volume callbacks. Defaults to 50 ms.
	VolumeInterval time.Duration

	// OnSegment is called with each accumulated capture segment while
	// recording is active. Invoked on the internal capture goroutine —
	// callers must not block.
	OnSegment func(AudioFrame)

	// OnVolume is called with the RMS energy of each device frame, throttled
	// to VolumeInterval, whenever the device is open (recording or not —
	// barge-in detection needs the volume signal while the mic is idle).
	// Invoked on the internal capture goroutine; callers must not block.
	OnVolume func(rms float64, now time.Time)
}

// Capture owns the microphone device and turns its raw frame stream into
// transport-ready segments plus a continuous volume signal.
//
// Lifecycle: [Capture.Open] acquires the device, [Capture.StartRecording] and
// [Capture.StopRecording] toggle segment emission, [Capture.Close] releases
// everything. Start/stop are idempotent; Close is safe to call repeatedly.
//
// All exported methods are safe for concurrent use.
type Capture struct {
	cfg CaptureConfig

	mu        sync.Mutex
	open      bool
	recording bool
	closed    bool

	seg        []byte        // current segment accumulator
	segDur     time.Duration // accumulated duration of seg
	lastVolume time.Time

	done chan struct{}
	wg   sync.WaitGroup

	now func() time.Time // overridable in tests
}

// NewCapture creates a capture controller for the given config.
// Returns an error if no device is supplied.
func NewCapture(cfg CaptureConfig) (*Capture, error) {
	if cfg.Device == nil {
		return nil, errors.New("audio: capture requires a device")
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = defaultSampleRate
	}
	if cfg.SegmentDuration <= 0 {
		cfg.SegmentDuration = defaultSegmentDuration
	}
	if cfg.VolumeInterval <= 0 {
		cfg.VolumeInterval = defaultVolumeInterval
	}
	return &Capture{
		cfg:  cfg,
		done: make(chan struct{}),
		now:  time.Now,
	}, nil
}

// Open acquires the microphone and starts the internal frame loop.
// Returns [ErrPermissionDenied] if the user declined microphone access.
// Calling Open on an already-open or closed capture returns an error.
func (c *Capture) Open(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.New("audio: capture is closed")
	}
	if c.open {
		c.mu.Unlock()
		return errors.New("audio: capture already open")
	}
	c.mu.Unlock()

	frames, err := c.cfg.Device.Open(ctx)
	if err != nil {
		return fmt.Errorf("audio: open capture device: %w", err)
	}

	c.mu.Lock()
	c.open = true
	c.mu.Unlock()

	c.wg.Add(1)
	go c.loop(frames)
	return nil
}

// StartRecording begins segment emission. A no-op if already recording or if
// the device is not open. Any partial segment from a previous recording run
// is discarded.
func (c *Capture) StartRecording() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open || c.closed || c.recording {
		return
	}
	c.recording = true
	c.seg = nil
	c.segDur = 0
}

// StopRecording ends segment emission, flushing any partial segment to the
// OnSegment callback. A no-op if not currently recording.
func (c *Capture) StopRecording() {
	c.mu.Lock()
	if !c.recording {
		c.mu.Unlock()
		return
	}
	c.recording = false
	pending := c.flushLocked()
	c.mu.Unlock()

	if pending != nil && c.cfg.OnSegment != nil {
		c.cfg.OnSegment(*pending)
	}
}

// Recording reports whether segment emission is currently active.
func (c *Capture) Recording() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recording
}

// Close stops recording, releases the device, and waits for the internal
// loop to exit. Safe to call multiple times; subsequent calls return nil.
func (c *Capture) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.recording = false
	wasOpen := c.open
	c.open = false
	c.mu.Unlock()

	close(c.done)

	var err error
	if wasOpen {
		err = c.cfg.Device.Close()
	}
	c.wg.Wait()
	if err != nil {
		return fmt.Errorf("audio: close capture device: %w", err)
	}
	return nil
}

// loop consumes device frames until the device channel closes or Close is
// called. It emits volume samples for every frame (throttled) and
// accumulates segments while recording.
func (c *Capture) loop(frames <-chan AudioFrame) {
	defer c.wg.Done()

	for {
		select {
		case <-c.done:
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			c.handleFrame(frame)
		}
	}
}

func (c *Capture) handleFrame(frame AudioFrame) {
	now := c.now()

	var emitVolume bool
	var rms float64
	var pending *AudioFrame

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}

	if c.cfg.OnVolume != nil && now.Sub(c.lastVolume) >= c.cfg.VolumeInterval {
		c.lastVolume = now
		rms = RMS(frame.Data)
		emitVolume = true
	}

	if c.recording {
		c.seg = append(c.seg, frame.Data...)
		c.segDur += frame.Duration()
		if c.segDur >= c.cfg.SegmentDuration {
			pending = c.flushLocked()
		}
	}
	c.mu.Unlock()

	// Callbacks run outside the lock so they may call back into Capture.
	if emitVolume {
		c.cfg.OnVolume(rms, now)
	}
	if pending != nil && c.cfg.OnSegment != nil {
		c.cfg.OnSegment(*pending)
	}
}

// flushLocked drains the segment accumulator into an AudioFrame.
// Returns nil if nothing has accumulated. Must be called with c.mu held.
func (c *Capture) flushLocked() *AudioFrame {
	if len(c.seg) == 0 {
		return nil
	}
	frame := &AudioFrame{
		Data:       c.seg,
		SampleRate: c.cfg.SampleRate,
		Channels:   1,
	}
	c.seg = nil
	c.segDur = 0
	return frame
}
