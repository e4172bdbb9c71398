// Package mock provides in-memory mock implementations of the
// [audio.InputDevice], [audio.OutputDevice], and [audio.OutputOpener]
// interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so
// that tests can assert on call counts and arguments, and they expose
// exported fields that the test can set to control return values.
//
// Typical usage:
//
//	in := mock.NewInputDevice(16)
//	cap, _ := audio.NewCapture(audio.CaptureConfig{Device: in})
//	_ = cap.Open(ctx)
//	in.EmitFrame(audio.AudioFrame{Data: pcm, SampleRate: 16000, Channels: 1})
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/prepdeck/voicepipe/pkg/audio"
)

// ─── InputDevice ──────────────────────────────────────────────────────────────

// InputDevice is a mock implementation of [audio.InputDevice].
// Tests push frames with [InputDevice.EmitFrame].
type InputDevice struct {
	mu sync.Mutex

	// OpenError is returned by Open. Set to audio.ErrPermissionDenied to
	// simulate a declined microphone prompt.
	OpenError error

	// CloseError is returned by the first Close call.
	CloseError error

	// CallCountOpen records how many times Open was called.
	CallCountOpen int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	frames chan audio.AudioFrame
	open   bool
	closed bool
}

// NewInputDevice creates a mock input device whose frame channel has the
// given buffer size.
func NewInputDevice(buffer int) *InputDevice {
	return &InputDevice{frames: make(chan audio.AudioFrame, buffer)}
}

// Open implements [audio.InputDevice]. Returns OpenError if set.
func (d *InputDevice) Open(_ context.Context) (<-chan audio.AudioFrame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountOpen++
	if d.OpenError != nil {
		return nil, d.OpenError
	}
	d.open = true
	return d.frames, nil
}

// Close implements [audio.InputDevice]. Closes the frame channel on the
// first call; subsequent calls are no-ops.
func (d *InputDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountClose++
	if d.closed {
		return nil
	}
	d.closed = true
	d.open = false
	close(d.frames)
	return d.CloseError
}

// EmitFrame delivers a frame to the capture loop as if the microphone had
// produced it. Blocks if the channel buffer is full. Panics if called after
// Close, mirroring a real device writing to a dead stream.
func (d *InputDevice) EmitFrame(frame audio.AudioFrame) {
	d.frames <- frame
}

// ─── OutputDevice ─────────────────────────────────────────────────────────────

// ScheduleCall records the arguments of a single [OutputDevice.Schedule]
// invocation.
type ScheduleCall struct {
	// Samples is the buffer passed to Schedule.
	Samples []float32
	// At is the requested start time.
	At time.Time
}

// OutputDevice is a mock implementation of [audio.OutputDevice].
type OutputDevice struct {
	mu sync.Mutex

	// ScheduleError is returned by Schedule.
	ScheduleError error

	// ScheduleCalls records all Schedule invocations.
	ScheduleCalls []ScheduleCall

	// Gain holds the last value passed to SetGain.
	Gain float64

	// CallCountClose records how many times Close was called.
	CallCountClose int

	// Closed reports whether Close has been called at least once.
	Closed bool
}

// Schedule implements [audio.OutputDevice]. Records the call and returns
// ScheduleError.
func (d *OutputDevice) Schedule(samples []float32, at time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ScheduleCalls = append(d.ScheduleCalls, ScheduleCall{Samples: samples, At: at})
	return d.ScheduleError
}

// SetGain implements [audio.OutputDevice].
func (d *OutputDevice) SetGain(gain float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Gain = gain
}

// Close implements [audio.OutputDevice].
func (d *OutputDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountClose++
	d.Closed = true
	return nil
}

// Scheduled returns a snapshot of all recorded Schedule calls.
func (d *OutputDevice) Scheduled() []ScheduleCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	calls := make([]ScheduleCall, len(d.ScheduleCalls))
	copy(calls, d.ScheduleCalls)
	return calls
}

// ─── OutputOpener ─────────────────────────────────────────────────────────────

// OutputOpener is a mock implementation of [audio.OutputOpener]. Each Open
// call hands out a fresh [OutputDevice] (recorded in Opened) so that tests
// can verify flush-by-recreate behaviour.
type OutputOpener struct {
	mu sync.Mutex

	// OpenError is returned by Open.
	OpenError error

	// Opened records every device handed out, in order.
	Opened []*OutputDevice

	// OpenedRates records the sample rate of each Open call.
	OpenedRates []int
}

// Open implements [audio.OutputOpener].
func (o *OutputOpener) Open(sampleRate int) (audio.OutputDevice, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.OpenError != nil {
		return nil, o.OpenError
	}
	dev := &OutputDevice{}
	o.Opened = append(o.Opened, dev)
	o.OpenedRates = append(o.OpenedRates, sampleRate)
	return dev, nil
}

// Device returns the i-th device handed out, or nil if fewer exist.
func (o *OutputOpener) Device(i int) *OutputDevice {
	o.mu.Lock()
	defer o.mu.Unlock()
	if i < 0 || i >= len(o.Opened) {
		return nil
	}
	return o.Opened[i]
}
