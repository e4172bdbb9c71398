// Package malgo adapts a miniaudio capture device to the [audio.InputDevice]
// interface. The device delivers signed 16-bit mono PCM in 20 ms periods.
package malgo

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/prepdeck/voicepipe/pkg/audio"
)

const periodMs = 20

// InputDevice is a microphone backed by miniaudio.
type InputDevice struct {
	sampleRate int

	mu     sync.Mutex
	ctx    *malgo.AllocatedContext
	device *malgo.Device
	frames chan audio.AudioFrame
	closed bool

	elapsed time.Duration
}

// NewInputDevice creates a microphone input at the given sample rate.
// The device is not acquired until [InputDevice.Open].
func NewInputDevice(sampleRate int) *InputDevice {
	return &InputDevice{sampleRate: sampleRate}
}

// Open initializes the miniaudio context, acquires the default capture
// device, and starts streaming. Initialization failures are reported as
// [audio.ErrPermissionDenied] since on every supported platform they mean
// the OS refused microphone access.
func (d *InputDevice) Open(_ context.Context) (<-chan audio.AudioFrame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, fmt.Errorf("malgo: device is closed")
	}
	if d.device != nil {
		return nil, fmt.Errorf("malgo: device already open")
	}

	ctxConfig := malgo.ContextConfig{}
	ctxConfig.ThreadPriority = malgo.ThreadPriorityRealtime
	mctx, err := malgo.InitContext(nil, ctxConfig, nil)
	if err != nil {
		return nil, fmt.Errorf("malgo: init context: %w: %v", audio.ErrPermissionDenied, err)
	}

	// Buffer about a second of periods so a slow consumer does not stall
	// the audio thread.
	d.frames = make(chan audio.AudioFrame, 1000/periodMs)

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = uint32(d.sampleRate)
	deviceConfig.PeriodSizeInMilliseconds = periodMs

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			d.deliver(input)
		},
	}

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, callbacks)
	if err != nil {
		_ = mctx.Uninit()
		return nil, fmt.Errorf("malgo: init capture device: %w: %v", audio.ErrPermissionDenied, err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		_ = mctx.Uninit()
		return nil, fmt.Errorf("malgo: start capture device: %w: %v", audio.ErrPermissionDenied, err)
	}

	d.ctx = mctx
	d.device = device
	return d.frames, nil
}

// deliver runs on the miniaudio data thread. It copies the period into a
// frame and drops it if the consumer is behind; blocking here would glitch
// the capture stream.
func (d *InputDevice) deliver(input []byte) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	data := make([]byte, len(input))
	copy(data, input)
	frame := audio.AudioFrame{
		Data:       data,
		SampleRate: d.sampleRate,
		Channels:   1,
		Timestamp:  d.elapsed,
	}
	d.elapsed += frame.Duration()
	ch := d.frames
	d.mu.Unlock()

	select {
	case ch <- frame:
	default:
	}
}

// Close stops the device and tears down the miniaudio context. Safe to call
// multiple times.
func (d *InputDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true

	if d.device != nil {
		d.device.Stop()
		d.device.Uninit()
		d.device = nil
	}
	var err error
	if d.ctx != nil {
		err = d.ctx.Uninit()
		d.ctx.Free()
		d.ctx = nil
	}
	if d.frames != nil {
		close(d.frames)
	}
	if err != nil {
		return fmt.Errorf("malgo: uninit context: %w", err)
	}
	return nil
}
