// Package oto adapts the oto speaker library to the [audio.OutputOpener] and
// [audio.OutputDevice] interfaces.
//
// Oto permits a single context per process, so the [Opener] owns the context
// and every [audio.OutputDevice] it hands out is a fresh player over it.
// Closing a device pauses and resets its player, which silences everything it
// had buffered; that is what makes the playback queue's flush-by-recreate
// strategy instantaneous.
package oto

import (
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/prepdeck/voicepipe/pkg/audio"
)

// bufferDuration keeps the device buffer near 100 ms for low-latency barge-in.
const bufferDuration = 100 * time.Millisecond

// Opener creates speaker devices over a process-wide oto context.
type Opener struct {
	mu  sync.Mutex
	ctx *oto.Context
}

// NewOpener returns an opener; the oto context is created lazily on the
// first Open so construction never touches the audio backend.
func NewOpener() *Opener {
	return &Opener{}
}

// Open implements [audio.OutputOpener]. The first call initializes the oto
// context at the given sample rate; later calls must use the same rate.
func (o *Opener) Open(sampleRate int) (audio.OutputDevice, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.ctx == nil {
		ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   sampleRate,
			ChannelCount: 1,
			Format:       oto.FormatSignedInt16LE,
			BufferSize:   bufferDuration,
		})
		if err != nil {
			return nil, fmt.Errorf("oto: init context: %w", err)
		}
		<-ready
		o.ctx = ctx
	}

	d := newDevice()
	d.player = o.ctx.NewPlayer(d)
	d.player.Play()
	return d, nil
}

// device is a pull-based speaker sink. Schedule appends samples; oto drains
// them through Read on its own thread.
type device struct {
	player *oto.Player

	mu     sync.Mutex
	cond   *sync.Cond
	buf    []float32
	gain   float64
	closed bool
}

func newDevice() *device {
	d := &device{gain: 1.0}
	d.cond = sync.NewCond(&d.mu)
	return d
}

// Schedule implements [audio.OutputDevice]. Samples always play after
// everything previously scheduled; the start time is bookkeeping owned by
// the playback queue, so it is not re-checked here.
func (d *device) Schedule(samples []float32, _ time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return fmt.Errorf("oto: device is closed")
	}
	d.buf = append(d.buf, samples...)
	d.cond.Signal()
	return nil
}

// SetGain implements [audio.OutputDevice]. Applies to buffered audio too,
// since gain is folded in as samples are drained.
func (d *device) SetGain(gain float64) {
	d.mu.Lock()
	d.gain = gain
	d.mu.Unlock()
}

// Read implements io.Reader for the oto player. Blocks until samples are
// available, emitting silence once the device is closed so oto can drain.
func (d *device) Read(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for len(d.buf) == 0 && !d.closed {
		d.cond.Wait()
	}
	if d.closed {
		for i := range p {
			p[i] = 0
		}
		return len(p), nil
	}

	n := min(len(p)/2, len(d.buf))
	for i := 0; i < n; i++ {
		v := float64(d.buf[i]) * d.gain
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		s := int16(v * 32767)
		p[i*2] = byte(s)
		p[i*2+1] = byte(s >> 8)
	}
	d.buf = d.buf[n:]
	return n * 2, nil
}

// Close implements [audio.OutputDevice]. Pausing and resetting the player
// discards oto's internal buffer, so nothing scheduled here is ever heard
// again.
func (d *device) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.buf = nil
	d.cond.Broadcast()
	player := d.player
	d.player = nil
	d.mu.Unlock()

	if player != nil {
		player.Pause()
		if err := player.Close(); err != nil {
			return fmt.Errorf("oto: close player: %w", err)
		}
	}
	return nil
}
