package audio

import (
	"context"
	"errors"
	"time"
)

// ErrPermissionDenied is returned by [InputDevice.Open] when the operating
// system refuses microphone access. The session surfaces this as an advisory
// error; the interview continues without voice until the user retries.
var ErrPermissionDenied = errors.New("audio: microphone access denied")

// InputDevice is a microphone source. Implementations wrap a platform capture
// API (miniaudio, test mocks, …) and deliver raw PCM frames on a channel.
//
// Implementations must be safe for concurrent use.
type InputDevice interface {
	// Open acquires the device and returns a channel of captured frames.
	// Frames arrive at the device's native cadence (typically every 20 ms)
	// until Close is called, after which the channel is closed.
	//
	// Returns [ErrPermissionDenied] if the OS denies microphone access, or
	// another error if the device cannot be acquired. Calling Open on an
	// already-open device returns an error.
	Open(ctx context.Context) (<-chan AudioFrame, error)

	// Close stops capture and releases the device. Safe to call multiple
	// times; subsequent calls are no-ops and return nil.
	Close() error
}

// OutputDevice is a speaker sink that plays sample buffers at scheduled
// times. Buffers scheduled back-to-back must play gap-free.
//
// An OutputDevice cannot cancel individually scheduled buffers; callers that
// need immediate silence (barge-in) close the device and open a fresh one
// through an [OutputOpener]. The [PlaybackQueue] encapsulates that dance.
type OutputDevice interface {
	// Schedule queues samples (normalized float32, mono) to start playing at
	// the given time. A start time in the past means "as soon as possible".
	Schedule(samples []float32, at time.Time) error

	// SetGain sets the output gain in [0.0, 1.0].
	SetGain(gain float64)

	// Close stops playback immediately, discards anything still scheduled,
	// and releases the device. Safe to call multiple times.
	Close() error
}

// OutputOpener creates output devices. The playback queue holds an opener
// rather than a device so that Flush can tear the device down and recreate
// it — the only way to make already-scheduled audio stop within one callback.
type OutputOpener interface {
	// Open acquires an output device playing mono float32 samples at the
	// given rate.
	Open(sampleRate int) (OutputDevice, error)
}
