package audio

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// PlaybackQueue schedules decoded interviewer speech for gap-free sequential
// playback. Frames arrive at irregular intervals relative to their playback
// duration; each is scheduled to start at max(now, end of the previously
// scheduled frame) so the stream never overlaps and never gaps.
//
// [PlaybackQueue.Flush] silences everything immediately by closing the output
// device and opening a fresh one — scheduled buffers cannot be cancelled
// individually, and barge-in requires silence within one audio callback.
//
// All exported methods are safe for concurrent use.
type PlaybackQueue struct {
	opener     OutputOpener
	sampleRate int

	mu        sync.Mutex
	dev       OutputDevice
	nextStart time.Time
	gain      float64
	destroyed bool

	now func() time.Time // overridable in tests
}

// NewPlaybackQueue opens an output device at the given sample rate and
// returns a queue ready to accept frames.
func NewPlaybackQueue(opener OutputOpener, sampleRate int) (*PlaybackQueue, error) {
	if opener == nil {
		return nil, errors.New("audio: playback queue requires an opener")
	}
	if sampleRate <= 0 {
		sampleRate = defaultSampleRate
	}
	dev, err := opener.Open(sampleRate)
	if err != nil {
		return nil, fmt.Errorf("audio: open output device: %w", err)
	}
	return &PlaybackQueue{
		opener:     opener,
		sampleRate: sampleRate,
		dev:        dev,
		gain:       1.0,
		now:        time.Now,
	}, nil
}

// Enqueue schedules samples to play immediately after everything previously
// enqueued. Returns an error if the queue has been destroyed or the device
// rejects the buffer.
func (q *PlaybackQueue) Enqueue(samples []float32) error {
	if len(samples) == 0 {
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.destroyed {
		return errors.New("audio: playback queue is destroyed")
	}

	now := q.now()
	startAt := now
	if q.nextStart.After(now) {
		startAt = q.nextStart
	}
	if err := q.dev.Schedule(samples, startAt); err != nil {
		return fmt.Errorf("audio: schedule playback: %w", err)
	}
	q.nextStart = startAt.Add(q.sampleDuration(len(samples)))
	return nil
}

// Flush discards all pending and in-flight playback by recreating the output
// device, and resets the scheduling clock to now. Frames enqueued before the
// flush are never audible afterwards.
func (q *PlaybackQueue) Flush() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.destroyed {
		return nil
	}

	old := q.dev
	dev, err := q.opener.Open(q.sampleRate)
	if err != nil {
		return fmt.Errorf("audio: reopen output device: %w", err)
	}
	q.dev = dev
	q.dev.SetGain(q.gain)
	q.nextStart = time.Time{}
	return old.Close()
}

// IsPlaying reports whether scheduled audio extends past the current time.
func (q *PlaybackQueue) IsPlaying() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return !q.destroyed && q.nextStart.After(q.now())
}

// SetVolume sets the output gain, clamped to [0, 1].
func (q *PlaybackQueue) SetVolume(v float64) {
	if v < 0 {
		v = 0
	} else if v > 1 {
		v = 1
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.gain = v
	if !q.destroyed {
		q.dev.SetGain(v)
	}
}

// Destroy releases the output device. Safe to call multiple times.
func (q *PlaybackQueue) Destroy() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.destroyed {
		return nil
	}
	q.destroyed = true
	return q.dev.Close()
}

// sampleDuration returns the playback duration of n mono samples.
func (q *PlaybackQueue) sampleDuration(n int) time.Duration {
	return time.Duration(n) * time.Second / time.Duration(q.sampleRate)
}
