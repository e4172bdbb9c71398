// Package audio defines the types and device abstractions for the voicepipe
// capture/playback path, plus the capture controller and the gap-free
// playback queue built on top of them.
//
// The two primary abstractions are:
//
//   - [InputDevice] — a microphone source producing a stream of short PCM frames.
//   - [OutputDevice] — a speaker sink that plays scheduled sample buffers.
//
// Implementations are provided by platform adapter packages (audio/malgo for
// capture, audio/oto for playback) and by audio/mock for tests. The interfaces
// are intentionally narrow so the session layer stays decoupled from device
// details.
package audio

import "time"

// AudioFrame represents a single frame of audio data flowing through the
// pipeline. Capture devices produce short frames (~20 ms); the capture
// controller aggregates them into transport segments (~250 ms).
type AudioFrame struct {
	// PCM audio data, little-endian int16 samples.
	Data []byte

	// SampleRate in Hz (16000 for the interviewer wire format).
	SampleRate int

	// Channels: 1 for mono capture. The interviewer protocol is mono only.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Duration returns the playback duration of the frame's PCM data.
// Returns zero if the frame has no sample rate set.
func (f AudioFrame) Duration() time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	samples := len(f.Data) / 2 / f.Channels
	return time.Duration(samples) * time.Second / time.Duration(f.SampleRate)
}

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}
