// Package opus encodes outbound capture segments with the Opus codec before
// they are base64-transported to the interviewer. Opus at 16 kHz mono keeps
// a 250 ms segment under ~2 KB on the wire versus 8 KB of raw PCM.
package opus

import (
	"fmt"

	"layeh.com/gopus"

	"github.com/prepdeck/voicepipe/pkg/audio"
)

// The interviewer wire format is 16 kHz mono with 20 ms Opus frames.
const (
	channels    = 1
	frameSizeMs = 20
	// maxPacketSize bounds a single encoded Opus packet.
	maxPacketSize = 4000
)

// SegmentEncoder encodes PCM capture segments into a stream of
// length-prefixed Opus packets. Segments rarely align to the 20 ms Opus
// frame boundary, so the encoder carries the remainder of each segment over
// to the next call.
//
// Not safe for concurrent use; the capture path is a single goroutine.
type SegmentEncoder struct {
	enc        *gopus.Encoder
	sampleRate int
	frameSize  int // samples per 20 ms frame
	rem        []int16
}

// NewSegmentEncoder creates an encoder for mono PCM at the given sample rate.
func NewSegmentEncoder(sampleRate int) (*SegmentEncoder, error) {
	enc, err := gopus.NewEncoder(sampleRate, channels, gopus.Voip)
	if err != nil {
		return nil, fmt.Errorf("opus: create encoder: %w", err)
	}
	return &SegmentEncoder{
		enc:        enc,
		sampleRate: sampleRate,
		frameSize:  sampleRate * frameSizeMs / 1000,
	}, nil
}

// Encode consumes a PCM segment (little-endian int16 mono) and returns the
// Opus packets it yields, each prefixed with a 2-byte big-endian length so
// the receiver can split the stream. Trailing samples that do not fill a
// whole frame are buffered for the next call.
func (e *SegmentEncoder) Encode(pcm []byte) ([]byte, error) {
	samples := append(e.rem, audio.BytesToInt16s(pcm)...)

	var out []byte
	for len(samples) >= e.frameSize {
		frame := samples[:e.frameSize]
		samples = samples[e.frameSize:]

		packet, err := e.enc.Encode(frame, e.frameSize, maxPacketSize)
		if err != nil {
			return nil, fmt.Errorf("opus: encode frame: %w", err)
		}
		out = append(out, byte(len(packet)>>8), byte(len(packet)))
		out = append(out, packet...)
	}

	e.rem = samples
	return out, nil
}

// Reset discards any buffered partial frame. Call between utterances so a
// stale tail does not leak into the next one.
func (e *SegmentEncoder) Reset() {
	e.rem = nil
}
