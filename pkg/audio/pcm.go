package audio

import (
	"encoding/base64"
	"fmt"
	"math"
)

// DecodePCM16 decodes base64-transported little-endian PCM16 into normalized
// float32 samples in [-1, 1). This is the inbound synthesized-speech format:
// 16-bit signed, mono, fixed sample rate.
func DecodePCM16(data string) ([]float32, error) {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("audio: decode pcm16 base64: %w", err)
	}
	if len(raw)%2 != 0 {
		return nil, fmt.Errorf("audio: decode pcm16: odd byte count %d", len(raw))
	}

	samples := make([]float32, len(raw)/2)
	for i := range samples {
		s := int16(raw[i*2]) | int16(raw[i*2+1])<<8
		samples[i] = float32(s) / 32768
	}
	return samples, nil
}

// EncodePCM16 converts normalized float32 samples back to base64-transported
// little-endian PCM16. Samples outside [-1, 1] are clamped.
func EncodePCM16(samples []float32) string {
	raw := make([]byte, len(samples)*2)
	for i, v := range samples {
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		s := int16(v * 32767)
		raw[i*2] = byte(s)
		raw[i*2+1] = byte(s >> 8)
	}
	return base64.StdEncoding.EncodeToString(raw)
}

// RMS returns the root-mean-square energy of a PCM frame as a normalized
// value in [0, 1]. The input is little-endian int16 data, any channel count.
// This is the volume signal fed to voice-activity detection.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		v := float64(s) / 32768
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}

// Int16sToBytes converts int16 PCM samples to little-endian bytes.
func Int16sToBytes(pcm []int16) []byte {
	b := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		b[i*2] = byte(s)
		b[i*2+1] = byte(s >> 8)
	}
	return b
}

// BytesToInt16s converts little-endian bytes to int16 PCM samples.
func BytesToInt16s(b []byte) []int16 {
	pcm := make([]int16, len(b)/2)
	for i := range pcm {
		pcm[i] = int16(b[i*2]) | int16(b[i*2+1])<<8
	}
	return pcm
}
