// Package vad classifies a microphone volume stream into speech and silence.
//
// Two profiles exist because the microphone also hears the device's own
// speaker output. The normal profile is tuned for a quiet room and commits
// an utterance after sustained silence; the barge-in profile raises every
// bar so the interviewer's own voice cannot trigger a false
// self-interruption, while a real interjection still lands within ~360 ms.
package vad

import "time"

// Decision is the outcome of classifying one volume sample.
type Decision int

const (
	// None means the sample did not change the speech state.
	None Decision = iota
	// SpeechStarted means the confidence window just elapsed and speech is
	// now confirmed.
	SpeechStarted
	// SpeechCommitted means sustained silence followed a confirmed
	// utterance; the buffered speech should be sent onward.
	SpeechCommitted
	// Interrupt means confirmed speech persisted past the barge-in minimum
	// while the interviewer was talking.
	Interrupt
)

func (d Decision) String() string {
	switch d {
	case SpeechStarted:
		return "speech_started"
	case SpeechCommitted:
		return "speech_committed"
	case Interrupt:
		return "interrupt"
	default:
		return "none"
	}
}

// Profile holds the tuning parameters for one listening context.
type Profile struct {
	// EnergyThreshold is the RMS level above which a sample counts as voice.
	EnergyThreshold float64

	// ConfidenceWindow is how long energy must persist before speech is
	// confirmed, filtering out keyboard clicks and other transients.
	ConfidenceWindow time.Duration

	// MinSpeech is the minimum confirmed-speech duration. In a committing
	// profile it gates SpeechCommitted; in a barge-in profile reaching it
	// emits Interrupt directly.
	MinSpeech time.Duration

	// SilenceCommit is the silence duration after confirmed speech that
	// commits the utterance. Zero disables committing, which marks the
	// profile as barge-in: confirmed speech interrupts instead.
	SilenceCommit time.Duration
}

// NormalProfile is used while the pipeline is listening for the candidate.
func NormalProfile() Profile {
	return Profile{
		EnergyThreshold:  0.010,
		ConfidenceWindow: 40 * time.Millisecond,
		MinSpeech:        250 * time.Millisecond,
		SilenceCommit:    1500 * time.Millisecond,
	}
}

// BargeInProfile is used while the interviewer is processing or speaking.
func BargeInProfile() Profile {
	return Profile{
		EnergyThreshold:  0.025,
		ConfidenceWindow: 60 * time.Millisecond,
		MinSpeech:        300 * time.Millisecond,
	}
}

// maxSilenceFrames clears a speech window that sustained silence has made
// stale. It only applies when no silence-commit timer is pending, so it can
// never race the commit in [NormalProfile].
const maxSilenceFrames = 15

// Detector tracks one speech window over a volume-sample stream. It is a
// pure state machine over (rms, now) pairs; the caller supplies timestamps,
// which keeps tests deterministic.
//
// Not safe for concurrent use. The volume stream is a single goroutine.
type Detector struct {
	profile Profile

	confidenceStartedAt time.Time
	speechStartedAt     time.Time
	lastEnergyAt        time.Time
	silenceFrames       int
}

// NewDetector creates a detector with the given profile.
func NewDetector(profile Profile) *Detector {
	return &Detector{profile: profile}
}

// Process classifies one volume sample taken at the given time.
func (d *Detector) Process(rms float64, now time.Time) Decision {
	if rms > d.profile.EnergyThreshold {
		return d.processEnergy(now)
	}
	return d.processSilence(now)
}

func (d *Detector) processEnergy(now time.Time) Decision {
	d.silenceFrames = 0
	d.lastEnergyAt = now

	if d.confidenceStartedAt.IsZero() {
		d.confidenceStartedAt = now
		return None
	}

	if d.speechStartedAt.IsZero() {
		if now.Sub(d.confidenceStartedAt) >= d.profile.ConfidenceWindow {
			d.speechStartedAt = now
			return SpeechStarted
		}
		return None
	}

	// Barge-in path: confirmed speech persisting past the minimum cancels
	// the interviewer's turn. Committing profiles wait for silence instead.
	if d.profile.SilenceCommit == 0 && now.Sub(d.speechStartedAt) >= d.profile.MinSpeech {
		d.Reset()
		return Interrupt
	}
	return None
}

func (d *Detector) processSilence(now time.Time) Decision {
	if d.confidenceStartedAt.IsZero() {
		return None
	}
	d.silenceFrames++

	// A pending commit owns the window: the silence timer decides.
	if d.profile.SilenceCommit > 0 && !d.speechStartedAt.IsZero() {
		if now.Sub(d.lastEnergyAt) < d.profile.SilenceCommit {
			return None
		}
		sustained := d.lastEnergyAt.Sub(d.confidenceStartedAt) >= d.profile.MinSpeech
		d.Reset()
		if sustained {
			return SpeechCommitted
		}
		return None
	}

	// No commit pending: sustained silence clears the stale window.
	if d.silenceFrames > maxSilenceFrames {
		d.Reset()
	}
	return None
}

// Reset clears the speech window. Call it when the conversation phase
// changes so state from one profile never bleeds into the other.
func (d *Detector) Reset() {
	d.confidenceStartedAt = time.Time{}
	d.speechStartedAt = time.Time{}
	d.lastEnergyAt = time.Time{}
	d.silenceFrames = 0
}

// Speaking reports whether speech is currently confirmed.
func (d *Detector) Speaking() bool {
	return !d.speechStartedAt.IsZero()
}
