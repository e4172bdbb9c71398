// Package conversation holds the single source of truth for the voice
// pipeline phase.
//
// Every producer (local voice detection, inbound interviewer events, user
// actions) funnels through [Machine] under one lock, so no two handlers can
// ever act on two different ideas of the current phase. Other components
// read [Machine.Phase] as a snapshot; only the machine writes it.
package conversation

import (
	"io"
	"log/slog"
	"sync"

	"github.com/prepdeck/voicepipe/internal/protocol"
	"github.com/prepdeck/voicepipe/internal/vad"
)

// Phase is the pipeline's conversational state.
type Phase int

const (
	// Idle means no voice turn is active.
	Idle Phase = iota
	// Listening means the candidate's microphone is live.
	Listening
	// Processing means the interviewer is thinking about a committed
	// utterance.
	Processing
	// Speaking means synthesized interviewer speech is playing.
	Speaking
)

func (p Phase) String() string {
	switch p {
	case Listening:
		return "listening"
	case Processing:
		return "processing"
	case Speaking:
		return "speaking"
	default:
		return "idle"
	}
}

// phaseFromWire maps an inbound state_change value onto a Phase.
// Unrecognized values report ok=false and are ignored.
func phaseFromWire(state string) (Phase, bool) {
	switch state {
	case "idle":
		return Idle, true
	case "listening":
		return Listening, true
	case "processing":
		return Processing, true
	case "speaking":
		return Speaking, true
	default:
		return Idle, false
	}
}

// Mode selects how listening turns start and stop.
type Mode int

const (
	// Continuous lets voice detection auto-commit utterances and restart
	// listening after each interviewer turn.
	Continuous Mode = iota
	// PushToTalk starts and stops listening only on explicit user action;
	// voice detection is used solely for barge-in.
	PushToTalk
)

// Effects is the set of side effects the machine drives. The session wires
// these to the capture controller, playback queue, and transport.
//
// Methods are invoked with the machine's lock held so that multi-step
// transitions stay atomic; implementations must not block and must not call
// back into the machine.
type Effects interface {
	// StartCapture begins microphone segment emission.
	StartCapture()
	// StopCapture ends microphone segment emission.
	StopCapture()
	// FlushPlayback silences interviewer speech immediately.
	FlushPlayback()
	// ClearPendingText drops any partially accumulated interviewer text.
	ClearPendingText()
	// Send transmits an outbound message, best-effort.
	Send(msg protocol.ClientMessage)
}

// Machine is the conversation state machine.
//
// All exported methods are safe for concurrent use.
type Machine struct {
	effects Effects
	log     *slog.Logger

	mu    sync.Mutex
	phase Phase
	mode  Mode
}

// NewMachine creates a machine in the Idle phase with the given mode.
// A nil logger discards.
func NewMachine(effects Effects, mode Mode, log *slog.Logger) *Machine {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Machine{
		effects: effects,
		log:     log,
		mode:    mode,
	}
}

// Phase returns a snapshot of the current phase. Callers must re-read it at
// every decision point rather than caching it across events.
func (m *Machine) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// Mode returns the current operating mode.
func (m *Machine) Mode() Mode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode
}

// SetMode switches the operating mode without touching the phase.
func (m *Machine) SetMode(mode Mode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mode = mode
}

// StartVoiceTurn begins a listening turn from Idle: capture starts and the
// interviewer is told to expect audio. A no-op in any other phase.
func (m *Machine) StartVoiceTurn() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase != Idle {
		return
	}
	m.toListeningLocked()
}

// StopVoiceTurn ends a listening turn on explicit user action, committing
// whatever was captured. A no-op unless currently listening.
func (m *Machine) StopVoiceTurn() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase != Listening {
		return
	}
	m.commitLocked()
}

// HandleVAD consumes one voice-detection decision against the phase as it
// is right now.
func (m *Machine) HandleVAD(decision vad.Decision) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch decision {
	case vad.SpeechCommitted:
		// Auto-commit is a continuous-mode behaviour; push-to-talk waits
		// for the user's explicit stop.
		if m.phase == Listening && m.mode == Continuous {
			m.commitLocked()
		}
	case vad.Interrupt:
		if m.phase == Processing || m.phase == Speaking {
			m.interruptLocked()
		}
	}
}

// HandleServer consumes one inbound interviewer event. Only phase-bearing
// messages are handled here; the session routes the rest.
func (m *Machine) HandleServer(msg protocol.ServerMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch msg := msg.(type) {
	case protocol.StateChange:
		phase, ok := phaseFromWire(msg.State)
		if !ok {
			m.log.Debug("ignoring unknown state_change", "state", msg.State)
			return
		}
		m.setPhaseLocked(phase)
	case protocol.AIAudio:
		// First synthesized frame of the turn flips processing to speaking.
		if m.phase == Processing {
			m.setPhaseLocked(Speaking)
		}
	case protocol.AIAudioDone:
		if m.phase != Speaking {
			return
		}
		if m.mode == Continuous {
			// Hands-free: roll straight into the next listening turn.
			m.setPhaseLocked(Idle)
			m.toListeningLocked()
		} else {
			m.setPhaseLocked(Idle)
		}
	}
}

// Interrupt cancels the interviewer's in-flight turn on explicit user
// action. A no-op unless the interviewer is processing or speaking.
func (m *Machine) Interrupt() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase != Processing && m.phase != Speaking {
		return
	}
	m.interruptLocked()
}

// Reset returns the machine to Idle without side effects, for teardown.
func (m *Machine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.phase = Idle
}

// toListeningLocked starts capture and announces the turn.
func (m *Machine) toListeningLocked() {
	m.setPhaseLocked(Listening)
	m.effects.StartCapture()
	m.effects.Send(protocol.StartListening{})
}

// commitLocked ends capture and hands the utterance to the interviewer.
func (m *Machine) commitLocked() {
	m.setPhaseLocked(Processing)
	m.effects.StopCapture()
	m.effects.Send(protocol.StopListening{})
}

// interruptLocked cancels the in-flight interviewer turn as one unit: flush
// playback, drop partial text, notify the remote side, and resume capture.
// Splitting these up would desynchronize the two ends, e.g. silencing audio
// locally while the interviewer believes it is still speaking.
func (m *Machine) interruptLocked() {
	m.effects.FlushPlayback()
	m.effects.ClearPendingText()
	m.effects.Send(protocol.Interrupt{})
	m.setPhaseLocked(Listening)
	m.effects.StartCapture()
	m.effects.Send(protocol.StartListening{})
}

func (m *Machine) setPhaseLocked(phase Phase) {
	if m.phase == phase {
		return
	}
	m.log.Debug("phase transition", "from", m.phase, "to", phase)
	m.phase = phase
}
