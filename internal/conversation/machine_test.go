package conversation

import (
	"sync"
	"testing"

	"github.com/prepdeck/voicepipe/internal/protocol"
	"github.com/prepdeck/voicepipe/internal/vad"
)

// recordingEffects records every effect invocation in order.
type recordingEffects struct {
	mu      sync.Mutex
	calls   []string
	sent    []protocol.ClientMessage
	flushes int
}

func (e *recordingEffects) StartCapture() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, "start_capture")
}

func (e *recordingEffects) StopCapture() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, "stop_capture")
}

func (e *recordingEffects) FlushPlayback() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, "flush_playback")
	e.flushes++
}

func (e *recordingEffects) ClearPendingText() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, "clear_text")
}

func (e *recordingEffects) Send(msg protocol.ClientMessage) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, "send")
	e.sent = append(e.sent, msg)
}

func (e *recordingEffects) sentOfType(want protocol.ClientMessage) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, msg := range e.sent {
		if msg == want {
			n++
		}
	}
	return n
}

func TestStartVoiceTurn(t *testing.T) {
	t.Parallel()

	eff := &recordingEffects{}
	m := NewMachine(eff, Continuous, nil)

	m.StartVoiceTurn()
	if got := m.Phase(); got != Listening {
		t.Errorf("phase = %v, want listening", got)
	}
	if got := eff.sentOfType(protocol.StartListening{}); got != 1 {
		t.Errorf("start_listening sent %d times, want 1", got)
	}

	// Starting again while already listening changes nothing.
	m.StartVoiceTurn()
	if got := eff.sentOfType(protocol.StartListening{}); got != 1 {
		t.Errorf("start_listening sent %d times after repeat, want 1", got)
	}
}

func TestSpeechCommittedMovesToProcessing(t *testing.T) {
	t.Parallel()

	eff := &recordingEffects{}
	m := NewMachine(eff, Continuous, nil)
	m.StartVoiceTurn()

	m.HandleVAD(vad.SpeechCommitted)
	if got := m.Phase(); got != Processing {
		t.Errorf("phase = %v, want processing", got)
	}
	if got := eff.sentOfType(protocol.StopListening{}); got != 1 {
		t.Errorf("stop_listening sent %d times, want 1", got)
	}

	// A second committed decision in processing is a no-op.
	m.HandleVAD(vad.SpeechCommitted)
	if got := eff.sentOfType(protocol.StopListening{}); got != 1 {
		t.Errorf("stop_listening sent %d times after repeat, want 1", got)
	}
}

func TestPushToTalkIgnoresAutoCommit(t *testing.T) {
	t.Parallel()

	eff := &recordingEffects{}
	m := NewMachine(eff, PushToTalk, nil)
	m.StartVoiceTurn()

	m.HandleVAD(vad.SpeechCommitted)
	if got := m.Phase(); got != Listening {
		t.Errorf("phase = %v, want listening (push-to-talk ignores auto-commit)", got)
	}

	// The explicit user stop commits instead.
	m.StopVoiceTurn()
	if got := m.Phase(); got != Processing {
		t.Errorf("phase = %v, want processing after manual stop", got)
	}
}

func TestInterruptIsAtomic(t *testing.T) {
	t.Parallel()

	eff := &recordingEffects{}
	m := NewMachine(eff, Continuous, nil)
	m.StartVoiceTurn()
	m.HandleVAD(vad.SpeechCommitted)
	m.HandleServer(protocol.AIAudio{Data: "aGk="})
	if got := m.Phase(); got != Speaking {
		t.Fatalf("phase = %v, want speaking", got)
	}

	eff.mu.Lock()
	eff.calls = nil
	eff.mu.Unlock()

	m.HandleVAD(vad.Interrupt)
	if got := m.Phase(); got != Listening {
		t.Errorf("phase = %v, want listening after interrupt", got)
	}
	if got := eff.sentOfType(protocol.Interrupt{}); got != 1 {
		t.Errorf("interrupt sent %d times, want 1", got)
	}
	if eff.flushes != 1 {
		t.Errorf("playback flushed %d times, want 1", eff.flushes)
	}

	// The whole cancellation runs as one unit, in order.
	want := []string{"flush_playback", "clear_text", "send", "start_capture", "send"}
	eff.mu.Lock()
	got := append([]string(nil), eff.calls...)
	eff.mu.Unlock()
	if len(got) != len(want) {
		t.Fatalf("effect calls = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("effect calls = %v, want %v", got, want)
		}
	}
}

func TestInterruptIgnoredWhileListening(t *testing.T) {
	t.Parallel()

	eff := &recordingEffects{}
	m := NewMachine(eff, Continuous, nil)
	m.StartVoiceTurn()

	m.HandleVAD(vad.Interrupt)
	if got := m.Phase(); got != Listening {
		t.Errorf("phase = %v, want listening unchanged", got)
	}
	if got := eff.sentOfType(protocol.Interrupt{}); got != 0 {
		t.Errorf("interrupt sent %d times, want 0", got)
	}
}

func TestAudioDoneRestartsListeningInContinuousMode(t *testing.T) {
	t.Parallel()

	eff := &recordingEffects{}
	m := NewMachine(eff, Continuous, nil)
	m.StartVoiceTurn()
	m.HandleVAD(vad.SpeechCommitted)
	m.HandleServer(protocol.AIAudio{Data: "aGk="})

	m.HandleServer(protocol.AIAudioDone{})
	if got := m.Phase(); got != Listening {
		t.Errorf("phase = %v, want listening after ai_audio_done", got)
	}
	if got := eff.sentOfType(protocol.StartListening{}); got != 2 {
		t.Errorf("start_listening sent %d times, want 2 (initial + restart)", got)
	}
}

func TestAudioDoneGoesIdleInPushToTalk(t *testing.T) {
	t.Parallel()

	eff := &recordingEffects{}
	m := NewMachine(eff, PushToTalk, nil)
	m.StartVoiceTurn()
	m.StopVoiceTurn()
	m.HandleServer(protocol.AIAudio{Data: "aGk="})

	m.HandleServer(protocol.AIAudioDone{})
	if got := m.Phase(); got != Idle {
		t.Errorf("phase = %v, want idle after ai_audio_done", got)
	}
}

func TestStateChangeMapsKnownStatesOnly(t *testing.T) {
	t.Parallel()

	eff := &recordingEffects{}
	m := NewMachine(eff, Continuous, nil)

	m.HandleServer(protocol.StateChange{State: "processing"})
	if got := m.Phase(); got != Processing {
		t.Errorf("phase = %v, want processing", got)
	}

	m.HandleServer(protocol.StateChange{State: "daydreaming"})
	if got := m.Phase(); got != Processing {
		t.Errorf("phase = %v after unknown state, want processing unchanged", got)
	}
}

func TestConcurrentEventsLeaveRequestedPhase(t *testing.T) {
	t.Parallel()

	// A local interrupt and an inbound ai_audio_done race. Whatever order
	// the lock imposes, the final phase must be one the two events
	// requested (listening either way here), never a torn intermediate.
	for i := 0; i < 50; i++ {
		eff := &recordingEffects{}
		m := NewMachine(eff, Continuous, nil)
		m.StartVoiceTurn()
		m.HandleVAD(vad.SpeechCommitted)
		m.HandleServer(protocol.AIAudio{Data: "aGk="})

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			m.HandleVAD(vad.Interrupt)
		}()
		go func() {
			defer wg.Done()
			m.HandleServer(protocol.AIAudioDone{})
		}()
		wg.Wait()

		if got := m.Phase(); got != Listening {
			t.Fatalf("phase = %v, want listening", got)
		}
	}
}
