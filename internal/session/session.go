// Package session ties the voice pipeline together: it owns the microphone
// capture, the playback queue, the duplex transport, the conversation state
// machine, and the per-turn telemetry for one interview attachment.
//
// Exactly one Session is live at a time. Reattaching with different target
// identifiers means tearing the old one down and building a new one.
package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/prepdeck/voicepipe/internal/conversation"
	"github.com/prepdeck/voicepipe/internal/observe"
	"github.com/prepdeck/voicepipe/internal/protocol"
	"github.com/prepdeck/voicepipe/internal/stats"
	"github.com/prepdeck/voicepipe/internal/vad"
	"github.com/prepdeck/voicepipe/pkg/audio"
	"github.com/prepdeck/voicepipe/pkg/audio/opus"
)

// latencyWindow is how many recent turns feed the rolling latency display.
const latencyWindow = 5

// Config configures a [Session].
type Config struct {
	// Endpoint is the interviewer's websocket URL.
	Endpoint string

	// InterviewID identifies the interview attempt. Required.
	InterviewID string

	// ProblemID selects a problem, optional.
	ProblemID string

	// Question is literal custom question text, optional.
	Question string

	// Input is the microphone device. Required.
	Input audio.InputDevice

	// Output creates speaker devices. Required.
	Output audio.OutputOpener

	// SampleRate for both capture and playback. Defaults to 16000.
	SampleRate int

	// SegmentDuration is the outbound capture segment length.
	// Defaults to 250ms.
	SegmentDuration time.Duration

	// VolumeInterval throttles the volume signal. Defaults to 50ms.
	VolumeInterval time.Duration

	// Mode selects continuous or push-to-talk listening.
	Mode conversation.Mode

	// Normal and BargeIn override the detection profiles. Zero values use
	// the package defaults.
	Normal  vad.Profile
	BargeIn vad.Profile

	// Logger defaults to a discarding logger.
	Logger *slog.Logger

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// Dial overrides the transport connection factory in tests.
	Dial Dialer

	// schedule overrides dismiss/reconnect timer creation in tests.
	schedule func(d time.Duration, f func()) func()
}

// Session is one live interview attachment.
//
// All exported methods are safe for concurrent use.
type Session struct {
	id      string
	cfg     Config
	log     *slog.Logger
	metrics *observe.Metrics

	machine   *conversation.Machine
	transport *Transport
	capture   *audio.Capture
	playback  *audio.PlaybackQueue
	tracker   *stats.Tracker

	// encMu serializes encoder access: segments normally arrive on the
	// capture goroutine, but a stop flush can emit one from the caller.
	encMu   sync.Mutex
	encoder *opus.SegmentEncoder

	// Detectors are only touched on the capture goroutine's volume path.
	normal    *vad.Detector
	bargeIn   *vad.Detector
	lastPhase conversation.Phase

	schedule func(d time.Duration, f func()) func()

	mu            sync.Mutex
	attached      bool
	detached      bool
	counted       bool // ActiveSessions was incremented
	voiceless     bool // microphone denied; session continues without voice
	connState     ConnState
	everConnected bool
	transcript    protocol.Transcript
	aiText        string
	aiDone        bool
	advisory      *Advisory
	cancelDismiss func()
	problem       json.RawMessage
	designProblem json.RawMessage
	hints         protocol.HintGiven
	question      protocol.QuestionUpdate
	minutesLeft   int
	comparison    json.RawMessage
}

// New creates a session. Devices are not acquired and nothing connects
// until [Session.Attach].
func New(cfg Config) (*Session, error) {
	if cfg.Input == nil {
		return nil, errors.New("session: input device is required")
	}
	if cfg.Output == nil {
		return nil, errors.New("session: output opener is required")
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Normal == (vad.Profile{}) {
		cfg.Normal = vad.NormalProfile()
	}
	if cfg.BargeIn == (vad.Profile{}) {
		cfg.BargeIn = vad.BargeInProfile()
	}
	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	schedule := cfg.schedule
	if schedule == nil {
		schedule = func(d time.Duration, f func()) func() {
			timer := time.AfterFunc(d, f)
			return func() { timer.Stop() }
		}
	}

	s := &Session{
		id:       uuid.NewString(),
		cfg:      cfg,
		metrics:  metrics,
		tracker:  stats.NewTracker(latencyWindow),
		normal:   vad.NewDetector(cfg.Normal),
		bargeIn:  vad.NewDetector(cfg.BargeIn),
		schedule: schedule,
	}
	s.log = log.With("session_id", s.id)
	s.machine = conversation.NewMachine((*effects)(s), cfg.Mode, s.log)

	encoder, err := opus.NewSegmentEncoder(cfg.SampleRate)
	if err != nil {
		return nil, err
	}
	s.encoder = encoder

	capture, err := audio.NewCapture(audio.CaptureConfig{
		Device:          cfg.Input,
		SampleRate:      cfg.SampleRate,
		SegmentDuration: cfg.SegmentDuration,
		VolumeInterval:  cfg.VolumeInterval,
		OnSegment:       s.handleSegment,
		OnVolume:        s.handleVolume,
	})
	if err != nil {
		return nil, err
	}
	s.capture = capture

	transport, err := NewTransport(TransportConfig{
		Endpoint:    cfg.Endpoint,
		InterviewID: cfg.InterviewID,
		ProblemID:   cfg.ProblemID,
		Question:    cfg.Question,
		OnMessage:   s.handleServer,
		OnState:     s.handleConnState,
		OnDrop: func() {
			s.metrics.DroppedMessages.Add(context.Background(), 1)
		},
		Dial:        cfg.Dial,
		Logger:      s.log,
		schedule:    schedule,
	})
	if err != nil {
		return nil, err
	}
	s.transport = transport

	return s, nil
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// Attach acquires the audio devices and connects to the interviewer. A
// declined microphone prompt does not fail the attach: the session comes up
// voiceless with a permission_denied advisory and the user may retry via
// [Session.RetryMicrophone].
func (s *Session) Attach(ctx context.Context) error {
	s.mu.Lock()
	if s.attached || s.detached {
		s.mu.Unlock()
		return errors.New("session: already attached or detached")
	}
	s.attached = true
	s.mu.Unlock()

	if err := s.capture.Open(ctx); err != nil {
		if !errors.Is(err, audio.ErrPermissionDenied) {
			return fmt.Errorf("session: open microphone: %w", err)
		}
		s.log.Warn("microphone access denied, continuing without voice")
		s.mu.Lock()
		s.voiceless = true
		s.mu.Unlock()
		s.raiseAdvisory(Advisory{
			Kind:    KindPermissionDenied,
			Message: "microphone access denied",
		})
	}

	playback, err := audio.NewPlaybackQueue(s.cfg.Output, s.cfg.SampleRate)
	if err != nil {
		return fmt.Errorf("session: open speaker: %w", err)
	}
	s.mu.Lock()
	s.playback = playback
	s.mu.Unlock()

	if err := s.transport.Connect(ctx); err != nil {
		// The transport keeps retrying on its own schedule.
		s.log.Warn("initial connect failed", "error", err)
	}

	s.mu.Lock()
	s.counted = true
	s.mu.Unlock()
	s.metrics.ActiveSessions.Add(ctx, 1)
	s.log.Info("session attached",
		"interview_id", s.cfg.InterviewID,
		"problem_id", s.cfg.ProblemID,
	)
	return nil
}

// Detach tears the session down: connection closed, timers cleared,
// microphone and speaker released. Safe to call multiple times.
func (s *Session) Detach() error {
	s.mu.Lock()
	if s.detached {
		s.mu.Unlock()
		return nil
	}
	s.detached = true
	counted := s.counted
	playback := s.playback
	s.playback = nil
	if s.cancelDismiss != nil {
		s.cancelDismiss()
		s.cancelDismiss = nil
	}
	s.mu.Unlock()

	s.machine.Reset()

	var errs []error
	if err := s.transport.Teardown(); err != nil {
		errs = append(errs, err)
	}
	if err := s.capture.Close(); err != nil {
		errs = append(errs, err)
	}
	if playback != nil {
		if err := playback.Destroy(); err != nil {
			errs = append(errs, err)
		}
	}
	// The gauge only goes down if Attach ever took it up; a Detach after a
	// failed Attach must not skew it negative.
	if counted {
		s.metrics.ActiveSessions.Add(context.Background(), -1)
	}
	s.log.Info("session detached")
	return errors.Join(errs...)
}

// ─── User actions ─────────────────────────────────────────────────────────────

// StartVoiceTurn begins a listening turn (user starts talking).
func (s *Session) StartVoiceTurn() { s.machine.StartVoiceTurn() }

// StopVoiceTurn ends a push-to-talk listening turn.
func (s *Session) StopVoiceTurn() { s.machine.StopVoiceTurn() }

// Interrupt cancels the interviewer's turn on explicit user action.
func (s *Session) Interrupt() {
	s.machine.Interrupt()
	s.metrics.RecordInterrupt(context.Background(), "user")
}

// SetMode switches between continuous and push-to-talk listening.
func (s *Session) SetMode(mode conversation.Mode) { s.machine.SetMode(mode) }

// SetVolume adjusts playback gain, clamped to [0, 1].
func (s *Session) SetVolume(v float64) {
	s.mu.Lock()
	playback := s.playback
	s.mu.Unlock()
	if playback != nil {
		playback.SetVolume(v)
	}
}

// RetryMicrophone re-requests microphone access after a declined prompt.
func (s *Session) RetryMicrophone(ctx context.Context) error {
	s.mu.Lock()
	if !s.voiceless {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if err := s.capture.Open(ctx); err != nil {
		return fmt.Errorf("session: reopen microphone: %w", err)
	}
	s.mu.Lock()
	s.voiceless = false
	s.mu.Unlock()
	s.clearAdvisory(KindPermissionDenied)
	return nil
}

// SendCodeUpdate mirrors the candidate's editor contents to the interviewer.
func (s *Session) SendCodeUpdate(code, language string) {
	s.transport.Send(protocol.CodeUpdate{Code: code, Language: language})
}

// SendCodeResult reports a sandbox run of the candidate's code.
func (s *Session) SendCodeResult(results json.RawMessage, stdout, stderr, errText string) {
	s.transport.Send(protocol.CodeResult{
		Results: results,
		Stdout:  stdout,
		Stderr:  stderr,
		Error:   errText,
	})
}

// SendWhiteboardUpdate mirrors the system-design whiteboard state.
func (s *Session) SendWhiteboardUpdate(state json.RawMessage) {
	s.transport.Send(protocol.WhiteboardUpdate{State: state})
}

// RequestHint asks the interviewer for the next hint.
func (s *Session) RequestHint() {
	s.transport.Send(protocol.HintRequest{})
}

// ─── Capture path ─────────────────────────────────────────────────────────────

// handleVolume runs on the capture goroutine for every throttled volume
// sample, whether or not recording is active. The phase snapshot is taken
// fresh here, never cached across samples.
func (s *Session) handleVolume(rms float64, now time.Time) {
	phase := s.machine.Phase()
	if phase != s.lastPhase {
		// Profile switch: state from one context must not bleed into the
		// other.
		s.normal.Reset()
		s.bargeIn.Reset()
		s.lastPhase = phase
	}

	var det *vad.Detector
	switch phase {
	case conversation.Listening:
		det = s.normal
	case conversation.Processing, conversation.Speaking:
		det = s.bargeIn
	default:
		return
	}

	decision := det.Process(rms, now)
	if decision == vad.None {
		return
	}
	if decision == vad.Interrupt {
		s.metrics.RecordInterrupt(context.Background(), "vad")
	}
	s.machine.HandleVAD(decision)
}

// handleSegment runs on the capture goroutine for every ~250 ms recorded
// segment: encode, base64, ship.
func (s *Session) handleSegment(frame audio.AudioFrame) {
	s.encMu.Lock()
	packets, err := s.encoder.Encode(frame.Data)
	s.encMu.Unlock()
	if err != nil {
		s.log.Warn("dropping unencodable segment", "error", err)
		return
	}
	if len(packets) == 0 {
		return
	}
	s.transport.Send(protocol.AudioChunk{
		Data: base64.StdEncoding.EncodeToString(packets),
	})
	s.metrics.AudioChunksSent.Add(context.Background(), 1)
}

// ─── Inbound path ─────────────────────────────────────────────────────────────

// handleServer runs on the transport read goroutine for every decoded
// inbound message.
func (s *Session) handleServer(msg protocol.ServerMessage) {
	// Phase-bearing messages go to the machine first so that everything
	// below observes the post-transition phase.
	s.machine.HandleServer(msg)

	switch msg := msg.(type) {
	case protocol.Transcript:
		s.mu.Lock()
		s.transcript = msg
		s.mu.Unlock()
	case protocol.AIText:
		s.mu.Lock()
		if msg.Done && msg.Text != "" {
			s.aiText = msg.Text
		} else {
			s.aiText += msg.Text
		}
		s.aiDone = msg.Done
		s.mu.Unlock()
	case protocol.AIAudio:
		s.enqueueAIAudio(msg.Data)
	case protocol.ServerError:
		s.handleServerError(msg)
	case protocol.ProblemLoaded:
		s.mu.Lock()
		s.problem = msg.Problem
		s.mu.Unlock()
	case protocol.DesignProblemLoaded:
		s.mu.Lock()
		s.designProblem = msg.Problem
		s.mu.Unlock()
	case protocol.HintGiven:
		s.mu.Lock()
		s.hints = msg
		s.mu.Unlock()
	case protocol.QuestionUpdate:
		s.mu.Lock()
		s.question = msg
		// A new question starts a fresh exchange.
		s.transcript = protocol.Transcript{}
		s.aiText = ""
		s.aiDone = false
		s.mu.Unlock()
	case protocol.TimeWarning:
		s.mu.Lock()
		s.minutesLeft = msg.MinutesLeft
		s.mu.Unlock()
		s.log.Info("time warning", "minutes_left", msg.MinutesLeft)
	case protocol.SolutionComparison:
		s.mu.Lock()
		s.comparison = msg.Raw
		s.mu.Unlock()
	case protocol.LatencyReport:
		s.tracker.Record(msg)
		s.metrics.RecordTurnLatency(context.Background(),
			msg.STTMs, msg.LLMFirstTokenMs, msg.TTSFirstChunkMs, msg.TotalMs)
	}
}

// enqueueAIAudio decodes one synthesized PCM frame and schedules it.
// Undecodable audio is dropped like any other malformed payload.
func (s *Session) enqueueAIAudio(data string) {
	samples, err := audio.DecodePCM16(data)
	if err != nil {
		s.log.Debug("dropping undecodable audio frame", "error", err)
		s.metrics.DroppedMessages.Add(context.Background(), 1)
		return
	}

	s.mu.Lock()
	playback := s.playback
	s.mu.Unlock()
	if playback == nil {
		return
	}
	if err := playback.Enqueue(samples); err != nil {
		s.log.Warn("playback enqueue failed", "error", err)
	}
}

// handleServerError surfaces a remote-reported failure as advisory state.
func (s *Session) handleServerError(msg protocol.ServerError) {
	s.metrics.RecordServerError(context.Background(), msg.ErrorType)
	s.log.Warn("interviewer reported error",
		"error_type", msg.ErrorType,
		"message", msg.Message,
		"retry", msg.Retry,
	)
	adv := Advisory{
		Kind:    msg.ErrorType,
		Message: msg.Message,
		Retry:   msg.Retry,
	}
	if msg.ErrorType == KindTTSFailed && msg.FallbackText != "" {
		adv.FallbackText = msg.FallbackText
		// The candidate still gets the content as text.
		s.mu.Lock()
		s.aiText = msg.FallbackText
		s.aiDone = true
		s.mu.Unlock()
	}
	s.raiseAdvisory(adv)
}

// handleConnState runs on transport goroutines when the connection state
// changes.
func (s *Session) handleConnState(state ConnState) {
	s.mu.Lock()
	s.connState = state
	wasConnected := s.everConnected
	if state == Connected {
		s.everConnected = true
	}
	adv := s.connAdvisoryLocked()
	s.mu.Unlock()

	switch state {
	case Connecting:
		// The initial dial also passes through Connecting; only an actual
		// drop is a reconnect worth surfacing.
		if !wasConnected {
			return
		}
		s.metrics.Reconnects.Add(context.Background(), 1)
		s.raiseAdvisory(*adv)
	case Failed:
		s.raiseAdvisory(*adv)
	case Connected:
		s.clearAdvisory(KindConnectionLost)
	}
}

// connAdvisoryLocked derives the advisory the current transport state calls
// for, or nil when the connection is healthy. Must be called with s.mu held.
func (s *Session) connAdvisoryLocked() *Advisory {
	switch {
	case s.connState == Failed:
		return &Advisory{
			Kind:    KindConnectionLost,
			Message: "could not reach the interviewer; restart the session to retry",
		}
	case s.connState == Connecting && s.everConnected:
		return &Advisory{
			Kind:    KindConnectionLost,
			Message: "connection lost, reconnecting",
			Retry:   true,
		}
	}
	return nil
}

// ─── Advisory state ───────────────────────────────────────────────────────────

// raiseAdvisory replaces the current advisory and arms its auto-dismiss
// timer, if the kind has one.
func (s *Session) raiseAdvisory(adv Advisory) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.detached {
		return
	}
	if s.cancelDismiss != nil {
		s.cancelDismiss()
		s.cancelDismiss = nil
	}
	s.advisory = &adv

	if d := dismissAfter(adv.Kind); d > 0 {
		kind := adv.Kind
		s.cancelDismiss = s.schedule(d, func() { s.clearAdvisory(kind) })
	}
}

// clearAdvisory removes the advisory if it still has the given kind. A
// transient advisory may have displaced an outstanding connection problem;
// that state is re-derived here so it resurfaces instead of vanishing.
func (s *Session) clearAdvisory(kind string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.advisory == nil || s.advisory.Kind != kind {
		return
	}
	s.advisory = nil
	if s.cancelDismiss != nil {
		s.cancelDismiss()
		s.cancelDismiss = nil
	}
	if kind != KindConnectionLost {
		s.advisory = s.connAdvisoryLocked()
	}
}

// ─── Display state ────────────────────────────────────────────────────────────

// Snapshot is a point-in-time view of everything the UI renders.
type Snapshot struct {
	Phase      conversation.Phase
	Mode       conversation.Mode
	ConnState  ConnState
	Recording  bool
	Playing    bool
	Voiceless  bool
	Transcript protocol.Transcript
	AIText     string
	AIDone     bool
	Advisory   *Advisory
	Problem    json.RawMessage
	Design     json.RawMessage
	Hints      protocol.HintGiven
	Question   protocol.QuestionUpdate
	TimeLeft   int
	Comparison json.RawMessage
	Latency    stats.Snapshot
}

// Snapshot returns a consistent view of the session's display state.
func (s *Session) Snapshot() Snapshot {
	phase := s.machine.Phase()
	mode := s.machine.Mode()
	recording := s.capture.Recording()
	latency := s.tracker.Snapshot()

	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Phase:      phase,
		Mode:       mode,
		ConnState:  s.connState,
		Recording:  recording,
		Voiceless:  s.voiceless,
		Transcript: s.transcript,
		AIText:     s.aiText,
		AIDone:     s.aiDone,
		Problem:    s.problem,
		Design:     s.designProblem,
		Hints:      s.hints,
		Question:   s.question,
		TimeLeft:   s.minutesLeft,
		Comparison: s.comparison,
		Latency:    latency,
	}
	if s.playback != nil {
		snap.Playing = s.playback.IsPlaying()
	}
	if s.advisory != nil {
		adv := *s.advisory
		snap.Advisory = &adv
	}
	return snap
}

// ─── Machine effects ──────────────────────────────────────────────────────────

// effects adapts Session to [conversation.Effects]. It is a distinct type so
// the effect surface never leaks into the session's public API.
type effects Session

func (e *effects) StartCapture() {
	s := (*Session)(e)
	s.encMu.Lock()
	s.encoder.Reset()
	s.encMu.Unlock()
	s.capture.StartRecording()
}

func (e *effects) StopCapture() {
	(*Session)(e).capture.StopRecording()
}

func (e *effects) FlushPlayback() {
	s := (*Session)(e)
	s.mu.Lock()
	playback := s.playback
	s.mu.Unlock()
	if playback == nil {
		return
	}
	if err := playback.Flush(); err != nil {
		s.log.Warn("playback flush failed", "error", err)
	}
}

func (e *effects) ClearPendingText() {
	s := (*Session)(e)
	s.mu.Lock()
	s.aiText = ""
	s.aiDone = false
	s.mu.Unlock()
}

func (e *effects) Send(msg protocol.ClientMessage) {
	(*Session)(e).transport.Send(msg)
}
