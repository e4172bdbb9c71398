// Package protocol defines the JSON wire protocol spoken with the remote
// interviewer. Every message is an object with a "type" discriminant and
// inline payload fields.
//
// Outbound and inbound messages are separate tagged unions, [ClientMessage]
// and [ServerMessage]. Inbound messages with an unrecognized type decode to
// [Unknown] rather than an error so that newer interviewer builds can add
// message kinds without breaking older clients.
package protocol

import "encoding/json"

// Outbound message types.
const (
	TypeStartListening   = "start_listening"
	TypeStopListening    = "stop_listening"
	TypeAudioChunk       = "audio_chunk"
	TypeInterrupt        = "interrupt"
	TypeCodeUpdate       = "code_update"
	TypeCodeResult       = "code_result"
	TypeWhiteboardUpdate = "whiteboard_update"
	TypeHintRequest      = "hint_request"
)

// Inbound message types.
const (
	TypeStateChange         = "state_change"
	TypeTranscript          = "transcript"
	TypeAIText              = "ai_text"
	TypeAIAudio             = "ai_audio"
	TypeAIAudioDone         = "ai_audio_done"
	TypeError               = "error"
	TypeProblemLoaded       = "problem_loaded"
	TypeDesignProblemLoaded = "design_problem_loaded"
	TypeHintGiven           = "hint_given"
	TypeQuestionUpdate      = "question_update"
	TypeTimeWarning         = "time_warning"
	TypeSolutionComparison  = "solution_comparison"
	TypeLatencyReport       = "latency_report"
)

// ClientMessage is a message sent to the remote interviewer.
type ClientMessage interface{ clientMessage() }

// ServerMessage is a message received from the remote interviewer.
type ServerMessage interface{ serverMessage() }

// ─── Outbound ─────────────────────────────────────────────────────────────────

// StartListening tells the interviewer the candidate's microphone is live.
type StartListening struct{}

// StopListening tells the interviewer the candidate's utterance is complete.
type StopListening struct{}

// AudioChunk carries one base64-encoded capture segment.
type AudioChunk struct {
	Data string `json:"data"`
}

// Interrupt cancels the interviewer's in-flight turn.
type Interrupt struct{}

// CodeUpdate mirrors the candidate's editor contents.
type CodeUpdate struct {
	Code     string `json:"code"`
	Language string `json:"language"`
}

// CodeResult reports a sandbox execution of the candidate's code.
type CodeResult struct {
	Results json.RawMessage `json:"results"`
	Stdout  string          `json:"stdout"`
	Stderr  string          `json:"stderr"`
	Error   string          `json:"error,omitempty"`
}

// WhiteboardUpdate mirrors the candidate's system-design whiteboard.
type WhiteboardUpdate struct {
	State json.RawMessage `json:"state"`
}

// HintRequest asks the interviewer for the next hint.
type HintRequest struct{}

func (StartListening) clientMessage()   {}
func (StopListening) clientMessage()    {}
func (AudioChunk) clientMessage()       {}
func (Interrupt) clientMessage()        {}
func (CodeUpdate) clientMessage()       {}
func (CodeResult) clientMessage()       {}
func (WhiteboardUpdate) clientMessage() {}
func (HintRequest) clientMessage()      {}

// ─── Inbound ──────────────────────────────────────────────────────────────────

// StateChange announces the interviewer's view of the conversation phase.
type StateChange struct {
	State string `json:"state"`
}

// Transcript is a speech-to-text result for the candidate's utterance.
type Transcript struct {
	Text  string `json:"text"`
	Final bool   `json:"final"`
}

// AIText is an incremental chunk of the interviewer's reply. When Done is
// set, Text may carry the full final text.
type AIText struct {
	Text string `json:"text"`
	Done bool   `json:"done"`
}

// AIAudio carries one base64-encoded PCM frame of synthesized speech.
type AIAudio struct {
	Data string `json:"data"`
}

// AIAudioDone marks the end of the synthesized speech stream for a turn.
type AIAudioDone struct{}

// ServerError is a remote-reported failure. It is advisory; the session
// stays attached.
type ServerError struct {
	Message      string `json:"message"`
	ErrorType    string `json:"errorType"`
	Retry        bool   `json:"retry,omitempty"`
	FallbackText string `json:"fallbackText,omitempty"`
}

// ProblemLoaded delivers a coding problem statement.
type ProblemLoaded struct {
	Problem json.RawMessage `json:"problem"`
}

// DesignProblemLoaded delivers a system-design problem statement.
type DesignProblemLoaded struct {
	Problem json.RawMessage `json:"problem"`
}

// HintGiven confirms a hint was issued.
type HintGiven struct {
	Level      int `json:"level"`
	TotalHints int `json:"totalHints"`
}

// QuestionUpdate advances the interview to another question.
type QuestionUpdate struct {
	Current            int   `json:"current"`
	Total              int   `json:"total"`
	QuestionStartTime  int64 `json:"questionStartTime"`
	RecommendedSeconds int   `json:"recommendedSeconds"`
}

// TimeWarning announces remaining interview time.
type TimeWarning struct {
	MinutesLeft int `json:"minutesLeft"`
}

// SolutionComparison carries the interviewer's comparison of the candidate's
// solution against a reference. The payload shape is owned by the remote
// side, so it is kept raw for display.
type SolutionComparison struct {
	Raw json.RawMessage `json:"-"`
}

// LatencyReport carries per-stage timing for one completed turn.
type LatencyReport struct {
	STTMs           int `json:"sttMs"`
	LLMFirstTokenMs int `json:"llmFirstTokenMs"`
	TTSFirstChunkMs int `json:"ttsFirstChunkMs"`
	TotalMs         int `json:"totalMs"`
}

// Unknown stands in for any inbound message whose type this client does not
// recognize. Receivers must treat it as a no-op.
type Unknown struct {
	Type string
}

func (StateChange) serverMessage()         {}
func (Transcript) serverMessage()          {}
func (AIText) serverMessage()              {}
func (AIAudio) serverMessage()             {}
func (AIAudioDone) serverMessage()         {}
func (ServerError) serverMessage()         {}
func (ProblemLoaded) serverMessage()       {}
func (DesignProblemLoaded) serverMessage() {}
func (HintGiven) serverMessage()           {}
func (QuestionUpdate) serverMessage()      {}
func (TimeWarning) serverMessage()         {}
func (SolutionComparison) serverMessage()  {}
func (LatencyReport) serverMessage()       {}
func (Unknown) serverMessage()             {}
