package protocol

import (
	"encoding/json"
	"fmt"
)

type envelope struct {
	Type string `json:"type"`
}

// EncodeClient serializes an outbound message with its type discriminant.
func EncodeClient(msg ClientMessage) ([]byte, error) {
	var payload any
	switch m := msg.(type) {
	case StartListening:
		payload = envelope{Type: TypeStartListening}
	case StopListening:
		payload = envelope{Type: TypeStopListening}
	case AudioChunk:
		payload = struct {
			Type string `json:"type"`
			AudioChunk
		}{TypeAudioChunk, m}
	case Interrupt:
		payload = envelope{Type: TypeInterrupt}
	case CodeUpdate:
		payload = struct {
			Type string `json:"type"`
			CodeUpdate
		}{TypeCodeUpdate, m}
	case CodeResult:
		payload = struct {
			Type string `json:"type"`
			CodeResult
		}{TypeCodeResult, m}
	case WhiteboardUpdate:
		payload = struct {
			Type string `json:"type"`
			WhiteboardUpdate
		}{TypeWhiteboardUpdate, m}
	case HintRequest:
		payload = envelope{Type: TypeHintRequest}
	default:
		return nil, fmt.Errorf("protocol: unsupported client message %T", msg)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %T: %w", msg, err)
	}
	return data, nil
}

// DecodeServer parses an inbound payload. Messages with an unrecognized type
// decode to [Unknown]; only malformed JSON or a payload that does not match
// its declared type is an error, and callers drop those without failing the
// session.
func DecodeServer(data []byte) (ServerMessage, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("protocol: decode envelope: %w", err)
	}

	switch env.Type {
	case TypeStateChange:
		return decodeAs[StateChange](data, env.Type)
	case TypeTranscript:
		return decodeAs[Transcript](data, env.Type)
	case TypeAIText:
		return decodeAs[AIText](data, env.Type)
	case TypeAIAudio:
		return decodeAs[AIAudio](data, env.Type)
	case TypeAIAudioDone:
		return AIAudioDone{}, nil
	case TypeError:
		return decodeAs[ServerError](data, env.Type)
	case TypeProblemLoaded:
		return decodeAs[ProblemLoaded](data, env.Type)
	case TypeDesignProblemLoaded:
		return decodeAs[DesignProblemLoaded](data, env.Type)
	case TypeHintGiven:
		return decodeAs[HintGiven](data, env.Type)
	case TypeQuestionUpdate:
		return decodeAs[QuestionUpdate](data, env.Type)
	case TypeTimeWarning:
		return decodeAs[TimeWarning](data, env.Type)
	case TypeSolutionComparison:
		raw := make(json.RawMessage, len(data))
		copy(raw, data)
		return SolutionComparison{Raw: raw}, nil
	case TypeLatencyReport:
		return decodeAs[LatencyReport](data, env.Type)
	default:
		return Unknown{Type: env.Type}, nil
	}
}

// decodeAs parses data into a concrete message value.
func decodeAs[T ServerMessage](data []byte, typ string) (ServerMessage, error) {
	var msg T
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("protocol: decode %s: %w", typ, err)
	}
	return msg, nil
}
