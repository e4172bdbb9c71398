package protocol

import (
	"encoding/json"
	"testing"
)

func TestEncodeClientCarriesType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		msg  ClientMessage
		want map[string]any
	}{
		{
			name: "start_listening has no payload",
			msg:  StartListening{},
			want: map[string]any{"type": "start_listening"},
		},
		{
			name: "audio_chunk inlines data",
			msg:  AudioChunk{Data: "b64=="},
			want: map[string]any{"type": "audio_chunk", "data": "b64=="},
		},
		{
			name: "code_update inlines fields",
			msg:  CodeUpdate{Code: "print(1)", Language: "python"},
			want: map[string]any{"type": "code_update", "code": "print(1)", "language": "python"},
		},
		{
			name: "interrupt has no payload",
			msg:  Interrupt{},
			want: map[string]any{"type": "interrupt"},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			data, err := EncodeClient(tt.msg)
			if err != nil {
				t.Fatal(err)
			}
			var got map[string]any
			if err := json.Unmarshal(data, &got); err != nil {
				t.Fatal(err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("encoded %v, want %v", got, tt.want)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("field %q = %v, want %v", k, got[k], v)
				}
			}
		})
	}
}

func TestDecodeServer(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want ServerMessage
	}{
		{
			name: "transcript",
			in:   `{"type":"transcript","text":"hello","final":true}`,
			want: Transcript{Text: "hello", Final: true},
		},
		{
			name: "ai_text incremental",
			in:   `{"type":"ai_text","text":"Let me","done":false}`,
			want: AIText{Text: "Let me"},
		},
		{
			name: "ai_audio_done",
			in:   `{"type":"ai_audio_done"}`,
			want: AIAudioDone{},
		},
		{
			name: "error with fallback",
			in:   `{"type":"error","message":"synthesis failed","errorType":"tts_failed","fallbackText":"Sorry, say that again?"}`,
			want: ServerError{Message: "synthesis failed", ErrorType: "tts_failed", FallbackText: "Sorry, say that again?"},
		},
		{
			name: "latency_report",
			in:   `{"type":"latency_report","sttMs":120,"llmFirstTokenMs":310,"ttsFirstChunkMs":150,"totalMs":580}`,
			want: LatencyReport{STTMs: 120, LLMFirstTokenMs: 310, TTSFirstChunkMs: 150, TotalMs: 580},
		},
		{
			name: "time_warning",
			in:   `{"type":"time_warning","minutesLeft":5}`,
			want: TimeWarning{MinutesLeft: 5},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := DecodeServer([]byte(tt.in))
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("decoded %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestDecodeServerUnknownType(t *testing.T) {
	t.Parallel()

	msg, err := DecodeServer([]byte(`{"type":"shiny_new_feature","payload":42}`))
	if err != nil {
		t.Fatalf("unknown type returned error %v, want tolerance", err)
	}
	unknown, ok := msg.(Unknown)
	if !ok {
		t.Fatalf("decoded %T, want Unknown", msg)
	}
	if unknown.Type != "shiny_new_feature" {
		t.Errorf("Unknown.Type = %q", unknown.Type)
	}

	// The next valid message decodes normally.
	next, err := DecodeServer([]byte(`{"type":"state_change","state":"processing"}`))
	if err != nil {
		t.Fatal(err)
	}
	if got := next.(StateChange).State; got != "processing" {
		t.Errorf("state = %q, want processing", got)
	}
}

func TestDecodeServerMalformed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
	}{
		{"truncated json", `{"type":"transcript","text":`},
		{"wrong field type", `{"type":"hint_given","level":"three"}`},
		{"empty", ``},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if _, err := DecodeServer([]byte(tt.in)); err == nil {
				t.Error("malformed payload decoded without error")
			}
		})
	}
}

func TestDecodeSolutionComparisonKeepsRaw(t *testing.T) {
	t.Parallel()

	in := `{"type":"solution_comparison","verdict":"close","notes":["x"]}`
	msg, err := DecodeServer([]byte(in))
	if err != nil {
		t.Fatal(err)
	}
	sc, ok := msg.(SolutionComparison)
	if !ok {
		t.Fatalf("decoded %T, want SolutionComparison", msg)
	}
	if string(sc.Raw) != in {
		t.Errorf("Raw = %s, want original payload", sc.Raw)
	}
}
