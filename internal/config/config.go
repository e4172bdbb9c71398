// Package config provides the configuration schema and loader for the
// voicepipe client.
package config

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// ListenMode selects how listening turns start and stop.
type ListenMode string

const (
	// ModeContinuous lets voice detection auto-commit utterances and
	// restart listening after every interviewer turn.
	ModeContinuous ListenMode = "continuous"

	// ModePushToTalk starts and stops listening only on explicit user
	// action.
	ModePushToTalk ListenMode = "push_to_talk"
)

// IsValid reports whether m is a recognised listen mode.
func (m ListenMode) IsValid() bool {
	return m == ModeContinuous || m == ModePushToTalk
}

// Config is the root configuration structure for voicepipe.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Interview InterviewConfig `yaml:"interview"`
	Voice     VoiceConfig     `yaml:"voice"`
}

// ServerConfig holds the interviewer endpoint and local serving settings.
type ServerConfig struct {
	// URL is the interviewer's websocket endpoint (ws:// or wss://).
	URL string `yaml:"url"`

	// MetricsAddr is the TCP address for the local /metrics endpoint
	// (e.g., ":9090"). Empty disables the endpoint.
	MetricsAddr string `yaml:"metrics_addr"`

	// LogLevel controls verbosity. Defaults to info.
	LogLevel LogLevel `yaml:"log_level"`
}

// InterviewConfig identifies the interview this client attaches to.
type InterviewConfig struct {
	// ID is the interview attempt identifier. Required.
	ID string `yaml:"id"`

	// ProblemID selects a problem, optional.
	ProblemID string `yaml:"problem_id"`

	// Question is literal custom question text, optional.
	Question string `yaml:"question"`
}

// VoiceConfig tunes the audio path.
type VoiceConfig struct {
	// Mode is continuous or push_to_talk. Defaults to continuous.
	Mode ListenMode `yaml:"mode"`

	// SampleRate for capture and playback. Defaults to 16000.
	SampleRate int `yaml:"sample_rate"`

	// SegmentMs is the outbound capture segment length in milliseconds.
	// Defaults to 250.
	SegmentMs int `yaml:"segment_ms"`

	// VolumeIntervalMs throttles the volume signal, in milliseconds.
	// Defaults to 50.
	VolumeIntervalMs int `yaml:"volume_interval_ms"`

	// Volume is the initial playback gain in [0, 1]. Defaults to 1.
	Volume *float64 `yaml:"volume"`
}
