package session

import "time"

// Advisory error kinds, mirroring the wire errorType values plus the two
// locally detected conditions.
const (
	KindPermissionDenied = "permission_denied"
	KindConnectionLost   = "connection_lost"
	KindSTTFailed        = "stt_failed"
	KindTTSFailed        = "tts_failed"
	KindLLMTimeout       = "llm_timeout"
	KindLLMFailed        = "llm_failed"
)

// Auto-dismiss windows. Speech-stage hiccups clear quickly; reasoning
// failures stay visible longer because the candidate likely lost a whole
// turn.
const (
	shortDismiss = 5 * time.Second
	longDismiss  = 10 * time.Second
)

// Advisory is a non-fatal error surfaced to the user. The session stays
// attached and usable; only reconnect exhaustion requires explicit action.
type Advisory struct {
	// Kind is one of the Kind* constants or a server-supplied errorType.
	Kind string

	// Message is human-readable detail.
	Message string

	// FallbackText carries the interviewer's reply as text when synthesis
	// failed, so the candidate still sees the content.
	FallbackText string

	// Retry reports whether the remote side suggests retrying.
	Retry bool
}

// dismissAfter returns how long the advisory stays before auto-dismissing,
// or 0 for advisories that stay until their condition resolves.
func dismissAfter(kind string) time.Duration {
	switch kind {
	case KindSTTFailed, KindTTSFailed:
		return shortDismiss
	case KindLLMTimeout, KindLLMFailed:
		return longDismiss
	case KindPermissionDenied, KindConnectionLost:
		// Cleared by an explicit retry or by the transport recovering.
		return 0
	default:
		return shortDismiss
	}
}
