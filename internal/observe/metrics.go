// Package observe provides application-wide observability primitives for
// voicepipe, built on OpenTelemetry metrics.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all voicepipe metrics.
const meterName = "github.com/prepdeck/voicepipe"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per interviewer pipeline stage ---

	// STTDuration tracks remote speech-to-text latency per turn.
	STTDuration metric.Float64Histogram

	// LLMFirstTokenDuration tracks time to the interviewer's first token.
	LLMFirstTokenDuration metric.Float64Histogram

	// TTSFirstChunkDuration tracks time to the first synthesized chunk.
	TTSFirstChunkDuration metric.Float64Histogram

	// TurnDuration tracks end-to-end turn latency.
	TurnDuration metric.Float64Histogram

	// --- Counters ---

	// AudioChunksSent counts outbound capture segments.
	AudioChunksSent metric.Int64Counter

	// Interrupts counts barge-in cancellations. Use with attribute:
	//   attribute.String("source", "vad"|"user")
	Interrupts metric.Int64Counter

	// Reconnects counts transport reconnect attempts.
	Reconnects metric.Int64Counter

	// DroppedMessages counts inbound payloads discarded as malformed or
	// unknown.
	DroppedMessages metric.Int64Counter

	// ServerErrors counts remote-reported errors. Use with attribute:
	//   attribute.String("error_type", ...)
	ServerErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live interview attachments.
	ActiveSessions metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-turn latencies.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.STTDuration, err = m.Float64Histogram("voicepipe.stt.duration",
		metric.WithDescription("Remote speech-to-text latency per turn."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMFirstTokenDuration, err = m.Float64Histogram("voicepipe.llm.first_token.duration",
		metric.WithDescription("Time to the interviewer's first token."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSFirstChunkDuration, err = m.Float64Histogram("voicepipe.tts.first_chunk.duration",
		metric.WithDescription("Time to the first synthesized audio chunk."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TurnDuration, err = m.Float64Histogram("voicepipe.turn.duration",
		metric.WithDescription("End-to-end turn latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.AudioChunksSent, err = m.Int64Counter("voicepipe.audio.chunks_sent",
		metric.WithDescription("Outbound capture segments sent to the interviewer."),
	); err != nil {
		return nil, err
	}
	if met.Interrupts, err = m.Int64Counter("voicepipe.interrupts",
		metric.WithDescription("Barge-in cancellations by source."),
	); err != nil {
		return nil, err
	}
	if met.Reconnects, err = m.Int64Counter("voicepipe.transport.reconnects",
		metric.WithDescription("Transport reconnect attempts."),
	); err != nil {
		return nil, err
	}
	if met.DroppedMessages, err = m.Int64Counter("voicepipe.messages.dropped",
		metric.WithDescription("Inbound payloads discarded as malformed or unknown."),
	); err != nil {
		return nil, err
	}
	if met.ServerErrors, err = m.Int64Counter("voicepipe.server.errors",
		metric.WithDescription("Remote-reported errors by type."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("voicepipe.active_sessions",
		metric.WithDescription("Number of live interview attachments."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordTurnLatency records all four stage histograms from one completed
// turn's report. Stage values arrive in milliseconds.
func (m *Metrics) RecordTurnLatency(ctx context.Context, sttMs, llmMs, ttsMs, totalMs int) {
	m.STTDuration.Record(ctx, msToSeconds(sttMs))
	m.LLMFirstTokenDuration.Record(ctx, msToSeconds(llmMs))
	m.TTSFirstChunkDuration.Record(ctx, msToSeconds(ttsMs))
	m.TurnDuration.Record(ctx, msToSeconds(totalMs))
}

// RecordInterrupt records a barge-in cancellation with its source.
func (m *Metrics) RecordInterrupt(ctx context.Context, source string) {
	m.Interrupts.Add(ctx, 1,
		metric.WithAttributes(attribute.String("source", source)),
	)
}

// RecordServerError records a remote-reported error by type.
func (m *Metrics) RecordServerError(ctx context.Context, errorType string) {
	m.ServerErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("error_type", errorType)),
	)
}

func msToSeconds(ms int) float64 {
	return (time.Duration(ms) * time.Millisecond).Seconds()
}
