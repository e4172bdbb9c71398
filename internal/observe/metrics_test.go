package observe

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestRecordTurnLatency(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordTurnLatency(ctx, 120, 310, 150, 580)

	rm := collect(t, reader)
	for _, name := range []string{
		"voicepipe.stt.duration",
		"voicepipe.llm.first_token.duration",
		"voicepipe.tts.first_chunk.duration",
		"voicepipe.turn.duration",
	} {
		md := findMetric(rm, name)
		if md == nil {
			t.Errorf("metric %s not recorded", name)
			continue
		}
		hist, ok := md.Data.(metricdata.Histogram[float64])
		if !ok {
			t.Errorf("metric %s is %T, want float64 histogram", name, md.Data)
			continue
		}
		if len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 1 {
			t.Errorf("metric %s has unexpected data points %+v", name, hist.DataPoints)
		}
	}

	md := findMetric(rm, "voicepipe.turn.duration")
	hist := md.Data.(metricdata.Histogram[float64])
	if got := hist.DataPoints[0].Sum; got < 0.579 || got > 0.581 {
		t.Errorf("turn duration sum = %v s, want ~0.58", got)
	}
}

func TestCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.AudioChunksSent.Add(ctx, 3)
	m.RecordInterrupt(ctx, "vad")
	m.RecordServerError(ctx, "tts_failed")
	m.Reconnects.Add(ctx, 2)

	rm := collect(t, reader)
	tests := []struct {
		name string
		want int64
	}{
		{"voicepipe.audio.chunks_sent", 3},
		{"voicepipe.interrupts", 1},
		{"voicepipe.server.errors", 1},
		{"voicepipe.transport.reconnects", 2},
	}
	for _, tc := range tests {
		md := findMetric(rm, tc.name)
		if md == nil {
			t.Errorf("metric %s not recorded", tc.name)
			continue
		}
		sum, ok := md.Data.(metricdata.Sum[int64])
		if !ok {
			t.Errorf("metric %s is %T, want int64 sum", tc.name, md.Data)
			continue
		}
		var total int64
		for _, dp := range sum.DataPoints {
			total += dp.Value
		}
		if total != tc.want {
			t.Errorf("metric %s = %d, want %d", tc.name, total, tc.want)
		}
	}
}
