package observe

import (
	"context"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns Metrics backed by a ManualReader.
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

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

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

// counterValue returns the value of the data point whose attribute key has
// value, or -1.
func counterValue(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not an int64 sum", name)
	}
	for _, dp := range sum.DataPoints {
		if key == "" {
			return dp.Value
		}
		for _, kv := range dp.Attributes.ToSlice() {
			if string(kv.Key) == key && kv.Value.AsString() == value {
				return dp.Value
			}
		}
	}
	return -1
}

func TestMetrics_Counters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordUtterance(ctx, "forwarded")
	m.RecordUtterance(ctx, "forwarded")
	m.RecordUtterance(ctx, "duplicate")
	m.RecordBargeInDecision(ctx, "echo")
	m.RecordBargeInDecision(ctx, "barge_in")
	m.RecordBargeInDecision(ctx, "barge_in")
	m.RecordReplySentence(ctx, "delimiter")
	m.RecordReplySentence(ctx, "tail")
	m.RecordChannelSend(ctx, "not_ready")
	m.RecordReconnect(ctx, "failed")
	m.RecordBreakerTransition(ctx, "open")
	m.RecordPlaybackFailure(ctx)

	rm := collect(t, reader)

	tests := []struct {
		name, key, value string
		want             int64
	}{
		{"voxturn.utterances", "outcome", "forwarded", 2},
		{"voxturn.utterances", "outcome", "duplicate", 1},
		{"voxturn.barge_in.decisions", "decision", "barge_in", 2},
		{"voxturn.barge_in.decisions", "decision", "echo", 1},
		{"voxturn.reply.sentences", "via", "tail", 1},
		{"voxturn.channel.sends", "status", "not_ready", 1},
		{"voxturn.channel.reconnects", "status", "failed", 1},
		{"voxturn.channel.breaker.transitions", "state", "open", 1},
		{"voxturn.playback.failures", "", "", 1},
	}
	for _, tc := range tests {
		t.Run(tc.name+"/"+tc.value, func(t *testing.T) {
			if got := counterValue(t, rm, tc.name, tc.key, tc.value); got != tc.want {
				t.Errorf("value = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestMetrics_PlaybackDuration(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordPlayback(ctx, "finished", 1500*time.Millisecond)
	m.RecordPlayback(ctx, "finished", 3*time.Second)

	rm := collect(t, reader)
	met := findMetric(rm, "voxturn.playback.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("metric is not a histogram")
	}
	if len(hist.DataPoints) != 1 {
		t.Fatalf("data points = %d, want 1", len(hist.DataPoints))
	}
	dp := hist.DataPoints[0]
	if dp.Count != 2 {
		t.Errorf("sample count = %d, want 2", dp.Count)
	}
	if dp.Sum != 4.5 {
		t.Errorf("sum = %v, want 4.5", dp.Sum)
	}
}

func TestMetrics_ActiveSessions(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.SessionStarted(ctx)
	m.SessionStarted(ctx)
	m.SessionStarted(ctx)
	m.SessionEnded(ctx)

	rm := collect(t, reader)
	if got := counterValue(t, rm, "voxturn.active_sessions", "", ""); got != 2 {
		t.Errorf("active sessions = %d, want 2", got)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}
