// Package observe provides the observability primitives of voxturn:
// OpenTelemetry metrics, tracing, trace-aware logging and the HTTP middleware
// that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported to
// Prometheus by [InitProvider]. [DefaultMetrics] returns a package-level
// instance bound to the global meter provider; tests should build their own
// with [NewMetrics] and an SDK manual reader.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope of every voxturn instrument.
const meterName = "github.com/Askhat-cmd/voxturn"

// Metrics holds the metric instruments. All fields are safe for concurrent
// use.
type Metrics struct {
	// Utterances counts finalized user turns. Attribute: outcome.
	Utterances metric.Int64Counter

	// BargeInDecisions counts arbiter decisions. Attribute: decision.
	BargeInDecisions metric.Int64Counter

	// PlaybackDuration tracks how long sentences played. Attribute: event.
	PlaybackDuration metric.Float64Histogram

	// PlaybackFailures counts sentences the driver refused or dropped.
	PlaybackFailures metric.Int64Counter

	// ReplySentences counts sentences cut from reply streams. Attribute: via.
	ReplySentences metric.Int64Counter

	// ChannelSends counts utterances offered to the backend. Attribute: status.
	ChannelSends metric.Int64Counter

	// ChannelReconnects counts backend reconnect attempts. Attribute: status.
	ChannelReconnects metric.Int64Counter

	// BreakerTransitions counts backend circuit breaker state changes.
	// Attribute: state.
	BreakerTransitions metric.Int64Counter

	// ActiveSessions tracks live call sessions.
	ActiveSessions metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request latency. Attributes: method, path.
	HTTPRequestDuration metric.Float64Histogram
}

// playbackBuckets are histogram boundaries in seconds sized for spoken
// sentences.
var playbackBuckets = []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30}

// latencyBuckets are histogram boundaries in seconds for HTTP handling.
var latencyBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5}

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.Utterances, err = m.Int64Counter("voxturn.utterances",
		metric.WithDescription("Finalized user utterances by outcome."),
	); err != nil {
		return nil, err
	}
	if met.BargeInDecisions, err = m.Int64Counter("voxturn.barge_in.decisions",
		metric.WithDescription("Barge-in arbiter decisions."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackDuration, err = m.Float64Histogram("voxturn.playback.duration",
		metric.WithDescription("Duration of sentence playbacks by terminal event."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(playbackBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PlaybackFailures, err = m.Int64Counter("voxturn.playback.failures",
		metric.WithDescription("Sentences that could not be played."),
	); err != nil {
		return nil, err
	}
	if met.ReplySentences, err = m.Int64Counter("voxturn.reply.sentences",
		metric.WithDescription("Reply sentences by extraction path."),
	); err != nil {
		return nil, err
	}
	if met.ChannelSends, err = m.Int64Counter("voxturn.channel.sends",
		metric.WithDescription("Utterances offered to the backend channel by status."),
	); err != nil {
		return nil, err
	}
	if met.ChannelReconnects, err = m.Int64Counter("voxturn.channel.reconnects",
		metric.WithDescription("Backend reconnect attempts by status."),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("voxturn.channel.breaker.transitions",
		metric.WithDescription("Backend circuit breaker transitions by target state."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("voxturn.active_sessions",
		metric.WithDescription("Number of live call sessions."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("voxturn.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics], created on first use
// from [otel.GetMeterProvider]. Call it after [InitProvider].
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

func (m *Metrics) add(ctx context.Context, c metric.Int64Counter, key, value string) {
	c.Add(ctx, 1, metric.WithAttributes(attribute.String(key, value)))
}

// RecordUtterance counts one finalized utterance.
func (m *Metrics) RecordUtterance(ctx context.Context, outcome string) {
	m.add(ctx, m.Utterances, "outcome", outcome)
}

// RecordBargeInDecision counts one arbiter decision.
func (m *Metrics) RecordBargeInDecision(ctx context.Context, decision string) {
	m.add(ctx, m.BargeInDecisions, "decision", decision)
}

// RecordPlayback records a completed playback.
func (m *Metrics) RecordPlayback(ctx context.Context, event string, d time.Duration) {
	m.PlaybackDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("event", event)))
}

// RecordPlaybackFailure counts a sentence that was not played.
func (m *Metrics) RecordPlaybackFailure(ctx context.Context) {
	m.PlaybackFailures.Add(ctx, 1)
}

// RecordReplySentence counts a sentence extracted from a reply stream.
func (m *Metrics) RecordReplySentence(ctx context.Context, via string) {
	m.add(ctx, m.ReplySentences, "via", via)
}

// RecordChannelSend counts an utterance offered to the backend. status is
// one of "sent", "not_ready", "overflow" or "closed".
func (m *Metrics) RecordChannelSend(ctx context.Context, status string) {
	m.add(ctx, m.ChannelSends, "status", status)
}

// RecordReconnect counts a reconnect attempt. status is "ok", "failed" or
// "exhausted".
func (m *Metrics) RecordReconnect(ctx context.Context, status string) {
	m.add(ctx, m.ChannelReconnects, "status", status)
}

// RecordBreakerTransition counts a circuit breaker state change.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, state string) {
	m.add(ctx, m.BreakerTransitions, "state", state)
}

// SessionStarted increments the active sessions gauge.
func (m *Metrics) SessionStarted(ctx context.Context) { m.ActiveSessions.Add(ctx, 1) }

// SessionEnded decrements the active sessions gauge.
func (m *Metrics) SessionEnded(ctx context.Context) { m.ActiveSessions.Add(ctx, -1) }
