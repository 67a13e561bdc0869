// Package observe provides application-wide observability primitives:
// OpenTelemetry metric instruments and the Prometheus-bridged meter
// provider behind them.
//
// A package-level default [Metrics] instance ([DefaultMetrics]) is provided
// for convenience; tests should use [NewMetrics] with a custom
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/kisaragi-dev/yomivox"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// SynthesisDuration tracks speech synthesis latency.
	SynthesisDuration metric.Float64Histogram

	// PlaybackDuration tracks clip playback time.
	PlaybackDuration metric.Float64Histogram

	// MessagesRead counts chat messages turned into speech requests. Use
	// with attribute.String("guild_id", ...).
	MessagesRead metric.Int64Counter

	// DroppedRequests counts requests dropped by queue overflow.
	DroppedRequests metric.Int64Counter

	// SynthesisErrors counts failed synthesis requests.
	SynthesisErrors metric.Int64Counter

	// ActiveSessions tracks the number of connected voice sessions.
	ActiveSessions metric.Int64UpDownCounter

	// QueueDepth tracks queued requests across all sessions.
	QueueDepth metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// synthesis and playback latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.SynthesisDuration, err = m.Float64Histogram("yomivox.synthesis.duration",
		metric.WithDescription("Latency of speech synthesis requests."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PlaybackDuration, err = m.Float64Histogram("yomivox.playback.duration",
		metric.WithDescription("Duration of clip playback."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.MessagesRead, err = m.Int64Counter("yomivox.messages.read",
		metric.WithDescription("Chat messages turned into speech requests, by guild."),
	); err != nil {
		return nil, err
	}
	if met.DroppedRequests, err = m.Int64Counter("yomivox.requests.dropped",
		metric.WithDescription("Requests dropped by queue overflow, by guild."),
	); err != nil {
		return nil, err
	}
	if met.SynthesisErrors, err = m.Int64Counter("yomivox.synthesis.errors",
		metric.WithDescription("Failed synthesis requests, by guild."),
	); err != nil {
		return nil, err
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("yomivox.sessions.active",
		metric.WithDescription("Number of connected voice sessions."),
	); err != nil {
		return nil, err
	}
	if met.QueueDepth, err = m.Int64UpDownCounter("yomivox.queue.depth",
		metric.WithDescription("Queued speech requests across all sessions."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it
// on first call from the global meter provider. Subsequent calls return the
// same pointer. Panics if instrument creation fails (does not happen with
// the global provider).
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

// GuildAttr is the standard per-guild measurement attribute.
func GuildAttr(guildID string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("guild_id", guildID))
}

// RecordSynthesisError increments the synthesis error counter for a guild.
func (m *Metrics) RecordSynthesisError(ctx context.Context, guildID string) {
	m.SynthesisErrors.Add(ctx, 1, GuildAttr(guildID))
}

// RecordDropped increments the dropped-request counter for a guild.
func (m *Metrics) RecordDropped(ctx context.Context, guildID string) {
	m.DroppedRequests.Add(ctx, 1, GuildAttr(guildID))
}
