// Package observe provides observability primitives for the bot: OpenTelemetry
// metrics with a Prometheus exporter bridge so the standard /metrics endpoint
// keeps working.
//
// A package-level default [Metrics] instance ([DefaultMetrics]) is provided
// for convenience; tests should use [NewMetrics] with a custom
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all bot metrics.
const meterName = "github.com/shaike1/vexai-msteams"

// Metrics holds all OpenTelemetry metric instruments for the bot. All fields
// are safe for concurrent use; the underlying OTel types handle their own
// synchronisation.
type Metrics struct {
	// AudioFrames counts audio frame submissions. Use with attribute:
	//   attribute.String("outcome", "sent"|"dropped"|"failed")
	AudioFrames metric.Int64Counter

	// AudioBytesSent counts PCM bytes delivered to the backend.
	AudioBytesSent metric.Int64Counter

	// RelayConnectAttempts counts backend connection attempts, successful
	// or not. With an unbounded retry loop this is the reconnect-rate signal.
	RelayConnectAttempts metric.Int64Counter

	// HandshakeDuration tracks connect-to-SERVER_READY latency.
	HandshakeDuration metric.Float64Histogram

	// SpeakerEvents counts emitted speaker transitions. Use with attribute:
	//   attribute.String("event_type", "SPEAKER_START"|"SPEAKER_END")
	SpeakerEvents metric.Int64Counter

	// ParticipantsObserved tracks the number of live participant records.
	ParticipantsObserved metric.Int64UpDownCounter

	// SessionTerminations counts session endings. Use with attribute:
	//   attribute.String("reason", ...)
	SessionTerminations metric.Int64Counter
}

// handshakeBuckets defines histogram bucket boundaries (in seconds) sized for
// backend warm-up times.
var handshakeBuckets = []float64{
	0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.AudioFrames, err = m.Int64Counter("vexai.audio.frames",
		metric.WithDescription("Audio frame submissions by outcome."),
	); err != nil {
		return nil, err
	}
	if met.AudioBytesSent, err = m.Int64Counter("vexai.audio.bytes_sent",
		metric.WithDescription("PCM bytes delivered to the transcription backend."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.RelayConnectAttempts, err = m.Int64Counter("vexai.relay.connect_attempts",
		metric.WithDescription("Backend connection attempts, successful or not."),
	); err != nil {
		return nil, err
	}
	if met.HandshakeDuration, err = m.Float64Histogram("vexai.relay.handshake.duration",
		metric.WithDescription("Time from transport connect to SERVER_READY."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(handshakeBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SpeakerEvents, err = m.Int64Counter("vexai.speaker.events",
		metric.WithDescription("Emitted speaker transitions by event type."),
	); err != nil {
		return nil, err
	}
	if met.ParticipantsObserved, err = m.Int64UpDownCounter("vexai.participants.observed",
		metric.WithDescription("Live participant records under observation."),
	); err != nil {
		return nil, err
	}
	if met.SessionTerminations, err = m.Int64Counter("vexai.session.terminations",
		metric.WithDescription("Session endings by reason."),
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
			panic("observe: create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}
