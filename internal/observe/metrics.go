// Package observe wires the engine's observability together: OpenTelemetry
// metric instruments, trace helpers, and the HTTP middleware that stamps
// requests with both.
//
// Instruments are created through the OTel Metrics API and surface to
// Prometheus via the exporter bridge installed by [InitProvider]. Pipeline
// code records against a process-wide [Metrics] value from [DefaultMetrics];
// tests build their own with [NewMetrics] and a private meter provider so
// runs stay isolated.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope for every tandem instrument.
const meterName = "github.com/tandemvoice/tandem"

// latencyBuckets are the histogram boundaries, in seconds, shared by every
// duration instrument. They bracket the interesting range for a voice
// pipeline: tens of milliseconds for cache hits up to multi-second synthesis.
var latencyBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// Metrics bundles the engine's metric instruments. The OTel instrument types
// are concurrency-safe, so one value serves the whole process.
type Metrics struct {
	// Stage latencies.

	// TranslationDuration measures translation backend calls; cache hits are
	// not recorded.
	TranslationDuration metric.Float64Histogram
	// SynthesisDuration measures per-chunk speech synthesis.
	SynthesisDuration metric.Float64Histogram
	// TurnDuration measures a whole turn, utterance pickup to last chunk
	// spoken.
	TurnDuration metric.Float64Histogram
	// HTTPRequestDuration measures served requests by method and path.
	HTTPRequestDuration metric.Float64Histogram

	// Pipeline counters.

	// Turns counts completed turns by side.
	Turns metric.Int64Counter
	// CacheLookups counts translation cache lookups, hit or miss.
	CacheLookups metric.Int64Counter
	// Retries counts translation attempts beyond the first.
	Retries metric.Int64Counter
	// Fallbacks counts turns that spoke the original text untranslated.
	Fallbacks metric.Int64Counter
	// DiscardedSegments counts segments the filter dropped, by reason.
	DiscardedSegments metric.Int64Counter
	// StateTransitions counts controller state changes, by from/to pair.
	StateTransitions metric.Int64Counter
	// ProviderErrors counts backend failures by provider and kind.
	ProviderErrors metric.Int64Counter

	// Load gauges.

	// QueuedUtterances tracks utterances waiting on a busy pipeline.
	QueuedUtterances metric.Int64UpDownCounter
	// StatusSubscribers tracks connected status-feed clients.
	StatusSubscribers metric.Int64UpDownCounter
}

// instruments creates instruments against one meter, keeping the first error
// instead of forcing a check after every instrument.
type instruments struct {
	meter metric.Meter
	err   error
}

func (b *instruments) histogram(name, desc string) metric.Float64Histogram {
	h, err := b.meter.Float64Histogram(name,
		metric.WithDescription(desc),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	)
	if b.err == nil {
		b.err = err
	}
	return h
}

func (b *instruments) counter(name, desc string) metric.Int64Counter {
	c, err := b.meter.Int64Counter(name, metric.WithDescription(desc))
	if b.err == nil {
		b.err = err
	}
	return c
}

func (b *instruments) gauge(name, desc string) metric.Int64UpDownCounter {
	g, err := b.meter.Int64UpDownCounter(name, metric.WithDescription(desc))
	if b.err == nil {
		b.err = err
	}
	return g
}

// NewMetrics builds the full instrument set on the given provider.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	b := &instruments{meter: mp.Meter(meterName)}
	m := &Metrics{
		TranslationDuration: b.histogram("tandem.translation.duration", "Latency of translation backend calls."),
		SynthesisDuration:   b.histogram("tandem.synthesis.duration", "Latency of per-chunk speech synthesis."),
		TurnDuration:        b.histogram("tandem.turn.duration", "End-to-end turn latency from pickup to spoken."),
		HTTPRequestDuration: b.histogram("tandem.http.request.duration", "HTTP request latency by method and path."),

		Turns:             b.counter("tandem.turns", "Completed turns by side."),
		CacheLookups:      b.counter("tandem.translation.cache.lookups", "Translation cache lookups by result."),
		Retries:           b.counter("tandem.translation.retries", "Translation retry attempts beyond the first."),
		Fallbacks:         b.counter("tandem.translation.fallbacks", "Turns that passed original text through untranslated."),
		DiscardedSegments: b.counter("tandem.segments.discarded", "Segments dropped by the filter, by reason."),
		StateTransitions:  b.counter("tandem.state.transitions", "Turn controller state transitions."),
		ProviderErrors:    b.counter("tandem.provider.errors", "Provider errors by provider and kind."),

		QueuedUtterances:  b.gauge("tandem.queue.depth", "Utterances queued behind a busy pipeline."),
		StatusSubscribers: b.gauge("tandem.status.subscribers", "Connected status-feed clients."),
	}
	if b.err != nil {
		return nil, b.err
	}
	return m, nil
}

// DefaultMetrics returns the process-wide [Metrics], built on first use from
// the global meter provider.
var DefaultMetrics = sync.OnceValue(func() *Metrics {
	m, err := NewMetrics(otel.GetMeterProvider())
	if err != nil {
		// Instrument names are static and valid; neither the no-op nor the
		// SDK provider rejects them.
		panic("observe: default metrics: " + err.Error())
	}
	return m
})

// RecordTurn counts one completed turn for side.
func (m *Metrics) RecordTurn(ctx context.Context, side string) {
	m.Turns.Add(ctx, 1, metric.WithAttributes(attribute.String("side", side)))
}

// RecordCacheLookup counts one translation cache lookup.
func (m *Metrics) RecordCacheLookup(ctx context.Context, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordDiscard counts one segment dropped by the filter.
func (m *Metrics) RecordDiscard(ctx context.Context, reason string) {
	m.DiscardedSegments.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordStateTransition counts one controller state change.
func (m *Metrics) RecordStateTransition(ctx context.Context, from, to string) {
	m.StateTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

// RecordProviderError counts one backend failure.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("kind", kind),
	))
}
