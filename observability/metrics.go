package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Instrument names recorded by RuntimeMetrics.
const (
	MetricRetryAttempts   = "retry.attempts"
	MetricRetryExhausted  = "retry.exhausted"
	MetricGateAdmitted    = "gate.admitted"
	MetricGateRejected    = "gate.rejected"
	MetricGateInFlight    = "gate.inflight"
	MetricGateQueued      = "gate.queued"
	MetricSSEFrames       = "sse.frames"
	MetricSSEDecodeErrors = "sse.decode_errors"
	MetricRequestTotal    = "request.total"
	MetricRequestDuration = "request.duration"
)

// RuntimeMetrics holds the instruments shared by the retry engine, the dispatch
// gate, the frame decoder and the HTTP client. All methods are no-ops on a nil
// receiver, so components can take an optional *RuntimeMetrics.
type RuntimeMetrics struct {
	retryAttempts   metric.Int64Counter
	retryExhausted  metric.Int64Counter
	gateAdmitted    metric.Int64Counter
	gateRejected    metric.Int64Counter
	gateInFlight    metric.Int64UpDownCounter
	gateQueued      metric.Int64UpDownCounter
	sseFrames       metric.Int64Counter
	sseDecodeErrors metric.Int64Counter
	requestTotal    metric.Int64Counter
	requestDuration metric.Float64Histogram
}

// NewRuntimeMetrics creates metric instruments on the given meter.
func NewRuntimeMetrics(meter metric.Meter) (*RuntimeMetrics, error) {
	m := &RuntimeMetrics{}
	var err error

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.retryAttempts, MetricRetryAttempts, "Retries scheduled after a failed attempt"},
		{&m.retryExhausted, MetricRetryExhausted, "Operations that failed after the last allowed attempt"},
		{&m.gateAdmitted, MetricGateAdmitted, "Submissions admitted by the dispatch gate"},
		{&m.gateRejected, MetricGateRejected, "Submissions rejected by the dispatch gate"},
		{&m.sseFrames, MetricSSEFrames, "Frames produced by the stream decoder"},
		{&m.sseDecodeErrors, MetricSSEDecodeErrors, "Stream lines dropped because they could not be decoded"},
		{&m.requestTotal, MetricRequestTotal, "Total number of HTTP requests"},
	}
	for _, c := range counters {
		*c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, fmt.Errorf("creating %s counter: %w", c.name, err)
		}
	}

	m.gateInFlight, err = meter.Int64UpDownCounter(MetricGateInFlight,
		metric.WithDescription("Operations currently running inside the dispatch gate"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating %s gauge: %w", MetricGateInFlight, err)
	}

	m.gateQueued, err = meter.Int64UpDownCounter(MetricGateQueued,
		metric.WithDescription("Submissions waiting for a dispatch gate slot"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating %s gauge: %w", MetricGateQueued, err)
	}

	m.requestDuration, err = meter.Float64Histogram(MetricRequestDuration,
		metric.WithDescription("Duration of HTTP requests in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating %s histogram: %w", MetricRequestDuration, err)
	}

	return m, nil
}

// RecordRetry records a scheduled retry.
func (m *RuntimeMetrics) RecordRetry(ctx context.Context, attempt int, code string) {
	if m == nil {
		return
	}
	m.retryAttempts.Add(ctx, 1, metric.WithAttributes(
		attribute.Int("attempt", attempt),
		attribute.String("code", code),
	))
}

// RecordRetryExhausted records an operation that ran out of attempts.
func (m *RuntimeMetrics) RecordRetryExhausted(ctx context.Context, code string) {
	if m == nil {
		return
	}
	m.retryExhausted.Add(ctx, 1, metric.WithAttributes(attribute.String("code", code)))
}

// RecordGateAdmitted records an admission and the resulting in-flight increase.
func (m *RuntimeMetrics) RecordGateAdmitted(ctx context.Context, gate string) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("gate", gate))
	m.gateAdmitted.Add(ctx, 1, attrs)
	m.gateInFlight.Add(ctx, 1, attrs)
}

// RecordGateReleased records an operation leaving the gate.
func (m *RuntimeMetrics) RecordGateReleased(ctx context.Context, gate string) {
	if m == nil {
		return
	}
	m.gateInFlight.Add(ctx, -1, metric.WithAttributes(attribute.String("gate", gate)))
}

// RecordGateRejected records a rejected submission with its reason.
func (m *RuntimeMetrics) RecordGateRejected(ctx context.Context, gate, reason string) {
	if m == nil {
		return
	}
	m.gateRejected.Add(ctx, 1, metric.WithAttributes(
		attribute.String("gate", gate),
		attribute.String("reason", reason),
	))
}

// RecordGateQueued adjusts the queued gauge by delta.
func (m *RuntimeMetrics) RecordGateQueued(ctx context.Context, gate string, delta int64) {
	if m == nil {
		return
	}
	m.gateQueued.Add(ctx, delta, metric.WithAttributes(attribute.String("gate", gate)))
}

// RecordFrames records n decoded frames.
func (m *RuntimeMetrics) RecordFrames(ctx context.Context, n int) {
	if m == nil || n == 0 {
		return
	}
	m.sseFrames.Add(ctx, int64(n))
}

// RecordDecodeError records a dropped stream line.
func (m *RuntimeMetrics) RecordDecodeError(ctx context.Context) {
	if m == nil {
		return
	}
	m.sseDecodeErrors.Add(ctx, 1)
}

// RecordRequest records a completed HTTP request.
func (m *RuntimeMetrics) RecordRequest(ctx context.Context, method, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.requestTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("status", status),
	))
	m.requestDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("method", method),
	))
}
