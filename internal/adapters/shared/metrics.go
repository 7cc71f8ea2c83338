package shared

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "venuelink/connector"

type sessionMetrics struct {
	attrs metric.MeasurementOption

	connects      metric.Int64Counter
	reconnects    metric.Int64Counter
	authFailures  metric.Int64Counter
	framesDropped metric.Int64Counter
	eventsEmitted metric.Int64Counter
}

func newSessionMetrics(provider metric.MeterProvider, exchange string) *sessionMetrics {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter(meterName)
	sm := &sessionMetrics{
		attrs: metric.WithAttributes(attribute.String("exchange", exchange)),
	}
	sm.connects, _ = meter.Int64Counter("venuelink_session_connects",
		metric.WithDescription("Successful websocket connection attempts"),
		metric.WithUnit("{connect}"))
	sm.reconnects, _ = meter.Int64Counter("venuelink_session_reconnects",
		metric.WithDescription("Reconnection attempts scheduled after abnormal closure"),
		metric.WithUnit("{reconnect}"))
	sm.authFailures, _ = meter.Int64Counter("venuelink_session_auth_failures",
		metric.WithDescription("Authentication frames rejected by the exchange"),
		metric.WithUnit("{failure}"))
	sm.framesDropped, _ = meter.Int64Counter("venuelink_session_frames_dropped",
		metric.WithDescription("Inbound frames dropped as unknown or unmappable"),
		metric.WithUnit("{frame}"))
	sm.eventsEmitted, _ = meter.Int64Counter("venuelink_session_events_emitted",
		metric.WithDescription("Canonical events delivered to the caller"),
		metric.WithUnit("{event}"))
	return sm
}

func (sm *sessionMetrics) add(ctx context.Context, counter metric.Int64Counter, n int64) {
	if sm == nil || counter == nil || n == 0 {
		return
	}
	counter.Add(ctx, n, sm.attrs)
}

type restMetrics struct {
	exchange string
	latency  metric.Float64Histogram
	failures metric.Int64Counter
}

func newRestMetrics(provider metric.MeterProvider, exchange string) *restMetrics {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter(meterName)
	rm := &restMetrics{exchange: exchange}
	rm.latency, _ = meter.Float64Histogram("venuelink_rest_request_latency",
		metric.WithDescription("Latency of signed REST requests"),
		metric.WithUnit("ms"))
	rm.failures, _ = meter.Int64Counter("venuelink_rest_request_failures",
		metric.WithDescription("Signed REST requests that returned an error"),
		metric.WithUnit("{request}"))
	return rm
}

func (rm *restMetrics) observe(ctx context.Context, action string, started time.Time, err error) {
	if rm == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("exchange", rm.exchange),
		attribute.String("action", action),
	)
	if rm.latency != nil {
		rm.latency.Record(ctx, float64(time.Since(started).Microseconds())/1000, attrs)
	}
	if err != nil && rm.failures != nil {
		rm.failures.Add(ctx, 1, attrs)
	}
}
