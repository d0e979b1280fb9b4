package metrics

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// DeliveryRecorder emits the three delivery-pipeline instruments spec
// section 4.5 names explicitly: a counter of attempts by outcome and
// destination host, a duration histogram per host, and an observable
// gauge mirroring the breaker registry's snapshot. Built the same way
// the teacher's OTelExporter builds its queue/status/worker gauges: a
// Prometheus exporter registered as an OTel metric reader, so
// GET /metrics stays Prometheus-exposition-format while the
// instrumentation API is OTel's.
type DeliveryRecorder struct {
	meterProvider *sdkmetric.MeterProvider
	collector     Collector

	meter               metric.Meter
	deliveryTotal       metric.Int64Counter
	deliveryDuration    metric.Float64Histogram
	circuitBreakerGauge metric.Int64ObservableGauge
}

// NewDeliveryRecorder creates the recorder and registers its
// instruments. collector backs the circuit_breaker_status gauge's
// observable callback.
func NewDeliveryRecorder(collector Collector) (*DeliveryRecorder, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("creating prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(meterProvider)

	meter := meterProvider.Meter(
		"webhook-core",
		metric.WithInstrumentationVersion("1.0.0"),
	)

	r := &DeliveryRecorder{
		meterProvider: meterProvider,
		collector:     collector,
		meter:         meter,
	}

	if err := r.registerInstruments(); err != nil {
		return nil, fmt.Errorf("registering instruments: %w", err)
	}
	return r, nil
}

func (r *DeliveryRecorder) registerInstruments() error {
	var err error

	r.deliveryTotal, err = r.meter.Int64Counter(
		"webhook_delivery_total",
		metric.WithDescription("Delivery attempts by outcome and destination host"),
		metric.WithUnit("{attempts}"),
	)
	if err != nil {
		return fmt.Errorf("creating webhook_delivery_total counter: %w", err)
	}

	r.deliveryDuration, err = r.meter.Float64Histogram(
		"webhook_delivery_seconds",
		metric.WithDescription("Delivery attempt duration by destination host"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("creating webhook_delivery_seconds histogram: %w", err)
	}

	r.circuitBreakerGauge, err = r.meter.Int64ObservableGauge(
		"circuit_breaker_status",
		metric.WithDescription("Circuit breaker state per destination host (0=closed, 1=half_open, 2=open)"),
		metric.WithInt64Callback(r.observeCircuitBreakers),
	)
	if err != nil {
		return fmt.Errorf("creating circuit_breaker_status gauge: %w", err)
	}

	return nil
}

// RecordDelivery records one completed delivery attempt. Called from
// tasks.DeliveryTask once Client.Deliver returns, never from the
// delivery client itself — the recorder is a cross-cutting concern the
// orchestrator owns, not something deliveryclient.Client depends on.
func (r *DeliveryRecorder) RecordDelivery(ctx context.Context, outcome, host string, durationSeconds float64) {
	attrs := metric.WithAttributes(
		attribute.String("status", outcome),
		attribute.String("host", host),
	)
	r.deliveryTotal.Add(ctx, 1, attrs)
	r.deliveryDuration.Record(ctx, durationSeconds, attrs)
}

func (r *DeliveryRecorder) observeCircuitBreakers(ctx context.Context, observer metric.Int64Observer) error {
	for _, snap := range r.collector.GetOpenBreakers() {
		observer.Observe(breakerStateValue(snap.State), metric.WithAttributes(
			attribute.String("host", snap.Host),
		))
	}
	return nil
}

func breakerStateValue(state string) int64 {
	switch state {
	case "half_open":
		return 1
	case "open":
		return 2
	default:
		return 0
	}
}

// ServeHTTP serves Prometheus-formatted metrics for GET /metrics.
func (r *DeliveryRecorder) ServeHTTP() http.Handler {
	return promhttp.Handler()
}

// Shutdown gracefully flushes and stops the meter provider.
func (r *DeliveryRecorder) Shutdown(ctx context.Context) error {
	if r.meterProvider != nil {
		return r.meterProvider.Shutdown(ctx)
	}
	return nil
}
