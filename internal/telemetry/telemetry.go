package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry holds all telemetry instruments and providers. A nil *Telemetry is
// valid and records nothing, which keeps tests and disabled setups simple.
type Telemetry struct {
	meterProvider  *sdkmetric.MeterProvider
	tracerProvider *sdktrace.TracerProvider
	tracer         trace.Tracer
	meter          metric.Meter
	exporter       *prometheus.Exporter

	// RED Metrics (Rate, Errors, Duration)
	httpRequestsTotal    metric.Int64Counter
	httpRequestDuration  metric.Float64Histogram
	httpRequestsInFlight metric.Int64UpDownCounter

	// Sync engine
	passesTotal           metric.Int64Counter
	passDuration          metric.Float64Histogram
	admissionsTotal       metric.Int64Counter
	transfersTotal        metric.Int64Counter
	transfersActive       metric.Int64UpDownCounter
	transferBytes         metric.Int64Counter
	remoteOperationsTotal metric.Int64Counter
	pendingTransfers      metric.Int64Gauge
	droppedEvents         metric.Int64Counter

	// Store
	dbOperationsTotal   metric.Int64Counter
	dbOperationDuration metric.Float64Histogram
}

// Config holds telemetry configuration.
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	OTLPEndpoint   string
}

// New creates a new telemetry instance. When disabled it returns nil.
func New(ctx context.Context, cfg Config) (*Telemetry, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	opts := []sdkmetric.Option{sdkmetric.WithReader(exporter)}

	if cfg.OTLPEndpoint != "" {
		otlp, err := otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlpmetricgrpc.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create otlp exporter: %w", err)
		}

		opts = append(opts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(otlp)))
	}

	meterProvider := sdkmetric.NewMeterProvider(opts...)
	tracerProvider := sdktrace.NewTracerProvider()

	otel.SetMeterProvider(meterProvider)
	otel.SetTracerProvider(tracerProvider)

	if err := runtime.Start(runtime.WithMeterProvider(meterProvider)); err != nil {
		return nil, fmt.Errorf("failed to start runtime metrics: %w", err)
	}

	t := &Telemetry{
		meterProvider:  meterProvider,
		tracerProvider: tracerProvider,
		tracer:         tracerProvider.Tracer(cfg.ServiceName),
		meter:          meterProvider.Meter(cfg.ServiceName),
		exporter:       exporter,
	}

	if err := t.initializeMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	return t, nil
}

// Tracer returns the OpenTelemetry tracer.
func (t *Telemetry) Tracer() trace.Tracer {
	if t == nil {
		return nil
	}

	return t.tracer
}

// RecordHTTPRequest records HTTP request metrics.
func (t *Telemetry) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if t == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.String("status", status),
	)

	t.httpRequestsTotal.Add(context.Background(), 1, attrs)
	t.httpRequestDuration.Record(context.Background(), duration.Seconds(), attrs)
}

// IncrementHTTPInFlight increments in-flight HTTP requests.
func (t *Telemetry) IncrementHTTPInFlight() {
	if t != nil {
		t.httpRequestsInFlight.Add(context.Background(), 1)
	}
}

// DecrementHTTPInFlight decrements in-flight HTTP requests.
func (t *Telemetry) DecrementHTTPInFlight() {
	if t != nil {
		t.httpRequestsInFlight.Add(context.Background(), -1)
	}
}

// RecordPass records the outcome of one orchestration pass.
func (t *Telemetry) RecordPass(task, outcome string, duration time.Duration) {
	if t == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("task", task),
		attribute.String("outcome", outcome),
	)

	t.passesTotal.Add(context.Background(), 1, attrs)
	t.passDuration.Record(context.Background(), duration.Seconds(), attrs)
}

// RecordAdmission counts a record moved from a wait state into an active one.
func (t *Telemetry) RecordAdmission(direction string) {
	if t != nil {
		t.admissionsTotal.Add(context.Background(), 1, metric.WithAttributes(attribute.String("direction", direction)))
	}
}

// RecordTransfer records a terminal transfer result.
func (t *Telemetry) RecordTransfer(direction, status string) {
	if t == nil {
		return
	}

	t.transfersTotal.Add(context.Background(), 1,
		metric.WithAttributes(
			attribute.String("direction", direction),
			attribute.String("status", status),
		),
	)
}

// RecordTransferBytes adds transferred bytes for a direction.
func (t *Telemetry) RecordTransferBytes(direction string, n int64) {
	if t != nil && n > 0 {
		t.transferBytes.Add(context.Background(), n, metric.WithAttributes(attribute.String("direction", direction)))
	}
}

// IncrementActiveTransfers increments the active transfers counter.
func (t *Telemetry) IncrementActiveTransfers(direction string) {
	if t != nil {
		t.transfersActive.Add(context.Background(), 1, metric.WithAttributes(attribute.String("direction", direction)))
	}
}

// DecrementActiveTransfers decrements the active transfers counter.
func (t *Telemetry) DecrementActiveTransfers(direction string) {
	if t != nil {
		t.transfersActive.Add(context.Background(), -1, metric.WithAttributes(attribute.String("direction", direction)))
	}
}

// RecordRemoteOperation records a call against the remote file host.
func (t *Telemetry) RecordRemoteOperation(operation, status string) {
	if t == nil {
		return
	}

	t.remoteOperationsTotal.Add(context.Background(), 1,
		metric.WithAttributes(
			attribute.String("operation", operation),
			attribute.String("status", status),
		),
	)
}

// SetPending publishes the badge count.
func (t *Telemetry) SetPending(n int64) {
	if t != nil {
		t.pendingTransfers.Record(context.Background(), n)
	}
}

// RecordDroppedEvent counts a notification the reporter could not queue.
func (t *Telemetry) RecordDroppedEvent() {
	if t != nil {
		t.droppedEvents.Add(context.Background(), 1)
	}
}

// RecordDBOperation records database operation metrics.
func (t *Telemetry) RecordDBOperation(operation, status string, duration time.Duration) {
	if t == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("status", status),
	)

	t.dbOperationsTotal.Add(context.Background(), 1, attrs)
	t.dbOperationDuration.Record(context.Background(), duration.Seconds(), attrs)
}

// Handler returns the HTTP handler for the metrics endpoint.
func (t *Telemetry) Handler() http.Handler {
	if t == nil || t.exporter == nil {
		return http.NotFoundHandler()
	}

	return promhttp.Handler()
}

// Shutdown flushes and stops the providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}

	return errors.Join(t.meterProvider.Shutdown(ctx), t.tracerProvider.Shutdown(ctx))
}

func (t *Telemetry) initializeMetrics() error {
	var err error

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&t.httpRequestsTotal, "http_requests_total", "Total number of HTTP requests"},
		{&t.passesTotal, "passes_total", "Total number of orchestration passes"},
		{&t.admissionsTotal, "admissions_total", "Records admitted into an active status"},
		{&t.transfersTotal, "transfers_total", "Terminal transfer results"},
		{&t.transferBytes, "transfer_bytes_total", "Bytes moved by transfers"},
		{&t.remoteOperationsTotal, "remote_operations_total", "Calls against the remote file host"},
		{&t.droppedEvents, "notifier_dropped_events_total", "Events dropped because the reporter queue was full"},
		{&t.dbOperationsTotal, "db_operations_total", "Total number of database operations"},
	}

	for _, c := range counters {
		*c.dst, err = t.meter.Int64Counter(c.name, metric.WithDescription(c.desc), metric.WithUnit("1"))
		if err != nil {
			return fmt.Errorf("failed to create %s counter: %w", c.name, err)
		}
	}

	histograms := []struct {
		dst  *metric.Float64Histogram
		name string
		desc string
	}{
		{&t.httpRequestDuration, "http_request_duration_seconds", "HTTP request duration in seconds"},
		{&t.passDuration, "pass_duration_seconds", "Orchestration pass duration in seconds"},
		{&t.dbOperationDuration, "db_operation_duration_seconds", "Database operation duration in seconds"},
	}

	for _, h := range histograms {
		*h.dst, err = t.meter.Float64Histogram(h.name, metric.WithDescription(h.desc), metric.WithUnit("s"))
		if err != nil {
			return fmt.Errorf("failed to create %s histogram: %w", h.name, err)
		}
	}

	t.httpRequestsInFlight, err = t.meter.Int64UpDownCounter(
		"http_requests_in_flight",
		metric.WithDescription("Number of HTTP requests currently being processed"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create http_requests_in_flight counter: %w", err)
	}

	t.transfersActive, err = t.meter.Int64UpDownCounter(
		"transfers_active",
		metric.WithDescription("Number of transfers currently running"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create transfers_active counter: %w", err)
	}

	t.pendingTransfers, err = t.meter.Int64Gauge(
		"pending_transfers",
		metric.WithDescription("Records in a wait or active status"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create pending_transfers gauge: %w", err)
	}

	return nil
}
