package observability

import (
	"context"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
)

type Observability struct {
	meterProvider *metric.MeterProvider
	meter         otelmetric.Meter
	cycleCounter  otelmetric.Int64Counter
	cycleDuration otelmetric.Float64Histogram
}

func New(serviceName string) *Observability {
	exporter, err := prometheus.New()
	if err != nil {
		log.Printf("Failed to create Prometheus exporter: %v", err)
		return &Observability{}
	}

	provider := metric.NewMeterProvider(metric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter(serviceName)

	cycleCounter, _ := meter.Int64Counter(
		"monitor.cycles",
		otelmetric.WithDescription("Number of monitor cycles executed"),
	)

	cycleDuration, _ := meter.Float64Histogram(
		"monitor.cycle_duration",
		otelmetric.WithDescription("Monitor cycle duration"),
		otelmetric.WithUnit("ms"),
	)

	return &Observability{
		meterProvider: provider,
		meter:         meter,
		cycleCounter:  cycleCounter,
		cycleDuration: cycleDuration,
	}
}

func (o *Observability) RecordCycle(ctx context.Context, monitor, status string) {
	if o.cycleCounter != nil {
		o.cycleCounter.Add(ctx, 1, otelmetric.WithAttributes(
			attribute.String("monitor", monitor),
			attribute.String("status", status),
		))
	}
}

func (o *Observability) RecordCycleDuration(ctx context.Context, monitor string, duration time.Duration) {
	if o.cycleDuration != nil {
		o.cycleDuration.Record(ctx, float64(duration.Milliseconds()), otelmetric.WithAttributes(
			attribute.String("monitor", monitor),
		))
	}
}

func (o *Observability) Shutdown() {
	if o.meterProvider != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		o.meterProvider.Shutdown(ctx)
	}
}
