// Package telemetry wraps session and RPC operations with OpenTelemetry
// spans and counters: call duration/count on every RPC call, and a counter
// of statement outcomes by status, trimmed down from a generic
// interceptor's server+client metric set to the handful of operations
// SPEC_FULL names.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry holds the tracer and instruments used across one session
// manager instance.
type Telemetry struct {
	tracer trace.Tracer

	callCount    metric.Int64Counter
	callDuration metric.Float64Histogram
	stmtCount    metric.Int64Counter
}

// New creates a Telemetry instance using the global OpenTelemetry providers.
// scope names the tracer/meter (typically the module path).
func New(scope string) (*Telemetry, error) {
	meter := otel.Meter(scope)

	callCount, err := meter.Int64Counter("rsc.rpc.call.count",
		metric.WithDescription("number of RPC calls issued to the remote driver"))
	if err != nil {
		return nil, err
	}
	callDuration, err := meter.Float64Histogram("rsc.rpc.call.duration_ms",
		metric.WithDescription("RPC call latency in milliseconds"))
	if err != nil {
		return nil, err
	}
	stmtCount, err := meter.Int64Counter("rsc.session.statement.count",
		metric.WithDescription("number of statements executed, by outcome status"))
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		tracer:       otel.Tracer(scope),
		callCount:    callCount,
		callDuration: callDuration,
		stmtCount:    stmtCount,
	}, nil
}

// StartCall opens a span for one RPC call and returns a function that ends
// it and records the call's duration and outcome. Call the returned
// function exactly once, passing the call's error (nil on success).
func (t *Telemetry) StartCall(ctx context.Context, method string) (context.Context, func(err error)) {
	if t == nil {
		return ctx, func(error) {}
	}
	ctx, span := t.tracer.Start(ctx, "rsc.rpc.call",
		trace.WithAttributes(attribute.String("rsc.method", method)))
	start := time.Now()

	return ctx, func(err error) {
		attrs := []attribute.KeyValue{attribute.String("rsc.method", method)}
		if err != nil {
			attrs = append(attrs, attribute.Bool("rsc.error", true))
			span.RecordError(err)
		}
		t.callCount.Add(ctx, 1, metric.WithAttributes(attrs...))
		t.callDuration.Record(ctx, float64(time.Since(start).Microseconds())/1000.0, metric.WithAttributes(attrs...))
		span.End()
	}
}

// RecordStatement increments the statement outcome counter for one
// completed statement.
func (t *Telemetry) RecordStatement(ctx context.Context, status string) {
	if t == nil {
		return
	}
	t.stmtCount.Add(ctx, 1, metric.WithAttributes(attribute.String("rsc.status", status)))
}
