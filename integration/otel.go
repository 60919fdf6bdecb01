package integration

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/chainworks/steward/outcome"
)

// scopeName is the instrumentation scope for steward telemetry.
const scopeName = "github.com/chainworks/steward"

// Tracing returns middleware that wraps each provider attempt in an
// OpenTelemetry span. If no TracerProvider is configured globally, the
// noop tracer is used and this middleware is a pass-through.
//
// Span attributes: steward.capability, steward.instance_id,
// steward.step. On a non-success outcome the span status is set to
// codes.Error with the outcome code.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(scopeName))
}

// TracingWithTracer returns tracing middleware using the provided
// tracer, for injecting a specific TracerProvider in tests.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, call *Call, next Handler) (*outcome.Outcome, error) {
		ctx, span := tracer.Start(ctx, "steward.integration.invoke",
			trace.WithAttributes(
				attribute.String("steward.capability", call.Capability),
				attribute.String("steward.instance_id", call.InstanceID.String()),
				attribute.String("steward.step", call.StepName),
			),
			trace.WithSpanKind(trace.SpanKindClient),
		)
		defer span.End()

		out, err := next(ctx)
		switch {
		case err != nil:
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		case out.Class != outcome.Success:
			span.SetStatus(codes.Error, out.Code)
		default:
			span.SetStatus(codes.Ok, "")
		}

		return out, err
	}
}

// Metrics returns middleware that records per-attempt metrics using the
// global OTel MeterProvider. With no MeterProvider configured, noop
// instruments are used.
//
// Instruments:
//   - steward.call.duration (Float64Histogram): attempt time in
//     seconds, attributes: capability, class
//   - steward.call.attempts (Int64Counter): total attempts,
//     attributes: capability, class
func Metrics() Middleware {
	return MetricsWithMeter(otel.Meter(scopeName))
}

// MetricsWithMeter returns metrics middleware using the provided meter.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// Instruments are created once; the OTel API guarantees noop
	// fallbacks on error so the middleware degrades gracefully.
	duration, dErr := meter.Float64Histogram(
		"steward.call.duration",
		metric.WithDescription("Duration of one provider attempt in seconds"),
		metric.WithUnit("s"),
	)
	_ = dErr

	attempts, aErr := meter.Int64Counter(
		"steward.call.attempts",
		metric.WithDescription("Total number of provider attempts"),
		metric.WithUnit("{attempt}"),
	)
	_ = aErr

	return func(ctx context.Context, call *Call, next Handler) (*outcome.Outcome, error) {
		start := time.Now()
		out, err := next(ctx)
		elapsed := time.Since(start).Seconds()

		class := "error"
		if err == nil {
			class = string(out.Class)
		}

		attrs := metric.WithAttributes(
			attribute.String("capability", call.Capability),
			attribute.String("class", class),
		)

		duration.Record(ctx, elapsed, attrs)
		attempts.Add(ctx, 1, attrs)

		return out, err
	}
}
