package saga

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/utafrali/ordersaga/pkg/saga"

type spanKey struct{}

// TracingObserver wraps each saga execution in an OpenTelemetry span. Steps
// and compensations are recorded as span events, and remote calls made by
// the steps become children of the saga span.
type TracingObserver struct {
	NopObserver
	tracer trace.Tracer
}

// NewTracingObserver returns an observer using the global tracer provider.
func NewTracingObserver() *TracingObserver {
	return &TracingObserver{tracer: otel.Tracer(tracerName)}
}

func (o *TracingObserver) SagaStarted(ctx context.Context, ev Event) context.Context {
	ctx, span := o.tracer.Start(ctx, "saga."+ev.Saga,
		trace.WithAttributes(
			attribute.String("saga.name", ev.Saga),
			attribute.String("saga.correlation_id", ev.CorrelationID),
		),
	)
	return context.WithValue(ctx, spanKey{}, span)
}

func (o *TracingObserver) StepSucceeded(ctx context.Context, ev Event) {
	o.event(ctx, "step.succeeded", ev)
}

func (o *TracingObserver) StepFailed(ctx context.Context, ev Event) {
	o.event(ctx, "step.failed", ev)
}

func (o *TracingObserver) CompensationSucceeded(ctx context.Context, ev Event) {
	o.event(ctx, "compensation.succeeded", ev)
}

func (o *TracingObserver) CompensationFailed(ctx context.Context, ev Event) {
	o.event(ctx, "compensation.failed", ev)
}

func (o *TracingObserver) SagaFinished(ctx context.Context, ev Event) {
	span, ok := ctx.Value(spanKey{}).(trace.Span)
	if !ok {
		return
	}
	if ev.Err != nil {
		span.RecordError(ev.Err)
		span.SetStatus(codes.Error, ev.Err.Error())
		span.SetAttributes(attribute.String("saga.failed_step", ev.Step))
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

func (o *TracingObserver) event(ctx context.Context, name string, ev Event) {
	span, ok := ctx.Value(spanKey{}).(trace.Span)
	if !ok {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("saga.step", ev.Step),
		attribute.Int64("saga.step.duration_ms", ev.Duration.Milliseconds()),
	}
	if ev.Err != nil {
		attrs = append(attrs, attribute.String("error", ev.Err.Error()))
	}
	span.AddEvent(name, trace.WithAttributes(attrs...))
}
