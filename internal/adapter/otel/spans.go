package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "argus"

// StartOrchestrationSpan starts a span for a whole orchestration.
func StartOrchestrationSpan(ctx context.Context, sessionID, project string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "orchestration",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.String("project.name", project),
		),
	)
}

// StartPhaseSpan starts a span for one phase attempt.
func StartPhaseSpan(ctx context.Context, phase string, attempt int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "phase",
		trace.WithAttributes(
			attribute.String("phase.name", phase),
			attribute.Int("phase.attempt", attempt),
		),
	)
}

// StartGatewaySpan starts a span for one gateway invocation.
func StartGatewaySpan(ctx context.Context, agentName, provider, model string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "gateway.invoke",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("agent.name", agentName),
			attribute.String("provider.name", provider),
			attribute.String("provider.model", model),
		),
	)
}

// EndSpan records err (if any) on span and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
