package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "roundtable"

// StartRunSpan starts a span for a workflow run.
func StartRunSpan(ctx context.Context, runID, threadID, trigger string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "run",
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.String("thread.id", threadID),
			attribute.String("run.trigger", trigger),
		),
	)
}

// StartStepSpan starts a span for one workflow step within a run.
func StartStepSpan(ctx context.Context, runID, step string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "step",
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.String("step.name", step),
		),
	)
}

// StartSpecialistSpan starts a span for a specialist turn.
func StartSpecialistSpan(ctx context.Context, runID, agent string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "specialist",
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.String("agent.name", agent),
		),
	)
}
