package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "eventforge"

// StartRunSpan starts a span for one extraction run.
func StartRunSpan(ctx context.Context, taskID, strategy, provider string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "extraction.run",
		trace.WithAttributes(
			attribute.String("task.id", taskID),
			attribute.String("extraction.strategy", strategy),
			attribute.String("llm.provider", provider),
		),
	)
}

// StartFetchSpan starts a span for a page fetch.
func StartFetchSpan(ctx context.Context, url string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "page.fetch",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("url.full", url)),
	)
}

// StartBackendSpan starts a span for a text backend call.
func StartBackendSpan(ctx context.Context, provider string, messages int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "llm.complete",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("llm.provider", provider),
			attribute.Int("llm.messages", messages),
		),
	)
}

// EndSpan records err on span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
