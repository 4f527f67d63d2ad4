package tracing

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys set on dispatch spans.
const (
	AttrTarget     = attribute.Key("rpsgen.target")
	AttrHostHeader = attribute.Key("rpsgen.host_header")
	AttrOutcome    = attribute.Key("rpsgen.outcome")
)

// StartDispatchSpan starts a client span for one GET against a Target.
func StartDispatchSpan(ctx context.Context, tracer trace.Tracer, target, url, host string) (context.Context, trace.Span) {
	spanName := http.MethodGet
	if target != "" {
		spanName = http.MethodGet + " " + target
	}
	ctx, span := tracer.Start(ctx, spanName,
		trace.WithSpanKind(trace.SpanKindClient),
	)
	span.SetAttributes(
		attribute.String("http.request.method", http.MethodGet),
		attribute.String("url.full", url),
	)
	if target != "" {
		span.SetAttributes(AttrTarget.String(target))
	}
	if host != "" {
		span.SetAttributes(AttrHostHeader.String(host))
	}
	return ctx, span
}

// EndSpan finishes a span, recording error status if applicable.
func EndSpan(span trace.Span, err error, attrs ...attribute.KeyValue) {
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// InjectHTTPHeaders injects W3C trace context into HTTP headers.
func InjectHTTPHeaders(ctx context.Context, headers http.Header) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(headers))
}
