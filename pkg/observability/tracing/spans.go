// Package tracing wires OpenTelemetry: the OTLP tracer provider and the spans
// opened around document store and query cache calls.
package tracing

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentation = "github.com/nimburion/docops"

// Kind names a traced call. It prefixes the span name and is recorded as
// the operation attribute.
type Kind string

const (
	DocumentRead   Kind = "document.read"
	DocumentCreate Kind = "document.create"
	DocumentSet    Kind = "document.set"
	DocumentUpdate Kind = "document.update"
	DocumentDelete Kind = "document.delete"

	CacheGet        Kind = "cache.get"
	CacheInvalidate Kind = "cache.invalidate"
)

// StartDocumentSpan opens a client span named "<kind> <collection>".
func StartDocumentSpan(ctx context.Context, kind Kind, collection string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return start(ctx, kind, collection, append([]attribute.KeyValue{
		attribute.String("db.operation", string(kind)),
		attribute.String("db.collection.name", collection),
	}, attrs...))
}

// StartCacheSpan opens a client span for a query cache call on key.
func StartCacheSpan(ctx context.Context, kind Kind, system, key string) (context.Context, trace.Span) {
	return start(ctx, kind, key, []attribute.KeyValue{
		attribute.String("cache.operation", string(kind)),
		attribute.String("cache.system", system),
		attribute.String("cache.key", key),
	})
}

func start(ctx context.Context, kind Kind, target string, attrs []attribute.KeyValue) (context.Context, trace.Span) {
	name := string(kind)
	if target != "" {
		name += " " + target
	}
	return otel.Tracer(instrumentation).Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
}

// Finish sets the span status from err and ends it. Errors matching one of
// expected leave the status OK.
func Finish(span trace.Span, err error, expected ...error) {
	defer span.End()
	if err == nil {
		span.SetStatus(codes.Ok, "")
		return
	}
	for _, e := range expected {
		if errors.Is(err, e) {
			span.SetAttributes(attribute.String("outcome", err.Error()))
			span.SetStatus(codes.Ok, "")
			return
		}
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
