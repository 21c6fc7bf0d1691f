package hub

import (
	"context"
	"fmt"
	"net/http"

	"github.com/signalsfoundry/flowcanvas/internal/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/signalsfoundry/flowcanvas/internal/hub"

// TracingMiddleware ensures a server span exists for each hub request
// and enriches it with standard attributes.
func TracingMiddleware(route string, next http.Handler) http.Handler {
	tracer := otel.Tracer(tracerName)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		span := trace.SpanFromContext(ctx)
		created := false
		spanName := fmt.Sprintf("Hub/%s %s", r.Method, route)
		if !span.SpanContext().IsValid() {
			ctx, span = tracer.Start(ctx, spanName, trace.WithSpanKind(trace.SpanKindServer))
			created = true
		} else {
			span.SetName(spanName)
		}

		attrs := []attribute.KeyValue{
			attribute.String("http.method", r.Method),
			attribute.String("http.route", route),
		}
		if sessID := logging.SessionIDFromContext(ctx); sessID != "" {
			attrs = append(attrs, attribute.String("session_id", sessID))
		}
		span.SetAttributes(attrs...)

		next.ServeHTTP(w, r.WithContext(ctx))

		if created {
			span.End()
		}
	})
}

// StartChildSpan starts a child span for internal operations within
// handlers. document and gesture are optional attributes to aid trace
// navigation.
func StartChildSpan(ctx context.Context, name, document, gesture string, extra ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.Tracer(tracerName)
	attrs := make([]attribute.KeyValue, 0, len(extra)+2)
	if document != "" {
		attrs = append(attrs, attribute.String("document", document))
	}
	if gesture != "" {
		attrs = append(attrs, attribute.String("gesture", gesture))
	}
	attrs = append(attrs, extra...)
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}
