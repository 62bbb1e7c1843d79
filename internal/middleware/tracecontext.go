package middleware

import (
	"net/http"

	"go.opentelemetry.io/otel/propagation"
)

var propagator = propagation.TraceContext{}

// TraceContextExtraction reads W3C traceparent/tracestate headers into the
// request context. No spans are created; log records pick the ids up from the
// context.
func TraceContextExtraction(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
