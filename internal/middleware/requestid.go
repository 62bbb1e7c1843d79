package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/mihaisavezi/cc-adapter/internal/observability"
)

const RequestIDHeader = "X-Request-ID"

// RequestID takes the client's X-Request-ID or generates one, stores it in the
// request context and echoes it on the response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}

		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(observability.WithRequestID(r.Context(), id)))
	})
}
