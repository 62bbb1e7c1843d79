package middleware

import (
	"log/slog"
	"net/http"
)

// Middleware represents a middleware function
type Middleware func(http.Handler) http.Handler

// Chain represents a middleware chain
type Chain struct {
	middlewares []Middleware
}

// New creates a new middleware chain
func New(middlewares ...Middleware) Chain {
	return Chain{middlewares: middlewares}
}

// Then adds more middleware to the chain
func (c Chain) Then(middlewares ...Middleware) Chain {
	return Chain{middlewares: append(c.middlewares[:len(c.middlewares):len(c.middlewares)], middlewares...)}
}

// Handler applies all middleware in the chain to the given handler. The first
// middleware is the outermost.
func (c Chain) Handler(handler http.Handler) http.Handler {
	for i := len(c.middlewares) - 1; i >= 0; i-- {
		handler = c.middlewares[i](handler)
	}

	return handler
}

// MiddlewareSet contains all configured middleware for easy composition
type MiddlewareSet struct {
	RequestID    Middleware
	TraceContext Middleware
	Logging      Middleware
	Recovery     Middleware
	Telemetry    Middleware
	BodyLimit    Middleware
}

// NewMiddlewareSet creates a complete set of middleware. maxBody caps request
// bodies in bytes.
func NewMiddlewareSet(logger *slog.Logger, maxBody int64) MiddlewareSet {
	return MiddlewareSet{
		RequestID:    RequestID,
		TraceContext: TraceContextExtraction,
		Logging:      NewLoggingMiddleware(logger),
		Recovery:     NewRecoveryMiddleware(logger),
		Telemetry:    NewTelemetryMiddleware(logger),
		BodyLimit:    RequestSizeLimit(maxBody),
	}
}

// DefaultChain returns the chain for API endpoints.
func (ms MiddlewareSet) DefaultChain() Chain {
	return New(
		ms.RequestID, // ids first so every later log line carries them
		ms.TraceContext,
		ms.Logging, // sees the final status, including recovered panics
		ms.Recovery,
		ms.Telemetry,
		ms.BodyLimit,
	)
}

// HealthChain returns the chain for health endpoints (no request logging)
func (ms MiddlewareSet) HealthChain() Chain {
	return New(
		ms.RequestID,
		ms.Recovery,
	)
}
