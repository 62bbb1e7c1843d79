package middleware

import (
	"log/slog"
	"net/http"
	"strings"
)

// Claude Code reports usage events and metrics alongside its API calls. With
// ANTHROPIC_BASE_URL pointed at the adapter these arrive here and are
// acknowledged locally instead of being forwarded or answered with 404.
var (
	eventPaths = []string{
		"/api/event_logging/batch",
		"/api/claude_code/metrics",
		"/claude_code/metrics",
	}
	statsigPaths = []string{
		"/v1/initialize",
		"/v1/log_event",
		"/v1/rgstr",
		"/statsig",
		"/telemetry",
		"/analytics",
	}
)

type TelemetryMiddleware struct {
	logger *slog.Logger
}

func NewTelemetryMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	tm := &TelemetryMiddleware{
		logger: logger,
	}
	return tm.middleware
}

func (tm *TelemetryMiddleware) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case isEventRequest(r.URL.Path):
			tm.logger.DebugContext(r.Context(), "acknowledged telemetry", "path", r.URL.Path)
			writeJSON(w, http.StatusOK, `{"accepted_count":0,"rejected_count":0}`)
		case isStatsigRequest(r.Host, r.URL.Path):
			tm.logger.DebugContext(r.Context(), "acknowledged statsig call", "path", r.URL.Path)
			writeJSON(w, http.StatusAccepted, `{"success":true}`)
		default:
			next.ServeHTTP(w, r)
		}
	})
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func isEventRequest(path string) bool {
	for _, p := range eventPaths {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

func isStatsigRequest(host, path string) bool {
	if strings.Contains(host, "statsig.anthropic.com") {
		return true
	}
	for _, p := range statsigPaths {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}
