package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/mihaisavezi/cc-adapter/internal/convert"
	"github.com/mihaisavezi/cc-adapter/internal/models"
	"github.com/mihaisavezi/cc-adapter/internal/providers"
)

// Anthropic error types.
const (
	errInvalidRequest  = "invalid_request_error"
	errAuthentication  = "authentication_error"
	errNotFound        = "not_found_error"
	errRequestTooLarge = "request_too_large"
	errAPI             = "api_error"
)

type errorResponse struct {
	Type  string      `json:"type"`
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// classify maps an error to its HTTP status and Anthropic error type.
func classify(err error) (int, string) {
	var (
		te       *convert.TranslationError
		maxBytes *http.MaxBytesError
	)

	switch {
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge, errRequestTooLarge
	case errors.As(err, &te):
		if te.Upstream {
			return http.StatusBadGateway, errAPI
		}
		return http.StatusBadRequest, errInvalidRequest
	case errors.Is(err, models.ErrUnresolvedModel),
		errors.Is(err, models.ErrUnsupportedProvider),
		errors.Is(err, models.ErrModelNotAllowed):
		return http.StatusBadRequest, errInvalidRequest
	case errors.Is(err, providers.ErrMissingCredential):
		return http.StatusBadRequest, errAuthentication
	case errors.Is(err, providers.ErrUpstreamTimeout):
		return http.StatusGatewayTimeout, errAPI
	case errors.Is(err, providers.ErrUpstreamTransport):
		return http.StatusBadGateway, errAPI
	}
	return http.StatusInternalServerError, errAPI
}

// writeError sends err as an Anthropic error body. Nothing is written when the
// client has already gone away.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	if errors.Is(err, context.Canceled) && r.Context().Err() != nil {
		logger.DebugContext(r.Context(), "client disconnected", "error", err)
		return
	}

	status, errType := classify(err)
	if status >= http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "request failed", "status", status, "error", err)
	} else {
		logger.WarnContext(r.Context(), "request rejected", "status", status, "error", err)
	}

	writeErrorBody(w, logger, status, errType, err.Error())
}

func writeErrorBody(w http.ResponseWriter, logger *slog.Logger, status int, errType, message string) {
	writeJSON(w, logger, status, errorResponse{
		Type:  "error",
		Error: errorDetail{Type: errType, Message: message},
	})
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		logger.Error("Failed to encode response", "error", err)
		http.Error(w, `{"type":"error","error":{"type":"api_error","message":"encode response"}}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		logger.Debug("Failed to write response", "error", err)
	}
}

// NotFound answers unknown routes.
func NotFound(logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeErrorBody(w, logger, http.StatusNotFound, errNotFound, "Not Found: "+r.Method+" "+r.URL.Path)
	})
}
