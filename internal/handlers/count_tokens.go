package handlers

import (
	"log/slog"
	"net/http"

	"github.com/mihaisavezi/cc-adapter/internal/budget"
)

// CountTokensHandler serves GET and POST /v1/messages/count_tokens with the
// same local estimate the budgeter uses. No backend is contacted.
type CountTokensHandler struct {
	logger *slog.Logger
}

func NewCountTokensHandler(logger *slog.Logger) *CountTokensHandler {
	return &CountTokensHandler{logger: logger}
}

type countTokensResponse struct {
	InputTokens int `json:"input_tokens"`
}

func (h *CountTokensHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	req, err := readMessagesRequest(r, h.logger)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	chat, err := budget.Countable(req)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	writeJSON(w, h.logger, http.StatusOK, countTokensResponse{InputTokens: budget.Estimate(chat)})
}
