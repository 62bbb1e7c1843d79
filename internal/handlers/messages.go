package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/mihaisavezi/cc-adapter/internal/bridge"
	"github.com/mihaisavezi/cc-adapter/internal/budget"
	"github.com/mihaisavezi/cc-adapter/internal/config"
	"github.com/mihaisavezi/cc-adapter/internal/convert"
	"github.com/mihaisavezi/cc-adapter/internal/models"
	"github.com/mihaisavezi/cc-adapter/internal/observability"
	"github.com/mihaisavezi/cc-adapter/internal/providers"
)

// MessagesHandler serves POST /v1/messages.
type MessagesHandler struct {
	config   *config.Config
	settings models.Settings
	registry *providers.Registry
	logger   *slog.Logger
}

func NewMessagesHandler(cfg *config.Config, registry *providers.Registry, logger *slog.Logger) *MessagesHandler {
	return &MessagesHandler{
		config:   cfg,
		settings: models.SettingsFromConfig(cfg),
		registry: registry,
		logger:   logger,
	}
}

func (h *MessagesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req, err := readMessagesRequest(r, h.logger)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	target, err := models.Resolve(req.Model, h.settings)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := models.CheckAllowed(target, h.settings); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	sender, ok := h.registry.Get(target.Provider)
	if !ok {
		writeError(w, r, h.logger, fmt.Errorf("%w: %s", models.ErrUnsupportedProvider, target.Provider))
		return
	}

	chat, err := convert.ToUpstream(req, target.Model)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	chat = h.enforceBudget(ctx, target, req.MaxTokens, chat)

	h.logger.InfoContext(ctx, "Proxying request",
		"provider", target.Provider,
		"model", target.Model,
		"requested_model", req.Model,
		"stream", req.Stream,
		"messages", len(chat.Messages),
	)

	if req.Stream {
		h.stream(w, r, sender, target, req, chat)
		return
	}
	h.send(w, r, sender, target, req, chat)
}

func (h *MessagesHandler) enforceBudget(ctx context.Context, target models.Target, maxTokens int, chat *convert.ChatRequest) *convert.ChatRequest {
	limit := budget.BudgetFor(target.Model, maxTokens, h.config.ContextBudgets)

	trimmed, meta := budget.Enforce(chat, limit)
	if meta.Dropped > 0 {
		h.logger.WarnContext(ctx, fmt.Sprintf("trimmed %d message(s) for %s context", meta.Dropped, target.Provider),
			"before", meta.Before,
			"after", meta.After,
			"budget", meta.Budget,
		)
	}
	return trimmed
}

func (h *MessagesHandler) send(w http.ResponseWriter, r *http.Request, sender providers.Sender, target models.Target, req *convert.MessagesRequest, chat *convert.ChatRequest) {
	resp, err := sender.Send(r.Context(), chat)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	out, err := convert.FromUpstream(resp, target.Model, req)
	if err != nil {
		writeError(w, r, h.logger, fmt.Errorf("%s response: %w", target.Provider, err))
		return
	}

	h.logger.DebugContext(r.Context(), "Response translated",
		"stop_reason", out.StopReason,
		"input_tokens", out.Usage.InputTokens,
		"output_tokens", out.Usage.OutputTokens,
	)
	writeJSON(w, h.logger, http.StatusOK, out)
}

func (h *MessagesHandler) stream(w http.ResponseWriter, r *http.Request, sender providers.Sender, target models.Target, req *convert.MessagesRequest, chat *convert.ChatRequest) {
	ctx := r.Context()

	body, err := sender.Stream(ctx, chat)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	err = bridge.Run(ctx, body, w, bridge.Options{
		Model:         target.Model,
		StopSequences: req.StopSequences,
		PingInterval:  h.config.PingInterval,
		ReadTimeout:   h.config.Timeout,
		ExpectUsage:   expectsUsage(target, chat),
		Logger:        h.logger,
	})
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled) || ctx.Err() != nil:
		h.logger.DebugContext(ctx, "client disconnected during stream", "provider", target.Provider)
	default:
		h.logger.WarnContext(ctx, "stream ended with error", "provider", target.Provider, "error", err)
	}
}

// expectsUsage reports whether the upstream body asks for a trailing usage
// chunk. LM Studio bodies never carry stream_options.
func expectsUsage(target models.Target, chat *convert.ChatRequest) bool {
	return target.Provider != models.LMStudio && chat.StreamOptions != nil && chat.StreamOptions.IncludeUsage
}

// readMessagesRequest decodes the body. JSON syntax errors are reported as
// request translation errors.
func readMessagesRequest(r *http.Request, logger *slog.Logger) (*convert.MessagesRequest, error) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("read request body: %w", err)
	}
	observability.LogPayload(r.Context(), logger, "inbound request", raw)

	var req convert.MessagesRequest
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		var te *convert.TranslationError
		if errors.As(err, &te) {
			return nil, err
		}
		return nil, &convert.TranslationError{Reason: "invalid JSON: " + err.Error()}
	}
	return &req, nil
}
