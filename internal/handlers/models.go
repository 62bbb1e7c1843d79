package handlers

import (
	"log/slog"
	"net/http"

	"github.com/mihaisavezi/cc-adapter/internal/config"
	"github.com/mihaisavezi/cc-adapter/internal/models"
)

// ModelsHandler serves GET /v1/models with the models a client may request.
type ModelsHandler struct {
	settings models.Settings
	logger   *slog.Logger
}

func NewModelsHandler(cfg *config.Config, logger *slog.Logger) *ModelsHandler {
	return &ModelsHandler{
		settings: models.SettingsFromConfig(cfg),
		logger:   logger,
	}
}

type modelEntry struct {
	ID          string `json:"id"`
	Object      string `json:"object"`
	Type        string `json:"type"`
	DisplayName string `json:"display_name"`
}

type modelList struct {
	Object  string       `json:"object"`
	Data    []modelEntry `json:"data"`
	HasMore bool         `json:"has_more"`
	FirstID string       `json:"first_id,omitempty"`
	LastID  string       `json:"last_id,omitempty"`
}

func (h *ModelsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ids := models.Available(h.settings)

	list := modelList{Object: "list", Data: make([]modelEntry, 0, len(ids))}
	for _, id := range ids {
		list.Data = append(list.Data, modelEntry{ID: id, Object: "model", Type: "model", DisplayName: id})
	}
	if len(ids) > 0 {
		list.FirstID = ids[0]
		list.LastID = ids[len(ids)-1]
	}

	writeJSON(w, h.logger, http.StatusOK, list)
}
