package providers

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/mihaisavezi/cc-adapter/internal/config"
	"github.com/mihaisavezi/cc-adapter/internal/convert"
	"github.com/mihaisavezi/cc-adapter/internal/models"
)

// LMStudio talks to a local LM Studio server. No credential is needed.
type LMStudio struct {
	client
}

func NewLMStudio(cfg config.Config, hc *http.Client, logger *slog.Logger) *LMStudio {
	return &LMStudio{client{
		name:     models.LMStudio,
		endpoint: cfg.LMStudio.Base,
		timeout:  cfg.Timeout,
		http:     hc,
		logger:   orDefault(logger),
	}}
}

func (p *LMStudio) Send(ctx context.Context, req *convert.ChatRequest) (*convert.ChatResponse, error) {
	return p.send(ctx, newLMStudioBody(req))
}

func (p *LMStudio) Stream(ctx context.Context, req *convert.ChatRequest) (io.ReadCloser, error) {
	return p.stream(ctx, newLMStudioBody(req))
}
