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

type Poe struct {
	client
}

func NewPoe(cfg config.Config, hc *http.Client, logger *slog.Logger) *Poe {
	return &Poe{client{
		name:     models.Poe,
		endpoint: cfg.Poe.BaseURL,
		apiKey:   cfg.Poe.APIKey,
		keyEnv:   "POE_API_KEY",
		timeout:  cfg.Timeout,
		http:     hc,
		logger:   orDefault(logger),
	}}
}

func (p *Poe) Send(ctx context.Context, req *convert.ChatRequest) (*convert.ChatResponse, error) {
	return p.send(ctx, newHostedBody(req))
}

func (p *Poe) Stream(ctx context.Context, req *convert.ChatRequest) (io.ReadCloser, error) {
	return p.stream(ctx, newHostedBody(req))
}
