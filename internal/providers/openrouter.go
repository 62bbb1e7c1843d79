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

// Attribution headers OpenRouter uses for its app rankings.
const (
	openRouterReferer = "https://github.com/mihaisavezi/cc-adapter"
	openRouterTitle   = "cc-adapter"
)

type OpenRouter struct {
	client
}

func NewOpenRouter(cfg config.Config, hc *http.Client, logger *slog.Logger) *OpenRouter {
	return &OpenRouter{client{
		name:     models.OpenRouter,
		endpoint: cfg.OpenRouter.BaseURL,
		apiKey:   cfg.OpenRouter.APIKey,
		keyEnv:   "OPENROUTER_API_KEY",
		headers: map[string]string{
			"HTTP-Referer": openRouterReferer,
			"X-Title":      openRouterTitle,
		},
		timeout: cfg.Timeout,
		http:    hc,
		logger:  orDefault(logger),
	}}
}

func (p *OpenRouter) Send(ctx context.Context, req *convert.ChatRequest) (*convert.ChatResponse, error) {
	return p.send(ctx, newHostedBody(req))
}

func (p *OpenRouter) Stream(ctx context.Context, req *convert.ChatRequest) (io.ReadCloser, error) {
	return p.stream(ctx, newHostedBody(req))
}
