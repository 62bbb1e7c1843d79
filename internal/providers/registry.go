package providers

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sort"

	"github.com/mihaisavezi/cc-adapter/internal/config"
	"github.com/mihaisavezi/cc-adapter/internal/convert"
	"github.com/mihaisavezi/cc-adapter/internal/models"
)

// Sender delivers a translated request to one backend. Implementations strip
// every field the backend does not accept before encoding.
type Sender interface {
	Name() models.Provider
	Send(ctx context.Context, req *convert.ChatRequest) (*convert.ChatResponse, error)
	// Stream returns the raw SSE body. The caller must close it.
	Stream(ctx context.Context, req *convert.ChatRequest) (io.ReadCloser, error)
}

// Registry manages sender instances. It is filled at startup and read-only
// afterwards.
type Registry struct {
	senders map[models.Provider]Sender
}

func NewRegistry() *Registry {
	return &Registry{
		senders: make(map[models.Provider]Sender),
	}
}

// Register adds a sender, replacing any previous one for the same provider.
func (r *Registry) Register(s Sender) {
	r.senders[s.Name()] = s
}

func (r *Registry) Get(p models.Provider) (Sender, bool) {
	s, ok := r.senders[p]
	return s, ok
}

// List returns the registered providers in name order.
func (r *Registry) List() []models.Provider {
	out := make([]models.Provider, 0, len(r.senders))
	for p := range r.senders {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Initialize registers a sender for every supported backend.
func (r *Registry) Initialize(cfg config.Config, hc *http.Client, logger *slog.Logger) {
	if hc == nil {
		hc = NewHTTPClient(cfg)
	}
	if logger == nil {
		logger = slog.Default()
	}

	r.Register(NewLMStudio(cfg, hc, logger))
	r.Register(NewPoe(cfg, hc, logger))
	r.Register(NewOpenRouter(cfg, hc, logger))
}
