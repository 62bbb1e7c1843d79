package providers

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/andybalholm/brotli"

	"github.com/mihaisavezi/cc-adapter/internal/config"
	"github.com/mihaisavezi/cc-adapter/internal/convert"
	"github.com/mihaisavezi/cc-adapter/internal/models"
	"github.com/mihaisavezi/cc-adapter/internal/observability"
)

const maxErrorBody = 64 << 10

// NewHTTPClient returns the client shared by all senders. It routes through the
// configured proxies and bounds time-to-headers by cfg.Timeout. Compression is
// negotiated by the senders so that brotli can be offered.
func NewHTTPClient(cfg config.Config) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = cfg.ProxyFunc()
	transport.ResponseHeaderTimeout = cfg.Timeout
	transport.DisableCompression = true

	return &http.Client{Transport: transport}
}

// client posts chat completion bodies to one OpenAI-compatible endpoint.
type client struct {
	name     models.Provider
	endpoint string
	apiKey   string
	// keyEnv names the variable reported when apiKey is required but empty.
	keyEnv  string
	headers map[string]string
	timeout time.Duration
	http    *http.Client
	logger  *slog.Logger
}

func orDefault(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}

func (c *client) Name() models.Provider {
	return c.name
}

func (c *client) checkCredential() error {
	if c.keyEnv != "" && c.apiKey == "" {
		return fmt.Errorf("%w: %s is not set for %s", ErrMissingCredential, c.keyEnv, c.name)
	}
	return nil
}

// send performs a non-streaming call bounded by the client timeout.
func (c *client) send(ctx context.Context, body any) (*convert.ChatResponse, error) {
	if err := c.checkCredential(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.post(ctx, body, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	reader, err := decompressReader(resp)
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s response: %v", ErrUpstreamTransport, c.name, err)
	}
	defer reader.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, c.statusError(resp.StatusCode, reader)
	}

	raw, err := io.ReadAll(reader)
	if err != nil {
		return nil, c.classify(ctx, "read response", err)
	}
	observability.LogPayload(ctx, c.logger, "upstream response", raw)

	var out convert.ChatResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &convert.TranslationError{Reason: "malformed JSON: " + err.Error(), Upstream: true}
	}
	return &out, nil
}

// stream opens a streaming call. The caller closes the returned body, which
// also releases the connection.
func (c *client) stream(ctx context.Context, body any) (io.ReadCloser, error) {
	if err := c.checkCredential(); err != nil {
		return nil, err
	}

	resp, err := c.post(ctx, body, true)
	if err != nil {
		return nil, err
	}

	reader, err := decompressReader(resp)
	if err != nil {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: decode %s stream: %v", ErrUpstreamTransport, c.name, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer reader.Close()
		return nil, c.statusError(resp.StatusCode, reader)
	}
	return reader, nil
}

func (c *client) post(ctx context.Context, body any, streaming bool) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", c.name, err)
	}
	observability.LogPayload(ctx, c.logger, "outbound request", payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: build %s request: %v", ErrUpstreamTransport, c.name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept-Encoding", "gzip, br")
	if streaming {
		req.Header.Set("Accept", "text/event-stream")
	} else {
		req.Header.Set("Accept", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	c.logger.DebugContext(ctx, "calling upstream", "provider", c.name, "endpoint", c.endpoint, "stream", streaming)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, c.classify(ctx, "call", err)
	}
	return resp, nil
}

// classify maps transport failures to ErrUpstreamTimeout or ErrUpstreamTransport.
// Cancellation by the caller is returned as is.
func (c *client) classify(ctx context.Context, op string, err error) error {
	if errors.Is(err, context.Canceled) && !errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return err
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %s %s after %s: %v", ErrUpstreamTimeout, op, c.name, c.timeout, err)
	}
	return fmt.Errorf("%w: %s %s: %v", ErrUpstreamTransport, op, c.name, err)
}

func (c *client) statusError(code int, body io.Reader) error {
	raw, _ := io.ReadAll(io.LimitReader(body, maxErrorBody))
	return &StatusError{
		Provider:   c.name,
		StatusCode: code,
		Body:       strings.TrimSpace(string(raw)),
	}
}

type decodedBody struct {
	io.Reader
	closers []io.Closer
}

func (d *decodedBody) Close() error {
	var errs []error
	for _, c := range d.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// decompressReader wraps resp.Body according to its Content-Encoding.
func decompressReader(resp *http.Response) (io.ReadCloser, error) {
	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}
		return &decodedBody{Reader: gz, closers: []io.Closer{gz, resp.Body}}, nil
	case "br":
		return &decodedBody{Reader: brotli.NewReader(resp.Body), closers: []io.Closer{resp.Body}}, nil
	case "", "identity":
		return resp.Body, nil
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", resp.Header.Get("Content-Encoding"))
	}
}
