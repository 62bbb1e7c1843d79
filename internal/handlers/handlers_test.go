package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaisavezi/cc-adapter/internal/budget"
	"github.com/mihaisavezi/cc-adapter/internal/config"
	"github.com/mihaisavezi/cc-adapter/internal/convert"
	"github.com/mihaisavezi/cc-adapter/internal/models"
	"github.com/mihaisavezi/cc-adapter/internal/providers"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeSender records the request it was given and replays a canned reply.
type fakeSender struct {
	name   models.Provider
	got    *convert.ChatRequest
	resp   *convert.ChatResponse
	stream string
	err    error
}

func (f *fakeSender) Name() models.Provider { return f.name }

func (f *fakeSender) Send(_ context.Context, req *convert.ChatRequest) (*convert.ChatResponse, error) {
	f.got = req
	return f.resp, f.err
}

func (f *fakeSender) Stream(_ context.Context, req *convert.ChatRequest) (io.ReadCloser, error) {
	f.got = req
	if f.err != nil {
		return nil, f.err
	}
	return io.NopCloser(strings.NewReader(f.stream)), nil
}

func poeConfig() *config.Config {
	cfg := config.Default()
	cfg.Model = "poe:claude-sonnet-4.5"
	cfg.Poe.APIKey = "poe-key"
	return &cfg
}

func newMessagesHandler(cfg *config.Config, sender providers.Sender, logger *slog.Logger) *MessagesHandler {
	registry := providers.NewRegistry()
	registry.Register(sender)
	return NewMessagesHandler(cfg, registry, logger)
}

func post(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, strings.NewReader(body)))
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorResponse {
	t.Helper()

	var out errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	assert.Equal(t, "error", out.Type)
	return out
}

func TestMessages_NonStreaming(t *testing.T) {
	sender := &fakeSender{
		name: models.Poe,
		resp: &convert.ChatResponse{
			Choices: []convert.ChatChoice{{
				Message:      &convert.ChatMessage{Role: "assistant", Content: convert.TextContent("Hello!")},
				FinishReason: "stop",
			}},
			Usage: &convert.ChatUsage{PromptTokens: 12, CompletionTokens: 3},
		},
	}
	h := newMessagesHandler(poeConfig(), sender, discardLogger())

	rec := post(t, h, "/v1/messages", `{
		"model": "claude-sonnet-4-5-20250929",
		"max_tokens": 64,
		"system": "be brief",
		"messages": [{"role": "user", "content": "hi"}]
	}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "message", out["type"])
	assert.Equal(t, "assistant", out["role"])
	assert.Equal(t, "claude-sonnet-4.5", out["model"])
	assert.Equal(t, "end_turn", out["stop_reason"])
	assert.Equal(t, []any{map[string]any{"type": "text", "text": "Hello!"}}, out["content"])
	assert.Equal(t, map[string]any{"input_tokens": float64(12), "output_tokens": float64(3)}, out["usage"])

	require.NotNil(t, sender.got)
	assert.Equal(t, "claude-sonnet-4.5", sender.got.Model)
	assert.Equal(t, 64, sender.got.MaxTokens)
	require.Len(t, sender.got.Messages, 2)
	assert.Equal(t, "system", sender.got.Messages[0].Role)
}

func TestMessages_Streaming(t *testing.T) {
	sender := &fakeSender{
		name: models.Poe,
		stream: "data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n" +
			"data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n" +
			"data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"stop\"}],\"usage\":{\"prompt_tokens\":5,\"completion_tokens\":2}}\n\n" +
			"data: [DONE]\n\n",
	}
	h := newMessagesHandler(poeConfig(), sender, discardLogger())

	rec := post(t, h, "/v1/messages", `{"model":"poe:claude-sonnet-4.5","stream":true,"max_tokens":10,"messages":[{"role":"user","content":"hi"}]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))

	body := rec.Body.String()
	var names []string
	for _, l := range strings.Split(body, "\n") {
		if name, ok := strings.CutPrefix(l, "event: "); ok {
			names = append(names, name)
		}
	}
	assert.Equal(t, []string{
		"message_start",
		"content_block_start",
		"content_block_delta",
		"content_block_delta",
		"content_block_stop",
		"message_delta",
		"message_stop",
	}, names)
	assert.Contains(t, body, `"model":"claude-sonnet-4.5"`)

	require.NotNil(t, sender.got)
	assert.True(t, sender.got.Stream)
	require.NotNil(t, sender.got.StreamOptions)
	assert.True(t, sender.got.StreamOptions.IncludeUsage)
}

func TestMessages_Errors(t *testing.T) {
	tests := []struct {
		name       string
		cfg        func() *config.Config
		senderErr  error
		body       string
		wantStatus int
		wantType   string
		wantMsg    string
	}{
		{
			name:       "invalid json",
			cfg:        poeConfig,
			body:       `{"model":`,
			wantStatus: http.StatusBadRequest,
			wantType:   errInvalidRequest,
			wantMsg:    "invalid JSON",
		},
		{
			name:       "bad block names its path",
			cfg:        poeConfig,
			body:       `{"messages":[{"role":"user","content":[{"type":"video"}]}]}`,
			wantStatus: http.StatusBadRequest,
			wantType:   errInvalidRequest,
			wantMsg:    "messages[0]",
		},
		{
			name: "no model anywhere",
			cfg: func() *config.Config {
				cfg := config.Default()
				return &cfg
			},
			body:       `{"messages":[{"role":"user","content":"hi"}]}`,
			wantStatus: http.StatusBadRequest,
			wantType:   errInvalidRequest,
			wantMsg:    "provider prefix",
		},
		{
			name:       "unknown prefix",
			cfg:        poeConfig,
			body:       `{"model":"bogus:x","messages":[{"role":"user","content":"hi"}]}`,
			wantStatus: http.StatusBadRequest,
			wantType:   errInvalidRequest,
			wantMsg:    "unsupported provider",
		},
		{
			name:       "model not offered",
			cfg:        poeConfig,
			body:       `{"model":"openrouter:claude-opus-4.5","messages":[{"role":"user","content":"hi"}]}`,
			wantStatus: http.StatusBadRequest,
			wantType:   errInvalidRequest,
			wantMsg:    "provide one of: poe:claude-sonnet-4.5",
		},
		{
			name:       "empty messages",
			cfg:        poeConfig,
			body:       `{"model":"poe:claude-sonnet-4.5","messages":[]}`,
			wantStatus: http.StatusBadRequest,
			wantType:   errInvalidRequest,
			wantMsg:    "messages",
		},
		{
			name:       "missing credential",
			cfg:        poeConfig,
			senderErr:  providers.ErrMissingCredential,
			body:       `{"messages":[{"role":"user","content":"hi"}]}`,
			wantStatus: http.StatusBadRequest,
			wantType:   errAuthentication,
		},
		{
			name:       "upstream status",
			cfg:        poeConfig,
			senderErr:  &providers.StatusError{Provider: models.Poe, StatusCode: 429, Body: "slow down"},
			body:       `{"messages":[{"role":"user","content":"hi"}]}`,
			wantStatus: http.StatusBadGateway,
			wantType:   errAPI,
			wantMsg:    "slow down",
		},
		{
			name:       "upstream timeout",
			cfg:        poeConfig,
			senderErr:  providers.ErrUpstreamTimeout,
			body:       `{"messages":[{"role":"user","content":"hi"}]}`,
			wantStatus: http.StatusGatewayTimeout,
			wantType:   errAPI,
		},
		{
			name:       "stream failure before first byte",
			cfg:        poeConfig,
			senderErr:  providers.ErrUpstreamTransport,
			body:       `{"stream":true,"messages":[{"role":"user","content":"hi"}]}`,
			wantStatus: http.StatusBadGateway,
			wantType:   errAPI,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &fakeSender{name: models.Poe, err: tt.senderErr}
			h := newMessagesHandler(tt.cfg(), sender, discardLogger())

			rec := post(t, h, "/v1/messages", tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code)

			out := decodeError(t, rec)
			assert.Equal(t, tt.wantType, out.Error.Type)
			assert.Contains(t, out.Error.Message, tt.wantMsg)
		})
	}
}

func TestMessages_MalformedUpstreamResponse(t *testing.T) {
	sender := &fakeSender{
		name: models.Poe,
		resp: &convert.ChatResponse{Choices: []convert.ChatChoice{}},
	}
	h := newMessagesHandler(poeConfig(), sender, discardLogger())

	rec := post(t, h, "/v1/messages", `{"messages":[{"role":"user","content":"hi"}]}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	out := decodeError(t, rec)
	assert.Equal(t, errAPI, out.Error.Type)
	assert.Contains(t, out.Error.Message, "choices")
}

func TestMessages_TrimsToBudget(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))

	cfg := poeConfig()
	cfg.ContextBudgets = map[string]int{"claude-sonnet-4.5": 200}

	sender := &fakeSender{
		name: models.Poe,
		resp: &convert.ChatResponse{Choices: []convert.ChatChoice{{
			Message:      &convert.ChatMessage{Role: "assistant", Content: convert.TextContent("ok")},
			FinishReason: "stop",
		}}},
	}
	h := newMessagesHandler(cfg, sender, logger)

	long := strings.Repeat("x", 400)
	body := `{"messages":[
		{"role":"user","content":"` + long + `"},
		{"role":"assistant","content":"` + long + `"},
		{"role":"user","content":"` + long + `"},
		{"role":"assistant","content":"` + long + `"},
		{"role":"user","content":"last ` + long[5:] + `"}
	]}`

	rec := post(t, h, "/v1/messages", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	require.Len(t, sender.got.Messages, 1)
	assert.True(t, strings.HasPrefix(sender.got.Messages[0].Content.String(), "last "))
	assert.LessOrEqual(t, budget.Estimate(sender.got), 200)
	assert.Contains(t, logs.String(), "trimmed 4 message(s) for poe context")
	assert.Contains(t, logs.String(), "budget=200")
}

func TestMessages_EndToEndWithPoe(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var got map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		assert.Equal(t, "claude-opus-4.5", got["model"])
		assert.NotContains(t, got, "reasoning")

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"choices":[{"message":{"role":"assistant","content":null,"tool_calls":[
				{"id":"toolu_abc","type":"function","function":{"name":"get_weather","arguments":"{\"city\":\"Paris\"}"}}
			]},"finish_reason":"tool_calls"}],
			"usage":{"prompt_tokens":20,"completion_tokens":8}
		}`)
	}))
	defer upstream.Close()

	cfg := poeConfig()
	cfg.Poe.BaseURL = upstream.URL

	registry := providers.NewRegistry()
	registry.Initialize(*cfg, nil, discardLogger())
	h := NewMessagesHandler(cfg, registry, discardLogger())

	rec := post(t, h, "/v1/messages", `{
		"model": "poe:opus",
		"max_tokens": 100,
		"thinking": {"type": "enabled", "budget_tokens": 1024},
		"tools": [{"name": "get_weather", "input_schema": {"type": "object"}}],
		"messages": [{"role": "user", "content": "weather in Paris?"}]
	}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.JSONEq(t, `{
		"type": "message",
		"role": "assistant",
		"model": "claude-opus-4.5",
		"content": [{"type":"tool_use","id":"toolu_abc","name":"get_weather","input":{"city":"Paris"}}],
		"stop_reason": "tool_use",
		"stop_sequence": null,
		"usage": {"input_tokens": 20, "output_tokens": 8}
	}`, withoutID(t, rec.Body.Bytes()))
}

func TestMessages_StreamStallTimesOut(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n")
		w.(http.Flusher).Flush()

		select {
		case <-r.Context().Done():
		case <-time.After(3 * time.Second):
		}
	}))
	defer upstream.Close()

	cfg := poeConfig()
	cfg.Poe.BaseURL = upstream.URL
	cfg.Timeout = 200 * time.Millisecond
	cfg.PingInterval = time.Second

	registry := providers.NewRegistry()
	registry.Initialize(*cfg, nil, discardLogger())
	h := NewMessagesHandler(cfg, registry, discardLogger())

	start := time.Now()
	rec := post(t, h, "/v1/messages", `{"model":"poe:claude-sonnet-4.5","stream":true,"max_tokens":10,"messages":[{"role":"user","content":"hi"}]}`)
	elapsed := time.Since(start)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Less(t, elapsed, 2*time.Second)

	body := rec.Body.String()
	assert.Contains(t, body, "event: error")
	assert.Contains(t, body, "upstream timeout")
	assert.NotContains(t, body, `"stop_reason":"end_turn"`)
}

func TestExpectsUsage(t *testing.T) {
	withUsage := &convert.ChatRequest{StreamOptions: &convert.StreamOptions{IncludeUsage: true}}

	assert.True(t, expectsUsage(models.Target{Provider: models.Poe}, withUsage))
	assert.True(t, expectsUsage(models.Target{Provider: models.OpenRouter}, withUsage))
	assert.False(t, expectsUsage(models.Target{Provider: models.LMStudio}, withUsage), "LM Studio bodies drop stream_options")
	assert.False(t, expectsUsage(models.Target{Provider: models.Poe}, &convert.ChatRequest{}))
}

func withoutID(t *testing.T, raw []byte) string {
	t.Helper()

	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	assert.True(t, strings.HasPrefix(m["id"].(string), "msg_"))
	delete(m, "id")

	out, err := json.Marshal(m)
	require.NoError(t, err)
	return string(out)
}

func TestCountTokens(t *testing.T) {
	h := NewCountTokensHandler(discardLogger())

	t.Run("post", func(t *testing.T) {
		rec := post(t, h, "/v1/messages/count_tokens", `{
			"model":"poe:claude-sonnet-4.5",
			"system":"abcd",
			"messages":[{"role":"user","content":"12345678"}]
		}`)
		require.Equal(t, http.StatusOK, rec.Code)
		// 12 chars -> 3 tokens, plus 4 per message for two messages.
		assert.JSONEq(t, `{"input_tokens":11}`, rec.Body.String())
	})

	t.Run("get without body", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/messages/count_tokens", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"input_tokens":0}`, rec.Body.String())
	})

	t.Run("system only", func(t *testing.T) {
		rec := post(t, h, "/v1/messages/count_tokens", `{"system":"12345678"}`)
		assert.JSONEq(t, `{"input_tokens":6}`, rec.Body.String())
	})

	t.Run("invalid json", func(t *testing.T) {
		rec := post(t, h, "/v1/messages/count_tokens", `nope`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, errInvalidRequest, decodeError(t, rec).Error.Type)
	})
}

func TestModels(t *testing.T) {
	cfg := poeConfig()
	cfg.LMStudio.Model = "qwen3-coder-30b"
	h := NewModelsHandler(cfg, discardLogger())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/models", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var out modelList
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))

	ids := make([]string, len(out.Data))
	for i, m := range out.Data {
		ids[i] = m.ID
		assert.Equal(t, "model", m.Object)
	}
	assert.Equal(t, []string{
		"poe:claude-sonnet-4.5",
		"lmstudio:qwen3-coder-30b",
		"poe:claude-opus-4.5",
		"poe:claude-haiku-4.5",
	}, ids)
	assert.Equal(t, "poe:claude-sonnet-4.5", out.FirstID)
	assert.False(t, out.HasMore)
}

func TestHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	NewHealthHandler(discardLogger()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestNotFound(t *testing.T) {
	rec := httptest.NewRecorder()
	NotFound(discardLogger()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v2/whatever", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	out := decodeError(t, rec)
	assert.Equal(t, errNotFound, out.Error.Type)
	assert.Contains(t, out.Error.Message, "/v2/whatever")
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err        error
		wantStatus int
		wantType   string
	}{
		{&http.MaxBytesError{Limit: 1}, http.StatusRequestEntityTooLarge, errRequestTooLarge},
		{&convert.TranslationError{Field: "x"}, http.StatusBadRequest, errInvalidRequest},
		{&convert.TranslationError{Field: "x", Upstream: true}, http.StatusBadGateway, errAPI},
		{models.ErrModelNotAllowed, http.StatusBadRequest, errInvalidRequest},
		{providers.ErrMissingCredential, http.StatusBadRequest, errAuthentication},
		{providers.ErrUpstreamTimeout, http.StatusGatewayTimeout, errAPI},
		{&providers.StatusError{StatusCode: 500}, http.StatusBadGateway, errAPI},
		{io.ErrUnexpectedEOF, http.StatusInternalServerError, errAPI},
	}

	for _, tt := range tests {
		status, errType := classify(tt.err)
		assert.Equal(t, tt.wantStatus, status, tt.err.Error())
		assert.Equal(t, tt.wantType, errType, tt.err.Error())
	}
}
