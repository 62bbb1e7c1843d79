package providers

import (
	"github.com/mihaisavezi/cc-adapter/internal/convert"
)

// The outbound bodies below are the allow-lists: a field that is not declared
// here cannot reach the backend. Messages and parts are re-declared without
// cache_control, and reasoning hints have no field at all.

type wireMessage struct {
	Role         string                `json:"role"`
	Content      any                   `json:"content"`
	Name         string                `json:"name,omitempty"`
	ToolCalls    []convert.ToolCall    `json:"tool_calls,omitempty"`
	ToolCallID   string                `json:"tool_call_id,omitempty"`
	FunctionCall *convert.FunctionCall `json:"function_call,omitempty"`
}

type wirePart struct {
	Type     string            `json:"type"`
	Text     string            `json:"text,omitempty"`
	ImageURL *convert.ImageURL `json:"image_url,omitempty"`
}

// lmstudioBody is the field set LM Studio accepts.
type lmstudioBody struct {
	Model       string                  `json:"model"`
	Messages    []wireMessage           `json:"messages"`
	Stream      bool                    `json:"stream,omitempty"`
	Temperature *float64                `json:"temperature,omitempty"`
	TopP        *float64                `json:"top_p,omitempty"`
	MaxTokens   int                     `json:"max_tokens,omitempty"`
	Stop        []string                `json:"stop,omitempty"`
	Tools       []convert.ChatTool      `json:"tools,omitempty"`
	ToolChoice  *convert.ChatToolChoice `json:"tool_choice,omitempty"`
}

// hostedBody is the field set Poe and OpenRouter accept.
type hostedBody struct {
	lmstudioBody
	StreamOptions       *convert.StreamOptions `json:"stream_options,omitempty"`
	MaxCompletionTokens int                    `json:"max_completion_tokens,omitempty"`
	ParallelToolCalls   *bool                  `json:"parallel_tool_calls,omitempty"`
	N                   *int                   `json:"n,omitempty"`
	Logprobs            *bool                  `json:"logprobs,omitempty"`
	FrequencyPenalty    *float64               `json:"frequency_penalty,omitempty"`
	PresencePenalty     *float64               `json:"presence_penalty,omitempty"`
	LogitBias           map[string]int         `json:"logit_bias,omitempty"`
	ExtraBody           map[string]any         `json:"extra_body,omitempty"`
}

func newLMStudioBody(req *convert.ChatRequest) lmstudioBody {
	body := lmstudioBody{
		Model:       req.Model,
		Messages:    sanitizeMessages(req.Messages),
		Stream:      req.Stream,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		MaxTokens:   req.MaxTokens,
		Stop:        req.Stop,
		Tools:       req.Tools,
		ToolChoice:  req.ToolChoice,
	}
	// Backends reject tool_choice without tools.
	if len(body.Tools) == 0 {
		body.ToolChoice = nil
	}
	return body
}

func newHostedBody(req *convert.ChatRequest) hostedBody {
	body := hostedBody{
		lmstudioBody:        newLMStudioBody(req),
		StreamOptions:       req.StreamOptions,
		MaxCompletionTokens: req.MaxCompletionTokens,
		ParallelToolCalls:   req.ParallelToolCalls,
		N:                   req.N,
		Logprobs:            req.Logprobs,
		FrequencyPenalty:    req.FrequencyPenalty,
		PresencePenalty:     req.PresencePenalty,
		LogitBias:           req.LogitBias,
		ExtraBody:           req.ExtraBody,
	}
	if len(body.Tools) == 0 {
		body.ParallelToolCalls = nil
	}
	return body
}

func sanitizeMessages(msgs []convert.ChatMessage) []wireMessage {
	out := make([]wireMessage, len(msgs))
	for i, m := range msgs {
		out[i] = wireMessage{
			Role:         m.Role,
			Content:      wireContent(m.Content),
			Name:         m.Name,
			ToolCalls:    m.ToolCalls,
			ToolCallID:   m.ToolCallID,
			FunctionCall: m.FunctionCall,
		}
	}
	return out
}

// wireContent returns a string, a part list, or nil for JSON null.
func wireContent(c *convert.MessageContent) any {
	if c == nil {
		return nil
	}
	if c.Parts == nil {
		return c.Text
	}

	parts := make([]wirePart, len(c.Parts))
	for i, p := range c.Parts {
		parts[i] = wirePart{Type: p.Type, Text: p.Text, ImageURL: p.ImageURL}
	}
	return parts
}
