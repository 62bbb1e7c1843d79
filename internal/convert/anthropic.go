// Package convert translates between the Anthropic Messages API and OpenAI
// chat completions.
package convert

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleTool      = "tool"

	BlockText             = "text"
	BlockImage            = "image"
	BlockToolUse          = "tool_use"
	BlockToolResult       = "tool_result"
	BlockThinking         = "thinking"
	BlockRedactedThinking = "redacted_thinking"
)

// MessagesRequest is an inbound Anthropic Messages API request.
type MessagesRequest struct {
	Model         string          `json:"model"`
	System        SystemPrompt    `json:"system,omitempty"`
	Messages      []Message       `json:"messages"`
	MaxTokens     int             `json:"max_tokens,omitempty"`
	Temperature   *float64        `json:"temperature,omitempty"`
	TopP          *float64        `json:"top_p,omitempty"`
	TopK          *int            `json:"top_k,omitempty"`
	StopSequences []string        `json:"stop_sequences,omitempty"`
	Tools         []Tool          `json:"tools,omitempty"`
	ToolChoice    *ToolChoice     `json:"tool_choice,omitempty"`
	Stream        bool            `json:"stream,omitempty"`
	Thinking      *Thinking       `json:"thinking,omitempty"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
}

// UnmarshalJSON decodes messages one by one so errors name the offending index.
func (r *MessagesRequest) UnmarshalJSON(data []byte) error {
	type alias MessagesRequest
	aux := struct {
		*alias
		Messages []json.RawMessage `json:"messages"`
	}{alias: (*alias)(r)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	r.Messages = make([]Message, 0, len(aux.Messages))
	for i, raw := range aux.Messages {
		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			return prefixField(fmt.Sprintf("messages[%d]", i), err)
		}
		r.Messages = append(r.Messages, msg)
	}
	return nil
}

type Thinking struct {
	Type         string `json:"type"`
	BudgetTokens int    `json:"budget_tokens,omitempty"`
}

type Tool struct {
	Type         string          `json:"type,omitempty"`
	Name         string          `json:"name"`
	Description  string          `json:"description,omitempty"`
	InputSchema  json.RawMessage `json:"input_schema,omitempty"`
	CacheControl json.RawMessage `json:"cache_control,omitempty"`
}

type ToolChoice struct {
	Type                   string `json:"type"`
	Name                   string `json:"name,omitempty"`
	DisableParallelToolUse bool   `json:"disable_parallel_tool_use,omitempty"`
}

// SystemPrompt accepts either a string or a list of text blocks.
type SystemPrompt []TextBlock

func (s *SystemPrompt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*s = nil
		return nil
	}

	if data[0] == '"' {
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return err
		}
		*s = SystemPrompt{{Text: text}}
		return nil
	}

	var blocks []TextBlock
	if err := json.Unmarshal(data, &blocks); err != nil {
		return &TranslationError{Field: "system", Reason: "must be a string or a list of text blocks"}
	}
	*s = blocks
	return nil
}

type Message struct {
	Role    string  `json:"role"`
	Content Content `json:"content"`
}

// Content is a message body. A plain JSON string decodes to a single TextBlock.
type Content []ContentBlock

// ContentBlock is one of TextBlock, ImageBlock, ToolUseBlock,
// ToolResultBlock or ThinkingBlock.
type ContentBlock interface {
	blockType() string
}

type TextBlock struct {
	Text         string          `json:"text"`
	CacheControl json.RawMessage `json:"cache_control,omitempty"`
}

type ImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

type ImageBlock struct {
	Source       ImageSource     `json:"source"`
	CacheControl json.RawMessage `json:"cache_control,omitempty"`
}

type ToolUseBlock struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

type ToolResultBlock struct {
	ToolUseID    string          `json:"tool_use_id"`
	Content      Content         `json:"content,omitempty"`
	IsError      bool            `json:"is_error,omitempty"`
	CacheControl json.RawMessage `json:"cache_control,omitempty"`
}

// ThinkingBlock is decoded so it is recognized, but never forwarded upstream.
type ThinkingBlock struct {
	Thinking  string `json:"thinking,omitempty"`
	Signature string `json:"signature,omitempty"`
	Data      string `json:"data,omitempty"`
	Redacted  bool   `json:"-"`
}

func (TextBlock) blockType() string       { return BlockText }
func (ImageBlock) blockType() string      { return BlockImage }
func (ToolUseBlock) blockType() string    { return BlockToolUse }
func (ToolResultBlock) blockType() string { return BlockToolResult }

func (b ThinkingBlock) blockType() string {
	if b.Redacted {
		return BlockRedactedThinking
	}
	return BlockThinking
}

func (c *Content) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*c = nil
		return nil
	}

	if data[0] == '"' {
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return err
		}
		*c = Content{TextBlock{Text: text}}
		return nil
	}

	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return &TranslationError{Field: "content", Reason: "must be a string or a list of blocks"}
	}

	out := make(Content, 0, len(raws))
	for i, raw := range raws {
		block, err := decodeBlock(raw)
		if err != nil {
			return prefixField(fmt.Sprintf("content[%d]", i), err)
		}
		out = append(out, block)
	}
	*c = out
	return nil
}

func decodeBlock(raw json.RawMessage) (ContentBlock, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, &TranslationError{Field: "type", Reason: "block is not an object"}
	}

	var (
		block ContentBlock
		err   error
	)
	switch head.Type {
	case BlockText:
		var b TextBlock
		err = json.Unmarshal(raw, &b)
		block = b
	case BlockImage:
		var b ImageBlock
		err = json.Unmarshal(raw, &b)
		block = b
	case BlockToolUse:
		var b ToolUseBlock
		err = json.Unmarshal(raw, &b)
		block = b
	case BlockToolResult:
		var b ToolResultBlock
		err = json.Unmarshal(raw, &b)
		block = b
	case BlockThinking, BlockRedactedThinking:
		var b ThinkingBlock
		err = json.Unmarshal(raw, &b)
		b.Redacted = head.Type == BlockRedactedThinking
		block = b
	case "":
		return nil, &TranslationError{Field: "type", Reason: "missing block type"}
	default:
		return nil, &TranslationError{Field: "type", Reason: fmt.Sprintf("unsupported block type %q", head.Type)}
	}
	if err != nil {
		return nil, &TranslationError{Reason: fmt.Sprintf("invalid %s block: %v", head.Type, err)}
	}
	return block, nil
}

// MarshalJSON writes blocks with their "type" discriminator.
func (c Content) MarshalJSON() ([]byte, error) {
	out := make([]json.RawMessage, 0, len(c))
	for _, block := range c {
		raw, err := marshalBlock(block)
		if err != nil {
			return nil, err
		}
		out = append(out, raw)
	}
	return json.Marshal(out)
}

func marshalBlock(block ContentBlock) (json.RawMessage, error) {
	typ := block.blockType()
	var body any
	switch b := block.(type) {
	case TextBlock:
		body = struct {
			Type string `json:"type"`
			TextBlock
		}{typ, b}
	case ImageBlock:
		body = struct {
			Type string `json:"type"`
			ImageBlock
		}{typ, b}
	case ToolUseBlock:
		if len(b.Input) == 0 {
			b.Input = json.RawMessage(`{}`)
		}
		body = struct {
			Type string `json:"type"`
			ToolUseBlock
		}{typ, b}
	case ToolResultBlock:
		body = struct {
			Type string `json:"type"`
			ToolResultBlock
		}{typ, b}
	case ThinkingBlock:
		body = struct {
			Type string `json:"type"`
			ThinkingBlock
		}{typ, b}
	default:
		return nil, fmt.Errorf("marshal content block: unknown type %T", block)
	}
	return json.Marshal(body)
}

// MessagesResponse is an outbound non-streaming Anthropic response.
type MessagesResponse struct {
	ID           string               `json:"id"`
	Type         string               `json:"type"`
	Role         string               `json:"role"`
	Model        string               `json:"model"`
	Content      Content              `json:"content"`
	StopReason   anthropic.StopReason `json:"stop_reason"`
	StopSequence *string              `json:"stop_sequence"`
	Usage        Usage                `json:"usage"`
}

type Usage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens,omitempty"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens,omitempty"`
}
