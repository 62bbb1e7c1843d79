package convert

import (
	"encoding/json"
	"fmt"
	"strings"
)

var emptySchema = json.RawMessage(`{"type":"object","properties":{}}`)

// ToUpstream converts an Anthropic request into an OpenAI chat completions
// request for upstreamModel. Tool ids are carried through unchanged so a
// multi-turn tool conversation stays paired.
func ToUpstream(req *MessagesRequest, upstreamModel string) (*ChatRequest, error) {
	if req == nil || len(req.Messages) == 0 {
		return nil, &TranslationError{Field: "messages", Reason: "must not be empty"}
	}

	out := &ChatRequest{
		Model:       upstreamModel,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stop:        req.StopSequences,
		Stream:      req.Stream,
	}
	if req.Stream {
		out.StreamOptions = &StreamOptions{IncludeUsage: true}
	}
	if req.TopK != nil {
		out.ExtraBody = map[string]any{"top_k": *req.TopK}
	}
	if req.Thinking != nil && req.Thinking.Type == "enabled" {
		out.Reasoning = &Reasoning{MaxTokens: req.Thinking.BudgetTokens}
	}

	if system := SystemText(req.System); system != "" {
		out.Messages = append(out.Messages, ChatMessage{Role: RoleSystem, Content: TextContent(system)})
	}

	for i, msg := range req.Messages {
		var (
			converted []ChatMessage
			err       error
		)
		switch msg.Role {
		case RoleUser:
			converted, err = convertUser(msg.Content)
		case RoleAssistant:
			converted, err = convertAssistant(msg.Content)
		default:
			err = &TranslationError{Field: "role", Reason: fmt.Sprintf("unsupported role %q", msg.Role)}
		}
		if err != nil {
			return nil, prefixField(fmt.Sprintf("messages[%d]", i), err)
		}
		out.Messages = append(out.Messages, converted...)
	}

	tools, err := convertTools(req.Tools)
	if err != nil {
		return nil, err
	}
	out.Tools = tools

	if req.ToolChoice != nil {
		choice, err := convertToolChoice(req.ToolChoice)
		if err != nil {
			return nil, prefixField("tool_choice", err)
		}
		out.ToolChoice = choice
		if req.ToolChoice.DisableParallelToolUse {
			parallel := false
			out.ParallelToolCalls = &parallel
		}
	}

	return out, nil
}

// SystemText joins the system prompt blocks with newlines.
func SystemText(system SystemPrompt) string {
	texts := make([]string, 0, len(system))
	for _, b := range system {
		if b.Text != "" {
			texts = append(texts, b.Text)
		}
	}
	return strings.Join(texts, "\n")
}

// convertUser emits one tool message per tool_result first, then a single
// user message with the remaining text and images. Images returned by tool
// results keep their position among the turn's blocks.
func convertUser(content Content) ([]ChatMessage, error) {
	var (
		out   []ChatMessage
		parts []ContentPart
	)

	for i, block := range content {
		switch b := block.(type) {
		case TextBlock:
			parts = append(parts, ContentPart{Type: "text", Text: b.Text, CacheControl: b.CacheControl})
		case ImageBlock:
			part, err := imagePart(b)
			if err != nil {
				return nil, prefixField(fmt.Sprintf("content[%d]", i), err)
			}
			parts = append(parts, part)
		case ToolResultBlock:
			msg, images, err := toolMessage(b)
			if err != nil {
				return nil, prefixField(fmt.Sprintf("content[%d]", i), err)
			}
			out = append(out, msg)
			parts = append(parts, images...)
		case ThinkingBlock:
		case ToolUseBlock:
			return nil, &TranslationError{Field: fmt.Sprintf("content[%d]", i), Reason: "tool_use blocks are only valid in assistant messages"}
		}
	}

	if len(parts) > 0 {
		out = append(out, ChatMessage{Role: RoleUser, Content: partsOrText(parts)})
	}
	return out, nil
}

func convertAssistant(content Content) ([]ChatMessage, error) {
	var (
		texts []string
		calls []ToolCall
	)

	for i, block := range content {
		switch b := block.(type) {
		case TextBlock:
			if b.Text != "" {
				texts = append(texts, b.Text)
			}
		case ToolUseBlock:
			if b.ID == "" || b.Name == "" {
				return nil, &TranslationError{Field: fmt.Sprintf("content[%d]", i), Reason: "tool_use requires id and name"}
			}
			args := "{}"
			if len(b.Input) > 0 && string(b.Input) != "null" {
				args = string(b.Input)
			}
			calls = append(calls, ToolCall{
				ID:       b.ID,
				Type:     "function",
				Function: FunctionCall{Name: b.Name, Arguments: args},
			})
		case ThinkingBlock:
		default:
			return nil, &TranslationError{
				Field:  fmt.Sprintf("content[%d]", i),
				Reason: fmt.Sprintf("%s blocks are not valid in assistant messages", block.blockType()),
			}
		}
	}

	if len(texts) == 0 && len(calls) == 0 {
		return nil, nil
	}

	msg := ChatMessage{Role: RoleAssistant, ToolCalls: calls}
	if len(texts) > 0 {
		msg.Content = TextContent(strings.Join(texts, ""))
	}
	return []ChatMessage{msg}, nil
}

// toolMessage flattens a tool_result into a tool message. Images cannot ride
// on a tool message and are returned for the following user message.
func toolMessage(b ToolResultBlock) (ChatMessage, []ContentPart, error) {
	if b.ToolUseID == "" {
		return ChatMessage{}, nil, &TranslationError{Field: "tool_use_id", Reason: "required"}
	}

	var (
		texts  []string
		images []ContentPart
	)
	for i, inner := range b.Content {
		switch ib := inner.(type) {
		case TextBlock:
			texts = append(texts, ib.Text)
		case ImageBlock:
			part, err := imagePart(ib)
			if err != nil {
				return ChatMessage{}, nil, prefixField(fmt.Sprintf("content[%d]", i), err)
			}
			images = append(images, part)
		default:
			return ChatMessage{}, nil, &TranslationError{
				Field:  fmt.Sprintf("content[%d]", i),
				Reason: fmt.Sprintf("%s blocks are not valid in tool results", inner.blockType()),
			}
		}
	}

	text := strings.Join(texts, "\n")
	if b.IsError {
		text = "Error: " + text
	}
	return ChatMessage{
		Role:         RoleTool,
		ToolCallID:   b.ToolUseID,
		Content:      TextContent(text),
		CacheControl: b.CacheControl,
	}, images, nil
}

func imagePart(b ImageBlock) (ContentPart, error) {
	var url string
	switch b.Source.Type {
	case "base64":
		if b.Source.Data == "" || b.Source.MediaType == "" {
			return ContentPart{}, &TranslationError{Field: "source", Reason: "base64 images need media_type and data"}
		}
		url = "data:" + b.Source.MediaType + ";base64," + b.Source.Data
	case "url":
		if b.Source.URL == "" {
			return ContentPart{}, &TranslationError{Field: "source.url", Reason: "required"}
		}
		url = b.Source.URL
	default:
		return ContentPart{}, &TranslationError{Field: "source.type", Reason: fmt.Sprintf("unsupported image source %q", b.Source.Type)}
	}
	return ContentPart{Type: "image_url", ImageURL: &ImageURL{URL: url}, CacheControl: b.CacheControl}, nil
}

// partsOrText collapses a lone plain text part to a string.
func partsOrText(parts []ContentPart) *MessageContent {
	if len(parts) == 1 && parts[0].Type == "text" && len(parts[0].CacheControl) == 0 {
		return TextContent(parts[0].Text)
	}
	return PartsContent(parts)
}

func convertTools(tools []Tool) ([]ChatTool, error) {
	if len(tools) == 0 {
		return nil, nil
	}

	out := make([]ChatTool, 0, len(tools))
	for i, t := range tools {
		field := fmt.Sprintf("tools[%d]", i)
		if t.Type != "" && t.Type != "custom" {
			return nil, &TranslationError{Field: field + ".type", Reason: fmt.Sprintf("unsupported tool type %q", t.Type)}
		}
		if t.Name == "" {
			return nil, &TranslationError{Field: field + ".name", Reason: "required"}
		}

		params := t.InputSchema
		if len(params) == 0 {
			params = emptySchema
		}
		out = append(out, ChatTool{
			Type: "function",
			Function: FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}
	return out, nil
}

func convertToolChoice(tc *ToolChoice) (*ChatToolChoice, error) {
	switch tc.Type {
	case "auto", "":
		return &ChatToolChoice{Mode: "auto"}, nil
	case "any":
		return &ChatToolChoice{Mode: "required"}, nil
	case "none":
		return &ChatToolChoice{Mode: "none"}, nil
	case "tool":
		if tc.Name == "" {
			return nil, &TranslationError{Field: "name", Reason: "required when type is tool"}
		}
		return &ChatToolChoice{Function: tc.Name}, nil
	default:
		return nil, &TranslationError{Field: "type", Reason: fmt.Sprintf("unsupported tool_choice %q", tc.Type)}
	}
}
