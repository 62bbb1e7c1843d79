package convert

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
)

// FromUpstream converts a non-streaming chat completions response. model is
// the resolved upstream model name reported back to the client; req supplies
// the stop sequences used to tell stop_sequence from end_turn.
func FromUpstream(resp *ChatResponse, model string, req *MessagesRequest) (*MessagesResponse, error) {
	if resp == nil {
		return nil, upstreamError("", "empty response")
	}
	if resp.Error != nil {
		return nil, upstreamError("error", resp.Error.Message)
	}
	if len(resp.Choices) == 0 {
		return nil, upstreamError("choices", "missing")
	}

	choice := resp.Choices[0]
	msg := choice.Message
	if msg == nil {
		return nil, upstreamError("choices[0].message", "missing")
	}

	var content Content
	text := msg.Content.String()
	if text != "" {
		content = append(content, TextBlock{Text: text})
	}

	for i, call := range msg.ToolCalls {
		block, err := toolUseFromCall(call.ID, call.Function)
		if err != nil {
			return nil, prefixField(fmt.Sprintf("choices[0].message.tool_calls[%d]", i), err)
		}
		content = append(content, block)
	}
	if msg.FunctionCall != nil {
		block, err := toolUseFromCall("", *msg.FunctionCall)
		if err != nil {
			return nil, prefixField("choices[0].message.function_call", err)
		}
		content = append(content, block)
	}

	if len(content) == 0 {
		content = Content{TextBlock{Text: ""}}
	}

	var stops []string
	if req != nil {
		stops = req.StopSequences
	}
	matched := MatchStopSequence(stops, choice.StopReason, text)
	sawTools := len(msg.ToolCalls) > 0 || msg.FunctionCall != nil

	out := &MessagesResponse{
		ID:         NewMessageID(),
		Type:       "message",
		Role:       RoleAssistant,
		Model:      model,
		Content:    content,
		StopReason: StopReasonFor(choice.FinishReason, matched, sawTools),
		Usage:      UsageFrom(resp.Usage),
	}
	if matched != "" && out.StopReason == anthropic.StopReasonStopSequence {
		out.StopSequence = &matched
	}
	return out, nil
}

// toolUseFromCall builds a tool_use block. Empty arguments decode to {}.
func toolUseFromCall(id string, fn FunctionCall) (ToolUseBlock, error) {
	if fn.Name == "" {
		return ToolUseBlock{}, upstreamError("function.name", "missing")
	}

	args := strings.TrimSpace(fn.Arguments)
	if args == "" {
		args = "{}"
	}
	if !json.Valid([]byte(args)) {
		return ToolUseBlock{}, upstreamError("function.arguments", "not valid JSON")
	}

	if id == "" {
		id = NewToolUseID()
	}
	return ToolUseBlock{ID: id, Name: fn.Name, Input: json.RawMessage(args)}, nil
}
