package bridge

import (
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/mihaisavezi/cc-adapter/internal/convert"
)

// Anthropic stream event names.
const (
	EventMessageStart      = "message_start"
	EventContentBlockStart = "content_block_start"
	EventContentBlockDelta = "content_block_delta"
	EventContentBlockStop  = "content_block_stop"
	EventMessageDelta      = "message_delta"
	EventMessageStop       = "message_stop"
	EventPing              = "ping"
	EventError             = "error"
)

// Event is one outbound SSE event. Data is marshalled as the data line.
type Event struct {
	Type string
	Data any
}

type MessageStart struct {
	Type    string       `json:"type"`
	Message StartMessage `json:"message"`
}

type StartMessage struct {
	ID           string                `json:"id"`
	Type         string                `json:"type"`
	Role         string                `json:"role"`
	Model        string                `json:"model"`
	Content      []any                 `json:"content"`
	StopReason   *anthropic.StopReason `json:"stop_reason"`
	StopSequence *string               `json:"stop_sequence"`
	Usage        convert.Usage         `json:"usage"`
}

type ContentBlockStart struct {
	Type         string `json:"type"`
	Index        int    `json:"index"`
	ContentBlock any    `json:"content_block"`
}

type TextStart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type ToolUseStart struct {
	Type  string         `json:"type"`
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

type ContentBlockDelta struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
	Delta any    `json:"delta"`
}

type TextDelta struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type InputJSONDelta struct {
	Type        string `json:"type"`
	PartialJSON string `json:"partial_json"`
}

type ContentBlockStop struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
}

type MessageDelta struct {
	Type  string        `json:"type"`
	Delta StopDelta     `json:"delta"`
	Usage convert.Usage `json:"usage"`
}

type StopDelta struct {
	StopReason   anthropic.StopReason `json:"stop_reason"`
	StopSequence *string              `json:"stop_sequence"`
}

type MessageStop struct {
	Type string `json:"type"`
}

type Ping struct {
	Type string `json:"type"`
}

type ErrorEvent struct {
	Type  string      `json:"type"`
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func pingEvent() Event {
	return Event{Type: EventPing, Data: Ping{Type: EventPing}}
}

func errorEvent(message string) Event {
	return Event{Type: EventError, Data: ErrorEvent{
		Type:  EventError,
		Error: ErrorDetail{Type: "api_error", Message: message},
	}}
}

// FormatSSEEvent formats data as a Server-Sent Event
func FormatSSEEvent(eventType string, data any) []byte {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return []byte("event: error\ndata: {\"type\":\"error\",\"error\":{\"type\":\"api_error\",\"message\":\"failed to marshal event\"}}\n\n")
	}

	return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", eventType, jsonData))
}

// Bytes encodes e in SSE framing.
func (e Event) Bytes() []byte {
	return FormatSSEEvent(e.Type, e.Data)
}
