package convert

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContent_Decode(t *testing.T) {
	var msg Message
	require.NoError(t, json.Unmarshal([]byte(`{"role":"user","content":"hello"}`), &msg))
	assert.Equal(t, Content{TextBlock{Text: "hello"}}, msg.Content)

	require.NoError(t, json.Unmarshal([]byte(`{"role":"assistant","content":[
		{"type":"text","text":"a"},
		{"type":"redacted_thinking","data":"xyz"},
		{"type":"tool_use","id":"toolu_1","name":"f","input":{"x":1}}
	]}`), &msg))
	require.Len(t, msg.Content, 3)

	thinking, ok := msg.Content[1].(ThinkingBlock)
	require.True(t, ok)
	assert.True(t, thinking.Redacted)
	assert.Equal(t, BlockRedactedThinking, thinking.blockType())

	toolUse := msg.Content[2].(ToolUseBlock)
	assert.Equal(t, "toolu_1", toolUse.ID)
	assert.JSONEq(t, `{"x":1}`, string(toolUse.Input))
}

func TestContent_DecodeErrors(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"unknown type", `{"messages":[{"role":"user","content":[{"type":"video"}]}]}`, "messages[0].content[0].type"},
		{"missing type", `{"messages":[{"role":"user","content":[{"text":"x"}]}]}`, "messages[0].content[0].type"},
		{"not an object", `{"messages":[{"role":"user","content":[1]}]}`, "messages[0].content[0].type"},
		{"bad content", `{"messages":[{"role":"user","content":12}]}`, "messages[0].content"},
		{"bad block field", `{"messages":[{"role":"user","content":[{"type":"text","text":5}]}]}`, "messages[0].content[0]"},
		{"second message", `{"messages":[{"role":"user","content":"ok"},{"role":"user","content":[{"type":"audio"}]}]}`, "messages[1].content[0].type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req MessagesRequest
			err := json.Unmarshal([]byte(tt.body), &req)
			require.Error(t, err)

			var te *TranslationError
			require.True(t, errors.As(err, &te), "got %T: %v", err, err)
			assert.Equal(t, tt.field, te.Field)
		})
	}
}

func TestSystemPrompt_Decode(t *testing.T) {
	var req MessagesRequest
	require.NoError(t, json.Unmarshal([]byte(`{"system":"be brief","messages":[]}`), &req))
	assert.Equal(t, "be brief", SystemText(req.System))

	require.NoError(t, json.Unmarshal([]byte(`{"system":[{"type":"text","text":"a"},{"type":"text","text":"b","cache_control":{"type":"ephemeral"}}],"messages":[]}`), &req))
	assert.Equal(t, "a\nb", SystemText(req.System))

	err := json.Unmarshal([]byte(`{"system":42,"messages":[]}`), &req)
	var te *TranslationError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "system", te.Field)
}

func TestContent_MarshalAddsType(t *testing.T) {
	content := Content{
		TextBlock{Text: "hi"},
		ToolUseBlock{ID: "toolu_1", Name: "f"},
	}

	body, err := json.Marshal(content)
	require.NoError(t, err)
	assert.JSONEq(t, `[
		{"type":"text","text":"hi"},
		{"type":"tool_use","id":"toolu_1","name":"f","input":{}}
	]`, string(body))
}

func TestMessagesResponse_Marshal(t *testing.T) {
	resp := MessagesResponse{
		ID:      "msg_1",
		Type:    "message",
		Role:    RoleAssistant,
		Model:   "m",
		Content: Content{TextBlock{Text: "ok"}},
		Usage:   Usage{InputTokens: 3, OutputTokens: 1},
	}
	resp.StopReason = MapFinishReason("stop", "")

	body, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"id":"msg_1","type":"message","role":"assistant","model":"m",
		"content":[{"type":"text","text":"ok"}],
		"stop_reason":"end_turn","stop_sequence":null,
		"usage":{"input_tokens":3,"output_tokens":1}
	}`, string(body))
}
