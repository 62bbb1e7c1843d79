package budget

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaisavezi/cc-adapter/internal/convert"
)

func msg(role string, chars int, fill string) convert.ChatMessage {
	return convert.ChatMessage{Role: role, Content: convert.TextContent(strings.Repeat(fill, chars))}
}

// conversation estimates to exactly 150 tokens: 504 chars / 4 + 6 messages * 4.
func conversation() *convert.ChatRequest {
	return &convert.ChatRequest{
		Model: "m",
		Messages: []convert.ChatMessage{
			msg(convert.RoleSystem, 36, "s"),
			msg(convert.RoleUser, 120, "a"),
			msg(convert.RoleAssistant, 120, "b"),
			msg(convert.RoleUser, 120, "c"),
			msg(convert.RoleAssistant, 40, "d"),
			msg(convert.RoleUser, 68, "e"),
		},
	}
}

func roles(req *convert.ChatRequest) []string {
	out := make([]string, len(req.Messages))
	for i, m := range req.Messages {
		out[i] = m.Role
	}
	return out
}

func TestEstimate(t *testing.T) {
	assert.Equal(t, 150, Estimate(conversation()))
	assert.Equal(t, 0, Estimate(nil))

	req := &convert.ChatRequest{Messages: []convert.ChatMessage{{
		Role: convert.RoleUser,
		Content: convert.PartsContent([]convert.ContentPart{
			{Type: "text", Text: "abcd"},
			{Type: "image_url", ImageURL: &convert.ImageURL{URL: "data:image/png;base64,AAAA"}},
		}),
	}}}
	assert.Equal(t, 1+PerMessageOverhead+ImageTokens, Estimate(req))

	withTools := &convert.ChatRequest{Messages: []convert.ChatMessage{{
		Role:      convert.RoleAssistant,
		ToolCalls: []convert.ToolCall{{ID: "id", Function: convert.FunctionCall{Name: "fn", Arguments: "{}"}}},
	}}}
	assert.Equal(t, 2+PerMessageOverhead, Estimate(withTools))
}

func TestEnforce_UnderBudget(t *testing.T) {
	req := conversation()

	out, meta := Enforce(req, 150)
	assert.Same(t, req, out)
	assert.Equal(t, TrimMeta{Dropped: 0, Before: 150, After: 150, Budget: 150}, meta)
}

func TestEnforce_TrimsOldestFirst(t *testing.T) {
	req := conversation()

	out, meta := Enforce(req, 100)
	assert.Equal(t, TrimMeta{Dropped: 2, Before: 150, After: 82, Budget: 100}, meta)
	assert.Equal(t, []string{"system", "user", "assistant", "user"}, roles(out))
	assert.Equal(t, strings.Repeat("c", 120), out.Messages[1].Content.String())
	assert.Len(t, req.Messages, 6, "input is not modified")

	again, meta := Enforce(out, 100)
	assert.Same(t, out, again)
	assert.Equal(t, 0, meta.Dropped)
}

func TestEnforce_KeepsSystemAndLatestTurn(t *testing.T) {
	out, meta := Enforce(conversation(), 10)
	assert.Equal(t, 4, meta.Dropped)
	assert.Equal(t, 34, meta.After)
	assert.Equal(t, []string{"system", "user"}, roles(out))
	assert.Equal(t, strings.Repeat("e", 68), out.Messages[1].Content.String())

	_, meta = Enforce(out, 10)
	assert.Equal(t, 0, meta.Dropped, "nothing left to drop")
}

func TestEnforce_ProtectsPendingToolExchange(t *testing.T) {
	req := &convert.ChatRequest{Messages: []convert.ChatMessage{
		msg(convert.RoleSystem, 8, "s"),
		msg(convert.RoleUser, 400, "q"),
		{Role: convert.RoleAssistant, ToolCalls: []convert.ToolCall{{ID: "call_1", Type: "function", Function: convert.FunctionCall{Name: "f", Arguments: "{}"}}}},
		{Role: convert.RoleTool, ToolCallID: "call_1", Content: convert.TextContent("result")},
	}}

	out, meta := Enforce(req, 0)
	require.Equal(t, 1, meta.Dropped)
	assert.Equal(t, []string{"system", "assistant", "tool"}, roles(out))
	assert.Equal(t, "call_1", out.Messages[2].ToolCallID)
}

func TestEnforce_DropsToolCallsWithResults(t *testing.T) {
	req := &convert.ChatRequest{Messages: []convert.ChatMessage{
		msg(convert.RoleSystem, 8, "s"),
		msg(convert.RoleUser, 40, "a"),
		{Role: convert.RoleAssistant, ToolCalls: []convert.ToolCall{
			{ID: "call_1", Function: convert.FunctionCall{Name: "f", Arguments: "{}"}},
			{ID: "call_2", Function: convert.FunctionCall{Name: "g", Arguments: "{}"}},
		}},
		{Role: convert.RoleTool, ToolCallID: "call_1", Content: convert.TextContent("r1")},
		{Role: convert.RoleTool, ToolCallID: "call_2", Content: convert.TextContent("r2")},
		msg(convert.RoleAssistant, 40, "b"),
		msg(convert.RoleUser, 40, "c"),
	}}

	t.Run("whole exchange goes at once", func(t *testing.T) {
		budget := Estimate(req) - 1

		out, meta := Enforce(req, budget)
		assert.Equal(t, 1, meta.Dropped)
		assert.Equal(t, convert.RoleAssistant, out.Messages[1].Role)

		out, meta = Enforce(out, Estimate(out)-1)
		assert.Equal(t, 3, meta.Dropped)
		assert.Equal(t, []string{"system", "assistant", "user"}, roles(out))
	})

	t.Run("exhaustive", func(t *testing.T) {
		out, meta := Enforce(req, 0)
		assert.Equal(t, 5, meta.Dropped)
		assert.Equal(t, []string{"system", "user"}, roles(out))
	})
}

func TestEnforce_OrphanedToolMessages(t *testing.T) {
	req := &convert.ChatRequest{Messages: []convert.ChatMessage{
		{Role: convert.RoleTool, ToolCallID: "gone", Content: convert.TextContent(strings.Repeat("x", 80))},
		msg(convert.RoleAssistant, 40, "b"),
		msg(convert.RoleUser, 40, "c"),
	}}

	out, meta := Enforce(req, Estimate(req)-1)
	assert.Equal(t, 1, meta.Dropped)
	assert.Equal(t, []string{"assistant", "user"}, roles(out))
}

func TestBudgetFor(t *testing.T) {
	tests := []struct {
		name      string
		model     string
		maxTokens int
		overrides map[string]int
		want      int
	}{
		{"known scoped model", "anthropic/claude-sonnet-4.5", 8192, nil, 191808},
		{"unknown model", "mystery", 0, nil, DefaultWindow},
		{"floor at half window", "mystery", 100000, nil, DefaultWindow / 2},
		{"negative max tokens", "gpt-oss-120b", -5, nil, 131072},
		{"override by canonical name", "anthropic/claude-opus-4.5", 1000, map[string]int{"claude-opus-4.5": 150000}, 149000},
		{"override by exact name", "My-Model", 0, map[string]int{"My-Model": 50000}, 50000},
		{"case insensitive lookup", "openai/GPT-OSS-120B", 0, nil, 131072},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BudgetFor(tt.model, tt.maxTokens, tt.overrides))
		})
	}
}

func TestCountable(t *testing.T) {
	systemOnly := &convert.MessagesRequest{
		Model:  "m",
		System: convert.SystemPrompt{{Text: "abcdefgh"}},
	}
	chat, err := Countable(systemOnly)
	require.NoError(t, err)
	require.Len(t, chat.Messages, 1)
	assert.Equal(t, convert.RoleSystem, chat.Messages[0].Role)
	assert.Equal(t, 6, Estimate(chat))

	empty, err := Countable(&convert.MessagesRequest{})
	require.NoError(t, err)
	assert.Zero(t, Estimate(empty))
}
