// Package budget estimates the prompt size of a converted request and trims
// old conversation turns until it fits the target model's context budget.
package budget

import (
	"github.com/mihaisavezi/cc-adapter/internal/convert"
)

// Estimate constants. The estimate is a deterministic heuristic, not a tokenizer.
const (
	CharsPerToken      = 4
	PerMessageOverhead = 4
	ImageTokens        = 768
)

// TrimMeta describes one Enforce call. It is informational only.
type TrimMeta struct {
	Dropped int
	Before  int
	After   int
	Budget  int
}

// Estimate returns the heuristic token cost of req's messages.
func Estimate(req *convert.ChatRequest) int {
	if req == nil {
		return 0
	}
	return estimateMessages(req.Messages)
}

func estimateMessages(msgs []convert.ChatMessage) int {
	var chars, images int
	for _, m := range msgs {
		c, i := messageCost(m)
		chars += c
		images += i
	}
	return ceilDiv(chars, CharsPerToken) + len(msgs)*PerMessageOverhead + images*ImageTokens
}

func messageCost(m convert.ChatMessage) (chars, images int) {
	chars = len(m.Name) + len(m.ToolCallID)
	if m.Content != nil {
		if m.Content.Parts == nil {
			chars += len(m.Content.Text)
		}
		for _, p := range m.Content.Parts {
			switch {
			case p.ImageURL != nil:
				images++
			default:
				chars += len(p.Text)
			}
		}
	}
	for _, tc := range m.ToolCalls {
		chars += len(tc.ID) + len(tc.Function.Name) + len(tc.Function.Arguments)
	}
	if m.FunctionCall != nil {
		chars += len(m.FunctionCall.Name) + len(m.FunctionCall.Arguments)
	}
	return chars, images
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

// Enforce drops the oldest non-system messages until req fits budget. The
// latest user or tool message, and the assistant turn whose tool calls it
// answers, are never dropped; an assistant tool call is removed together with
// its tool results so no orphaned tool message is left behind. When nothing
// droppable remains the request is returned as is. req is not modified.
func Enforce(req *convert.ChatRequest, budget int) (*convert.ChatRequest, TrimMeta) {
	before := Estimate(req)
	meta := TrimMeta{Before: before, After: before, Budget: budget}
	if req == nil || before <= budget {
		return req, meta
	}

	msgs := append([]convert.ChatMessage(nil), req.Messages...)
	protected := protectedFrom(msgs)

	estimate := before
	for estimate > budget {
		start := firstDroppable(msgs, protected)
		if start < 0 {
			break
		}
		end := groupEnd(msgs, start, protected)

		msgs = append(msgs[:start], msgs[end:]...)
		protected -= end - start
		meta.Dropped += end - start
		estimate = estimateMessages(msgs)
	}

	if meta.Dropped == 0 {
		return req, meta
	}

	out := *req
	out.Messages = msgs
	meta.After = estimate
	return &out, meta
}

// protectedFrom returns the index of the first message that must be kept.
func protectedFrom(msgs []convert.ChatMessage) int {
	last := -1
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == convert.RoleUser || msgs[i].Role == convert.RoleTool {
			last = i
			break
		}
	}
	if last < 0 {
		return max(len(msgs)-1, 0)
	}
	if msgs[last].Role != convert.RoleTool {
		return last
	}

	i := last
	for i > 0 && msgs[i-1].Role == convert.RoleTool {
		i--
	}
	if i > 0 && msgs[i-1].Role == convert.RoleAssistant && len(msgs[i-1].ToolCalls) > 0 {
		i--
	}
	return i
}

func firstDroppable(msgs []convert.ChatMessage, protected int) int {
	for i := 0; i < protected; i++ {
		if msgs[i].Role != convert.RoleSystem {
			return i
		}
	}
	return -1
}

// groupEnd extends a drop at start over the tool messages that belong to it.
func groupEnd(msgs []convert.ChatMessage, start, protected int) int {
	end := start + 1
	m := msgs[start]
	if m.Role == convert.RoleTool || (m.Role == convert.RoleAssistant && len(m.ToolCalls) > 0) {
		for end < protected && msgs[end].Role == convert.RoleTool {
			end++
		}
	}
	return end
}

// Countable converts req for estimation. A request without messages still
// counts its system prompt.
func Countable(req *convert.MessagesRequest) (*convert.ChatRequest, error) {
	if len(req.Messages) > 0 {
		return convert.ToUpstream(req, req.Model)
	}

	chat := &convert.ChatRequest{Model: req.Model}
	if system := convert.SystemText(req.System); system != "" {
		chat.Messages = append(chat.Messages, convert.ChatMessage{
			Role:    convert.RoleSystem,
			Content: convert.TextContent(system),
		})
	}
	return chat, nil
}
