package convert

import (
	"encoding/json"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
)

// finishReasons maps OpenAI finish reasons to Anthropic stop reasons.
var finishReasons = map[string]anthropic.StopReason{
	"stop":           anthropic.StopReasonEndTurn,
	"length":         anthropic.StopReasonMaxTokens,
	"tool_calls":     anthropic.StopReasonToolUse,
	"function_call":  anthropic.StopReasonToolUse,
	"content_filter": anthropic.StopReasonStopSequence,
}

// MapFinishReason converts an upstream finish_reason. matched is the stop
// sequence that ended generation, if any; it turns "stop" into stop_sequence.
// Empty and unknown reasons are end_turn.
func MapFinishReason(finish string, matched string) anthropic.StopReason {
	reason, ok := finishReasons[strings.ToLower(finish)]
	if !ok {
		reason = anthropic.StopReasonEndTurn
	}
	if reason == anthropic.StopReasonEndTurn && matched != "" {
		return anthropic.StopReasonStopSequence
	}
	return reason
}

// StopReasonFor is MapFinishReason plus the tool rule: a turn that produced
// tool calls and would otherwise end normally is reported as tool_use.
func StopReasonFor(finish, matched string, sawToolCalls bool) anthropic.StopReason {
	reason := MapFinishReason(finish, matched)
	if sawToolCalls && reason == anthropic.StopReasonEndTurn {
		return anthropic.StopReasonToolUse
	}
	return reason
}

// MatchStopSequence returns the configured stop sequence that ended
// generation. Some servers report it in a stop_reason field; otherwise the
// generated text is checked for a trailing sequence.
func MatchStopSequence(stops []string, reported json.RawMessage, text string) string {
	if len(stops) == 0 {
		return ""
	}

	var s string
	if len(reported) > 0 && json.Unmarshal(reported, &s) == nil && s != "" {
		for _, stop := range stops {
			if stop == s {
				return stop
			}
		}
	}

	for _, stop := range stops {
		if stop != "" && strings.HasSuffix(text, stop) {
			return stop
		}
	}
	return ""
}
