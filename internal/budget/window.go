package budget

import "strings"

// DefaultWindow applies to models missing from the table.
const DefaultWindow = 128000

// windows are context sizes keyed by canonical model name.
var windows = map[string]int{
	"claude-opus-4.5":   200000,
	"claude-sonnet-4.5": 200000,
	"claude-haiku-4.5":  200000,
	"gpt-oss-120b":      131072,
	"gpt-oss-20b":       131072,
	"qwen3-coder-30b":   262144,
}

// Window returns the context window for model. overrides take precedence and
// are matched by exact name first, then by the normalized name.
func Window(model string, overrides map[string]int) int {
	if w, ok := overrides[model]; ok && w > 0 {
		return w
	}

	key := normalize(model)
	if w, ok := overrides[key]; ok && w > 0 {
		return w
	}
	if w, ok := windows[key]; ok {
		return w
	}
	return DefaultWindow
}

// BudgetFor returns the prompt budget for model: its window minus the output
// allowance, never less than half the window.
func BudgetFor(model string, maxTokens int, overrides map[string]int) int {
	window := Window(model, overrides)
	return max(window-max(maxTokens, 0), window/2)
}

func normalize(model string) string {
	key := strings.ToLower(strings.TrimSpace(model))
	if i := strings.LastIndex(key, "/"); i >= 0 {
		key = key[i+1:]
	}
	return key
}
