package budget

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"

	"github.com/mihaisavezi/cc-adapter/internal/convert"
)

const DefaultEncoding = "cl100k_base"

// Tiktoken counts tokens with a real BPE encoding. Loading an encoding may
// download its ranks on first use, so it is only used from the CLI.
type Tiktoken struct {
	enc *tiktoken.Tiktoken
}

func NewTiktoken(encoding string) (*Tiktoken, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("load %s encoding: %w", encoding, err)
	}
	return &Tiktoken{enc: enc}, nil
}

// Count returns the encoded length of every message plus the same per
// message and per image costs Estimate uses.
func (t *Tiktoken) Count(req *convert.ChatRequest) int {
	if req == nil {
		return 0
	}

	total := 0
	for _, m := range req.Messages {
		total += PerMessageOverhead
		total += t.count(m.Name) + t.count(m.ToolCallID)
		if m.Content != nil {
			if m.Content.Parts == nil {
				total += t.count(m.Content.Text)
			}
			for _, p := range m.Content.Parts {
				if p.ImageURL != nil {
					total += ImageTokens
					continue
				}
				total += t.count(p.Text)
			}
		}
		for _, tc := range m.ToolCalls {
			total += t.count(tc.Function.Name) + t.count(tc.Function.Arguments)
		}
	}
	return total
}

func (t *Tiktoken) count(s string) int {
	if s == "" {
		return 0
	}
	return len(t.enc.Encode(s, nil, nil))
}
