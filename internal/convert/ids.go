package convert

import (
	"strings"

	"github.com/google/uuid"
)

func compactUUID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// NewMessageID returns an Anthropic style message id.
func NewMessageID() string {
	return "msg_" + compactUUID()
}

// NewToolUseID is used when upstream omits a tool call id.
func NewToolUseID() string {
	return "toolu_" + compactUUID()[:24]
}
