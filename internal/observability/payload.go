package observability

import (
	"context"
	"encoding/json"
	"log/slog"
)

// LogPayload logs payload as indented JSON at verbose level. Payloads are
// only marshalled when that level is enabled. Raw byte slices holding JSON
// are re-indented, anything else is logged as a string.
func LogPayload(ctx context.Context, logger *slog.Logger, heading string, payload any) {
	if logger == nil || !logger.Enabled(ctx, LevelVerbose) {
		return
	}

	logger.Log(ctx, LevelVerbose, heading, "payload", prettyJSON(payload))
}

func prettyJSON(payload any) string {
	if raw, ok := payload.([]byte); ok {
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return string(raw)
		}
		payload = v
	}

	out, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return err.Error()
	}
	return string(out)
}
