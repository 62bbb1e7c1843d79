package convert

import (
	"errors"
	"fmt"
)

// TranslationError reports a malformed field on either side of the bridge.
// Upstream is set when the offending document came from the backend.
type TranslationError struct {
	Field    string
	Reason   string
	Upstream bool
}

func (e *TranslationError) Error() string {
	side := "request"
	if e.Upstream {
		side = "upstream response"
	}
	if e.Field == "" {
		return fmt.Sprintf("invalid %s: %s", side, e.Reason)
	}
	return fmt.Sprintf("invalid %s: %s: %s", side, e.Field, e.Reason)
}

// prefixField nests err under prefix, turning foreign errors into TranslationErrors.
func prefixField(prefix string, err error) error {
	var te *TranslationError
	if !errors.As(err, &te) {
		return &TranslationError{Field: prefix, Reason: err.Error()}
	}

	field := prefix
	if te.Field != "" {
		field = prefix + "." + te.Field
	}
	return &TranslationError{Field: field, Reason: te.Reason, Upstream: te.Upstream}
}

func upstreamError(field, reason string) error {
	return &TranslationError{Field: field, Reason: reason, Upstream: true}
}
