package providers

import (
	"errors"
	"fmt"

	"github.com/mihaisavezi/cc-adapter/internal/models"
)

var (
	ErrMissingCredential = errors.New("missing credential")
	ErrUpstreamTimeout   = errors.New("upstream timeout")
	ErrUpstreamTransport = errors.New("upstream transport error")
)

// StatusError is a non-2xx upstream reply. It matches ErrUpstreamTransport.
type StatusError struct {
	Provider   models.Provider
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s returned status %d", e.Provider, e.StatusCode)
	}
	return fmt.Sprintf("%s returned status %d | body=%s", e.Provider, e.StatusCode, e.Body)
}

func (e *StatusError) Is(target error) bool {
	return target == ErrUpstreamTransport
}
