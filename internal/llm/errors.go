package llm

import (
	"errors"
	"fmt"
)

// ErrInvalidProvider is returned for provider ids missing from the registry.
var ErrInvalidProvider = errors.New("invalid provider")

// APIError is a non-success response from a provider API.
type APIError struct {
	Provider string
	Status   int
	Body     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s request failed: status %d: %s", e.Provider, e.Status, e.Body)
}
