package crawler

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrDecode marks a model completion whose JSON payload could not be parsed.
var ErrDecode = errors.New("JSON decode failed")

// StatusError reports a non-success HTTP status from an external service.
type StatusError struct {
	Service string
	Code    int
	Body    string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: HTTP error! status: %d", e.Service, e.Code)
	}
	return fmt.Sprintf("%s: HTTP error! status: %d: %s", e.Service, e.Code, e.Body)
}

// Temporary reports whether the status is worth retrying.
func (e *StatusError) Temporary() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= http.StatusInternalServerError
}
