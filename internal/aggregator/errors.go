package aggregator

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrUnauthorized matches any APIError caused by rejected credentials.
var ErrUnauthorized = errors.New("invalid credentials")

// APIError is a non-2xx response from the aggregator.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("aggregator returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("aggregator returned status %d: %s", e.StatusCode, e.Message)
}

// Unauthorized reports whether the aggregator rejected the credentials.
func (e *APIError) Unauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// Is lets errors.Is(err, ErrUnauthorized) match credential failures.
func (e *APIError) Is(target error) bool {
	return target == ErrUnauthorized && e.Unauthorized()
}
