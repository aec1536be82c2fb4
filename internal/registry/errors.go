package registry

import (
	"errors"
	"fmt"
)

// ErrUnavailable is returned when the registry cannot be reached: the retry
// budget is exhausted or the host's circuit breaker is open.
var ErrUnavailable = errors.New("registry unavailable")

// HTTPError represents a non-success HTTP response from the registry.
type HTTPError struct {
	StatusCode int
	URL        string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.URL)
}

// IsNotFound returns true if the error represents a 404 response.
func (e *HTTPError) IsNotFound() bool {
	return e.StatusCode == 404
}

// NotFoundError is returned when the registry has no such package.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("package %s not found in registry", e.Name)
}
