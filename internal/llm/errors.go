package llm

import (
	"fmt"
	"net/http"
)

// BackendError reports a failed generation: a transport error, a
// non-2xx answer, an undecodable or empty reply, or an open circuit.
type BackendError struct {
	Provider string
	// StatusCode is the HTTP status, or 0 when no response was received.
	StatusCode int
	Err        error
}

func (e *BackendError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: HTTP %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// Temporary reports whether retrying later might succeed: rate limits,
// server errors and failures without a response.
func (e *BackendError) Temporary() bool {
	return e.StatusCode == 0 || e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}
