package api

import (
	"errors"
	"fmt"
)

// Synthetic statuses, distinguishable from anything the server can send.
const (
	// StatusUnknownContent marks a success response whose content type the
	// client does not understand.
	StatusUnknownContent = -1
	// StatusRetryExhausted marks a pipeline invocation that fell out of its
	// retry loop without resolving. Seeing it means a client bug or a
	// pathological repeated-401 exchange.
	StatusRetryExhausted = 1111
)

// StatusError is the error arm of every pipeline result. Expected failures
// are returned as values of this type, never thrown; callers discriminate on
// Status with errors.As.
type StatusError struct {
	Op         string // operation name, e.g. "Login"
	Status     int    // HTTP status, or a synthetic status above
	StatusText string
	Message    string // server-supplied {"error": ...} when present
	Body       string // raw response body
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %d %s: %s", e.Op, e.Status, e.StatusText, e.Message)
	}
	return fmt.Sprintf("%s: %d %s", e.Op, e.Status, e.StatusText)
}

// AsStatusError unwraps err to a *StatusError if the failure came from the
// pipeline's expected-outcome path.
func AsStatusError(err error) (*StatusError, bool) {
	var se *StatusError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// IsSessionExpired reports whether err is the terminal authorization
// failure produced after a refresh could not rescue a 401.
func IsSessionExpired(err error) bool {
	se, ok := AsStatusError(err)
	return ok && se.Status == 401 && se.Message == "session expired"
}
