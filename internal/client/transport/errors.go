package transport

import (
	"errors"
	"fmt"
)

// ErrNetwork matches every *NetworkError via errors.Is.
var ErrNetwork = errors.New("network error")

// NetworkError reports that the request initiating a stream failed, so no
// push channel was opened.
type NetworkError struct {
	Op        string
	SessionID string
	Err       error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s session %s: %v", e.Op, e.SessionID, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrNetwork) hold for any NetworkError.
func (e *NetworkError) Is(target error) bool {
	return target == ErrNetwork
}

// StatusError is a non-2xx response from the backend.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.StatusCode)
}
