package backend

import (
	"errors"
	"fmt"
)

// ErrExpired is returned (wrapped) by every operation when the backend answers
// HTTP 410: the session access token has lapsed.
var ErrExpired = errors.New("backend: session expired")

// IsExpired reports whether err is or wraps [ErrExpired].
func IsExpired(err error) bool {
	return errors.Is(err, ErrExpired)
}

// StatusError is a non-2xx, non-410 response.
type StatusError struct {
	Op         string
	StatusCode int
	// Message is the backend's error detail, or a truncated body.
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend: %s: status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("backend: %s: status %d: %s", e.Op, e.StatusCode, e.Message)
}

// TransportError is a failure to get any HTTP response at all (DNS, refused
// connection, timeout, dropped mobile link).
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("backend: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsTransport reports whether err is or wraps a [*TransportError].
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
