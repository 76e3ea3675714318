package httpclient

import (
	"errors"
	"fmt"
)

// Sentinel errors. Core operations never return these across their own boundary;
// they are carried by the error half of an attempt result and logged.
var (
	// ErrInvalidURL is returned for nil, relative or non-http(s) endpoints.
	ErrInvalidURL = errors.New("httpclient: invalid url")

	// ErrOpenFailed marks an attempt whose connection could not be opened.
	ErrOpenFailed = errors.New("httpclient: open connection failed")

	// ErrUnreadableBody marks a 2xx response whose body could not be read.
	ErrUnreadableBody = errors.New("httpclient: response body unreadable")

	// ErrNoAttempts is returned when the retry budget admits no attempt at all
	// (for example exponent 0 with base > 1).
	ErrNoAttempts = errors.New("httpclient: retry budget allows no attempts")

	// ErrOperationPanicked wraps a panic recovered from an operation run by Execute.
	ErrOperationPanicked = errors.New("httpclient: operation panicked")
)

// NetworkError represents a failed open, send or read against a host.
type NetworkError struct {
	Op   string // "open", "send" or "read"
	Host string
	Err  error
}

// Error implements the error interface.
func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error: %s %s: %v", e.Op, e.Host, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *NetworkError) Unwrap() error {
	return e.Err
}

// StatusError represents a response that is neither 2xx nor 304.
type StatusError struct {
	StatusCode int
	URL        string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP error: unexpected status %d from %s", e.StatusCode, e.URL)
}

// HostnameError is returned by the TLS handshake when the hostname verifier
// rejects the certificate presented for the endpoint's host.
type HostnameError struct {
	Host string
}

// Error implements the error interface.
func (e *HostnameError) Error() string {
	return fmt.Sprintf("tls: hostname verification failed for %s", e.Host)
}
