package conversation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
)

var (
	// ErrSessionNotFound is returned by stores for an unknown session id.
	ErrSessionNotFound = errors.New("conversation: session not found")

	// ErrLeadAlreadyLinked is returned when a session already owns a lead.
	ErrLeadAlreadyLinked = errors.New("conversation: session already linked to a lead")

	// ErrLockTimeout is returned when a session lock cannot be acquired in time.
	ErrLockTimeout = errors.New("conversation: session lock not acquired")
)

// ErrorKind classifies terminal generation failures.
type ErrorKind string

const (
	KindSchemaViolation ErrorKind = "schema_violation"
	KindExternalService ErrorKind = "external_service"
)

// TerminalError ends a generation: no further automatic retries happen.
type TerminalError struct {
	Kind     ErrorKind
	Attempts int
	// LastRaw is the last model output that failed validation, if any.
	LastRaw string
	Err     error
}

func (e *TerminalError) Error() string {
	return fmt.Sprintf("conversation: generation failed (%s) after %d attempt(s): %v", e.Kind, e.Attempts, e.Err)
}

func (e *TerminalError) Unwrap() error { return e.Err }

// StatusError carries the HTTP status of a failed provider call.
type StatusError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("conversation: %s returned status %d: %v", e.Provider, e.StatusCode, e.Err)
}

func (e *StatusError) Unwrap() error { return e.Err }

// IsRetriable reports whether a failed LLM call may be attempted again.
// Timeouts, connection failures, 408, 429 and 5xx are retriable.
// Authentication failures and other client errors are not, and neither is
// cancellation by the caller.
func IsRetriable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return retriableStatus(se.StatusCode)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	return errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}

func retriableStatus(code int) bool {
	switch {
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return false
	case code == http.StatusTooManyRequests, code == http.StatusRequestTimeout:
		return true
	case code >= http.StatusInternalServerError:
		return true
	default:
		return false
	}
}
