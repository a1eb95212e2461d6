// Package resilience provides the error taxonomy, retry, and circuit breaker
// patterns wrapped around every fallible pipeline operation.
package resilience

import (
	"errors"
	"net"
	"strings"
	"syscall"
)

// Category classifies an error for propagation policy.
type Category string

const (
	// CategoryTransient errors (rate limits, timeouts, flaky network) are
	// retried with backoff before being recorded as a phase failure.
	CategoryTransient Category = "transient"
	// CategoryPermanent errors (malformed input, auth failure, not-found)
	// are recorded immediately; no retry.
	CategoryPermanent Category = "permanent"
	// CategoryConfig errors block startup entirely.
	CategoryConfig Category = "configuration"
	// CategoryIntegrity errors (corrupt or version-mismatched state files)
	// are surfaced with an explicit abort-or-discard choice, never guessed.
	CategoryIntegrity Category = "state_integrity"
)

// TransientError marks an error as safe to retry (e.g. 429, 5xx, timeout).
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// NewTransientError wraps an error as transient with an optional HTTP status.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// PermanentError marks an error as not retryable and carries an actionable
// remedy for the operator.
type PermanentError struct {
	Err    error
	Remedy string
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// NewPermanentError wraps an error as permanent with a suggested remedy.
func NewPermanentError(err error, remedy string) *PermanentError {
	return &PermanentError{Err: err, Remedy: remedy}
}

// IntegrityError marks corrupted or version-mismatched persisted state. It
// carries an estimate of how much completed work discarding would lose.
type IntegrityError struct {
	Err           error
	Path          string
	CompletedLost int
}

func (e *IntegrityError) Error() string { return e.Err.Error() }
func (e *IntegrityError) Unwrap() error { return e.Err }

// Classify returns the category for an error. Untyped errors default to
// permanent unless they match transient network patterns: retrying an
// unknown failure is how batches silently double work.
func Classify(err error) Category {
	if err == nil {
		return CategoryPermanent
	}
	var ie *IntegrityError
	if errors.As(err, &ie) {
		return CategoryIntegrity
	}
	if IsTransient(err) {
		return CategoryTransient
	}
	return CategoryPermanent
}

// Remedy extracts the suggested remedy from a permanent error, or returns a
// generic next step for the category.
func Remedy(err error) string {
	var pe *PermanentError
	if errors.As(err, &pe) && pe.Remedy != "" {
		return pe.Remedy
	}
	switch Classify(err) {
	case CategoryTransient:
		return "retry the batch; the failure was transient"
	case CategoryIntegrity:
		return "inspect the state file or restart fresh with --discard"
	default:
		return "check the source data for this property and re-run"
	}
}

// IsTransient reports whether the error (or anything in its chain) is a
// TransientError or matches common transient network failure patterns.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	var pe *PermanentError
	if errors.As(err, &pe) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	// Heuristics for wrapped errors from HTTP clients.
	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"no such host",
		"tls handshake timeout",
		"i/o timeout",
		"rate limit",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}

// IsTransientHTTPStatus reports whether an HTTP status indicates a transient
// server-side issue that is safe to retry.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}
