package types

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// TransientNetworkError marks a failure worth retrying: timeouts,
// connection resets, 5xx responses.
type TransientNetworkError struct {
	Err error
}

func (e *TransientNetworkError) Error() string {
	return "transient network error: " + e.Err.Error()
}

func (e *TransientNetworkError) Unwrap() error { return e.Err }

// RateLimitedError is returned for HTTP 429. RetryAfter is the server hint,
// zero when the header was absent.
type RateLimitedError struct {
	Host       string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited by %s (retry after %s)", e.Host, e.RetryAfter)
	}
	return "rate limited by " + e.Host
}

// BlockedError is returned when a host is under quarantine or a response
// classified as forbidden. Not retryable.
type BlockedError struct {
	Host   string
	Reason BlockReason
	Until  time.Time
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("host %s blocked (%s) until %s", e.Host, e.Reason, e.Until.Format(time.RFC3339))
}

// ChallengedError is the CAPTCHA/anti-bot wall case. Scheduling treats it
// like BlockedError; it additionally surfaces for operator review.
type ChallengedError struct {
	Host   string
	Marker string
}

func (e *ChallengedError) Error() string {
	if e.Marker != "" {
		return fmt.Sprintf("challenge wall on %s (marker %q)", e.Host, e.Marker)
	}
	return "challenge wall on " + e.Host
}

// ParseError is a scanner's failure to extract products from a healthy
// response. Not retryable; surfaces in the task's last_error.
type ParseError struct {
	Retailer string
	Message  string
}

func (e *ParseError) Error() string {
	return "parse error (" + e.Retailer + "): " + e.Message
}

// StorageError wraps a database failure with the logical operation name.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return "storage " + e.Op + ": " + e.Err.Error()
}

func (e *StorageError) Unwrap() error { return e.Err }

// ErrDeadlineExceeded is recorded as a task's last_error when its run
// deadline expires.
var ErrDeadlineExceeded = errors.New("deadline_exceeded")

// IsRetryable reports whether an error belongs to a retryable class:
// transient network failures and rate limits. Blocked, challenged, parse
// and context errors abort retry loops immediately.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var transient *TransientNetworkError
	if errors.As(err, &transient) {
		return true
	}
	var limited *RateLimitedError
	if errors.As(err, &limited) {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}

// IsTimeout reports whether the error is a network or context timeout.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
