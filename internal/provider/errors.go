package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// Error is a failed provider call. StatusCode is zero when the provider
// answered 200 with an unusable body.
type Error struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s api error: %s", e.Provider, e.Message)
	}
	return fmt.Sprintf("%s api error (status %d): %s", e.Provider, e.StatusCode, e.Message)
}

var retryableMarkers = []string{
	"overloaded",
	"rate limit",
	"rate_limit",
	"resource_exhausted",
	"resource exhausted",
	"unavailable",
	"timeout",
	"timed out",
	"try again",
	"empty response",
}

func hasRetryableMarker(msg string) bool {
	msg = strings.ToLower(msg)
	for _, m := range retryableMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// IsRetryable reports whether err is a transient failure that another
// provider, or a later attempt, could succeed past. Everything else is
// expected to recur identically.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var pe *Error
	if errors.As(err, &pe) {
		switch {
		case pe.StatusCode == 0:
			return hasRetryableMarker(pe.Message)
		case pe.StatusCode == http.StatusRequestTimeout,
			pe.StatusCode == http.StatusTooEarly,
			pe.StatusCode == http.StatusTooManyRequests,
			pe.StatusCode >= 500:
			return true
		default:
			return false
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	return hasRetryableMarker(err.Error())
}
