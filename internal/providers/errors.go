package providers

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// RateLimitError is returned when a provider responds with 429. RetryAfter
// carries the provider's cooldown hint when present.
type RateLimitError struct {
	Message    string
	RetryAfter time.Duration
	StatusCode int
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s (retry after %s)", e.Message, e.RetryAfter)
	}
	return e.Message
}

// transientMarkers are substrings that mark a provider failure as momentary
// load rather than a broken request. Matched case-insensitively against the
// full error text.
var transientMarkers = []string{
	"overloaded",
	"rate limit",
	"too many requests",
	"status 529",
	"status 503",
	"reset",
	"timeout",
	"timed out",
	"network",
	"temporarily unavailable",
	"service unavailable",
	"capacity",
}

// IsTransient reports whether an error looks like momentary provider load.
// Transient failures are retried on a fixed backoff schedule; anything else
// is treated as a code or request defect and surfaces immediately.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return true
	}
	return TransientMessage(err.Error())
}

// TransientMessage applies the transient classification to stored error
// text, for callers that only have the message (the sweeper reads
// last_error off the progress record).
func TransientMessage(msg string) bool {
	if msg == "" {
		return false
	}
	lower := strings.ToLower(msg)
	for _, marker := range transientMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// ErrorType buckets an error for cost records and logs.
func ErrorType(err error) string {
	if err == nil {
		return ""
	}
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return "rate_limited"
	}
	if IsTransient(err) {
		return "transient"
	}
	return "permanent"
}

// parseRetryAfter parses a Retry-After header value. Supports both
// delta-seconds and HTTP dates; returns 0 when unparseable.
func parseRetryAfter(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := time.Parse(time.RFC1123, value); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
