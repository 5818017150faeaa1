package auth

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	// ErrUnauthenticated covers every credential failure. Callers cannot tell
	// a malformed key from an unknown, revoked or expired one.
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrRateLimited     = errors.New("rate limit exceeded")
)

// RateLimitError is returned when a valid key has exhausted its budget.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: retry after %s", ErrRateLimited, e.RetryAfter.Round(time.Second))
}

func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimited }

// RetryAfterSeconds rounds up so clients never retry early.
func (e *RateLimitError) RetryAfterSeconds() int {
	return max(1, int(math.Ceil(e.RetryAfter.Seconds())))
}
