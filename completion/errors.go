package completion

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	ErrUpstream        = errors.New("completion upstream error")
	ErrRateLimited     = errors.New("completion rate limited")
	ErrInvalidResponse = errors.New("invalid completion response")
)

// UpstreamError is a failed HTTP exchange with the completion API.
// StatusCode is 0 for transport failures.
type UpstreamError struct {
	StatusCode int
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *UpstreamError) Error() string {
	switch {
	case e.StatusCode == 0 && e.Err != nil:
		return fmt.Sprintf("completion request failed: %v", e.Err)
	case e.Message != "":
		return fmt.Sprintf("completion request status %d: %s", e.StatusCode, e.Message)
	default:
		return fmt.Sprintf("completion request status %d", e.StatusCode)
	}
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Is maps 429 to ErrRateLimited and everything else to ErrUpstream.
func (e *UpstreamError) Is(target error) bool {
	if e.StatusCode == http.StatusTooManyRequests {
		return target == ErrRateLimited
	}

	return target == ErrUpstream
}

// Retryable reports whether a later attempt may succeed: throttling,
// transport failures and 5xx replies. A transport failure stays retryable
// even when it wraps a per-attempt timeout; callers check their own context.
func Retryable(err error) bool {
	if err == nil {
		return false
	}

	var up *UpstreamError
	if errors.As(err, &up) {
		return up.StatusCode == 0 ||
			up.StatusCode == http.StatusTooManyRequests ||
			up.StatusCode >= http.StatusInternalServerError
	}

	return errors.Is(err, ErrRateLimited)
}
