package github

import (
	"errors"
	"fmt"
	"time"
)

// TransientFetchError covers network failures, timeouts, 5xx responses and
// undecodable bodies. The request may succeed if repeated later.
type TransientFetchError struct {
	Op     string
	Status int
	Err    error
}

func (e *TransientFetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("github %s: transient (status %d): %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("github %s: transient: %v", e.Op, e.Err)
}

func (e *TransientFetchError) Unwrap() error { return e.Err }

// RateLimitedError is returned for 403/429 responses caused by primary or
// secondary rate limits.
type RateLimitedError struct {
	Op         string
	Status     int
	Reset      time.Time     // X-RateLimit-Reset, zero if absent
	RetryAfter time.Duration // Retry-After, zero if absent
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("github %s: rate limited (status %d, reset %s, retry-after %s)",
		e.Op, e.Status, e.Reset.Format(time.RFC3339), e.RetryAfter)
}

// Wait returns how long to hold off from now.
func (e *RateLimitedError) Wait(now time.Time) time.Duration {
	if e.RetryAfter > 0 {
		return e.RetryAfter
	}
	if !e.Reset.IsZero() {
		return max(e.Reset.Sub(now), 0)
	}
	return time.Minute
}

// NotFoundError is a 404. List callers treat it as "no items".
type NotFoundError struct {
	Op  string
	URL string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("github %s: not found: %s", e.Op, e.URL) }

// StatusError is any other non-success response (401, 422, ...). Repeating
// the request will not help.
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("github %s: unexpected status %d: %s", e.Op, e.Status, e.Body)
}

func IsTransient(err error) bool {
	var te *TransientFetchError
	return errors.As(err, &te)
}

func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// AsRateLimited extracts a *RateLimitedError from err.
func AsRateLimited(err error) (*RateLimitedError, bool) {
	var rl *RateLimitedError
	ok := errors.As(err, &rl)
	return rl, ok
}
