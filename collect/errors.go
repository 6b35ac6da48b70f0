package collect

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Kind classifies a failed attempt for the retry policy.
type Kind int

const (
	// Transient covers timeouts, connection errors and 5xx responses.
	Transient Kind = iota
	// RateLimited is an HTTP 429.
	RateLimited
	// Permanent failures are never retried.
	Permanent
)

func (k Kind) String() string {
	switch k {
	case Transient:
		return "transient"
	case RateLimited:
		return "rate_limited"
	case Permanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// FetchError is the terminal error of a fetch.
type FetchError struct {
	URL      string
	Kind     Kind
	Status   int
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s: %s after %d attempt(s): status %d", e.URL, e.Kind, e.Attempts, e.Status)
	}
	return fmt.Sprintf("fetch %s: %s after %d attempt(s): %v", e.URL, e.Kind, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is a FetchError of kind k.
func IsKind(err error, k Kind) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Kind == k
}

// attemptError is the outcome of one attempt, before the policy decides.
type attemptError struct {
	kind       Kind
	status     int
	retryAfter time.Duration
	err        error
}

func classifyStatus(resp *http.Response, now time.Time) *attemptError {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return &attemptError{
			kind:       RateLimited,
			status:     resp.StatusCode,
			retryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), now),
			err:        fmt.Errorf("error status code:%d", resp.StatusCode),
		}
	case resp.StatusCode >= 500:
		return &attemptError{kind: Transient, status: resp.StatusCode, err: fmt.Errorf("error status code:%d", resp.StatusCode)}
	default:
		return &attemptError{kind: Permanent, status: resp.StatusCode, err: fmt.Errorf("error status code:%d", resp.StatusCode)}
	}
}

// classifyErr maps transport errors. A cancelled parent context is permanent:
// retrying cannot succeed.
func classifyErr(ctx context.Context, err error) *attemptError {
	if ctx.Err() != nil {
		return &attemptError{kind: Permanent, err: ctx.Err()}
	}
	// timeouts, resets, EOFs and dial failures all surface as *url.Error
	return &attemptError{kind: Transient, err: err}
}

// parseRetryAfter accepts delay-seconds or an HTTP-date. Zero means absent.
func parseRetryAfter(v string, now time.Time) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
