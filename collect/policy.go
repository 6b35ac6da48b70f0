package collect

import "time"

// Policy decides whether a failed attempt (0-based) is retried and after how
// long. retryAfter is the server hint for RateLimited, zero when absent.
type Policy func(kind Kind, attempt int, retryAfter time.Duration) (time.Duration, bool)

// Backoff is the default policy: linear backoff on transient errors,
// Retry-After (or a longer linear fallback) on 429, no retry on permanent
// errors. Every retry, 429 included, counts against maxAttempts.
func Backoff(base time.Duration, maxAttempts int) Policy {
	return func(kind Kind, attempt int, retryAfter time.Duration) (time.Duration, bool) {
		if kind == Permanent || attempt+1 >= maxAttempts {
			return 0, false
		}
		switch kind {
		case RateLimited:
			if retryAfter > 0 {
				return retryAfter, true
			}
			return base * time.Duration(attempt+2), true
		default:
			return base * time.Duration(attempt+1), true
		}
	}
}
