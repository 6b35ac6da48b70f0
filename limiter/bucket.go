package limiter

import (
	"context"
	"time"

	"github.com/juju/ratelimit"
	"golang.org/x/time/rate"
)

// Bucket adapts a juju token bucket to RateLimiter.
type Bucket struct {
	b *ratelimit.Bucket
}

// NewBucket fills at ratePerSec tokens per second up to capacity.
func NewBucket(ratePerSec float64, capacity int64) *Bucket {
	return &Bucket{b: ratelimit.NewBucketWithRate(ratePerSec, capacity)}
}

func (l *Bucket) Wait(ctx context.Context) error {
	d := l.b.Take(1)
	if d <= 0 {
		return nil
	}

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		// the token stays consumed; the bucket refills on its own
		return ctx.Err()
	}
}

func (l *Bucket) Limit() rate.Limit {
	return rate.Limit(l.b.Rate())
}
