package limiter

import (
	"context"
	"sort"
	"time"

	"golang.org/x/time/rate"
)

type RateLimiter interface {
	Wait(context.Context) error
	Limit() rate.Limit
}

func Per(eventCount int, duration time.Duration) rate.Limit {
	return rate.Every(duration / time.Duration(eventCount))
}

// Multi combines limiters; Wait blocks on each in turn, strictest first.
func Multi(limiters ...RateLimiter) *MultiLimiter {
	byLimit := func(i, j int) bool {
		return limiters[i].Limit() < limiters[j].Limit()
	}
	sort.Slice(limiters, byLimit)

	return &MultiLimiter{limiters: limiters}
}

type MultiLimiter struct {
	limiters []RateLimiter
}

func (l *MultiLimiter) Wait(ctx context.Context) error {
	for _, l := range l.limiters {
		if err := l.Wait(ctx); err != nil {
			return err
		}
	}

	return nil
}

func (l *MultiLimiter) Limit() rate.Limit {
	if len(l.limiters) == 0 {
		return rate.Inf
	}
	return l.limiters[0].Limit()
}

type LimitConfig struct {
	EventCount int `json:"eventCount"`
	EventDur   int `json:"eventDur"` // seconds
	Bucket     int `json:"bucket"`
}

// FromConfig builds a MultiLimiter from configured limits. It returns nil when
// no limit is configured.
func FromConfig(cfgs []LimitConfig) RateLimiter {
	var limits []RateLimiter
	for _, lcfg := range cfgs {
		if lcfg.EventCount <= 0 || lcfg.EventDur <= 0 {
			continue
		}
		bucket := lcfg.Bucket
		if bucket <= 0 {
			bucket = 1
		}
		l := rate.NewLimiter(Per(lcfg.EventCount, time.Duration(lcfg.EventDur)*time.Second), bucket)
		limits = append(limits, l)
	}
	if len(limits) == 0 {
		return nil
	}
	return Multi(limits...)
}
