package limiter

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// HostGate spaces requests to the same host. Each call reserves the next slot
// for its host, at least one jittered interval after the previous slot, so
// concurrent callers spread out instead of firing together.
type HostGate struct {
	base   time.Duration
	jitter float64
	min    time.Duration

	mu        sync.Mutex
	last      map[string]time.Time // latest reserved slot
	notBefore map[string]time.Time // set by Defer
	rnd       *rand.Rand
	now       func() time.Time
}

// NewHostGate returns a gate whose interval is base randomized within
// ±jitter (a fraction of base) and never below min.
func NewHostGate(base time.Duration, jitter float64, min time.Duration) *HostGate {
	if jitter < 0 {
		jitter = 0
	}
	return &HostGate{
		base:      base,
		jitter:    jitter,
		min:       min,
		last:      make(map[string]time.Time),
		notBefore: make(map[string]time.Time),
		rnd:       rand.New(rand.NewSource(time.Now().UnixNano())),
		now:       time.Now,
	}
}

// interval returns one randomized interval. Callers must hold g.mu.
func (g *HostGate) interval() time.Duration {
	d := g.base
	if g.jitter > 0 {
		delta := (g.rnd.Float64()*2 - 1) * g.jitter * float64(g.base)
		d += time.Duration(delta)
	}
	if d < g.min {
		d = g.min
	}
	return d
}

// Wait blocks until host may be hit again. A Defer that lands while the
// caller sleeps moves it behind the deferred time.
func (g *HostGate) Wait(ctx context.Context, host string) error {
	for {
		g.mu.Lock()
		now := g.now()
		slot := now
		if last, ok := g.last[host]; ok {
			if next := last.Add(g.interval()); next.After(slot) {
				slot = next
			}
		}
		if nb := g.notBefore[host]; nb.After(slot) {
			slot = nb
		}
		g.last[host] = slot
		g.mu.Unlock()

		if err := sleepUntil(ctx, slot.Sub(now)); err != nil {
			return err
		}

		g.mu.Lock()
		deferred := g.notBefore[host].After(g.now())
		g.mu.Unlock()
		if !deferred {
			return nil
		}
	}
}

func sleepUntil(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Touch records a request to host at the current time, pushing the next slot
// back when the request itself finished later than its reservation.
func (g *HostGate) Touch(host string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if now := g.now(); now.After(g.last[host]) {
		g.last[host] = now
	}
}

// Defer keeps every caller off host until now+d, including callers already
// sleeping toward an earlier slot. Used to honor Retry-After hints.
func (g *HostGate) Defer(host string, d time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if at := g.now().Add(d); at.After(g.notBefore[host]) {
		g.notBefore[host] = at
	}
}
