package engine

import (
	"context"
	"sync"
)

// pauseGate is the cooperative pause flag. Waiters block on a channel that
// is closed while the gate is open.
type pauseGate struct {
	mu     sync.Mutex
	paused bool
	resume chan struct{}
}

func newPauseGate() *pauseGate {
	ch := make(chan struct{})
	close(ch)
	return &pauseGate{resume: ch}
}

// set reports whether the flag changed.
func (g *pauseGate) set(paused bool) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if paused == g.paused {
		return false
	}
	if paused {
		g.resume = make(chan struct{})
	} else {
		close(g.resume)
	}
	g.paused = paused
	return true
}

func (g *pauseGate) isPaused() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.paused
}

// wait returns once the gate is open or ctx is done.
func (g *pauseGate) wait(ctx context.Context) error {
	g.mu.Lock()
	ch := g.resume
	g.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
