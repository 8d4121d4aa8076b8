// Package pace enforces a minimum interval between consecutive actions.
package pace

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Gate admits at most one action per interval. The zero interval admits everything.
type Gate struct {
	interval time.Duration
	limiter  *rate.Limiter

	// serializes actions so two callers never run fn at once
	mu sync.Mutex
}

// NewGate creates a Gate.
func NewGate(interval time.Duration) *Gate {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &Gate{interval: interval, limiter: rate.NewLimiter(limit, 1)}
}

// Interval returns the configured spacing.
func (g *Gate) Interval() time.Duration {
	return g.interval
}

// Do waits for the gate and runs fn while holding it. Concurrent callers are serialized.
// A caller whose ctx ends while waiting gives its slot back.
func (g *Gate) Do(ctx context.Context, fn func() error) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	r := g.limiter.Reserve()
	if delay := r.Delay(); delay > 0 {
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			r.Cancel()
			return ctx.Err()
		case <-t.C:
		}
	}
	return fn()
}
