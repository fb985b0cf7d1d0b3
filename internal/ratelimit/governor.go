// Package ratelimit paces provider calls so bulk sync never exhausts the
// remote rate budget that webhooks and interactive use also draw from.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/forgesync/forgesync/internal/provider"
)

// Config holds governor settings.
type Config struct {
	RequestsPerSecond float64 // local request pacing (default: 2)
	Burst             int     // pacing burst (default: 4)
	CriticalFloor     int     // remaining below this pauses until reset (default: 100)
	LowWater          int     // remaining below this halves the page size (default: 1000)
	VeryLowWater      int     // remaining below this quarters the page size (default: 400)
	MinPageSize       int     // page size never steps below this (default: 10)
}

// DefaultConfig returns the default governor configuration.
func DefaultConfig() Config {
	return Config{
		RequestsPerSecond: 2,
		Burst:             4,
		CriticalFloor:     100,
		LowWater:          1000,
		VeryLowWater:      400,
		MinPageSize:       10,
	}
}

// scopeState is the per-scope view of the remote budget.
type scopeState struct {
	limiter   *rate.Limiter
	remaining int
	resetAt   time.Time
	observed  bool // false until the first response headers arrive
}

// Governor tracks the remote rate budget per scope and paces requests.
// Safe for concurrent use.
type Governor struct {
	mu     sync.Mutex
	cfg    Config
	scopes map[int64]*scopeState
}

// NewGovernor creates a governor with the given configuration.
func NewGovernor(cfg Config) *Governor {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 2
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 4
	}
	if cfg.MinPageSize <= 0 {
		cfg.MinPageSize = 10
	}
	return &Governor{
		cfg:    cfg,
		scopes: make(map[int64]*scopeState),
	}
}

func (g *Governor) state(scopeID int64) *scopeState {
	st, ok := g.scopes[scopeID]
	if !ok {
		st = &scopeState{
			limiter: rate.NewLimiter(rate.Limit(g.cfg.RequestsPerSecond), g.cfg.Burst),
		}
		g.scopes[scopeID] = st
	}
	return st
}

// Acquire blocks until the local pacer admits one request for the scope.
func (g *Governor) Acquire(ctx context.Context, scopeID int64) error {
	g.mu.Lock()
	limiter := g.state(scopeID).limiter
	g.mu.Unlock()
	return limiter.Wait(ctx)
}

// Track records the rate budget reported on a provider response.
func (g *Governor) Track(scopeID int64, info provider.RateInfo) {
	g.mu.Lock()
	defer g.mu.Unlock()
	st := g.state(scopeID)
	st.remaining = info.Remaining
	if !info.ResetAt.IsZero() {
		st.resetAt = info.ResetAt
	}
	st.observed = true
}

// Remaining returns the last observed remaining budget for the scope.
// Returns -1 if no response has been observed yet.
func (g *Governor) Remaining(scopeID int64) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	st := g.state(scopeID)
	if !st.observed {
		return -1
	}
	return st.remaining
}

// Snapshot returns the last observed budget for the scope. ok is false if
// no response has been observed yet.
func (g *Governor) Snapshot(scopeID int64) (remaining int, resetAt time.Time, ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	st := g.state(scopeID)
	return st.remaining, st.resetAt, st.observed
}

// IsCritical reports whether the scope's remaining budget has fallen below
// the critical floor. An unobserved scope is never critical.
func (g *Governor) IsCritical(scopeID int64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	st := g.state(scopeID)
	return st.observed && st.remaining < g.cfg.CriticalFloor
}

// WaitIfLow sleeps until the rate window resets when the scope is below the
// critical floor. Returns false if the context was canceled while waiting.
func (g *Governor) WaitIfLow(ctx context.Context, scopeID int64) bool {
	g.mu.Lock()
	st := g.state(scopeID)
	critical := st.observed && st.remaining < g.cfg.CriticalFloor
	resetAt := st.resetAt
	g.mu.Unlock()

	if !critical {
		return true
	}

	wait := time.Until(resetAt)
	if wait <= 0 {
		// Reset already passed, assume a fresh window.
		g.mu.Lock()
		st.observed = false
		g.mu.Unlock()
		return true
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		g.mu.Lock()
		st.observed = false
		g.mu.Unlock()
		return true
	case <-ctx.Done():
		return false
	}
}

// AdaptPageSize steps the requested page size down as the scope's remaining
// budget shrinks. The step is monotonic in remaining: full size above the
// low-water mark, half below it, a quarter below the very-low mark, never
// under the configured minimum.
func (g *Governor) AdaptPageSize(scopeID int64, base int) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	st := g.state(scopeID)

	size := base
	if st.observed {
		switch {
		case st.remaining < g.cfg.VeryLowWater:
			size = base / 4
		case st.remaining < g.cfg.LowWater:
			size = base / 2
		}
	}
	if size < g.cfg.MinPageSize {
		size = g.cfg.MinPageSize
	}
	return size
}
