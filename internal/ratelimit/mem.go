package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
)

// MemLimiter is an in-process Limiter for single replica deployments.
type MemLimiter struct {
	windows *xsync.Map[string, *window]
	now     func() time.Time
}

type window struct {
	mu      sync.Mutex
	count   int
	resetAt time.Time
}

var _ Allower = (*MemLimiter)(nil)

// NewMemLimiter returns an empty MemLimiter. A nil now uses time.Now.
func NewMemLimiter(now func() time.Time) *MemLimiter {
	if now == nil {
		now = time.Now
	}
	return &MemLimiter{windows: xsync.NewMap[string, *window](), now: now}
}

// Allow never fails.
func (l *MemLimiter) Allow(_ context.Context, identifier string, rule Rule) (bool, error) {
	w, _ := l.windows.LoadOrCompute(rule.Key+identifier, func() (*window, bool) {
		return &window{}, false
	})

	now := l.now()
	w.mu.Lock()
	defer w.mu.Unlock()
	if !now.Before(w.resetAt) {
		w.count = 0
		w.resetAt = now.Add(rule.Window)
	}
	w.count++
	return w.count <= rule.Limit, nil
}

// Sweep drops windows that have elapsed.
func (l *MemLimiter) Sweep() int {
	now := l.now()
	n := 0
	l.windows.Range(func(key string, w *window) bool {
		w.mu.Lock()
		expired := !now.Before(w.resetAt)
		w.mu.Unlock()
		if expired {
			l.windows.Delete(key)
			n++
		}
		return true
	})
	return n
}

// Len returns the number of tracked windows.
func (l *MemLimiter) Len() int {
	return l.windows.Size()
}
