package util

import (
	"context"
	"sync"
	"time"
)

// RateLimiter paces operations to a fixed per-minute budget by spacing them
// evenly: each Wait reserves the next free slot on a shared schedule. The
// feed client shares one limiter across its worker pool so the pool size
// never changes the request rate.
type RateLimiter struct {
	interval time.Duration
	mu       sync.Mutex
	next     time.Time // earliest time the next slot may start
}

// NewRateLimiter creates a RateLimiter that allows perMinute operations per
// minute. Non-positive perMinute falls back to one per second.
func NewRateLimiter(perMinute int) *RateLimiter {
	if perMinute <= 0 {
		perMinute = 60
	}
	return &RateLimiter{interval: time.Minute / time.Duration(perMinute)}
}

// Wait blocks until the caller's reserved slot arrives or the context is
// cancelled. The first call never blocks. A cancelled wait gives its slot
// up; it is not returned to the schedule.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	rl.mu.Lock()
	now := time.Now()
	if rl.next.Before(now) {
		rl.next = now
	}
	wait := rl.next.Sub(now)
	rl.next = rl.next.Add(rl.interval)
	rl.mu.Unlock()

	if wait <= 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
