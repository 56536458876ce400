package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/chainvista/dlt-gateway/pkg/types"
)

// RateLimiter enforces a fixed-window request budget per (route, identity)
type RateLimiter struct {
	windows    map[string]*rateWindow
	windowsMux sync.RWMutex

	// now is swapped out in tests
	now func() time.Time
}

// rateWindow is one fixed counting window for a (route, identity) pair
type rateWindow struct {
	windowStart time.Time
	count       int
	mutex       sync.Mutex
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		windows: make(map[string]*rateWindow),
		now:     time.Now,
	}
}

// Admit checks the request budget for the given route and identity. It
// returns whether the request is admitted and, when denied, the number of
// seconds until the window resets (for a Retry-After hint). Routes without a
// rate policy admit everything.
func (rl *RateLimiter) Admit(routeName, identityKey string, policy types.RateLimitPolicy) (bool, int, error) {
	if !policy.Enabled() {
		return true, 0, nil
	}

	window := rl.getWindow(routeName + "|" + identityKey)
	windowLen := time.Duration(policy.WindowMs) * time.Millisecond

	window.mutex.Lock()
	defer window.mutex.Unlock()

	now := rl.now()

	// A window is never read across its boundary: once elapsed it is
	// reset atomically under the per-key lock.
	if now.Sub(window.windowStart) >= windowLen {
		window.windowStart = now
		window.count = 0
	}

	if window.count >= policy.MaxRequests {
		retryAfter := window.windowStart.Add(windowLen).Sub(now)
		seconds := int(retryAfter.Seconds())
		if retryAfter > 0 && seconds == 0 {
			seconds = 1
		}
		return false, seconds, nil
	}

	window.count++
	return true, 0, nil
}

// getWindow gets or creates the window for a key
func (rl *RateLimiter) getWindow(key string) *rateWindow {
	rl.windowsMux.RLock()
	window, exists := rl.windows[key]
	rl.windowsMux.RUnlock()

	if exists {
		return window
	}

	rl.windowsMux.Lock()
	defer rl.windowsMux.Unlock()

	// Double-check after acquiring write lock
	if window, exists := rl.windows[key]; exists {
		return window
	}

	window = &rateWindow{windowStart: rl.now()}
	rl.windows[key] = window

	return window
}

// cleanup removes windows idle long past any plausible window length
func (rl *RateLimiter) cleanup(maxIdle time.Duration) {
	rl.windowsMux.Lock()
	defer rl.windowsMux.Unlock()

	cutoff := rl.now().Add(-maxIdle)

	for key, window := range rl.windows {
		window.mutex.Lock()
		stale := window.windowStart.Before(cutoff)
		window.mutex.Unlock()
		if stale {
			delete(rl.windows, key)
		}
	}
}

// StartCleanup starts periodic garbage collection of inactive windows
func (rl *RateLimiter) StartCleanup(ctx context.Context, interval, maxIdle time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rl.cleanup(maxIdle)
			}
		}
	}()
}
