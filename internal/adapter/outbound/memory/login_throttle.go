package memory

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// LoginThrottle bounds the rate of failed authentication attempts per
// username. It is the deployment-configurable lockout/backoff extension
// point: the coordinator consults it before running the factor chain and
// reports failures into it. Thread-safe for concurrent access. Includes
// background cleanup to prevent unbounded memory growth.
type LoginThrottle struct {
	limiters map[string]*throttleEntry
	mu       sync.Mutex
	limit    rate.Limit
	burst    int

	stopChan        chan struct{}
	wg              sync.WaitGroup
	once            sync.Once
	cleanupInterval time.Duration
	maxIdle         time.Duration
}

type throttleEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLoginThrottle creates a throttle allowing the given number of failed
// attempts per minute with the given burst. Non-positive values disable
// throttling (Allow always returns true).
func NewLoginThrottle(failuresPerMinute float64, burst int) *LoginThrottle {
	var limit rate.Limit
	if failuresPerMinute > 0 {
		limit = rate.Limit(failuresPerMinute / 60.0)
	} else {
		limit = rate.Inf
	}
	if burst <= 0 {
		burst = 5
	}
	return &LoginThrottle{
		limiters:        make(map[string]*throttleEntry),
		limit:           limit,
		burst:           burst,
		stopChan:        make(chan struct{}),
		cleanupInterval: 5 * time.Minute,
		maxIdle:         1 * time.Hour,
	}
}

// Allow reports whether another authentication attempt for the key is
// permitted right now. Each call consumes one token.
func (t *LoginThrottle) Allow(ctx context.Context, key string) bool {
	t.mu.Lock()
	e, ok := t.limiters[key]
	if !ok {
		e = &throttleEntry{limiter: rate.NewLimiter(t.limit, t.burst)}
		t.limiters[key] = e
	}
	e.lastSeen = time.Now()
	t.mu.Unlock()

	return e.limiter.Allow()
}

// StartCleanup starts the background goroutine that drops idle keys.
// Call Stop() to stop it gracefully.
func (t *LoginThrottle) StartCleanup(ctx context.Context) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		ticker := time.NewTicker(t.cleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-t.stopChan:
				return
			case <-ticker.C:
				t.cleanup()
			}
		}
	}()
}

// cleanup removes keys idle longer than maxIdle.
func (t *LoginThrottle) cleanup() {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := time.Now().Add(-t.maxIdle)
	for key, e := range t.limiters {
		if e.lastSeen.Before(cutoff) {
			delete(t.limiters, key)
		}
	}
}

// Stop stops the background cleanup goroutine and waits for it to exit.
// Safe to call multiple times.
func (t *LoginThrottle) Stop() {
	t.once.Do(func() {
		close(t.stopChan)
	})
	t.wg.Wait()
}

// Size returns the number of tracked keys. Useful for testing cleanup.
func (t *LoginThrottle) Size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.limiters)
}
