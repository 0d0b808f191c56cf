// Package ratelimit caps outbound request rate against APIs that enforce a
// requests-per-minute quota. It is a cooperative client-side limiter: the
// remote API remains the authority, this just keeps us from slamming into it.
package ratelimit

import (
	"errors"
	"sync"
	"time"

	"github.com/abelbrown/briefs/internal/logging"
)

// ErrTooManyRetries is returned when quota never frees up within the retry
// budget, so a caller can distinguish limiter exhaustion from request errors.
var ErrTooManyRetries = errors.New("exceeded max retries on rate limiter")

// DefaultMaxRetries bounds the wait-and-recheck loop so an exhausted quota
// cannot block a caller forever.
const DefaultMaxRetries = 120

// Controller implements a fixed-window requests-per-minute limiter. The
// per-minute quota is prorated across refresh windows: each window starts
// with a full grant of maxPerMinute * refreshEvery / 60 requests, and the
// grant resets on window rollover rather than replenishing continuously.
type Controller struct {
	mu          sync.Mutex
	grant       int
	remaining   int
	windowStart time.Time

	refreshEvery time.Duration
	retryDelay   time.Duration
	maxRetries   int

	now   func() time.Time
	sleep func(time.Duration)
}

// NewController creates a limiter allowing maxPerMinute requests per minute,
// refreshing quota every refreshEvery and sleeping retryDelay between
// attempts when quota is exhausted.
func NewController(maxPerMinute int, refreshEvery, retryDelay time.Duration) *Controller {
	grant := int(float64(maxPerMinute) * refreshEvery.Seconds() / 60.0)
	if grant < 1 {
		grant = 1
	}
	c := &Controller{
		grant:        grant,
		remaining:    grant,
		refreshEvery: refreshEvery,
		retryDelay:   retryDelay,
		maxRetries:   DefaultMaxRetries,
		now:          time.Now,
		sleep:        time.Sleep,
	}
	c.windowStart = c.now()
	return c
}

// Acquire consumes one unit of quota, sleeping and re-checking while the
// current window is exhausted. Returns ErrTooManyRetries once the retry
// budget is spent.
func (c *Controller) Acquire() error {
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if c.tryAcquire() {
			return nil
		}
		if attempt < c.maxRetries {
			logging.Debug("Rate limit quota exhausted, waiting",
				"attempt", attempt+1,
				"retry_delay", c.retryDelay)
			c.sleep(c.retryDelay)
		}
	}
	return ErrTooManyRetries
}

func (c *Controller) tryAcquire() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if now := c.now(); now.Sub(c.windowStart) >= c.refreshEvery {
		c.windowStart = now
		c.remaining = c.grant
	}
	if c.remaining > 0 {
		c.remaining--
		return true
	}
	return false
}

// Call invokes fn under the controller's quota and returns its result.
func Call[T any](c *Controller, fn func() (T, error)) (T, error) {
	if err := c.Acquire(); err != nil {
		var zero T
		return zero, err
	}
	return fn()
}
