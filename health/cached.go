package health

import (
	"context"
	"sync"
	"time"
)

// Cached wraps a Checker and serves the last result for a TTL, so a
// frequently polled probe does not hammer the underlying component.
// Concurrent expiries run one underlying check; the rest wait for it.
type Cached struct {
	inner Checker
	ttl   time.Duration

	mu      sync.Mutex
	last    Result
	checked time.Time

	nowFn func() time.Time
}

// NewCached wraps checker with a result cache. A non-positive ttl
// defaults to 15s.
func NewCached(checker Checker, ttl time.Duration) *Cached {
	if ttl <= 0 {
		ttl = 15 * time.Second
	}
	return &Cached{
		inner: checker,
		ttl:   ttl,
		nowFn: time.Now,
	}
}

// Name returns the underlying checker's name.
func (c *Cached) Name() string {
	return c.inner.Name()
}

// Check returns the cached result when it is still fresh, otherwise
// runs the underlying check and caches its result.
func (c *Cached) Check(ctx context.Context) Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.nowFn()
	if !c.checked.IsZero() && now.Sub(c.checked) < c.ttl {
		return c.last
	}

	c.last = c.inner.Check(ctx)
	c.checked = now
	return c.last
}

var _ Checker = (*Cached)(nil)
