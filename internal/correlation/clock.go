package correlation

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultClockSize bounds how many correlation ids a Clock remembers.
const DefaultClockSize = 10_000

// Clock hands out timestamps that never go backwards within one correlation
// id, even if the wall clock steps back between two emissions. Ids evicted
// from the cache simply start over from the wall clock.
type Clock struct {
	mu   sync.Mutex
	now  func() time.Time
	last *lru.Cache[string, time.Time]
}

// NewClock returns a Clock remembering up to size ids. A nil now uses
// time.Now.
func NewClock(size int, now func() time.Time) *Clock {
	if size <= 0 {
		size = DefaultClockSize
	}
	if now == nil {
		now = time.Now
	}
	// lru.New only fails for a non-positive size.
	cache, _ := lru.New[string, time.Time](size)
	return &Clock{now: now, last: cache}
}

// Stamp returns max(now, last stamp for id) in UTC at microsecond precision
// and records it.
func (c *Clock) Stamp(id string) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Microseconds survive a round trip through every sink's timestamp column.
	t := c.now().UTC().Truncate(time.Microsecond)
	if prev, ok := c.last.Get(id); ok && t.Before(prev) {
		t = prev
	}
	c.last.Add(id, t)
	return t
}

// Forget drops the remembered stamp for id.
func (c *Clock) Forget(id string) {
	c.last.Remove(id)
}
