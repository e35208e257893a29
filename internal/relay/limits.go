package relay

import (
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

const (
	// DefaultDedupSize is how many message IDs are remembered.
	DefaultDedupSize = 1024
	// DedupWindow is how long a message ID counts as seen.
	DedupWindow = 10 * time.Minute

	limiterCacheSize = 4096
)

// deduper remembers recently seen message IDs.
type deduper struct {
	mu   sync.Mutex
	seen *lru.Cache[string, time.Time]
	now  func() time.Time
	ttl  time.Duration
}

func newDeduper(size int, now func() time.Time) (*deduper, error) {
	if size <= 0 {
		size = DefaultDedupSize
	}
	seen, err := lru.New[string, time.Time](size)
	if err != nil {
		return nil, fmt.Errorf("message deduper init: %w", err)
	}
	return &deduper{seen: seen, now: now, ttl: DedupWindow}, nil
}

// duplicate records id and reports whether it was already seen inside the
// window. Empty IDs are never duplicates.
func (d *deduper) duplicate(id string) bool {
	if id == "" {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if ts, ok := d.seen.Get(id); ok {
		if now.Sub(ts) <= d.ttl {
			return true
		}
		d.seen.Remove(id)
	}
	d.seen.Add(id, now)
	return false
}

// forget drops id so a resend of a failed message is processed again.
func (d *deduper) forget(id string) {
	if id == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen.Remove(id)
}

// userLimiter is a token bucket per user. The least recently active users
// are forgotten first.
type userLimiter struct {
	limit    rate.Limit
	burst    int
	limiters *lru.Cache[string, *rate.Limiter]
	now      func() time.Time
	mu       sync.Mutex
}

func newUserLimiter(perMinute, burst int, now func() time.Time) (*userLimiter, error) {
	if perMinute <= 0 {
		return nil, nil
	}
	if burst <= 0 {
		burst = 1
	}
	limiters, err := lru.New[string, *rate.Limiter](limiterCacheSize)
	if err != nil {
		return nil, fmt.Errorf("rate limiter init: %w", err)
	}
	return &userLimiter{
		limit:    rate.Every(time.Minute / time.Duration(perMinute)),
		burst:    burst,
		limiters: limiters,
		now:      now,
	}, nil
}

// allow reports whether userID may send another message now. A nil limiter
// allows everything.
func (l *userLimiter) allow(userID string) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, ok := l.limiters.Get(userID)
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters.Add(userID, limiter)
	}
	return limiter.AllowN(l.now(), 1)
}
