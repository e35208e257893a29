package session

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultCleanupInterval is how often idle sessions are swept.
	DefaultCleanupInterval = 1 * time.Minute
	// DefaultIdleTimeout is how long a session may sit unused.
	DefaultIdleTimeout = 30 * time.Minute
)

// CleanupService periodically evicts idle sessions from a Coordinator.
type CleanupService struct {
	coordinator *Coordinator
	interval    time.Duration
	idleTimeout time.Duration
	cancel      context.CancelFunc
	done        chan struct{}
	mu          sync.Mutex
	running     bool
}

// NewCleanupService creates a cleanup service. Zero durations use the defaults.
func NewCleanupService(coordinator *Coordinator, interval, idleTimeout time.Duration) *CleanupService {
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	return &CleanupService{
		coordinator: coordinator,
		interval:    interval,
		idleTimeout: idleTimeout,
	}
}

// Start begins sweeping in the background. Starting twice is a no-op.
func (c *CleanupService) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return nil
	}

	cleanupCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.running = true

	go c.runCleanup(cleanupCtx, c.done)

	return nil
}

// Stop halts the sweeper and waits for it to exit.
func (c *CleanupService) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	cancel := c.cancel
	done := c.done
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// IsRunning reports whether the sweeper is active.
func (c *CleanupService) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Sweep runs one eviction pass and returns how many sessions were removed.
func (c *CleanupService) Sweep(ctx context.Context) int {
	removed := c.coordinator.ExpireIdle(c.coordinator.now().Add(-c.idleTimeout))

	logger := c.coordinator.logger
	if removed > 0 {
		logger.InfoContext(ctx, "Evicted idle sessions", slog.Int("removed", removed))
	}

	stats := c.coordinator.Stats()
	logger.DebugContext(ctx, "Session stats after cleanup",
		slog.Int("total", stats["total"]),
		slog.Int("ready", stats["ready"]),
	)
	return removed
}

func (c *CleanupService) runCleanup(ctx context.Context, done chan struct{}) {
	defer func() {
		c.mu.Lock()
		c.running = false
		close(done)
		c.mu.Unlock()
	}()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.coordinator.logger.InfoContext(ctx, "Session cleanup stopping")
			return
		case <-ticker.C:
			c.Sweep(ctx)
		}
	}
}
