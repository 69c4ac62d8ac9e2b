package session

import (
	"context"
	"sync"
	"time"
)

// AttemptCounter tracks failed login attempts per key within a fixed
// window. Implementations must be safe for concurrent use; deployments
// with more than one serving instance need a shared backend (the
// Postgres implementation) so attackers cannot multiply the budget by
// spraying instances.
type AttemptCounter interface {
	// Hit records one attempt and returns the count accumulated in the
	// current window, including this one.
	Hit(ctx context.Context, key string) (int, error)
	// Reset clears the window for the key. Called after a successful
	// login so legitimate users do not inherit a stale failure budget.
	Reset(ctx context.Context, key string) error
}

type memoryWindow struct {
	count   int
	started time.Time
}

// MemoryCounter is a process-local AttemptCounter for single-instance
// deployments and tests.
type MemoryCounter struct {
	mu      sync.Mutex
	window  time.Duration
	now     func() time.Time
	entries map[string]memoryWindow
}

// NewMemoryCounter builds a counter with the given fixed window.
func NewMemoryCounter(window time.Duration) *MemoryCounter {
	if window <= 0 {
		window = 15 * time.Minute
	}
	return &MemoryCounter{
		window:  window,
		now:     time.Now,
		entries: make(map[string]memoryWindow),
	}
}

// Hit implements AttemptCounter.
func (c *MemoryCounter) Hit(_ context.Context, key string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	entry, ok := c.entries[key]
	if !ok || now.Sub(entry.started) >= c.window {
		entry = memoryWindow{count: 0, started: now}
	}
	entry.count++
	c.entries[key] = entry
	return entry.count, nil
}

// Reset implements AttemptCounter.
func (c *MemoryCounter) Reset(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}
