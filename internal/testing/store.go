package testing

import (
	"sync"
	"testing"
	"time"

	"github.com/xtxerr/faultlogger/internal/storage/config"
)

// Clock is a manually advanced clock for deterministic timestamps.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock stopped at start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now returns the current clock time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// NewConfig returns a store configuration rooted in a temporary directory,
// with the background retention worker and both eviction policies off.
func NewConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.WAL.SyncMode = "sync"
	cfg.Retention.Enabled = false
	cfg.Retention.MaxAge = 0
	cfg.Retention.MaxPerCategory = 0
	return cfg
}
