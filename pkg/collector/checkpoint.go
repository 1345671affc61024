package collector

import (
	"sync"
	"time"
)

// checkpoint is the newest data timestamp a strategy has stored.
// Embedded by strategies to implement Checkpointer.
type checkpoint struct {
	mu sync.Mutex
	at time.Time
}

// Checkpoint returns the newest data timestamp stored so far.
func (c *checkpoint) Checkpoint() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.at
}

// Resume moves the checkpoint forward, never backward.
func (c *checkpoint) Resume(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.After(c.at) {
		c.at = t
	}
}
