package dom

import (
	"context"
	"sync"
)

// NavCounter counts navigations and lets callers wait for the next one.
type NavCounter struct {
	mu   sync.Mutex
	n    int
	next chan struct{}
}

func (c *NavCounter) lockedNext() chan struct{} {
	if c.next == nil {
		c.next = make(chan struct{})
	}
	return c.next
}

// Bump records one navigation and wakes every waiter.
func (c *NavCounter) Bump() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	close(c.lockedNext())
	c.next = make(chan struct{})
}

func (c *NavCounter) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

// Wait returns true once the count is above since, false if ctx ends first.
func (c *NavCounter) Wait(ctx context.Context, since int) bool {
	for {
		c.mu.Lock()
		n, ch := c.n, c.lockedNext()
		c.mu.Unlock()
		if n > since {
			return true
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return false
		}
	}
}
