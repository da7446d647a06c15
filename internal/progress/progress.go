// Package progress tracks completed work shared between goroutines.
package progress

import "sync"

// Counter is a monotonically increasing completed-count with a fixed total.
// It is safe for concurrent use.
type Counter struct {
	mu       sync.Mutex
	name     string
	total    int
	done     int
	onUpdate func(name string, done, total int)
}

// NewCounter creates a Counter. onUpdate, if non-nil, is called after every
// increment while the counter lock is held, so calls are serialized.
func NewCounter(name string, total int, onUpdate func(name string, done, total int)) *Counter {
	return &Counter{
		name:     name,
		total:    total,
		onUpdate: onUpdate,
	}
}

// Inc records one completed item and returns the new count.
func (c *Counter) Inc() int {
	if c == nil {
		return 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.done++
	if c.onUpdate != nil {
		c.onUpdate(c.name, c.done, c.total)
	}
	return c.done
}

// Done returns the number of completed items.
func (c *Counter) Done() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// Total returns the expected number of items.
func (c *Counter) Total() int {
	if c == nil {
		return 0
	}
	return c.total
}
