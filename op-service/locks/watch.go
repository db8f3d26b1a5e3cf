package locks

import (
	"context"
	"sync"
)

// Watch makes a value watch-able: every change is offered to those watching.
// Notifications never block the writer; a watcher with a full buffer misses
// intermediate values but always sees the latest one through Get.
type Watch[E any] struct {
	mu       sync.RWMutex
	value    E
	watchers map[chan E]struct{}
}

func (c *Watch[E]) Get() (out E) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out = c.value
	return
}

// Set changes the value, and notifies the watchers.
func (c *Watch[E]) Set(v E) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = v
	for ch := range c.watchers {
		select {
		case ch <- v:
		default:
		}
	}
}

// Watch adds a subscriber, until the returned cancel func is called.
func (c *Watch[E]) Watch(dest chan E) (cancel func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.watchers == nil {
		c.watchers = make(map[chan E]struct{})
	}
	c.watchers[dest] = struct{}{}
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.watchers, dest)
	}
}

// Catch blocks until the value satisfies the condition, or the context is done.
func (c *Watch[E]) Catch(ctx context.Context, condition func(E) bool) (E, error) {
	out := make(chan E, 1)
	cancelWatch := c.Watch(out)
	defer cancelWatch()

	// checked after subscribing, so a change in between is not lost
	if x := c.Get(); condition(x) {
		return x, nil
	}
	for {
		select {
		case <-ctx.Done():
			var x E
			return x, ctx.Err()
		case <-out:
			if x := c.Get(); condition(x) {
				return x, nil
			}
		}
	}
}
