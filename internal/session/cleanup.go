package session

import (
	"errors"
	"fmt"
	"sync"
)

type releaseStep struct {
	name string
	fn   func() error
}

// Cleanup runs a session's release steps exactly once, in the order they were
// added, no matter how many paths ask for it
type Cleanup struct {
	mu    sync.Mutex
	once  sync.Once
	steps []releaseStep
	ran   bool
	err   error
}

// Add registers a release step. It reports false once cleanup has already run,
// in which case the caller still owns the resource.
func (c *Cleanup) Add(name string, fn func() error) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ran {
		return false
	}
	c.steps = append(c.steps, releaseStep{name: name, fn: fn})
	return true
}

// Run executes every step once. Later calls return the first run's error.
func (c *Cleanup) Run() error {
	c.once.Do(func() {
		c.mu.Lock()
		steps := c.steps
		c.steps = nil
		c.ran = true
		c.mu.Unlock()

		var errs []error
		for _, s := range steps {
			if err := s.fn(); err != nil {
				errs = append(errs, fmt.Errorf("release %s: %w", s.name, err))
			}
		}
		c.err = errors.Join(errs...)
	})
	return c.err
}
