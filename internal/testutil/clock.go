package testutil

import (
	"sync"
	"time"
)

// Clock — управляемые часы для тестов. Безопасны для конкурентного использования.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock создаёт часы, выставленные на start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now реализует domain.Clock.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance сдвигает часы вперёд.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set выставляет абсолютное время.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}
