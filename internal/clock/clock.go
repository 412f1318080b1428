package clock

import (
	"sync"
	"time"
)

// Clock abstracts time operations for testability.
type Clock interface {
	Now() time.Time
}

// Real is a Clock backed by the system clock.
type Real struct{}

// Now returns the current time.
func (Real) Now() time.Time { return time.Now() }

// Mock is a Clock that returns a controllable time, for tests that need to
// cross auction start/end boundaries without sleeping.
type Mock struct {
	mu sync.Mutex
	t  time.Time
}

// NewMock returns a Mock frozen at t.
func NewMock(t time.Time) *Mock {
	return &Mock{t: t}
}

// Now returns the mock's current time.
func (m *Mock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t
}

// Set moves the mock to t.
func (m *Mock) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.t = t
}

// Advance moves the mock forward by d.
func (m *Mock) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.t = m.t.Add(d)
}
