package clock

import (
	"sync"
	"time"
)

// Clock provides current time abstraction for deterministic tests.
// Params: none.
// Returns: current wall-clock time.
type Clock interface {
	Now() time.Time
}

// RealClock reads current UTC time from system clock.
type RealClock struct{}

// Now returns current UTC time.
func (RealClock) Now() time.Time {
	return time.Now().UTC()
}

// Manual is a settable clock used by scheduler tests and simulations.
// Params: initial instant passed to NewManual.
// Returns: clock that only moves on Set/Advance.
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

// NewManual creates manual clock pinned at start.
// Params: start instant.
// Returns: manual clock.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start.UTC()}
}

// Now returns pinned instant.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Set pins clock to instant.
func (m *Manual) Set(at time.Time) {
	m.mu.Lock()
	m.now = at.UTC()
	m.mu.Unlock()
}

// Advance moves clock forward by delta.
// Params: positive or negative duration.
// Returns: new pinned instant.
func (m *Manual) Advance(delta time.Duration) time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(delta)
	return m.now
}

// TruncateMinute drops seconds and sub-second parts in UTC.
// Params: any instant.
// Returns: start of the minute containing at.
func TruncateMinute(at time.Time) time.Time {
	return at.UTC().Truncate(time.Minute)
}
