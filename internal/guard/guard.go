// Package guard implements the send circuit breaker: after enough
// consecutive send failures the whole engine pauses sending for a while,
// treating the streak as a platform-health signal rather than a per-source
// problem.
package guard

import (
	"sync"
	"time"
)

// FailureThreshold is the number of consecutive failures that trips the pause.
const FailureThreshold = 3

// Guard tracks consecutive send failures and imposes a time-boxed global
// pause. Pause expiry is lazy: the first IsPaused call at or past the
// deadline clears the pause and resets the counter, so no background timer
// is needed. State is process-lifetime only.
type Guard struct {
	now func() time.Time

	mu          sync.Mutex
	consecutive int
	pausedUntil time.Time
}

// New creates a Guard. now may be nil, defaulting to time.Now; tests inject
// a fake clock to drive expiry.
func New(now func() time.Time) *Guard {
	if now == nil {
		now = time.Now
	}
	return &Guard{now: now}
}

// RecordSuccess resets the failure counter.
func (g *Guard) RecordSuccess() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.consecutive = 0
}

// RecordFailure increments the counter and, upon reaching the threshold,
// starts a pause of the given duration. The counter is not reset by
// pausing; only a success, expiry, or Reset clears it.
func (g *Guard) RecordFailure(pause time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.consecutive++
	if g.consecutive >= FailureThreshold {
		g.pausedUntil = g.now().Add(pause)
	}
}

// IsPaused is the sole read path. Once the deadline has passed it clears
// the pause and the counter as a side effect and returns false.
func (g *Guard) IsPaused() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.pausedUntil.IsZero() {
		return false
	}
	if !g.now().Before(g.pausedUntil) {
		g.pausedUntil = time.Time{}
		g.consecutive = 0
		return false
	}
	return true
}

// Reset clears both the counter and any active pause (manual override).
func (g *Guard) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.consecutive = 0
	g.pausedUntil = time.Time{}
}

// Snapshot reports current state for the status API.
type Snapshot struct {
	ConsecutiveFailures int        `json:"consecutive_failures"`
	PausedUntil         *time.Time `json:"paused_until,omitempty"`
}

func (g *Guard) Snapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()

	s := Snapshot{ConsecutiveFailures: g.consecutive}
	if !g.pausedUntil.IsZero() && g.now().Before(g.pausedUntil) {
		until := g.pausedUntil
		s.PausedUntil = &until
	}
	return s
}
