// Package scorer ranks detected opportunities by expected value per unit of
// remaining lifetime and feeds the best candidates to the executor through a
// bounded priority queue.
package scorer

import (
	"math"
	"sync"
	"time"
)

// HotnessTracker counts recent activity per route key with exponential decay.
// A route that keeps producing opportunities is one other searchers see too;
// its competition discount grows with the decayed count.
type HotnessTracker struct {
	halfLife time.Duration

	mu      sync.Mutex
	entries map[string]*hotEntry
}

type hotEntry struct {
	count float64
	last  time.Time
}

// NewHotnessTracker creates a tracker with the given decay half-life. A zero
// half-life defaults to 30 seconds.
func NewHotnessTracker(halfLife time.Duration) *HotnessTracker {
	if halfLife <= 0 {
		halfLife = 30 * time.Second
	}
	return &HotnessTracker{
		halfLife: halfLife,
		entries:  make(map[string]*hotEntry),
	}
}

// Observe records one sighting of the route key at t.
func (h *HotnessTracker) Observe(key string, t time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.entries[key]
	if !ok {
		h.entries[key] = &hotEntry{count: 1, last: t}
		return
	}
	e.count = decay(e.count, t.Sub(e.last), h.halfLife) + 1
	e.last = t
}

// Count returns the decayed sighting count for the route key at t.
func (h *HotnessTracker) Count(key string, t time.Time) float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.entries[key]
	if !ok {
		return 0
	}
	return decay(e.count, t.Sub(e.last), h.halfLife)
}

// CompetitionFactor returns the priority multiplier in (0, 1] for the route
// key: 1 for a cold route, shrinking as the decayed count grows. The 1/(1+n)
// shape is a heuristic tunable, not a calibrated model.
func (h *HotnessTracker) CompetitionFactor(key string, t time.Time) float64 {
	return 1 / (1 + h.Count(key, t))
}

// Prune drops entries whose decayed count has fallen below 0.01.
func (h *HotnessTracker) Prune(t time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for key, e := range h.entries {
		if decay(e.count, t.Sub(e.last), h.halfLife) < 0.01 {
			delete(h.entries, key)
		}
	}
}

func decay(count float64, elapsed, halfLife time.Duration) float64 {
	if elapsed <= 0 {
		return count
	}
	return count * math.Exp2(-float64(elapsed)/float64(halfLife))
}
