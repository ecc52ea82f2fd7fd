// Package executor turns ranked opportunities into signed bundles and drives
// them through the broadcast fan-out, with at-most-once dispatch per
// opportunity ID.
package executor

import "sync"

// InflightTable is the in-process at-most-once guard: an opportunity ID can
// be held by exactly one goroutine at a time, and once marked done it can
// never be acquired again.
type InflightTable struct {
	mu   sync.Mutex
	held map[string]bool // true once the ID reached a terminal outcome
}

// NewInflightTable returns an empty table.
func NewInflightTable() *InflightTable {
	return &InflightTable{held: make(map[string]bool)}
}

// TryAcquire claims the ID. It returns false when the ID is already held or
// already finished. On success the caller must call exactly one of Release
// or Finish.
func (t *InflightTable) TryAcquire(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.held[id]; ok {
		return false
	}
	t.held[id] = false
	return true
}

// Release gives the ID back without a terminal outcome; a later detection of
// the same ID may acquire it again.
func (t *InflightTable) Release(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if done, ok := t.held[id]; ok && !done {
		delete(t.held, id)
	}
}

// Finish marks the ID terminally done; it stays in the table so re-detections
// within the dedup window can never dispatch it twice.
func (t *InflightTable) Finish(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.held[id] = true
}

// Forget drops a finished ID, called when its dedup window lapses.
func (t *InflightTable) Forget(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.held, id)
}

// Len returns the number of tracked IDs.
func (t *InflightTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.held)
}
