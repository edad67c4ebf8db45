// Package cleanup implements the delayed-deletion hysteresis used by the
// controller to absorb container flaps (a container that stops and
// restarts within the cleanup delay never has its DNS record deleted).
package cleanup

import (
	"sync"
	"time"
)

// DefaultDelay is used when a configured delay string fails to parse.
const DefaultDelay = 15 * time.Minute

// Tracker records endpoints that are candidates for deletion and holds
// them for Delay before they become eligible. Safe for concurrent use.
type Tracker struct {
	delay time.Duration

	mu      sync.Mutex
	pending map[string]time.Time
	now     func() time.Time
}

// New returns a Tracker that holds marked endpoints for delay before they
// mature. A non-positive delay is rejected in favor of DefaultDelay.
func New(delay time.Duration) *Tracker {
	if delay <= 0 {
		delay = DefaultDelay
	}
	return &Tracker{
		delay:   delay,
		pending: make(map[string]time.Time),
		now:     time.Now,
	}
}

// MarkForDeletion records id as a deletion candidate, stamped with the
// current time. The insert is idempotent: if id is already pending, its
// original timestamp is left untouched so a flapping container doesn't
// perpetually reset its own clock.
func (t *Tracker) MarkForDeletion(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.pending[id]; exists {
		return
	}
	t.pending[id] = t.now()
}

// UnmarkForDeletion removes id from the pending set, e.g. because the
// container that owns it has restarted.
func (t *Tracker) UnmarkForDeletion(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.pending, id)
}

// GetEligibleForDeletion returns the ids whose delay has elapsed and
// removes them from the pending set. Ids still within their delay window
// remain pending.
func (t *Tracker) GetEligibleForDeletion() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	var eligible []string
	for id, markedAt := range t.pending {
		if now.Sub(markedAt) >= t.delay {
			eligible = append(eligible, id)
		}
	}
	for _, id := range eligible {
		delete(t.pending, id)
	}
	return eligible
}

// PendingStatus describes one endpoint awaiting deletion, for diagnostics.
type PendingStatus struct {
	ID            string
	MarkedAt      time.Time
	RemainingTime time.Duration
}

// GetPendingStatus returns a read-only snapshot of everything currently
// pending, without mutating the tracker.
func (t *Tracker) GetPendingStatus() []PendingStatus {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	statuses := make([]PendingStatus, 0, len(t.pending))
	for id, markedAt := range t.pending {
		remaining := t.delay - now.Sub(markedAt)
		if remaining < 0 {
			remaining = 0
		}
		statuses = append(statuses, PendingStatus{
			ID:            id,
			MarkedAt:      markedAt,
			RemainingTime: remaining,
		})
	}
	return statuses
}

// Len returns the number of endpoints currently pending deletion.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}
