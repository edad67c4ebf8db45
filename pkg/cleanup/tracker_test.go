package cleanup

import (
	"testing"
	"time"
)

func newTestTracker(delay time.Duration) (*Tracker, *fakeClock) {
	tr := New(delay)
	fc := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	tr.now = fc.Now
	return tr, fc
}

type fakeClock struct{ t time.Time }

func (f *fakeClock) Now() time.Time { return f.t }
func (f *fakeClock) Advance(d time.Duration) { f.t = f.t.Add(d) }

func TestMarkForDeletion_NotEligibleBeforeDelay(t *testing.T) {
	tr, clock := newTestTracker(10 * time.Minute)
	tr.MarkForDeletion("a.example.com:A")

	clock.Advance(5 * time.Minute)

	if got := tr.GetEligibleForDeletion(); len(got) != 0 {
		t.Errorf("GetEligibleForDeletion() = %v, want empty (within delay)", got)
	}
}

func TestMarkForDeletion_EligibleAfterDelay(t *testing.T) {
	tr, clock := newTestTracker(10 * time.Minute)
	tr.MarkForDeletion("a.example.com:A")

	clock.Advance(10 * time.Minute)

	got := tr.GetEligibleForDeletion()
	if len(got) != 1 || got[0] != "a.example.com:A" {
		t.Errorf("GetEligibleForDeletion() = %v, want [a.example.com:A]", got)
	}
	if tr.Len() != 0 {
		t.Errorf("Len() = %d, want 0 after eligible ids are drained", tr.Len())
	}
}

func TestMarkForDeletion_Idempotent_DoesNotResetTimer(t *testing.T) {
	tr, clock := newTestTracker(10 * time.Minute)
	tr.MarkForDeletion("a.example.com:A")

	clock.Advance(6 * time.Minute)
	tr.MarkForDeletion("a.example.com:A") // re-mark, should not reset clock

	clock.Advance(5 * time.Minute) // total 11 min since original mark

	got := tr.GetEligibleForDeletion()
	if len(got) != 1 {
		t.Errorf("GetEligibleForDeletion() = %v, want 1 entry (original timestamp preserved)", got)
	}
}

func TestUnmarkForDeletion_RemovesPending(t *testing.T) {
	tr, clock := newTestTracker(10 * time.Minute)
	tr.MarkForDeletion("a.example.com:A")
	tr.UnmarkForDeletion("a.example.com:A")

	clock.Advance(1 * time.Hour)

	if got := tr.GetEligibleForDeletion(); len(got) != 0 {
		t.Errorf("GetEligibleForDeletion() = %v, want empty after unmark", got)
	}
}

func TestUnmarkForDeletion_UnknownID_NoPanic(t *testing.T) {
	tr, _ := newTestTracker(10 * time.Minute)
	tr.UnmarkForDeletion("never-marked")
}

func TestGetEligibleForDeletion_MixedAges(t *testing.T) {
	tr, clock := newTestTracker(10 * time.Minute)
	tr.MarkForDeletion("old.example.com:A")
	clock.Advance(5 * time.Minute)
	tr.MarkForDeletion("new.example.com:A")
	clock.Advance(5 * time.Minute) // old is now 10m, new is 5m

	got := tr.GetEligibleForDeletion()
	if len(got) != 1 || got[0] != "old.example.com:A" {
		t.Errorf("GetEligibleForDeletion() = %v, want [old.example.com:A]", got)
	}
	if tr.Len() != 1 {
		t.Errorf("Len() = %d, want 1 (new.example.com:A still pending)", tr.Len())
	}
}

func TestGetPendingStatus_ReadOnly(t *testing.T) {
	tr, clock := newTestTracker(10 * time.Minute)
	tr.MarkForDeletion("a.example.com:A")
	clock.Advance(4 * time.Minute)

	statuses := tr.GetPendingStatus()
	if len(statuses) != 1 {
		t.Fatalf("GetPendingStatus() len = %d, want 1", len(statuses))
	}
	if statuses[0].ID != "a.example.com:A" {
		t.Errorf("ID = %q, want a.example.com:A", statuses[0].ID)
	}
	if statuses[0].RemainingTime != 6*time.Minute {
		t.Errorf("RemainingTime = %v, want 6m", statuses[0].RemainingTime)
	}

	// Confirm it did not mutate the tracker.
	if tr.Len() != 1 {
		t.Errorf("Len() = %d, want 1 (GetPendingStatus must not drain pending)", tr.Len())
	}
}

func TestGetPendingStatus_RemainingNeverNegative(t *testing.T) {
	tr, clock := newTestTracker(10 * time.Minute)
	tr.MarkForDeletion("a.example.com:A")
	clock.Advance(time.Hour)

	statuses := tr.GetPendingStatus()
	if statuses[0].RemainingTime != 0 {
		t.Errorf("RemainingTime = %v, want 0 (clamped)", statuses[0].RemainingTime)
	}
}

func TestNew_NonPositiveDelay_UsesDefault(t *testing.T) {
	tr := New(0)
	if tr.delay != DefaultDelay {
		t.Errorf("delay = %v, want DefaultDelay", tr.delay)
	}
	tr = New(-time.Minute)
	if tr.delay != DefaultDelay {
		t.Errorf("delay = %v, want DefaultDelay for negative input", tr.delay)
	}
}
