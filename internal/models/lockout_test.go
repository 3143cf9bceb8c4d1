package models

import (
	"testing"
	"time"
)

func TestLockoutStatePrune(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	state := &LockoutState{
		Window: []AttemptRecord{
			{Timestamp: now.Add(-20 * time.Minute), Outcome: AttemptFailure},
			{Timestamp: now.Add(-15 * time.Minute), Outcome: AttemptFailure}, // exactly on the cutoff
			{Timestamp: now.Add(-14 * time.Minute), Outcome: AttemptFailure},
			{Timestamp: now.Add(-time.Minute), Outcome: AttemptSuccess},
		},
	}

	if removed := state.Prune(now, 15*time.Minute); !removed {
		t.Fatal("expected Prune to report removed records")
	}
	if len(state.Window) != 2 {
		t.Fatalf("expected 2 records in window, got %d", len(state.Window))
	}
	if got := state.Failures(); got != 1 {
		t.Errorf("expected 1 failure, got %d", got)
	}
	if removed := state.Prune(now, 15*time.Minute); removed {
		t.Error("second Prune should not remove anything")
	}
}

func TestLockoutStateLocked(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	until := now.Add(time.Minute)
	state := &LockoutState{LockedUntil: &until}

	if !state.Locked(now) {
		t.Error("expected state to be locked before LockedUntil")
	}
	if state.Locked(until) {
		t.Error("expected lock to lapse at LockedUntil")
	}
	if (&LockoutState{}).Locked(now) {
		t.Error("empty state must not be locked")
	}
}

func TestLockoutStateCloneIsDeep(t *testing.T) {
	until := time.Now()
	state := &LockoutState{
		LockedUntil: &until,
		Window:      []AttemptRecord{{Outcome: AttemptFailure}},
	}

	clone := state.Clone()
	clone.Window[0].Outcome = AttemptSuccess
	*clone.LockedUntil = until.Add(time.Hour)

	if state.Window[0].Outcome != AttemptFailure {
		t.Error("clone shares window storage")
	}
	if !state.LockedUntil.Equal(until) {
		t.Error("clone shares LockedUntil")
	}
}
