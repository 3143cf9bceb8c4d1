package models

import "time"

// AttemptOutcome is the result of one password login.
type AttemptOutcome string

const (
	AttemptSuccess AttemptOutcome = "success"
	AttemptFailure AttemptOutcome = "failure"
)

// AttemptRecord is one password login attempt.
type AttemptRecord struct {
	Timestamp time.Time      `json:"timestamp"`
	Outcome   AttemptOutcome `json:"outcome"`
	// IdentityHint is kept for audit correlation only.
	IdentityHint string `json:"identity_hint,omitempty"`
}

// LockoutState is the persisted state of the attempt-rate governor.
type LockoutState struct {
	LockedUntil *time.Time      `json:"locked_until,omitempty"`
	Window      []AttemptRecord `json:"window"`
}

// Prune drops records at or before now-window. It reports whether anything
// was removed.
func (s *LockoutState) Prune(now time.Time, window time.Duration) bool {
	cutoff := now.Add(-window)
	kept := s.Window[:0]
	for _, rec := range s.Window {
		if rec.Timestamp.After(cutoff) {
			kept = append(kept, rec)
		}
	}
	removed := len(kept) != len(s.Window)
	s.Window = kept
	return removed
}

// Failures counts failed attempts in the window.
func (s *LockoutState) Failures() int {
	n := 0
	for _, rec := range s.Window {
		if rec.Outcome == AttemptFailure {
			n++
		}
	}
	return n
}

// Locked reports whether a lockout is active at now.
func (s *LockoutState) Locked(now time.Time) bool {
	return s.LockedUntil != nil && s.LockedUntil.After(now)
}

// Clone returns a deep copy.
func (s *LockoutState) Clone() *LockoutState {
	out := &LockoutState{Window: append([]AttemptRecord(nil), s.Window...)}
	if s.LockedUntil != nil {
		until := *s.LockedUntil
		out.LockedUntil = &until
	}
	return out
}
