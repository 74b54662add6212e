// Package lockout implements the PIN-entry escalation rules for store
// accounts: three consecutive failures lock the account for five minutes,
// and three lockouts without an intervening successful login block it
// until an administrator recovers it. The package is pure state; callers
// own persistence.
package lockout

import "time"

const (
	// MaxFailedAttempts is the number of bad PIN entries that triggers a
	// temporary lockout.
	MaxFailedAttempts = 3
	// LockDuration is how long a temporary lockout lasts.
	LockDuration = 5 * time.Minute
	// MaxConsecutiveLockouts is the number of back-to-back lockouts that
	// escalates to a permanent block.
	MaxConsecutiveLockouts = 3
)

// Status is the account's effective security state at a point in time.
type Status int

const (
	StatusOpen Status = iota
	StatusTempLocked
	StatusBlocked
)

// State holds the lockout counters embedded in an account record.
// Zero value = freshly created, fully open account.
type State struct {
	FailedAttempts      int32      `json:"failed_attempts"`
	LockoutUntil        *time.Time `json:"lockout_until"`
	ConsecutiveLockouts int32      `json:"consecutive_lockouts"`
	PermanentlyBlocked  bool       `json:"permanently_blocked"`
}

// Current reports the effective status at now. A lockout whose deadline
// has passed reads as open; ConsecutiveLockouts is untouched by the mere
// passage of time.
func (s *State) Current(now time.Time) Status {
	if s.PermanentlyBlocked {
		return StatusBlocked
	}
	if s.LockoutUntil != nil && s.LockoutUntil.After(now) {
		return StatusTempLocked
	}
	return StatusOpen
}

// FailureResult describes what a recorded failure escalated to.
type FailureResult int

const (
	// FailureCounted means the attempt was counted and the account stays open.
	FailureCounted FailureResult = iota
	// FailureLocked means the attempt triggered a temporary lockout.
	FailureLocked
	// FailureBlocked means the attempt escalated to a permanent block.
	FailureBlocked
)

// RecordFailure applies one bad PIN entry. Must only be called while the
// state is open; the caller checks Current first.
func (s *State) RecordFailure(now time.Time) FailureResult {
	s.FailedAttempts++
	if s.FailedAttempts < MaxFailedAttempts {
		return FailureCounted
	}

	// Third strike: start a lockout cycle and hand the next cycle a fresh
	// attempt budget.
	until := now.Add(LockDuration)
	s.LockoutUntil = &until
	s.ConsecutiveLockouts++
	s.FailedAttempts = 0

	if s.ConsecutiveLockouts >= MaxConsecutiveLockouts {
		// Permanent state supersedes the temporary deadline.
		s.PermanentlyBlocked = true
		s.LockoutUntil = nil
		return FailureBlocked
	}
	return FailureLocked
}

// Reset returns the state to its initial zero value. Used on successful
// login and on administrator recovery.
func (s *State) Reset() {
	*s = State{}
}

// AttemptsRemaining is the number of failures left before the next lockout.
func (s *State) AttemptsRemaining() int32 {
	return MaxFailedAttempts - s.FailedAttempts
}

// RetryAfter is the time left on an active temporary lockout, zero otherwise.
func (s *State) RetryAfter(now time.Time) time.Duration {
	if s.LockoutUntil == nil || !s.LockoutUntil.After(now) {
		return 0
	}
	return s.LockoutUntil.Sub(now)
}
