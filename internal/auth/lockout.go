package auth

import (
	"fmt"
	"time"

	"github.com/BradenHooton/collegeerp/internal/models"
)

// Lockout tiers. These are fixed business policy, not configuration.
const (
	ShortLockThreshold     = 3
	LongLockThreshold      = 5
	PermanentLockThreshold = 8

	ShortLockWindow = 1 * time.Hour
	LongLockWindow  = 6 * time.Hour
)

// LockStatus is the result of evaluating an account's lockout state
type LockStatus struct {
	Locked    bool
	Permanent bool
	Remaining time.Duration
	Message   string
}

// RegisterFailure returns the lockout state after one more failed attempt at now
func RegisterFailure(s models.LockoutState, now time.Time) models.LockoutState {
	s.FailedAttempts++
	s.LastFailedAt = &now

	switch {
	case s.FailedAttempts >= PermanentLockThreshold:
		s.PermanentLock = true
		s.LockReason = models.PermanentLockReason
		s.LockedUntil = nil
	case s.FailedAttempts >= LongLockThreshold:
		until := now.Add(LongLockWindow)
		s.LockedUntil = &until
	case s.FailedAttempts >= ShortLockThreshold:
		until := now.Add(ShortLockWindow)
		s.LockedUntil = &until
	}

	return s
}

// EvaluateLock decides whether the account is blocked at now. When the state
// has to change (an elapsed window or a missing permanent flag) the new state
// is returned alongside the status; otherwise the second result is nil.
func EvaluateLock(s models.LockoutState, now time.Time) (LockStatus, *models.LockoutState) {
	if s.PermanentLock {
		return LockStatus{
			Locked:    true,
			Permanent: true,
			Message:   "Account is permanently locked. Please contact administrator.",
		}, nil
	}

	if s.FailedAttempts == 0 || s.LastFailedAt == nil {
		return LockStatus{Message: "Account is not locked."}, nil
	}

	if s.FailedAttempts >= PermanentLockThreshold {
		s.PermanentLock = true
		s.LockReason = models.PermanentLockReason
		s.LockedUntil = nil
		return LockStatus{
			Locked:    true,
			Permanent: true,
			Message:   "Account has been permanently locked due to too many failed attempts. Please contact administrator.",
		}, &s
	}

	if s.FailedAttempts >= LongLockThreshold {
		if remaining := s.LastFailedAt.Add(LongLockWindow).Sub(now); remaining > 0 {
			hours := int(remaining / time.Hour)
			minutes := int((remaining % time.Hour) / time.Minute)
			return LockStatus{
				Locked:    true,
				Remaining: remaining,
				Message:   fmt.Sprintf("Account is locked for %dh %dm due to multiple failed attempts.", hours, minutes),
			}, nil
		}
	}

	if s.FailedAttempts >= ShortLockThreshold {
		if remaining := s.LastFailedAt.Add(ShortLockWindow).Sub(now); remaining > 0 {
			return LockStatus{
				Locked:    true,
				Remaining: remaining,
				Message:   fmt.Sprintf("Account is locked for %d minutes due to failed attempts.", int(remaining/time.Minute)),
			}, nil
		}

		cleared, _ := ClearFailures(s)
		return LockStatus{Message: "Account is not locked."}, &cleared
	}

	// 1-2 failures: no lock, but the counter keeps accumulating
	return LockStatus{Message: "Account is not locked."}, nil
}

// ClearFailures zeroes the counter and temporary lock. It refuses, returning
// the state unchanged and false, when the account is permanently locked.
func ClearFailures(s models.LockoutState) (models.LockoutState, bool) {
	if s.PermanentLock {
		return s, false
	}
	s.FailedAttempts = 0
	s.LastFailedAt = nil
	s.LockedUntil = nil
	return s, true
}

// AttemptsBeforeNextTier is the number of further failures that move the
// account into the next lock tier. Zero means the final tier was reached.
func AttemptsBeforeNextTier(failedAttempts int) int {
	switch {
	case failedAttempts < ShortLockThreshold:
		return ShortLockThreshold - failedAttempts
	case failedAttempts < LongLockThreshold:
		return LongLockThreshold - failedAttempts
	case failedAttempts < PermanentLockThreshold:
		return PermanentLockThreshold - failedAttempts
	default:
		return 0
	}
}

// BadSecretMessage is shown after a wrong password has been recorded
func BadSecretMessage(failedAttempts int) string {
	if remaining := AttemptsBeforeNextTier(failedAttempts); remaining > 0 {
		return fmt.Sprintf("Invalid credentials. %d attempts remaining before next level of account lock.", remaining)
	}
	return "Invalid credentials. Account will be locked due to too many failed attempts."
}
