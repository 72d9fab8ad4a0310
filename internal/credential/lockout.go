package credential

import (
	"time"

	"github.com/iliyamo/member-onboarding/internal/model"
)

// Outcome is the result of one first-access attempt.
type Outcome string

const (
	OutcomeSuccess         Outcome = "success"
	OutcomeInvalidSecret   Outcome = "invalid_secret"
	OutcomeLocked          Outcome = "locked"
	OutcomeExpired         Outcome = "expired"
	OutcomeAlreadyAccessed Outcome = "already_accessed"
)

// DefaultLockDuration is how long a credential stays locked once the
// failure ceiling is reached.
const DefaultLockDuration = 15 * time.Minute

// DefaultMaxAttempts is the failure ceiling for new credentials.
const DefaultMaxAttempts = 5

// State names the lifecycle position of a credential at an instant.
type State string

const (
	StateIssued   State = "issued"
	StateLocked   State = "locked"
	StateExpired  State = "expired"
	StateAccessed State = "accessed"
)

// StateAt classifies rec at now.  Accessed wins over expiry, expiry wins
// over an active lock.
func StateAt(rec *model.Credential, now time.Time) State {
	switch {
	case rec.Accessed():
		return StateAccessed
	case rec.ExpiredAt(now):
		return StateExpired
	case rec.LockedAt(now):
		return StateLocked
	}
	return StateIssued
}

// Precheck returns the rejecting outcome for an attempt at now, or ok=false
// when the candidate secret has to be verified.  It runs before any hashing
// so locked, expired and finished credentials never cost a bcrypt round.
func Precheck(rec *model.Credential, now time.Time) (Outcome, bool) {
	switch StateAt(rec, now) {
	case StateAccessed:
		return OutcomeAlreadyAccessed, true
	case StateExpired:
		return OutcomeExpired, true
	case StateLocked:
		return OutcomeLocked, true
	}
	return "", false
}

// Transition is the result of applying one attempt to a record.
type Transition struct {
	Next    model.Credential
	Outcome Outcome
	Changed bool
}

// AttemptsRemaining reports how many failures are left before lockout.
func (t Transition) AttemptsRemaining() int {
	n := maxAttempts(&t.Next) - t.Next.FailedAttempts
	if n < 0 {
		return 0
	}
	return n
}

// Apply computes the next record for an attempt whose verification verdict
// is matched.  It is pure: rec is not modified.  Rejections from Precheck
// are returned unchanged so the function is safe to call even when the
// caller skipped verification.
func Apply(rec model.Credential, matched bool, originIP string, now time.Time, lockFor time.Duration) Transition {
	if out, rejected := Precheck(&rec, now); rejected {
		return Transition{Next: rec, Outcome: out}
	}
	if lockFor <= 0 {
		lockFor = DefaultLockDuration
	}

	next := rec
	// A lock that has run out starts a fresh window.
	if next.LockedUntil != nil {
		next.LockedUntil = nil
		next.FailedAttempts = 0
	}
	next.UpdatedAt = now

	if matched {
		at := now
		ip := originIP
		next.FirstAccessedAt = &at
		next.FirstAccessIP = &ip
		next.FailedAttempts = 0
		next.LockedUntil = nil
		return Transition{Next: next, Outcome: OutcomeSuccess, Changed: true}
	}

	next.FailedAttempts++
	if next.FailedAttempts >= maxAttempts(&next) {
		until := now.Add(lockFor)
		next.LockedUntil = &until
		return Transition{Next: next, Outcome: OutcomeLocked, Changed: true}
	}
	return Transition{Next: next, Outcome: OutcomeInvalidSecret, Changed: true}
}

func maxAttempts(rec *model.Credential) int {
	if rec.MaxAttempts < 1 {
		return 1
	}
	return rec.MaxAttempts
}
