// Package credential holds the security core of member pre-registration:
// secret generation, hashing, masking and the lockout state machine.
// Nothing in this package touches storage; callers supply the record and
// persist the result.
package credential

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidLength is returned when a generator is asked for a secret
	// too short to hold one character of every required class.
	ErrInvalidLength = errors.New("invalid secret length")
	// ErrInvalidMember is returned when the member reference does not resolve.
	ErrInvalidMember = errors.New("invalid member")
	// ErrInvalidChannel is returned for an unknown delivery channel tag.
	ErrInvalidChannel = errors.New("invalid delivery channel")
	// ErrNotFound is returned when no credential exists for an id.
	ErrNotFound = errors.New("credential not found")
	// ErrAlreadyAccessed is returned when a completed credential is targeted.
	ErrAlreadyAccessed = errors.New("credential already accessed")
	// ErrExpired is returned when a credential is past its deadline.
	ErrExpired = errors.New("credential expired")
	// ErrLocked is returned when attempts are currently rejected.
	ErrLocked = errors.New("credential locked")
	// ErrInvalidSecret is returned when the candidate secret does not match.
	ErrInvalidSecret = errors.New("invalid secret")
	// ErrStorage wraps unexpected persistence or hashing failures.
	ErrStorage = errors.New("storage error")
	// ErrMalformedDigest is returned by Verify when the stored digest cannot
	// be parsed by the hashing algorithm.
	ErrMalformedDigest = errors.New("malformed secret digest")
)

// StorageError wraps cause as an ErrStorage failure of op.  Both
// errors.Is(err, ErrStorage) and errors.Is(err, cause) hold on the result.
func StorageError(op string, cause error) error {
	if cause == nil {
		return nil
	}
	if errors.Is(cause, ErrStorage) {
		return fmt.Errorf("%s: %w", op, cause)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStorage, cause)
}
