// Package repository defines the persistence layer and the error values
// reused across repositories.  These sentinel values let the service
// layer tell "row does not exist" apart from infrastructure failures
// without inspecting driver errors.
package repository

import "errors"

// ErrCredentialNotFound is returned when no credential row matches an id.
var ErrCredentialNotFound = errors.New("credential not found")

// ErrMemberNotFound is returned when a member reference does not resolve.
var ErrMemberNotFound = errors.New("member not found")

// ErrNoChange may be returned by an Update callback to release the row
// lock without writing anything.  Update then reports success with the
// record as it was read.
var ErrNoChange = errors.New("no change")

// ErrEmailExists is returned when creating a user whose email is taken.
var ErrEmailExists = errors.New("email already exists")
