package services

import (
	"errors"
	"fmt"
	"strings"
)

// Allocation error taxonomy. Handlers map these to response codes; none
// of them carries internal detail a client should not see.
var (
	// ErrNotFound means the referenced room or user does not exist.
	ErrNotFound = errors.New("not found")
	// ErrQuotaExceeded means the claim would exceed the user's quota.
	ErrQuotaExceeded = errors.New("selection quota exceeded")
	// ErrRoomTaken means the room is already selected by another user.
	ErrRoomTaken = errors.New("room already taken")
	// ErrRoomLocked means the room has been removed from sale.
	ErrRoomLocked = errors.New("room is locked")
	// ErrNotOwner means a release was attempted by a non-owner.
	ErrNotOwner = errors.New("room not owned by user")
	// ErrNotAdmin means an admin-only operation was attempted by a
	// regular user.
	ErrNotAdmin = errors.New("administrator access required")
	// ErrConflict surfaces only after the bounded retry budget for
	// optimistic writes is exhausted.
	ErrConflict = errors.New("concurrent update conflict")
)

// ValidationError rejects an entire bulk operation. It aggregates every
// problem found so an admin can fix the input in one pass.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid bulk input: %s", strings.Join(e.Problems, "; "))
}

// NewValidationError builds a ValidationError from collected problems
func NewValidationError(problems []string) *ValidationError {
	return &ValidationError{Problems: problems}
}

// IsValidationError reports whether err is a bulk validation failure
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
