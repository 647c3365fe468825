package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrStoreUnavailable marks persistence failures; surfaced as 500.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrAuthTokenInvalid marks a malformed or expired credential. The
	// tracking endpoint downgrades such visitors to anonymous.
	ErrAuthTokenInvalid = errors.New("auth token invalid")
	// ErrUserNotFound is returned by user lookups with no match.
	ErrUserNotFound = errors.New("user not found")
	// ErrIndexNotFound is returned when dropping an index that does not exist.
	ErrIndexNotFound = errors.New("index not found")
)

// ValidationError is a malformed tracking event; surfaced as 400.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// StoreError wraps a driver error from a store operation. It matches
// ErrStoreUnavailable under errors.Is.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func (e *StoreError) Is(target error) bool {
	return target == ErrStoreUnavailable
}

// StoreErr wraps err as a StoreError, passing nil through.
func StoreErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}
