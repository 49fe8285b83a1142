package core

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidAmount  = errors.New("amount must be positive")
	ErrNegativeAmount = errors.New("amount cannot be negative")
	ErrAmountTooLarge = errors.New("amount exceeds maximum transaction amount")
	ErrEmptyCategory  = errors.New("empty category")
	ErrInvalidDate    = errors.New("date cannot be zero")
	ErrFutureDate     = errors.New("date cannot be in the future")
	ErrInvalidMonth   = errors.New("month must be between 1 and 12")
	ErrInvalidYear    = errors.New("year outside plausible calendar range")

	// ErrDuplicateEntry rejects an entry matching an existing one in amount,
	// category, and date window. Never retried.
	ErrDuplicateEntry = errors.New("duplicate entry")

	// ErrNotFound means the referenced id or natural key is absent.
	ErrNotFound = errors.New("record not found")

	// ErrStoreUnavailable means the store could not be opened; no further
	// operations are possible.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// ValidationError wraps a field-level invariant violation. It is detected
// before any workspace mutation is attempted and never retried.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// IsValidation reports whether err is a validation failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsNotFound reports whether err means an absent id or key.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// CommitError is a terminal store-level save failure, surfaced after the
// retry budget is exhausted. The caller's in-memory state may be ahead of the
// durable store once this is returned.
type CommitError struct {
	Attempts int
	Err      error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("commit failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *CommitError) Unwrap() error { return e.Err }
