package chain

import (
	"errors"
	"fmt"
)

var (
	// ErrChainIntegrity is matched by every *IntegrityError. It is only
	// returned by verification, never by an append.
	ErrChainIntegrity = errors.New("chain: integrity check failed")

	// ErrConcurrentAppend is matched by every *ConflictError.
	ErrConcurrentAppend = errors.New("chain: concurrent append conflict")

	ErrRecordNotFound   = errors.New("chain: record not found")
	ErrEditWindowClosed = errors.New("chain: edit window closed")
)

// IntegrityError reports the first chain position that failed verification.
type IntegrityError struct {
	Chain    string
	Position int64
	Reason   string
	Expected string
	Actual   string
}

func (e *IntegrityError) Error() string {
	msg := fmt.Sprintf("chain %q broken at position %d: %s", e.Chain, e.Position, e.Reason)
	if e.Expected != "" || e.Actual != "" {
		msg += fmt.Sprintf(" (expected %s, got %s)", e.Expected, e.Actual)
	}
	return msg
}

// Is reports whether target is ErrChainIntegrity.
func (e *IntegrityError) Is(target error) bool {
	return target == ErrChainIntegrity
}

// ConflictError reports that a chain head moved between reading it and
// committing a record against it. The caller retries against Actual.
type ConflictError struct {
	Chain    string
	Expected Head
	Actual   Head
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("chain %q head moved: expected %s@%d, now %s@%d",
		e.Chain, e.Expected.Hash, e.Expected.Length, e.Actual.Hash, e.Actual.Length)
}

// Is reports whether target is ErrConcurrentAppend.
func (e *ConflictError) Is(target error) bool {
	return target == ErrConcurrentAppend
}
