// Package audit assembles immutable audit entries for state-changing
// operations and hands them to an append-only sink.
//
// Every emission carries a diff hash of the before/after snapshots and a
// correlation id grouping it with the other entries of the same logical
// operation. Sink adapters are provided for an in-memory log, JSON lines
// files, PostgreSQL, Redis Streams, NATS JetStream and Kafka.
package audit

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Entry is one emitted audit record. Entries are never mutated or deleted
// after a sink has accepted them.
type Entry struct {
	ID            string    `json:"id"`
	Actor         string    `json:"actor"`
	Action        string    `json:"action"`
	Target        string    `json:"target"`
	Scope         string    `json:"scope"`
	DiffHash      string    `json:"diffHash"`
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID string    `json:"correlationId"`
}

// Input describes one state change to be audited. Before and After are
// already-materialised snapshots; either may be nil for a create or delete.
// CorrelationID is optional and falls back to the id carried by the context.
type Input struct {
	Actor         string
	Action        string
	Target        string
	Scope         string
	Before        any
	After         any
	CorrelationID string
}

// Group is every entry sharing one correlation id, oldest first.
type Group struct {
	CorrelationID string  `json:"correlationId"`
	Entries       []Entry `json:"entries"`
}

// Sink durably accepts emitted entries. Write must not return until the entry
// is stored or queued durably.
type Sink interface {
	Write(ctx context.Context, e *Entry) error
}

// Querier is implemented by sinks that can read entries back.
type Querier interface {
	Group(ctx context.Context, correlationID string) (*Group, error)
}

var (
	// ErrValidation is matched by every *ValidationError.
	ErrValidation = errors.New("audit: validation failed")

	// ErrSinkWrite wraps failures returned by a Sink.
	ErrSinkWrite = errors.New("audit: sink write failed")
)

// ValidationError reports a required field that was missing or malformed.
type ValidationError struct {
	Field  string
	Reason string
}

// NewValidationError returns a *ValidationError for field.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("audit: invalid %s: %s", e.Field, e.Reason)
}

// Is reports whether target is ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}
