package audit

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jmerrifield20/auditchain/internal/correlation"
	"github.com/jmerrifield20/auditchain/internal/diffhash"
)

// MetricsRecorder is an optional callback for recording emission outcomes.
type MetricsRecorder func(action string, success bool)

// Emitter validates, hashes, stamps and writes audit entries.
type Emitter struct {
	sink      Sink
	hasher    diffhash.Hasher
	clock     *correlation.Clock
	onMetrics MetricsRecorder
	logger    *zap.Logger
}

// NewEmitter creates an Emitter writing to sink.
func NewEmitter(sink Sink, logger *zap.Logger) *Emitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Emitter{
		sink:   sink,
		hasher: diffhash.New(""),
		clock:  correlation.NewClock(0, nil),
		logger: logger,
	}
}

// SetHasher configures the diff hash algorithm.
func (e *Emitter) SetHasher(h diffhash.Hasher) {
	e.hasher = h
}

// SetClock replaces the timestamp source.
func (e *Emitter) SetClock(c *correlation.Clock) {
	e.clock = c
}

// SetMetricsRecorder configures the metrics callback.
func (e *Emitter) SetMetricsRecorder(fn MetricsRecorder) {
	e.onMetrics = fn
}

// Record emits exactly one entry for in. Validation failures are returned
// before anything is hashed. A sink failure is returned wrapped in
// ErrSinkWrite; it is never retried here and the caller must fail or
// compensate the mutation it was auditing.
func (e *Emitter) Record(ctx context.Context, in Input) (*Entry, error) {
	if err := validate(in); err != nil {
		return nil, err
	}

	corrID, err := resolveCorrelation(ctx, in.CorrelationID)
	if err != nil {
		return nil, err
	}

	entry := &Entry{
		ID:            uuid.NewString(),
		Actor:         strings.TrimSpace(in.Actor),
		Action:        strings.TrimSpace(in.Action),
		Target:        strings.TrimSpace(in.Target),
		Scope:         strings.TrimSpace(in.Scope),
		DiffHash:      e.hasher.Compute(in.Before, in.After),
		CorrelationID: corrID,
	}
	entry.Timestamp = e.clock.Stamp(corrID)

	if err := e.sink.Write(ctx, entry); err != nil {
		e.logger.Error("audit sink write failed",
			zap.String("action", entry.Action),
			zap.String("target", entry.Target),
			zap.String("correlation_id", entry.CorrelationID),
			zap.Error(err),
		)
		e.record(entry.Action, false)
		return nil, fmt.Errorf("%w: %w", ErrSinkWrite, err)
	}

	e.logger.Debug("audit entry emitted",
		zap.String("id", entry.ID),
		zap.String("action", entry.Action),
		zap.String("target", entry.Target),
		zap.String("correlation_id", entry.CorrelationID),
	)
	e.record(entry.Action, true)
	return entry, nil
}

func (e *Emitter) record(action string, success bool) {
	if e.onMetrics != nil {
		e.onMetrics(action, success)
	}
}

func validate(in Input) error {
	for _, f := range []struct{ name, val string }{
		{"actor", in.Actor},
		{"action", in.Action},
		{"target", in.Target},
		{"scope", in.Scope},
	} {
		if strings.TrimSpace(f.val) == "" {
			return NewValidationError(f.name, "must not be empty")
		}
	}
	return nil
}

// resolveCorrelation picks the explicit id, then the context's, then mints one.
func resolveCorrelation(ctx context.Context, explicit string) (string, error) {
	if strings.TrimSpace(explicit) != "" {
		id, ok := correlation.Normalize(explicit)
		if !ok {
			return "", NewValidationError("correlationId", "must be a UUID")
		}
		return id, nil
	}
	if id, ok := correlation.FromContext(ctx); ok {
		if norm, ok := correlation.Normalize(id); ok {
			return norm, nil
		}
		return "", NewValidationError("correlationId", "context carries a non-UUID id")
	}
	return correlation.New(), nil
}
