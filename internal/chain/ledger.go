package chain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jmerrifield20/auditchain/internal/audit"
	"github.com/jmerrifield20/auditchain/internal/canonical"
	"github.com/jmerrifield20/auditchain/internal/correlation"
	"github.com/jmerrifield20/auditchain/internal/digest"
)

// ActionAmend is the audit action emitted for every amendment.
const ActionAmend = "chain.record.amend"

// Operation outcomes passed to a MetricsRecorder.
const (
	OutcomeOK          = "ok"
	OutcomeConflict    = "conflict"
	OutcomeError       = "error"
	OutcomeRejected    = "rejected"
	OutcomeCompensated = "compensated"
	OutcomeValid       = "valid"
	OutcomeInvalid     = "invalid"
)

// MetricsRecorder is an optional callback receiving one call per append,
// amend or verify with its outcome.
type MetricsRecorder func(op, outcome string)

// AmendPolicy restricts corrections. A zero EditWindow allows amendments at
// any age.
type AmendPolicy struct {
	EditWindow time.Duration
}

// AmendRequest corrects the Current fields of one record.
type AmendRequest struct {
	RecordID string
	Actor    string
	Scope    string
	Reason   string

	// Changes is merged into Current key by key; a nil value stores null.
	Changes map[string]any

	CorrelationID string

	// Override lifts the edit window. Whether the actor may override is
	// decided by the caller.
	Override bool
}

// Attestor signs an export. See package attest.
type Attestor interface {
	Sign(x *Export) (string, error)
}

// Ledger appends, amends, verifies and exports chains held by a Store.
type Ledger struct {
	store     Store
	emitter   *audit.Emitter
	alg       digest.Algorithm
	policy    AmendPolicy
	attestor  Attestor
	now       func() time.Time
	onMetrics MetricsRecorder
	logger    *zap.Logger
}

// NewLedger creates a Ledger over store. emitter receives amendment events
// and may only be nil if Amend is never called.
func NewLedger(store Store, emitter *audit.Emitter, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		store:   store,
		emitter: emitter,
		alg:     digest.Default,
		now:     time.Now,
		logger:  logger,
	}
}

// SetAlgorithm selects the link hash function. Every record of every chain
// must use the same one; changing it invalidates existing chains.
func (l *Ledger) SetAlgorithm(alg digest.Algorithm) { l.alg = alg }

// Algorithm reports the link hash function.
func (l *Ledger) Algorithm() digest.Algorithm { return l.alg }

// SetAmendPolicy configures the edit window.
func (l *Ledger) SetAmendPolicy(p AmendPolicy) { l.policy = p }

// SetAttestor configures signing of exports.
func (l *Ledger) SetAttestor(a Attestor) { l.attestor = a }

// SetClock replaces time.Now.
func (l *Ledger) SetClock(now func() time.Time) { l.now = now }

// SetMetricsRecorder configures the metrics callback.
func (l *Ledger) SetMetricsRecorder(fn MetricsRecorder) { l.onMetrics = fn }

func (l *Ledger) record(op, outcome string) {
	if l.onMetrics != nil {
		l.onMetrics(op, outcome)
	}
}

func (l *Ledger) stamp() time.Time {
	// Microseconds survive every store's timestamp column.
	return l.now().UTC().Truncate(time.Microsecond)
}

// Head returns the hash of the last record of chain, or GenesisHash.
func (l *Ledger) Head(ctx context.Context, chain string) (string, error) {
	h, err := l.store.Head(ctx, chain)
	if err != nil {
		return "", err
	}
	return h.Hash, nil
}

// Prepare builds the next record of chain against the head as it is now. The
// record is not stored until Commit.
func (l *Ledger) Prepare(ctx context.Context, chain string, content any) (*Record, Head, error) {
	if strings.TrimSpace(chain) == "" {
		return nil, Head{}, audit.NewValidationError("chain", "must not be empty")
	}
	head, err := l.store.Head(ctx, chain)
	if err != nil {
		return nil, Head{}, fmt.Errorf("prepare append: %w", err)
	}
	node := canonical.Canonicalize(content)
	rec := &Record{
		ID:           uuid.NewString(),
		Chain:        chain,
		Position:     head.Length,
		Content:      node,
		Current:      node,
		PreviousHash: head.Hash,
		Hash:         LinkHash(l.alg, node, head.Hash),
		CreatedAt:    l.stamp(),
	}
	return rec, head, nil
}

// Commit stores rec if the chain head still equals expected. When another
// writer got there first the returned error is a *ConflictError.
func (l *Ledger) Commit(ctx context.Context, rec *Record, expected Head) error {
	err := l.store.Append(ctx, rec, expected)
	switch {
	case err == nil:
		l.record("append", OutcomeOK)
		l.logger.Debug("chain record appended",
			zap.String("chain", rec.Chain),
			zap.Int64("position", rec.Position),
			zap.String("hash", rec.Hash),
		)
		return nil
	case errors.Is(err, ErrConcurrentAppend):
		l.record("append", OutcomeConflict)
		l.logger.Warn("chain append conflict",
			zap.String("chain", rec.Chain),
			zap.Int64("position", rec.Position),
			zap.Error(err),
		)
		return err
	default:
		l.record("append", OutcomeError)
		return fmt.Errorf("commit record: %w", err)
	}
}

// Append prepares and commits one record in a single attempt.
func (l *Ledger) Append(ctx context.Context, chain string, content any) (*Record, error) {
	rec, head, err := l.Prepare(ctx, chain, content)
	if err != nil {
		return nil, err
	}
	if err := l.Commit(ctx, rec, head); err != nil {
		return nil, err
	}
	return rec, nil
}

// AppendWithRetry retries Append against the new head on conflicts only.
func (l *Ledger) AppendWithRetry(ctx context.Context, chain string, content any, cfg RetryConfig) (*Record, error) {
	var rec *Record
	err := retryConflicts(ctx, cfg, func(int) error {
		var err error
		rec, err = l.Append(ctx, chain, content)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Amend patches a record's Current fields and emits an audit entry for the
// correction. Hash, PreviousHash and Content are left untouched. If the
// audit entry cannot be written the correction is rolled back and the sink
// error returned.
func (l *Ledger) Amend(ctx context.Context, req AmendRequest) (*Record, *audit.Entry, error) {
	if err := validateAmend(ctx, req); err != nil {
		l.record("amend", OutcomeRejected)
		return nil, nil, err
	}
	if l.emitter == nil {
		return nil, nil, errors.New("amend: ledger has no audit emitter")
	}

	var (
		before     canonical.Node
		prevCount  int
		prevEdited *time.Time
	)
	now := l.stamp()
	amended, err := l.store.Amend(ctx, req.RecordID, func(rec *Record) error {
		if l.policy.EditWindow > 0 && !req.Override && now.Sub(rec.CreatedAt) > l.policy.EditWindow {
			return fmt.Errorf("amend record %s created %s: %w",
				rec.ID, rec.CreatedAt.Format(time.RFC3339), ErrEditWindowClosed)
		}
		before, prevCount, prevEdited = rec.Current, rec.EditCount, rec.EditedAt
		rec.Current = canonical.Patch(rec.Current, req.Changes)
		rec.EditCount++
		rec.EditedAt = &now
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrEditWindowClosed) || errors.Is(err, ErrRecordNotFound) {
			l.record("amend", OutcomeRejected)
			return nil, nil, err
		}
		l.record("amend", OutcomeError)
		return nil, nil, fmt.Errorf("amend record %s: %w", req.RecordID, err)
	}

	entry, err := l.emitter.Record(ctx, audit.Input{
		Actor:  req.Actor,
		Action: ActionAmend,
		Target: amended.ID,
		Scope:  req.Scope,
		Before: map[string]any{
			"current":   before,
			"editCount": prevCount,
		},
		After: map[string]any{
			"current":   amended.Current,
			"editCount": amended.EditCount,
			"reason":    req.Reason,
		},
		CorrelationID: req.CorrelationID,
	})
	if err != nil {
		l.compensate(ctx, amended, before, prevCount, prevEdited)
		l.record("amend", OutcomeCompensated)
		return nil, nil, fmt.Errorf("amend record %s: %w", req.RecordID, err)
	}

	l.record("amend", OutcomeOK)
	l.logger.Info("chain record amended",
		zap.String("chain", amended.Chain),
		zap.String("record_id", amended.ID),
		zap.Int("edit_count", amended.EditCount),
		zap.String("correlation_id", entry.CorrelationID),
	)
	return amended, entry, nil
}

// compensate restores the pre-amendment state unless a later amendment has
// already moved the record on.
func (l *Ledger) compensate(ctx context.Context, amended *Record, before canonical.Node, prevCount int, prevEdited *time.Time) {
	_, err := l.store.Amend(ctx, amended.ID, func(rec *Record) error {
		if rec.EditCount != amended.EditCount {
			return fmt.Errorf("record %s amended again (edit %d), not restoring edit %d",
				rec.ID, rec.EditCount, amended.EditCount)
		}
		rec.Current, rec.EditCount, rec.EditedAt = before, prevCount, prevEdited
		return nil
	})
	if err != nil {
		l.logger.Error("amendment compensation failed",
			zap.String("record_id", amended.ID),
			zap.Error(err),
		)
	}
}

func validateAmend(ctx context.Context, req AmendRequest) error {
	for _, f := range []struct{ name, val string }{
		{"recordId", req.RecordID},
		{"actor", req.Actor},
		{"scope", req.Scope},
		{"reason", req.Reason},
	} {
		if strings.TrimSpace(f.val) == "" {
			return audit.NewValidationError(f.name, "must not be empty")
		}
	}
	if len(req.Changes) == 0 {
		return audit.NewValidationError("changes", "must not be empty")
	}
	// The emitter would reject these only after the store was written.
	if strings.TrimSpace(req.CorrelationID) != "" {
		if _, ok := correlation.Normalize(req.CorrelationID); !ok {
			return audit.NewValidationError("correlationId", "must be a UUID")
		}
	} else if id, ok := correlation.FromContext(ctx); ok && !correlation.Valid(id) {
		return audit.NewValidationError("correlationId", "context carries a non-UUID id")
	}
	return nil
}

// Chains lists every chain with its head.
func (l *Ledger) Chains(ctx context.Context) ([]ChainHead, error) {
	return l.store.Chains(ctx)
}

// Records returns every record of chain in position order.
func (l *Ledger) Records(ctx context.Context, chain string) ([]Record, error) {
	return l.store.List(ctx, chain)
}

// Get returns one record by id.
func (l *Ledger) Get(ctx context.Context, id string) (*Record, error) {
	return l.store.Get(ctx, id)
}

// VerifyChain replays chain from genesis and then checks that the stored head
// matches the last record, which catches records deleted from the tail.
func (l *Ledger) VerifyChain(ctx context.Context, chain string) error {
	records, err := l.store.List(ctx, chain)
	if err != nil {
		l.record("verify", OutcomeError)
		return fmt.Errorf("verify chain %q: %w", chain, err)
	}
	head, err := l.store.Head(ctx, chain)
	if err != nil {
		l.record("verify", OutcomeError)
		return fmt.Errorf("verify chain %q: %w", chain, err)
	}

	err = VerifyWith(l.alg, records)
	if err == nil {
		err = checkHead(chain, records, head)
	}
	if err != nil {
		l.record("verify", OutcomeInvalid)
		l.logger.Warn("chain verification failed", zap.String("chain", chain), zap.Error(err))
		return err
	}
	l.record("verify", OutcomeValid)
	return nil
}

func checkHead(chain string, records []Record, head Head) error {
	want := GenesisHead
	if n := len(records); n > 0 {
		want = Head{Hash: records[n-1].Hash, Length: int64(n)}
	}
	if head != want {
		return &IntegrityError{
			Chain:    chain,
			Position: int64(len(records)),
			Reason:   "head does not match last record",
			Expected: fmt.Sprintf("%s@%d", want.Hash, want.Length),
			Actual:   fmt.Sprintf("%s@%d", head.Hash, head.Length),
		}
	}
	return nil
}
