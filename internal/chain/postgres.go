package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/jmerrifield20/auditchain/internal/canonical"
)

// PostgresStore persists chains to the chain_heads and chain_records tables.
// Content and Current are stored as canonical JSON text rather than JSONB so
// the bytes that were hashed are the bytes read back.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresStore creates a PostgresStore backed by the given connection pool.
func NewPostgresStore(pool *pgxpool.Pool, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{pool: pool, logger: logger}
}

const recordColumns = `id, chain, position, content, current_state, hash, previous_hash, edit_count, edited_at, created_at`

// Head implements Store.
func (s *PostgresStore) Head(ctx context.Context, chain string) (Head, error) {
	var h Head
	err := s.pool.QueryRow(ctx,
		"SELECT head_hash, length FROM chain_heads WHERE chain = $1", chain,
	).Scan(&h.Hash, &h.Length)
	if errors.Is(err, pgx.ErrNoRows) {
		return GenesisHead, nil
	}
	if err != nil {
		return Head{}, fmt.Errorf("read chain head %q: %w", chain, err)
	}
	return h, nil
}

// Append implements Store.
// The head row is created on first use, then moved with an UPDATE guarded by
// the expected hash and length. Concurrent writers block on the row lock and
// the loser re-evaluates the guard against the committed head, affecting zero
// rows.
func (s *PostgresStore) Append(ctx context.Context, rec *Record, expected Head) error {
	if err := checkLink(rec, expected); err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx,
		`INSERT INTO chain_heads (chain, head_hash, length) VALUES ($1, $2, 0)
		 ON CONFLICT (chain) DO NOTHING`,
		rec.Chain, GenesisHash,
	); err != nil {
		return fmt.Errorf("init chain head: %w", err)
	}

	tag, err := tx.Exec(ctx,
		`UPDATE chain_heads SET head_hash = $2, length = length + 1, updated_at = now()
		 WHERE chain = $1 AND head_hash = $3 AND length = $4`,
		rec.Chain, rec.Hash, expected.Hash, expected.Length,
	)
	if err != nil {
		return fmt.Errorf("advance chain head: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var actual Head
		if err := tx.QueryRow(ctx,
			"SELECT head_hash, length FROM chain_heads WHERE chain = $1", rec.Chain,
		).Scan(&actual.Hash, &actual.Length); err != nil {
			return fmt.Errorf("read chain head %q: %w", rec.Chain, err)
		}
		return &ConflictError{Chain: rec.Chain, Expected: expected, Actual: actual}
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO chain_records (`+recordColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		rec.ID, rec.Chain, rec.Position,
		string(canonical.Marshal(rec.Content)), string(canonical.Marshal(rec.Current)),
		rec.Hash, rec.PreviousHash, rec.EditCount, rec.EditedAt, rec.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert chain record: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit chain tx: %w", err)
	}

	s.logger.Debug("chain record stored",
		zap.String("chain", rec.Chain),
		zap.Int64("position", rec.Position),
		zap.String("hash", rec.Hash),
	)
	return nil
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, id string) (*Record, error) {
	rec, err := scanRecord(s.pool.QueryRow(ctx,
		"SELECT "+recordColumns+" FROM chain_records WHERE id = $1", id,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("get record %s: %w", id, ErrRecordNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get record %s: %w", id, err)
	}
	return rec, nil
}

// List implements Store.
func (s *PostgresStore) List(ctx context.Context, chain string) ([]Record, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT "+recordColumns+" FROM chain_records WHERE chain = $1 ORDER BY position ASC", chain,
	)
	if err != nil {
		return nil, fmt.Errorf("query chain %q: %w", chain, err)
	}
	defer rows.Close()

	out := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chain record: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// Chains implements Store.
func (s *PostgresStore) Chains(ctx context.Context) ([]ChainHead, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT chain, head_hash, length FROM chain_heads ORDER BY chain ASC",
	)
	if err != nil {
		return nil, fmt.Errorf("query chain heads: %w", err)
	}
	heads, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ChainHead, error) {
		var ch ChainHead
		err := row.Scan(&ch.Chain, &ch.Hash, &ch.Length)
		return ch, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan chain heads: %w", err)
	}
	return heads, nil
}

// Amend implements Store.
func (s *PostgresStore) Amend(ctx context.Context, id string, fn func(*Record) error) (*Record, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	rec, err := scanRecord(tx.QueryRow(ctx,
		"SELECT "+recordColumns+" FROM chain_records WHERE id = $1 FOR UPDATE", id,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("amend record %s: %w", id, ErrRecordNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load record %s: %w", id, err)
	}

	if err := fn(rec); err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx,
		`UPDATE chain_records SET current_state = $2, edit_count = $3, edited_at = $4 WHERE id = $1`,
		id, string(canonical.Marshal(rec.Current)), rec.EditCount, rec.EditedAt,
	); err != nil {
		return nil, fmt.Errorf("update record %s: %w", id, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit amend tx: %w", err)
	}
	return s.Get(ctx, id)
}

func scanRecord(row pgx.Row) (*Record, error) {
	var (
		rec              Record
		content, current string
		editedAt         *time.Time
	)
	if err := row.Scan(
		&rec.ID, &rec.Chain, &rec.Position, &content, &current,
		&rec.Hash, &rec.PreviousHash, &rec.EditCount, &editedAt, &rec.CreatedAt,
	); err != nil {
		return nil, err
	}
	if err := decodeNodes(&rec, content, current); err != nil {
		return nil, err
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	if editedAt != nil {
		t := editedAt.UTC()
		rec.EditedAt = &t
	}
	return &rec, nil
}

func decodeNodes(rec *Record, content, current string) error {
	if err := json.Unmarshal([]byte(content), &rec.Content); err != nil {
		return fmt.Errorf("decode content of %s: %w", rec.ID, err)
	}
	if err := json.Unmarshal([]byte(current), &rec.Current); err != nil {
		return fmt.Errorf("decode current of %s: %w", rec.ID, err)
	}
	return nil
}
