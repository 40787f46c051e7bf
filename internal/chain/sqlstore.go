package chain

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/jmerrifield20/auditchain/internal/canonical"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS chain_heads (
    chain      TEXT PRIMARY KEY,
    head_hash  TEXT NOT NULL,
    length     INTEGER NOT NULL,
    updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS chain_records (
    id            TEXT PRIMARY KEY,
    chain         TEXT NOT NULL REFERENCES chain_heads(chain),
    position      INTEGER NOT NULL,
    content       TEXT NOT NULL,
    current_state TEXT NOT NULL,
    hash          TEXT NOT NULL,
    previous_hash TEXT NOT NULL,
    edit_count    INTEGER NOT NULL DEFAULT 0,
    edited_at     TEXT,
    created_at    TEXT NOT NULL,
    UNIQUE (chain, position)
);`

// SQLStore is a Store over database/sql. It is exercised with the pure-Go
// SQLite driver; timestamps are kept as RFC 3339 text.
type SQLStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// OpenSQLite opens (or creates) a SQLite database at path and applies the
// schema. ":memory:" gives a private in-memory database.
func OpenSQLite(ctx context.Context, path string, logger *zap.Logger) (*SQLStore, error) {
	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// One connection serialises writers and keeps a :memory: database alive.
	db.SetMaxOpenConns(1)

	s := NewSQLStore(db, logger)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLStore wraps an already-open database. Call Migrate before use.
func NewSQLStore(db *sql.DB, logger *zap.Logger) *SQLStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQLStore{db: db, logger: logger}
}

// Migrate creates the chain tables if they do not exist.
func (s *SQLStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("apply sqlite schema: %w", err)
	}
	return nil
}

// DB exposes the underlying handle.
func (s *SQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *SQLStore) Close() error { return s.db.Close() }

// Head implements Store.
func (s *SQLStore) Head(ctx context.Context, chain string) (Head, error) {
	var h Head
	err := s.db.QueryRowContext(ctx,
		"SELECT head_hash, length FROM chain_heads WHERE chain = ?", chain,
	).Scan(&h.Hash, &h.Length)
	if errors.Is(err, sql.ErrNoRows) {
		return GenesisHead, nil
	}
	if err != nil {
		return Head{}, fmt.Errorf("read chain head %q: %w", chain, err)
	}
	return h, nil
}

// Append implements Store with the same guarded UPDATE as PostgresStore.
func (s *SQLStore) Append(ctx context.Context, rec *Record, expected Head) error {
	if err := checkLink(rec, expected); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	now := formatTime(time.Now())
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO chain_heads (chain, head_hash, length, updated_at) VALUES (?, ?, 0, ?)
		 ON CONFLICT (chain) DO NOTHING`,
		rec.Chain, GenesisHash, now,
	); err != nil {
		return fmt.Errorf("init chain head: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE chain_heads SET head_hash = ?, length = length + 1, updated_at = ?
		 WHERE chain = ? AND head_hash = ? AND length = ?`,
		rec.Hash, now, rec.Chain, expected.Hash, expected.Length,
	)
	if err != nil {
		return fmt.Errorf("advance chain head: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("advance chain head: %w", err)
	}
	if n == 0 {
		var actual Head
		if err := tx.QueryRowContext(ctx,
			"SELECT head_hash, length FROM chain_heads WHERE chain = ?", rec.Chain,
		).Scan(&actual.Hash, &actual.Length); err != nil {
			return fmt.Errorf("read chain head %q: %w", rec.Chain, err)
		}
		return &ConflictError{Chain: rec.Chain, Expected: expected, Actual: actual}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO chain_records (`+recordColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Chain, rec.Position,
		string(canonical.Marshal(rec.Content)), string(canonical.Marshal(rec.Current)),
		rec.Hash, rec.PreviousHash, rec.EditCount, nullTime(rec.EditedAt), formatTime(rec.CreatedAt),
	); err != nil {
		return fmt.Errorf("insert chain record: %w", err)
	}

	if err := tx.Commit(); err != nil {
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
func (s *SQLStore) Get(ctx context.Context, id string) (*Record, error) {
	rec, err := scanSQLRecord(s.db.QueryRowContext(ctx,
		"SELECT "+recordColumns+" FROM chain_records WHERE id = ?", id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get record %s: %w", id, ErrRecordNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get record %s: %w", id, err)
	}
	return rec, nil
}

// List implements Store.
func (s *SQLStore) List(ctx context.Context, chain string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+recordColumns+" FROM chain_records WHERE chain = ? ORDER BY position ASC", chain,
	)
	if err != nil {
		return nil, fmt.Errorf("query chain %q: %w", chain, err)
	}
	defer rows.Close()

	out := []Record{}
	for rows.Next() {
		rec, err := scanSQLRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chain record: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// Chains implements Store.
func (s *SQLStore) Chains(ctx context.Context) ([]ChainHead, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT chain, head_hash, length FROM chain_heads ORDER BY chain ASC",
	)
	if err != nil {
		return nil, fmt.Errorf("query chain heads: %w", err)
	}
	defer rows.Close()

	out := []ChainHead{}
	for rows.Next() {
		var ch ChainHead
		if err := rows.Scan(&ch.Chain, &ch.Hash, &ch.Length); err != nil {
			return nil, fmt.Errorf("scan chain head: %w", err)
		}
		out = append(out, ch)
	}
	return out, rows.Err()
}

// Amend implements Store.
func (s *SQLStore) Amend(ctx context.Context, id string, fn func(*Record) error) (*Record, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	rec, err := scanSQLRecord(tx.QueryRowContext(ctx,
		"SELECT "+recordColumns+" FROM chain_records WHERE id = ?", id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("amend record %s: %w", id, ErrRecordNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load record %s: %w", id, err)
	}

	if err := fn(rec); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE chain_records SET current_state = ?, edit_count = ?, edited_at = ? WHERE id = ?`,
		string(canonical.Marshal(rec.Current)), rec.EditCount, nullTime(rec.EditedAt), id,
	); err != nil {
		return nil, fmt.Errorf("update record %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit amend tx: %w", err)
	}
	return s.Get(ctx, id)
}

type sqlRow interface {
	Scan(dest ...any) error
}

func scanSQLRecord(row sqlRow) (*Record, error) {
	var (
		rec                         Record
		content, current, createdAt string
		editedAt                    sql.NullString
	)
	if err := row.Scan(
		&rec.ID, &rec.Chain, &rec.Position, &content, &current,
		&rec.Hash, &rec.PreviousHash, &rec.EditCount, &editedAt, &createdAt,
	); err != nil {
		return nil, err
	}
	if err := decodeNodes(&rec, content, current); err != nil {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at of %s: %w", rec.ID, err)
	}
	rec.CreatedAt = t
	if editedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, editedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse edited_at of %s: %w", rec.ID, err)
		}
		rec.EditedAt = &t
	}
	return &rec, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}
