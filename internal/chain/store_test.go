package chain_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jmerrifield20/auditchain/internal/canonical"
	"github.com/jmerrifield20/auditchain/internal/chain"
)

var ctx = context.Background()

// storeFactories lists every Store that runs without external services.
func storeFactories() map[string]func(t *testing.T) chain.Store {
	return map[string]func(t *testing.T) chain.Store{
		"memory": func(*testing.T) chain.Store { return chain.NewMemoryStore() },
		"sqlite": func(t *testing.T) chain.Store {
			s, err := chain.OpenSQLite(ctx, ":memory:", zap.NewNop())
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		},
	}
}

func TestStores(t *testing.T) {
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			runStoreSuite(t, factory)
		})
	}
}

// runStoreSuite checks the behaviour every Store must share.
func runStoreSuite(t *testing.T, newStore func(t *testing.T) chain.Store) {
	t.Run("empty chain has genesis head", func(t *testing.T) {
		s := newStore(t)
		h, err := s.Head(ctx, "attendance/T/S")
		require.NoError(t, err)
		assert.Equal(t, chain.GenesisHead, h)

		recs, err := s.List(ctx, "attendance/T/S")
		require.NoError(t, err)
		assert.Empty(t, recs)
	})

	t.Run("append advances head and round-trips content", func(t *testing.T) {
		s := newStore(t)
		l := chain.NewLedger(s, nil, zap.NewNop())

		content := map[string]any{"student": "s-1", "status": "present", "minutesLate": 0, "score": 12.5}
		rec, err := l.Append(ctx, "attendance/T/S", content)
		require.NoError(t, err)

		h, err := s.Head(ctx, "attendance/T/S")
		require.NoError(t, err)
		assert.Equal(t, chain.Head{Hash: rec.Hash, Length: 1}, h)

		got, err := s.Get(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, rec.Hash, got.Hash)
		assert.Equal(t, chain.GenesisHash, got.PreviousHash)
		assert.True(t, got.Content.Equal(canonical.Canonicalize(content)))
		assert.True(t, got.Current.Equal(got.Content))
		assert.Zero(t, got.EditCount)
		assert.Nil(t, got.EditedAt)
		assert.True(t, got.CreatedAt.Equal(rec.CreatedAt))
		assert.NoError(t, chain.Verify([]chain.Record{*got}))
	})

	t.Run("append against stale head conflicts", func(t *testing.T) {
		s := newStore(t)
		l := chain.NewLedger(s, nil, zap.NewNop())

		first, head, err := l.Prepare(ctx, "c", map[string]any{"n": 1})
		require.NoError(t, err)
		second, head2, err := l.Prepare(ctx, "c", map[string]any{"n": 2})
		require.NoError(t, err)
		require.Equal(t, head, head2)

		require.NoError(t, s.Append(ctx, first, head))
		err = s.Append(ctx, second, head2)
		require.Error(t, err)
		assert.ErrorIs(t, err, chain.ErrConcurrentAppend)

		var conflict *chain.ConflictError
		require.True(t, errors.As(err, &conflict))
		assert.Equal(t, chain.Head{Hash: first.Hash, Length: 1}, conflict.Actual)
		assert.Equal(t, chain.GenesisHead, conflict.Expected)

		recs, err := s.List(ctx, "c")
		require.NoError(t, err)
		assert.Len(t, recs, 1)
	})

	t.Run("record not built against expected head is refused", func(t *testing.T) {
		s := newStore(t)
		l := chain.NewLedger(s, nil, zap.NewNop())
		rec, head, err := l.Prepare(ctx, "c", "x")
		require.NoError(t, err)
		rec.PreviousHash = rec.Hash

		err = s.Append(ctx, rec, head)
		require.Error(t, err)
		assert.NotErrorIs(t, err, chain.ErrConcurrentAppend)
	})

	t.Run("amend persists only mutable fields", func(t *testing.T) {
		s := newStore(t)
		l := chain.NewLedger(s, nil, zap.NewNop())
		rec, err := l.Append(ctx, "c", map[string]any{"status": "absent"})
		require.NoError(t, err)

		out, err := s.Amend(ctx, rec.ID, func(r *chain.Record) error {
			r.Current = canonical.Patch(r.Current, map[string]any{"status": "excused"})
			r.EditCount++
			r.Hash = "tampered"
			r.Content = canonical.Text("tampered")
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 1, out.EditCount)
		assert.Equal(t, rec.Hash, out.Hash)
		assert.True(t, out.Content.Equal(rec.Content))
		assert.Equal(t, `{"status":"excused"}`, string(canonical.Marshal(out.Current)))
	})

	t.Run("amend aborted by callback changes nothing", func(t *testing.T) {
		s := newStore(t)
		l := chain.NewLedger(s, nil, zap.NewNop())
		rec, err := l.Append(ctx, "c", map[string]any{"status": "absent"})
		require.NoError(t, err)

		stop := errors.New("stop")
		_, err = s.Amend(ctx, rec.ID, func(r *chain.Record) error {
			r.EditCount = 99
			return stop
		})
		assert.ErrorIs(t, err, stop)

		got, err := s.Get(ctx, rec.ID)
		require.NoError(t, err)
		assert.Zero(t, got.EditCount)
	})

	t.Run("missing record", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(ctx, "00000000-0000-4000-8000-000000000000")
		assert.ErrorIs(t, err, chain.ErrRecordNotFound)
		_, err = s.Amend(ctx, "00000000-0000-4000-8000-000000000000", func(*chain.Record) error { return nil })
		assert.ErrorIs(t, err, chain.ErrRecordNotFound)
	})

	t.Run("chains are listed with heads", func(t *testing.T) {
		s := newStore(t)
		l := chain.NewLedger(s, nil, zap.NewNop())
		_, err := l.Append(ctx, "b", 1)
		require.NoError(t, err)
		_, err = l.Append(ctx, "a", 1)
		require.NoError(t, err)
		last, err := l.Append(ctx, "a", 2)
		require.NoError(t, err)

		heads, err := s.Chains(ctx)
		require.NoError(t, err)
		require.Len(t, heads, 2)
		assert.Equal(t, "a", heads[0].Chain)
		assert.Equal(t, int64(2), heads[0].Length)
		assert.Equal(t, last.Hash, heads[0].Hash)
		assert.Equal(t, "b", heads[1].Chain)
	})

	t.Run("concurrent appends never fork", func(t *testing.T) {
		s := newStore(t)
		l := chain.NewLedger(s, nil, zap.NewNop())
		cfg := chain.DefaultRetryConfig()
		cfg.MaxAttempts = 200

		const writers, perWriter = 8, 10
		var wg sync.WaitGroup
		errs := make(chan error, writers*perWriter)
		for w := 0; w < writers; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				for i := 0; i < perWriter; i++ {
					if _, err := l.AppendWithRetry(ctx, "busy", map[string]any{"w": w, "i": i}, cfg); err != nil {
						errs <- err
					}
				}
			}(w)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			t.Fatalf("append failed: %v", err)
		}

		recs, err := s.List(ctx, "busy")
		require.NoError(t, err)
		assert.Len(t, recs, writers*perWriter)
		assert.NoError(t, l.VerifyChain(ctx, "busy"))
	})
}
