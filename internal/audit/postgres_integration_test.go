//go:build integration

package audit_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jmerrifield20/auditchain/internal/audit"
	"github.com/jmerrifield20/auditchain/internal/correlation"
)

func TestPostgresSink_groupRoundTrip(t *testing.T) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set; skipping integration test")
	}
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dbURL)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, pool.Ping(ctx))

	sink := audit.NewPostgresSink(pool, zap.NewNop())
	em := audit.NewEmitter(sink, zap.NewNop())

	cid := correlation.New()
	var emitted []audit.Entry
	for _, action := range []string{"user.role.change", "user.session.revoke"} {
		e, err := em.Record(ctx, audit.Input{
			Actor:         "admin:a-1",
			Action:        action,
			Target:        "user/u-9",
			Scope:         "tenant:T",
			After:         map[string]any{"action": action},
			CorrelationID: cid,
		})
		require.NoError(t, err)
		emitted = append(emitted, *e)
	}

	g, err := sink.Group(ctx, cid)
	require.NoError(t, err)
	require.Len(t, g.Entries, 2)
	assert.Equal(t, "user.role.change", g.Entries[0].Action)
	assert.Equal(t, "user.session.revoke", g.Entries[1].Action)
	assert.Equal(t, time.UTC, g.Entries[0].Timestamp.Location())
	for i := range emitted {
		assert.True(t, emitted[i].Timestamp.Equal(g.Entries[i].Timestamp),
			"timestamp %d: emitted %s, stored %s", i, emitted[i].Timestamp, g.Entries[i].Timestamp)
		assert.Equal(t, emitted[i].ID, g.Entries[i].ID)
	}

	_, err = pool.Exec(ctx, "DELETE FROM audit_entries WHERE correlation_id = $1", cid)
	assert.Error(t, err, "audit_entries must refuse deletes")
}
