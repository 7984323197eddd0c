package database

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jason-s-yu/courier/internal/models"
	"github.com/jason-s-yu/courier/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func connectForTest(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()
	pool, err := Connect(ctx, testutil.DatabaseURL(t))
	require.NoError(t, err)
	require.NoError(t, EnsureSchema(ctx, pool))
	t.Cleanup(func() {
		_, _ = pool.Exec(ctx, `DELETE FROM registry_snapshots`)
		_, _ = pool.Exec(ctx, `DELETE FROM order_claims WHERE room_id LIKE 'test%'`)
		pool.Close()
	})
	return pool
}

func TestSnapshotStore_Upsert(t *testing.T) {
	pool := connectForTest(t)
	ctx := context.Background()
	store := NewSnapshotStore(pool)

	_, _ = pool.Exec(ctx, `DELETE FROM registry_snapshots`)
	_, err := store.Load(ctx)
	require.ErrorIs(t, err, models.ErrNoSnapshot)

	snap := models.NewRegistrySnapshot()
	snap.UserSessions[1] = models.UserProfile{Notes: []string{"first"}, TotalOrders: 1}
	require.NoError(t, store.Save(ctx, snap))

	snap.UserSessions[1] = models.UserProfile{Notes: []string{"first", "second"}, TotalOrders: 2}
	require.NoError(t, store.Save(ctx, snap))

	got, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, snap, got)
}

func TestClaimWriter_InsertIsIdempotent(t *testing.T) {
	pool := connectForTest(t)
	ctx := context.Background()
	w := NewClaimWriter(pool)

	at := time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)
	recs := []models.ClaimRecord{
		{RoomID: "test0001", OrderID: "a", UserID: 99001, Address: "Main St 1", Weight: 2, Price: 300, ClaimedAt: at},
		{RoomID: "test0001", OrderID: "b", UserID: 99001, Address: "Main St 2", Weight: 4, Price: 500, ClaimedAt: at},
	}
	require.NoError(t, w.InsertClaims(ctx, recs))
	require.NoError(t, w.InsertClaims(ctx, recs))
	require.NoError(t, w.InsertClaims(ctx, nil))

	n, err := w.UserClaimCount(ctx, 99001)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
