package storage

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/jason-s-yu/courier/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func sampleSnapshot() *models.RegistrySnapshot {
	created := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	return &models.RegistrySnapshot{
		Rooms: map[string]models.RoomSnapshot{
			"abcd1234": {
				RoomID:     "abcd1234",
				CreatorID:  1,
				MaxPlayers: 2,
				Status:     models.RoomWaiting,
				CreatedAt:  created,
				Players: []models.Player{{
					ID:          1,
					DisplayName: "Ann",
					Notes:       []string{},
					JoinedAt:    created,
					HourlyStats: map[string]int{},
				}},
				CurrentOrders:   []models.Order{},
				SessionDuration: 3600,
			},
		},
		UserSessions: map[int64]models.UserProfile{
			1: {Notes: []string{"call back"}, TotalOrders: 4},
		},
	}
}

func TestBadgerStore_EmptyLoad(t *testing.T) {
	req := require.New(t)
	store, err := OpenBadger("", quietLogger())
	req.NoError(err)
	defer store.Close()

	_, err = store.Load(context.Background())
	req.ErrorIs(err, models.ErrNoSnapshot)
}

func TestBadgerStore_SaveReplacesDocument(t *testing.T) {
	req := require.New(t)
	store, err := OpenBadger("", quietLogger())
	req.NoError(err)
	defer store.Close()
	ctx := context.Background()

	snap := sampleSnapshot()
	req.NoError(store.Save(ctx, snap))

	got, err := store.Load(ctx)
	req.NoError(err)
	req.Equal(snap, got)

	snap.UserSessions[1] = models.UserProfile{Notes: []string{}, TotalOrders: 5}
	delete(snap.Rooms, "abcd1234")
	req.NoError(store.Save(ctx, snap))

	got, err = store.Load(ctx)
	req.NoError(err)
	req.Empty(got.Rooms)
	req.Equal(5, got.UserSessions[1].TotalOrders)
}

func TestBadgerStore_SurvivesReopen(t *testing.T) {
	req := require.New(t)
	dir := t.TempDir()
	ctx := context.Background()

	store, err := OpenBadger(dir, quietLogger())
	req.NoError(err)
	req.NoError(store.Save(ctx, sampleSnapshot()))
	req.NoError(store.Close())

	db, err := badger.Open(badger.DefaultOptions(dir).WithLogger(nil))
	req.NoError(err)
	reopened := NewBadgerStore(db)
	defer reopened.Close()

	got, err := reopened.Load(ctx)
	req.NoError(err)
	req.Contains(got.Rooms, "abcd1234")
}

func TestBadgerStore_SaveHonoursCancelledContext(t *testing.T) {
	store, err := OpenBadger("", quietLogger())
	require.NoError(t, err)
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, store.Save(ctx, sampleSnapshot()), context.Canceled)
}
