// internal/session/manager_test.go
package session

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jason-s-yu/courier/internal/game"
	"github.com/jason-s-yu/courier/internal/lobby"
	"github.com/jason-s-yu/courier/internal/mocks"
	"github.com/jason-s-yu/courier/internal/models"
	"github.com/jason-s-yu/courier/internal/notify"
	"github.com/jason-s-yu/courier/internal/scheduler"
	"github.com/jason-s-yu/courier/internal/workers"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type fixture struct {
	mgr      *Manager
	reg      *lobby.Registry
	sched    *scheduler.Scheduler
	fanout   *notify.Fanout
	notifier *mocks.MockNotifier
	clock    *testClock
	now      time.Time
}

var fixtureStart = time.Date(2025, 3, 14, 9, 15, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeActivity collects published claim records.
type fakeActivity struct {
	mu      sync.Mutex
	records []models.ClaimRecord
}

func (f *fakeActivity) Record(_ context.Context, rec models.ClaimRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, rec)
	return nil
}

func newFixture(t *testing.T, settings Settings, opts ...Option) *fixture {
	t.Helper()
	return newFixtureOn(t, lobby.NewMemoryStore(), fixtureStart, settings, opts...)
}

// newFixtureOn builds a fixture over store with its clock set to now, so a
// second fixture on the same store stands in for a restarted process.
func newFixtureOn(t *testing.T, store lobby.Store, now time.Time, settings Settings, opts ...Option) *fixture {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	ctrl := gomock.NewController(t)
	notifier := mocks.NewMockNotifier(ctrl)

	clock := &testClock{now: now}
	reg := lobby.NewRegistry(store, lobby.Settings{
		Generator: &game.OrderGenerator{MinCount: 2, MaxCount: 2, Addresses: game.DefaultAddresses},
		Now:       clock.Now,
	}, log)

	pool := workers.NewPool(2, 16, log)
	pool.Start(context.Background())
	sched := scheduler.New(pool, log)
	fanout := notify.NewFanout(notifier, time.Second, log)
	settings.Now = clock.Now
	mgr := NewManager(reg, sched, fanout, settings, log, opts...)

	t.Cleanup(func() {
		sched.Stop()
		pool.Stop()
		fanout.Wait()
	})
	return &fixture{mgr: mgr, reg: reg, sched: sched, fanout: fanout, notifier: notifier, clock: clock, now: now}
}

func TestManager_JoinSelectClaimScenario(t *testing.T) {
	activity := &fakeActivity{}
	f := newFixture(t, Settings{}, WithActivityRecorder(activity))
	ctx := context.Background()

	room, err := f.mgr.CreateRoom(ctx, 1, "alice", 2)
	require.NoError(t, err)
	assert.True(t, f.sched.Pending(scheduler.ReminderKey(room.RoomID)))

	f.notifier.EXPECT().Notify(gomock.Any(), int64(1), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ int64, text string) error {
			assert.Contains(t, text, "bob")
			return nil
		})
	_, err = f.mgr.JoinRoom(ctx, 2, "bob", room.RoomID)
	require.NoError(t, err)
	f.fanout.Wait()

	f.notifier.EXPECT().Notify(gomock.Any(), int64(1), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ int64, text string) error {
			assert.Contains(t, text, "started the game")
			return nil
		})
	orders, err := f.mgr.SelectOrders(ctx, 2, room.RoomID)
	require.NoError(t, err)
	require.NotEmpty(t, orders)
	require.LessOrEqual(t, len(orders), 3)
	f.fanout.Wait()

	f.notifier.EXPECT().Notify(gomock.Any(), int64(1), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ int64, text string) error {
			assert.Contains(t, text, orders[0].Address)
			return nil
		})
	res, err := f.mgr.ClaimOrder(ctx, 2, room.RoomID, orders[0].ID)
	require.NoError(t, err)
	f.fanout.Wait()

	assert.Equal(t, 1, res.Player.OrdersTaken)
	assert.True(t, f.sched.Pending(scheduler.StatsKey(room.RoomID)))

	board, err := f.mgr.SelectOrders(ctx, 2, room.RoomID)
	require.NoError(t, err)
	for _, o := range board {
		assert.NotEqual(t, orders[0].ID, o.ID)
	}

	require.Len(t, activity.records, 1)
	assert.Equal(t, orders[0].ID, activity.records[0].OrderID)
	assert.Equal(t, int64(2), activity.records[0].UserID)
}

func TestManager_CreateRoomValidation(t *testing.T) {
	f := newFixture(t, Settings{MaxCapacity: 4})
	ctx := context.Background()

	_, err := f.mgr.CreateRoom(ctx, 1, "", 5)
	assert.ErrorIs(t, err, game.ErrBadCapacity)
	_, err = f.mgr.CreateRoom(ctx, 1, "", -1)
	assert.ErrorIs(t, err, game.ErrBadCapacity)

	room, err := f.mgr.CreateRoom(ctx, 1, "", 0)
	require.NoError(t, err)
	assert.Equal(t, 2, room.MaxPlayers)

	_, err = f.mgr.CreateRoom(ctx, 1, "", 2)
	assert.ErrorIs(t, err, game.ErrAlreadyInRoom)
}

func TestManager_LeaveNotifiesRemaining(t *testing.T) {
	f := newFixture(t, Settings{})
	ctx := context.Background()

	room, err := f.mgr.CreateRoom(ctx, 1, "alice", 3)
	require.NoError(t, err)
	f.notifier.EXPECT().Notify(gomock.Any(), int64(1), gomock.Any()).Return(nil).Times(2)
	_, err = f.mgr.JoinRoom(ctx, 2, "bob", room.RoomID)
	require.NoError(t, err)
	_, err = f.mgr.JoinRoom(ctx, 3, "carol", room.RoomID)
	require.NoError(t, err)
	f.fanout.Wait()

	var mu sync.Mutex
	got := map[int64]string{}
	f.notifier.EXPECT().Notify(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, id int64, text string) error {
			mu.Lock()
			got[id] = text
			mu.Unlock()
			return nil
		}).Times(2)
	res, err := f.mgr.LeaveRoom(ctx, 2)
	require.NoError(t, err)
	f.fanout.Wait()

	assert.Equal(t, []int64{1, 3}, res.Remaining)
	assert.Contains(t, got[1], "bob left")
	assert.Contains(t, got[3], "2/3")

	_, err = f.mgr.LeaveRoom(ctx, 2)
	assert.ErrorIs(t, err, game.ErrNotInRoom)
}

func TestManager_LastLeaveCancelsTimers(t *testing.T) {
	f := newFixture(t, Settings{})
	ctx := context.Background()

	room, err := f.mgr.CreateRoom(ctx, 1, "", 2)
	require.NoError(t, err)
	require.True(t, f.sched.Pending(scheduler.ReminderKey(room.RoomID)))

	res, err := f.mgr.LeaveRoom(ctx, 1)
	require.NoError(t, err)
	assert.True(t, res.Deleted)
	assert.False(t, f.sched.Pending(scheduler.ReminderKey(room.RoomID)))
}

func TestManager_ReminderFiresOnlyWhenAlone(t *testing.T) {
	f := newFixture(t, Settings{ReminderDelay: 20 * time.Millisecond})
	ctx := context.Background()

	fired := make(chan string, 1)
	f.notifier.EXPECT().Notify(gomock.Any(), int64(1), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ int64, text string) error {
			fired <- text
			return nil
		})

	f.mgr.Start()
	room, err := f.mgr.CreateRoom(ctx, 1, "", 2)
	require.NoError(t, err)

	select {
	case text := <-fired:
		assert.Contains(t, text, room.RoomID)
	case <-time.After(2 * time.Second):
		require.FailNow(t, "reminder did not fire")
	}

	// two players: no reminder
	other, err := f.reg.CreateRoom(ctx, 5, "", 2)
	require.NoError(t, err)
	f.notifier.EXPECT().Notify(gomock.Any(), int64(5), gomock.Any()).Return(nil)
	_, err = f.mgr.JoinRoom(ctx, 6, "", other.RoomID)
	require.NoError(t, err)
	f.fanout.Wait()
	require.NoError(t, f.mgr.handleReminder(ctx, scheduler.Task{Kind: scheduler.KindReminder, RoomID: other.RoomID}))

	// deleted room: no reminder
	require.NoError(t, f.mgr.handleReminder(ctx, scheduler.Task{Kind: scheduler.KindReminder, RoomID: "deadbeef"}))
	f.fanout.Wait()
}

func TestManager_HourlyBroadcastAdvice(t *testing.T) {
	f := newFixture(t, Settings{})
	ctx := context.Background()

	f.notifier.EXPECT().Notify(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	room, err := f.mgr.CreateRoom(ctx, 1, "alice", 2)
	require.NoError(t, err)
	_, err = f.mgr.JoinRoom(ctx, 2, "bob", room.RoomID)
	require.NoError(t, err)
	for range 2 {
		orders, err := f.mgr.SelectOrders(ctx, 2, room.RoomID)
		require.NoError(t, err)
		_, err = f.mgr.ClaimOrder(ctx, 2, room.RoomID, orders[0].ID)
		require.NoError(t, err)
	}
	f.fanout.Wait()

	ctrl := gomock.NewController(t)
	notifier := mocks.NewMockNotifier(ctrl)
	f.mgr.fanout = notify.NewFanout(notifier, time.Second, logrus.New())

	var mu sync.Mutex
	got := map[int64]string{}
	notifier.EXPECT().Notify(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, id int64, text string) error {
			mu.Lock()
			got[id] = text
			mu.Unlock()
			return nil
		}).Times(2)

	require.NoError(t, f.mgr.handleHourlyStats(ctx, scheduler.Task{Kind: scheduler.KindHourlyStats, RoomID: room.RoomID}))
	f.mgr.fanout.Wait()

	assert.Contains(t, got[2], "You are in the lead")
	assert.Contains(t, got[2], "Lead: 2 orders")
	assert.Contains(t, got[1], "Your position: #2")
	assert.Contains(t, got[1], "Take 3 more orders")
	assert.True(t, strings.HasPrefix(got[1], "⏰ Hourly stats (2025-03-14 09:00)"))
}

func TestManager_StatsAndHourly(t *testing.T) {
	f := newFixture(t, Settings{})
	ctx := context.Background()

	_, err := f.mgr.GetHourlyStats(ctx, 1)
	assert.ErrorIs(t, err, game.ErrNotInRoom)

	f.notifier.EXPECT().Notify(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	room, err := f.mgr.CreateRoom(ctx, 1, "alice", 2)
	require.NoError(t, err)
	_, err = f.mgr.JoinRoom(ctx, 2, "bob", room.RoomID)
	require.NoError(t, err)
	orders, err := f.mgr.SelectOrders(ctx, 1, room.RoomID)
	require.NoError(t, err)
	_, err = f.mgr.ClaimOrder(ctx, 1, room.RoomID, orders[0].ID)
	require.NoError(t, err)

	cmp, err := f.mgr.GetHourlyStats(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, "2025-03-14 09:00", cmp.HourKey)
	assert.Equal(t, int64(1), cmp.Leader.UserID)
	assert.Equal(t, 1, cmp.Gap)
	assert.Equal(t, 2, cmp.ToLead)

	stats := f.mgr.GetStats(ctx, 1)
	assert.Equal(t, room.RoomID, stats.RoomID)
	require.NotNil(t, stats.Player)
	assert.Equal(t, 1, stats.Player.OrdersTaken)
	assert.Equal(t, 1, stats.LifetimeOrders)
	assert.Equal(t, int64(1), stats.Leaderboard[0].UserID)

	players, err := f.mgr.RoomPlayers(ctx, 2, room.RoomID)
	require.NoError(t, err)
	assert.Len(t, players, 2)
	_, err = f.mgr.RoomPlayers(ctx, 3, room.RoomID)
	assert.ErrorIs(t, err, game.ErrNotMember)

	stats = f.mgr.GetStats(ctx, 3)
	assert.Empty(t, stats.RoomID)
	assert.Nil(t, stats.Player)
	f.fanout.Wait()
}

func TestManager_SweepNotifiesFormerMembers(t *testing.T) {
	f := newFixture(t, Settings{})
	ctx := context.Background()

	room, err := f.mgr.CreateRoom(ctx, 1, "", 2)
	require.NoError(t, err)
	f.mgr.settings.Now = func() time.Time { return f.now.Add(25 * time.Hour) }

	done := make(chan string, 1)
	f.notifier.EXPECT().Notify(gomock.Any(), int64(1), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ int64, text string) error {
			done <- text
			return nil
		})
	require.NoError(t, f.mgr.handleSweep(ctx, scheduler.Task{Kind: scheduler.KindSweep}))
	f.fanout.Wait()

	assert.Contains(t, <-done, room.RoomID)
	_, ok := f.reg.Room(room.RoomID)
	assert.False(t, ok)
	assert.False(t, f.sched.Pending(scheduler.ReminderKey(room.RoomID)))
}

// claimOne seats users 1 and 2 in a fresh room and has user 2 claim an order.
func claimOne(t *testing.T, f *fixture) models.RoomSnapshot {
	t.Helper()
	ctx := context.Background()
	room, err := f.mgr.CreateRoom(ctx, 1, "alice", 2)
	require.NoError(t, err)
	_, err = f.mgr.JoinRoom(ctx, 2, "bob", room.RoomID)
	require.NoError(t, err)
	orders, err := f.mgr.SelectOrders(ctx, 2, room.RoomID)
	require.NoError(t, err)
	_, err = f.mgr.ClaimOrder(ctx, 2, room.RoomID, orders[0].ID)
	require.NoError(t, err)
	f.fanout.Wait()
	snap, ok := f.reg.Room(room.RoomID)
	require.True(t, ok)
	return snap
}

func TestManager_PendingBroadcastKeepsFirstStamp(t *testing.T) {
	f := newFixture(t, Settings{})
	ctx := context.Background()
	f.notifier.EXPECT().Notify(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).AnyTimes()

	room := claimOne(t, f)
	require.NotNil(t, room.StatsSentAt)
	assert.True(t, room.StatsSentAt.Equal(f.now))
	assert.True(t, room.StatsPending)

	// past the broadcast delay but the timer has not fired yet
	f.clock.Advance(2 * time.Hour)
	_, err := f.mgr.ClaimOrder(ctx, 2, room.RoomID, room.CurrentOrders[0].ID)
	require.NoError(t, err)
	f.fanout.Wait()

	snap, ok := f.reg.Room(room.RoomID)
	require.True(t, ok)
	assert.True(t, snap.StatsSentAt.Equal(f.now))
	assert.True(t, f.sched.Pending(scheduler.StatsKey(room.RoomID)))
}

func TestManager_RestartRearmsTimers(t *testing.T) {
	store := lobby.NewMemoryStore()
	ctx := context.Background()

	before := newFixtureOn(t, store, fixtureStart, Settings{})
	before.notifier.EXPECT().Notify(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	room := claimOne(t, before)
	lonely, err := before.mgr.CreateRoom(ctx, 3, "", 2)
	require.NoError(t, err)

	after := newFixtureOn(t, store, fixtureStart.Add(2*time.Minute), Settings{})
	after.notifier.EXPECT().Notify(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	after.reg.Restore(ctx)
	after.mgr.Start()

	assert.True(t, after.sched.Pending(scheduler.StatsKey(room.RoomID)))
	assert.True(t, after.sched.Pending(scheduler.ReminderKey(lonely.RoomID)))

	// a claim after the restart joins the restored broadcast
	_, err = after.mgr.ClaimOrder(ctx, 2, room.RoomID, room.CurrentOrders[0].ID)
	require.NoError(t, err)
	after.fanout.Wait()
	snap, ok := after.reg.Room(room.RoomID)
	require.True(t, ok)
	assert.True(t, snap.StatsSentAt.Equal(fixtureStart))
	assert.True(t, after.sched.Pending(scheduler.StatsKey(room.RoomID)))
}

func TestManager_RestartFiresOverdueBroadcast(t *testing.T) {
	store := lobby.NewMemoryStore()
	ctx := context.Background()

	before := newFixtureOn(t, store, fixtureStart, Settings{})
	before.notifier.EXPECT().Notify(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	room := claimOne(t, before)
	lonely, err := before.mgr.CreateRoom(ctx, 3, "", 2)
	require.NoError(t, err)

	after := newFixtureOn(t, store, fixtureStart.Add(2*time.Hour), Settings{})
	got := make(chan int64, 2)
	after.notifier.EXPECT().Notify(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, id int64, text string) error {
			assert.Contains(t, text, "Hourly stats")
			got <- id
			return nil
		}).Times(2)
	after.reg.Restore(ctx)
	after.mgr.Start()

	seen := map[int64]bool{}
	for range 2 {
		select {
		case id := <-got:
			seen[id] = true
		case <-time.After(2 * time.Second):
			require.FailNow(t, "overdue broadcast did not fire")
		}
	}
	after.fanout.Wait()
	assert.Equal(t, map[int64]bool{1: true, 2: true}, seen)

	snap, ok := after.reg.Room(room.RoomID)
	require.True(t, ok)
	assert.False(t, snap.StatsPending)
	// the lone creator's reminder window closed while the process was down
	assert.False(t, after.sched.Pending(scheduler.ReminderKey(lonely.RoomID)))
}

func TestManager_HourlyStatsForDeletedRoom(t *testing.T) {
	f := newFixture(t, Settings{})
	ctx := context.Background()

	room, err := f.mgr.CreateRoom(ctx, 1, "", 2)
	require.NoError(t, err)
	_, err = f.mgr.LeaveRoom(ctx, 1)
	require.NoError(t, err)

	// no Notify expectation: any send fails the test
	task := scheduler.Task{Kind: scheduler.KindHourlyStats, RoomID: room.RoomID}
	require.NoError(t, f.mgr.handleHourlyStats(ctx, task))
	require.NoError(t, f.mgr.handleHourlyStats(ctx, scheduler.Task{Kind: scheduler.KindHourlyStats, RoomID: "deadbeef"}))
	f.fanout.Wait()
}

func TestManager_ClaimCountsWhenNotifyFails(t *testing.T) {
	f := newFixture(t, Settings{})
	ctx := context.Background()

	f.notifier.EXPECT().Notify(gomock.Any(), int64(1), gomock.Any()).Return(nil)
	room, err := f.mgr.CreateRoom(ctx, 1, "alice", 2)
	require.NoError(t, err)
	_, err = f.mgr.JoinRoom(ctx, 2, "bob", room.RoomID)
	require.NoError(t, err)
	f.fanout.Wait()

	f.notifier.EXPECT().Notify(gomock.Any(), int64(1), gomock.Any()).
		Return(errors.New("bot was blocked by the user")).Times(2)
	orders, err := f.mgr.SelectOrders(ctx, 2, room.RoomID)
	require.NoError(t, err)
	res, err := f.mgr.ClaimOrder(ctx, 2, room.RoomID, orders[0].ID)
	require.NoError(t, err)
	f.fanout.Wait()

	assert.Equal(t, 1, res.Player.OrdersTaken)
	assert.Equal(t, 1, f.reg.Profile(2).TotalOrders)
	snap, ok := f.reg.Room(room.RoomID)
	require.True(t, ok)
	player, _ := snap.Player(2)
	assert.Equal(t, 1, player.OrdersTaken)
	assert.True(t, f.sched.Pending(scheduler.StatsKey(room.RoomID)))
}
