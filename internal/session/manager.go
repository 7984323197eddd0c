// internal/session/manager.go
package session

import (
	"context"
	"time"

	"github.com/jason-s-yu/courier/internal/game"
	"github.com/jason-s-yu/courier/internal/lobby"
	"github.com/jason-s-yu/courier/internal/models"
	"github.com/jason-s-yu/courier/internal/notify"
	"github.com/jason-s-yu/courier/internal/scheduler"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
)

// Settings configures the command surface and its timers.
type Settings struct {
	DefaultCapacity int
	MaxCapacity     int
	OpenRoomsLimit  int
	ReminderDelay   time.Duration
	StatsDelay      time.Duration
	SweepFirstDelay time.Duration
	SweepInterval   time.Duration
	Now             func() time.Time
}

// DefaultSettings returns the production values.
func DefaultSettings() Settings {
	return Settings{
		DefaultCapacity: 2,
		MaxCapacity:     10,
		OpenRoomsLimit:  5,
		ReminderDelay:   5 * time.Minute,
		StatsDelay:      time.Hour,
		SweepFirstDelay: 10 * time.Second,
		SweepInterval:   6 * time.Hour,
		Now:             time.Now,
	}
}

// ActivityRecorder receives a record of every successful claim.
type ActivityRecorder interface {
	Record(ctx context.Context, rec models.ClaimRecord) error
}

// Option customises a Manager.
type Option func(*Manager)

// WithActivityRecorder publishes claim records to rec.
func WithActivityRecorder(rec ActivityRecorder) Option {
	return func(m *Manager) { m.activity = rec }
}

// Manager is the command surface the UI layer calls. It sequences registry
// mutations, timer arming and notifications; notifications always go out
// after the registry has released its locks.
type Manager struct {
	reg      *lobby.Registry
	sched    *scheduler.Scheduler
	fanout   *notify.Fanout
	activity ActivityRecorder
	settings Settings
	log      logrus.FieldLogger
}

// NewManager wires a manager. Call Start to register timer handlers.
func NewManager(reg *lobby.Registry, sched *scheduler.Scheduler, fanout *notify.Fanout, settings Settings, log logrus.FieldLogger, opts ...Option) *Manager {
	d := DefaultSettings()
	if settings.DefaultCapacity <= 0 {
		settings.DefaultCapacity = d.DefaultCapacity
	}
	if settings.MaxCapacity < settings.DefaultCapacity {
		settings.MaxCapacity = max(d.MaxCapacity, settings.DefaultCapacity)
	}
	if settings.OpenRoomsLimit <= 0 {
		settings.OpenRoomsLimit = d.OpenRoomsLimit
	}
	if settings.ReminderDelay <= 0 {
		settings.ReminderDelay = d.ReminderDelay
	}
	if settings.StatsDelay <= 0 {
		settings.StatsDelay = d.StatsDelay
	}
	if settings.SweepFirstDelay <= 0 {
		settings.SweepFirstDelay = d.SweepFirstDelay
	}
	if settings.SweepInterval <= 0 {
		settings.SweepInterval = d.SweepInterval
	}
	if settings.Now == nil {
		settings.Now = d.Now
	}
	m := &Manager{
		reg:      reg,
		sched:    sched,
		fanout:   fanout,
		settings: settings,
		log:      log,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start registers the timer handlers, re-arms the timers of restored rooms
// and arms the periodic sweep. Call it after the registry is restored.
func (m *Manager) Start() {
	m.sched.Handle(scheduler.KindReminder, m.handleReminder)
	m.sched.Handle(scheduler.KindHourlyStats, m.handleHourlyStats)
	m.sched.Handle(scheduler.KindSweep, m.handleSweep)
	m.rearm()
	m.sched.Every(scheduler.Task{Kind: scheduler.KindSweep}, m.settings.SweepFirstDelay, m.settings.SweepInterval)
}

// rearm restores the one-shots that were pending when the process stopped.
// A broadcast that is already overdue fires right away.
func (m *Manager) rearm() {
	now := m.now()
	var stats, reminders int
	for _, room := range m.reg.Snapshot().Rooms {
		if room.StatsPending && room.StatsSentAt != nil {
			delay := max(room.StatsSentAt.Add(m.settings.StatsDelay).Sub(now), 0)
			if m.armStats(room.RoomID, delay) {
				stats++
			}
		}
		age := now.Sub(room.CreatedAt)
		if room.Status == models.RoomWaiting && len(room.Players) == 1 && age < m.settings.ReminderDelay {
			if m.sched.Once(scheduler.ReminderKey(room.RoomID), m.settings.ReminderDelay-age, scheduler.Task{
				Kind:   scheduler.KindReminder,
				RoomID: room.RoomID,
				UserID: room.Players[0].ID,
			}) {
				reminders++
			}
		}
	}
	if stats+reminders > 0 {
		m.log.WithFields(logrus.Fields{"stats": stats, "reminders": reminders}).Info("re-armed restored timers")
	}
}

func (m *Manager) armStats(roomID string, delay time.Duration) bool {
	return m.sched.Once(scheduler.StatsKey(roomID), delay, scheduler.Task{
		Kind:   scheduler.KindHourlyStats,
		RoomID: roomID,
	})
}

func (m *Manager) now() time.Time {
	return m.settings.Now().UTC()
}

// CreateRoom opens a room for the user and arms the "still alone" reminder.
// A zero capacity selects the default.
func (m *Manager) CreateRoom(ctx context.Context, userID int64, name string, capacity int) (models.RoomSnapshot, error) {
	if capacity == 0 {
		capacity = m.settings.DefaultCapacity
	}
	if capacity < 1 || capacity > m.settings.MaxCapacity {
		return models.RoomSnapshot{}, game.ErrBadCapacity
	}
	if _, busy := m.reg.FindRoomForUser(userID); busy {
		return models.RoomSnapshot{}, game.ErrAlreadyInRoom
	}
	room, err := m.reg.CreateRoom(ctx, userID, name, capacity)
	if err != nil {
		return models.RoomSnapshot{}, err
	}
	m.sched.Once(scheduler.ReminderKey(room.RoomID), m.settings.ReminderDelay, scheduler.Task{
		Kind:   scheduler.KindReminder,
		RoomID: room.RoomID,
		UserID: userID,
	})
	return room, nil
}

// JoinRoom seats the user and tells the creator.
func (m *Manager) JoinRoom(ctx context.Context, userID int64, name, roomID string) (models.RoomSnapshot, error) {
	room, err := m.reg.JoinRoom(ctx, roomID, userID, name)
	if err != nil {
		return models.RoomSnapshot{}, err
	}
	if _, seated := room.Creator(); seated && room.CreatorID != userID {
		joined, _ := room.Player(userID)
		m.fanout.Send(ctx, []int64{room.CreatorID}, playerJoinedText(joined.Name(), room))
	}
	return room, nil
}

// ListOpenRooms lists joinable rooms, oldest first.
func (m *Manager) ListOpenRooms(_ context.Context) []models.RoomSummary {
	return m.reg.OpenRooms(m.settings.OpenRoomsLimit)
}

// SelectOrders returns the room's board, starting the game if it is waiting.
func (m *Manager) SelectOrders(ctx context.Context, userID int64, roomID string) ([]models.Order, error) {
	return m.board(ctx, userID, roomID, false)
}

// RefreshOrders replaces the room's board.
func (m *Manager) RefreshOrders(ctx context.Context, userID int64, roomID string) ([]models.Order, error) {
	return m.board(ctx, userID, roomID, true)
}

func (m *Manager) board(ctx context.Context, userID int64, roomID string, refresh bool) ([]models.Order, error) {
	res, err := m.reg.StartRoom(ctx, roomID, userID, refresh)
	if err != nil {
		return nil, err
	}
	if res.Started && len(res.Others) > 0 {
		name := m.displayName(roomID, userID)
		m.fanout.Send(ctx, res.Others, gameStartedText(name, roomID))
	}
	return res.Orders, nil
}

func (m *Manager) displayName(roomID string, userID int64) string {
	if room, ok := m.reg.Room(roomID); ok {
		if p, ok := room.Player(userID); ok {
			return p.Name()
		}
	}
	return (&models.Player{ID: userID}).Name()
}

// ClaimOrder claims an order, notifies the other members and arms the hourly
// broadcast unless one is already pending for the room. The room is stamped
// only when the scheduler accepted the timer.
func (m *Manager) ClaimOrder(ctx context.Context, userID int64, roomID, orderID string) (lobby.ClaimResult, error) {
	res, err := m.reg.ClaimOrder(ctx, roomID, userID, orderID)
	if err != nil {
		return lobby.ClaimResult{}, err
	}
	if m.armStats(roomID, m.settings.StatsDelay) {
		if err := m.reg.MarkStatsArmed(ctx, roomID); err != nil {
			// deleted since the claim; the timer finds no room and does nothing
			m.sched.Cancel(scheduler.StatsKey(roomID))
		}
	}
	m.fanout.Send(ctx, res.Others, orderClaimedText(res.Player, res.Order))

	if m.activity != nil {
		rec := models.ClaimRecord{
			RoomID:    roomID,
			UserID:    userID,
			OrderID:   res.Order.ID,
			Address:   res.Order.Address,
			Weight:    res.Order.Weight,
			Price:     res.Order.Price,
			ClaimedAt: res.Player.LastActivity,
		}
		if err := m.activity.Record(ctx, rec); err != nil {
			m.log.WithError(err).WithField("room_id", roomID).Warn("failed to record claim activity")
		}
	}
	return res, nil
}

// LeaveRoom removes the user from their room and tells whoever remains.
func (m *Manager) LeaveRoom(ctx context.Context, userID int64) (lobby.LeaveResult, error) {
	res, err := m.reg.LeaveRoom(ctx, userID)
	if err != nil {
		return lobby.LeaveResult{}, err
	}
	if res.Deleted {
		m.sched.Cancel(scheduler.ReminderKey(res.RoomID))
		m.sched.Cancel(scheduler.StatsKey(res.RoomID))
		return res, nil
	}
	m.fanout.Send(ctx, res.Remaining, playerLeftText(res.Player.Name(), res.RoomID, len(res.Remaining), res.Capacity))
	return res, nil
}

// AddNote stores a note for the user and returns their note count.
func (m *Manager) AddNote(ctx context.Context, userID int64, text string) (int, error) {
	return m.reg.AddNote(ctx, userID, text)
}

// ListNotes returns the user's notes.
func (m *Manager) ListNotes(_ context.Context, userID int64) []string {
	return m.reg.Notes(userID)
}

// ClearNotes deletes the user's notes.
func (m *Manager) ClearNotes(ctx context.Context, userID int64) int {
	return m.reg.ClearNotes(ctx, userID)
}

// Stats is the payload of GetStats.
type Stats struct {
	UserID         int64           `json:"user_id"`
	RoomID         string          `json:"room_id,omitempty"`
	Player         *models.Player  `json:"player,omitempty"`
	Leaderboard    []game.Standing `json:"leaderboard,omitempty"`
	LifetimeOrders int             `json:"orders_taken_lifetime"`
	Notes          int             `json:"notes"`
}

// GetStats reports the user's lifetime totals and, while seated, their room standing.
func (m *Manager) GetStats(_ context.Context, userID int64) Stats {
	profile := m.reg.Profile(userID)
	stats := Stats{UserID: userID, LifetimeOrders: profile.TotalOrders, Notes: len(profile.Notes)}
	room, ok := m.reg.RoomOf(userID)
	if !ok {
		return stats
	}
	if p, ok := room.Player(userID); ok {
		stats.RoomID = room.RoomID
		stats.Player = &p
		stats.Leaderboard = game.Rank(room.Players)
	}
	return stats
}

// GetHourlyStats compares the user's claims this hour against their room.
func (m *Manager) GetHourlyStats(_ context.Context, userID int64) (game.HourlyComparison, error) {
	room, ok := m.reg.RoomOf(userID)
	if !ok {
		return game.HourlyComparison{}, game.ErrNotInRoom
	}
	return game.CompareHour(room.Players, userID, models.HourKey(m.now())), nil
}

// RoomPlayers ranks the members of a room the user belongs to.
func (m *Manager) RoomPlayers(_ context.Context, userID int64, roomID string) ([]game.Standing, error) {
	room, ok := m.reg.Room(roomID)
	if !ok {
		return nil, game.ErrRoomNotFound
	}
	if _, member := room.Player(userID); !member {
		return nil, game.ErrNotMember
	}
	return game.Rank(room.Players), nil
}

func (m *Manager) handleReminder(ctx context.Context, task scheduler.Task) error {
	room, ok := m.reg.Room(task.RoomID)
	if !ok || room.Status != models.RoomWaiting || len(room.Players) != 1 {
		return nil
	}
	m.fanout.Send(ctx, []int64{room.Players[0].ID}, reminderText(room.RoomID))
	return nil
}

func (m *Manager) handleHourlyStats(ctx context.Context, task scheduler.Task) error {
	room, ok := m.reg.Room(task.RoomID)
	if !ok {
		return nil
	}
	rearmed := func() bool { return m.sched.Pending(scheduler.StatsKey(task.RoomID)) }
	if m.reg.MarkStatsDelivered(ctx, task.RoomID, rearmed) != nil {
		return nil // removed since the lookup
	}
	if len(room.Players) == 0 {
		return nil
	}
	board := game.Rank(room.Players)
	texts := hourlyBroadcast(models.HourKey(m.now()), board)
	m.fanout.SendAll(ctx, lo.Map(board, func(s game.Standing, i int) notify.Message {
		return notify.Message{UserID: s.UserID, Text: texts[i]}
	}))
	m.log.WithFields(logrus.Fields{"room_id": room.RoomID, "players": len(board)}).Info("hourly stats broadcast")
	return nil
}

func (m *Manager) handleSweep(ctx context.Context, _ scheduler.Task) error {
	swept := m.reg.SweepInactive(ctx, m.now())
	var msgs []notify.Message
	for _, s := range swept {
		m.sched.Cancel(scheduler.ReminderKey(s.ID))
		m.sched.Cancel(scheduler.StatsKey(s.ID))
		for _, userID := range s.Members {
			msgs = append(msgs, notify.Message{UserID: userID, Text: roomClosedText(s.ID)})
		}
	}
	m.fanout.SendAll(ctx, msgs)
	return nil
}
