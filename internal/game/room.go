// internal/game/room.go
package game

import (
	"slices"
	"sync"
	"time"

	"github.com/jason-s-yu/courier/internal/models"
)

// DefaultSessionDuration is how long a room stays active once started.
const DefaultSessionDuration = time.Hour

// Room is the single source of truth for one game session. Every method below
// assumes the caller holds Mu; the registry takes it around each operation so
// that mutation and persistence happen inside the same critical section.
type Room struct {
	ID        string
	CreatorID int64
	Capacity  int
	Status    models.RoomStatus
	CreatedAt time.Time

	SessionDuration time.Duration
	EndsAt          *time.Time

	// LastStatsBroadcast is stamped when the hourly broadcast gets armed.
	// StatsPending stays set until that broadcast fires, so a restart can
	// re-arm it.
	LastStatsBroadcast *time.Time
	StatsPending       bool

	players []*models.Player // join order
	orders  []models.Order
	gen     *OrderGenerator

	// Removed is set once the registry deletes the room, so late arrivals
	// holding a stale pointer observe ErrRoomNotFound.
	Removed bool

	Mu sync.Mutex
}

// NewRoom creates a waiting room. The creator is not seated; callers add them.
func NewRoom(id string, creatorID int64, capacity int, now time.Time, gen *OrderGenerator) *Room {
	if gen == nil {
		gen = NewOrderGenerator()
	}
	return &Room{
		ID:              id,
		CreatorID:       creatorID,
		Capacity:        capacity,
		Status:          models.RoomWaiting,
		CreatedAt:       now,
		SessionDuration: DefaultSessionDuration,
		gen:             gen,
	}
}

// AddPlayer seats p unless the room is full or p is already seated.
func (r *Room) AddPlayer(p *models.Player) error {
	if r.HasPlayer(p.ID) {
		return ErrAlreadyJoined
	}
	if len(r.players) >= r.Capacity {
		return ErrRoomFull
	}
	r.players = append(r.players, p)
	return nil
}

// RemovePlayer unseats userID and reports whether they were present.
// Deleting an empty room is left to the registry.
func (r *Room) RemovePlayer(userID int64) bool {
	i := r.indexOf(userID)
	if i < 0 {
		return false
	}
	r.players = slices.Delete(r.players, i, i+1)
	return true
}

// HasPlayer reports whether userID is seated.
func (r *Room) HasPlayer(userID int64) bool {
	return r.indexOf(userID) >= 0
}

// Player returns the live record for userID.
func (r *Room) Player(userID int64) (*models.Player, bool) {
	i := r.indexOf(userID)
	if i < 0 {
		return nil, false
	}
	return r.players[i], true
}

// PlayerIDs lists seated users in join order.
func (r *Room) PlayerIDs() []int64 {
	ids := make([]int64, 0, len(r.players))
	for _, p := range r.players {
		ids = append(ids, p.ID)
	}
	return ids
}

// PlayerCount returns the number of seated players.
func (r *Room) PlayerCount() int {
	return len(r.players)
}

// IsEmpty reports whether no one is seated.
func (r *Room) IsEmpty() bool {
	return len(r.players) == 0
}

func (r *Room) indexOf(userID int64) int {
	return slices.IndexFunc(r.players, func(p *models.Player) bool { return p.ID == userID })
}

// Start moves a waiting room to active and makes sure a board exists.
// It returns true only on the waiting->active transition.
func (r *Room) Start(now time.Time) bool {
	if r.Status != models.RoomWaiting {
		if r.Status == models.RoomActive && len(r.orders) == 0 {
			r.orders = r.gen.Generate()
		}
		return false
	}
	r.Status = models.RoomActive
	ends := now.Add(r.SessionDuration)
	r.EndsAt = &ends
	if len(r.orders) == 0 {
		r.orders = r.gen.Generate()
	}
	return true
}

// Finish closes an active room whose session has run out.
func (r *Room) Finish(now time.Time) bool {
	if r.Status != models.RoomActive || r.EndsAt == nil || now.Before(*r.EndsAt) {
		return false
	}
	r.Status = models.RoomFinished
	return true
}

// Orders returns a copy of the current board.
func (r *Room) Orders() []models.Order {
	return slices.Clone(r.orders)
}

// RefreshOrders discards the board and draws a new one.
func (r *Room) RefreshOrders() ([]models.Order, error) {
	if r.Status == models.RoomFinished {
		return nil, ErrRoomClosed
	}
	r.orders = r.gen.Generate()
	return r.Orders(), nil
}

// ClaimOrder takes orderID off the board on behalf of userID and credits them.
// When the board runs dry a new one is drawn before returning, so a room is
// never left without selectable orders after a successful claim.
func (r *Room) ClaimOrder(userID int64, orderID string, now time.Time) (models.Order, error) {
	if r.Status == models.RoomFinished {
		return models.Order{}, ErrRoomClosed
	}
	player, ok := r.Player(userID)
	if !ok {
		return models.Order{}, ErrNotMember
	}
	i := slices.IndexFunc(r.orders, func(o models.Order) bool { return o.ID == orderID })
	if i < 0 {
		return models.Order{}, ErrOrderNotFound
	}
	order := r.orders[i]
	r.orders = slices.Delete(r.orders, i, i+1)

	player.OrdersTaken++
	player.TotalOrders++
	player.LastActivity = now
	if player.HourlyStats == nil {
		player.HourlyStats = make(map[string]int)
	}
	player.HourlyStats[models.HourKey(now)]++

	if len(r.orders) == 0 {
		r.orders = r.gen.Generate()
	}
	return order, nil
}

// AddNote appends text to userID's session notes.
func (r *Room) AddNote(userID int64, text string) error {
	player, ok := r.Player(userID)
	if !ok {
		return ErrNotMember
	}
	player.Notes = append(player.Notes, text)
	return nil
}

// Leaderboard ranks seated players by claims this session.
func (r *Room) Leaderboard() []Standing {
	return Rank(r.snapshotPlayers())
}

// HourBucket returns userID's claim count for the bucket key, 0 when absent.
func (r *Room) HourBucket(userID int64, hourKey string) int {
	p, ok := r.Player(userID)
	if !ok {
		return 0
	}
	return p.HourlyStats[hourKey]
}

// StampStats records that an hourly broadcast was armed at now.
func (r *Room) StampStats(now time.Time) {
	stamp := now
	r.LastStatsBroadcast = &stamp
	r.StatsPending = true
}

// StatsDelivered clears the pending broadcast. The stamp is kept.
func (r *Room) StatsDelivered() {
	r.StatsPending = false
}

func (r *Room) snapshotPlayers() []models.Player {
	out := make([]models.Player, 0, len(r.players))
	for _, p := range r.players {
		out = append(out, p.Clone())
	}
	return out
}

// Snapshot captures the room as an immutable value.
func (r *Room) Snapshot() models.RoomSnapshot {
	return models.RoomSnapshot{
		RoomID:          r.ID,
		CreatorID:       r.CreatorID,
		Players:         r.snapshotPlayers(),
		MaxPlayers:      r.Capacity,
		Status:          r.Status,
		CreatedAt:       r.CreatedAt,
		CurrentOrders:   r.Orders(),
		SessionDuration: int64(r.SessionDuration / time.Second),
		EndTime:         copyTime(r.EndsAt),
		StatsSentAt:     copyTime(r.LastStatsBroadcast),
		StatsPending:    r.StatsPending,
	}
}

// RoomFromSnapshot rebuilds a live room from its persisted form.
func RoomFromSnapshot(s models.RoomSnapshot, gen *OrderGenerator) *Room {
	r := NewRoom(s.RoomID, s.CreatorID, s.MaxPlayers, s.CreatedAt, gen)
	if s.Status != "" {
		r.Status = s.Status
	}
	if s.SessionDuration > 0 {
		r.SessionDuration = time.Duration(s.SessionDuration) * time.Second
	}
	r.EndsAt = copyTime(s.EndTime)
	r.LastStatsBroadcast = copyTime(s.StatsSentAt)
	r.StatsPending = s.StatsPending
	r.orders = slices.Clone(s.CurrentOrders)
	for _, p := range s.Players {
		c := p.Clone()
		r.players = append(r.players, &c)
	}
	return r
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
