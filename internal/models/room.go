package models

import "time"

// RoomStatus is the lifecycle state of a game room.
type RoomStatus string

const (
	RoomWaiting  RoomStatus = "waiting"
	RoomActive   RoomStatus = "active"
	RoomFinished RoomStatus = "finished"
)

// RoomSnapshot is the persisted, immutable form of a game room.
// Players are kept in join order; that order breaks leaderboard ties.
type RoomSnapshot struct {
	RoomID          string     `json:"room_id"`
	CreatorID       int64      `json:"creator_id"`
	Players         []Player   `json:"players"`
	MaxPlayers      int        `json:"max_players"`
	Status          RoomStatus `json:"status"`
	CreatedAt       time.Time  `json:"created_at"`
	CurrentOrders   []Order    `json:"current_orders"`
	SessionDuration int64      `json:"game_duration"` // seconds
	EndTime         *time.Time `json:"end_time"`
	StatsSentAt     *time.Time `json:"stats_sent_at"`
	StatsPending    bool       `json:"stats_pending,omitempty"`
}

// Player returns the snapshot's record for userID.
func (s RoomSnapshot) Player(userID int64) (Player, bool) {
	for _, p := range s.Players {
		if p.ID == userID {
			return p, true
		}
	}
	return Player{}, false
}

// Creator returns the creator's record if they are still seated.
func (s RoomSnapshot) Creator() (Player, bool) {
	return s.Player(s.CreatorID)
}

// RoomSummary describes an open room for listing.
type RoomSummary struct {
	ID          string `json:"id"`
	Occupancy   int    `json:"occupancy"`
	Capacity    int    `json:"capacity"`
	CreatorName string `json:"creator_name"`
}
