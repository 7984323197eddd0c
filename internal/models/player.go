package models

import (
	"fmt"
	"time"
)

// Player holds a single participant's statistics while they occupy a room.
type Player struct {
	ID          int64  `json:"user_id"`
	DisplayName string `json:"display_name"`

	// OrdersTaken counts claims made in the current room session.
	OrdersTaken int `json:"orders_taken"`
	// TotalOrders counts claims across every room the user has played in.
	TotalOrders int `json:"total_orders"`

	// Notes mirrors the user's notes while they are seated.
	Notes []string `json:"notes"`

	JoinedAt     time.Time `json:"joined_at"`
	LastActivity time.Time `json:"last_activity"`

	// HourlyStats maps an hour bucket key (see HourKey) to the claims made in that hour.
	HourlyStats map[string]int `json:"hourly_stats"`
}

// NewPlayer builds a player record stamped with the given join time.
func NewPlayer(id int64, displayName string, now time.Time) *Player {
	return &Player{
		ID:           id,
		DisplayName:  displayName,
		JoinedAt:     now,
		LastActivity: now,
		HourlyStats:  make(map[string]int),
	}
}

// Name returns the display name, falling back to a generated label.
func (p *Player) Name() string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return fmt.Sprintf("Player %d", p.ID)
}

// Clone returns a deep copy that shares no mutable state with p.
func (p *Player) Clone() Player {
	c := *p
	if p.Notes != nil {
		c.Notes = append([]string(nil), p.Notes...)
	}
	c.HourlyStats = make(map[string]int, len(p.HourlyStats))
	for k, v := range p.HourlyStats {
		c.HourlyStats[k] = v
	}
	return c
}

// HourKeyLayout formats an hour bucket key, e.g. "2025-03-14 09:00".
const HourKeyLayout = "2006-01-02 15:00"

// HourKey truncates t to the hour and renders the bucket key.
func HourKey(t time.Time) string {
	return t.Truncate(time.Hour).Format(HourKeyLayout)
}
