// internal/game/leaderboard.go
package game

import (
	"slices"

	"github.com/jason-s-yu/courier/internal/models"
	"github.com/samber/lo"
)

// Standing is one line of a room leaderboard.
type Standing struct {
	UserID      int64  `json:"user_id"`
	DisplayName string `json:"display_name"`
	Orders      int    `json:"orders"`
}

// Rank orders players by session claims, highest first. The sort is stable,
// so equal counts keep join order.
func Rank(players []models.Player) []Standing {
	standings := lo.Map(players, func(p models.Player, _ int) Standing {
		return Standing{UserID: p.ID, DisplayName: p.Name(), Orders: p.OrdersTaken}
	})
	slices.SortStableFunc(standings, func(a, b Standing) int {
		return b.Orders - a.Orders
	})
	return standings
}

// HourlyComparison summarises one hour bucket across the members of a room.
type HourlyComparison struct {
	HourKey  string     `json:"hour_key"`
	Counts   []Standing `json:"counts"` // ranked like Rank, by the hour's count
	Leader   Standing   `json:"leader"` // zero until someone claims this hour
	Mine     int        `json:"mine"`
	Gap      int        `json:"gap"`       // leader minus mine, never negative
	ToLead   int        `json:"to_lead"`   // claims needed to overtake the leader
	IsLeader bool       `json:"is_leader"` // caller holds a non-zero top count
}

// CompareHour builds the hourly comparison for userID.
func CompareHour(players []models.Player, userID int64, hourKey string) HourlyComparison {
	counts := lo.Map(players, func(p models.Player, _ int) Standing {
		return Standing{UserID: p.ID, DisplayName: p.Name(), Orders: p.HourlyStats[hourKey]}
	})
	slices.SortStableFunc(counts, func(a, b Standing) int {
		return b.Orders - a.Orders
	})

	cmp := HourlyComparison{HourKey: hourKey, Counts: counts}
	if len(counts) > 0 && counts[0].Orders > 0 {
		cmp.Leader = counts[0]
	}
	for _, c := range counts {
		if c.UserID == userID {
			cmp.Mine = c.Orders
			break
		}
	}
	cmp.Gap = max(cmp.Leader.Orders-cmp.Mine, 0)
	cmp.IsLeader = cmp.Leader.Orders > 0 && cmp.Gap == 0
	if !cmp.IsLeader {
		cmp.ToLead = cmp.Gap + 1
	}
	return cmp
}
