// internal/session/messages.go
package session

import (
	"fmt"
	"strings"

	"github.com/jason-s-yu/courier/internal/game"
	"github.com/jason-s-yu/courier/internal/models"
)

func medal(pos int) string {
	switch pos {
	case 1:
		return "🥇"
	case 2:
		return "🥈"
	case 3:
		return "🥉"
	default:
		return fmt.Sprintf("%d.", pos)
	}
}

func playerJoinedText(name string, room models.RoomSnapshot) string {
	return fmt.Sprintf("🎉 New player joined!\n\n👤 Player: %s\n🔢 Players now: %d/%d\n\nRoom ID: %s",
		name, len(room.Players), room.MaxPlayers, room.RoomID)
}

func gameStartedText(name, roomID string) string {
	return fmt.Sprintf("🎮 The game has started!\n\nPlayer %s started the game.\nRoom ID: %s\n\nOpen the order board from the room menu.",
		name, roomID)
}

func orderClaimedText(p models.Player, o models.Order) string {
	return fmt.Sprintf("📦 Player %s took an order!\n\n📍 Address: %s\n💰 Price: %d\n\n📊 %s's stats:\n• Orders this game: %d\n• Orders overall: %d\n\n🏃 Your move!",
		p.Name(), o.Address, o.Price, p.Name(), p.OrdersTaken, p.TotalOrders)
}

func playerLeftText(name, roomID string, remaining, capacity int) string {
	return fmt.Sprintf("👋 Player %s left the room\n\nPlayers left: %d/%d\nRoom ID: %s",
		name, remaining, capacity, roomID)
}

func reminderText(roomID string) string {
	return fmt.Sprintf("⏰ Room reminder\n\nYou are still alone in room %s.\nInvite a friend or start playing solo!\n\nThe room closes automatically after 24 hours of inactivity.",
		roomID)
}

func roomClosedText(roomID string) string {
	return fmt.Sprintf("🧹 Room %s was closed for inactivity.", roomID)
}

func leaderboardLines(board []game.Standing) string {
	var b strings.Builder
	for i, s := range board {
		fmt.Fprintf(&b, "%s %s: %d orders\n", medal(i+1), s.DisplayName, s.Orders)
	}
	return b.String()
}

// hourlyBroadcast renders the hourly leaderboard plus advice tailored to each member.
func hourlyBroadcast(hourKey string, board []game.Standing) []string {
	header := fmt.Sprintf("⏰ Hourly stats (%s)\n\n🏆 Leaderboard:\n\n%s\n💪 Keep it up!\nNext stats in an hour.",
		hourKey, leaderboardLines(board))

	texts := make([]string, len(board))
	for i, s := range board {
		var advice string
		if i == 0 {
			second := 0
			if len(board) > 1 {
				second = board[1].Orders
			}
			advice = fmt.Sprintf("\n\n🥇 You are in the lead!\n📈 Lead: %d orders\n💪 Stay ahead!", s.Orders-second)
		} else {
			gap := board[0].Orders - s.Orders
			advice = fmt.Sprintf("\n\n📊 Your position: #%d\n📈 Behind the leader by: %d orders\n🎯 Take %d more orders to overtake",
				i+1, gap, gap+1)
		}
		texts[i] = header + advice
	}
	return texts
}
