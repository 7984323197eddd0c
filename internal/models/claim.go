package models

import "time"

// ClaimRecord is the activity entry published for every successful claim.
type ClaimRecord struct {
	RoomID    string    `json:"room_id"`
	UserID    int64     `json:"user_id"`
	OrderID   string    `json:"order_id"`
	Address   string    `json:"address"`
	Weight    int       `json:"weight"`
	Price     int       `json:"price"`
	ClaimedAt time.Time `json:"claimed_at"`
}
