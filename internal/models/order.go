package models

// Order is a single deliverable task sitting on a room's board.
type Order struct {
	ID        string `json:"id"`
	Address   string `json:"address"`
	Weight    int    `json:"weight"`     // kilograms
	Price     int    `json:"price"`      // whole currency units
	TimeLimit int    `json:"time_limit"` // minutes
}
