// internal/game/orders.go
package game

import (
	"math/rand/v2"

	"github.com/google/uuid"
	"github.com/jason-s-yu/courier/internal/models"
)

// DefaultAddresses is the fixed delivery catalog orders are drawn from.
var DefaultAddresses = []string{
	"15 Lenin St",
	"42 Peace Ave",
	"7 Sovetskaya St",
	"33 Victory Ave",
	"21 Central St",
	"8 Builders Ave",
	"12 Garden St",
	"5 Cosmonauts Ave",
}

// Inclusive bounds for randomly drawn order attributes.
const (
	minWeight, maxWeight       = 1, 20
	minPrice, maxPrice         = 100, 1000
	minTimeLimit, maxTimeLimit = 10, 60
)

// OrderGenerator produces randomized order boards. It holds no mutable state,
// so a single instance is shared by every room.
type OrderGenerator struct {
	MinCount  int
	MaxCount  int
	Addresses []string
}

// NewOrderGenerator returns a generator producing 1-3 orders per board.
func NewOrderGenerator() *OrderGenerator {
	return &OrderGenerator{
		MinCount:  1,
		MaxCount:  3,
		Addresses: DefaultAddresses,
	}
}

// Generate draws a fresh board. Ids come from random UUIDs so that concurrent
// calls within the same instant never collide.
func (g *OrderGenerator) Generate() []models.Order {
	low, high := g.MinCount, g.MaxCount
	if low < 1 {
		low = 1
	}
	if high < low {
		high = low
	}
	addresses := g.Addresses
	if len(addresses) == 0 {
		addresses = DefaultAddresses
	}

	n := between(low, high)
	orders := make([]models.Order, 0, n)
	for range n {
		orders = append(orders, models.Order{
			ID:        uuid.NewString(),
			Address:   addresses[rand.IntN(len(addresses))],
			Weight:    between(minWeight, maxWeight),
			Price:     between(minPrice, maxPrice),
			TimeLimit: between(minTimeLimit, maxTimeLimit),
		})
	}
	return orders
}

// between returns a uniform integer in [lo, hi].
func between(lo, hi int) int {
	return lo + rand.IntN(hi-lo+1)
}
