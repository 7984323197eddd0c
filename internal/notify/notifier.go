// internal/notify/notifier.go
package notify

import (
	"context"
	"errors"
)

//go:generate mockgen -destination=../mocks/mock_notifier.go -package=mocks github.com/jason-s-yu/courier/internal/notify Notifier

var (
	// ErrOffline means the recipient has no live connection.
	ErrOffline = errors.New("recipient offline")
	// ErrBackpressure means the recipient's outbound buffer is full.
	ErrBackpressure = errors.New("recipient outbound buffer full")
)

// Notifier delivers a text message to one user. Delivery is best effort:
// callers log failures and never retry.
type Notifier interface {
	Notify(ctx context.Context, userID int64, text string) error
}

// Message is one addressed notification.
type Message struct {
	UserID int64
	Text   string
}
