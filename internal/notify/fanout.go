// internal/notify/fanout.go
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jason-s-yu/courier/internal/game"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
)

// DefaultTimeout bounds a single delivery.
const DefaultTimeout = 5 * time.Second

// Fanout sends each message on its own goroutine with a bounded timeout, so
// one slow recipient never delays the others. Errors are logged and dropped.
type Fanout struct {
	n       Notifier
	timeout time.Duration
	log     logrus.FieldLogger
	wg      sync.WaitGroup
}

// NewFanout wraps n.
func NewFanout(n Notifier, timeout time.Duration, log logrus.FieldLogger) *Fanout {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Fanout{n: n, timeout: timeout, log: log}
}

// Send delivers text to every recipient.
func (f *Fanout) Send(ctx context.Context, recipients []int64, text string) {
	f.SendAll(ctx, lo.Map(recipients, func(id int64, _ int) Message {
		return Message{UserID: id, Text: text}
	}))
}

// SendAll delivers every message independently.
func (f *Fanout) SendAll(ctx context.Context, msgs []Message) {
	// deliveries outlive the request that triggered them
	base := context.WithoutCancel(ctx)
	for _, m := range msgs {
		f.wg.Add(1)
		go func(m Message) {
			defer f.wg.Done()
			ctx, cancel := context.WithTimeout(base, f.timeout)
			defer cancel()
			if err := f.n.Notify(ctx, m.UserID, m.Text); err != nil {
				err = fmt.Errorf("%w: %w", game.ErrNotify, err)
				f.log.WithError(err).WithField("user_id", m.UserID).Warn("notification not delivered")
			}
		}(m)
	}
}

// Wait blocks until every delivery started so far has returned.
func (f *Fanout) Wait() {
	f.wg.Wait()
}
