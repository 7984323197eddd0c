// internal/notify/notify_test.go
package notify_test

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/jason-s-yu/courier/internal/mocks"
	"github.com/jason-s-yu/courier/internal/notify"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestFanout_DeliversToEveryRecipient(t *testing.T) {
	ctrl := gomock.NewController(t)
	n := mocks.NewMockNotifier(ctrl)

	n.EXPECT().Notify(gomock.Any(), int64(1), "hello").Return(nil)
	n.EXPECT().Notify(gomock.Any(), int64(2), "hello").Return(errors.New("blocked by user"))
	n.EXPECT().Notify(gomock.Any(), int64(3), "hello").Return(nil)

	f := notify.NewFanout(n, time.Second, quietLogger())
	f.Send(context.Background(), []int64{1, 2, 3}, "hello")
	f.Wait()
}

func TestFanout_SlowRecipientDoesNotBlockOthers(t *testing.T) {
	ctrl := gomock.NewController(t)
	n := mocks.NewMockNotifier(ctrl)

	var mu sync.Mutex
	var order []int64
	n.EXPECT().Notify(gomock.Any(), int64(1), gomock.Any()).DoAndReturn(
		func(ctx context.Context, id int64, _ string) error {
			<-ctx.Done()
			mu.Lock()
			order = append(order, id)
			mu.Unlock()
			return ctx.Err()
		})
	n.EXPECT().Notify(gomock.Any(), int64(2), gomock.Any()).DoAndReturn(
		func(_ context.Context, id int64, _ string) error {
			mu.Lock()
			order = append(order, id)
			mu.Unlock()
			return nil
		})

	f := notify.NewFanout(n, 50*time.Millisecond, quietLogger())
	f.SendAll(context.Background(), []notify.Message{{UserID: 1, Text: "a"}, {UserID: 2, Text: "b"}})
	f.Wait()

	assert.Equal(t, []int64{2, 1}, order)
}

func TestHub_Notify(t *testing.T) {
	hub := notify.NewHub(1, quietLogger())
	ctx := context.Background()

	assert.ErrorIs(t, hub.Notify(ctx, 5, "anyone?"), notify.ErrOffline)

	client, unregister := hub.Register(5)
	require.True(t, hub.Online(5))
	require.NoError(t, hub.Notify(ctx, 5, "first"))
	assert.ErrorIs(t, hub.Notify(ctx, 5, "second"), notify.ErrBackpressure)

	msg := <-client.Out
	assert.Equal(t, "notification", msg["type"])
	assert.Equal(t, "first", msg["text"])

	unregister()
	unregister()
	assert.False(t, hub.Online(5))
	assert.ErrorIs(t, hub.Notify(ctx, 5, "gone"), notify.ErrOffline)
}
