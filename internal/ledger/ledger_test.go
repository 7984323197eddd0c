package ledger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/jason-s-yu/courier/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chanSource pops from a channel, reporting ok=false after a short wait.
type chanSource struct {
	ch   chan models.ClaimRecord
	errs chan error
}

func newChanSource() *chanSource {
	return &chanSource{ch: make(chan models.ClaimRecord, 64), errs: make(chan error, 4)}
}

func (s *chanSource) Pop(ctx context.Context) (models.ClaimRecord, bool, error) {
	select {
	case err := <-s.errs:
		return models.ClaimRecord{}, false, err
	default:
	}
	select {
	case rec := <-s.ch:
		return rec, true, nil
	case <-time.After(5 * time.Millisecond):
		return models.ClaimRecord{}, false, nil
	case <-ctx.Done():
		return models.ClaimRecord{}, false, ctx.Err()
	}
}

// slowSource hands out queued records and otherwise blocks for wait, like a
// BLPOP against an idle list.
type slowSource struct {
	ch   chan models.ClaimRecord
	wait time.Duration
}

func (s *slowSource) Pop(ctx context.Context) (models.ClaimRecord, bool, error) {
	select {
	case rec := <-s.ch:
		return rec, true, nil
	default:
	}
	select {
	case <-time.After(s.wait):
		return models.ClaimRecord{}, false, nil
	case <-ctx.Done():
		return models.ClaimRecord{}, false, ctx.Err()
	}
}

type memorySink struct {
	mu      sync.Mutex
	batches [][]models.ClaimRecord
	fail    int
}

func (s *memorySink) InsertClaims(_ context.Context, recs []models.ClaimRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail > 0 {
		s.fail--
		return errors.New("db down")
	}
	s.batches = append(s.batches, append([]models.ClaimRecord(nil), recs...))
	return nil
}

func (s *memorySink) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.batches {
		n += len(b)
	}
	return n
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func record(i int) models.ClaimRecord {
	return models.ClaimRecord{RoomID: "abcd1234", UserID: 1, OrderID: fmt.Sprintf("o-%d", i)}
}

func runService(t *testing.T, svc *Service) (cancel func()) {
	t.Helper()
	ctx, stop := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.Run(ctx)
		close(done)
	}()
	return func() {
		stop()
		<-done
	}
}

func TestService_FlushesFullBatches(t *testing.T) {
	src := newChanSource()
	sink := &memorySink{}
	svc := NewService(src, sink, Settings{BatchSize: 3, FlushDelay: time.Hour}, quietLogger())

	for i := range 6 {
		src.ch <- record(i)
	}
	stop := runService(t, svc)
	require.Eventually(t, func() bool { return sink.total() == 6 }, time.Second, 5*time.Millisecond)
	stop()

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.batches, 2)
	assert.Len(t, sink.batches[0], 3)
	assert.Equal(t, "o-0", sink.batches[0][0].OrderID)
}

func TestService_FlushesPartialBatchOnTick(t *testing.T) {
	src := newChanSource()
	sink := &memorySink{}
	svc := NewService(src, sink, Settings{BatchSize: 100, FlushDelay: 20 * time.Millisecond}, quietLogger())

	src.ch <- record(1)
	stop := runService(t, svc)
	defer stop()
	require.Eventually(t, func() bool { return sink.total() == 1 }, time.Second, 5*time.Millisecond)
}

func TestService_RetriesFailedFlush(t *testing.T) {
	src := newChanSource()
	sink := &memorySink{fail: 2}
	svc := NewService(src, sink, Settings{BatchSize: 1, FlushDelay: 10 * time.Millisecond}, quietLogger())

	src.ch <- record(1)
	stop := runService(t, svc)
	require.Eventually(t, func() bool { return sink.total() == 1 }, time.Second, 5*time.Millisecond)
	stop()
	assert.Zero(t, svc.Pending())
}

func TestService_FinalFlushOnShutdown(t *testing.T) {
	src := newChanSource()
	sink := &memorySink{}
	svc := NewService(src, sink, Settings{BatchSize: 100, FlushDelay: time.Hour}, quietLogger())

	src.ch <- record(1)
	src.ch <- record(2)
	stop := runService(t, svc)
	require.Eventually(t, func() bool { return len(src.ch) == 0 }, time.Second, time.Millisecond)
	// the second record may still be in flight inside Pop; give it a moment
	time.Sleep(20 * time.Millisecond)
	stop()

	assert.Equal(t, 2, sink.total())
}

func TestService_BacksOffOnSourceError(t *testing.T) {
	src := newChanSource()
	src.errs <- errors.New("connection refused")
	sink := &memorySink{}
	svc := NewService(src, sink, Settings{BatchSize: 1, ErrorBackoff: 10 * time.Millisecond}, quietLogger())

	src.ch <- record(1)
	stop := runService(t, svc)
	defer stop()
	require.Eventually(t, func() bool { return sink.total() == 1 }, time.Second, 5*time.Millisecond)
}

func TestService_FlushLatencyBoundedByDelayPlusWait(t *testing.T) {
	src := &slowSource{ch: make(chan models.ClaimRecord, 1), wait: 40 * time.Millisecond}
	sink := &memorySink{}
	svc := NewService(src, sink, Settings{BatchSize: 100, FlushDelay: 40 * time.Millisecond}, quietLogger())

	stop := runService(t, svc)
	defer stop()
	time.Sleep(10 * time.Millisecond)

	src.ch <- record(1)
	start := time.Now()
	require.Eventually(t, func() bool { return sink.total() == 1 }, time.Second, time.Millisecond)
	// one tick plus the pop in flight when it fired, with scheduling slack
	assert.Less(t, time.Since(start), 300*time.Millisecond)
}
