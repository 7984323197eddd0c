// Package ledger drains claim activity records from a queue into durable
// storage in batches.
package ledger

import (
	"context"
	"time"

	"github.com/jason-s-yu/courier/internal/models"
	"github.com/sirupsen/logrus"
)

// Source yields claim records. Pop blocks for a bounded time and reports
// ok=false when nothing arrived.
type Source interface {
	Pop(ctx context.Context) (models.ClaimRecord, bool, error)
}

// Sink persists a batch of records.
type Sink interface {
	InsertClaims(ctx context.Context, recs []models.ClaimRecord) error
}

// Settings tunes batching.
type Settings struct {
	BatchSize    int
	FlushDelay   time.Duration
	ErrorBackoff time.Duration
	FlushTimeout time.Duration
}

// DefaultSettings returns the production values.
func DefaultSettings() Settings {
	return Settings{
		BatchSize:    20,
		FlushDelay:   500 * time.Millisecond,
		ErrorBackoff: time.Second,
		FlushTimeout: 5 * time.Second,
	}
}

// Service moves records from a Source to a Sink. A batch is written when it
// reaches BatchSize or every FlushDelay, whichever comes first. The tick is
// only observed between pops, so a record can wait up to FlushDelay plus one
// Pop; sources should block no longer than FlushDelay.
type Service struct {
	src      Source
	sink     Sink
	settings Settings
	log      logrus.FieldLogger

	batch []models.ClaimRecord
}

// NewService builds a ledger service. Zero settings fall back to defaults.
func NewService(src Source, sink Sink, settings Settings, log logrus.FieldLogger) *Service {
	d := DefaultSettings()
	if settings.BatchSize <= 0 {
		settings.BatchSize = d.BatchSize
	}
	if settings.FlushDelay <= 0 {
		settings.FlushDelay = d.FlushDelay
	}
	if settings.ErrorBackoff <= 0 {
		settings.ErrorBackoff = d.ErrorBackoff
	}
	if settings.FlushTimeout <= 0 {
		settings.FlushTimeout = d.FlushTimeout
	}
	return &Service{
		src:      src,
		sink:     sink,
		settings: settings,
		log:      log,
		batch:    make([]models.ClaimRecord, 0, settings.BatchSize),
	}
}

// Run consumes until ctx is cancelled, then makes a final flush attempt.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.settings.FlushDelay)
	defer ticker.Stop()

	s.log.Info("claim ledger started")
	for {
		select {
		case <-ctx.Done():
			s.flush(context.WithoutCancel(ctx))
			s.log.Info("claim ledger stopped")
			return
		case <-ticker.C:
			s.flush(ctx)
		default:
			rec, ok, err := s.src.Pop(ctx)
			if err != nil {
				if ctx.Err() != nil {
					continue
				}
				s.log.WithError(err).Error("failed to pop claim record")
				select {
				case <-ctx.Done():
				case <-time.After(s.settings.ErrorBackoff):
				}
				continue
			}
			if !ok {
				continue
			}
			s.batch = append(s.batch, rec)
			if len(s.batch) >= s.settings.BatchSize {
				s.flush(ctx)
			}
		}
	}
}

// Pending returns how many records are waiting to be written. Only safe to
// call when Run is not running.
func (s *Service) Pending() int {
	return len(s.batch)
}

// flush writes the batch. On failure the records are kept for the next attempt.
func (s *Service) flush(ctx context.Context) {
	if len(s.batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, s.settings.FlushTimeout)
	defer cancel()

	if err := s.sink.InsertClaims(ctx, s.batch); err != nil {
		s.log.WithError(err).WithField("records", len(s.batch)).Error("failed to flush claims")
		return
	}
	s.log.WithField("records", len(s.batch)).Debug("flushed claims")
	s.batch = make([]models.ClaimRecord, 0, s.settings.BatchSize)
}
