// internal/cache/redis.go
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jason-s-yu/courier/internal/models"
	"github.com/redis/go-redis/v9"
)

// DefaultQueueName is the Redis list claim records are pushed to.
const DefaultQueueName = "courier_claims"

// Connect returns a client for addr/db after a successful ping.
func Connect(ctx context.Context, addr string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	return rdb, nil
}

// SnapshotStore keeps the registry document under a single Redis key.
type SnapshotStore struct {
	rdb *redis.Client
	key string
}

// NewSnapshotStore stores the document at key.
func NewSnapshotStore(rdb *redis.Client, key string) *SnapshotStore {
	return &SnapshotStore{rdb: rdb, key: key}
}

func (s *SnapshotStore) Load(ctx context.Context) (*models.RegistrySnapshot, error) {
	data, err := s.rdb.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, models.ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("failed to GET '%s': %w", s.key, err)
	}
	return models.DecodeSnapshot(data)
}

func (s *SnapshotStore) Save(ctx context.Context, snap *models.RegistrySnapshot) error {
	data, err := models.EncodeSnapshot(snap)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to SET '%s': %w", s.key, err)
	}
	return nil
}

// ActivityPublisher pushes every claim record onto a Redis list for the
// ledger service to drain.
type ActivityPublisher struct {
	rdb   *redis.Client
	queue string
}

// NewActivityPublisher publishes to queue, or DefaultQueueName when empty.
func NewActivityPublisher(rdb *redis.Client, queue string) *ActivityPublisher {
	if queue == "" {
		queue = DefaultQueueName
	}
	return &ActivityPublisher{rdb: rdb, queue: queue}
}

// Record serializes rec to JSON and RPUSHes it.
func (p *ActivityPublisher) Record(ctx context.Context, rec models.ClaimRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal ClaimRecord: %w", err)
	}
	if err := p.rdb.RPush(ctx, p.queue, data).Err(); err != nil {
		return fmt.Errorf("failed to RPush to Redis list '%s': %w", p.queue, err)
	}
	return nil
}

// ClaimQueue is the consuming side of the activity list.
type ClaimQueue struct {
	rdb   *redis.Client
	queue string
	wait  time.Duration
}

// NewClaimQueue pops from queue, blocking up to wait per call. The client sends
// the wait in whole seconds, so anything shorter blocks for one second.
func NewClaimQueue(rdb *redis.Client, queue string, wait time.Duration) *ClaimQueue {
	if queue == "" {
		queue = DefaultQueueName
	}
	return &ClaimQueue{rdb: rdb, queue: queue, wait: wait}
}

// Pop returns the next record, or ok=false when the wait elapsed with the
// list empty. Undecodable entries are reported as errors and dropped.
func (q *ClaimQueue) Pop(ctx context.Context) (rec models.ClaimRecord, ok bool, err error) {
	res, err := q.rdb.BLPop(ctx, q.wait, q.queue).Result()
	if errors.Is(err, redis.Nil) {
		return rec, false, nil
	}
	if err != nil {
		return rec, false, fmt.Errorf("failed to BLPOP '%s': %w", q.queue, err)
	}
	// res is [queue, value]
	if err := json.Unmarshal([]byte(res[1]), &rec); err != nil {
		return rec, false, fmt.Errorf("failed to unmarshal claim record: %w", err)
	}
	return rec, true, nil
}
