// internal/storage/open.go
package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/dgraph-io/badger/v4"
	"github.com/jason-s-yu/courier/internal/cache"
	"github.com/jason-s-yu/courier/internal/config"
	"github.com/jason-s-yu/courier/internal/database"
	"github.com/jason-s-yu/courier/internal/lobby"
	"github.com/sirupsen/logrus"
)

// Open builds the snapshot store selected by cfg.StoreBackend. The returned
// closer releases the connections or files the store holds. With readOnly
// a badger directory is opened without taking its lock, so a running server
// can be inspected.
func Open(ctx context.Context, cfg config.Config, readOnly bool, log logrus.FieldLogger) (lobby.Store, io.Closer, error) {
	switch cfg.StoreBackend {
	case config.BackendBadger:
		if readOnly {
			opts := badger.DefaultOptions(cfg.BadgerFilepath).
				WithReadOnly(true).
				WithBypassLockGuard(true).
				WithLogger(badgerLogger{log})
			db, err := badger.Open(opts)
			if err != nil {
				return nil, nil, fmt.Errorf("failed to open badger read-only at %q: %w", cfg.BadgerFilepath, err)
			}
			s := NewBadgerStore(db)
			return s, s, nil
		}
		s, err := OpenBadger(cfg.BadgerFilepath, log)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil

	case config.BackendRedis:
		rdb, err := cache.Connect(ctx, cfg.RedisAddr, cfg.RedisDB)
		if err != nil {
			return nil, nil, err
		}
		return cache.NewSnapshotStore(rdb, cfg.RedisSnapshotKey), rdb, nil

	case config.BackendPostgres:
		pool, err := database.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if !readOnly {
			if err := database.EnsureSchema(ctx, pool); err != nil {
				pool.Close()
				return nil, nil, err
			}
		}
		return database.NewSnapshotStore(pool), closerFunc(pool.Close), nil

	default:
		log.Warn("using in-memory store; state is lost on restart")
		return lobby.NewMemoryStore(), closerFunc(func() {}), nil
	}
}

type closerFunc func()

func (f closerFunc) Close() error {
	f()
	return nil
}
