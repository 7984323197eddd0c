// internal/storage/badger.go
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/jason-s-yu/courier/internal/models"
	"github.com/sirupsen/logrus"
)

// snapshotKey holds the single registry document.
var snapshotKey = []byte("registry:snapshot")

// BadgerStore persists the registry document in an embedded badger database.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadger opens (or creates) a badger database at path. An empty path
// opens an in-memory database.
func OpenBadger(path string, log logrus.FieldLogger) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).WithLogger(badgerLogger{log})
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger at %q: %w", path, err)
	}
	return &BadgerStore{db: db}, nil
}

// NewBadgerStore wraps an already opened database.
func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

// Load reads the registry document.
func (s *BadgerStore) Load(_ context.Context) (*models.RegistrySnapshot, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(snapshotKey)
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, models.ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	return models.DecodeSnapshot(data)
}

// Save replaces the registry document in a single transaction.
func (s *BadgerStore) Save(ctx context.Context, snap *models.RegistrySnapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := models.EncodeSnapshot(snap)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(snapshotKey, data)
	})
}

// Close flushes and closes the database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// badgerLogger routes badger's internal logging into logrus, demoting its
// chatty info output to debug.
type badgerLogger struct {
	log logrus.FieldLogger
}

func (l badgerLogger) Errorf(f string, v ...interface{})   { l.log.Errorf("badger: "+f, v...) }
func (l badgerLogger) Warningf(f string, v ...interface{}) { l.log.Warnf("badger: "+f, v...) }
func (l badgerLogger) Infof(f string, v ...interface{})    { l.log.Debugf("badger: "+f, v...) }
func (l badgerLogger) Debugf(f string, v ...interface{})   { l.log.Debugf("badger: "+f, v...) }
