// internal/database/snapshot.go
package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jason-s-yu/courier/internal/models"
)

// snapshotRowID is the id of the single registry_snapshots row.
const snapshotRowID = 1

// SnapshotStore keeps the registry document in one JSONB row.
type SnapshotStore struct {
	pool *pgxpool.Pool
}

// NewSnapshotStore returns a store over pool. EnsureSchema must have run.
func NewSnapshotStore(pool *pgxpool.Pool) *SnapshotStore {
	return &SnapshotStore{pool: pool}
}

func (s *SnapshotStore) Load(ctx context.Context) (*models.RegistrySnapshot, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT document FROM registry_snapshots WHERE id = $1`, snapshotRowID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select snapshot: %w", err)
	}
	return models.DecodeSnapshot(data)
}

func (s *SnapshotStore) Save(ctx context.Context, snap *models.RegistrySnapshot) error {
	data, err := models.EncodeSnapshot(snap)
	if err != nil {
		return err
	}
	err = pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		q := `
			INSERT INTO registry_snapshots (id, document, updated_at)
			VALUES ($1, $2, now())
			ON CONFLICT (id) DO UPDATE SET document = $2, updated_at = now()
		`
		_, e := tx.Exec(ctx, q, snapshotRowID, data)
		return e
	})
	if err != nil {
		return fmt.Errorf("tx upsert snapshot: %w", err)
	}
	return nil
}
