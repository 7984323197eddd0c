// internal/database/claims.go
package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jason-s-yu/courier/internal/models"
)

// ClaimWriter appends claim records to the order_claims ledger table.
type ClaimWriter struct {
	pool *pgxpool.Pool
}

// NewClaimWriter returns a writer over pool.
func NewClaimWriter(pool *pgxpool.Pool) *ClaimWriter {
	return &ClaimWriter{pool: pool}
}

// InsertClaims writes recs in a single transaction. Records already present
// (same room and order) are skipped, so a redelivered batch is harmless.
func (w *ClaimWriter) InsertClaims(ctx context.Context, recs []models.ClaimRecord) error {
	if len(recs) == 0 {
		return nil
	}
	err := pgx.BeginTxFunc(ctx, w.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, r := range recs {
			batch.Queue(`
				INSERT INTO order_claims (room_id, order_id, user_id, address, weight, price, claimed_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
				ON CONFLICT (room_id, order_id) DO NOTHING
			`, r.RoomID, r.OrderID, r.UserID, r.Address, r.Weight, r.Price, r.ClaimedAt)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return fmt.Errorf("tx insert claims: %w", err)
	}
	return nil
}

// UserClaimCount returns how many claims the ledger holds for userID.
func (w *ClaimWriter) UserClaimCount(ctx context.Context, userID int64) (int, error) {
	var n int
	if err := w.pool.QueryRow(ctx, `SELECT count(*) FROM order_claims WHERE user_id = $1`, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count claims: %w", err)
	}
	return n, nil
}
