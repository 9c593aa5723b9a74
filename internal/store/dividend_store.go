package store

import (
	"context"

	"marketplace/internal/models"
)

type DividendStore struct {
	db DB
}

func NewDividendStore(db DB) *DividendStore {
	return &DividendStore{db: db}
}

// CreateBatch inserts the batch unless (listing_id, batch_key) already exists.
// It returns the rows inserted, so zero means the batch was started before.
func (s *DividendStore) CreateBatch(ctx context.Context, tx Execer, batch models.DividendBatch) (int64, error) {
	return rowsAffected(tx.ExecContext(ctx, `
		INSERT INTO dividend_batches (id, listing_id, batch_key, amount_per_unit, status, created_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (listing_id, batch_key) DO NOTHING
	`, batch.ID, batch.ListingID, batch.BatchKey, batch.AmountPerUnit, batch.Status, batch.CreatedBy))
}

func (s *DividendStore) GetBatch(ctx context.Context, listingID, batchKey string) (models.DividendBatch, error) {
	var row models.DividendBatch
	err := s.db.GetContext(ctx, &row, `
		SELECT id, listing_id, batch_key, amount_per_unit, status, created_by, created_at
		FROM dividend_batches
		WHERE listing_id = $1 AND batch_key = $2
	`, listingID, batchKey)
	return row, err
}

func (s *DividendStore) SetBatchStatus(ctx context.Context, tx Execer, batchID string, status models.BatchStatus) error {
	_, err := tx.ExecContext(ctx, `UPDATE dividend_batches SET status = $1 WHERE id = $2`, status, batchID)
	return err
}

func (s *DividendStore) HasPayout(ctx context.Context, tx Getter, batchID, accountID string) (bool, error) {
	var exists bool
	err := tx.GetContext(ctx, &exists, `
		SELECT EXISTS(SELECT 1 FROM dividend_payouts WHERE batch_id = $1 AND account_id = $2)
	`, batchID, accountID)
	return exists, err
}

// InsertPayout returns zero rows when the holder was already paid in this batch.
func (s *DividendStore) InsertPayout(ctx context.Context, tx Execer, payout models.DividendPayout) (int64, error) {
	return rowsAffected(tx.ExecContext(ctx, `
		INSERT INTO dividend_payouts (batch_id, account_id, units, amount, transaction_id)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (batch_id, account_id) DO NOTHING
	`, payout.BatchID, payout.AccountID, payout.Units, payout.Amount, payout.TransactionID))
}

func (s *DividendStore) ListPayouts(ctx context.Context, batchID string) ([]models.DividendPayout, error) {
	var rows []models.DividendPayout
	err := s.db.SelectContext(ctx, &rows, `
		SELECT batch_id, account_id, units, amount, transaction_id, created_at
		FROM dividend_payouts
		WHERE batch_id = $1
		ORDER BY account_id
	`, batchID)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
