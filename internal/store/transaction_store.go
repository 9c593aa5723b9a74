package store

import (
	"context"
	"fmt"

	"marketplace/internal/models"
)

type TransactionStore struct {
	db DB
}

func NewTransactionStore(db DB) *TransactionStore {
	return &TransactionStore{db: db}
}

const transactionColumns = `id, account_id, listing_id, kind, status, amount, quantity, external_reference,
		       payment_method, phone, reason, batch_id, created_at, updated_at`

func (s *TransactionStore) Create(ctx context.Context, tx Execer, t models.Transaction) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO transactions (id, account_id, listing_id, kind, status, amount, quantity, external_reference, payment_method, phone, reason, batch_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, t.ID, t.AccountID, t.ListingID, t.Kind, t.Status, t.Amount, t.Quantity, t.ExternalReference,
		t.PaymentMethod, t.Phone, t.Reason, t.BatchID)
	return err
}

func (s *TransactionStore) GetByID(ctx context.Context, transactionID string) (models.Transaction, error) {
	var row models.Transaction
	err := s.db.GetContext(ctx, &row, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, transactionID)
	return row, err
}

func (s *TransactionStore) GetForUpdate(ctx context.Context, tx Getter, transactionID string) (models.Transaction, error) {
	var row models.Transaction
	err := tx.GetContext(ctx, &row, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE id = $1
		FOR UPDATE
	`, transactionID)
	return row, err
}

func (s *TransactionStore) GetByReferenceForUpdate(ctx context.Context, tx Getter, reference string) (models.Transaction, error) {
	var row models.Transaction
	err := tx.GetContext(ctx, &row, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE external_reference = $1
		FOR UPDATE
	`, reference)
	return row, err
}

// Resolve moves a pending transaction to a terminal status. It affects zero
// rows when the transaction already left pending.
func (s *TransactionStore) Resolve(ctx context.Context, tx Execer, transactionID string, status models.TransactionStatus, reason *string) (int64, error) {
	return rowsAffected(tx.ExecContext(ctx, `
		UPDATE transactions
		SET status = $1, reason = COALESCE($2, reason), updated_at = NOW()
		WHERE id = $3 AND status = 'pending'
	`, status, reason, transactionID))
}

// SetReference attaches the provider reference to a pending transaction that
// has none yet.
func (s *TransactionStore) SetReference(ctx context.Context, tx Execer, transactionID, reference string) (int64, error) {
	return rowsAffected(tx.ExecContext(ctx, `
		UPDATE transactions
		SET external_reference = $1, updated_at = NOW()
		WHERE id = $2 AND status = 'pending' AND external_reference IS NULL
	`, reference, transactionID))
}

func (s *TransactionStore) ListByAccount(ctx context.Context, accountID string, kind models.TransactionKind, limit, offset int) ([]models.Transaction, error) {
	var rows []models.Transaction
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE account_id = $1`
	args := []any{accountID}
	if kind != "" {
		query += " AND kind = $2"
		args = append(args, kind)
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, limit, offset)
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *TransactionStore) CountByAccount(ctx context.Context, accountID string, kind models.TransactionKind) (int64, error) {
	var count int64
	err := s.db.GetContext(ctx, &count, `
		SELECT COUNT(1)
		FROM transactions
		WHERE account_id = $1 AND ($2 = '' OR kind = $2)
	`, accountID, kind)
	return count, err
}

func (s *TransactionStore) ListPending(ctx context.Context, limit, offset int) ([]models.Transaction, error) {
	var rows []models.Transaction
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE status = 'pending'
		ORDER BY created_at ASC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *TransactionStore) ListAll(ctx context.Context, limit, offset int) ([]models.Transaction, error) {
	var rows []models.Transaction
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+transactionColumns+`
		FROM transactions
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// HoldingsByListing sums settled purchase quantities per buyer.
func (s *TransactionStore) HoldingsByListing(ctx context.Context, listingID string) ([]models.Holding, error) {
	var rows []models.Holding
	err := s.db.SelectContext(ctx, &rows, `
		SELECT account_id, SUM(quantity) AS units
		FROM transactions
		WHERE listing_id = $1 AND kind = 'purchase' AND status = 'settled'
		GROUP BY account_id
		HAVING SUM(quantity) > 0
		ORDER BY account_id
	`, listingID)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
