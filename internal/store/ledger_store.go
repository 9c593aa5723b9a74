package store

import (
	"context"

	"marketplace/internal/models"
)

// LedgerStore is the wallet journal: one row per credit or debit with the
// balance it produced.
type LedgerStore struct {
	db DB
}

type ReconcileRow struct {
	AccountID      string `db:"account_id" json:"account_id"`
	AccountBalance int64  `db:"account_balance" json:"account_balance"`
	JournalSum     int64  `db:"journal_sum" json:"journal_sum"`
	Difference     int64  `db:"difference" json:"difference"`
}

func NewLedgerStore(db DB) *LedgerStore {
	return &LedgerStore{db: db}
}

func (s *LedgerStore) Append(ctx context.Context, tx Execer, entry models.WalletEntry) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO wallet_entries (id, account_id, transaction_id, delta, balance_after, description)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, entry.ID, entry.AccountID, entry.TransactionID, entry.Delta, entry.BalanceAfter, entry.Description)
	return err
}

func (s *LedgerStore) SumByAccount(ctx context.Context, accountID string) (int64, error) {
	var sum int64
	err := s.db.GetContext(ctx, &sum, `
		SELECT COALESCE(SUM(delta), 0)
		FROM wallet_entries
		WHERE account_id = $1
	`, accountID)
	return sum, err
}

// Reconcile compares each stored balance with its journal. An empty accountID
// reconciles every account.
func (s *LedgerStore) Reconcile(ctx context.Context, accountID string) ([]ReconcileRow, error) {
	var rows []ReconcileRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT a.id AS account_id,
		       a.balance AS account_balance,
		       COALESCE(SUM(w.delta), 0) AS journal_sum,
		       (a.balance - COALESCE(SUM(w.delta), 0)) AS difference
		FROM accounts a
		LEFT JOIN wallet_entries w ON w.account_id = a.id
		WHERE ($1 = '' OR a.id = $1)
		GROUP BY a.id, a.balance
		ORDER BY a.id
	`, accountID)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
