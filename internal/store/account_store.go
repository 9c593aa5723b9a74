package store

import (
	"context"

	"marketplace/internal/models"
)

type AccountStore struct {
	db DB
}

type AccountWithUser struct {
	ID        string           `db:"id"`
	UserID    string           `db:"user_id"`
	Role      models.Role      `db:"role"`
	Balance   int64            `db:"balance"`
	KYCStatus models.KYCStatus `db:"kyc_status"`
	CreatedAt any              `db:"created_at"`
	Name      string           `db:"name"`
	Email     string           `db:"email"`
}

func NewAccountStore(db DB) *AccountStore {
	return &AccountStore{db: db}
}

const accountColumns = `id, user_id, role, balance, kyc_status, created_at, updated_at`

// Create inserts an account with a zero balance. Balances only change through
// Increment and DecrementIfCovered.
func (s *AccountStore) Create(ctx context.Context, tx Execer, id, userID string, role models.Role, kyc models.KYCStatus) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO accounts (id, user_id, role, balance, kyc_status)
		VALUES ($1, $2, $3, 0, $4)
	`, id, userID, role, kyc)
	return err
}

func (s *AccountStore) GetByID(ctx context.Context, accountID string) (models.Account, error) {
	var row models.Account
	err := s.db.GetContext(ctx, &row, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, accountID)
	return row, err
}

func (s *AccountStore) GetByUserID(ctx context.Context, userID string) (models.Account, error) {
	var row models.Account
	err := s.db.GetContext(ctx, &row, `SELECT `+accountColumns+` FROM accounts WHERE user_id = $1`, userID)
	return row, err
}

func (s *AccountStore) GetForUpdate(ctx context.Context, tx Getter, accountID string) (models.Account, error) {
	var row models.Account
	err := tx.GetContext(ctx, &row, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE id = $1
		FOR UPDATE
	`, accountID)
	return row, err
}

// Increment adds amount to the balance and returns the new balance.
func (s *AccountStore) Increment(ctx context.Context, tx Getter, accountID string, amount int64) (int64, error) {
	var balance int64
	err := tx.GetContext(ctx, &balance, `
		UPDATE accounts
		SET balance = balance + $1, updated_at = NOW()
		WHERE id = $2
		RETURNING balance
	`, amount, accountID)
	return balance, err
}

// DecrementIfCovered subtracts amount only when the balance covers it. A
// missing row (sql.ErrNoRows) means the account is absent or short of funds.
func (s *AccountStore) DecrementIfCovered(ctx context.Context, tx Getter, accountID string, amount int64) (int64, error) {
	var balance int64
	err := tx.GetContext(ctx, &balance, `
		UPDATE accounts
		SET balance = balance - $1, updated_at = NOW()
		WHERE id = $2 AND balance >= $1
		RETURNING balance
	`, amount, accountID)
	return balance, err
}

func (s *AccountStore) Exists(ctx context.Context, tx Getter, accountID string) (bool, error) {
	var exists bool
	err := tx.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM accounts WHERE id = $1)`, accountID)
	return exists, err
}

func (s *AccountStore) SetKYCStatus(ctx context.Context, tx Execer, accountID string, status models.KYCStatus) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE accounts
		SET kyc_status = $1, updated_at = NOW()
		WHERE id = $2
	`, status, accountID)
	return err
}

func (s *AccountStore) SetRole(ctx context.Context, tx Execer, accountID string, role models.Role) error {
	_, err := tx.ExecContext(ctx, `UPDATE accounts SET role = $1, updated_at = NOW() WHERE id = $2`, role, accountID)
	return err
}

func (s *AccountStore) ListAllWithUsers(ctx context.Context, limit, offset int) ([]AccountWithUser, error) {
	var rows []AccountWithUser
	err := s.db.SelectContext(ctx, &rows, `
		SELECT a.id, a.user_id, a.role, a.balance, a.kyc_status, a.created_at,
		       u.name, u.email
		FROM accounts a
		JOIN users u ON u.id = a.user_id
		ORDER BY a.created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
