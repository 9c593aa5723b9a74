// Package wallet is the only code path that changes an account balance.
// Every credit or debit is a single atomic statement followed by a journal row.
package wallet

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"marketplace/internal/models"
	"marketplace/internal/store"
)

var (
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrNotFound          = errors.New("not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
)

type AccountStore interface {
	Increment(ctx context.Context, tx store.Getter, accountID string, amount int64) (int64, error)
	DecrementIfCovered(ctx context.Context, tx store.Getter, accountID string, amount int64) (int64, error)
	Exists(ctx context.Context, tx store.Getter, accountID string) (bool, error)
}

type Journal interface {
	Append(ctx context.Context, tx store.Execer, entry models.WalletEntry) error
}

// Entry describes why a balance moved.
type Entry struct {
	TransactionID string
	Description   string
}

type Wallet struct {
	accounts AccountStore
	journal  Journal
}

func New(accounts AccountStore, journal Journal) *Wallet {
	return &Wallet{accounts: accounts, journal: journal}
}

// Credit adds amount and returns the new balance.
func (w *Wallet) Credit(ctx context.Context, tx store.Tx, accountID string, amount int64, entry Entry) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	balance, err := w.accounts.Increment(ctx, tx, accountID, amount)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("credit %s: %w", accountID, ErrNotFound)
		}
		return 0, err
	}
	if err := w.record(ctx, tx, accountID, amount, balance, entry); err != nil {
		return 0, err
	}
	return balance, nil
}

// Debit subtracts amount only if the balance covers it, so concurrent debits
// can never take an account below zero.
func (w *Wallet) Debit(ctx context.Context, tx store.Tx, accountID string, amount int64, entry Entry) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	balance, err := w.accounts.DecrementIfCovered(ctx, tx, accountID, amount)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return 0, err
		}
		exists, existsErr := w.accounts.Exists(ctx, tx, accountID)
		if existsErr != nil {
			return 0, existsErr
		}
		if !exists {
			return 0, fmt.Errorf("debit %s: %w", accountID, ErrNotFound)
		}
		return 0, fmt.Errorf("debit %s: %w", accountID, ErrInsufficientFunds)
	}
	if err := w.record(ctx, tx, accountID, -amount, balance, entry); err != nil {
		return 0, err
	}
	return balance, nil
}

func (w *Wallet) record(ctx context.Context, tx store.Execer, accountID string, delta, balance int64, entry Entry) error {
	row := models.WalletEntry{
		ID:           uuid.NewString(),
		AccountID:    accountID,
		Delta:        delta,
		BalanceAfter: balance,
		Description:  entry.Description,
	}
	if entry.TransactionID != "" {
		txID := entry.TransactionID
		row.TransactionID = &txID
	}
	return w.journal.Append(ctx, tx, row)
}
