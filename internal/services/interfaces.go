package services

import (
	"context"

	"marketplace/internal/models"
	"marketplace/internal/store"
	"marketplace/internal/wallet"
	"marketplace/internal/websocket"
)

// KYC-gated operation names, matched against the configured policy list.
const (
	OpBuy      = "buy"
	OpWithdraw = "withdraw"
	OpDeposit  = "deposit"
)

type KYCPolicy interface {
	KYCRequired(operation string) bool
}

type AccountStore interface {
	GetByID(ctx context.Context, accountID string) (models.Account, error)
	GetForUpdate(ctx context.Context, tx store.Getter, accountID string) (models.Account, error)
}

type Wallet interface {
	Credit(ctx context.Context, tx store.Tx, accountID string, amount int64, entry wallet.Entry) (int64, error)
	Debit(ctx context.Context, tx store.Tx, accountID string, amount int64, entry wallet.Entry) (int64, error)
}

type ListingStore interface {
	GetByID(ctx context.Context, listingID string) (models.Listing, error)
	GetForUpdate(ctx context.Context, tx store.Getter, listingID string) (models.Listing, error)
	DecrementAvailable(ctx context.Context, tx store.Execer, listingID string, quantity int64) (int64, error)
}

type PriceStore interface {
	Apply(ctx context.Context, tx store.Tx, listingID string, oldPrice, newPrice int64, source string) (string, error)
}

type TransactionStore interface {
	Create(ctx context.Context, tx store.Execer, t models.Transaction) error
	GetByID(ctx context.Context, transactionID string) (models.Transaction, error)
	GetForUpdate(ctx context.Context, tx store.Getter, transactionID string) (models.Transaction, error)
	GetByReferenceForUpdate(ctx context.Context, tx store.Getter, reference string) (models.Transaction, error)
	Resolve(ctx context.Context, tx store.Execer, transactionID string, status models.TransactionStatus, reason *string) (int64, error)
	SetReference(ctx context.Context, tx store.Execer, transactionID, reference string) (int64, error)
}

type AuditStore interface {
	Log(ctx context.Context, tx store.Execer, actorID, action, entityType, entityID string, data map[string]any) error
}

type BalanceHub interface {
	BroadcastBalance(accountID string, update websocket.BalanceUpdate)
}

type MarketHub interface {
	BroadcastMarket(update websocket.MarketUpdate)
}

func stringPtr(value string) *string {
	return &value
}

func int64Ptr(value int64) *int64 {
	return &value
}
