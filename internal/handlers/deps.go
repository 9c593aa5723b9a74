package handlers

import (
	"context"

	"marketplace/internal/models"
	"marketplace/internal/services"
	"marketplace/internal/store"
)

type UserStore interface {
	GetByID(ctx context.Context, userID string) (models.User, error)
	GetByEmail(ctx context.Context, email string) (models.User, error)
}

type AccountStore interface {
	GetByID(ctx context.Context, accountID string) (models.Account, error)
	GetByUserID(ctx context.Context, userID string) (models.Account, error)
	SetRole(ctx context.Context, tx store.Execer, accountID string, role models.Role) error
	ListAllWithUsers(ctx context.Context, limit, offset int) ([]store.AccountWithUser, error)
}

type TransactionStore interface {
	ListPending(ctx context.Context, limit, offset int) ([]models.Transaction, error)
	ListAll(ctx context.Context, limit, offset int) ([]models.Transaction, error)
}

type AdminStore interface {
	IsAdmin(ctx context.Context, userID string) (bool, bool, error)
	HasRole(ctx context.Context, userID, role string) (bool, error)
	CreateAdmin(ctx context.Context, tx store.Execer, userID string, isSuper bool, createdBy *string) error
	GrantRole(ctx context.Context, tx store.Execer, adminUserID, role string) error
}

type AuditStore interface {
	Log(ctx context.Context, tx store.Execer, actorID, action, entityType, entityID string, data map[string]any) error
	List(ctx context.Context, limit, offset int) ([]store.AuditEntry, error)
}

type AccountService interface {
	Register(ctx context.Context, req services.RegisterRequest) (models.User, models.Account, error)
	Authenticate(ctx context.Context, email, password string) (models.User, models.Account, error)
	History(ctx context.Context, accountID string, kind models.TransactionKind, page, limit int) (services.HistoryPage, error)
	Reconcile(ctx context.Context, accountID string) ([]store.ReconcileRow, error)
}

type TradeService interface {
	Buy(ctx context.Context, req services.BuyRequest) (services.BuyResult, error)
}

type TransferService interface {
	InitiateDeposit(ctx context.Context, req services.TransferRequest) (models.Transaction, error)
	InitiateWithdrawal(ctx context.Context, req services.TransferRequest) (models.Transaction, error)
	PaymentConfirmed(ctx context.Context, cb services.PaymentCallback) (models.Transaction, error)
	ApproveTransaction(ctx context.Context, transactionID, actorID string) (models.Transaction, error)
	RejectTransaction(ctx context.Context, transactionID, reason, actorID string) (models.Transaction, error)
}

type DividendService interface {
	Distribute(ctx context.Context, req services.DistributeRequest) (services.DistributionResult, error)
}

type ListingService interface {
	Propose(ctx context.Context, req services.ProposeRequest) (models.Listing, error)
	Approve(ctx context.Context, listingID, actorID string) (models.Listing, error)
	Reject(ctx context.Context, listingID, reason, actorID string) (models.Listing, error)
	Get(ctx context.Context, listingID string) (models.Listing, error)
	ListActive(ctx context.Context, limit, offset int) ([]models.Listing, error)
	ListPending(ctx context.Context, limit, offset int) ([]models.Listing, error)
	PriceHistory(ctx context.Context, listingID string, limit int) ([]models.PricePoint, error)
}

type MessageService interface {
	Send(ctx context.Context, listingID, senderAccountID, content string) (models.Message, error)
	List(ctx context.Context, listingID, accountID string, limit, offset int) ([]models.Message, error)
	Reply(ctx context.Context, messageID, ownerAccountID, reply string) (models.Message, error)
}

type KYCService interface {
	Submit(ctx context.Context, req services.KYCRequest) (models.KYCSubmission, error)
	Review(ctx context.Context, submissionID string, approve bool, note, reviewerID string) (models.KYCSubmission, error)
	ListPending(ctx context.Context, limit, offset int) ([]models.KYCSubmission, error)
}
