package models

import "time"

type Role string

const (
	RoleBuyer       Role = "buyer"
	RoleShareholder Role = "shareholder"
	RoleAdmin       Role = "admin"
)

type KYCStatus string

const (
	KYCUnverified KYCStatus = "unverified"
	KYCPending    KYCStatus = "pending"
	KYCApproved   KYCStatus = "approved"
)

type ListingStatus string

const (
	ListingPending  ListingStatus = "pending"
	ListingActive   ListingStatus = "active"
	ListingRejected ListingStatus = "rejected"
)

type TransactionKind string

const (
	KindPurchase   TransactionKind = "purchase"
	KindSale       TransactionKind = "sale"
	KindDeposit    TransactionKind = "deposit"
	KindWithdrawal TransactionKind = "withdrawal"
	KindDividend   TransactionKind = "dividend"
)

type TransactionStatus string

const (
	StatusPending  TransactionStatus = "pending"
	StatusSettled  TransactionStatus = "settled"
	StatusRejected TransactionStatus = "rejected"
)

func (s TransactionStatus) Terminal() bool {
	return s == StatusSettled || s == StatusRejected
}

type User struct {
	ID           string    `db:"id" json:"id"`
	Name         string    `db:"name" json:"name"`
	Email        string    `db:"email" json:"email"`
	Phone        *string   `db:"phone" json:"phone,omitempty"`
	PasswordHash string    `db:"password_hash" json:"-"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

type Account struct {
	ID        string    `db:"id" json:"id"`
	UserID    string    `db:"user_id" json:"user_id"`
	Role      Role      `db:"role" json:"role"`
	Balance   int64     `db:"balance" json:"balance"`
	KYCStatus KYCStatus `db:"kyc_status" json:"kyc_status"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

type Listing struct {
	ID              string        `db:"id" json:"id"`
	OwnerAccountID  *string       `db:"owner_account_id" json:"owner_account_id,omitempty"`
	CompanyName     string        `db:"company_name" json:"company_name"`
	Description     string        `db:"description" json:"description"`
	SellerPhone     *string       `db:"seller_phone" json:"seller_phone,omitempty"`
	Price           int64         `db:"price" json:"price"`
	TotalUnits      int64         `db:"total_units" json:"total_units"`
	AvailableUnits  int64         `db:"available_units" json:"available_units"`
	Status          ListingStatus `db:"status" json:"status"`
	RejectionReason *string       `db:"rejection_reason" json:"rejection_reason,omitempty"`
	CreatedAt       time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time     `db:"updated_at" json:"updated_at"`
}

type Transaction struct {
	ID                string            `db:"id" json:"id"`
	AccountID         string            `db:"account_id" json:"account_id"`
	ListingID         *string           `db:"listing_id" json:"listing_id,omitempty"`
	Kind              TransactionKind   `db:"kind" json:"kind"`
	Status            TransactionStatus `db:"status" json:"status"`
	Amount            int64             `db:"amount" json:"amount"`
	Quantity          *int64            `db:"quantity" json:"quantity,omitempty"`
	ExternalReference *string           `db:"external_reference" json:"external_reference,omitempty"`
	PaymentMethod     *string           `db:"payment_method" json:"payment_method,omitempty"`
	Phone             *string           `db:"phone" json:"phone,omitempty"`
	Reason            *string           `db:"reason" json:"reason,omitempty"`
	BatchID           *string           `db:"batch_id" json:"batch_id,omitempty"`
	CreatedAt         time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time         `db:"updated_at" json:"updated_at"`
}

type WalletEntry struct {
	ID            string    `db:"id" json:"id"`
	AccountID     string    `db:"account_id" json:"account_id"`
	TransactionID *string   `db:"transaction_id" json:"transaction_id,omitempty"`
	Delta         int64     `db:"delta" json:"delta"`
	BalanceAfter  int64     `db:"balance_after" json:"balance_after"`
	Description   string    `db:"description" json:"description"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

type PricePoint struct {
	ID        string    `db:"id" json:"id"`
	ListingID string    `db:"listing_id" json:"listing_id"`
	OldPrice  int64     `db:"old_price" json:"old_price"`
	NewPrice  int64     `db:"new_price" json:"new_price"`
	Source    string    `db:"source" json:"source"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

type BatchStatus string

const (
	BatchRunning   BatchStatus = "running"
	BatchPartial   BatchStatus = "partial"
	BatchCompleted BatchStatus = "completed"
)

type DividendBatch struct {
	ID            string      `db:"id" json:"id"`
	ListingID     string      `db:"listing_id" json:"listing_id"`
	BatchKey      string      `db:"batch_key" json:"batch_key"`
	AmountPerUnit int64       `db:"amount_per_unit" json:"amount_per_unit"`
	Status        BatchStatus `db:"status" json:"status"`
	CreatedBy     *string     `db:"created_by" json:"created_by,omitempty"`
	CreatedAt     time.Time   `db:"created_at" json:"created_at"`
}

type DividendPayout struct {
	BatchID       string    `db:"batch_id" json:"batch_id"`
	AccountID     string    `db:"account_id" json:"account_id"`
	Units         int64     `db:"units" json:"units"`
	Amount        int64     `db:"amount" json:"amount"`
	TransactionID string    `db:"transaction_id" json:"transaction_id"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// Holding is the number of settled units an account bought on one listing.
type Holding struct {
	AccountID string `db:"account_id" json:"account_id"`
	Units     int64  `db:"units" json:"units"`
}

type KYCSubmissionStatus string

const (
	SubmissionPending  KYCSubmissionStatus = "pending"
	SubmissionApproved KYCSubmissionStatus = "approved"
	SubmissionRejected KYCSubmissionStatus = "rejected"
)

type KYCSubmission struct {
	ID             string              `db:"id" json:"id"`
	AccountID      string              `db:"account_id" json:"account_id"`
	FullName       string              `db:"full_name" json:"full_name"`
	Country        string              `db:"country" json:"country"`
	DocumentType   string              `db:"document_type" json:"document_type"`
	DocumentNumber string              `db:"document_number" json:"document_number"`
	Status         KYCSubmissionStatus `db:"status" json:"status"`
	ReviewedBy     *string             `db:"reviewed_by" json:"reviewed_by,omitempty"`
	ReviewNote     *string             `db:"review_note" json:"review_note,omitempty"`
	CreatedAt      time.Time           `db:"created_at" json:"created_at"`
	ReviewedAt     *time.Time          `db:"reviewed_at" json:"reviewed_at,omitempty"`
}

type Message struct {
	ID              string     `db:"id" json:"id"`
	ListingID       string     `db:"listing_id" json:"listing_id"`
	SenderAccountID string     `db:"sender_account_id" json:"sender_account_id"`
	Content         string     `db:"content" json:"content"`
	Reply           *string    `db:"reply" json:"reply,omitempty"`
	RepliedAt       *time.Time `db:"replied_at" json:"replied_at,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
}
