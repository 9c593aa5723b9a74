package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"marketplace/internal/db"
	"marketplace/internal/models"
	"marketplace/internal/money"
	"marketplace/internal/store"
	"marketplace/internal/wallet"
)

type DividendStore interface {
	CreateBatch(ctx context.Context, tx store.Execer, batch models.DividendBatch) (int64, error)
	GetBatch(ctx context.Context, listingID, batchKey string) (models.DividendBatch, error)
	SetBatchStatus(ctx context.Context, tx store.Execer, batchID string, status models.BatchStatus) error
	HasPayout(ctx context.Context, tx store.Getter, batchID, accountID string) (bool, error)
	InsertPayout(ctx context.Context, tx store.Execer, payout models.DividendPayout) (int64, error)
	ListPayouts(ctx context.Context, batchID string) ([]models.DividendPayout, error)
}

type HoldingsStore interface {
	HoldingsByListing(ctx context.Context, listingID string) ([]models.Holding, error)
}

type PayoutStatus string

const (
	PayoutPaid    PayoutStatus = "paid"
	PayoutSkipped PayoutStatus = "skipped"
	PayoutFailed  PayoutStatus = "failed"
)

var errPayoutExists = errors.New("payout already recorded")

type DividendService struct {
	txRunner      db.TxRunner
	listingStore  ListingStore
	holdingsStore HoldingsStore
	dividendStore DividendStore
	txStore       TransactionStore
	auditStore    AuditStore
	wallet        Wallet
	hub           BalanceHub
	currency      string
	logger        logrus.FieldLogger
}

type DividendDeps struct {
	TxRunner      db.TxRunner
	ListingStore  ListingStore
	HoldingsStore HoldingsStore
	DividendStore DividendStore
	TxStore       TransactionStore
	AuditStore    AuditStore
	Wallet        Wallet
	Hub           BalanceHub
	Currency      string
	Logger        logrus.FieldLogger
}

func NewDividendService(deps DividendDeps) *DividendService {
	return &DividendService{
		txRunner:      deps.TxRunner,
		listingStore:  deps.ListingStore,
		holdingsStore: deps.HoldingsStore,
		dividendStore: deps.DividendStore,
		txStore:       deps.TxStore,
		auditStore:    deps.AuditStore,
		wallet:        deps.Wallet,
		hub:           deps.Hub,
		currency:      deps.Currency,
		logger:        deps.Logger,
	}
}

type DistributeRequest struct {
	ListingID     string
	AmountPerUnit int64
	BatchKey      string
	ActorID       string
}

type HolderPayout struct {
	AccountID string       `json:"account_id"`
	Units     int64        `json:"units"`
	Amount    int64        `json:"amount"`
	Status    PayoutStatus `json:"status"`
	Error     string       `json:"error,omitempty"`
}

type DistributionResult struct {
	BatchID  string         `json:"batch_id"`
	BatchKey string         `json:"batch_key"`
	Payouts  []HolderPayout `json:"payouts"`
	Complete bool           `json:"complete"`
}

// Distribute pays amount_per_unit to every holder of the listing. Each holder
// is paid in its own transaction and recorded against the batch, so a partial
// run can be resumed with the same batch key without paying anyone twice.
func (s *DividendService) Distribute(ctx context.Context, req DistributeRequest) (DistributionResult, error) {
	if req.AmountPerUnit <= 0 {
		return DistributionResult{}, ErrInvalidAmount
	}
	if _, err := s.listingStore.GetByID(ctx, req.ListingID); err != nil {
		return DistributionResult{}, notFound(err, "listing")
	}
	if req.BatchKey == "" {
		req.BatchKey = uuid.NewString()
	}

	batch, err := s.openBatch(ctx, req)
	if err != nil {
		return DistributionResult{}, err
	}
	result := DistributionResult{BatchID: batch.ID, BatchKey: batch.BatchKey}
	log := s.logger.WithFields(logrus.Fields{"listing_id": req.ListingID, "batch_id": batch.ID})

	if batch.Status == models.BatchCompleted {
		recorded, err := s.dividendStore.ListPayouts(ctx, batch.ID)
		if err != nil {
			return DistributionResult{}, err
		}
		for _, p := range recorded {
			result.Payouts = append(result.Payouts, HolderPayout{
				AccountID: p.AccountID, Units: p.Units, Amount: p.Amount, Status: PayoutSkipped,
			})
		}
		result.Complete = true
		return result, fmt.Errorf("batch %s: %w", batch.BatchKey, ErrAlreadyProcessed)
	}

	holdings, err := s.holdingsStore.HoldingsByListing(ctx, req.ListingID)
	if err != nil {
		return DistributionResult{}, err
	}

	result.Payouts = make([]HolderPayout, 0, len(holdings))
	balances := make(map[string]int64)
	failed := 0
	for _, holding := range holdings {
		payout := HolderPayout{AccountID: holding.AccountID, Units: holding.Units}
		amount, err := money.Mul(holding.Units, batch.AmountPerUnit)
		if err == nil {
			payout.Amount = amount
			var balance int64
			balance, err = s.payHolder(ctx, batch, holding, amount)
			if err == nil {
				balances[holding.AccountID] = balance
			}
		}
		switch {
		case err == nil:
			payout.Status = PayoutPaid
		case errors.Is(err, errPayoutExists):
			payout.Status = PayoutSkipped
		default:
			failed++
			payout.Status = PayoutFailed
			payout.Error = err.Error()
			log.WithError(err).WithField("account_id", holding.AccountID).Warn("dividend payout failed")
		}
		result.Payouts = append(result.Payouts, payout)
	}

	status := models.BatchCompleted
	if failed > 0 {
		status = models.BatchPartial
	}
	err = s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.dividendStore.SetBatchStatus(ctx, tx, batch.ID, status); err != nil {
			return err
		}
		return s.auditStore.Log(ctx, tx, req.ActorID, "dividend.distribute", store.EntityDividend, batch.ID, map[string]any{
			"listing_id":      req.ListingID,
			"amount_per_unit": batch.AmountPerUnit,
			"holders":         len(holdings),
			"failed":          failed,
		})
	})
	if err != nil {
		return DistributionResult{}, err
	}
	result.Complete = failed == 0
	log.WithFields(logrus.Fields{"holders": len(holdings), "failed": failed}).Info("dividend batch finished")

	if s.hub != nil {
		for accountID, balance := range balances {
			s.hub.BroadcastBalance(accountID, balanceUpdate(accountID, balance, s.currency))
		}
	}
	return result, nil
}

// openBatch creates the batch or returns the one already registered under
// (listing, key). A key reused with a different amount is refused.
func (s *DividendService) openBatch(ctx context.Context, req DistributeRequest) (models.DividendBatch, error) {
	batch := models.DividendBatch{
		ID:            uuid.NewString(),
		ListingID:     req.ListingID,
		BatchKey:      req.BatchKey,
		AmountPerUnit: req.AmountPerUnit,
		Status:        models.BatchRunning,
	}
	if req.ActorID != "" {
		batch.CreatedBy = stringPtr(req.ActorID)
	}
	var created int64
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		created, err = s.dividendStore.CreateBatch(ctx, tx, batch)
		return err
	})
	if err != nil {
		return models.DividendBatch{}, err
	}
	if created == 1 {
		return batch, nil
	}
	existing, err := s.dividendStore.GetBatch(ctx, req.ListingID, req.BatchKey)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.DividendBatch{}, fmt.Errorf("batch %s vanished: %w", req.BatchKey, ErrInvalidState)
		}
		return models.DividendBatch{}, err
	}
	if existing.AmountPerUnit != req.AmountPerUnit {
		return models.DividendBatch{}, fmt.Errorf("%w: batch %s was opened with %d per unit", ErrInvalidState, req.BatchKey, existing.AmountPerUnit)
	}
	return existing, nil
}

func (s *DividendService) payHolder(ctx context.Context, batch models.DividendBatch, holding models.Holding, amount int64) (int64, error) {
	var balance int64
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		paid, err := s.dividendStore.HasPayout(ctx, tx, batch.ID, holding.AccountID)
		if err != nil {
			return err
		}
		if paid {
			return errPayoutExists
		}
		txID := uuid.NewString()
		if err := s.txStore.Create(ctx, tx, models.Transaction{
			ID:        txID,
			AccountID: holding.AccountID,
			ListingID: &batch.ListingID,
			Kind:      models.KindDividend,
			Status:    models.StatusSettled,
			Amount:    amount,
			Quantity:  int64Ptr(holding.Units),
			BatchID:   &batch.ID,
		}); err != nil {
			return err
		}
		balance, err = s.wallet.Credit(ctx, tx, holding.AccountID, amount, wallet.Entry{
			TransactionID: txID,
			Description:   fmt.Sprintf("dividend %s", batch.BatchKey),
		})
		if err != nil {
			return err
		}
		rows, err := s.dividendStore.InsertPayout(ctx, tx, models.DividendPayout{
			BatchID:       batch.ID,
			AccountID:     holding.AccountID,
			Units:         holding.Units,
			Amount:        amount,
			TransactionID: txID,
		})
		if err != nil {
			return err
		}
		if rows == 0 {
			return errPayoutExists
		}
		return nil
	})
	return balance, err
}
