package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"marketplace/internal/db"
	"marketplace/internal/models"
	"marketplace/internal/money"
	"marketplace/internal/store"
	"marketplace/internal/wallet"
	"marketplace/internal/websocket"
)

type TradeService struct {
	txRunner      db.TxRunner
	accountStore  AccountStore
	listingStore  ListingStore
	priceStore    PriceStore
	txStore       TransactionStore
	auditStore    AuditStore
	wallet        Wallet
	balanceHub    BalanceHub
	marketHub     MarketHub
	kyc           KYCPolicy
	impactPerUnit decimal.Decimal
	currency      string
	logger        logrus.FieldLogger
}

type TradeDeps struct {
	TxRunner      db.TxRunner
	AccountStore  AccountStore
	ListingStore  ListingStore
	PriceStore    PriceStore
	TxStore       TransactionStore
	AuditStore    AuditStore
	Wallet        Wallet
	BalanceHub    BalanceHub
	MarketHub     MarketHub
	KYC           KYCPolicy
	ImpactPerUnit decimal.Decimal
	Currency      string
	Logger        logrus.FieldLogger
}

func NewTradeService(deps TradeDeps) *TradeService {
	return &TradeService{
		txRunner:      deps.TxRunner,
		accountStore:  deps.AccountStore,
		listingStore:  deps.ListingStore,
		priceStore:    deps.PriceStore,
		txStore:       deps.TxStore,
		auditStore:    deps.AuditStore,
		wallet:        deps.Wallet,
		balanceHub:    deps.BalanceHub,
		marketHub:     deps.MarketHub,
		kyc:           deps.KYC,
		impactPerUnit: deps.ImpactPerUnit,
		currency:      deps.Currency,
		logger:        deps.Logger,
	}
}

type BuyRequest struct {
	UserID    string
	AccountID string
	ListingID string
	Quantity  int64
}

type BuyResult struct {
	Purchase     models.Transaction `json:"purchase"`
	BuyerBalance int64              `json:"buyer_balance"`
	OldPrice     int64              `json:"old_price"`
	NewPrice     int64              `json:"new_price"`
	Available    int64              `json:"available_units"`
}

// Buy settles a purchase of units from a listing. The buyer is debited, the
// owner credited, inventory decremented and the price moved, all in one
// transaction; any failure leaves nothing behind.
func (s *TradeService) Buy(ctx context.Context, req BuyRequest) (BuyResult, error) {
	if s.kyc != nil && s.kyc.KYCRequired(OpBuy) {
		buyer, err := s.accountStore.GetByID(ctx, req.AccountID)
		if err != nil {
			return BuyResult{}, notFound(err, "buyer account")
		}
		if buyer.KYCStatus != models.KYCApproved {
			return BuyResult{}, ErrKycRequired
		}
	}

	var result BuyResult
	var ownerID string
	var ownerBalance int64
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		result = BuyResult{}
		ownerID = ""

		listing, err := s.listingStore.GetForUpdate(ctx, tx, req.ListingID)
		if err != nil {
			return notFound(err, "listing")
		}
		if listing.Status != models.ListingActive {
			return ErrListingUnavailable
		}
		if req.Quantity <= 0 {
			return ErrInvalidQuantity
		}
		if req.Quantity > listing.AvailableUnits {
			return ErrInsufficientInventory
		}
		total, err := money.Mul(listing.Price, req.Quantity)
		if err != nil {
			return invalidInput(err)
		}
		if listing.OwnerAccountID != nil {
			ownerID = *listing.OwnerAccountID
		}
		if ownerID == req.AccountID {
			return fmt.Errorf("%w: cannot buy units of your own listing", ErrForbidden)
		}

		buyer, _, err := lockAccounts(ctx, tx, s.accountStore, req.AccountID, ownerID)
		if err != nil {
			return notFound(err, "account")
		}
		if buyer.Balance < total {
			return ErrInsufficientFunds
		}

		purchaseID := uuid.NewString()
		result.BuyerBalance, err = s.wallet.Debit(ctx, tx, req.AccountID, total, wallet.Entry{
			TransactionID: purchaseID,
			Description:   fmt.Sprintf("purchase %d x %s", req.Quantity, listing.CompanyName),
		})
		if err != nil {
			return err
		}

		if ownerID != "" {
			saleID := uuid.NewString()
			ownerBalance, err = s.wallet.Credit(ctx, tx, ownerID, total, wallet.Entry{
				TransactionID: saleID,
				Description:   fmt.Sprintf("sale %d x %s", req.Quantity, listing.CompanyName),
			})
			if err != nil {
				return err
			}
			if err := s.txStore.Create(ctx, tx, models.Transaction{
				ID:        saleID,
				AccountID: ownerID,
				ListingID: &listing.ID,
				Kind:      models.KindSale,
				Status:    models.StatusSettled,
				Amount:    total,
				Quantity:  int64Ptr(req.Quantity),
			}); err != nil {
				return err
			}
		}

		rows, err := s.listingStore.DecrementAvailable(ctx, tx, listing.ID, req.Quantity)
		if err != nil {
			return err
		}
		if rows == 0 {
			return ErrInsufficientInventory
		}

		newPrice, err := priceAfterImpact(listing.Price, total, s.impactPerUnit)
		if err != nil {
			return err
		}
		if newPrice != listing.Price {
			if _, err := s.priceStore.Apply(ctx, tx, listing.ID, listing.Price, newPrice, store.PriceSourceTrade); err != nil {
				return err
			}
		}

		purchase := models.Transaction{
			ID:        purchaseID,
			AccountID: req.AccountID,
			ListingID: &listing.ID,
			Kind:      models.KindPurchase,
			Status:    models.StatusSettled,
			Amount:    total,
			Quantity:  int64Ptr(req.Quantity),
		}
		if err := s.txStore.Create(ctx, tx, purchase); err != nil {
			return err
		}
		result.Purchase = purchase
		result.OldPrice = listing.Price
		result.NewPrice = newPrice
		result.Available = listing.AvailableUnits - req.Quantity

		return s.auditStore.Log(ctx, tx, req.UserID, "trade.buy", store.EntityTransaction, purchaseID, map[string]any{
			"listing_id": listing.ID,
			"quantity":   req.Quantity,
			"amount":     total,
			"new_price":  newPrice,
		})
	})
	if err != nil {
		return BuyResult{}, err
	}

	s.logger.WithFields(logrus.Fields{
		"account_id": req.AccountID,
		"listing_id": req.ListingID,
		"quantity":   req.Quantity,
		"amount":     result.Purchase.Amount,
	}).Info("purchase settled")

	s.pushBalance(req.AccountID, result.BuyerBalance)
	if ownerID != "" {
		s.pushBalance(ownerID, ownerBalance)
	}
	if s.marketHub != nil {
		s.marketHub.BroadcastMarket(websocket.MarketUpdate{
			ListingID:      req.ListingID,
			OldPrice:       result.OldPrice,
			Price:          result.NewPrice,
			AvailableUnits: result.Available,
			Source:         store.PriceSourceTrade,
		})
	}
	return result, nil
}

func (s *TradeService) pushBalance(accountID string, balance int64) {
	if s.balanceHub == nil {
		return
	}
	s.balanceHub.BroadcastBalance(accountID, balanceUpdate(accountID, balance, s.currency))
}

// priceAfterImpact moves the price up by floor(total * impactPerUnit), where
// total is price * quantity. The result never decreases with quantity.
func priceAfterImpact(price, total int64, impactPerUnit decimal.Decimal) (int64, error) {
	if impactPerUnit.Sign() <= 0 {
		return price, nil
	}
	impact, err := money.ScaleFloor(total, impactPerUnit)
	if err != nil {
		return 0, invalidInput(err)
	}
	next, err := money.Add(price, impact)
	if err != nil {
		return 0, invalidInput(err)
	}
	return next, nil
}

func balanceUpdate(accountID string, balance int64, currency string) websocket.BalanceUpdate {
	return websocket.BalanceUpdate{
		AccountID: accountID,
		Balance:   balance,
		Formatted: money.Format(balance, currency),
		Currency:  currency,
	}
}

// lockAccounts takes row locks in ascending id order so two settlements that
// touch the same pair of accounts cannot deadlock. secondID may be empty.
func lockAccounts(ctx context.Context, tx store.Getter, accountStore AccountStore, firstID, secondID string) (models.Account, models.Account, error) {
	if secondID == "" || secondID == firstID {
		first, err := accountStore.GetForUpdate(ctx, tx, firstID)
		return first, first, err
	}
	leftID, rightID := orderedIDs(firstID, secondID)
	leftAccount, err := accountStore.GetForUpdate(ctx, tx, leftID)
	if err != nil {
		return models.Account{}, models.Account{}, err
	}
	rightAccount, err := accountStore.GetForUpdate(ctx, tx, rightID)
	if err != nil {
		return models.Account{}, models.Account{}, err
	}
	if firstID == leftID {
		return leftAccount, rightAccount, nil
	}
	return rightAccount, leftAccount, nil
}

func orderedIDs(firstID, secondID string) (string, string) {
	if firstID <= secondID {
		return firstID, secondID
	}
	return secondID, firstID
}
