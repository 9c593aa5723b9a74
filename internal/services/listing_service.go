package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"marketplace/internal/db"
	"marketplace/internal/models"
	"marketplace/internal/payment"
	"marketplace/internal/store"
)

type ListingCatalog interface {
	Create(ctx context.Context, tx store.Execer, listing models.Listing) error
	GetByID(ctx context.Context, listingID string) (models.Listing, error)
	GetForUpdate(ctx context.Context, tx store.Getter, listingID string) (models.Listing, error)
	ListByStatus(ctx context.Context, status models.ListingStatus, limit, offset int) ([]models.Listing, error)
	Transition(ctx context.Context, tx store.Execer, listingID string, from, to models.ListingStatus, reason *string) (int64, error)
}

type PriceHistory interface {
	ListByListing(ctx context.Context, listingID string, limit int) ([]models.PricePoint, error)
}

type ListingService struct {
	txRunner     db.TxRunner
	accountStore AccountStore
	listings     ListingCatalog
	prices       PriceHistory
	auditStore   AuditStore
	logger       logrus.FieldLogger
}

func NewListingService(txRunner db.TxRunner, accountStore AccountStore, listings ListingCatalog, prices PriceHistory, auditStore AuditStore, logger logrus.FieldLogger) *ListingService {
	return &ListingService{
		txRunner:     txRunner,
		accountStore: accountStore,
		listings:     listings,
		prices:       prices,
		auditStore:   auditStore,
		logger:       logger,
	}
}

type ProposeRequest struct {
	UserID      string
	AccountID   string
	CompanyName string
	Description string
	SellerPhone string
	Price       int64
	TotalUnits  int64
}

// Propose records a shareholder's listing as pending until an admin approves it.
func (s *ListingService) Propose(ctx context.Context, req ProposeRequest) (models.Listing, error) {
	account, err := s.accountStore.GetByID(ctx, req.AccountID)
	if err != nil {
		return models.Listing{}, notFound(err, "account")
	}
	if account.Role != models.RoleShareholder {
		return models.Listing{}, fmt.Errorf("%w: only shareholders can propose listings", ErrForbidden)
	}
	if req.Price <= 0 {
		return models.Listing{}, ErrInvalidAmount
	}
	if req.TotalUnits <= 0 {
		return models.Listing{}, ErrInvalidQuantity
	}
	name := strings.TrimSpace(req.CompanyName)
	if name == "" {
		return models.Listing{}, fmt.Errorf("%w: company name is required", ErrInvalidInput)
	}
	listing := models.Listing{
		ID:             uuid.NewString(),
		OwnerAccountID: &account.ID,
		CompanyName:    name,
		Description:    strings.TrimSpace(req.Description),
		Price:          req.Price,
		TotalUnits:     req.TotalUnits,
		AvailableUnits: req.TotalUnits,
		Status:         models.ListingPending,
	}
	if req.SellerPhone != "" {
		phone, err := payment.NormalizePhone(req.SellerPhone)
		if err != nil {
			return models.Listing{}, invalidInput(err)
		}
		listing.SellerPhone = &phone
	}
	err = s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.listings.Create(ctx, tx, listing); err != nil {
			return err
		}
		return s.auditStore.Log(ctx, tx, req.UserID, "listing.propose", store.EntityListing, listing.ID, map[string]any{
			"company_name": listing.CompanyName,
			"price":        listing.Price,
			"total_units":  listing.TotalUnits,
		})
	})
	if err != nil {
		return models.Listing{}, err
	}
	return listing, nil
}

func (s *ListingService) Approve(ctx context.Context, listingID, actorID string) (models.Listing, error) {
	return s.review(ctx, listingID, models.ListingActive, nil, actorID)
}

func (s *ListingService) Reject(ctx context.Context, listingID, reason, actorID string) (models.Listing, error) {
	var reasonPtr *string
	if reason = strings.TrimSpace(reason); reason != "" {
		reasonPtr = &reason
	}
	return s.review(ctx, listingID, models.ListingRejected, reasonPtr, actorID)
}

// review moves a pending listing to its admin outcome; any other starting
// status is an invalid state.
func (s *ListingService) review(ctx context.Context, listingID string, to models.ListingStatus, reason *string, actorID string) (models.Listing, error) {
	var updated models.Listing
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		listing, err := s.listings.GetForUpdate(ctx, tx, listingID)
		if err != nil {
			return notFound(err, "listing")
		}
		if listing.Status != models.ListingPending {
			return fmt.Errorf("%w: listing is %s", ErrInvalidState, listing.Status)
		}
		rows, err := s.listings.Transition(ctx, tx, listingID, models.ListingPending, to, reason)
		if err != nil {
			return err
		}
		if rows == 0 {
			return fmt.Errorf("%w: listing is no longer pending", ErrInvalidState)
		}
		listing.Status = to
		listing.RejectionReason = reason
		updated = listing
		data := map[string]any{"status": string(to)}
		if reason != nil {
			data["reason"] = *reason
		}
		return s.auditStore.Log(ctx, tx, actorID, "listing.review", store.EntityListing, listingID, data)
	})
	if err != nil {
		return models.Listing{}, err
	}
	s.logger.WithFields(logrus.Fields{"listing_id": listingID, "status": to}).Info("listing reviewed")
	return updated, nil
}

func (s *ListingService) Get(ctx context.Context, listingID string) (models.Listing, error) {
	listing, err := s.listings.GetByID(ctx, listingID)
	if err != nil {
		return models.Listing{}, notFound(err, "listing")
	}
	return listing, nil
}

func (s *ListingService) ListActive(ctx context.Context, limit, offset int) ([]models.Listing, error) {
	return s.listings.ListByStatus(ctx, models.ListingActive, limit, offset)
}

func (s *ListingService) ListPending(ctx context.Context, limit, offset int) ([]models.Listing, error) {
	return s.listings.ListByStatus(ctx, models.ListingPending, limit, offset)
}

func (s *ListingService) PriceHistory(ctx context.Context, listingID string, limit int) ([]models.PricePoint, error) {
	if _, err := s.Get(ctx, listingID); err != nil {
		return nil, err
	}
	return s.prices.ListByListing(ctx, listingID, limit)
}
