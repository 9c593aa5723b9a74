package store

import (
	"context"

	"marketplace/internal/models"
)

type ListingStore struct {
	db DB
}

func NewListingStore(db DB) *ListingStore {
	return &ListingStore{db: db}
}

const listingColumns = `id, owner_account_id, company_name, description, seller_phone, price, total_units,
		       available_units, status, rejection_reason, created_at, updated_at`

func (s *ListingStore) Create(ctx context.Context, tx Execer, listing models.Listing) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO listings (id, owner_account_id, company_name, description, seller_phone, price, total_units, available_units, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, listing.ID, listing.OwnerAccountID, listing.CompanyName, listing.Description, listing.SellerPhone,
		listing.Price, listing.TotalUnits, listing.AvailableUnits, listing.Status)
	return err
}

func (s *ListingStore) GetByID(ctx context.Context, listingID string) (models.Listing, error) {
	var row models.Listing
	err := s.db.GetContext(ctx, &row, `SELECT `+listingColumns+` FROM listings WHERE id = $1`, listingID)
	return row, err
}

func (s *ListingStore) GetForUpdate(ctx context.Context, tx Getter, listingID string) (models.Listing, error) {
	var row models.Listing
	err := tx.GetContext(ctx, &row, `
		SELECT `+listingColumns+`
		FROM listings
		WHERE id = $1
		FOR UPDATE
	`, listingID)
	return row, err
}

func (s *ListingStore) ListByStatus(ctx context.Context, status models.ListingStatus, limit, offset int) ([]models.Listing, error) {
	var rows []models.Listing
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+listingColumns+`
		FROM listings
		WHERE status = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, status, limit, offset)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *ListingStore) ListIDsByStatus(ctx context.Context, status models.ListingStatus) ([]string, error) {
	var ids []string
	err := s.db.SelectContext(ctx, &ids, `SELECT id FROM listings WHERE status = $1 ORDER BY id`, status)
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// Transition moves a listing out of the given status. Zero rows affected means
// the listing was no longer in that status.
func (s *ListingStore) Transition(ctx context.Context, tx Execer, listingID string, from, to models.ListingStatus, reason *string) (int64, error) {
	return rowsAffected(tx.ExecContext(ctx, `
		UPDATE listings
		SET status = $1, rejection_reason = $2, updated_at = NOW()
		WHERE id = $3 AND status = $4
	`, to, reason, listingID, from))
}

// DecrementAvailable never lets available_units drop below zero; zero rows
// affected means the inventory did not cover the quantity.
func (s *ListingStore) DecrementAvailable(ctx context.Context, tx Execer, listingID string, quantity int64) (int64, error) {
	return rowsAffected(tx.ExecContext(ctx, `
		UPDATE listings
		SET available_units = available_units - $1, updated_at = NOW()
		WHERE id = $2 AND available_units >= $1
	`, quantity, listingID))
}
