package store

import (
	"context"

	"marketplace/internal/models"
)

const (
	PriceSourceTrade = "trade"
	PriceSourceDrift = "drift"
)

// PriceStore owns listing price changes: every new price is written together
// with its history row.
type PriceStore struct {
	db DB
}

func NewPriceStore(db DB) *PriceStore {
	return &PriceStore{db: db}
}

func (s *PriceStore) Apply(ctx context.Context, tx Tx, listingID string, oldPrice, newPrice int64, source string) (string, error) {
	var id string
	err := tx.GetContext(ctx, &id, `
		INSERT INTO price_history (id, listing_id, old_price, new_price, source)
		VALUES (gen_random_uuid()::text, $1, $2, $3, $4)
		RETURNING id
	`, listingID, oldPrice, newPrice, source)
	if err != nil {
		return "", err
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE listings
		SET price = $1, updated_at = NOW()
		WHERE id = $2
	`, newPrice, listingID)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *PriceStore) ListByListing(ctx context.Context, listingID string, limit int) ([]models.PricePoint, error) {
	var rows []models.PricePoint
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, listing_id, old_price, new_price, source, created_at
		FROM price_history
		WHERE listing_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, listingID, limit)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
