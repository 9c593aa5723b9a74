package store

import (
	"context"

	"marketplace/internal/models"
)

type MessageStore struct {
	db DB
}

func NewMessageStore(db DB) *MessageStore {
	return &MessageStore{db: db}
}

func (s *MessageStore) Create(ctx context.Context, msg models.Message) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, listing_id, sender_account_id, content)
		VALUES ($1, $2, $3, $4)
	`, msg.ID, msg.ListingID, msg.SenderAccountID, msg.Content)
	return err
}

func (s *MessageStore) GetByID(ctx context.Context, messageID string) (models.Message, error) {
	var row models.Message
	err := s.db.GetContext(ctx, &row, `
		SELECT id, listing_id, sender_account_id, content, reply, replied_at, created_at
		FROM messages
		WHERE id = $1
	`, messageID)
	return row, err
}

func (s *MessageStore) ListByListing(ctx context.Context, listingID string, limit, offset int) ([]models.Message, error) {
	var rows []models.Message
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, listing_id, sender_account_id, content, reply, replied_at, created_at
		FROM messages
		WHERE listing_id = $1
		ORDER BY created_at ASC
		LIMIT $2 OFFSET $3
	`, listingID, limit, offset)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// Reply sets the owner's answer once; zero rows means it was already answered.
func (s *MessageStore) Reply(ctx context.Context, messageID, reply string) (int64, error) {
	return rowsAffected(s.db.ExecContext(ctx, `
		UPDATE messages
		SET reply = $1, replied_at = NOW()
		WHERE id = $2 AND reply IS NULL
	`, reply, messageID))
}
