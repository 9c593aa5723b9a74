package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"marketplace/internal/models"
)

type MessageStore interface {
	Create(ctx context.Context, msg models.Message) error
	GetByID(ctx context.Context, messageID string) (models.Message, error)
	ListByListing(ctx context.Context, listingID string, limit, offset int) ([]models.Message, error)
	Reply(ctx context.Context, messageID, reply string) (int64, error)
}

// MessageService carries questions from buyers to a listing's owner. Each
// message gets at most one reply, written by the owner.
type MessageService struct {
	listings ListingCatalog
	messages MessageStore
}

func NewMessageService(listings ListingCatalog, messages MessageStore) *MessageService {
	return &MessageService{listings: listings, messages: messages}
}

func (s *MessageService) Send(ctx context.Context, listingID, senderAccountID, content string) (models.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return models.Message{}, fmt.Errorf("%w: message is empty", ErrInvalidInput)
	}
	listing, err := s.listings.GetByID(ctx, listingID)
	if err != nil {
		return models.Message{}, notFound(err, "listing")
	}
	if listing.OwnerAccountID != nil && *listing.OwnerAccountID == senderAccountID {
		return models.Message{}, fmt.Errorf("%w: owners reply to messages instead", ErrForbidden)
	}
	msg := models.Message{
		ID:              uuid.NewString(),
		ListingID:       listingID,
		SenderAccountID: senderAccountID,
		Content:         content,
	}
	if err := s.messages.Create(ctx, msg); err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

// List returns every message on the listing to its owner and only the
// caller's own messages to anyone else.
func (s *MessageService) List(ctx context.Context, listingID, accountID string, limit, offset int) ([]models.Message, error) {
	listing, err := s.listings.GetByID(ctx, listingID)
	if err != nil {
		return nil, notFound(err, "listing")
	}
	rows, err := s.messages.ListByListing(ctx, listingID, limit, offset)
	if err != nil {
		return nil, err
	}
	if listing.OwnerAccountID != nil && *listing.OwnerAccountID == accountID {
		return rows, nil
	}
	own := make([]models.Message, 0, len(rows))
	for _, msg := range rows {
		if msg.SenderAccountID == accountID {
			own = append(own, msg)
		}
	}
	return own, nil
}

func (s *MessageService) Reply(ctx context.Context, messageID, ownerAccountID, reply string) (models.Message, error) {
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return models.Message{}, fmt.Errorf("%w: reply is empty", ErrInvalidInput)
	}
	msg, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return models.Message{}, notFound(err, "message")
	}
	listing, err := s.listings.GetByID(ctx, msg.ListingID)
	if err != nil {
		return models.Message{}, notFound(err, "listing")
	}
	if listing.OwnerAccountID == nil || *listing.OwnerAccountID != ownerAccountID {
		return models.Message{}, fmt.Errorf("%w: only the listing owner can reply", ErrForbidden)
	}
	rows, err := s.messages.Reply(ctx, messageID, reply)
	if err != nil {
		return models.Message{}, err
	}
	if rows == 0 {
		return models.Message{}, fmt.Errorf("message %s: %w", messageID, ErrAlreadyProcessed)
	}
	msg.Reply = &reply
	return msg, nil
}
