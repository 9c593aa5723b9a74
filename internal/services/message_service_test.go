package services

import (
	"context"
	"database/sql"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketplace/internal/models"
)

type stubMessageStore struct {
	mu   sync.Mutex
	rows []models.Message
}

func (s *stubMessageStore) Create(_ context.Context, msg models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, msg)
	return nil
}

func (s *stubMessageStore) GetByID(_ context.Context, messageID string) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, msg := range s.rows {
		if msg.ID == messageID {
			return msg, nil
		}
	}
	return models.Message{}, sql.ErrNoRows
}

func (s *stubMessageStore) ListByListing(_ context.Context, listingID string, _, _ int) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Message
	for _, msg := range s.rows {
		if msg.ListingID == listingID {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (s *stubMessageStore) Reply(_ context.Context, messageID, reply string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, msg := range s.rows {
		if msg.ID == messageID && msg.Reply == nil {
			s.rows[i].Reply = &reply
			return 1, nil
		}
	}
	return 0, nil
}

func TestMessageThread(t *testing.T) {
	l := newMemLedger()
	l.addListing("L1", "owner", 100, 10, models.ListingActive)
	svc := NewMessageService(memListings{l: l}, &stubMessageStore{})
	ctx := context.Background()

	first, err := svc.Send(ctx, "L1", "alice", "  What is the dividend policy? ")
	require.NoError(t, err)
	assert.Equal(t, "What is the dividend policy?", first.Content)
	_, err = svc.Send(ctx, "L1", "bob", "Is the company audited?")
	require.NoError(t, err)

	all, err := svc.List(ctx, "L1", "owner", 20, 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)
	own, err := svc.List(ctx, "L1", "alice", 20, 0)
	require.NoError(t, err)
	require.Len(t, own, 1)
	assert.Equal(t, first.ID, own[0].ID)

	replied, err := svc.Reply(ctx, first.ID, "owner", "Quarterly.")
	require.NoError(t, err)
	assert.Equal(t, "Quarterly.", *replied.Reply)

	_, err = svc.Reply(ctx, first.ID, "owner", "Again")
	require.ErrorIs(t, err, ErrAlreadyProcessed)
}

func TestMessageRules(t *testing.T) {
	l := newMemLedger()
	l.addListing("L1", "owner", 100, 10, models.ListingActive)
	store := &stubMessageStore{}
	svc := NewMessageService(memListings{l: l}, store)
	ctx := context.Background()

	_, err := svc.Send(ctx, "L1", "alice", "   ")
	require.ErrorIs(t, err, ErrInvalidInput)
	_, err = svc.Send(ctx, "L1", "owner", "talking to myself")
	require.ErrorIs(t, err, ErrForbidden)
	_, err = svc.Send(ctx, "missing", "alice", "hello")
	require.ErrorIs(t, err, ErrNotFound)

	msg, err := svc.Send(ctx, "L1", "alice", "hello")
	require.NoError(t, err)
	_, err = svc.Reply(ctx, msg.ID, "alice", "answering myself")
	require.ErrorIs(t, err, ErrForbidden)
	_, err = svc.Reply(ctx, msg.ID, "owner", " ")
	require.ErrorIs(t, err, ErrInvalidInput)
	_, err = svc.Reply(ctx, "missing", "owner", "hi")
	require.ErrorIs(t, err, ErrNotFound)
	assert.Len(t, store.rows, 1)
}
