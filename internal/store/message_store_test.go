package store

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketplace/internal/models"
)

func TestMessageStoreCreate(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewMessageStore(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO messages")).
		WithArgs("msg-1", "listing-1", "acc-1", "Is the dividend quarterly?").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.Create(context.Background(), models.Message{
		ID: "msg-1", ListingID: "listing-1", SenderAccountID: "acc-1", Content: "Is the dividend quarterly?",
	})
	assert.NoError(t, err)
}

func TestMessageStoreReplyOnce(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewMessageStore(db)
	mock.ExpectExec(regexp.QuoteMeta("WHERE id = $2 AND reply IS NULL")).
		WithArgs("Yes", "msg-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("WHERE id = $2 AND reply IS NULL")).
		WithArgs("Changed my mind", "msg-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	first, err := store.Reply(context.Background(), "msg-1", "Yes")
	require.NoError(t, err)
	second, err := store.Reply(context.Background(), "msg-1", "Changed my mind")
	require.NoError(t, err)
	assert.Equal(t, int64(1), first)
	assert.Zero(t, second)
}
