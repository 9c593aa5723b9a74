package store

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketplace/internal/models"
)

var transactionRowColumns = []string{
	"id", "account_id", "listing_id", "kind", "status", "amount", "quantity", "external_reference",
	"payment_method", "phone", "reason", "batch_id", "created_at", "updated_at",
}

func TestTransactionStoreCreate(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewTransactionStore(db)
	listingID := "listing-1"
	qty := int64(3)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO transactions")).
		WithArgs("tx-1", "acc-1", &listingID, models.KindPurchase, models.StatusSettled, int64(3000), &qty,
			nil, nil, nil, nil, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.Create(context.Background(), db, models.Transaction{
		ID:        "tx-1",
		AccountID: "acc-1",
		ListingID: &listingID,
		Kind:      models.KindPurchase,
		Status:    models.StatusSettled,
		Amount:    3000,
		Quantity:  &qty,
	})
	assert.NoError(t, err)
}

func TestTransactionStoreResolve(t *testing.T) {
	t.Run("pending row resolves", func(t *testing.T) {
		db, mock := newMockDB(t)
		store := NewTransactionStore(db)
		mock.ExpectExec(regexp.QuoteMeta("WHERE id = $3 AND status = 'pending'")).
			WithArgs(models.StatusSettled, nil, "tx-1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		rows, err := store.Resolve(context.Background(), db, "tx-1", models.StatusSettled, nil)
		require.NoError(t, err)
		assert.Equal(t, int64(1), rows)
	})

	t.Run("already terminal row is untouched", func(t *testing.T) {
		db, mock := newMockDB(t)
		store := NewTransactionStore(db)
		reason := "duplicate"
		mock.ExpectExec(regexp.QuoteMeta("UPDATE transactions")).
			WithArgs(models.StatusRejected, &reason, "tx-1").
			WillReturnResult(sqlmock.NewResult(0, 0))

		rows, err := store.Resolve(context.Background(), db, "tx-1", models.StatusRejected, &reason)
		require.NoError(t, err)
		assert.Zero(t, rows)
	})
}

func TestTransactionStoreGetByReferenceForUpdate(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewTransactionStore(db)
	now := time.Now()
	ref := "ADB_1"

	mock.ExpectQuery(regexp.QuoteMeta("WHERE external_reference = $1 FOR UPDATE")).
		WithArgs(ref).
		WillReturnRows(sqlmock.NewRows(transactionRowColumns).
			AddRow("tx-1", "acc-1", nil, "deposit", "pending", 5000, nil, ref, "MTN", "237670000000", nil, nil, now, now))

	row, err := store.GetByReferenceForUpdate(context.Background(), db, ref)
	require.NoError(t, err)
	assert.Equal(t, models.KindDeposit, row.Kind)
	assert.Equal(t, int64(5000), row.Amount)
	require.NotNil(t, row.ExternalReference)
	assert.Equal(t, ref, *row.ExternalReference)
}

func TestTransactionStoreListByAccount(t *testing.T) {
	t.Run("without kind filter", func(t *testing.T) {
		db, mock := newMockDB(t)
		store := NewTransactionStore(db)
		mock.ExpectQuery(regexp.QuoteMeta("WHERE account_id = $1 ORDER BY created_at DESC, id LIMIT $2 OFFSET $3")).
			WithArgs("acc-1", 20, 0).
			WillReturnRows(sqlmock.NewRows(transactionRowColumns))

		rows, err := store.ListByAccount(context.Background(), "acc-1", "", 20, 0)
		require.NoError(t, err)
		assert.Empty(t, rows)
	})

	t.Run("with kind filter", func(t *testing.T) {
		db, mock := newMockDB(t)
		store := NewTransactionStore(db)
		now := time.Now()
		mock.ExpectQuery(regexp.QuoteMeta("AND kind = $2 ORDER BY created_at DESC, id LIMIT $3 OFFSET $4")).
			WithArgs("acc-1", models.KindDividend, 10, 10).
			WillReturnRows(sqlmock.NewRows(transactionRowColumns).
				AddRow("tx-9", "acc-1", "listing-1", "dividend", "settled", 40, nil, nil, nil, nil, nil, "batch-1", now, now))

		rows, err := store.ListByAccount(context.Background(), "acc-1", models.KindDividend, 10, 10)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, "batch-1", *rows[0].BatchID)
	})
}

func TestTransactionStoreHoldingsByListing(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewTransactionStore(db)
	mock.ExpectQuery(regexp.QuoteMeta("kind = 'purchase' AND status = 'settled'")).
		WithArgs("listing-1").
		WillReturnRows(sqlmock.NewRows([]string{"account_id", "units"}).
			AddRow("acc-1", 10).
			AddRow("acc-2", 5))

	holdings, err := store.HoldingsByListing(context.Background(), "listing-1")
	require.NoError(t, err)
	assert.Equal(t, []models.Holding{{AccountID: "acc-1", Units: 10}, {AccountID: "acc-2", Units: 5}}, holdings)
}

func TestTransactionStoreSetReference(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewTransactionStore(db)
	mock.ExpectExec(regexp.QuoteMeta("AND status = 'pending' AND external_reference IS NULL")).
		WithArgs("ADB_42", "tx-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	rows, err := store.SetReference(context.Background(), db, "tx-1", "ADB_42")
	require.NoError(t, err)
	assert.Equal(t, int64(1), rows)
}
