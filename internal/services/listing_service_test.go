package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketplace/internal/models"
)

func TestProposeAndReviewListing(t *testing.T) {
	h := newHarness(t, nil)
	h.l.addAccount("sh", models.RoleShareholder, 0, models.KYCApproved)
	ctx := context.Background()

	listing, err := h.listings.Propose(ctx, ProposeRequest{
		UserID:      "user-sh",
		AccountID:   "sh",
		CompanyName: "  Douala Coffee ",
		SellerPhone: "+237 699 00 11 22",
		Price:       2500,
		TotalUnits:  40,
	})
	require.NoError(t, err)
	assert.Equal(t, models.ListingPending, listing.Status)
	assert.Equal(t, "Douala Coffee", listing.CompanyName)
	assert.Equal(t, int64(40), listing.AvailableUnits)
	assert.Equal(t, "sh", *listing.OwnerAccountID)
	assert.Equal(t, "237699001122", *listing.SellerPhone)

	active, err := h.listings.ListActive(ctx, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, active)
	pending, err := h.listings.ListPending(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	approved, err := h.listings.Approve(ctx, listing.ID, "admin")
	require.NoError(t, err)
	assert.Equal(t, models.ListingActive, approved.Status)
	assert.Equal(t, models.ListingActive, h.l.listing(listing.ID).Status)

	_, err = h.listings.Reject(ctx, listing.ID, "too late", "admin")
	require.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, []string{"listing.propose", "listing.review"}, h.l.audit)
}

func TestRejectListingRecordsReason(t *testing.T) {
	h := newHarness(t, nil)
	h.l.addListing("L1", "sh", 100, 10, models.ListingPending)

	rejected, err := h.listings.Reject(context.Background(), "L1", " missing documents ", "admin")
	require.NoError(t, err)
	assert.Equal(t, models.ListingRejected, rejected.Status)
	assert.Equal(t, "missing documents", *rejected.RejectionReason)
	assert.Equal(t, "missing documents", *h.l.listing("L1").RejectionReason)

	_, err = h.listings.Approve(context.Background(), "missing", "admin")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestProposeValidation(t *testing.T) {
	tests := []struct {
		name    string
		req     ProposeRequest
		wantErr error
	}{
		{"buyer cannot propose", ProposeRequest{AccountID: "buyer", CompanyName: "X", Price: 10, TotalUnits: 1}, ErrForbidden},
		{"unknown account", ProposeRequest{AccountID: "ghost", CompanyName: "X", Price: 10, TotalUnits: 1}, ErrNotFound},
		{"zero price", ProposeRequest{AccountID: "sh", CompanyName: "X", Price: 0, TotalUnits: 1}, ErrInvalidAmount},
		{"zero units", ProposeRequest{AccountID: "sh", CompanyName: "X", Price: 10, TotalUnits: 0}, ErrInvalidQuantity},
		{"blank name", ProposeRequest{AccountID: "sh", CompanyName: "  ", Price: 10, TotalUnits: 1}, ErrInvalidInput},
		{"bad phone", ProposeRequest{AccountID: "sh", CompanyName: "X", SellerPhone: "abc", Price: 10, TotalUnits: 1}, ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			h.l.addAccount("sh", models.RoleShareholder, 0, models.KYCApproved)
			h.l.addAccount("buyer", models.RoleBuyer, 0, models.KYCApproved)

			_, err := h.listings.Propose(context.Background(), tt.req)
			require.ErrorIs(t, err, tt.wantErr)
			pending, err := h.listings.ListPending(context.Background(), 10, 0)
			require.NoError(t, err)
			assert.Empty(t, pending)
		})
	}
}

func TestListingPriceHistory(t *testing.T) {
	h := newHarness(t, nil)
	h.l.addAccount("buyer", models.RoleBuyer, 100_000, models.KYCApproved)
	h.l.addListing("L1", "", 1000, 100, models.ListingActive)
	ctx := context.Background()

	_, err := h.trade.Buy(ctx, BuyRequest{AccountID: "buyer", ListingID: "L1", Quantity: 10})
	require.NoError(t, err)

	history, err := h.listings.PriceHistory(ctx, "L1", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, int64(1000), history[0].OldPrice)
	assert.Equal(t, int64(1010), history[0].NewPrice)
	assert.Equal(t, "trade", history[0].Source)

	_, err = h.listings.PriceHistory(ctx, "missing", 10)
	require.ErrorIs(t, err, ErrNotFound)
}
