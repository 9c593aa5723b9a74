package services

import (
	"database/sql"
	"errors"
	"fmt"

	"marketplace/internal/money"
	"marketplace/internal/payment"
	"marketplace/internal/wallet"
)

var (
	ErrInsufficientFunds     = wallet.ErrInsufficientFunds
	ErrInvalidAmount         = wallet.ErrInvalidAmount
	ErrNotFound              = wallet.ErrNotFound
	ErrInsufficientInventory = errors.New("insufficient inventory")
	ErrInvalidQuantity       = errors.New("invalid quantity")
	ErrListingUnavailable    = errors.New("listing unavailable")
	ErrKycRequired           = errors.New("kyc required")
	ErrAlreadyProcessed      = errors.New("already processed")
	ErrInFlight              = errors.New("in flight")
	ErrInvalidState          = errors.New("invalid state")
	ErrForbidden             = errors.New("forbidden")
	ErrAlreadyExists         = errors.New("already exists")
	ErrInvalidCredentials    = errors.New("invalid credentials")
	ErrInvalidInput          = errors.New("invalid input")
)

var kinds = []struct {
	err  error
	kind string
}{
	{ErrInsufficientFunds, "insufficient_funds"},
	{ErrInsufficientInventory, "insufficient_inventory"},
	{ErrInvalidQuantity, "invalid_quantity"},
	{ErrListingUnavailable, "listing_unavailable"},
	{ErrKycRequired, "kyc_required"},
	{ErrAlreadyProcessed, "already_processed"},
	{ErrInFlight, "in_flight"},
	{ErrNotFound, "not_found"},
	{ErrInvalidState, "invalid_state"},
	{ErrInvalidAmount, "invalid_amount"},
	{ErrForbidden, "forbidden"},
	{ErrAlreadyExists, "already_exists"},
	{ErrInvalidCredentials, "invalid_credentials"},
	{ErrInvalidInput, "invalid_input"},
}

// Kind returns the stable snake_case name of a business error, or "" when err
// is not one.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return ""
}

func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return err
}

// invalidInput folds payment and money parsing failures into the business
// taxonomy.
func invalidInput(err error) error {
	switch {
	case errors.Is(err, payment.ErrInvalidPhone), errors.Is(err, payment.ErrInvalidMethod):
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	case errors.Is(err, money.ErrOverflow):
		return fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	return err
}
