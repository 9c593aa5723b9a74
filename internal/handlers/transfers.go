package handlers

import (
	"context"
	"crypto/subtle"
	"net/http"

	"marketplace/internal/models"
	"marketplace/internal/services"
)

const callbackSecretHeader = "X-Callback-Secret"

type transferRequest struct {
	Amount int64  `json:"amount" validate:"gt=0"`
	Phone  string `json:"phone" validate:"required,phone"`
	Method string `json:"method" validate:"required,paymethod"`
}

func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	h.transfer(w, r, h.transfers.InitiateDeposit)
}

func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	h.transfer(w, r, h.transfers.InitiateWithdrawal)
}

func (h *Handler) transfer(w http.ResponseWriter, r *http.Request, initiate func(ctx context.Context, req services.TransferRequest) (models.Transaction, error)) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	var req transferRequest
	if !h.decode(w, r, &req) {
		return
	}
	transaction, err := initiate(r.Context(), services.TransferRequest{
		UserID:    id.UserID,
		AccountID: id.AccountID,
		Amount:    req.Amount,
		Phone:     req.Phone,
		Method:    req.Method,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusAccepted, transaction)
}

type callbackRequest struct {
	Reference string `json:"reference" validate:"required"`
	Amount    int64  `json:"amount" validate:"gt=0"`
	Status    string `json:"status" validate:"required"`
}

// PaymentCallback receives the provider's settlement notice. Deliveries are
// authenticated with a shared secret header; with no secret configured the
// endpoint is closed.
func (h *Handler) PaymentCallback(w http.ResponseWriter, r *http.Request) {
	secret := h.cfg.PaymentCallbackSecret
	if secret == "" {
		respondError(w, http.StatusServiceUnavailable, "callback_disabled", "payment callbacks are not configured")
		return
	}
	presented := r.Header.Get(callbackSecretHeader)
	if subtle.ConstantTimeCompare([]byte(presented), []byte(secret)) != 1 {
		respondError(w, http.StatusUnauthorized, "unauthorized", "invalid callback secret")
		return
	}
	var req callbackRequest
	if !h.decode(w, r, &req) {
		return
	}
	status, err := services.ParseCallbackStatus(req.Status)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	transaction, err := h.transfers.PaymentConfirmed(r.Context(), services.PaymentCallback{
		Reference: req.Reference,
		Amount:    req.Amount,
		Status:    status,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, transaction)
}
