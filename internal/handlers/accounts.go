package handlers

import (
	"net/http"

	"marketplace/internal/models"
)

func (h *Handler) MyAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	account, err := h.accounts.GetByID(r.Context(), id.AccountID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, account)
}

func (h *Handler) MyBalance(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	account, err := h.accounts.GetByID(r.Context(), id.AccountID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, h.balanceView(account))
}

func (h *Handler) MyTransactions(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	h.history(w, r, id.AccountID)
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request, accountID string) {
	kind := models.TransactionKind(r.URL.Query().Get("kind"))
	switch kind {
	case "", models.KindPurchase, models.KindSale, models.KindDeposit, models.KindWithdrawal, models.KindDividend:
	default:
		respondError(w, http.StatusBadRequest, "invalid_kind", "unknown transaction kind")
		return
	}
	page, limit, _ := pagination(r, 20)
	result, err := h.accountSvc.History(r.Context(), accountID, kind, page, limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// SelfCheck compares the caller's stored balance with the wallet journal.
func (h *Handler) SelfCheck(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	rows, err := h.accountSvc.Reconcile(r.Context(), id.AccountID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if len(rows) == 0 {
		respondError(w, http.StatusNotFound, "not_found", "account not found")
		return
	}
	row := rows[0]
	respondJSON(w, http.StatusOK, map[string]any{
		"account_id":      row.AccountID,
		"account_balance": row.AccountBalance,
		"journal_sum":     row.JournalSum,
		"difference":      row.Difference,
		"consistent":      row.Difference == 0,
	})
}
