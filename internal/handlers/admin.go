package handlers

import (
	"database/sql"
	"errors"
	"net/http"
	"strings"

	"marketplace/internal/models"
	"marketplace/internal/services"
	"marketplace/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/jmoiron/sqlx"
)

type reasonRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

type noteRequest struct {
	Note string `json:"note" validate:"max=500"`
}

func (h *Handler) AdminPendingListings(w http.ResponseWriter, r *http.Request) {
	_, limit, offset := pagination(r, 50)
	listings, err := h.listings.ListPending(r.Context(), limit, offset)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, listings)
}

func (h *Handler) AdminApproveListing(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	listing, err := h.listings.Approve(r.Context(), chi.URLParam(r, "id"), id.UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, listing)
}

func (h *Handler) AdminRejectListing(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	var req reasonRequest
	if !h.decode(w, r, &req) {
		return
	}
	listing, err := h.listings.Reject(r.Context(), chi.URLParam(r, "id"), req.Reason, id.UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, listing)
}

type dividendRequest struct {
	AmountPerUnit int64  `json:"amount_per_unit" validate:"gt=0"`
	BatchKey      string `json:"batch_key" validate:"max=100"`
}

// AdminDistributeDividends reports per-holder results. A partially paid batch
// answers 207 so the caller knows to retry with the same batch key.
func (h *Handler) AdminDistributeDividends(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	var req dividendRequest
	if !h.decode(w, r, &req) {
		return
	}
	result, err := h.dividends.Distribute(r.Context(), services.DistributeRequest{
		ListingID:     chi.URLParam(r, "id"),
		AmountPerUnit: req.AmountPerUnit,
		BatchKey:      req.BatchKey,
		ActorID:       id.UserID,
	})
	switch {
	case errors.Is(err, services.ErrAlreadyProcessed):
		respondJSON(w, http.StatusOK, result)
	case err != nil:
		h.fail(w, r, err)
	case !result.Complete:
		respondJSON(w, http.StatusMultiStatus, result)
	default:
		respondJSON(w, http.StatusCreated, result)
	}
}

func (h *Handler) AdminPendingTransactions(w http.ResponseWriter, r *http.Request) {
	_, limit, offset := pagination(r, 50)
	rows, err := h.transactions.ListPending(r.Context(), limit, offset)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if rows == nil {
		rows = []models.Transaction{}
	}
	respondJSON(w, http.StatusOK, rows)
}

func (h *Handler) AdminListTransactions(w http.ResponseWriter, r *http.Request) {
	_, limit, offset := pagination(r, 50)
	rows, err := h.transactions.ListAll(r.Context(), limit, offset)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if rows == nil {
		rows = []models.Transaction{}
	}
	respondJSON(w, http.StatusOK, rows)
}

func (h *Handler) AdminApproveTransaction(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	transaction, err := h.transfers.ApproveTransaction(r.Context(), chi.URLParam(r, "id"), id.UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, transaction)
}

func (h *Handler) AdminRejectTransaction(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	var req reasonRequest
	if !h.decode(w, r, &req) {
		return
	}
	transaction, err := h.transfers.RejectTransaction(r.Context(), chi.URLParam(r, "id"), req.Reason, id.UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, transaction)
}

func (h *Handler) AdminPendingKYC(w http.ResponseWriter, r *http.Request) {
	_, limit, offset := pagination(r, 50)
	subs, err := h.kyc.ListPending(r.Context(), limit, offset)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, subs)
}

func (h *Handler) AdminApproveKYC(w http.ResponseWriter, r *http.Request) {
	h.reviewKYC(w, r, true)
}

func (h *Handler) AdminRejectKYC(w http.ResponseWriter, r *http.Request) {
	h.reviewKYC(w, r, false)
}

func (h *Handler) reviewKYC(w http.ResponseWriter, r *http.Request, approve bool) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	var req noteRequest
	if r.ContentLength != 0 && !h.decode(w, r, &req) {
		return
	}
	sub, err := h.kyc.Review(r.Context(), chi.URLParam(r, "id"), approve, req.Note, id.UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, sub)
}

func (h *Handler) AdminListAccounts(w http.ResponseWriter, r *http.Request) {
	_, limit, offset := pagination(r, 50)
	rows, err := h.accounts.ListAllWithUsers(r.Context(), limit, offset)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	normalized := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		normalized = append(normalized, map[string]any{
			"account_id": row.ID,
			"user_id":    row.UserID,
			"name":       row.Name,
			"email":      row.Email,
			"role":       row.Role,
			"balance":    row.Balance,
			"kyc_status": row.KYCStatus,
			"created_at": row.CreatedAt,
		})
	}
	respondJSON(w, http.StatusOK, normalized)
}

func (h *Handler) AdminAccountTransactions(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "id")
	if _, err := h.accounts.GetByID(r.Context(), accountID); err != nil {
		h.fail(w, r, err)
		return
	}
	h.history(w, r, accountID)
}

func (h *Handler) ListAuditLogs(w http.ResponseWriter, r *http.Request) {
	_, limit, offset := pagination(r, 50)
	rows, err := h.audit.List(r.Context(), limit, offset)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if rows == nil {
		rows = []store.AuditEntry{}
	}
	respondJSON(w, http.StatusOK, rows)
}

// Reconcile lists every account whose stored balance differs from its
// journal. ?all=true includes consistent accounts too.
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	rows, err := h.accountSvc.Reconcile(r.Context(), "")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	all := r.URL.Query().Get("all") == "true"
	out := make([]store.ReconcileRow, 0, len(rows))
	for _, row := range rows {
		if all || row.Difference != 0 {
			out = append(out, row)
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"checked":    len(rows),
		"mismatched": countMismatched(rows),
		"rows":       out,
	})
}

func countMismatched(rows []store.ReconcileRow) int {
	n := 0
	for _, row := range rows {
		if row.Difference != 0 {
			n++
		}
	}
	return n
}

type promoteRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// PromoteAdmin turns an existing user into a regular admin. Only a super admin
// may promote.
func (h *Handler) PromoteAdmin(w http.ResponseWriter, r *http.Request) {
	if !h.requireSuper(w, r) {
		return
	}
	actorID, _ := identity(w, r)
	var req promoteRequest
	if !h.decode(w, r, &req) {
		return
	}
	user, err := h.users.GetByEmail(r.Context(), strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			respondError(w, http.StatusNotFound, "not_found", "user not found")
			return
		}
		h.fail(w, r, err)
		return
	}
	account, err := h.accounts.GetByUserID(r.Context(), user.ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	createdBy := actorID.UserID
	err = h.txRunner.WithTx(r.Context(), func(tx *sqlx.Tx) error {
		if err := h.admin.CreateAdmin(r.Context(), tx, user.ID, false, &createdBy); err != nil {
			return err
		}
		if err := h.accounts.SetRole(r.Context(), tx, account.ID, models.RoleAdmin); err != nil {
			return err
		}
		return h.audit.Log(r.Context(), tx, createdBy, "admin.promote", store.EntityAccount, account.ID, map[string]any{
			"target_user_id": user.ID,
		})
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"status": "promoted", "user_id": user.ID})
}

type grantRoleRequest struct {
	AdminUserID string `json:"admin_user_id" validate:"required"`
	Role        string `json:"role" validate:"required"`
}

func (h *Handler) GrantRole(w http.ResponseWriter, r *http.Request) {
	if !h.requireSuper(w, r) {
		return
	}
	actor, _ := identity(w, r)
	var req grantRoleRequest
	if !h.decode(w, r, &req) {
		return
	}
	if !knownPermission(req.Role) {
		respondError(w, http.StatusBadRequest, "unknown_role", "unknown admin permission")
		return
	}
	isAdmin, isSuper, err := h.admin.IsAdmin(r.Context(), req.AdminUserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !isAdmin {
		respondError(w, http.StatusBadRequest, "not_admin", "target is not an admin")
		return
	}
	if isSuper {
		respondError(w, http.StatusBadRequest, "super_admin", "cannot assign roles to super admin")
		return
	}
	err = h.txRunner.WithTx(r.Context(), func(tx *sqlx.Tx) error {
		if err := h.admin.GrantRole(r.Context(), tx, req.AdminUserID, req.Role); err != nil {
			return err
		}
		return h.audit.Log(r.Context(), tx, actor.UserID, "admin.grant_role", "admin_role", req.AdminUserID, map[string]any{
			"role": req.Role,
		})
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"status": "role_granted"})
}

func (h *Handler) requireSuper(w http.ResponseWriter, r *http.Request) bool {
	id, ok := identity(w, r)
	if !ok {
		return false
	}
	_, isSuper, err := h.admin.IsAdmin(r.Context(), id.UserID)
	if err != nil {
		h.fail(w, r, err)
		return false
	}
	if !isSuper {
		respondError(w, http.StatusForbidden, "super_admin_required", "super admin required")
		return false
	}
	return true
}

func knownPermission(role string) bool {
	for _, p := range store.AllPermissions {
		if p == role {
			return true
		}
	}
	return false
}
