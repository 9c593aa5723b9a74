package handlers

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"marketplace/internal/db"
	"marketplace/internal/middleware"
	"marketplace/internal/models"
	"marketplace/internal/money"
	"marketplace/internal/services"
	"marketplace/internal/validator"
)

// retryAfterSeconds is advertised when a concurrent delivery holds the
// callback guard.
const retryAfterSeconds = "5"

type errorResponse struct {
	Error       string              `json:"error"`
	Message     string              `json:"message,omitempty"`
	Details     map[string]string   `json:"details,omitempty"`
	Transaction *models.Transaction `json:"transaction,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: code, Message: message})
}

// statusForKind maps a business error kind to its HTTP status.
func statusForKind(kind string) int {
	switch kind {
	case "not_found":
		return http.StatusNotFound
	case "forbidden", "kyc_required":
		return http.StatusForbidden
	case "invalid_credentials":
		return http.StatusUnauthorized
	case "already_processed", "invalid_state", "already_exists", "in_flight":
		return http.StatusConflict
	}
	return http.StatusUnprocessableEntity
}

// fail writes err as an error response. Errors outside the business taxonomy
// are logged and reported as a generic 500.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var invalid *validator.Error
	if errors.As(err, &invalid) {
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: "validation_failed", Message: "request has invalid fields", Details: invalid.Details})
		return
	}
	kind := services.Kind(err)
	if kind == "" {
		if errors.Is(err, sql.ErrNoRows) {
			respondError(w, http.StatusNotFound, "not_found", "resource not found")
			return
		}
		if db.IsUniqueViolation(err) {
			respondError(w, http.StatusConflict, "already_exists", "resource already exists")
			return
		}
		h.logger.WithError(err).WithField("path", r.URL.Path).Error("request failed")
		respondError(w, http.StatusInternalServerError, "internal", "internal server error")
		return
	}
	body := errorResponse{Error: kind, Message: err.Error()}
	var stateErr *services.StateError
	if errors.As(err, &stateErr) {
		current := stateErr.Transaction
		body.Transaction = &current
	}
	if kind == "in_flight" {
		w.Header().Set("Retry-After", retryAfterSeconds)
	}
	respondJSON(w, statusForKind(kind), body)
}

func identity(w http.ResponseWriter, r *http.Request) (middleware.Identity, bool) {
	id, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
	}
	return id, ok
}

func parseInt(raw string, fallback int) int {
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}

// pagination reads page and limit query parameters. limit is capped at 100.
func pagination(r *http.Request, defaultLimit int) (page, limit, offset int) {
	query := r.URL.Query()
	limit = parseInt(query.Get("limit"), defaultLimit)
	if limit > 100 {
		limit = 100
	}
	page = parseInt(query.Get("page"), 1)
	return page, limit, (page - 1) * limit
}

type balanceView struct {
	AccountID string `json:"account_id"`
	Balance   int64  `json:"balance"`
	Formatted string `json:"formatted"`
	Currency  string `json:"currency"`
}

func (h *Handler) balanceView(account models.Account) balanceView {
	return balanceView{
		AccountID: account.ID,
		Balance:   account.Balance,
		Formatted: money.Format(account.Balance, h.cfg.Currency),
		Currency:  h.cfg.Currency,
	}
}
