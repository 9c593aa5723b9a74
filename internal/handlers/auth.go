package handlers

import (
	"net/http"

	"marketplace/internal/auth"
	"marketplace/internal/models"
	"marketplace/internal/services"
	"marketplace/internal/store"

	"github.com/jmoiron/sqlx"
)

type registerRequest struct {
	Name     string `json:"name" validate:"required,max=120"`
	Email    string `json:"email" validate:"required,email"`
	Phone    string `json:"phone" validate:"omitempty,phone"`
	Password string `json:"password" validate:"required,min=8,max=72"`
	Role     string `json:"role" validate:"selfrole"`
}

type tokenResponse struct {
	Token   string         `json:"token"`
	User    models.User    `json:"user"`
	Account models.Account `json:"account"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !h.decode(w, r, &req) {
		return
	}
	user, account, err := h.accountSvc.Register(r.Context(), services.RegisterRequest{
		Name:     req.Name,
		Email:    req.Email,
		Phone:    req.Phone,
		Password: req.Password,
		Role:     models.Role(req.Role),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respondToken(w, r, http.StatusCreated, user, account)
}

type loginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !h.decode(w, r, &req) {
		return
	}
	user, account, err := h.accountSvc.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.txRunner.WithTx(r.Context(), func(tx *sqlx.Tx) error {
		return h.audit.Log(r.Context(), tx, user.ID, "account.login", store.EntityAccount, account.ID, map[string]any{
			"ip":         r.RemoteAddr,
			"user_agent": r.UserAgent(),
		})
	}); err != nil {
		h.fail(w, r, err)
		return
	}
	h.respondToken(w, r, http.StatusOK, user, account)
}

func (h *Handler) respondToken(w http.ResponseWriter, r *http.Request, status int, user models.User, account models.Account) {
	token, err := auth.GenerateToken(h.cfg.JWTSecret, auth.Subject{
		UserID:    user.ID,
		AccountID: account.ID,
		Role:      account.Role,
	}, h.cfg.TokenTTL)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, status, tokenResponse{Token: token, User: user, Account: account})
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	user, err := h.users.GetByID(r.Context(), id.UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	account, err := h.accounts.GetByID(r.Context(), id.AccountID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	isAdmin, isSuper, err := h.admin.IsAdmin(r.Context(), user.ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"user":     user,
		"account":  account,
		"is_admin": isAdmin,
		"is_super": isSuper,
	})
}
