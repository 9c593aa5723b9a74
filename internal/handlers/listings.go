package handlers

import (
	"net/http"

	"marketplace/internal/services"

	"github.com/go-chi/chi/v5"
)

type proposeListingRequest struct {
	CompanyName string `json:"company_name" validate:"required,max=200"`
	Description string `json:"description" validate:"max=4000"`
	SellerPhone string `json:"seller_phone" validate:"omitempty,phone"`
	Price       int64  `json:"price" validate:"gt=0"`
	TotalUnits  int64  `json:"total_units" validate:"gt=0"`
}

func (h *Handler) ProposeListing(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	var req proposeListingRequest
	if !h.decode(w, r, &req) {
		return
	}
	listing, err := h.listings.Propose(r.Context(), services.ProposeRequest{
		UserID:      id.UserID,
		AccountID:   id.AccountID,
		CompanyName: req.CompanyName,
		Description: req.Description,
		SellerPhone: req.SellerPhone,
		Price:       req.Price,
		TotalUnits:  req.TotalUnits,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, listing)
}

func (h *Handler) ListListings(w http.ResponseWriter, r *http.Request) {
	_, limit, offset := pagination(r, 50)
	listings, err := h.listings.ListActive(r.Context(), limit, offset)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, listings)
}

func (h *Handler) GetListing(w http.ResponseWriter, r *http.Request) {
	listing, err := h.listings.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, listing)
}

func (h *Handler) PriceHistory(w http.ResponseWriter, r *http.Request) {
	_, limit, _ := pagination(r, 50)
	points, err := h.listings.PriceHistory(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, points)
}

type buyRequest struct {
	Quantity int64 `json:"quantity"`
}

// Buy settles immediately. Quantity is checked by the trade service.
func (h *Handler) Buy(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	var req buyRequest
	if !h.decode(w, r, &req) {
		return
	}
	result, err := h.trade.Buy(r.Context(), services.BuyRequest{
		UserID:    id.UserID,
		AccountID: id.AccountID,
		ListingID: chi.URLParam(r, "id"),
		Quantity:  req.Quantity,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, result)
}

type messageRequest struct {
	Content string `json:"content" validate:"required,max=2000"`
}

func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	var req messageRequest
	if !h.decode(w, r, &req) {
		return
	}
	msg, err := h.messages.Send(r.Context(), chi.URLParam(r, "id"), id.AccountID, req.Content)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, msg)
}

func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	_, limit, offset := pagination(r, 50)
	msgs, err := h.messages.List(r.Context(), chi.URLParam(r, "id"), id.AccountID, limit, offset)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, msgs)
}

type replyRequest struct {
	Reply string `json:"reply" validate:"required,max=2000"`
}

func (h *Handler) ReplyMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	var req replyRequest
	if !h.decode(w, r, &req) {
		return
	}
	msg, err := h.messages.Reply(r.Context(), chi.URLParam(r, "id"), id.AccountID, req.Reply)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, msg)
}
