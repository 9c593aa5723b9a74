package handlers

import (
	"net/http"

	"marketplace/internal/services"
)

type kycRequest struct {
	FullName       string `json:"full_name" validate:"required,max=200"`
	Country        string `json:"country" validate:"required,max=80"`
	DocumentType   string `json:"document_type" validate:"required"`
	DocumentNumber string `json:"document_number" validate:"required,max=64"`
}

func (h *Handler) SubmitKYC(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	var req kycRequest
	if !h.decode(w, r, &req) {
		return
	}
	sub, err := h.kyc.Submit(r.Context(), services.KYCRequest{
		UserID:         id.UserID,
		AccountID:      id.AccountID,
		FullName:       req.FullName,
		Country:        req.Country,
		DocumentType:   req.DocumentType,
		DocumentNumber: req.DocumentNumber,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, sub)
}
