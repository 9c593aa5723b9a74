package handlers

import (
	"net/http"

	"marketplace/internal/auth"
	"marketplace/internal/middleware"
	"marketplace/internal/websocket"
)

// WSBalances streams balance updates for the caller's account. Browsers cannot
// set headers on a websocket handshake, so the token may come as ?token=.
func (h *Handler) WSBalances(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token, _ = middleware.BearerToken(r)
	}
	if token == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing token")
		return
	}
	claims, err := auth.ParseToken(h.cfg.JWTSecret, token)
	if err != nil || claims.AccountID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
		return
	}
	websocket.ServeWS(w, r, h.hub, claims.AccountID)
}

func (h *Handler) WSMarket(w http.ResponseWriter, r *http.Request) {
	websocket.ServeWS(w, r, h.hub, websocket.MarketTopic)
}
