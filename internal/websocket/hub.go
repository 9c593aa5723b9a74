package websocket

import (
	"encoding/json"
	"sync"
)

// MarketTopic carries price updates for every listing.
const MarketTopic = "market"

type BalanceUpdate struct {
	AccountID string `json:"account_id"`
	Balance   int64  `json:"balance"`
	Formatted string `json:"formatted"`
	Currency  string `json:"currency"`
}

type MarketUpdate struct {
	ListingID      string `json:"listing_id"`
	OldPrice       int64  `json:"old_price"`
	Price          int64  `json:"price"`
	AvailableUnits int64  `json:"available_units"`
	Source         string `json:"source"`
}

type envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Hub fans post-commit snapshots out to subscribers. Balance updates go to the
// account's own topic, price updates to MarketTopic.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
	}
}

func (h *Hub) Register(topic string, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[topic] == nil {
		h.clients[topic] = make(map[*Client]struct{})
	}
	h.clients[topic][client] = struct{}{}
}

func (h *Hub) Unregister(topic string, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[topic] == nil {
		return
	}
	delete(h.clients[topic], client)
	if len(h.clients[topic]) == 0 {
		delete(h.clients, topic)
	}
}

func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[topic])
}

func (h *Hub) BroadcastBalance(accountID string, update BalanceUpdate) {
	h.publish(accountID, envelope{Type: "balance", Data: update})
}

func (h *Hub) BroadcastMarket(update MarketUpdate) {
	h.publish(MarketTopic, envelope{Type: "price", Data: update})
}

// publish never blocks: a subscriber with a full buffer misses the message.
func (h *Hub) publish(topic string, msg envelope) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients[topic] {
		select {
		case client.send <- payload:
		default:
		}
	}
}
