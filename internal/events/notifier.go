// internal/events/notifier.go
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"settlement-service/internal/domain"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	MessageWalletUpdate = "wallet_update"
	MessageInitialData  = "initial_data"

	writeWait = 10 * time.Second
)

type WSMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// BalanceNotifier is told about wallet changes after the ledger commits.
type BalanceNotifier interface {
	NotifyBalance(ctx context.Context, stats *domain.WalletStats)
}

// NopNotifier drops every notification.
type NopNotifier struct{}

func (NopNotifier) NotifyBalance(context.Context, *domain.WalletStats) {}

// Hub tracks websocket subscribers per wallet account on this instance.
type Hub struct {
	mu      sync.Mutex
	clients map[string]map[*websocket.Conn]bool
	logger  *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients: make(map[string]map[*websocket.Conn]bool),
		logger:  logger.Named("ws"),
	}
}

func (h *Hub) Register(accountID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[accountID] == nil {
		h.clients[accountID] = make(map[*websocket.Conn]bool)
	}
	h.clients[accountID][conn] = true
}

// Subscribe writes first to conn and then registers it, both under the hub lock so
// no broadcast can interleave with the initial message.
func (h *Hub) Subscribe(accountID string, conn *websocket.Conn, first WSMessage) error {
	payload, err := json.Marshal(first)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return err
	}
	if h.clients[accountID] == nil {
		h.clients[accountID] = make(map[*websocket.Conn]bool)
	}
	h.clients[accountID][conn] = true
	return nil
}

func (h *Hub) Unregister(accountID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.clients[accountID]; ok {
		delete(conns, conn)
		conn.Close()
		if len(conns) == 0 {
			delete(h.clients, accountID)
		}
	}
}

// Subscribers returns the number of open connections for an account.
func (h *Hub) Subscribers(accountID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients[accountID])
}

func (h *Hub) NotifyBalance(_ context.Context, stats *domain.WalletStats) {
	h.Send(stats.AccountID, WSMessage{Type: MessageWalletUpdate, Data: stats})
}

// Send writes msg to every subscriber of accountID, dropping connections that fail.
func (h *Hub) Send(accountID string, msg WSMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal ws message", zap.Error(err))
		return
	}
	h.sendRaw(accountID, payload)
}

func (h *Hub) sendRaw(accountID string, payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for conn := range h.clients[accountID] {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.logger.Debug("dropping ws subscriber", zap.String("account_id", accountID), zap.Error(err))
			conn.Close()
			delete(h.clients[accountID], conn)
		}
	}
	if len(h.clients[accountID]) == 0 {
		delete(h.clients, accountID)
	}
}
