// internal/handler/wallet_handler.go
package handler

import (
	"encoding/json"
	"net/http"

	"settlement-service/internal/domain"
	"settlement-service/internal/events"
	"settlement-service/internal/usecase"
	"settlement-service/pkg/response"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// origins are enforced by the CORS layer and the bearer token
	CheckOrigin: func(r *http.Request) bool { return true },
}

type WalletHandler struct {
	ledgerUC *usecase.LedgerUsecase
	hub      *events.Hub
	logger   *zap.Logger
}

func NewWalletHandler(ledgerUC *usecase.LedgerUsecase, hub *events.Hub, logger *zap.Logger) *WalletHandler {
	return &WalletHandler{ledgerUC: ledgerUC, hub: hub, logger: logger}
}

func (h *WalletHandler) Stats(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.account(w, r)
	if !ok {
		return
	}
	stats, err := h.ledgerUC.GetWalletStats(r.Context(), accountID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	response.JSON(w, http.StatusOK, stats)
}

func (h *WalletHandler) Transactions(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.account(w, r)
	if !ok {
		return
	}
	page, err := pageFrom(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	txs, total, err := h.ledgerUC.ListTransactions(r.Context(), accountID, page)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	response.JSON(w, http.StatusOK, listResponse{Items: txs, Total: total, Limit: page.Limit, Offset: page.Offset})
}

// Subscribe upgrades to a websocket that receives initial_data and then a
// wallet_update after every change to the account.
func (h *WalletHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.account(w, r)
	if !ok {
		return
	}
	stats, err := h.ledgerUC.GetWalletStats(r.Context(), accountID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.String("account_id", accountID), zap.Error(err))
		return
	}
	if err := h.hub.Subscribe(accountID, conn, events.WSMessage{Type: events.MessageInitialData, Data: stats}); err != nil {
		conn.Close()
		return
	}
	defer h.hub.Unregister(accountID, conn)

	for {
		mt, msg, err := conn.ReadMessage()
		if err != nil {
			h.logger.Debug("websocket client disconnected", zap.String("account_id", accountID), zap.Error(err))
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		var req struct {
			Action string `json:"action"`
		}
		if json.Unmarshal(msg, &req) == nil && req.Action == "get_balance" {
			if stats, err := h.ledgerUC.GetWalletStats(r.Context(), accountID); err == nil {
				h.hub.Send(accountID, events.WSMessage{Type: events.MessageWalletUpdate, Data: stats})
			}
		}
	}
}

func (h *WalletHandler) account(w http.ResponseWriter, r *http.Request) (string, bool) {
	a, err := actor(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return "", false
	}
	accountID := chi.URLParam(r, "account_id")
	// wallets are personal; services do not read them
	if accountID == "" || !(a.IsAdmin() || a.ID == accountID) {
		writeError(w, r, h.logger, domain.ErrForbidden)
		return "", false
	}
	return accountID, true
}
