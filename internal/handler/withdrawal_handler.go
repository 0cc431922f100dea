// internal/handler/withdrawal_handler.go
package handler

import (
	"net/http"
	"strings"

	"settlement-service/internal/domain"
	"settlement-service/internal/usecase"
	"settlement-service/pkg/response"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const HeaderIdempotencyKey = "Idempotency-Key"

type WithdrawalHandler struct {
	withdrawalUC *usecase.WithdrawalUsecase
	logger       *zap.Logger
}

func NewWithdrawalHandler(withdrawalUC *usecase.WithdrawalUsecase, logger *zap.Logger) *WithdrawalHandler {
	return &WithdrawalHandler{withdrawalUC: withdrawalUC, logger: logger}
}

type withdrawalRequest struct {
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	IdempotencyKey string          `json:"idempotency_key"`
}

type processRequest struct {
	Action string `json:"action"`
	Notes  string `json:"notes"`
}

// Request opens a withdrawal against the caller's own wallet.
func (h *WithdrawalHandler) Request(w http.ResponseWriter, r *http.Request) {
	a, err := actor(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var req withdrawalRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	currency := domain.NormalizeCurrency(req.Currency)
	if currency == "" {
		currency = domain.DefaultCurrency
	}
	amount, err := domain.ToMinor(req.Amount, currency)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	key := strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey))
	if key == "" {
		key = req.IdempotencyKey
	}

	wd, err := h.withdrawalUC.Request(r.Context(), usecase.WithdrawalInput{
		AccountID:      a.ID,
		Amount:         amount,
		Currency:       currency,
		IdempotencyKey: key,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	response.JSON(w, http.StatusCreated, wd)
}

// List shows the caller's own requests, or every request to an administrator.
func (h *WithdrawalHandler) List(w http.ResponseWriter, r *http.Request) {
	a, err := actor(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	page, err := pageFrom(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	status, err := domain.ParseWithdrawalStatus(r.URL.Query().Get("status"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	filter := domain.WithdrawalFilter{AccountID: a.ID, Status: status}
	if a.IsAdmin() {
		filter.AccountID = r.URL.Query().Get("account_id")
	}

	list, total, err := h.withdrawalUC.List(r.Context(), filter, page)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	response.JSON(w, http.StatusOK, listResponse{Items: list, Total: total, Limit: page.Limit, Offset: page.Offset})
}

func (h *WithdrawalHandler) Get(w http.ResponseWriter, r *http.Request) {
	a, err := actor(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	wd, err := h.withdrawalUC.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if !a.IsAdmin() && wd.AccountID != a.ID {
		// do not reveal other accounts' requests
		writeError(w, r, h.logger, domain.ErrNotFound)
		return
	}
	response.JSON(w, http.StatusOK, wd)
}

// Process applies an administrator decision: approve or reject.
func (h *WithdrawalHandler) Process(w http.ResponseWriter, r *http.Request) {
	a, err := actor(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var req processRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	action, err := domain.ParseWithdrawalAction(req.Action)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	wd, err := h.withdrawalUC.Process(r.Context(), chi.URLParam(r, "id"), action, a.String(), req.Notes)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	response.JSON(w, http.StatusOK, wd)
}
