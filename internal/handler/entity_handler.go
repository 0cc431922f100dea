// internal/handler/entity_handler.go
package handler

import (
	"fmt"
	"net/http"

	"settlement-service/internal/domain"
	"settlement-service/internal/middleware"
	"settlement-service/internal/usecase"
	"settlement-service/pkg/response"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type EntityHandler struct {
	entityUC *usecase.EntityUsecase
	logger   *zap.Logger
}

func NewEntityHandler(entityUC *usecase.EntityUsecase, logger *zap.Logger) *EntityHandler {
	return &EntityHandler{entityUC: entityUC, logger: logger}
}

// Amounts arrive in major units ("100.000") and are stored in minor units.
type createEntityRequest struct {
	EntityType        string           `json:"entity_type"`
	OwnerID           string           `json:"owner_id"`
	Amount            decimal.Decimal  `json:"amount"`
	Currency          string           `json:"currency"`
	SellerID          string           `json:"seller_id"`
	ServiceFee        *decimal.Decimal `json:"service_fee"`
	ServiceFeePercent *decimal.Decimal `json:"service_fee_percent"`
	Checkout          bool             `json:"checkout"`
	ListingID         string           `json:"listing_id"`
	PurchasedDays     int              `json:"purchased_days"`
}

type eventRequest struct {
	Event  string `json:"event"`
	Reason string `json:"reason"`
}

type renewalRequest struct {
	Amount        decimal.Decimal `json:"amount"`
	PurchasedDays int             `json:"purchased_days"`
}

// events only an administrator may raise
var adminEvents = map[domain.EventType]bool{
	domain.EventRefund:         true,
	domain.EventResolveDispute: true,
}

func (h *EntityHandler) Create(w http.ResponseWriter, r *http.Request) {
	a, err := actor(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var req createEntityRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	kind, err := domain.ParseKind(req.EntityType)
	if err != nil {
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

	in := usecase.CreateIntentInput{
		Kind:              kind,
		OwnerID:           req.OwnerID,
		Amount:            amount,
		Currency:          currency,
		SellerID:          req.SellerID,
		ServiceFeePercent: req.ServiceFeePercent,
		Checkout:          req.Checkout,
		ListingID:         req.ListingID,
		PurchasedDays:     req.PurchasedDays,
		Actor:             a.String(),
	}
	if req.ServiceFee != nil {
		if in.ServiceFee, err = domain.ToMinor(*req.ServiceFee, currency); err != nil {
			writeError(w, r, h.logger, err)
			return
		}
	}

	p, err := h.entityUC.CreateIntent(r.Context(), in)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	response.JSON(w, http.StatusCreated, p)
}

func (h *EntityHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, ok := h.load(w, r)
	if !ok {
		return
	}
	response.JSON(w, http.StatusOK, p)
}

func (h *EntityHandler) History(w http.ResponseWriter, r *http.Request) {
	p, ok := h.load(w, r)
	if !ok {
		return
	}
	history, err := h.entityUC.History(r.Context(), p.Base().Ref())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	response.JSON(w, http.StatusOK, history)
}

// Act applies a business event such as ship, cancel or refund.
func (h *EntityHandler) Act(w http.ResponseWriter, r *http.Request) {
	a, err := actor(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	ref, err := refFrom(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var req eventRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	ev := domain.EventType(req.Event)
	if ev == "" {
		writeError(w, r, h.logger, fmt.Errorf("%w: event is required", domain.ErrInvalidInput))
		return
	}
	if adminEvents[ev] && !a.IsAdmin() {
		writeError(w, r, h.logger, fmt.Errorf("%w: %s requires an administrator", domain.ErrForbidden, ev))
		return
	}

	p, err := h.entityUC.Act(r.Context(), ref, usecase.ActInput{Event: ev, Actor: a.String(), Reason: req.Reason})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	response.JSON(w, http.StatusOK, p)
}

// Renewal prices the next term of a listing or subscription.
func (h *EntityHandler) Renewal(w http.ResponseWriter, r *http.Request) {
	a, err := actor(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	ref, err := refFrom(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var req renewalRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	current, err := h.entityUC.Get(r.Context(), ref)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	amount, err := domain.ToMinor(req.Amount, current.Base().Currency)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	p, err := h.entityUC.PrepareRenewal(r.Context(), ref, amount, req.PurchasedDays, a.String())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	response.JSON(w, http.StatusOK, p)
}

// load fetches the entity named in the path and checks the caller may see it.
func (h *EntityHandler) load(w http.ResponseWriter, r *http.Request) (domain.Payable, bool) {
	a, err := actor(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return nil, false
	}
	ref, err := refFrom(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return nil, false
	}
	p, err := h.entityUC.Get(r.Context(), ref)
	if err != nil {
		writeError(w, r, h.logger, err)
		return nil, false
	}
	if !canSee(a, p) {
		writeError(w, r, h.logger, domain.ErrForbidden)
		return nil, false
	}
	return p, true
}

// canSee lets the buyer and, for orders, the seller read an entity.
func canSee(a middleware.Actor, p domain.Payable) bool {
	if a.CanAccess(p.Base().OwnerID) {
		return true
	}
	if o, ok := p.(*domain.Order); ok {
		return a.CanAccess(o.SellerID)
	}
	return false
}

func refFrom(r *http.Request) (domain.EntityRef, error) {
	kind, err := domain.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		return domain.EntityRef{}, err
	}
	id := chi.URLParam(r, "id")
	if id == "" {
		return domain.EntityRef{}, fmt.Errorf("%w: entity id is required", domain.ErrInvalidInput)
	}
	return domain.EntityRef{Kind: kind, ID: id}, nil
}
