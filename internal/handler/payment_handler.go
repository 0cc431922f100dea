// internal/handler/payment_handler.go
package handler

import (
	"net/http"

	"settlement-service/internal/domain"
	"settlement-service/internal/usecase"
	"settlement-service/pkg/response"

	"go.uber.org/zap"
)

type PaymentHandler struct {
	verifyUC *usecase.VerifyUsecase
	entityUC *usecase.EntityUsecase
	logger   *zap.Logger
}

func NewPaymentHandler(verifyUC *usecase.VerifyUsecase, entityUC *usecase.EntityUsecase, logger *zap.Logger) *PaymentHandler {
	return &PaymentHandler{
		verifyUC: verifyUC,
		entityUC: entityUC,
		logger:   logger,
	}
}

type verifyRequest struct {
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
	ChargeID   string `json:"charge_id"`
}

// VerifyPayment confirms a gateway charge for an entity. The body always carries the
// verification result; the HTTP status follows its code.
func (h *PaymentHandler) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	a, err := actor(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	var req verifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	// end users may only verify their own purchases
	if !a.Privileged() {
		kind, err := domain.ParseKind(req.EntityType)
		if err != nil {
			writeError(w, r, h.logger, err)
			return
		}
		p, err := h.entityUC.Get(ctx, domain.EntityRef{Kind: kind, ID: req.EntityID})
		if err != nil {
			writeError(w, r, h.logger, err)
			return
		}
		if !a.CanAccess(p.Base().OwnerID) {
			writeError(w, r, h.logger, domain.ErrForbidden)
			return
		}
	}

	res, err := h.verifyUC.VerifyPayment(ctx, req.EntityType, req.EntityID, req.ChargeID)
	if err != nil && res == nil {
		writeError(w, r, h.logger, err)
		return
	}

	response.Write(w, StatusFor(res.Code), response.APIResponse{
		Status:  res.Status,
		Code:    res.Code,
		Message: res.Message,
		Data:    res,
	})
}
