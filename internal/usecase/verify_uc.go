// internal/usecase/verify_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"settlement-service/internal/domain"
	"settlement-service/internal/events"
	"settlement-service/internal/gateway"
	"settlement-service/internal/metrics"
	"settlement-service/internal/repository"

	"go.uber.org/zap"
)

// Verification result statuses, rendered by callers as success, loading or error.
const (
	VerifySuccess = "success"
	VerifyPending = "pending"
	VerifyError   = "error"
)

type VerifyResult struct {
	Status           string                 `json:"status"`
	Code             string                 `json:"code"`
	Message          string                 `json:"message,omitempty"`
	Entity           domain.Payable         `json:"entity,omitempty"`
	Attempt          *domain.PaymentAttempt `json:"attempt,omitempty"`
	AlreadyProcessed bool                   `json:"already_processed"`
}

type paymentVerifiedEvent struct {
	ChargeID   string            `json:"charge_id"`
	EntityType domain.EntityKind `json:"entity_type"`
	EntityID   string            `json:"entity_id"`
	Amount     int64             `json:"amount"`
	Currency   string            `json:"currency"`
	Status     domain.Status     `json:"status"`
}

type VerifyUsecase struct {
	guard    *Guard
	entities *EntityUsecase
	ledger   *LedgerUsecase
	logger   *zap.Logger
}

func NewVerifyUsecase(guard *Guard, entities *EntityUsecase, ledger *LedgerUsecase, logger *zap.Logger) *VerifyUsecase {
	return &VerifyUsecase{
		guard:    guard,
		entities: entities,
		ledger:   ledger,
		logger:   logger.Named("verify"),
	}
}

// VerifyPayment confirms chargeID with the gateway and applies it to the entity
// exactly once. The result is always non-nil; err is non-nil unless Status is success.
func (uc *VerifyUsecase) VerifyPayment(ctx context.Context, entityType, entityID, chargeID string) (*VerifyResult, error) {
	start := time.Now()
	kind, err := domain.ParseKind(entityType)
	if err != nil {
		return uc.finish(nil, err, "", start)
	}
	if entityID == "" {
		return uc.finish(nil, fmt.Errorf("%w: entity_id is required", domain.ErrInvalidInput), kind, start)
	}
	ref := domain.EntityRef{Kind: kind, ID: entityID}

	if _, err := uc.entities.Get(ctx, ref); err != nil {
		return uc.finish(nil, err, kind, start)
	}

	seen := touched{}
	var applied domain.Payable
	apply := func(ctx context.Context, r repository.Repository, charge *gateway.ChargeStatus) error {
		// the guard may run apply again after a lease takeover
		for k := range seen {
			delete(seen, k)
		}
		amount, err := charge.MinorAmount()
		if err != nil {
			return fmt.Errorf("%w: gateway amount %s %s is not a whole number of minor units",
				domain.ErrAmountMismatch, charge.Amount.String(), charge.Currency)
		}
		p, err := r.GetEntityForUpdate(ctx, ref)
		if err != nil {
			return err
		}
		at := uc.entities.now()
		if _, err := uc.entities.applyTx(ctx, r, seen, p, domain.Event{
			Type:     domain.EventPaymentConfirmed,
			Amount:   amount,
			Currency: charge.Currency,
			ChargeID: chargeID,
			Actor:    actorGateway,
			At:       at,
		}); err != nil {
			return err
		}
		applied = p
		base := p.Base()
		return events.Enqueue(ctx, r, domain.TopicPaymentVerified, base.ID, paymentVerifiedEvent{
			ChargeID:   chargeID,
			EntityType: base.Kind,
			EntityID:   base.ID,
			Amount:     amount,
			Currency:   base.Currency,
			Status:     base.Status,
		}, at)
	}

	outcome, err := uc.guard.Resolve(ctx, ref, chargeID, apply)
	if err == nil && outcome != nil && !outcome.AlreadyProcessed {
		uc.ledger.committed(ctx, seen)
	}

	res, err := uc.finish(outcome, err, kind, start)
	if err == nil && !res.AlreadyProcessed {
		res.Entity = applied
	} else if p, gerr := uc.entities.Get(ctx, ref); gerr == nil {
		// replays and failures report the entity as it stands now
		res.Entity = p
	}
	return res, err
}

func (uc *VerifyUsecase) finish(outcome *Outcome, err error, kind domain.EntityKind, start time.Time) (*VerifyResult, error) {
	res := &VerifyResult{Code: domain.CodeOf(err)}
	if outcome != nil {
		res.Attempt = outcome.Attempt
		res.AlreadyProcessed = outcome.AlreadyProcessed
	}

	switch {
	case err == nil:
		res.Status = VerifySuccess
		res.Message = "payment verified"
		if res.AlreadyProcessed {
			res.Message = "payment already verified"
		}
	case errors.Is(err, domain.ErrVerificationPending):
		res.Status = VerifyPending
		res.Message = "payment is still being processed, retry shortly"
	default:
		res.Status = VerifyError
		res.Message = publicMessage(err)
	}

	metrics.Verifications.WithLabelValues(string(kind), res.Code, strconv.FormatBool(res.AlreadyProcessed)).Inc()
	fields := []zap.Field{
		zap.String("entity_type", string(kind)),
		zap.String("status", res.Status),
		zap.String("code", res.Code),
		zap.Bool("already_processed", res.AlreadyProcessed),
		zap.Duration("took", time.Since(start)),
	}
	if res.Code == domain.CodeInternal {
		uc.logger.Error("verification failed", append(fields, zap.Error(err))...)
	} else {
		uc.logger.Info("verification finished", fields...)
	}
	return res, err
}

// publicMessage hides storage and transport detail behind a generic message.
func publicMessage(err error) string {
	if domain.CodeOf(err) == domain.CodeInternal {
		return "internal error, please retry"
	}
	return err.Error()
}
