// internal/usecase/guard.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"settlement-service/config"
	"settlement-service/internal/domain"
	"settlement-service/internal/events"
	"settlement-service/internal/gateway"
	"settlement-service/internal/metrics"
	"settlement-service/internal/repository"
	"settlement-service/pkg/id"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ApplyFunc runs inside the transaction that marks the attempt applied.
type ApplyFunc func(ctx context.Context, r repository.Repository, charge *gateway.ChargeStatus) error

// Outcome is what every caller for one charge id observes.
type Outcome struct {
	Attempt          *domain.PaymentAttempt
	AlreadyProcessed bool
}

type paymentRejectedEvent struct {
	AttemptID  string              `json:"attempt_id"`
	ChargeID   string              `json:"charge_id"`
	EntityType domain.EntityKind   `json:"entity_type"`
	EntityID   string              `json:"entity_id"`
	State      domain.AttemptState `json:"state"`
	Code       string              `json:"code"`
	Message    string              `json:"message"`
}

// errRetry sends Resolve back to re-read the attempt after losing a lease.
var errRetry = errors.New("retry resolve")

// Guard makes payment verification exactly-once per external charge id. The first
// caller reserves the charge, asks the gateway with no lock held, and commits the
// outcome; everyone else waits for and returns that outcome.
type Guard struct {
	store  repository.Store
	gw     gateway.Gateway
	cfg    config.GuardConfig
	logger *zap.Logger
	now    func() time.Time
}

func NewGuard(store repository.Store, gw gateway.Gateway, cfg config.GuardConfig, logger *zap.Logger) *Guard {
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 45 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 150 * time.Millisecond
	}
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = cfg.LeaseTTL + 5*time.Second
	}
	return &Guard{
		store:  store,
		gw:     gw,
		cfg:    cfg,
		logger: logger.Named("guard"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Resolve returns the committed outcome for chargeID on ref, producing it first if
// nobody has. The returned error is the outcome's error (nil when applied).
func (g *Guard) Resolve(ctx context.Context, ref domain.EntityRef, chargeID string, apply ApplyFunc) (*Outcome, error) {
	if chargeID == "" {
		return nil, fmt.Errorf("%w: charge id is required", domain.ErrInvalidInput)
	}
	deadline := g.now().Add(g.cfg.WaitTimeout)

	for {
		existing, err := g.store.GetAttemptByCharge(ctx, chargeID)
		switch {
		case err == nil:
			if existing.Ref() != ref {
				return nil, fmt.Errorf("%w: %s belongs to %s", domain.ErrChargeConflict, chargeID, existing.Ref())
			}
			if existing.Terminal() {
				return &Outcome{Attempt: existing, AlreadyProcessed: true}, existing.OutcomeError()
			}
			if existing.LeaseLive(g.now()) {
				if err := g.wait(ctx, deadline); err != nil {
					return &Outcome{Attempt: existing}, err
				}
				continue
			}
			token := uuid.NewString()
			expires := g.now().Add(g.cfg.LeaseTTL)
			ok, err := g.store.TakeOverAttempt(ctx, chargeID, existing.LeaseToken, token, expires)
			if err != nil {
				return nil, fmt.Errorf("take over attempt: %w", err)
			}
			if !ok {
				continue
			}
			g.logger.Warn("took over expired reservation", zap.String("charge_id", chargeID))
			existing.LeaseToken = token
			existing.LeaseExpiresAt = &expires

			out, err := g.own(ctx, existing, apply)
			if errors.Is(err, errRetry) {
				continue
			}
			return out, err

		case errors.Is(err, domain.ErrNotFound):
			now := g.now()
			expires := now.Add(g.cfg.LeaseTTL)
			a := &domain.PaymentAttempt{
				ID:               id.New("pat"),
				EntityKind:       ref.Kind,
				EntityID:         ref.ID,
				ExternalChargeID: chargeID,
				State:            domain.AttemptReserved,
				LeaseToken:       uuid.NewString(),
				LeaseExpiresAt:   &expires,
				CreatedAt:        now,
				UpdatedAt:        now,
			}
			ok, err := g.store.ReserveAttempt(ctx, a)
			if err != nil {
				return nil, fmt.Errorf("reserve attempt: %w", err)
			}
			if !ok {
				continue
			}

			out, err := g.own(ctx, a, apply)
			if errors.Is(err, errRetry) {
				continue
			}
			return out, err

		default:
			return nil, fmt.Errorf("load attempt: %w", err)
		}
	}
}

func (g *Guard) wait(ctx context.Context, deadline time.Time) error {
	if !g.now().Before(deadline) {
		return domain.ErrVerificationPending
	}
	metrics.GuardWaits.Inc()
	t := time.NewTimer(g.cfg.PollInterval)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", domain.ErrVerificationPending, ctx.Err())
	case <-t.C:
		return nil
	}
}

// own runs the gateway call and commit for a reservation this caller holds.
func (g *Guard) own(ctx context.Context, a *domain.PaymentAttempt, apply ApplyFunc) (*Outcome, error) {
	log := g.logger.With(zap.String("charge_id", a.ExternalChargeID), zap.String("entity", a.Ref().String()))

	charge, err := g.gw.CheckStatus(ctx, a.ExternalChargeID)
	if err != nil {
		g.release(ctx, a)
		err = translateGatewayError(err)
		log.Warn("gateway lookup failed, reservation released", zap.Error(err))
		return nil, err
	}

	switch charge.Status {
	case domain.GatewayInitialized:
		g.release(ctx, a)
		log.Info("charge not settled yet", zap.String("upstream_status", charge.UpstreamStatus))
		return &Outcome{Attempt: a}, domain.ErrVerificationPending

	case domain.GatewayFailed, domain.GatewayCancelled:
		fin := g.settled(a, charge, domain.AttemptDeclined, domain.ErrPaymentDeclined)
		err := g.store.InTx(ctx, func(r repository.Repository) error {
			if err := r.FinalizeAttempt(ctx, fin); err != nil {
				return err
			}
			return g.enqueueRejected(ctx, r, fin)
		})
		if err != nil {
			return nil, g.commitFailed(ctx, a, err, log)
		}
		log.Info("charge declined", zap.String("upstream_status", charge.UpstreamStatus))
		return &Outcome{Attempt: fin}, domain.ErrPaymentDeclined
	}

	fin := g.settled(a, charge, domain.AttemptApplied, nil)
	applied := *fin.AppliedAt
	err = g.store.InTx(ctx, func(r repository.Repository) error {
		if err := r.FinalizeAttempt(ctx, fin); err != nil {
			return err
		}
		return apply(ctx, r, charge)
	})
	if err == nil {
		log.Info("payment applied", zap.Time("applied_at", applied))
		return &Outcome{Attempt: fin}, nil
	}
	if !terminalBusinessError(err) {
		return nil, g.commitFailed(ctx, a, err, log)
	}

	// the entity refused the payment: record it once and flag for review
	cause := err
	fin = g.settled(a, charge, domain.AttemptRejected, cause)
	err = g.store.InTx(ctx, func(r repository.Repository) error {
		if err := r.FinalizeAttempt(ctx, fin); err != nil {
			return err
		}
		if err := g.flagForReview(ctx, r, fin, cause); err != nil {
			return err
		}
		return g.enqueueRejected(ctx, r, fin)
	})
	if err != nil {
		return nil, g.commitFailed(ctx, a, err, log)
	}
	log.Warn("payment rejected, entity flagged for review", zap.Error(cause))
	return &Outcome{Attempt: fin}, cause
}

// settled builds the terminal attempt row without touching a, which keeps the
// lease token in case the commit rolls back.
func (g *Guard) settled(a *domain.PaymentAttempt, charge *gateway.ChargeStatus, state domain.AttemptState, cause error) *domain.PaymentAttempt {
	now := g.now()
	fin := *a
	fin.State = state
	fin.GatewayStatus = charge.Status
	fin.Currency = domain.NormalizeCurrency(charge.Currency)
	if amount, err := charge.MinorAmount(); err == nil {
		fin.Amount = amount
	}
	fin.OutcomeCode = domain.CodeOf(cause)
	fin.OutcomeMessage = ""
	if cause != nil {
		fin.OutcomeMessage = cause.Error()
	}
	fin.AppliedAt = nil
	if state == domain.AttemptApplied {
		fin.AppliedAt = &now
	}
	fin.UpdatedAt = now
	return &fin
}

func (g *Guard) flagForReview(ctx context.Context, r repository.Repository, a *domain.PaymentAttempt, cause error) error {
	p, err := r.GetEntityForUpdate(ctx, a.Ref())
	if err != nil {
		return err
	}
	base := p.Base()
	base.FlagForReview(domain.CodeOf(cause), a.UpdatedAt)
	if err := r.UpdateEntity(ctx, p); err != nil {
		return err
	}
	return r.AppendHistory(ctx, &domain.StatusChange{
		EntityKind: base.Kind,
		EntityID:   base.ID,
		From:       base.Status,
		To:         base.Status,
		Event:      domain.EventPaymentRejected,
		Actor:      actorGateway,
		ChargeID:   a.ExternalChargeID,
		Reason:     cause.Error(),
		At:         a.UpdatedAt,
	})
}

func (g *Guard) enqueueRejected(ctx context.Context, r repository.Repository, a *domain.PaymentAttempt) error {
	return events.Enqueue(ctx, r, domain.TopicPaymentRejected, a.EntityID, paymentRejectedEvent{
		AttemptID:  a.ID,
		ChargeID:   a.ExternalChargeID,
		EntityType: a.EntityKind,
		EntityID:   a.EntityID,
		State:      a.State,
		Code:       a.OutcomeCode,
		Message:    a.OutcomeMessage,
	}, a.UpdatedAt)
}

// commitFailed releases the reservation unless another caller owns it now.
func (g *Guard) commitFailed(ctx context.Context, a *domain.PaymentAttempt, err error, log *zap.Logger) error {
	if errors.Is(err, repository.ErrLeaseLost) {
		log.Warn("reservation taken over before commit")
		return errRetry
	}
	g.release(ctx, a)
	log.Error("commit payment outcome failed", zap.Error(err))
	return err
}

func (g *Guard) release(ctx context.Context, a *domain.PaymentAttempt) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := g.store.ReleaseAttempt(rctx, a.ExternalChargeID, a.LeaseToken); err != nil {
		g.logger.Warn("release reservation failed; lease will expire",
			zap.String("charge_id", a.ExternalChargeID), zap.Error(err))
	}
}

func terminalBusinessError(err error) bool {
	return errors.Is(err, domain.ErrAmountMismatch) || errors.Is(err, domain.ErrInvalidTransition)
}

// translateGatewayError keeps the two gateway sentinels and folds anything else
// into ErrGatewayUnavailable.
func translateGatewayError(err error) error {
	if errors.Is(err, domain.ErrGatewayUnavailable) || errors.Is(err, domain.ErrGatewayRejected) {
		return err
	}
	return fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
}
