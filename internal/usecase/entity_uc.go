// internal/usecase/entity_uc.go
package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"settlement-service/internal/domain"
	"settlement-service/internal/events"
	"settlement-service/internal/repository"
	"settlement-service/pkg/id"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	actorGateway = "gateway"
	actorSweeper = "system:sweeper"
)

type CreateIntentInput struct {
	Kind     domain.EntityKind
	OwnerID  string
	Amount   int64
	Currency string

	// orders
	SellerID          string
	ServiceFee        int64
	ServiceFeePercent *decimal.Decimal
	// Checkout moves a new order straight to awaiting_payment.
	Checkout bool

	// featured listings and subscriptions
	ListingID     string
	PurchasedDays int

	Actor string
}

type ActInput struct {
	Event  domain.EventType
	Actor  string
	Reason string
}

type entityTransitionedEvent struct {
	EntityType domain.EntityKind `json:"entity_type"`
	EntityID   string            `json:"entity_id"`
	From       domain.Status     `json:"from"`
	To         domain.Status     `json:"to"`
	Event      domain.EventType  `json:"event"`
	Actor      string            `json:"actor"`
	ChargeID   string            `json:"charge_id,omitempty"`
}

type disputeEscalatedEvent struct {
	EntityID    string    `json:"entity_id"`
	SellerID    string    `json:"seller_id"`
	OwnerID     string    `json:"owner_id"`
	DisputedAt  time.Time `json:"disputed_at"`
	EscalatedAt time.Time `json:"escalated_at"`
}

// EntityUsecase drives payable entities through their transition tables. Every
// transition commits together with its history row, ledger postings and outbox event.
type EntityUsecase struct {
	store           repository.Store
	ledger          *LedgerUsecase
	defaultCurrency string
	logger          *zap.Logger
	now             func() time.Time
}

func NewEntityUsecase(store repository.Store, ledger *LedgerUsecase, defaultCurrency string, logger *zap.Logger) *EntityUsecase {
	if defaultCurrency == "" {
		defaultCurrency = domain.DefaultCurrency
	}
	return &EntityUsecase{
		store:           store,
		ledger:          ledger,
		defaultCurrency: domain.NormalizeCurrency(defaultCurrency),
		logger:          logger.Named("entity"),
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// CreateIntent stores a new entity in its pre-payment status.
func (uc *EntityUsecase) CreateIntent(ctx context.Context, in CreateIntentInput) (domain.Payable, error) {
	p, err := uc.buildIntent(in)
	if err != nil {
		return nil, err
	}

	err = uc.store.InTx(ctx, func(r repository.Repository) error {
		if err := r.CreateEntity(ctx, p); err != nil {
			return err
		}
		base := p.Base()
		if err := r.AppendHistory(ctx, &domain.StatusChange{
			EntityKind: base.Kind,
			EntityID:   base.ID,
			To:         base.Status,
			Event:      domain.EventCreated,
			Actor:      in.Actor,
			At:         base.CreatedAt,
		}); err != nil {
			return err
		}
		if in.Checkout {
			_, err := uc.applyTx(ctx, r, touched{}, p, domain.Event{Type: domain.EventCheckout, Actor: in.Actor, At: base.CreatedAt})
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	uc.logger.Info("payable entity created",
		zap.String("entity", p.Base().Ref().String()),
		zap.String("owner_id", p.Base().OwnerID),
		zap.String("amount", domain.FormatMinor(p.Base().Amount, p.Base().Currency)),
		zap.String("status", string(p.Base().Status)),
	)
	return p, nil
}

func (uc *EntityUsecase) buildIntent(in CreateIntentInput) (domain.Payable, error) {
	if strings.TrimSpace(in.OwnerID) == "" {
		return nil, fmt.Errorf("%w: owner_id is required", domain.ErrInvalidInput)
	}
	if in.Amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", domain.ErrInvalidInput)
	}
	currency := domain.NormalizeCurrency(in.Currency)
	if currency == "" {
		currency = uc.defaultCurrency
	}

	p, err := domain.NewPayable(in.Kind)
	if err != nil {
		return nil, err
	}
	now := uc.now()
	base := p.Base()
	base.ID = id.New(in.Kind.IDPrefix())
	base.OwnerID = in.OwnerID
	base.Amount = in.Amount
	base.Currency = currency
	base.Status = domain.StatusPending
	base.CreatedAt = now
	base.UpdatedAt = now

	switch v := p.(type) {
	case *domain.Order:
		if strings.TrimSpace(in.SellerID) == "" {
			return nil, fmt.Errorf("%w: seller_id is required for orders", domain.ErrInvalidInput)
		}
		fee := in.ServiceFee
		if in.ServiceFeePercent != nil {
			fee = domain.ServiceFee(in.Amount, *in.ServiceFeePercent)
		}
		if fee < 0 || fee > in.Amount {
			return nil, fmt.Errorf("%w: service fee must be between 0 and the order total", domain.ErrInvalidInput)
		}
		v.SellerID = in.SellerID
		v.ServiceFee = fee
	case *domain.FeaturedListing:
		if in.PurchasedDays <= 0 {
			return nil, fmt.Errorf("%w: purchased_days must be positive", domain.ErrInvalidInput)
		}
		if in.Checkout {
			return nil, fmt.Errorf("%w: checkout applies to orders only", domain.ErrInvalidInput)
		}
		v.ListingID = in.ListingID
		v.PurchasedDays = in.PurchasedDays
	case *domain.Subscription:
		if in.PurchasedDays <= 0 {
			return nil, fmt.Errorf("%w: purchased_days must be positive", domain.ErrInvalidInput)
		}
		if in.Checkout {
			return nil, fmt.Errorf("%w: checkout applies to orders only", domain.ErrInvalidInput)
		}
		v.PurchasedDays = in.PurchasedDays
	}
	return p, nil
}

func (uc *EntityUsecase) Get(ctx context.Context, ref domain.EntityRef) (domain.Payable, error) {
	return uc.store.GetEntity(ctx, ref)
}

func (uc *EntityUsecase) History(ctx context.Context, ref domain.EntityRef) ([]domain.StatusChange, error) {
	if _, err := uc.store.GetEntity(ctx, ref); err != nil {
		return nil, err
	}
	history, err := uc.store.ListHistory(ctx, ref)
	if err != nil {
		return nil, err
	}
	if history == nil {
		history = []domain.StatusChange{}
	}
	return history, nil
}

// Act applies a business event. Payment confirmation only happens through verification.
func (uc *EntityUsecase) Act(ctx context.Context, ref domain.EntityRef, in ActInput) (domain.Payable, error) {
	if in.Event == domain.EventPaymentConfirmed {
		return nil, fmt.Errorf("%w: payments are confirmed through verification", domain.ErrInvalidInput)
	}

	seen := touched{}
	var out domain.Payable
	err := uc.store.InTx(ctx, func(r repository.Repository) error {
		p, err := r.GetEntityForUpdate(ctx, ref)
		if err != nil {
			return err
		}
		if _, err := uc.applyTx(ctx, r, seen, p, domain.Event{
			Type:   in.Event,
			Actor:  in.Actor,
			Reason: in.Reason,
			At:     uc.now(),
		}); err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	uc.ledger.committed(ctx, seen)
	return out, nil
}

// applyTx runs ev against p and persists everything the transition produced through r.
func (uc *EntityUsecase) applyTx(ctx context.Context, r repository.Repository, seen touched, p domain.Payable, ev domain.Event) (domain.Effects, error) {
	eff, err := domain.Apply(p, ev)
	if err != nil {
		return domain.Effects{}, err
	}
	base := p.Base()
	if err := r.UpdateEntity(ctx, p); err != nil {
		return domain.Effects{}, err
	}
	if err := r.AppendHistory(ctx, &domain.StatusChange{
		EntityKind: base.Kind,
		EntityID:   base.ID,
		From:       eff.From,
		To:         eff.To,
		Event:      ev.Type,
		Actor:      ev.Actor,
		ChargeID:   ev.ChargeID,
		Reason:     ev.Reason,
		At:         ev.At,
	}); err != nil {
		return domain.Effects{}, err
	}
	for _, posting := range eff.Postings {
		if _, err := uc.ledger.postTx(ctx, r, seen, posting, ev.At); err != nil {
			return domain.Effects{}, err
		}
	}
	if err := events.Enqueue(ctx, r, domain.TopicEntityTransitioned, base.ID, entityTransitionedEvent{
		EntityType: base.Kind,
		EntityID:   base.ID,
		From:       eff.From,
		To:         eff.To,
		Event:      ev.Type,
		Actor:      ev.Actor,
		ChargeID:   ev.ChargeID,
	}, ev.At); err != nil {
		return domain.Effects{}, err
	}

	uc.logger.Info("entity transitioned",
		zap.String("entity", base.Ref().String()),
		zap.String("event", string(ev.Type)),
		zap.String("from", string(eff.From)),
		zap.String("to", string(eff.To)),
		zap.Int("postings", len(eff.Postings)),
	)
	return eff, nil
}

// PrepareRenewal sets the price and term of the next purchase of a listing or subscription.
func (uc *EntityUsecase) PrepareRenewal(ctx context.Context, ref domain.EntityRef, amount int64, purchasedDays int, actor string) (domain.Payable, error) {
	if amount <= 0 || purchasedDays <= 0 {
		return nil, fmt.Errorf("%w: amount and purchased_days must be positive", domain.ErrInvalidInput)
	}

	var out domain.Payable
	err := uc.store.InTx(ctx, func(r repository.Repository) error {
		p, err := r.GetEntityForUpdate(ctx, ref)
		if err != nil {
			return err
		}
		rn, ok := p.(domain.Renewable)
		if !ok {
			return fmt.Errorf("%w: %s cannot be renewed", domain.ErrInvalidInput, ref.Kind)
		}
		base := p.Base()
		if base.Status != domain.StatusActive && base.Status != domain.StatusExpired {
			return &domain.TransitionError{Kind: base.Kind, From: base.Status, Event: domain.EventRenewalPrepared, Reason: "only active or expired terms can be renewed"}
		}

		now := uc.now()
		base.Amount = amount
		base.UpdatedAt = now
		rn.PurchaseTerm().PurchasedDays = purchasedDays
		if err := r.UpdateEntity(ctx, p); err != nil {
			return err
		}
		if err := r.AppendHistory(ctx, &domain.StatusChange{
			EntityKind: base.Kind,
			EntityID:   base.ID,
			From:       base.Status,
			To:         base.Status,
			Event:      domain.EventRenewalPrepared,
			Actor:      actor,
			Reason:     fmt.Sprintf("%d days for %s", purchasedDays, domain.FormatMinor(amount, base.Currency)),
			At:         now,
		}); err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// EscalateDispute flags a long-running dispute for manual review. It never resolves it.
// Returns false when the order is no longer an unescalated dispute.
func (uc *EntityUsecase) EscalateDispute(ctx context.Context, ref domain.EntityRef) (bool, error) {
	escalated := false
	err := uc.store.InTx(ctx, func(r repository.Repository) error {
		p, err := r.GetEntityForUpdate(ctx, ref)
		if err != nil {
			return err
		}
		o, ok := p.(*domain.Order)
		if !ok || o.Status != domain.StatusDisputed || o.EscalatedAt != nil || o.DisputedAt == nil {
			return nil
		}

		now := uc.now()
		o.EscalatedAt = &now
		o.FlagForReview(string(domain.EventDisputeEscalated), now)
		if err := r.UpdateEntity(ctx, o); err != nil {
			return err
		}
		if err := r.AppendHistory(ctx, &domain.StatusChange{
			EntityKind: o.Kind,
			EntityID:   o.ID,
			From:       o.Status,
			To:         o.Status,
			Event:      domain.EventDisputeEscalated,
			Actor:      actorSweeper,
			At:         now,
		}); err != nil {
			return err
		}
		if err := events.Enqueue(ctx, r, domain.TopicDisputeEscalated, o.ID, disputeEscalatedEvent{
			EntityID:    o.ID,
			SellerID:    o.SellerID,
			OwnerID:     o.OwnerID,
			DisputedAt:  *o.DisputedAt,
			EscalatedAt: now,
		}, now); err != nil {
			return err
		}
		escalated = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if escalated {
		uc.logger.Warn("dispute escalated for review", zap.String("entity", ref.String()))
	}
	return escalated, nil
}
