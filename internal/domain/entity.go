// internal/domain/entity.go
package domain

import (
	"fmt"
	"strings"
	"time"
)

type EntityKind string

const (
	KindOrder           EntityKind = "order"
	KindFeaturedListing EntityKind = "featured_listing"
	KindSubscription    EntityKind = "subscription"
)

// ParseKind accepts the canonical kind and a couple of aliases used by callers.
func ParseKind(s string) (EntityKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "order", "marketplace_order":
		return KindOrder, nil
	case "featured_listing", "listing", "featured":
		return KindFeaturedListing, nil
	case "subscription", "verified_subscription", "verification":
		return KindSubscription, nil
	}
	return "", fmt.Errorf("%w: unknown entity type %q", ErrInvalidInput, s)
}

// IDPrefix is the prefix used for generated entity ids of this kind.
func (k EntityKind) IDPrefix() string {
	switch k {
	case KindOrder:
		return "ord"
	case KindFeaturedListing:
		return "fls"
	case KindSubscription:
		return "sub"
	}
	return "ent"
}

type Status string

const (
	StatusPending         Status = "pending"
	StatusAwaitingPayment Status = "awaiting_payment"
	StatusPaid            Status = "paid"
	StatusProcessing      Status = "processing"
	StatusShipped         Status = "shipped"
	StatusDelivered       Status = "delivered"
	StatusCompleted       Status = "completed"
	StatusCancelled       Status = "cancelled"
	StatusRefunded        Status = "refunded"
	StatusDisputed        Status = "disputed"
	StatusActive          Status = "active"
	StatusExpired         Status = "expired"
)

type EntityRef struct {
	Kind EntityKind `json:"entity_type"`
	ID   string     `json:"entity_id"`
}

func (r EntityRef) String() string { return string(r.Kind) + "/" + r.ID }

// Entity holds the fields shared by every payable variant.
type Entity struct {
	ID             string     `json:"id" db:"id"`
	Kind           EntityKind `json:"entity_type" db:"kind"`
	OwnerID        string     `json:"owner_id" db:"owner_id"`
	Amount         int64      `json:"amount" db:"amount"`
	Currency       string     `json:"currency" db:"currency"`
	Status         Status     `json:"status" db:"status"`
	ReviewRequired bool       `json:"review_required" db:"review_required"`
	ReviewReason   string     `json:"review_reason,omitempty" db:"review_reason"`
	Version        int64      `json:"version" db:"version"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
}

func (e *Entity) Ref() EntityRef { return EntityRef{Kind: e.Kind, ID: e.ID} }

// FlagForReview marks the entity for manual follow-up without touching its status.
func (e *Entity) FlagForReview(reason string, at time.Time) {
	e.ReviewRequired = true
	e.ReviewReason = reason
	e.UpdatedAt = at
}

// Payable is implemented only by *Order, *FeaturedListing and *Subscription.
type Payable interface {
	Base() *Entity
	rules() []rule
}

type Order struct {
	Entity
	SellerID    string     `json:"seller_id" db:"seller_id"`
	ServiceFee  int64      `json:"service_fee" db:"service_fee"`
	PriorStatus Status     `json:"prior_status,omitempty" db:"prior_status"`
	PaidAt      *time.Time `json:"paid_at,omitempty" db:"paid_at"`
	DisputedAt  *time.Time `json:"disputed_at,omitempty" db:"disputed_at"`
	EscalatedAt *time.Time `json:"escalated_at,omitempty" db:"escalated_at"`
}

func (o *Order) Base() *Entity { return &o.Entity }

// SellerCredit is what the seller's wallet receives once the order is paid.
func (o *Order) SellerCredit() int64 { return o.Amount - o.ServiceFee }

// Term is the purchased validity window of a renewable entity.
type Term struct {
	PurchasedDays int        `json:"purchased_days" db:"purchased_days"`
	ActivatedAt   *time.Time `json:"activated_at,omitempty" db:"activated_at"`
	ValidUntil    *time.Time `json:"valid_until,omitempty" db:"valid_until"`
}

type FeaturedListing struct {
	Entity
	ListingID string `json:"listing_id" db:"listing_id"`
	Term
}

func (l *FeaturedListing) Base() *Entity { return &l.Entity }

type Subscription struct {
	Entity
	Term
}

func (s *Subscription) Base() *Entity { return &s.Entity }

// Renewable exposes the term of listings and subscriptions.
type Renewable interface {
	Payable
	PurchaseTerm() *Term
}

func (l *FeaturedListing) PurchaseTerm() *Term { return &l.Term }
func (s *Subscription) PurchaseTerm() *Term    { return &s.Term }

// NewPayable returns an empty value of the given kind.
func NewPayable(kind EntityKind) (Payable, error) {
	switch kind {
	case KindOrder:
		return &Order{Entity: Entity{Kind: kind}}, nil
	case KindFeaturedListing:
		return &FeaturedListing{Entity: Entity{Kind: kind}}, nil
	case KindSubscription:
		return &Subscription{Entity: Entity{Kind: kind}}, nil
	}
	return nil, fmt.Errorf("%w: unknown entity type %q", ErrInvalidInput, kind)
}

// Clone returns a deep copy so callers can mutate without aliasing.
func Clone(p Payable) Payable {
	switch v := p.(type) {
	case *Order:
		c := *v
		c.PaidAt = cloneTime(v.PaidAt)
		c.DisputedAt = cloneTime(v.DisputedAt)
		c.EscalatedAt = cloneTime(v.EscalatedAt)
		return &c
	case *FeaturedListing:
		c := *v
		c.Term = v.Term.clone()
		return &c
	case *Subscription:
		c := *v
		c.Term = v.Term.clone()
		return &c
	}
	return nil
}

func (t Term) clone() Term {
	t.ActivatedAt = cloneTime(t.ActivatedAt)
	t.ValidUntil = cloneTime(t.ValidUntil)
	return t
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// StatusChange is one row of an entity's audit trail.
type StatusChange struct {
	ID         int64      `json:"id" db:"id"`
	EntityKind EntityKind `json:"entity_type" db:"entity_kind"`
	EntityID   string     `json:"entity_id" db:"entity_id"`
	From       Status     `json:"from" db:"from_status"`
	To         Status     `json:"to" db:"to_status"`
	Event      EventType  `json:"event" db:"event"`
	Actor      string     `json:"actor" db:"actor"`
	ChargeID   string     `json:"charge_id,omitempty" db:"charge_id"`
	Reason     string     `json:"reason,omitempty" db:"reason"`
	At         time.Time  `json:"at" db:"created_at"`
}
