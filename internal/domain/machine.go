// internal/domain/machine.go
package domain

import (
	"fmt"
	"time"
)

type EventType string

const (
	EventCheckout         EventType = "checkout"
	EventPaymentConfirmed EventType = "payment_confirmed"
	EventStartProcessing  EventType = "start_processing"
	EventShip             EventType = "ship"
	EventDeliver          EventType = "deliver"
	EventComplete         EventType = "complete"
	EventCancel           EventType = "cancel"
	EventRefund           EventType = "refund"
	EventDispute          EventType = "dispute"
	EventResolveDispute   EventType = "resolve_dispute"
	EventExpire           EventType = "expire"
)

// Recorded in history only; never accepted by Apply.
const (
	EventCreated          EventType = "created"
	EventDisputeEscalated EventType = "dispute_escalated"
	EventRenewalPrepared  EventType = "renewal_prepared"
	EventPaymentRejected  EventType = "payment_rejected"
)

// Event drives one transition. Amount and Currency are only read for payment_confirmed.
type Event struct {
	Type     EventType
	Amount   int64
	Currency string
	ChargeID string
	Actor    string
	Reason   string
	At       time.Time
}

// Posting is a ledger instruction produced by a transition.
type Posting struct {
	AccountID   string
	Amount      int64
	Currency    string
	Type        TxType
	Origin      OriginRef
	Description string
}

// Effects is the outcome of a successful Apply.
type Effects struct {
	From     Status
	To       Status
	Postings []Posting
}

// rule lists the source states an event is legal from. An empty target means
// "return to the status recorded before the dispute".
type rule struct {
	event EventType
	from  []Status
	to    Status
}

var orderRules = []rule{
	{EventCheckout, []Status{StatusPending}, StatusAwaitingPayment},
	{EventPaymentConfirmed, []Status{StatusAwaitingPayment}, StatusPaid},
	{EventStartProcessing, []Status{StatusPaid}, StatusProcessing},
	{EventShip, []Status{StatusProcessing}, StatusShipped},
	{EventDeliver, []Status{StatusShipped}, StatusDelivered},
	{EventComplete, []Status{StatusDelivered}, StatusCompleted},
	{EventCancel, []Status{StatusPending, StatusAwaitingPayment, StatusPaid}, StatusCancelled},
	{EventRefund, []Status{StatusPaid, StatusProcessing, StatusShipped, StatusDelivered, StatusCompleted, StatusDisputed}, StatusRefunded},
	{EventDispute, []Status{StatusPaid, StatusProcessing, StatusShipped, StatusDelivered, StatusCompleted}, StatusDisputed},
	{EventResolveDispute, []Status{StatusDisputed}, ""},
}

var termRules = []rule{
	{EventPaymentConfirmed, []Status{StatusPending, StatusActive, StatusExpired}, StatusActive},
	{EventExpire, []Status{StatusActive}, StatusExpired},
	{EventCancel, []Status{StatusPending, StatusActive}, StatusCancelled},
}

func (o *Order) rules() []rule           { return orderRules }
func (l *FeaturedListing) rules() []rule { return termRules }
func (s *Subscription) rules() []rule    { return termRules }

func lookup(rules []rule, from Status, ev EventType) (Status, bool) {
	for _, r := range rules {
		if r.event != ev {
			continue
		}
		for _, f := range r.from {
			if f == from {
				return r.to, true
			}
		}
	}
	return "", false
}

// Allowed reports whether ev is in the transition table for p's current status.
func Allowed(p Payable, ev EventType) bool {
	_, ok := lookup(p.rules(), p.Base().Status, ev)
	return ok
}

// Statuses returns every status a kind may persist, in table order.
func Statuses(kind EntityKind) []Status {
	var rules []rule
	switch kind {
	case KindOrder:
		rules = orderRules
	case KindFeaturedListing, KindSubscription:
		rules = termRules
	default:
		return nil
	}
	seen := map[Status]bool{StatusPending: true}
	out := []Status{StatusPending}
	add := func(s Status) {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, r := range rules {
		for _, f := range r.from {
			add(f)
		}
		add(r.to)
	}
	return out
}

// ValidStatus reports whether status belongs to kind's state set.
func ValidStatus(kind EntityKind, status Status) bool {
	for _, s := range Statuses(kind) {
		if s == status {
			return true
		}
	}
	return false
}

// Apply runs ev against p. On error p is left exactly as it was.
func Apply(p Payable, ev Event) (Effects, error) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	base := p.Base()
	to, ok := lookup(p.rules(), base.Status, ev.Type)
	if !ok {
		return Effects{}, &TransitionError{Kind: base.Kind, From: base.Status, Event: ev.Type}
	}
	if ev.Type == EventPaymentConfirmed {
		if err := checkPayment(base, ev); err != nil {
			return Effects{}, err
		}
	}

	switch v := p.(type) {
	case *Order:
		return applyOrder(v, ev, to)
	case *FeaturedListing:
		return applyTerm(&v.Entity, &v.Term, ev, to)
	case *Subscription:
		return applyTerm(&v.Entity, &v.Term, ev, to)
	}
	return Effects{}, &TransitionError{Kind: base.Kind, From: base.Status, Event: ev.Type, Reason: "unsupported entity"}
}

func checkPayment(e *Entity, ev Event) error {
	if ev.Amount != e.Amount || NormalizeCurrency(ev.Currency) != NormalizeCurrency(e.Currency) {
		return &AmountMismatchError{
			ExpectedAmount:   e.Amount,
			ExpectedCurrency: e.Currency,
			ActualAmount:     ev.Amount,
			ActualCurrency:   ev.Currency,
		}
	}
	return nil
}

func applyOrder(o *Order, ev Event, to Status) (Effects, error) {
	from := o.Status
	eff := Effects{From: from}
	origin := OriginRef{Type: string(KindOrder), ID: o.ID}
	credit := o.SellerCredit()

	switch ev.Type {
	case EventPaymentConfirmed:
		if credit < 0 {
			return Effects{}, &TransitionError{Kind: o.Kind, From: from, Event: ev.Type, Reason: "service fee exceeds order total"}
		}
		at := ev.At
		o.PaidAt = &at
		if credit > 0 {
			eff.Postings = append(eff.Postings, Posting{
				AccountID:   o.SellerID,
				Amount:      credit,
				Currency:    o.Currency,
				Type:        TxSaleCredit,
				Origin:      origin,
				Description: fmt.Sprintf("sale of order %s", o.ID),
			})
		}
	case EventCancel:
		if from == StatusPaid && credit > 0 {
			eff.Postings = append(eff.Postings, Posting{
				AccountID:   o.SellerID,
				Amount:      -credit,
				Currency:    o.Currency,
				Type:        TxCancelReversal,
				Origin:      origin,
				Description: fmt.Sprintf("cancellation of paid order %s", o.ID),
			})
		}
	case EventRefund:
		if credit > 0 {
			eff.Postings = append(eff.Postings, Posting{
				AccountID:   o.SellerID,
				Amount:      -credit,
				Currency:    o.Currency,
				Type:        TxRefundDebit,
				Origin:      origin,
				Description: fmt.Sprintf("refund of order %s", o.ID),
			})
		}
		o.clearDispute()
	case EventDispute:
		at := ev.At
		o.PriorStatus = from
		o.DisputedAt = &at
		o.EscalatedAt = nil
	case EventResolveDispute:
		if o.PriorStatus == "" {
			return Effects{}, &TransitionError{Kind: o.Kind, From: from, Event: ev.Type, Reason: "no status recorded before dispute"}
		}
		to = o.PriorStatus
		o.clearDispute()
	}

	o.Status = to
	o.UpdatedAt = ev.At
	eff.To = to
	return eff, nil
}

func (o *Order) clearDispute() {
	o.PriorStatus = ""
	o.DisputedAt = nil
	o.EscalatedAt = nil
}

func applyTerm(e *Entity, t *Term, ev Event, to Status) (Effects, error) {
	from := e.Status
	switch ev.Type {
	case EventPaymentConfirmed:
		if t.PurchasedDays <= 0 {
			return Effects{}, &TransitionError{Kind: e.Kind, From: from, Event: ev.Type, Reason: "purchase term not set"}
		}
		start := ev.At
		if from == StatusActive && t.ValidUntil != nil && t.ValidUntil.After(start) {
			start = *t.ValidUntil
		}
		until := start.AddDate(0, 0, t.PurchasedDays)
		if from != StatusActive || t.ActivatedAt == nil {
			at := ev.At
			t.ActivatedAt = &at
		}
		t.ValidUntil = &until
	case EventExpire:
		if t.ValidUntil == nil || t.ValidUntil.After(ev.At) {
			return Effects{}, &TransitionError{Kind: e.Kind, From: from, Event: ev.Type, Reason: "term has not elapsed"}
		}
	}

	e.Status = to
	e.UpdatedAt = ev.At
	return Effects{From: from, To: to}, nil
}
