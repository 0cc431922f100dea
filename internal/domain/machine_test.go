package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newOrder(status Status) *Order {
	return &Order{
		Entity: Entity{
			ID:       "ord_1",
			Kind:     KindOrder,
			OwnerID:  "buyer",
			Amount:   100_000,
			Currency: "OMR",
			Status:   status,
		},
		SellerID:   "seller",
		ServiceFee: 5_000,
	}
}

func TestOrderHappyPath(t *testing.T) {
	o := newOrder(StatusPending)
	steps := []struct {
		ev   Event
		want Status
	}{
		{Event{Type: EventCheckout}, StatusAwaitingPayment},
		{Event{Type: EventPaymentConfirmed, Amount: 100_000, Currency: "omr"}, StatusPaid},
		{Event{Type: EventStartProcessing}, StatusProcessing},
		{Event{Type: EventShip}, StatusShipped},
		{Event{Type: EventDeliver}, StatusDelivered},
		{Event{Type: EventComplete}, StatusCompleted},
	}
	for _, s := range steps {
		s.ev.At = t0
		eff, err := Apply(o, s.ev)
		require.NoError(t, err, s.ev.Type)
		assert.Equal(t, s.want, o.Status)
		assert.Equal(t, s.want, eff.To)
	}
	require.NotNil(t, o.PaidAt)
}

func TestPaymentConfirmationCreditsSellerNetOfFee(t *testing.T) {
	o := newOrder(StatusAwaitingPayment)
	eff, err := Apply(o, Event{Type: EventPaymentConfirmed, Amount: 100_000, Currency: "OMR", At: t0})
	require.NoError(t, err)
	require.Len(t, eff.Postings, 1)

	p := eff.Postings[0]
	assert.Equal(t, "seller", p.AccountID)
	assert.Equal(t, int64(95_000), p.Amount)
	assert.Equal(t, TxSaleCredit, p.Type)
	assert.Equal(t, OriginRef{Type: "order", ID: "ord_1"}, p.Origin)
}

func TestAmountMismatchLeavesOrderUntouched(t *testing.T) {
	o := newOrder(StatusAwaitingPayment)
	before := *o

	_, err := Apply(o, Event{Type: EventPaymentConfirmed, Amount: 90_000, Currency: "OMR", At: t0})
	require.ErrorIs(t, err, ErrAmountMismatch)

	var mm *AmountMismatchError
	require.True(t, errors.As(err, &mm))
	assert.Equal(t, int64(100_000), mm.ExpectedAmount)
	assert.Equal(t, int64(90_000), mm.ActualAmount)
	assert.Equal(t, before, *o)

	_, err = Apply(o, Event{Type: EventPaymentConfirmed, Amount: 100_000, Currency: "USD", At: t0})
	require.ErrorIs(t, err, ErrAmountMismatch)
	assert.Equal(t, StatusAwaitingPayment, o.Status)
}

func TestIllegalTransitionsLeaveStatusUnchanged(t *testing.T) {
	cases := []struct {
		from Status
		ev   EventType
	}{
		{StatusPending, EventShip},
		{StatusPending, EventPaymentConfirmed},
		{StatusAwaitingPayment, EventRefund},
		{StatusShipped, EventCancel},
		{StatusCancelled, EventRefund},
		{StatusRefunded, EventRefund},
		{StatusDisputed, EventShip},
		{StatusDisputed, EventCancel},
		{StatusDisputed, EventDispute},
		{StatusCompleted, EventExpire},
	}
	for _, c := range cases {
		o := newOrder(c.from)
		_, err := Apply(o, Event{Type: c.ev, Amount: o.Amount, Currency: o.Currency, At: t0})
		require.ErrorIs(t, err, ErrInvalidTransition, "%s from %s", c.ev, c.from)
		assert.Equal(t, c.from, o.Status)

		var te *TransitionError
		require.True(t, errors.As(err, &te))
		assert.Equal(t, c.ev, te.Event)
	}
}

func TestRefundPostsDebitEqualToCredit(t *testing.T) {
	for _, from := range []Status{StatusPaid, StatusProcessing, StatusShipped, StatusDelivered, StatusCompleted} {
		o := newOrder(from)
		eff, err := Apply(o, Event{Type: EventRefund, At: t0})
		require.NoError(t, err)
		require.Len(t, eff.Postings, 1)
		assert.Equal(t, -o.SellerCredit(), eff.Postings[0].Amount)
		assert.Equal(t, TxRefundDebit, eff.Postings[0].Type)
		assert.Equal(t, StatusRefunded, o.Status)
	}
}

func TestCancelPaidOrderReversesCredit(t *testing.T) {
	o := newOrder(StatusPaid)
	eff, err := Apply(o, Event{Type: EventCancel, At: t0})
	require.NoError(t, err)
	require.Len(t, eff.Postings, 1)
	assert.Equal(t, int64(-95_000), eff.Postings[0].Amount)
	assert.Equal(t, TxCancelReversal, eff.Postings[0].Type)

	unpaid := newOrder(StatusAwaitingPayment)
	eff, err = Apply(unpaid, Event{Type: EventCancel, At: t0})
	require.NoError(t, err)
	assert.Empty(t, eff.Postings)
}

func TestDisputeFreezesAndResolvesToPriorStatus(t *testing.T) {
	o := newOrder(StatusShipped)
	_, err := Apply(o, Event{Type: EventDispute, At: t0})
	require.NoError(t, err)
	assert.Equal(t, StatusDisputed, o.Status)
	assert.Equal(t, StatusShipped, o.PriorStatus)
	require.NotNil(t, o.DisputedAt)

	_, err = Apply(o, Event{Type: EventDeliver, At: t0})
	require.ErrorIs(t, err, ErrInvalidTransition)

	eff, err := Apply(o, Event{Type: EventResolveDispute, At: t0})
	require.NoError(t, err)
	assert.Equal(t, StatusShipped, eff.To)
	assert.Equal(t, StatusShipped, o.Status)
	assert.Empty(t, o.PriorStatus)
	assert.Nil(t, o.DisputedAt)
}

func TestDisputedOrderCanBeRefunded(t *testing.T) {
	o := newOrder(StatusDelivered)
	_, err := Apply(o, Event{Type: EventDispute, At: t0})
	require.NoError(t, err)

	eff, err := Apply(o, Event{Type: EventRefund, At: t0})
	require.NoError(t, err)
	assert.Equal(t, StatusRefunded, o.Status)
	assert.Equal(t, int64(-95_000), eff.Postings[0].Amount)
	assert.Nil(t, o.DisputedAt)
}

func newListing(status Status, days int, validUntil *time.Time) *FeaturedListing {
	return &FeaturedListing{
		Entity: Entity{
			ID:       "fls_1",
			Kind:     KindFeaturedListing,
			OwnerID:  "owner",
			Amount:   2_500,
			Currency: "OMR",
			Status:   status,
		},
		ListingID: "room_9",
		Term:      Term{PurchasedDays: days, ValidUntil: validUntil},
	}
}

func TestListingActivation(t *testing.T) {
	l := newListing(StatusPending, 7, nil)
	eff, err := Apply(l, Event{Type: EventPaymentConfirmed, Amount: 2_500, Currency: "OMR", At: t0})
	require.NoError(t, err)
	assert.Empty(t, eff.Postings)
	assert.Equal(t, StatusActive, l.Status)
	assert.Equal(t, t0.AddDate(0, 0, 7), *l.ValidUntil)
	assert.Equal(t, t0, *l.ActivatedAt)
}

func TestRepurchaseWhileActiveExtendsFromCurrentEnd(t *testing.T) {
	old := t0.AddDate(0, 0, 3)
	l := newListing(StatusActive, 5, &old)

	_, err := Apply(l, Event{Type: EventPaymentConfirmed, Amount: 2_500, Currency: "OMR", At: t0})
	require.NoError(t, err)
	assert.Equal(t, old.AddDate(0, 0, 5), *l.ValidUntil)
	assert.NotEqual(t, t0.AddDate(0, 0, 5), *l.ValidUntil)
}

func TestExpiredSubscriptionRestartsFromNow(t *testing.T) {
	past := t0.AddDate(0, 0, -2)
	s := &Subscription{
		Entity: Entity{ID: "sub_1", Kind: KindSubscription, Amount: 1_000, Currency: "OMR", Status: StatusExpired},
		Term:   Term{PurchasedDays: 30, ValidUntil: &past},
	}
	_, err := Apply(s, Event{Type: EventPaymentConfirmed, Amount: 1_000, Currency: "OMR", At: t0})
	require.NoError(t, err)
	assert.Equal(t, StatusActive, s.Status)
	assert.Equal(t, t0.AddDate(0, 0, 30), *s.ValidUntil)
}

func TestExpireRequiresElapsedTerm(t *testing.T) {
	future := t0.Add(time.Hour)
	l := newListing(StatusActive, 7, &future)

	_, err := Apply(l, Event{Type: EventExpire, At: t0})
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, StatusActive, l.Status)

	_, err = Apply(l, Event{Type: EventExpire, At: future})
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, l.Status)
}

func TestListingWithoutTermCannotActivate(t *testing.T) {
	l := newListing(StatusPending, 0, nil)
	_, err := Apply(l, Event{Type: EventPaymentConfirmed, Amount: 2_500, Currency: "OMR", At: t0})
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, StatusPending, l.Status)
}

func TestStatusesPerKind(t *testing.T) {
	assert.ElementsMatch(t, []Status{
		StatusPending, StatusAwaitingPayment, StatusPaid, StatusProcessing, StatusShipped,
		StatusDelivered, StatusCompleted, StatusCancelled, StatusRefunded, StatusDisputed,
	}, Statuses(KindOrder))
	assert.ElementsMatch(t, []Status{StatusPending, StatusActive, StatusExpired, StatusCancelled}, Statuses(KindSubscription))
	assert.False(t, ValidStatus(KindFeaturedListing, StatusShipped))
	assert.True(t, ValidStatus(KindOrder, StatusDisputed))
}

func TestCloneDoesNotAlias(t *testing.T) {
	until := t0
	l := newListing(StatusActive, 7, &until)
	c := Clone(l).(*FeaturedListing)
	*c.ValidUntil = t0.Add(time.Hour)
	assert.Equal(t, t0, *l.ValidUntil)
}
