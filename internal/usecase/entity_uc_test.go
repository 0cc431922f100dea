package usecase

import (
	"context"
	"strings"
	"testing"
	"time"

	"settlement-service/internal/domain"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateIntent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	pct := decimal.NewFromFloat(2.5)

	p, err := h.entities.CreateIntent(ctx, CreateIntentInput{
		Kind: domain.KindOrder, OwnerID: "buyer", SellerID: "seller",
		Amount: 100_000, ServiceFeePercent: &pct, Currency: "omr",
	})
	require.NoError(t, err)

	o := p.(*domain.Order)
	assert.True(t, strings.HasPrefix(o.ID, "ord_"))
	assert.Equal(t, domain.StatusPending, o.Status)
	assert.Equal(t, "OMR", o.Currency)
	assert.Equal(t, int64(2_500), o.ServiceFee)
	assert.Equal(t, int64(97_500), o.SellerCredit())

	history, err := h.entities.History(ctx, o.Ref())
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, domain.EventCreated, history[0].Event)
}

func TestCreateIntentWithCheckout(t *testing.T) {
	h := newHarness(t)
	o := h.newOrder(t, 10_000, 0)
	assert.Equal(t, domain.StatusAwaitingPayment, o.Status)

	history, err := h.entities.History(context.Background(), o.Ref())
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, domain.EventCheckout, history[1].Event)
	assert.Equal(t, domain.StatusPending, history[1].From)
	assert.Equal(t, domain.StatusAwaitingPayment, history[1].To)
}

func TestCreateIntentValidation(t *testing.T) {
	h := newHarness(t)
	tests := []struct {
		name string
		in   CreateIntentInput
	}{
		{"unknown kind", CreateIntentInput{Kind: "invoice", OwnerID: "u", Amount: 1}},
		{"no owner", CreateIntentInput{Kind: domain.KindOrder, SellerID: "s", Amount: 1}},
		{"zero amount", CreateIntentInput{Kind: domain.KindOrder, OwnerID: "u", SellerID: "s"}},
		{"no seller", CreateIntentInput{Kind: domain.KindOrder, OwnerID: "u", Amount: 1}},
		{"fee above total", CreateIntentInput{Kind: domain.KindOrder, OwnerID: "u", SellerID: "s", Amount: 10, ServiceFee: 11}},
		{"negative fee", CreateIntentInput{Kind: domain.KindOrder, OwnerID: "u", SellerID: "s", Amount: 10, ServiceFee: -1}},
		{"listing without days", CreateIntentInput{Kind: domain.KindFeaturedListing, OwnerID: "u", Amount: 1}},
		{"subscription checkout", CreateIntentInput{Kind: domain.KindSubscription, OwnerID: "u", Amount: 1, PurchasedDays: 30, Checkout: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.entities.CreateIntent(context.Background(), tt.in)
			require.ErrorIs(t, err, domain.ErrInvalidInput)
		})
	}
}

func TestOrderFulfilmentFlow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	o := h.paidOrder(t, 50_000, 2_000, "chg_1")

	for _, ev := range []domain.EventType{
		domain.EventStartProcessing, domain.EventShip, domain.EventDeliver, domain.EventComplete,
	} {
		_, err := h.entities.Act(ctx, o.Ref(), ActInput{Event: ev, Actor: "seller"})
		require.NoError(t, err, ev)
	}
	assert.Equal(t, domain.StatusCompleted, h.order(t, o.ID).Status)
	assert.Equal(t, int64(48_000), h.stats(t, "seller").Balance, "fulfilment steps move no money")

	history, err := h.entities.History(ctx, o.Ref())
	require.NoError(t, err)
	assert.Len(t, history, 7)
}

func TestActRejectsIllegalEvents(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	o := h.newOrder(t, 10_000, 0)

	_, err := h.entities.Act(ctx, o.Ref(), ActInput{Event: domain.EventShip, Actor: "seller"})
	var te *domain.TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, domain.StatusAwaitingPayment, te.From)
	assert.Equal(t, domain.StatusAwaitingPayment, h.order(t, o.ID).Status)

	_, err = h.entities.Act(ctx, o.Ref(), ActInput{Event: domain.EventPaymentConfirmed, Actor: "buyer"})
	require.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = h.entities.Act(ctx, domain.EntityRef{Kind: domain.KindOrder, ID: "ord_missing"}, ActInput{Event: domain.EventCancel})
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDisputeResolutionRestoresPriorStatus(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	o := h.paidOrder(t, 10_000, 0, "chg_1")
	_, err := h.entities.Act(ctx, o.Ref(), ActInput{Event: domain.EventStartProcessing, Actor: "seller"})
	require.NoError(t, err)

	_, err = h.entities.Act(ctx, o.Ref(), ActInput{Event: domain.EventDispute, Actor: "buyer", Reason: "late"})
	require.NoError(t, err)
	got := h.order(t, o.ID)
	assert.Equal(t, domain.StatusDisputed, got.Status)
	require.NotNil(t, got.DisputedAt)

	_, err = h.entities.Act(ctx, o.Ref(), ActInput{Event: domain.EventResolveDispute, Actor: "admin_1"})
	require.NoError(t, err)
	got = h.order(t, o.ID)
	assert.Equal(t, domain.StatusProcessing, got.Status)
	assert.Nil(t, got.DisputedAt)
	assert.Equal(t, int64(10_000), h.stats(t, "seller").Balance)
}

func TestPrepareRenewal(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	o := h.newOrder(t, 10_000, 0)
	_, err := h.entities.PrepareRenewal(ctx, o.Ref(), 5_000, 5, "buyer")
	require.ErrorIs(t, err, domain.ErrInvalidInput)

	p, err := h.entities.CreateIntent(ctx, CreateIntentInput{
		Kind: domain.KindSubscription, OwnerID: "seller", Amount: 30_000, PurchasedDays: 30,
	})
	require.NoError(t, err)
	_, err = h.entities.PrepareRenewal(ctx, p.Base().Ref(), 5_000, 5, "seller")
	require.ErrorIs(t, err, domain.ErrInvalidTransition, "pending subscriptions are bought, not renewed")

	_, err = h.entities.PrepareRenewal(ctx, p.Base().Ref(), 0, 5, "seller")
	require.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestHistoryOfMissingEntity(t *testing.T) {
	h := newHarness(t)
	_, err := h.entities.History(context.Background(), domain.EntityRef{Kind: domain.KindSubscription, ID: "sub_missing"})
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSweeperExpiresElapsedTerms(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	start := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	h.clock.Set(start)

	p, err := h.entities.CreateIntent(ctx, CreateIntentInput{
		Kind: domain.KindSubscription, OwnerID: "seller", Amount: 30_000, PurchasedDays: 30,
	})
	require.NoError(t, err)
	h.gw.Captured("chg_1", "30", "OMR")
	_, err = h.verify.VerifyPayment(ctx, "subscription", p.Base().ID, "chg_1")
	require.NoError(t, err)

	h.clock.Advance(29 * 24 * time.Hour)
	expired, _, err := h.sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, expired)

	h.clock.Advance(48 * time.Hour)
	expired, _, err = h.sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, expired)

	got, err := h.entities.Get(ctx, p.Base().Ref())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusExpired, got.Base().Status)

	history, err := h.entities.History(ctx, p.Base().Ref())
	require.NoError(t, err)
	assert.Equal(t, actorSweeper, history[len(history)-1].Actor)
}

func TestSweeperEscalatesStaleDisputesOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	o := h.paidOrder(t, 10_000, 0, "chg_1")

	_, err := h.entities.Act(ctx, o.Ref(), ActInput{Event: domain.EventDispute, Actor: "buyer"})
	require.NoError(t, err)

	h.clock.Advance(13 * 24 * time.Hour)
	_, escalated, err := h.sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, escalated)

	h.clock.Advance(2 * 24 * time.Hour)
	_, escalated, err = h.sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, escalated)

	got := h.order(t, o.ID)
	assert.Equal(t, domain.StatusDisputed, got.Status, "escalation never resolves a dispute")
	assert.True(t, got.ReviewRequired)
	require.NotNil(t, got.EscalatedAt)
	assert.Equal(t, int64(10_000), h.stats(t, "seller").Balance)

	_, escalated, err = h.sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, escalated)
}

func TestSweeperRunStopsOnCancel(t *testing.T) {
	h := newHarness(t)
	h.sweeper.cfg.SweepInterval = time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- h.sweeper.Run(ctx) }()
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
