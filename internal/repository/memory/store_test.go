package memory_test

import (
	"context"
	"testing"
	"time"

	"settlement-service/internal/domain"
	"settlement-service/internal/repository"
	"settlement-service/internal/repository/memory"
	"settlement-service/internal/repository/repotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreContract(t *testing.T) {
	repotest.Run(t, func(t *testing.T) repository.Store { return memory.New() })
}

func TestTakeOverOnlyAfterExpiry(t *testing.T) {
	ctx := context.Background()
	clock := time.Now().UTC()
	s := memory.New().WithClock(func() time.Time { return clock })

	o := repotest.NewOrder(1_000, 0)
	require.NoError(t, s.CreateEntity(ctx, o))

	exp := clock.Add(30 * time.Second)
	a := &domain.PaymentAttempt{
		ID: "pat_1", EntityKind: o.Kind, EntityID: o.ID, ExternalChargeID: "chg_1",
		LeaseToken: "first", LeaseExpiresAt: &exp, CreatedAt: clock,
	}
	ok, err := s.ReserveAttempt(ctx, a)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.TakeOverAttempt(ctx, "chg_1", "first", "second", clock.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, ok, "live lease must not be taken over")

	clock = clock.Add(31 * time.Second)
	ok, err = s.TakeOverAttempt(ctx, "chg_1", "first", "second", clock.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)

	// the first holder can no longer release or finalize
	require.NoError(t, s.ReleaseAttempt(ctx, "chg_1", "first"))
	got, err := s.GetAttemptByCharge(ctx, "chg_1")
	require.NoError(t, err)
	assert.Equal(t, "second", got.LeaseToken)

	a.State = domain.AttemptDeclined
	require.ErrorIs(t, s.FinalizeAttempt(ctx, a), repository.ErrLeaseLost)
}

func TestRenewablesMayApplyPerTerm(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	now := time.Now().UTC()
	sub := &domain.Subscription{
		Entity: domain.Entity{ID: "sub_1", Kind: domain.KindSubscription, OwnerID: "u1", Amount: 5_000,
			Currency: "OMR", Status: domain.StatusPending, CreatedAt: now},
		Term: domain.Term{PurchasedDays: 30},
	}
	require.NoError(t, s.CreateEntity(ctx, sub))

	for _, charge := range []string{"chg_a", "chg_b"} {
		exp := now.Add(time.Minute)
		a := &domain.PaymentAttempt{ID: "pat_" + charge, EntityKind: sub.Kind, EntityID: sub.ID,
			ExternalChargeID: charge, LeaseToken: "t", LeaseExpiresAt: &exp, CreatedAt: now}
		ok, err := s.ReserveAttempt(ctx, a)
		require.NoError(t, err)
		require.True(t, ok)
		a.State = domain.AttemptApplied
		a.GatewayStatus = domain.GatewayCaptured
		a.AppliedAt = &now
		require.NoError(t, s.FinalizeAttempt(ctx, a))
	}

	attempts, err := s.ListAttempts(ctx, sub.Ref())
	require.NoError(t, err)
	assert.Len(t, attempts, 2)
}
