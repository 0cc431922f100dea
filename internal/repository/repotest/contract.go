// Package repotest holds behaviour every repository.Store must share.
package repotest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"settlement-service/internal/domain"
	"settlement-service/internal/repository"
	"settlement-service/pkg/id"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Run exercises a fresh store returned by newStore for each subtest.
func Run(t *testing.T, newStore func(t *testing.T) repository.Store) {
	t.Run("entity round trip and version check", func(t *testing.T) { testEntityRoundTrip(t, newStore(t)) })
	t.Run("invalid status rejected on write", func(t *testing.T) { testInvalidStatus(t, newStore(t)) })
	t.Run("reservation is exclusive", func(t *testing.T) { testReservationExclusive(t, newStore(t)) })
	t.Run("finalize requires lease", func(t *testing.T) { testFinalizeRequiresLease(t, newStore(t)) })
	t.Run("failed tx leaves no trace", func(t *testing.T) { testRollback(t, newStore(t)) })
	t.Run("balances derive from transactions", func(t *testing.T) { testBalances(t, newStore(t)) })
	t.Run("withdrawal idempotency key is unique", func(t *testing.T) { testWithdrawalKey(t, newStore(t)) })
	t.Run("outbox claim and publish", func(t *testing.T) { testOutbox(t, newStore(t)) })
}

func now() time.Time { return time.Now().UTC().Truncate(time.Microsecond) }

// NewOrder returns an unsaved order awaiting payment.
func NewOrder(amount, fee int64) *domain.Order {
	ts := now()
	return &domain.Order{
		Entity: domain.Entity{
			ID:        id.New("ord"),
			Kind:      domain.KindOrder,
			OwnerID:   "buyer_" + id.New(""),
			Amount:    amount,
			Currency:  "OMR",
			Status:    domain.StatusAwaitingPayment,
			CreatedAt: ts,
			UpdatedAt: ts,
		},
		SellerID:   "seller_" + id.New(""),
		ServiceFee: fee,
	}
}

func testEntityRoundTrip(t *testing.T, s repository.Store) {
	ctx := context.Background()
	o := NewOrder(100_000, 5_000)
	require.NoError(t, s.CreateEntity(ctx, o))

	got, err := s.GetEntity(ctx, o.Ref())
	require.NoError(t, err)
	order, ok := got.(*domain.Order)
	require.True(t, ok)
	assert.Equal(t, o.SellerID, order.SellerID)
	assert.Equal(t, int64(1), order.Version)

	order.Status = domain.StatusPaid
	require.NoError(t, s.UpdateEntity(ctx, order))
	assert.Equal(t, int64(2), order.Version)

	stale := *o
	stale.Status = domain.StatusCancelled
	err = s.UpdateEntity(ctx, &stale)
	require.ErrorIs(t, err, domain.ErrConcurrentUpdate)

	_, err = s.GetEntity(ctx, domain.EntityRef{Kind: domain.KindOrder, ID: "ord_missing"})
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func testInvalidStatus(t *testing.T, s repository.Store) {
	o := NewOrder(1_000, 0)
	o.Status = domain.StatusActive
	err := s.CreateEntity(context.Background(), o)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func reserved(o *domain.Order, charge string) *domain.PaymentAttempt {
	exp := now().Add(time.Minute)
	return &domain.PaymentAttempt{
		ID:               id.New("pat"),
		EntityKind:       o.Kind,
		EntityID:         o.ID,
		ExternalChargeID: charge,
		LeaseToken:       id.New("lease"),
		LeaseExpiresAt:   &exp,
		CreatedAt:        now(),
	}
}

func testReservationExclusive(t *testing.T, s repository.Store) {
	ctx := context.Background()
	o := NewOrder(1_000, 0)
	require.NoError(t, s.CreateEntity(ctx, o))
	charge := id.New("chg")

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.ReserveAttempt(ctx, reserved(o, charge))
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)

	a, err := s.GetAttemptByCharge(ctx, charge)
	require.NoError(t, err)
	assert.Equal(t, domain.AttemptReserved, a.State)
}

func testFinalizeRequiresLease(t *testing.T, s repository.Store) {
	ctx := context.Background()
	o := NewOrder(1_000, 0)
	require.NoError(t, s.CreateEntity(ctx, o))

	a := reserved(o, id.New("chg"))
	ok, err := s.ReserveAttempt(ctx, a)
	require.NoError(t, err)
	require.True(t, ok)

	wrong := *a
	wrong.LeaseToken = "someone-else"
	wrong.State = domain.AttemptDeclined
	wrong.UpdatedAt = now()
	require.ErrorIs(t, s.FinalizeAttempt(ctx, &wrong), repository.ErrLeaseLost)

	ts := now()
	a.State = domain.AttemptApplied
	a.GatewayStatus = domain.GatewayCaptured
	a.Amount = 1_000
	a.Currency = "OMR"
	a.AppliedAt = &ts
	a.UpdatedAt = ts
	require.NoError(t, s.FinalizeAttempt(ctx, a))

	got, err := s.GetAttemptByCharge(ctx, a.ExternalChargeID)
	require.NoError(t, err)
	assert.Equal(t, domain.AttemptApplied, got.State)
	assert.Empty(t, got.LeaseToken)

	second := reserved(o, id.New("chg"))
	ok, err = s.ReserveAttempt(ctx, second)
	require.NoError(t, err)
	require.True(t, ok)
	second.State = domain.AttemptApplied
	second.GatewayStatus = domain.GatewayCaptured
	second.AppliedAt = &ts
	second.UpdatedAt = ts
	require.ErrorIs(t, s.FinalizeAttempt(ctx, second), domain.ErrInvalidTransition)
}

func testRollback(t *testing.T, s repository.Store) {
	ctx := context.Background()
	o := NewOrder(1_000, 0)
	boom := errors.New("boom")

	err := s.InTx(ctx, func(r repository.Repository) error {
		if err := r.CreateEntity(ctx, o); err != nil {
			return err
		}
		if _, err := r.LockAccount(ctx, o.SellerID, "OMR"); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.GetEntity(ctx, o.Ref())
	require.ErrorIs(t, err, domain.ErrNotFound)
	_, err = s.GetAccount(ctx, o.SellerID)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func testBalances(t *testing.T, s repository.Store) {
	ctx := context.Background()
	acct := "acct_" + id.New("")
	origin := domain.OriginRef{Type: "order", ID: id.New("ord")}
	ts := now()

	var holdID int64
	err := s.InTx(ctx, func(r repository.Repository) error {
		if _, err := r.LockAccount(ctx, acct, "OMR"); err != nil {
			return err
		}
		credit := &domain.WalletTransaction{AccountID: acct, Amount: 50_000, Currency: "OMR", Type: domain.TxSaleCredit,
			Status: domain.TxCompleted, Origin: origin, CreatedAt: ts, CompletedAt: &ts}
		if err := r.InsertTransaction(ctx, credit); err != nil {
			return err
		}
		hold := &domain.WalletTransaction{AccountID: acct, Amount: -20_000, Currency: "OMR", Type: domain.TxWithdrawalDebit,
			Status: domain.TxPending, Origin: domain.OriginRef{Type: domain.OriginWithdrawal, ID: "wd_1"}, CreatedAt: ts}
		if err := r.InsertTransaction(ctx, hold); err != nil {
			return err
		}
		holdID = hold.ID
		return nil
	})
	require.NoError(t, err)

	b, err := s.SumBalances(ctx, acct)
	require.NoError(t, err)
	assert.Equal(t, int64(50_000), b.Completed)
	assert.Equal(t, int64(20_000), b.Held)
	assert.Equal(t, int64(30_000), b.Available())

	sum, err := s.SumByOrigin(ctx, acct, origin)
	require.NoError(t, err)
	assert.Equal(t, int64(50_000), sum)

	require.NoError(t, s.InTx(ctx, func(r repository.Repository) error {
		return r.ResolveTransaction(ctx, holdID, domain.TxCompleted, -20_000, now())
	}))
	err = s.InTx(ctx, func(r repository.Repository) error {
		return r.ResolveTransaction(ctx, holdID, domain.TxFailed, -20_000, now())
	})
	require.ErrorIs(t, err, domain.ErrAlreadyResolved)

	b, err = s.SumBalances(ctx, acct)
	require.NoError(t, err)
	assert.Equal(t, int64(30_000), b.Completed)
	assert.Equal(t, int64(0), b.Held)

	txs, total, err := s.ListTransactions(ctx, acct, domain.Page{Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, txs, 1)
	assert.Equal(t, holdID, txs[0].ID)
}

func testWithdrawalKey(t *testing.T, s repository.Store) {
	ctx := context.Background()
	acct := "acct_" + id.New("")
	ts := now()

	create := func(wdID string) error {
		return s.InTx(ctx, func(r repository.Repository) error {
			if _, err := r.LockAccount(ctx, acct, "OMR"); err != nil {
				return err
			}
			hold := &domain.WalletTransaction{AccountID: acct, Amount: -1, Currency: "OMR", Type: domain.TxWithdrawalDebit,
				Status: domain.TxPending, Origin: domain.OriginRef{Type: domain.OriginWithdrawal, ID: wdID}, CreatedAt: ts}
			if err := r.InsertTransaction(ctx, hold); err != nil {
				return err
			}
			return r.CreateWithdrawal(ctx, &domain.WithdrawalRequest{
				ID: wdID, AccountID: acct, Amount: 1, Currency: "OMR", Status: domain.WithdrawalPending,
				HoldID: hold.ID, IdempotencyKey: "key-1", CreatedAt: ts,
			})
		})
	}
	require.NoError(t, create(id.New("wd")))
	require.ErrorIs(t, create(id.New("wd")), domain.ErrIdempotencyConflict)

	w, err := s.GetWithdrawalByKey(ctx, acct, "key-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), w.Amount)

	list, total, err := s.ListWithdrawals(ctx, domain.WithdrawalFilter{AccountID: acct}, domain.Page{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Len(t, list, 1)
}

func testOutbox(t *testing.T, s repository.Store) {
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, s.EnqueueOutbox(ctx, &domain.OutboxMessage{
			Topic: domain.TopicLedgerPosted, Key: "k", Payload: []byte(`{"n":1}`), CreatedAt: now(),
		}))
	}

	var claimed []domain.OutboxMessage
	require.NoError(t, s.InTx(ctx, func(r repository.Repository) error {
		var err error
		claimed, err = r.ClaimOutbox(ctx, 2)
		if err != nil {
			return err
		}
		ids := []int64{claimed[0].ID, claimed[1].ID}
		return r.MarkOutboxPublished(ctx, ids, now())
	}))
	require.Len(t, claimed, 2)

	rest, err := s.ClaimOutbox(ctx, 10)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(rest), 1)
	for _, m := range rest {
		assert.NotEqual(t, claimed[0].ID, m.ID)
		assert.NotEqual(t, claimed[1].ID, m.ID)
	}
}
