package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"settlement-service/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRejectedWithdrawalRestoresBalance(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.fund(t, "seller", 50_000, "chg_1")

	w, err := h.withdrawals.Request(ctx, WithdrawalInput{AccountID: "seller", Amount: 50_000})
	require.NoError(t, err)
	assert.Equal(t, domain.WithdrawalProcessing, w.Status)
	assert.Equal(t, "OMR", w.Currency)
	assert.Empty(t, w.ProcessedBy)
	assert.Nil(t, w.ProcessedAt)

	s := h.stats(t, "seller")
	assert.Equal(t, int64(50_000), s.Balance)
	assert.Equal(t, int64(50_000), s.PendingBalance)
	assert.Zero(t, s.Available)

	w, err = h.withdrawals.Process(ctx, w.ID, domain.ActionReject, "admin_1", "")
	require.NoError(t, err)
	assert.Equal(t, domain.WithdrawalRejected, w.Status)
	assert.Equal(t, domain.DefaultRejectionReason, w.RejectionReason)
	assert.Equal(t, "admin_1", w.ProcessedBy)
	require.NotNil(t, w.ProcessedAt)

	s = h.stats(t, "seller")
	assert.Equal(t, int64(50_000), s.Balance)
	assert.Zero(t, s.PendingBalance)
	assert.Equal(t, int64(50_000), s.Available)
	assert.Zero(t, s.TotalWithdrawn)
}

func TestApprovedWithdrawalDebitsBalance(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.fund(t, "seller", 95_000, "chg_1")

	w, err := h.withdrawals.Request(ctx, WithdrawalInput{AccountID: "seller", Amount: 30_000, Currency: "omr"})
	require.NoError(t, err)

	s := h.stats(t, "seller")
	assert.Equal(t, int64(95_000), s.Balance)
	assert.Equal(t, int64(30_000), s.PendingBalance)
	assert.Equal(t, int64(65_000), s.Available)

	w, err = h.withdrawals.Process(ctx, w.ID, domain.ActionApprove, "admin_1", "paid by bank transfer")
	require.NoError(t, err)
	assert.Equal(t, domain.WithdrawalCompleted, w.Status)
	assert.Equal(t, "paid by bank transfer", w.AdminNotes)

	s = h.stats(t, "seller")
	assert.Equal(t, int64(65_000), s.Balance)
	assert.Zero(t, s.PendingBalance)
	assert.Equal(t, int64(65_000), s.Available)
	assert.Equal(t, int64(30_000), s.TotalWithdrawn)
	assert.Equal(t, int64(95_000), s.TotalEarned)
	assert.Equal(t, s.Balance, s.TotalEarned-s.TotalWithdrawn)

	var debit *domain.WalletTransaction
	for i := range s.RecentTransactions {
		if s.RecentTransactions[i].Type == domain.TxWithdrawalDebit {
			debit = &s.RecentTransactions[i]
		}
	}
	require.NotNil(t, debit)
	assert.Equal(t, int64(-30_000), debit.Amount)
	assert.Equal(t, domain.TxCompleted, debit.Status)
	assert.Equal(t, domain.OriginRef{Type: domain.OriginWithdrawal, ID: w.ID}, debit.Origin)
}

func TestWithdrawalCannotExceedAvailable(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.fund(t, "seller", 50_000, "chg_1")

	_, err := h.withdrawals.Request(ctx, WithdrawalInput{AccountID: "seller", Amount: 30_000})
	require.NoError(t, err)

	_, err = h.withdrawals.Request(ctx, WithdrawalInput{AccountID: "seller", Amount: 30_000})
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)

	_, err = h.withdrawals.Request(ctx, WithdrawalInput{AccountID: "nobody", Amount: 5_000})
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)

	s := h.stats(t, "seller")
	assert.Equal(t, int64(30_000), s.PendingBalance)
	assert.Equal(t, int64(20_000), s.Available)
}

func TestConcurrentWithdrawalsNeverOverdraw(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.fund(t, "seller", 50_000, "chg_1")

	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.withdrawals.Request(ctx, WithdrawalInput{AccountID: "seller", Amount: 10_000}); err == nil {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, granted)
	s := h.stats(t, "seller")
	assert.Equal(t, int64(50_000), s.PendingBalance)
	assert.Zero(t, s.Available)
}

func TestWithdrawalValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.fund(t, "seller", 50_000, "chg_1")

	tests := []struct {
		name string
		in   WithdrawalInput
		want error
	}{
		{"zero", WithdrawalInput{AccountID: "seller"}, domain.ErrInvalidInput},
		{"negative", WithdrawalInput{AccountID: "seller", Amount: -5}, domain.ErrInvalidInput},
		{"below minimum", WithdrawalInput{AccountID: "seller", Amount: 500}, domain.ErrInvalidInput},
		{"no account", WithdrawalInput{Amount: 5_000}, domain.ErrInvalidInput},
		{"wrong currency", WithdrawalInput{AccountID: "seller", Amount: 5_000, Currency: "USD"}, domain.ErrCurrencyMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.withdrawals.Request(ctx, tt.in)
			require.ErrorIs(t, err, tt.want)
		})
	}
	assert.Zero(t, h.stats(t, "seller").PendingBalance)
}

func TestWithdrawalIdempotencyKey(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.fund(t, "seller", 50_000, "chg_1")

	first, err := h.withdrawals.Request(ctx, WithdrawalInput{AccountID: "seller", Amount: 20_000, IdempotencyKey: "k1"})
	require.NoError(t, err)

	again, err := h.withdrawals.Request(ctx, WithdrawalInput{AccountID: "seller", Amount: 20_000, IdempotencyKey: "k1"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, int64(20_000), h.stats(t, "seller").PendingBalance)

	_, err = h.withdrawals.Request(ctx, WithdrawalInput{AccountID: "seller", Amount: 25_000, IdempotencyKey: "k1"})
	require.ErrorIs(t, err, domain.ErrIdempotencyConflict)

	// keys are scoped per account
	h.fund(t, "other", 50_000, "chg_2")
	w, err := h.withdrawals.Request(ctx, WithdrawalInput{AccountID: "other", Amount: 20_000, IdempotencyKey: "k1"})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, w.ID)
}

func TestConcurrentRequestsWithSameKey(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.fund(t, "seller", 30_000, "chg_1")

	const callers = 6
	ids := make([]string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			w, err := h.withdrawals.Request(ctx, WithdrawalInput{AccountID: "seller", Amount: 20_000, IdempotencyKey: "same"})
			if assert.NoError(t, err) {
				ids[i] = w.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	assert.Equal(t, int64(20_000), h.stats(t, "seller").PendingBalance)
}

func TestResolvedWithdrawalIsFinal(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.fund(t, "seller", 50_000, "chg_1")

	w, err := h.withdrawals.Request(ctx, WithdrawalInput{AccountID: "seller", Amount: 10_000})
	require.NoError(t, err)
	_, err = h.withdrawals.Process(ctx, w.ID, domain.ActionReject, "admin_1", "missing bank details")
	require.NoError(t, err)

	for _, action := range []domain.WithdrawalAction{domain.ActionApprove, domain.ActionReject} {
		_, err = h.withdrawals.Process(ctx, w.ID, action, "admin_2", "")
		require.ErrorIs(t, err, domain.ErrAlreadyResolved, action)
	}

	got, err := h.withdrawals.Get(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, "missing bank details", got.RejectionReason)
	assert.Equal(t, "admin_1", got.ProcessedBy)
	assert.Equal(t, int64(50_000), h.stats(t, "seller").Available)
}

func TestWithdrawalProcessErrors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.fund(t, "seller", 50_000, "chg_1")
	w, err := h.withdrawals.Request(ctx, WithdrawalInput{AccountID: "seller", Amount: 10_000})
	require.NoError(t, err)

	_, err = h.withdrawals.Process(ctx, w.ID, "bounce", "admin_1", "")
	require.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = h.withdrawals.Process(ctx, w.ID, domain.ActionApprove, "", "")
	require.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = h.withdrawals.Process(ctx, "wd_missing", domain.ActionApprove, "admin_1", "")
	require.ErrorIs(t, err, domain.ErrNotFound)

	got, err := h.withdrawals.Get(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.WithdrawalProcessing, got.Status)
	assert.Empty(t, got.ProcessedBy)
	assert.Nil(t, got.ProcessedAt)
}

func TestPendingWithdrawalCannotBeResolved(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	now := time.Now().UTC()

	// a request stored before its hold committed
	require.NoError(t, h.store.CreateWithdrawal(ctx, &domain.WithdrawalRequest{
		ID: "wd_pending", AccountID: "seller", Amount: 10_000, Currency: "OMR",
		Status: domain.WithdrawalPending, CreatedAt: now, UpdatedAt: now,
	}))

	for _, action := range []domain.WithdrawalAction{domain.ActionApprove, domain.ActionReject} {
		_, err := h.withdrawals.Process(ctx, "wd_pending", action, "admin_1", "")
		require.ErrorIs(t, err, domain.ErrInvalidTransition, action)
	}

	got, err := h.withdrawals.Get(ctx, "wd_pending")
	require.NoError(t, err)
	assert.Equal(t, domain.WithdrawalPending, got.Status)
	assert.Empty(t, got.ProcessedBy)
	assert.Nil(t, got.ProcessedAt)
	assert.Zero(t, h.stats(t, "seller").TotalWithdrawn)
}

func TestListWithdrawals(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.fund(t, "seller", 50_000, "chg_1")
	h.fund(t, "other", 50_000, "chg_2")

	a, err := h.withdrawals.Request(ctx, WithdrawalInput{AccountID: "seller", Amount: 10_000})
	require.NoError(t, err)
	_, err = h.withdrawals.Request(ctx, WithdrawalInput{AccountID: "seller", Amount: 5_000})
	require.NoError(t, err)
	_, err = h.withdrawals.Request(ctx, WithdrawalInput{AccountID: "other", Amount: 5_000})
	require.NoError(t, err)
	_, err = h.withdrawals.Process(ctx, a.ID, domain.ActionApprove, "admin_1", "")
	require.NoError(t, err)

	list, total, err := h.withdrawals.List(ctx, domain.WithdrawalFilter{AccountID: "seller"}, domain.Page{})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, list, 2)

	list, total, err = h.withdrawals.List(ctx, domain.WithdrawalFilter{Status: domain.WithdrawalProcessing}, domain.Page{})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	for _, w := range list {
		assert.Equal(t, domain.WithdrawalProcessing, w.Status)
	}

	list, _, err = h.withdrawals.List(ctx, domain.WithdrawalFilter{AccountID: "nobody"}, domain.Page{})
	require.NoError(t, err)
	assert.NotNil(t, list)
	assert.Empty(t, list)
}
