package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"settlement-service/config"
	"settlement-service/internal/cache"
	"settlement-service/internal/domain"
	"settlement-service/internal/gateway"
	"settlement-service/internal/repository/memory"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingNotifier struct {
	mu    sync.Mutex
	stats []domain.WalletStats
}

func (n *recordingNotifier) NotifyBalance(_ context.Context, s *domain.WalletStats) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.stats = append(n.stats, *s)
}

func (n *recordingNotifier) last(accountID string) (domain.WalletStats, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := len(n.stats) - 1; i >= 0; i-- {
		if n.stats[i].AccountID == accountID {
			return n.stats[i], true
		}
	}
	return domain.WalletStats{}, false
}

type harness struct {
	store       *memory.Store
	gw          *gateway.Fake
	cache       *cache.MemoryBalanceCache
	notifier    *recordingNotifier
	clock       *testClock
	ledger      *LedgerUsecase
	entities    *EntityUsecase
	guard       *Guard
	verify      *VerifyUsecase
	withdrawals *WithdrawalUsecase
	sweeper     *Sweeper
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := zap.NewNop()
	h := &harness{
		store:    memory.New(),
		gw:       gateway.NewFake(),
		cache:    cache.NewMemoryBalanceCache(),
		notifier: &recordingNotifier{},
		clock:    &testClock{now: time.Now().UTC()},
	}
	ledgerCfg := config.LedgerConfig{DefaultCurrency: "OMR", RecentTxLimit: 10, MinWithdrawal: 1_000}

	h.ledger = NewLedgerUsecase(h.store, h.cache, h.notifier, ledgerCfg, logger)
	h.entities = NewEntityUsecase(h.store, h.ledger, "OMR", logger)
	h.entities.now = h.clock.Now
	h.guard = NewGuard(h.store, h.gw, config.GuardConfig{
		LeaseTTL:     5 * time.Second,
		PollInterval: 5 * time.Millisecond,
		WaitTimeout:  2 * time.Second,
	}, logger)
	h.verify = NewVerifyUsecase(h.guard, h.entities, h.ledger, logger)
	h.withdrawals = NewWithdrawalUsecase(h.store, h.ledger, ledgerCfg, logger)
	h.sweeper = NewSweeper(h.store, h.entities, config.WorkersConfig{
		SweepInterval:          time.Hour,
		DisputeEscalationAfter: 14 * 24 * time.Hour,
	}, logger)
	h.sweeper.now = h.clock.Now
	return h
}

func major(amount int64) string {
	return domain.FromMinor(amount, "OMR").String()
}

func (h *harness) newOrder(t *testing.T, amount, fee int64) *domain.Order {
	t.Helper()
	p, err := h.entities.CreateIntent(context.Background(), CreateIntentInput{
		Kind:       domain.KindOrder,
		OwnerID:    "buyer",
		SellerID:   "seller",
		Amount:     amount,
		ServiceFee: fee,
		Checkout:   true,
		Actor:      "buyer",
	})
	require.NoError(t, err)
	return p.(*domain.Order)
}

// paidOrder creates an order and verifies a captured charge for its full amount.
func (h *harness) paidOrder(t *testing.T, amount, fee int64, chargeID string) *domain.Order {
	t.Helper()
	o := h.newOrder(t, amount, fee)
	h.gw.Captured(chargeID, major(amount), "OMR")
	res, err := h.verify.VerifyPayment(context.Background(), "order", o.ID, chargeID)
	require.NoError(t, err)
	require.Equal(t, VerifySuccess, res.Status)
	return h.order(t, o.ID)
}

func (h *harness) order(t *testing.T, orderID string) *domain.Order {
	t.Helper()
	p, err := h.entities.Get(context.Background(), domain.EntityRef{Kind: domain.KindOrder, ID: orderID})
	require.NoError(t, err)
	return p.(*domain.Order)
}

func (h *harness) stats(t *testing.T, accountID string) *domain.WalletStats {
	t.Helper()
	s, err := h.ledger.GetWalletStats(context.Background(), accountID)
	require.NoError(t, err)
	return s
}

// fund credits accountID through a paid order with no fee.
func (h *harness) fund(t *testing.T, accountID string, amount int64, chargeID string) {
	t.Helper()
	p, err := h.entities.CreateIntent(context.Background(), CreateIntentInput{
		Kind:     domain.KindOrder,
		OwnerID:  "buyer",
		SellerID: accountID,
		Amount:   amount,
		Checkout: true,
	})
	require.NoError(t, err)
	h.gw.Captured(chargeID, major(amount), "OMR")
	_, err = h.verify.VerifyPayment(context.Background(), "order", p.Base().ID, chargeID)
	require.NoError(t, err)
}
