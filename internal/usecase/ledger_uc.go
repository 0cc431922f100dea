// internal/usecase/ledger_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"settlement-service/config"
	"settlement-service/internal/cache"
	"settlement-service/internal/domain"
	"settlement-service/internal/events"
	"settlement-service/internal/metrics"
	"settlement-service/internal/repository"

	"go.uber.org/zap"
)

// touched remembers the pre-transaction version of every account a transaction wrote,
// so the matching cache entries can be dropped after commit.
type touched map[string]int64

func (t touched) add(acct *domain.WalletAccount) {
	if _, ok := t[acct.ID]; !ok {
		t[acct.ID] = acct.Version
	}
}

// LedgerUsecase owns the append-only wallet log. Balances are always derived
// from transactions; the account row only carries totals and a version.
type LedgerUsecase struct {
	store    repository.Store
	cache    cache.BalanceCache
	notifier events.BalanceNotifier
	cfg      config.LedgerConfig
	logger   *zap.Logger
	now      func() time.Time
}

func NewLedgerUsecase(
	store repository.Store,
	balanceCache cache.BalanceCache,
	notifier events.BalanceNotifier,
	cfg config.LedgerConfig,
	logger *zap.Logger,
) *LedgerUsecase {
	if notifier == nil {
		notifier = events.NopNotifier{}
	}
	if cfg.DefaultCurrency == "" {
		cfg.DefaultCurrency = domain.DefaultCurrency
	}
	return &LedgerUsecase{
		store:    store,
		cache:    balanceCache,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger.Named("ledger"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

type ledgerPostedEvent struct {
	TransactionID int64            `json:"transaction_id"`
	AccountID     string           `json:"account_id"`
	Amount        int64            `json:"amount"`
	Currency      string           `json:"currency"`
	Type          domain.TxType    `json:"type"`
	Status        domain.TxStatus  `json:"status"`
	Origin        domain.OriginRef `json:"origin"`
}

// ============================================
// POSTINGS
// ============================================

// Post appends one completed transaction in its own database transaction.
func (uc *LedgerUsecase) Post(ctx context.Context, p domain.Posting) (*domain.WalletTransaction, error) {
	seen := touched{}
	var tx *domain.WalletTransaction
	err := uc.store.InTx(ctx, func(r repository.Repository) error {
		var err error
		tx, err = uc.postTx(ctx, r, seen, p, uc.now())
		return err
	})
	if err != nil {
		return nil, err
	}
	uc.committed(ctx, seen)
	return tx, nil
}

// postTx appends a completed transaction through r. Debits against an origin may
// not exceed what that origin has credited so far.
func (uc *LedgerUsecase) postTx(ctx context.Context, r repository.Repository, seen touched, p domain.Posting, at time.Time) (*domain.WalletTransaction, error) {
	if p.Amount == 0 || p.AccountID == "" {
		return nil, fmt.Errorf("%w: posting needs an account and a non-zero amount", domain.ErrInvalidInput)
	}
	if p.Type == domain.TxWithdrawalDebit {
		return nil, fmt.Errorf("%w: withdrawals are posted through holds", domain.ErrInvalidInput)
	}
	if p.Type.Credit() != (p.Amount > 0) {
		return nil, fmt.Errorf("%w: %s posting has the wrong sign", domain.ErrInvalidInput, p.Type)
	}

	acct, err := uc.lockAccount(ctx, r, p.AccountID, p.Currency)
	if err != nil {
		return nil, err
	}
	seen.add(acct)

	if p.Amount < 0 {
		net, err := r.SumByOrigin(ctx, acct.ID, p.Origin)
		if err != nil {
			return nil, err
		}
		if net+p.Amount < 0 {
			return nil, fmt.Errorf("%w: %s of %d exceeds %d credited by %s/%s",
				domain.ErrInvalidTransition, p.Type, -p.Amount, net, p.Origin.Type, p.Origin.ID)
		}
	}

	tx := &domain.WalletTransaction{
		AccountID:   acct.ID,
		Amount:      p.Amount,
		Currency:    acct.Currency,
		Type:        p.Type,
		Status:      domain.TxCompleted,
		Origin:      p.Origin,
		Description: p.Description,
		CreatedAt:   at,
		CompletedAt: &at,
	}
	if err := r.InsertTransaction(ctx, tx); err != nil {
		return nil, err
	}

	acct.TotalEarned += p.Amount
	acct.UpdatedAt = at
	if err := r.UpdateAccount(ctx, acct); err != nil {
		return nil, err
	}
	if err := uc.enqueuePosted(ctx, r, tx, at); err != nil {
		return nil, err
	}

	metrics.LedgerPostings.WithLabelValues(string(tx.Type), string(tx.Status)).Inc()
	uc.logger.Info("wallet transaction posted",
		zap.String("account_id", acct.ID),
		zap.Int64("transaction_id", tx.ID),
		zap.String("type", string(tx.Type)),
		zap.String("amount", domain.FormatMinor(tx.Amount, tx.Currency)),
		zap.String("origin", p.Origin.Type+"/"+p.Origin.ID),
	)
	return tx, nil
}

func (uc *LedgerUsecase) lockAccount(ctx context.Context, r repository.Repository, accountID, currency string) (*domain.WalletAccount, error) {
	currency = domain.NormalizeCurrency(currency)
	if currency == "" {
		currency = uc.cfg.DefaultCurrency
	}
	acct, err := r.LockAccount(ctx, accountID, currency)
	if err != nil {
		return nil, err
	}
	if acct.Currency != currency {
		return nil, fmt.Errorf("%w: account %s holds %s, got %s", domain.ErrCurrencyMismatch, accountID, acct.Currency, currency)
	}
	return acct, nil
}

func (uc *LedgerUsecase) enqueuePosted(ctx context.Context, r repository.Repository, tx *domain.WalletTransaction, at time.Time) error {
	return events.Enqueue(ctx, r, domain.TopicLedgerPosted, tx.AccountID, ledgerPostedEvent{
		TransactionID: tx.ID,
		AccountID:     tx.AccountID,
		Amount:        tx.Amount,
		Currency:      tx.Currency,
		Type:          tx.Type,
		Status:        tx.Status,
		Origin:        tx.Origin,
	}, at)
}

// ============================================
// HOLDS
// ============================================

// Reserve places a hold of amount on the account and returns the hold's transaction id.
func (uc *LedgerUsecase) Reserve(ctx context.Context, accountID string, amount int64, currency string, origin domain.OriginRef) (int64, error) {
	seen := touched{}
	var holdID int64
	err := uc.store.InTx(ctx, func(r repository.Repository) error {
		var err error
		holdID, err = uc.reserveTx(ctx, r, seen, accountID, amount, currency, origin, uc.now())
		return err
	})
	if err != nil {
		return 0, err
	}
	uc.committed(ctx, seen)
	return holdID, nil
}

func (uc *LedgerUsecase) reserveTx(ctx context.Context, r repository.Repository, seen touched, accountID string, amount int64, currency string, origin domain.OriginRef, at time.Time) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("%w: hold amount must be positive", domain.ErrInvalidInput)
	}
	acct, err := uc.lockAccount(ctx, r, accountID, currency)
	if err != nil {
		return 0, err
	}
	seen.add(acct)

	bal, err := r.SumBalances(ctx, acct.ID)
	if err != nil {
		return 0, err
	}
	if amount > bal.Available() {
		return 0, fmt.Errorf("%w: requested %s, available %s", domain.ErrInsufficientBalance,
			domain.FormatMinor(amount, acct.Currency), domain.FormatMinor(bal.Available(), acct.Currency))
	}

	hold := &domain.WalletTransaction{
		AccountID:   acct.ID,
		Amount:      -amount,
		Currency:    acct.Currency,
		Type:        domain.TxWithdrawalDebit,
		Status:      domain.TxPending,
		Origin:      origin,
		Description: "withdrawal hold",
		CreatedAt:   at,
	}
	if err := r.InsertTransaction(ctx, hold); err != nil {
		return 0, err
	}
	acct.UpdatedAt = at
	if err := r.UpdateAccount(ctx, acct); err != nil {
		return 0, err
	}
	metrics.LedgerPostings.WithLabelValues(string(hold.Type), string(hold.Status)).Inc()
	return hold.ID, nil
}

// Release returns a held amount to the available balance.
func (uc *LedgerUsecase) Release(ctx context.Context, holdID int64) error {
	seen := touched{}
	err := uc.store.InTx(ctx, func(r repository.Repository) error {
		return uc.releaseTx(ctx, r, seen, holdID, uc.now())
	})
	if err != nil {
		return err
	}
	uc.committed(ctx, seen)
	return nil
}

func (uc *LedgerUsecase) releaseTx(ctx context.Context, r repository.Repository, seen touched, holdID int64, at time.Time) error {
	hold, acct, err := uc.lockHold(ctx, r, seen, holdID)
	if err != nil {
		return err
	}
	if err := r.ResolveTransaction(ctx, hold.ID, domain.TxFailed, hold.Amount, at); err != nil {
		return err
	}
	acct.UpdatedAt = at
	if err := r.UpdateAccount(ctx, acct); err != nil {
		return err
	}
	metrics.LedgerPostings.WithLabelValues(string(hold.Type), string(domain.TxFailed)).Inc()
	return nil
}

// Settle completes a hold for finalAmount, which may not exceed the held amount.
func (uc *LedgerUsecase) Settle(ctx context.Context, holdID, finalAmount int64) error {
	seen := touched{}
	err := uc.store.InTx(ctx, func(r repository.Repository) error {
		return uc.settleTx(ctx, r, seen, holdID, finalAmount, uc.now())
	})
	if err != nil {
		return err
	}
	uc.committed(ctx, seen)
	return nil
}

func (uc *LedgerUsecase) settleTx(ctx context.Context, r repository.Repository, seen touched, holdID, finalAmount int64, at time.Time) error {
	hold, acct, err := uc.lockHold(ctx, r, seen, holdID)
	if err != nil {
		return err
	}
	if finalAmount <= 0 || finalAmount > -hold.Amount {
		return fmt.Errorf("%w: settle amount %d outside (0, %d]", domain.ErrInvalidInput, finalAmount, -hold.Amount)
	}
	if err := r.ResolveTransaction(ctx, hold.ID, domain.TxCompleted, -finalAmount, at); err != nil {
		return err
	}
	acct.TotalWithdrawn += finalAmount
	acct.UpdatedAt = at
	if err := r.UpdateAccount(ctx, acct); err != nil {
		return err
	}

	hold.Amount = -finalAmount
	hold.Status = domain.TxCompleted
	hold.CompletedAt = &at
	if err := uc.enqueuePosted(ctx, r, hold, at); err != nil {
		return err
	}
	metrics.LedgerPostings.WithLabelValues(string(hold.Type), string(domain.TxCompleted)).Inc()
	return nil
}

// lockHold locks a pending hold and then its account.
func (uc *LedgerUsecase) lockHold(ctx context.Context, r repository.Repository, seen touched, holdID int64) (*domain.WalletTransaction, *domain.WalletAccount, error) {
	hold, err := r.GetTransactionForUpdate(ctx, holdID)
	if err != nil {
		return nil, nil, err
	}
	if hold.Type != domain.TxWithdrawalDebit {
		return nil, nil, fmt.Errorf("%w: transaction %d is not a hold", domain.ErrInvalidInput, holdID)
	}
	if hold.Status != domain.TxPending {
		return nil, nil, fmt.Errorf("hold %d: %w", holdID, domain.ErrAlreadyResolved)
	}
	acct, err := r.LockAccount(ctx, hold.AccountID, hold.Currency)
	if err != nil {
		return nil, nil, err
	}
	seen.add(acct)
	return hold, acct, nil
}

// ============================================
// READS
// ============================================

// GetBalance derives the account's balances, served from cache when the
// account version has not moved.
func (uc *LedgerUsecase) GetBalance(ctx context.Context, accountID string) (domain.Balances, error) {
	acct, err := uc.store.GetAccount(ctx, accountID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Balances{}, nil
		}
		return domain.Balances{}, err
	}
	return uc.balances(ctx, acct)
}

func (uc *LedgerUsecase) balances(ctx context.Context, acct *domain.WalletAccount) (domain.Balances, error) {
	if b, ok := uc.cache.Get(ctx, acct.ID, acct.Version); ok {
		return b, nil
	}
	b, err := uc.store.SumBalances(ctx, acct.ID)
	if err != nil {
		return domain.Balances{}, err
	}
	uc.cache.Set(ctx, acct.ID, acct.Version, b)
	return b, nil
}

func (uc *LedgerUsecase) GetWalletStats(ctx context.Context, accountID string) (*domain.WalletStats, error) {
	stats := &domain.WalletStats{
		AccountID:          accountID,
		Currency:           uc.cfg.DefaultCurrency,
		RecentTransactions: []domain.WalletTransaction{},
	}

	acct, err := uc.store.GetAccount(ctx, accountID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return stats, nil
		}
		return nil, err
	}
	b, err := uc.balances(ctx, acct)
	if err != nil {
		return nil, err
	}
	recent, _, err := uc.store.ListTransactions(ctx, accountID, domain.Page{Limit: uc.cfg.RecentTxLimit})
	if err != nil {
		return nil, err
	}

	stats.Currency = acct.Currency
	stats.Balance = b.Completed
	stats.PendingBalance = b.Held
	stats.Available = b.Available()
	stats.TotalEarned = acct.TotalEarned
	stats.TotalWithdrawn = acct.TotalWithdrawn
	if recent != nil {
		stats.RecentTransactions = recent
	}
	return stats, nil
}

func (uc *LedgerUsecase) ListTransactions(ctx context.Context, accountID string, page domain.Page) ([]domain.WalletTransaction, int, error) {
	txs, total, err := uc.store.ListTransactions(ctx, accountID, page)
	if err != nil {
		return nil, 0, err
	}
	if txs == nil {
		txs = []domain.WalletTransaction{}
	}
	return txs, total, nil
}

// committed drops stale cache entries and pushes fresh stats for every account
// the finished transaction wrote. Failures here are logged only.
func (uc *LedgerUsecase) committed(ctx context.Context, seen touched) {
	for accountID, before := range seen {
		acct, err := uc.store.GetAccount(ctx, accountID)
		if err != nil {
			uc.logger.Warn("reload account after commit", zap.String("account_id", accountID), zap.Error(err))
			continue
		}
		for v := before; v < acct.Version; v++ {
			uc.cache.Invalidate(ctx, accountID, v)
		}
		stats, err := uc.GetWalletStats(ctx, accountID)
		if err != nil {
			uc.logger.Warn("load wallet stats after commit", zap.String("account_id", accountID), zap.Error(err))
			continue
		}
		uc.notifier.NotifyBalance(ctx, stats)
	}
}
