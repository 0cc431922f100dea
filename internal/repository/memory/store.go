// internal/repository/memory/store.go
package memory

import (
	"context"
	"sync"
	"time"

	"settlement-service/internal/domain"
	"settlement-service/internal/repository"
)

// Store is an in-process repository.Store used by tests and STORE_DRIVER=memory.
// InTx serializes all transactions and commits by swapping in a mutated snapshot.
type Store struct {
	mu  sync.Mutex
	st  *state
	now func() time.Time
}

var _ repository.Store = (*Store)(nil)

func New() *Store {
	return &Store{st: newState(), now: func() time.Time { return time.Now().UTC() }}
}

// WithClock replaces the clock used for lease expiry checks.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func (s *Store) InTx(ctx context.Context, fn func(r repository.Repository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}

	snapshot := s.st.clone()
	if err := fn(&repo{st: snapshot, now: s.now}); err != nil {
		return err
	}
	s.st = snapshot
	return nil
}

func (s *Store) Ping(ctx context.Context) error { return nil }

func (s *Store) Close() {}

func (s *Store) do(fn func(r *repo) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&repo{st: s.st, now: s.now})
}

func (s *Store) CreateEntity(ctx context.Context, p domain.Payable) error {
	return s.do(func(r *repo) error { return r.CreateEntity(ctx, p) })
}

func (s *Store) GetEntity(ctx context.Context, ref domain.EntityRef) (p domain.Payable, err error) {
	err = s.do(func(r *repo) error { p, err = r.GetEntity(ctx, ref); return err })
	return p, err
}

func (s *Store) GetEntityForUpdate(ctx context.Context, ref domain.EntityRef) (domain.Payable, error) {
	return s.GetEntity(ctx, ref)
}

func (s *Store) UpdateEntity(ctx context.Context, p domain.Payable) error {
	return s.do(func(r *repo) error { return r.UpdateEntity(ctx, p) })
}

func (s *Store) AppendHistory(ctx context.Context, c *domain.StatusChange) error {
	return s.do(func(r *repo) error { return r.AppendHistory(ctx, c) })
}

func (s *Store) ListHistory(ctx context.Context, ref domain.EntityRef) (out []domain.StatusChange, err error) {
	err = s.do(func(r *repo) error { out, err = r.ListHistory(ctx, ref); return err })
	return out, err
}

func (s *Store) ListDueForExpiry(ctx context.Context, now time.Time, limit int) (out []domain.EntityRef, err error) {
	err = s.do(func(r *repo) error { out, err = r.ListDueForExpiry(ctx, now, limit); return err })
	return out, err
}

func (s *Store) ListStaleDisputes(ctx context.Context, before time.Time, limit int) (out []domain.EntityRef, err error) {
	err = s.do(func(r *repo) error { out, err = r.ListStaleDisputes(ctx, before, limit); return err })
	return out, err
}

func (s *Store) GetAttemptByCharge(ctx context.Context, chargeID string) (a *domain.PaymentAttempt, err error) {
	err = s.do(func(r *repo) error { a, err = r.GetAttemptByCharge(ctx, chargeID); return err })
	return a, err
}

func (s *Store) ReserveAttempt(ctx context.Context, a *domain.PaymentAttempt) (ok bool, err error) {
	err = s.do(func(r *repo) error { ok, err = r.ReserveAttempt(ctx, a); return err })
	return ok, err
}

func (s *Store) TakeOverAttempt(ctx context.Context, chargeID, oldToken, newToken string, expiresAt time.Time) (ok bool, err error) {
	err = s.do(func(r *repo) error { ok, err = r.TakeOverAttempt(ctx, chargeID, oldToken, newToken, expiresAt); return err })
	return ok, err
}

func (s *Store) ReleaseAttempt(ctx context.Context, chargeID, token string) error {
	return s.do(func(r *repo) error { return r.ReleaseAttempt(ctx, chargeID, token) })
}

func (s *Store) FinalizeAttempt(ctx context.Context, a *domain.PaymentAttempt) error {
	return s.do(func(r *repo) error { return r.FinalizeAttempt(ctx, a) })
}

func (s *Store) ListAttempts(ctx context.Context, ref domain.EntityRef) (out []domain.PaymentAttempt, err error) {
	err = s.do(func(r *repo) error { out, err = r.ListAttempts(ctx, ref); return err })
	return out, err
}

func (s *Store) LockAccount(ctx context.Context, accountID, currency string) (a *domain.WalletAccount, err error) {
	err = s.do(func(r *repo) error { a, err = r.LockAccount(ctx, accountID, currency); return err })
	return a, err
}

func (s *Store) GetAccount(ctx context.Context, accountID string) (a *domain.WalletAccount, err error) {
	err = s.do(func(r *repo) error { a, err = r.GetAccount(ctx, accountID); return err })
	return a, err
}

func (s *Store) UpdateAccount(ctx context.Context, acct *domain.WalletAccount) error {
	return s.do(func(r *repo) error { return r.UpdateAccount(ctx, acct) })
}

func (s *Store) InsertTransaction(ctx context.Context, t *domain.WalletTransaction) error {
	return s.do(func(r *repo) error { return r.InsertTransaction(ctx, t) })
}

func (s *Store) GetTransactionForUpdate(ctx context.Context, id int64) (t *domain.WalletTransaction, err error) {
	err = s.do(func(r *repo) error { t, err = r.GetTransactionForUpdate(ctx, id); return err })
	return t, err
}

func (s *Store) ResolveTransaction(ctx context.Context, id int64, status domain.TxStatus, amount int64, at time.Time) error {
	return s.do(func(r *repo) error { return r.ResolveTransaction(ctx, id, status, amount, at) })
}

func (s *Store) SumBalances(ctx context.Context, accountID string) (b domain.Balances, err error) {
	err = s.do(func(r *repo) error { b, err = r.SumBalances(ctx, accountID); return err })
	return b, err
}

func (s *Store) SumByOrigin(ctx context.Context, accountID string, origin domain.OriginRef) (sum int64, err error) {
	err = s.do(func(r *repo) error { sum, err = r.SumByOrigin(ctx, accountID, origin); return err })
	return sum, err
}

func (s *Store) ListTransactions(ctx context.Context, accountID string, page domain.Page) (out []domain.WalletTransaction, total int, err error) {
	err = s.do(func(r *repo) error { out, total, err = r.ListTransactions(ctx, accountID, page); return err })
	return out, total, err
}

func (s *Store) CreateWithdrawal(ctx context.Context, w *domain.WithdrawalRequest) error {
	return s.do(func(r *repo) error { return r.CreateWithdrawal(ctx, w) })
}

func (s *Store) GetWithdrawal(ctx context.Context, id string) (w *domain.WithdrawalRequest, err error) {
	err = s.do(func(r *repo) error { w, err = r.GetWithdrawal(ctx, id); return err })
	return w, err
}

func (s *Store) GetWithdrawalForUpdate(ctx context.Context, id string) (*domain.WithdrawalRequest, error) {
	return s.GetWithdrawal(ctx, id)
}

func (s *Store) GetWithdrawalByKey(ctx context.Context, accountID, key string) (w *domain.WithdrawalRequest, err error) {
	err = s.do(func(r *repo) error { w, err = r.GetWithdrawalByKey(ctx, accountID, key); return err })
	return w, err
}

func (s *Store) UpdateWithdrawal(ctx context.Context, w *domain.WithdrawalRequest) error {
	return s.do(func(r *repo) error { return r.UpdateWithdrawal(ctx, w) })
}

func (s *Store) ListWithdrawals(ctx context.Context, f domain.WithdrawalFilter, page domain.Page) (out []domain.WithdrawalRequest, total int, err error) {
	err = s.do(func(r *repo) error { out, total, err = r.ListWithdrawals(ctx, f, page); return err })
	return out, total, err
}

func (s *Store) EnqueueOutbox(ctx context.Context, msg *domain.OutboxMessage) error {
	return s.do(func(r *repo) error { return r.EnqueueOutbox(ctx, msg) })
}

func (s *Store) ClaimOutbox(ctx context.Context, limit int) (out []domain.OutboxMessage, err error) {
	err = s.do(func(r *repo) error { out, err = r.ClaimOutbox(ctx, limit); return err })
	return out, err
}

func (s *Store) MarkOutboxPublished(ctx context.Context, ids []int64, at time.Time) error {
	return s.do(func(r *repo) error { return r.MarkOutboxPublished(ctx, ids, at) })
}

func (s *Store) MarkOutboxFailed(ctx context.Context, ids []int64) error {
	return s.do(func(r *repo) error { return r.MarkOutboxFailed(ctx, ids) })
}
