// internal/repository/memory/repo.go
package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"settlement-service/internal/domain"
	"settlement-service/internal/repository"
)

// repo implements repository.Repository over a state snapshot. Callers hold the store lock.
type repo struct {
	st  *state
	now func() time.Time
}

var _ repository.Repository = (*repo)(nil)

// ============================================
// ENTITIES
// ============================================

func (r *repo) CreateEntity(ctx context.Context, p domain.Payable) error {
	base := p.Base()
	if !domain.ValidStatus(base.Kind, base.Status) {
		return fmt.Errorf("%w: status %q is not valid for %s", domain.ErrInvalidTransition, base.Status, base.Kind)
	}
	key := entityKey(base.Ref())
	if _, ok := r.st.entities[key]; ok {
		return fmt.Errorf("%w: entity %s already exists", domain.ErrInvalidInput, base.ID)
	}
	for _, e := range r.st.entities {
		if e.Base().ID == base.ID {
			return fmt.Errorf("%w: entity %s already exists", domain.ErrInvalidInput, base.ID)
		}
	}
	base.Version = 1
	base.UpdatedAt = base.CreatedAt
	r.st.entities[key] = domain.Clone(p)
	return nil
}

func (r *repo) GetEntity(ctx context.Context, ref domain.EntityRef) (domain.Payable, error) {
	p, ok := r.st.entities[entityKey(ref)]
	if !ok {
		return nil, fmt.Errorf("get entity %s: %w", ref, domain.ErrNotFound)
	}
	return domain.Clone(p), nil
}

func (r *repo) GetEntityForUpdate(ctx context.Context, ref domain.EntityRef) (domain.Payable, error) {
	return r.GetEntity(ctx, ref)
}

func (r *repo) UpdateEntity(ctx context.Context, p domain.Payable) error {
	base := p.Base()
	if !domain.ValidStatus(base.Kind, base.Status) {
		return fmt.Errorf("%w: status %q is not valid for %s", domain.ErrInvalidTransition, base.Status, base.Kind)
	}
	key := entityKey(base.Ref())
	cur, ok := r.st.entities[key]
	if !ok {
		return fmt.Errorf("update entity %s: %w", base.ID, domain.ErrNotFound)
	}
	if cur.Base().Version != base.Version {
		return fmt.Errorf("update entity %s: %w", base.ID, domain.ErrConcurrentUpdate)
	}
	base.Version++
	r.st.entities[key] = domain.Clone(p)
	return nil
}

func (r *repo) AppendHistory(ctx context.Context, c *domain.StatusChange) error {
	c.ID = int64(len(r.st.history) + 1)
	r.st.history = append(r.st.history, *c)
	return nil
}

func (r *repo) ListHistory(ctx context.Context, ref domain.EntityRef) ([]domain.StatusChange, error) {
	var out []domain.StatusChange
	for _, c := range r.st.history {
		if c.EntityID == ref.ID && c.EntityKind == ref.Kind {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *repo) ListDueForExpiry(ctx context.Context, now time.Time, limit int) ([]domain.EntityRef, error) {
	var refs []domain.EntityRef
	until := map[domain.EntityRef]time.Time{}
	for _, p := range r.st.entities {
		rn, ok := p.(domain.Renewable)
		if !ok || p.Base().Status != domain.StatusActive {
			continue
		}
		t := rn.PurchaseTerm()
		if t.ValidUntil != nil && !t.ValidUntil.After(now) {
			ref := p.Base().Ref()
			refs = append(refs, ref)
			until[ref] = *t.ValidUntil
		}
	}
	refs = sortedRefs(refs, func(ref domain.EntityRef) time.Time { return until[ref] })
	return limitRefs(refs, limit), nil
}

func (r *repo) ListStaleDisputes(ctx context.Context, disputedBefore time.Time, limit int) ([]domain.EntityRef, error) {
	var refs []domain.EntityRef
	since := map[domain.EntityRef]time.Time{}
	for _, p := range r.st.entities {
		o, ok := p.(*domain.Order)
		if !ok || o.Status != domain.StatusDisputed || o.EscalatedAt != nil || o.DisputedAt == nil {
			continue
		}
		if !o.DisputedAt.After(disputedBefore) {
			refs = append(refs, o.Ref())
			since[o.Ref()] = *o.DisputedAt
		}
	}
	refs = sortedRefs(refs, func(ref domain.EntityRef) time.Time { return since[ref] })
	return limitRefs(refs, limit), nil
}

func limitRefs(refs []domain.EntityRef, limit int) []domain.EntityRef {
	if limit > 0 && len(refs) > limit {
		return refs[:limit]
	}
	return refs
}

// ============================================
// PAYMENT ATTEMPTS
// ============================================

func (r *repo) GetAttemptByCharge(ctx context.Context, chargeID string) (*domain.PaymentAttempt, error) {
	a, ok := r.st.attempts[chargeID]
	if !ok {
		return nil, fmt.Errorf("get attempt %s: %w", chargeID, domain.ErrNotFound)
	}
	return copyAttempt(a), nil
}

func (r *repo) ReserveAttempt(ctx context.Context, a *domain.PaymentAttempt) (bool, error) {
	if _, ok := r.st.attempts[a.ExternalChargeID]; ok {
		return false, nil
	}
	if _, ok := r.st.entities[entityKey(a.Ref())]; !ok {
		return false, fmt.Errorf("reserve attempt: entity %s: %w", a.Ref(), domain.ErrNotFound)
	}
	a.State = domain.AttemptReserved
	a.UpdatedAt = a.CreatedAt
	r.st.attempts[a.ExternalChargeID] = copyAttempt(a)
	return true, nil
}

func (r *repo) TakeOverAttempt(ctx context.Context, chargeID, oldToken, newToken string, expiresAt time.Time) (bool, error) {
	a, ok := r.st.attempts[chargeID]
	if !ok || a.State != domain.AttemptReserved || a.LeaseToken != oldToken || a.LeaseLive(r.now()) {
		return false, nil
	}
	a.LeaseToken = newToken
	a.LeaseExpiresAt = &expiresAt
	a.UpdatedAt = r.now()
	return true, nil
}

func (r *repo) ReleaseAttempt(ctx context.Context, chargeID, token string) error {
	if a, ok := r.st.attempts[chargeID]; ok && a.State == domain.AttemptReserved && a.LeaseToken == token {
		delete(r.st.attempts, chargeID)
	}
	return nil
}

func (r *repo) FinalizeAttempt(ctx context.Context, a *domain.PaymentAttempt) error {
	cur, ok := r.st.attempts[a.ExternalChargeID]
	if !ok || cur.State != domain.AttemptReserved || cur.LeaseToken != a.LeaseToken {
		return repository.ErrLeaseLost
	}
	if a.State == domain.AttemptApplied && a.EntityKind == domain.KindOrder {
		for _, other := range r.st.attempts {
			if other.EntityID == a.EntityID && other.State == domain.AttemptApplied {
				return fmt.Errorf("finalize attempt %s: %w", a.ExternalChargeID, domain.ErrInvalidTransition)
			}
		}
	}
	a.LeaseToken = ""
	a.LeaseExpiresAt = nil
	r.st.attempts[a.ExternalChargeID] = copyAttempt(a)
	return nil
}

func (r *repo) ListAttempts(ctx context.Context, ref domain.EntityRef) ([]domain.PaymentAttempt, error) {
	var out []domain.PaymentAttempt
	for _, a := range r.st.attempts {
		if a.EntityID == ref.ID && a.EntityKind == ref.Kind {
			out = append(out, *copyAttempt(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ============================================
// LEDGER
// ============================================

func (r *repo) LockAccount(ctx context.Context, accountID, currency string) (*domain.WalletAccount, error) {
	a, ok := r.st.accounts[accountID]
	if !ok {
		now := r.now()
		a = &domain.WalletAccount{ID: accountID, Currency: currency, Version: 1, CreatedAt: now, UpdatedAt: now}
		r.st.accounts[accountID] = a
	}
	c := *a
	return &c, nil
}

func (r *repo) GetAccount(ctx context.Context, accountID string) (*domain.WalletAccount, error) {
	a, ok := r.st.accounts[accountID]
	if !ok {
		return nil, fmt.Errorf("get account %s: %w", accountID, domain.ErrNotFound)
	}
	c := *a
	return &c, nil
}

func (r *repo) UpdateAccount(ctx context.Context, acct *domain.WalletAccount) error {
	cur, ok := r.st.accounts[acct.ID]
	if !ok {
		return fmt.Errorf("update account %s: %w", acct.ID, domain.ErrNotFound)
	}
	if cur.Version != acct.Version {
		return fmt.Errorf("update account %s: %w", acct.ID, domain.ErrConcurrentUpdate)
	}
	cur.TotalEarned = acct.TotalEarned
	cur.TotalWithdrawn = acct.TotalWithdrawn
	cur.UpdatedAt = acct.UpdatedAt
	cur.Version++
	acct.Version = cur.Version
	return nil
}

func (r *repo) InsertTransaction(ctx context.Context, t *domain.WalletTransaction) error {
	if _, ok := r.st.accounts[t.AccountID]; !ok {
		return fmt.Errorf("insert wallet transaction: account %s: %w", t.AccountID, domain.ErrNotFound)
	}
	if t.Amount == 0 {
		return fmt.Errorf("%w: zero-amount wallet transaction", domain.ErrInvalidInput)
	}
	t.ID = int64(len(r.st.txs) + 1)
	c := *t
	c.CompletedAt = copyTime(t.CompletedAt)
	r.st.txs = append(r.st.txs, c)
	return nil
}

func (r *repo) txByID(id int64) (*domain.WalletTransaction, bool) {
	if id < 1 || int(id) > len(r.st.txs) {
		return nil, false
	}
	return &r.st.txs[id-1], true
}

func (r *repo) GetTransactionForUpdate(ctx context.Context, id int64) (*domain.WalletTransaction, error) {
	t, ok := r.txByID(id)
	if !ok {
		return nil, fmt.Errorf("get wallet transaction %d: %w", id, domain.ErrNotFound)
	}
	c := *t
	c.CompletedAt = copyTime(t.CompletedAt)
	return &c, nil
}

func (r *repo) ResolveTransaction(ctx context.Context, id int64, status domain.TxStatus, amount int64, at time.Time) error {
	t, ok := r.txByID(id)
	if !ok {
		return fmt.Errorf("resolve wallet transaction %d: %w", id, domain.ErrNotFound)
	}
	if t.Status != domain.TxPending {
		return fmt.Errorf("resolve wallet transaction %d: %w", id, domain.ErrAlreadyResolved)
	}
	t.Status = status
	t.Amount = amount
	t.CompletedAt = &at
	return nil
}

func (r *repo) SumBalances(ctx context.Context, accountID string) (domain.Balances, error) {
	var b domain.Balances
	for _, t := range r.st.txs {
		if t.AccountID != accountID {
			continue
		}
		switch {
		case t.Status == domain.TxCompleted:
			b.Completed += t.Amount
		case t.Status == domain.TxPending && t.Amount < 0:
			b.Held -= t.Amount
		}
	}
	return b, nil
}

func (r *repo) SumByOrigin(ctx context.Context, accountID string, origin domain.OriginRef) (int64, error) {
	var sum int64
	for _, t := range r.st.txs {
		if t.AccountID == accountID && t.Origin == origin && t.Status == domain.TxCompleted {
			sum += t.Amount
		}
	}
	return sum, nil
}

func (r *repo) ListTransactions(ctx context.Context, accountID string, page domain.Page) ([]domain.WalletTransaction, int, error) {
	page = page.Normalize()
	var all []domain.WalletTransaction
	for i := len(r.st.txs) - 1; i >= 0; i-- {
		if r.st.txs[i].AccountID == accountID {
			all = append(all, r.st.txs[i])
		}
	}
	return window(all, page), len(all), nil
}

// ============================================
// WITHDRAWALS
// ============================================

func (r *repo) CreateWithdrawal(ctx context.Context, w *domain.WithdrawalRequest) error {
	if _, ok := r.st.withdrawals[w.ID]; ok {
		return fmt.Errorf("%w: withdrawal %s already exists", domain.ErrInvalidInput, w.ID)
	}
	if w.IdempotencyKey != "" {
		for _, other := range r.st.withdrawals {
			if other.AccountID == w.AccountID && other.IdempotencyKey == w.IdempotencyKey {
				return fmt.Errorf("create withdrawal: %w", domain.ErrIdempotencyConflict)
			}
		}
	}
	w.UpdatedAt = w.CreatedAt
	r.st.withdrawals[w.ID] = copyWithdrawal(w)
	return nil
}

func (r *repo) GetWithdrawal(ctx context.Context, id string) (*domain.WithdrawalRequest, error) {
	w, ok := r.st.withdrawals[id]
	if !ok {
		return nil, fmt.Errorf("get withdrawal %s: %w", id, domain.ErrNotFound)
	}
	return copyWithdrawal(w), nil
}

func (r *repo) GetWithdrawalForUpdate(ctx context.Context, id string) (*domain.WithdrawalRequest, error) {
	return r.GetWithdrawal(ctx, id)
}

func (r *repo) GetWithdrawalByKey(ctx context.Context, accountID, key string) (*domain.WithdrawalRequest, error) {
	for _, w := range r.st.withdrawals {
		if w.AccountID == accountID && w.IdempotencyKey == key {
			return copyWithdrawal(w), nil
		}
	}
	return nil, fmt.Errorf("get withdrawal by key: %w", domain.ErrNotFound)
}

func (r *repo) UpdateWithdrawal(ctx context.Context, w *domain.WithdrawalRequest) error {
	if _, ok := r.st.withdrawals[w.ID]; !ok {
		return fmt.Errorf("update withdrawal %s: %w", w.ID, domain.ErrNotFound)
	}
	r.st.withdrawals[w.ID] = copyWithdrawal(w)
	return nil
}

func (r *repo) ListWithdrawals(ctx context.Context, f domain.WithdrawalFilter, page domain.Page) ([]domain.WithdrawalRequest, int, error) {
	page = page.Normalize()
	var all []domain.WithdrawalRequest
	for _, w := range r.st.withdrawals {
		if f.AccountID != "" && w.AccountID != f.AccountID {
			continue
		}
		if f.Status != "" && w.Status != f.Status {
			continue
		}
		all = append(all, *copyWithdrawal(w))
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID > all[j].ID
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	return window(all, page), len(all), nil
}

// ============================================
// OUTBOX
// ============================================

func (r *repo) EnqueueOutbox(ctx context.Context, msg *domain.OutboxMessage) error {
	msg.ID = int64(len(r.st.outbox) + 1)
	r.st.outbox = append(r.st.outbox, *msg)
	return nil
}

func (r *repo) ClaimOutbox(ctx context.Context, limit int) ([]domain.OutboxMessage, error) {
	var out []domain.OutboxMessage
	for _, m := range r.st.outbox {
		if m.PublishedAt == nil {
			out = append(out, m)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (r *repo) MarkOutboxPublished(ctx context.Context, ids []int64, at time.Time) error {
	for _, id := range ids {
		if id >= 1 && int(id) <= len(r.st.outbox) {
			t := at
			r.st.outbox[id-1].PublishedAt = &t
		}
	}
	return nil
}

func (r *repo) MarkOutboxFailed(ctx context.Context, ids []int64) error {
	for _, id := range ids {
		if id >= 1 && int(id) <= len(r.st.outbox) {
			r.st.outbox[id-1].Attempts++
		}
	}
	return nil
}

func window[T any](all []T, page domain.Page) []T {
	if page.Offset >= len(all) {
		return []T{}
	}
	end := page.Offset + page.Limit
	if end > len(all) {
		end = len(all)
	}
	return all[page.Offset:end]
}
