// internal/repository/memory/state.go
package memory

import (
	"sort"
	"time"

	"settlement-service/internal/domain"
)

type state struct {
	entities    map[string]domain.Payable
	history     []domain.StatusChange
	attempts    map[string]*domain.PaymentAttempt
	accounts    map[string]*domain.WalletAccount
	txs         []domain.WalletTransaction
	withdrawals map[string]*domain.WithdrawalRequest
	outbox      []domain.OutboxMessage
}

func newState() *state {
	return &state{
		entities:    map[string]domain.Payable{},
		attempts:    map[string]*domain.PaymentAttempt{},
		accounts:    map[string]*domain.WalletAccount{},
		withdrawals: map[string]*domain.WithdrawalRequest{},
	}
}

// clone copies everything a transaction may mutate so a failed InTx can be discarded.
func (s *state) clone() *state {
	c := &state{
		entities:    make(map[string]domain.Payable, len(s.entities)),
		history:     append([]domain.StatusChange(nil), s.history...),
		attempts:    make(map[string]*domain.PaymentAttempt, len(s.attempts)),
		accounts:    make(map[string]*domain.WalletAccount, len(s.accounts)),
		txs:         make([]domain.WalletTransaction, len(s.txs)),
		withdrawals: make(map[string]*domain.WithdrawalRequest, len(s.withdrawals)),
		outbox:      make([]domain.OutboxMessage, len(s.outbox)),
	}
	for k, v := range s.entities {
		c.entities[k] = domain.Clone(v)
	}
	for k, v := range s.attempts {
		c.attempts[k] = copyAttempt(v)
	}
	for k, v := range s.accounts {
		a := *v
		c.accounts[k] = &a
	}
	for i, t := range s.txs {
		t.CompletedAt = copyTime(t.CompletedAt)
		c.txs[i] = t
	}
	for k, v := range s.withdrawals {
		c.withdrawals[k] = copyWithdrawal(v)
	}
	for i, m := range s.outbox {
		m.PublishedAt = copyTime(m.PublishedAt)
		c.outbox[i] = m
	}
	return c
}

func entityKey(ref domain.EntityRef) string { return ref.String() }

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func copyAttempt(a *domain.PaymentAttempt) *domain.PaymentAttempt {
	c := *a
	c.LeaseExpiresAt = copyTime(a.LeaseExpiresAt)
	c.AppliedAt = copyTime(a.AppliedAt)
	return &c
}

func copyWithdrawal(w *domain.WithdrawalRequest) *domain.WithdrawalRequest {
	c := *w
	c.ProcessedAt = copyTime(w.ProcessedAt)
	return &c
}

func sortedRefs(refs []domain.EntityRef, key func(domain.EntityRef) time.Time) []domain.EntityRef {
	sort.SliceStable(refs, func(i, j int) bool { return key(refs[i]).Before(key(refs[j])) })
	return refs
}
