// internal/repository/repository.go
package repository

import (
	"context"
	"errors"
	"time"

	"settlement-service/internal/domain"
)

// ErrLeaseLost is returned when a reservation was taken over by another caller.
var ErrLeaseLost = errors.New("payment attempt lease lost")

type EntityRepository interface {
	CreateEntity(ctx context.Context, p domain.Payable) error
	GetEntity(ctx context.Context, ref domain.EntityRef) (domain.Payable, error)
	GetEntityForUpdate(ctx context.Context, ref domain.EntityRef) (domain.Payable, error)
	// UpdateEntity writes p if its version still matches and bumps the version.
	UpdateEntity(ctx context.Context, p domain.Payable) error
	AppendHistory(ctx context.Context, change *domain.StatusChange) error
	ListHistory(ctx context.Context, ref domain.EntityRef) ([]domain.StatusChange, error)
	ListDueForExpiry(ctx context.Context, now time.Time, limit int) ([]domain.EntityRef, error)
	ListStaleDisputes(ctx context.Context, disputedBefore time.Time, limit int) ([]domain.EntityRef, error)
}

type AttemptRepository interface {
	GetAttemptByCharge(ctx context.Context, chargeID string) (*domain.PaymentAttempt, error)
	// ReserveAttempt inserts a reserved attempt and reports false if the charge id already exists.
	ReserveAttempt(ctx context.Context, a *domain.PaymentAttempt) (bool, error)
	// TakeOverAttempt swaps an expired lease for a new one.
	TakeOverAttempt(ctx context.Context, chargeID, oldToken, newToken string, expiresAt time.Time) (bool, error)
	ReleaseAttempt(ctx context.Context, chargeID, token string) error
	// FinalizeAttempt records a terminal outcome, failing with ErrLeaseLost if the token no longer owns it.
	FinalizeAttempt(ctx context.Context, a *domain.PaymentAttempt) error
	ListAttempts(ctx context.Context, ref domain.EntityRef) ([]domain.PaymentAttempt, error)
}

type LedgerRepository interface {
	// LockAccount opens the account on first use and locks its row until the transaction ends.
	LockAccount(ctx context.Context, accountID, currency string) (*domain.WalletAccount, error)
	GetAccount(ctx context.Context, accountID string) (*domain.WalletAccount, error)
	UpdateAccount(ctx context.Context, acct *domain.WalletAccount) error
	InsertTransaction(ctx context.Context, tx *domain.WalletTransaction) error
	GetTransactionForUpdate(ctx context.Context, id int64) (*domain.WalletTransaction, error)
	// ResolveTransaction moves a pending transaction to completed or failed.
	ResolveTransaction(ctx context.Context, id int64, status domain.TxStatus, amount int64, at time.Time) error
	SumBalances(ctx context.Context, accountID string) (domain.Balances, error)
	SumByOrigin(ctx context.Context, accountID string, origin domain.OriginRef) (int64, error)
	ListTransactions(ctx context.Context, accountID string, page domain.Page) ([]domain.WalletTransaction, int, error)
}

type WithdrawalRepository interface {
	CreateWithdrawal(ctx context.Context, w *domain.WithdrawalRequest) error
	GetWithdrawal(ctx context.Context, id string) (*domain.WithdrawalRequest, error)
	GetWithdrawalForUpdate(ctx context.Context, id string) (*domain.WithdrawalRequest, error)
	GetWithdrawalByKey(ctx context.Context, accountID, key string) (*domain.WithdrawalRequest, error)
	UpdateWithdrawal(ctx context.Context, w *domain.WithdrawalRequest) error
	ListWithdrawals(ctx context.Context, f domain.WithdrawalFilter, page domain.Page) ([]domain.WithdrawalRequest, int, error)
}

type OutboxRepository interface {
	EnqueueOutbox(ctx context.Context, msg *domain.OutboxMessage) error
	// ClaimOutbox locks up to limit unpublished rows; call it inside InTx.
	ClaimOutbox(ctx context.Context, limit int) ([]domain.OutboxMessage, error)
	MarkOutboxPublished(ctx context.Context, ids []int64, at time.Time) error
	MarkOutboxFailed(ctx context.Context, ids []int64) error
}

type Repository interface {
	EntityRepository
	AttemptRepository
	LedgerRepository
	WithdrawalRepository
	OutboxRepository
}

// Store is a Repository that can also run a function atomically.
type Store interface {
	Repository
	InTx(ctx context.Context, fn func(r Repository) error) error
	Ping(ctx context.Context) error
	Close()
}
