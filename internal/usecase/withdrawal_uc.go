// internal/usecase/withdrawal_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"settlement-service/config"
	"settlement-service/internal/domain"
	"settlement-service/internal/events"
	"settlement-service/internal/metrics"
	"settlement-service/internal/repository"
	"settlement-service/pkg/id"

	"go.uber.org/zap"
)

type WithdrawalInput struct {
	AccountID      string
	Amount         int64
	Currency       string
	IdempotencyKey string
}

type withdrawalEvent struct {
	WithdrawalID    string                  `json:"withdrawal_id"`
	AccountID       string                  `json:"account_id"`
	Amount          int64                   `json:"amount"`
	Currency        string                  `json:"currency"`
	Status          domain.WithdrawalStatus `json:"status"`
	ProcessedBy     string                  `json:"processed_by,omitempty"`
	RejectionReason string                  `json:"rejection_reason,omitempty"`
}

type WithdrawalUsecase struct {
	store  repository.Store
	ledger *LedgerUsecase
	cfg    config.LedgerConfig
	logger *zap.Logger
	now    func() time.Time
}

func NewWithdrawalUsecase(store repository.Store, ledger *LedgerUsecase, cfg config.LedgerConfig, logger *zap.Logger) *WithdrawalUsecase {
	if cfg.DefaultCurrency == "" {
		cfg.DefaultCurrency = domain.DefaultCurrency
	}
	return &WithdrawalUsecase{
		store:  store,
		ledger: ledger,
		cfg:    cfg,
		logger: logger.Named("withdrawal"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Request places the hold and records the request in one transaction. The request
// leaves pending once the hold commits, so callers see it in processing. A
// repeated idempotency key returns the original request.
func (uc *WithdrawalUsecase) Request(ctx context.Context, in WithdrawalInput) (*domain.WithdrawalRequest, error) {
	in.AccountID = strings.TrimSpace(in.AccountID)
	in.IdempotencyKey = strings.TrimSpace(in.IdempotencyKey)
	in.Currency = domain.NormalizeCurrency(in.Currency)
	if in.Currency == "" {
		in.Currency = uc.cfg.DefaultCurrency
	}
	if in.AccountID == "" {
		return nil, fmt.Errorf("%w: account_id is required", domain.ErrInvalidInput)
	}
	if in.Amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", domain.ErrInvalidInput)
	}
	if in.Amount < uc.cfg.MinWithdrawal {
		return nil, fmt.Errorf("%w: minimum withdrawal is %s", domain.ErrInvalidInput,
			domain.FormatMinor(uc.cfg.MinWithdrawal, in.Currency))
	}

	if in.IdempotencyKey != "" {
		if w, err := uc.replay(ctx, in); err == nil || !errors.Is(err, domain.ErrNotFound) {
			return w, err
		}
	}

	seen := touched{}
	now := uc.now()
	w := &domain.WithdrawalRequest{
		ID:             id.New("wd"),
		AccountID:      in.AccountID,
		Amount:         in.Amount,
		Currency:       in.Currency,
		Status:         domain.WithdrawalPending,
		IdempotencyKey: in.IdempotencyKey,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	err := uc.store.InTx(ctx, func(r repository.Repository) error {
		// the account lock serializes requests for one account, so a duplicate key
		// committed by a concurrent caller is visible here
		if w.IdempotencyKey != "" {
			if _, err := uc.ledger.lockAccount(ctx, r, w.AccountID, w.Currency); err != nil {
				return err
			}
			_, err := r.GetWithdrawalByKey(ctx, w.AccountID, w.IdempotencyKey)
			if err == nil {
				return domain.ErrIdempotencyConflict
			}
			if !errors.Is(err, domain.ErrNotFound) {
				return err
			}
		}
		holdID, err := uc.ledger.reserveTx(ctx, r, seen, w.AccountID, w.Amount, w.Currency,
			domain.OriginRef{Type: domain.OriginWithdrawal, ID: w.ID}, now)
		if err != nil {
			return err
		}
		w.HoldID = holdID
		w.Status = domain.WithdrawalProcessing
		if err := r.CreateWithdrawal(ctx, w); err != nil {
			return err
		}
		return events.Enqueue(ctx, r, domain.TopicWithdrawalRequest, w.AccountID, toWithdrawalEvent(w), now)
	})
	if err != nil {
		// lost a race on the same key: the winner's request is the answer
		if errors.Is(err, domain.ErrIdempotencyConflict) && in.IdempotencyKey != "" {
			return uc.replay(ctx, in)
		}
		uc.logger.Info("withdrawal request refused",
			zap.String("account_id", in.AccountID),
			zap.Int64("amount", in.Amount),
			zap.String("code", domain.CodeOf(err)),
		)
		return nil, err
	}

	uc.ledger.committed(ctx, seen)
	metrics.Withdrawals.WithLabelValues("request").Inc()
	uc.logger.Info("withdrawal requested",
		zap.String("withdrawal_id", w.ID),
		zap.String("account_id", w.AccountID),
		zap.String("amount", domain.FormatMinor(w.Amount, w.Currency)),
	)
	return w, nil
}

func (uc *WithdrawalUsecase) replay(ctx context.Context, in WithdrawalInput) (*domain.WithdrawalRequest, error) {
	w, err := uc.store.GetWithdrawalByKey(ctx, in.AccountID, in.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if w.Amount != in.Amount || w.Currency != in.Currency {
		return nil, fmt.Errorf("%w: key %q was used for %s", domain.ErrIdempotencyConflict,
			in.IdempotencyKey, domain.FormatMinor(w.Amount, w.Currency))
	}
	return w, nil
}

// Process resolves a processing request into completed or rejected. Terminal
// requests fail with ErrAlreadyResolved.
func (uc *WithdrawalUsecase) Process(ctx context.Context, withdrawalID string, action domain.WithdrawalAction, actor, notes string) (*domain.WithdrawalRequest, error) {
	if strings.TrimSpace(actor) == "" {
		return nil, fmt.Errorf("%w: actor is required", domain.ErrInvalidInput)
	}

	seen := touched{}
	var out *domain.WithdrawalRequest
	err := uc.store.InTx(ctx, func(r repository.Repository) error {
		w, err := r.GetWithdrawalForUpdate(ctx, withdrawalID)
		if err != nil {
			return err
		}
		if w.Terminal() {
			return fmt.Errorf("withdrawal %s is %s: %w", w.ID, w.Status, domain.ErrAlreadyResolved)
		}
		if w.Status != domain.WithdrawalProcessing {
			return fmt.Errorf("%w: withdrawal %s is %s", domain.ErrInvalidTransition, w.ID, w.Status)
		}

		now := uc.now()
		switch action {
		case domain.ActionApprove:
			if err := uc.ledger.settleTx(ctx, r, seen, w.HoldID, w.Amount, now); err != nil {
				return err
			}
			w.Status = domain.WithdrawalCompleted
		case domain.ActionReject:
			if err := uc.ledger.releaseTx(ctx, r, seen, w.HoldID, now); err != nil {
				return err
			}
			w.Status = domain.WithdrawalRejected
			w.RejectionReason = strings.TrimSpace(notes)
			if w.RejectionReason == "" {
				w.RejectionReason = domain.DefaultRejectionReason
			}
		default:
			return fmt.Errorf("%w: unknown withdrawal action %q", domain.ErrInvalidInput, action)
		}

		w.ProcessedBy = actor
		w.ProcessedAt = &now
		if notes != "" {
			w.AdminNotes = notes
		}
		w.UpdatedAt = now
		if err := r.UpdateWithdrawal(ctx, w); err != nil {
			return err
		}
		out = w
		return events.Enqueue(ctx, r, domain.TopicWithdrawalResolved, w.AccountID, toWithdrawalEvent(w), now)
	})
	if err != nil {
		return nil, err
	}

	uc.ledger.committed(ctx, seen)
	metrics.Withdrawals.WithLabelValues(string(action)).Inc()
	uc.logger.Info("withdrawal processed",
		zap.String("withdrawal_id", out.ID),
		zap.String("action", string(action)),
		zap.String("status", string(out.Status)),
		zap.String("processed_by", actor),
	)
	return out, nil
}

func (uc *WithdrawalUsecase) Get(ctx context.Context, withdrawalID string) (*domain.WithdrawalRequest, error) {
	return uc.store.GetWithdrawal(ctx, withdrawalID)
}

func (uc *WithdrawalUsecase) List(ctx context.Context, f domain.WithdrawalFilter, page domain.Page) ([]domain.WithdrawalRequest, int, error) {
	list, total, err := uc.store.ListWithdrawals(ctx, f, page)
	if err != nil {
		return nil, 0, err
	}
	if list == nil {
		list = []domain.WithdrawalRequest{}
	}
	return list, total, nil
}

func toWithdrawalEvent(w *domain.WithdrawalRequest) withdrawalEvent {
	return withdrawalEvent{
		WithdrawalID:    w.ID,
		AccountID:       w.AccountID,
		Amount:          w.Amount,
		Currency:        w.Currency,
		Status:          w.Status,
		ProcessedBy:     w.ProcessedBy,
		RejectionReason: w.RejectionReason,
	}
}
