// internal/repository/withdrawal_repo.go
package repository

import (
	"context"
	"fmt"
	"strings"

	"settlement-service/internal/domain"
)

const withdrawalColumns = `
	id, account_id, amount, currency, status, hold_tx_id, idempotency_key,
	processed_by, processed_at, rejection_reason, admin_notes, created_at, updated_at`

func scanWithdrawal(row interface{ Scan(...any) error }) (*domain.WithdrawalRequest, error) {
	var w domain.WithdrawalRequest
	err := row.Scan(
		&w.ID, &w.AccountID, &w.Amount, &w.Currency, &w.Status, &w.HoldID, &w.IdempotencyKey,
		&w.ProcessedBy, &w.ProcessedAt, &w.RejectionReason, &w.AdminNotes, &w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (r *pgRepo) CreateWithdrawal(ctx context.Context, w *domain.WithdrawalRequest) error {
	query := `
		INSERT INTO withdrawal_requests (
			id, account_id, amount, currency, status, hold_tx_id, idempotency_key, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
	`
	_, err := r.q.Exec(ctx, query,
		w.ID, w.AccountID, w.Amount, w.Currency, w.Status, w.HoldID, w.IdempotencyKey, w.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create withdrawal: %w", domain.ErrIdempotencyConflict)
		}
		return fmt.Errorf("create withdrawal: %w", err)
	}
	return nil
}

func (r *pgRepo) GetWithdrawal(ctx context.Context, id string) (*domain.WithdrawalRequest, error) {
	query := `SELECT ` + withdrawalColumns + ` FROM withdrawal_requests WHERE id = $1`
	w, err := scanWithdrawal(r.q.QueryRow(ctx, query, id))
	if err != nil {
		return nil, notFound(err, "get withdrawal "+id)
	}
	return w, nil
}

func (r *pgRepo) GetWithdrawalForUpdate(ctx context.Context, id string) (*domain.WithdrawalRequest, error) {
	query := `SELECT ` + withdrawalColumns + ` FROM withdrawal_requests WHERE id = $1 FOR UPDATE`
	w, err := scanWithdrawal(r.q.QueryRow(ctx, query, id))
	if err != nil {
		return nil, notFound(err, "lock withdrawal "+id)
	}
	return w, nil
}

func (r *pgRepo) GetWithdrawalByKey(ctx context.Context, accountID, key string) (*domain.WithdrawalRequest, error) {
	query := `SELECT ` + withdrawalColumns + ` FROM withdrawal_requests WHERE account_id = $1 AND idempotency_key = $2`
	w, err := scanWithdrawal(r.q.QueryRow(ctx, query, accountID, key))
	if err != nil {
		return nil, notFound(err, "get withdrawal by key")
	}
	return w, nil
}

func (r *pgRepo) UpdateWithdrawal(ctx context.Context, w *domain.WithdrawalRequest) error {
	query := `
		UPDATE withdrawal_requests
		SET status = $2, processed_by = $3, processed_at = $4, rejection_reason = $5, admin_notes = $6, updated_at = $7
		WHERE id = $1
	`
	tag, err := r.q.Exec(ctx, query,
		w.ID, w.Status, w.ProcessedBy, w.ProcessedAt, w.RejectionReason, w.AdminNotes, w.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update withdrawal %s: %w", w.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update withdrawal %s: %w", w.ID, domain.ErrNotFound)
	}
	return nil
}

func (r *pgRepo) ListWithdrawals(ctx context.Context, f domain.WithdrawalFilter, page domain.Page) ([]domain.WithdrawalRequest, int, error) {
	page = page.Normalize()

	var (
		where []string
		args  []any
	)
	if f.AccountID != "" {
		args = append(args, f.AccountID)
		where = append(where, fmt.Sprintf("account_id = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.q.QueryRow(ctx, `SELECT COUNT(*) FROM withdrawal_requests`+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count withdrawals: %w", err)
	}

	args = append(args, page.Limit, page.Offset)
	query := fmt.Sprintf(`SELECT %s FROM withdrawal_requests%s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		withdrawalColumns, clause, len(args)-1, len(args))
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list withdrawals: %w", err)
	}
	defer rows.Close()

	out := make([]domain.WithdrawalRequest, 0, page.Limit)
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *w)
	}
	return out, total, rows.Err()
}
