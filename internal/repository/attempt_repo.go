// internal/repository/attempt_repo.go
package repository

import (
	"context"
	"fmt"
	"time"

	"settlement-service/internal/domain"
)

const attemptColumns = `
	id, entity_kind, entity_id, external_charge_id, amount, currency, gateway_status, state,
	lease_token, lease_expires_at, outcome_code, outcome_message, applied_at, created_at, updated_at`

func scanAttempt(row interface{ Scan(...any) error }) (*domain.PaymentAttempt, error) {
	var a domain.PaymentAttempt
	err := row.Scan(
		&a.ID, &a.EntityKind, &a.EntityID, &a.ExternalChargeID, &a.Amount, &a.Currency, &a.GatewayStatus, &a.State,
		&a.LeaseToken, &a.LeaseExpiresAt, &a.OutcomeCode, &a.OutcomeMessage, &a.AppliedAt, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *pgRepo) GetAttemptByCharge(ctx context.Context, chargeID string) (*domain.PaymentAttempt, error) {
	query := `SELECT ` + attemptColumns + ` FROM payment_attempts WHERE external_charge_id = $1`
	a, err := scanAttempt(r.q.QueryRow(ctx, query, chargeID))
	if err != nil {
		return nil, notFound(err, "get attempt "+chargeID)
	}
	return a, nil
}

// ReserveAttempt relies on the unique external_charge_id so two concurrent
// reservations can never both succeed.
func (r *pgRepo) ReserveAttempt(ctx context.Context, a *domain.PaymentAttempt) (bool, error) {
	query := `
		INSERT INTO payment_attempts (
			id, entity_kind, entity_id, external_charge_id, state, lease_token, lease_expires_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, 'reserved', $5, $6, $7, $7)
		ON CONFLICT (external_charge_id) DO NOTHING
	`
	tag, err := r.q.Exec(ctx, query,
		a.ID, a.EntityKind, a.EntityID, a.ExternalChargeID, a.LeaseToken, a.LeaseExpiresAt, a.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("reserve attempt: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	a.State = domain.AttemptReserved
	a.UpdatedAt = a.CreatedAt
	return true, nil
}

func (r *pgRepo) TakeOverAttempt(ctx context.Context, chargeID, oldToken, newToken string, expiresAt time.Time) (bool, error) {
	query := `
		UPDATE payment_attempts
		SET lease_token = $3, lease_expires_at = $4, updated_at = NOW()
		WHERE external_charge_id = $1 AND state = 'reserved'
		  AND lease_token = $2 AND (lease_expires_at IS NULL OR lease_expires_at <= NOW())
	`
	tag, err := r.q.Exec(ctx, query, chargeID, oldToken, newToken, expiresAt)
	if err != nil {
		return false, fmt.Errorf("take over attempt: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ReleaseAttempt drops a reservation so a later call can retry from scratch.
func (r *pgRepo) ReleaseAttempt(ctx context.Context, chargeID, token string) error {
	query := `DELETE FROM payment_attempts WHERE external_charge_id = $1 AND state = 'reserved' AND lease_token = $2`
	if _, err := r.q.Exec(ctx, query, chargeID, token); err != nil {
		return fmt.Errorf("release attempt: %w", err)
	}
	return nil
}

func (r *pgRepo) FinalizeAttempt(ctx context.Context, a *domain.PaymentAttempt) error {
	query := `
		UPDATE payment_attempts
		SET amount = $3, currency = $4, gateway_status = $5, state = $6,
			outcome_code = $7, outcome_message = $8, applied_at = $9,
			lease_token = '', lease_expires_at = NULL, updated_at = $10
		WHERE external_charge_id = $1 AND state = 'reserved' AND lease_token = $2
	`
	tag, err := r.q.Exec(ctx, query,
		a.ExternalChargeID, a.LeaseToken, a.Amount, a.Currency, a.GatewayStatus, a.State,
		a.OutcomeCode, a.OutcomeMessage, a.AppliedAt, a.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("finalize attempt %s: %w", a.ExternalChargeID, domain.ErrInvalidTransition)
		}
		return fmt.Errorf("finalize attempt: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrLeaseLost
	}
	a.LeaseToken = ""
	a.LeaseExpiresAt = nil
	return nil
}

func (r *pgRepo) ListAttempts(ctx context.Context, ref domain.EntityRef) ([]domain.PaymentAttempt, error) {
	query := `SELECT ` + attemptColumns + ` FROM payment_attempts WHERE entity_id = $1 AND entity_kind = $2 ORDER BY created_at`
	rows, err := r.q.Query(ctx, query, ref.ID, ref.Kind)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	defer rows.Close()

	var out []domain.PaymentAttempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}
