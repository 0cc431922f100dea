// internal/repository/ledger_repo.go
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"settlement-service/internal/domain"

	"github.com/jackc/pgx/v5"
)

const accountColumns = `id, currency, total_earned, total_withdrawn, version, created_at, updated_at`

const txColumns = `
	id, account_id, amount, currency, type, status, origin_type, origin_id, description, created_at, completed_at`

func scanAccount(row pgx.Row) (*domain.WalletAccount, error) {
	var a domain.WalletAccount
	if err := row.Scan(&a.ID, &a.Currency, &a.TotalEarned, &a.TotalWithdrawn, &a.Version, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

func scanTx(row interface{ Scan(...any) error }) (*domain.WalletTransaction, error) {
	var t domain.WalletTransaction
	err := row.Scan(
		&t.ID, &t.AccountID, &t.Amount, &t.Currency, &t.Type, &t.Status,
		&t.Origin.Type, &t.Origin.ID, &t.Description, &t.CreatedAt, &t.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *pgRepo) LockAccount(ctx context.Context, accountID, currency string) (*domain.WalletAccount, error) {
	_, err := r.q.Exec(ctx, `
		INSERT INTO wallet_accounts (id, currency) VALUES ($1, $2)
		ON CONFLICT (id) DO NOTHING
	`, accountID, currency)
	if err != nil {
		return nil, fmt.Errorf("open account %s: %w", accountID, err)
	}

	query := `SELECT ` + accountColumns + ` FROM wallet_accounts WHERE id = $1 FOR UPDATE`
	acct, err := scanAccount(r.q.QueryRow(ctx, query, accountID))
	if err != nil {
		return nil, notFound(err, "lock account "+accountID)
	}
	return acct, nil
}

func (r *pgRepo) GetAccount(ctx context.Context, accountID string) (*domain.WalletAccount, error) {
	query := `SELECT ` + accountColumns + ` FROM wallet_accounts WHERE id = $1`
	acct, err := scanAccount(r.q.QueryRow(ctx, query, accountID))
	if err != nil {
		return nil, notFound(err, "get account "+accountID)
	}
	return acct, nil
}

func (r *pgRepo) UpdateAccount(ctx context.Context, acct *domain.WalletAccount) error {
	query := `
		UPDATE wallet_accounts
		SET total_earned = $3, total_withdrawn = $4, version = version + 1, updated_at = $5
		WHERE id = $1 AND version = $2
		RETURNING version
	`
	err := r.q.QueryRow(ctx, query, acct.ID, acct.Version, acct.TotalEarned, acct.TotalWithdrawn, acct.UpdatedAt).Scan(&acct.Version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("update account %s: %w", acct.ID, domain.ErrConcurrentUpdate)
		}
		return fmt.Errorf("update account %s: %w", acct.ID, err)
	}
	return nil
}

func (r *pgRepo) InsertTransaction(ctx context.Context, t *domain.WalletTransaction) error {
	query := `
		INSERT INTO wallet_transactions (account_id, amount, currency, type, status, origin_type, origin_id, description, created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`
	err := r.q.QueryRow(ctx, query,
		t.AccountID, t.Amount, t.Currency, t.Type, t.Status, t.Origin.Type, t.Origin.ID, t.Description, t.CreatedAt, t.CompletedAt,
	).Scan(&t.ID)
	if err != nil {
		return fmt.Errorf("insert wallet transaction: %w", err)
	}
	return nil
}

func (r *pgRepo) GetTransactionForUpdate(ctx context.Context, id int64) (*domain.WalletTransaction, error) {
	query := `SELECT ` + txColumns + ` FROM wallet_transactions WHERE id = $1 FOR UPDATE`
	t, err := scanTx(r.q.QueryRow(ctx, query, id))
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("get wallet transaction %d", id))
	}
	return t, nil
}

func (r *pgRepo) ResolveTransaction(ctx context.Context, id int64, status domain.TxStatus, amount int64, at time.Time) error {
	query := `
		UPDATE wallet_transactions
		SET status = $2, amount = $3, completed_at = $4
		WHERE id = $1 AND status = 'pending'
	`
	tag, err := r.q.Exec(ctx, query, id, status, amount, at)
	if err != nil {
		return fmt.Errorf("resolve wallet transaction %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("resolve wallet transaction %d: %w", id, domain.ErrAlreadyResolved)
	}
	return nil
}

// SumBalances derives the completed balance and the held amount in one pass.
func (r *pgRepo) SumBalances(ctx context.Context, accountID string) (domain.Balances, error) {
	query := `
		SELECT
			COALESCE(SUM(amount) FILTER (WHERE status = 'completed'), 0),
			COALESCE(-SUM(amount) FILTER (WHERE status = 'pending' AND amount < 0), 0)
		FROM wallet_transactions
		WHERE account_id = $1
	`
	var b domain.Balances
	if err := r.q.QueryRow(ctx, query, accountID).Scan(&b.Completed, &b.Held); err != nil {
		return domain.Balances{}, fmt.Errorf("sum balances %s: %w", accountID, err)
	}
	return b, nil
}

func (r *pgRepo) SumByOrigin(ctx context.Context, accountID string, origin domain.OriginRef) (int64, error) {
	query := `
		SELECT COALESCE(SUM(amount), 0)
		FROM wallet_transactions
		WHERE account_id = $1 AND origin_type = $2 AND origin_id = $3 AND status = 'completed'
	`
	var sum int64
	if err := r.q.QueryRow(ctx, query, accountID, origin.Type, origin.ID).Scan(&sum); err != nil {
		return 0, fmt.Errorf("sum by origin: %w", err)
	}
	return sum, nil
}

func (r *pgRepo) ListTransactions(ctx context.Context, accountID string, page domain.Page) ([]domain.WalletTransaction, int, error) {
	page = page.Normalize()

	var total int
	if err := r.q.QueryRow(ctx, `SELECT COUNT(*) FROM wallet_transactions WHERE account_id = $1`, accountID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count wallet transactions: %w", err)
	}

	query := `SELECT ` + txColumns + ` FROM wallet_transactions WHERE account_id = $1 ORDER BY id DESC LIMIT $2 OFFSET $3`
	rows, err := r.q.Query(ctx, query, accountID, page.Limit, page.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list wallet transactions: %w", err)
	}
	defer rows.Close()

	out := make([]domain.WalletTransaction, 0, page.Limit)
	for rows.Next() {
		t, err := scanTx(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *t)
	}
	return out, total, rows.Err()
}
