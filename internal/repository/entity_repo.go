// internal/repository/entity_repo.go
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"settlement-service/internal/domain"

	"github.com/jackc/pgx/v5"
)

const entityColumns = `
	id, kind, owner_id, amount, currency, status, review_required, review_reason,
	seller_id, service_fee, prior_status, paid_at, disputed_at, escalated_at,
	listing_id, purchased_days, activated_at, valid_until,
	version, created_at, updated_at`

// entityRow is the single-table layout shared by all payable variants.
type entityRow struct {
	domain.Entity
	SellerID      string
	ServiceFee    int64
	PriorStatus   string
	PaidAt        *time.Time
	DisputedAt    *time.Time
	EscalatedAt   *time.Time
	ListingID     string
	PurchasedDays int
	ActivatedAt   *time.Time
	ValidUntil    *time.Time
}

func (r *entityRow) scanTargets() []any {
	return []any{
		&r.ID, &r.Kind, &r.OwnerID, &r.Amount, &r.Currency, &r.Status, &r.ReviewRequired, &r.ReviewReason,
		&r.SellerID, &r.ServiceFee, &r.PriorStatus, &r.PaidAt, &r.DisputedAt, &r.EscalatedAt,
		&r.ListingID, &r.PurchasedDays, &r.ActivatedAt, &r.ValidUntil,
		&r.Version, &r.CreatedAt, &r.UpdatedAt,
	}
}

func (r *entityRow) payable() (domain.Payable, error) {
	switch r.Kind {
	case domain.KindOrder:
		return &domain.Order{
			Entity:      r.Entity,
			SellerID:    r.SellerID,
			ServiceFee:  r.ServiceFee,
			PriorStatus: domain.Status(r.PriorStatus),
			PaidAt:      r.PaidAt,
			DisputedAt:  r.DisputedAt,
			EscalatedAt: r.EscalatedAt,
		}, nil
	case domain.KindFeaturedListing:
		return &domain.FeaturedListing{
			Entity:    r.Entity,
			ListingID: r.ListingID,
			Term:      domain.Term{PurchasedDays: r.PurchasedDays, ActivatedAt: r.ActivatedAt, ValidUntil: r.ValidUntil},
		}, nil
	case domain.KindSubscription:
		return &domain.Subscription{
			Entity: r.Entity,
			Term:   domain.Term{PurchasedDays: r.PurchasedDays, ActivatedAt: r.ActivatedAt, ValidUntil: r.ValidUntil},
		}, nil
	}
	return nil, fmt.Errorf("unknown entity kind %q", r.Kind)
}

func rowFromPayable(p domain.Payable) (*entityRow, error) {
	r := &entityRow{Entity: *p.Base()}
	switch v := p.(type) {
	case *domain.Order:
		r.SellerID = v.SellerID
		r.ServiceFee = v.ServiceFee
		r.PriorStatus = string(v.PriorStatus)
		r.PaidAt, r.DisputedAt, r.EscalatedAt = v.PaidAt, v.DisputedAt, v.EscalatedAt
	case *domain.FeaturedListing:
		r.ListingID = v.ListingID
		r.PurchasedDays, r.ActivatedAt, r.ValidUntil = v.PurchasedDays, v.ActivatedAt, v.ValidUntil
	case *domain.Subscription:
		r.PurchasedDays, r.ActivatedAt, r.ValidUntil = v.PurchasedDays, v.ActivatedAt, v.ValidUntil
	}
	if !domain.ValidStatus(r.Kind, r.Status) {
		return nil, fmt.Errorf("%w: status %q is not valid for %s", domain.ErrInvalidTransition, r.Status, r.Kind)
	}
	return r, nil
}

func (r *pgRepo) CreateEntity(ctx context.Context, p domain.Payable) error {
	row, err := rowFromPayable(p)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO payable_entities (` + entityColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, 1, $19, $19)
	`
	_, err = r.q.Exec(ctx, query,
		row.ID, row.Kind, row.OwnerID, row.Amount, row.Currency, row.Status, row.ReviewRequired, row.ReviewReason,
		row.SellerID, row.ServiceFee, row.PriorStatus, row.PaidAt, row.DisputedAt, row.EscalatedAt,
		row.ListingID, row.PurchasedDays, row.ActivatedAt, row.ValidUntil,
		row.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: entity %s already exists", domain.ErrInvalidInput, row.ID)
		}
		return fmt.Errorf("insert entity: %w", err)
	}
	p.Base().Version = 1
	return nil
}

func (r *pgRepo) GetEntity(ctx context.Context, ref domain.EntityRef) (domain.Payable, error) {
	return r.getEntity(ctx, ref, "")
}

func (r *pgRepo) GetEntityForUpdate(ctx context.Context, ref domain.EntityRef) (domain.Payable, error) {
	return r.getEntity(ctx, ref, " FOR UPDATE")
}

func (r *pgRepo) getEntity(ctx context.Context, ref domain.EntityRef, lock string) (domain.Payable, error) {
	query := `SELECT ` + entityColumns + ` FROM payable_entities WHERE id = $1 AND kind = $2` + lock

	var row entityRow
	if err := r.q.QueryRow(ctx, query, ref.ID, ref.Kind).Scan(row.scanTargets()...); err != nil {
		return nil, notFound(err, "get entity "+ref.String())
	}
	return row.payable()
}

func (r *pgRepo) UpdateEntity(ctx context.Context, p domain.Payable) error {
	row, err := rowFromPayable(p)
	if err != nil {
		return err
	}
	query := `
		UPDATE payable_entities
		SET status = $3, review_required = $4, review_reason = $5,
			prior_status = $6, paid_at = $7, disputed_at = $8, escalated_at = $9,
			purchased_days = $10, activated_at = $11, valid_until = $12,
			amount = $13, version = version + 1, updated_at = $14
		WHERE id = $1 AND version = $2
		RETURNING version
	`
	var version int64
	err = r.q.QueryRow(ctx, query,
		row.ID, row.Version, row.Status, row.ReviewRequired, row.ReviewReason,
		row.PriorStatus, row.PaidAt, row.DisputedAt, row.EscalatedAt,
		row.PurchasedDays, row.ActivatedAt, row.ValidUntil,
		row.Amount, row.UpdatedAt,
	).Scan(&version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("update entity %s: %w", row.ID, domain.ErrConcurrentUpdate)
		}
		return fmt.Errorf("update entity %s: %w", row.ID, err)
	}
	p.Base().Version = version
	return nil
}

func (r *pgRepo) AppendHistory(ctx context.Context, c *domain.StatusChange) error {
	query := `
		INSERT INTO entity_status_history (entity_kind, entity_id, from_status, to_status, event, actor, charge_id, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`
	return r.q.QueryRow(ctx, query,
		c.EntityKind, c.EntityID, c.From, c.To, c.Event, c.Actor, c.ChargeID, c.Reason, c.At,
	).Scan(&c.ID)
}

func (r *pgRepo) ListHistory(ctx context.Context, ref domain.EntityRef) ([]domain.StatusChange, error) {
	query := `
		SELECT id, entity_kind, entity_id, from_status, to_status, event, actor, charge_id, reason, created_at
		FROM entity_status_history
		WHERE entity_id = $1 AND entity_kind = $2
		ORDER BY id
	`
	rows, err := r.q.Query(ctx, query, ref.ID, ref.Kind)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	var out []domain.StatusChange
	for rows.Next() {
		var c domain.StatusChange
		if err := rows.Scan(&c.ID, &c.EntityKind, &c.EntityID, &c.From, &c.To, &c.Event, &c.Actor, &c.ChargeID, &c.Reason, &c.At); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *pgRepo) ListDueForExpiry(ctx context.Context, now time.Time, limit int) ([]domain.EntityRef, error) {
	query := `
		SELECT kind, id FROM payable_entities
		WHERE status = 'active' AND valid_until IS NOT NULL AND valid_until <= $1
		ORDER BY valid_until
		LIMIT $2
	`
	return r.listRefs(ctx, query, now, limit)
}

func (r *pgRepo) ListStaleDisputes(ctx context.Context, disputedBefore time.Time, limit int) ([]domain.EntityRef, error) {
	query := `
		SELECT kind, id FROM payable_entities
		WHERE status = 'disputed' AND escalated_at IS NULL AND disputed_at <= $1
		ORDER BY disputed_at
		LIMIT $2
	`
	return r.listRefs(ctx, query, disputedBefore, limit)
}

func (r *pgRepo) listRefs(ctx context.Context, query string, args ...any) ([]domain.EntityRef, error) {
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	defer rows.Close()

	var out []domain.EntityRef
	for rows.Next() {
		var ref domain.EntityRef
		if err := rows.Scan(&ref.Kind, &ref.ID); err != nil {
			return nil, err
		}
		out = append(out, ref)
	}
	return out, rows.Err()
}
