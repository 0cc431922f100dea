// internal/repository/outbox_repo.go
package repository

import (
	"context"
	"fmt"
	"time"

	"settlement-service/internal/domain"
)

func (r *pgRepo) EnqueueOutbox(ctx context.Context, msg *domain.OutboxMessage) error {
	query := `
		INSERT INTO outbox_events (topic, key, payload, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`
	if err := r.q.QueryRow(ctx, query, msg.Topic, msg.Key, msg.Payload, msg.CreatedAt).Scan(&msg.ID); err != nil {
		return fmt.Errorf("enqueue outbox: %w", err)
	}
	return nil
}

// ClaimOutbox skips rows locked by another relay instance.
func (r *pgRepo) ClaimOutbox(ctx context.Context, limit int) ([]domain.OutboxMessage, error) {
	query := `
		SELECT id, topic, key, payload, attempts, created_at
		FROM outbox_events
		WHERE published_at IS NULL
		ORDER BY id
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`
	rows, err := r.q.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("claim outbox: %w", err)
	}
	defer rows.Close()

	var out []domain.OutboxMessage
	for rows.Next() {
		var m domain.OutboxMessage
		if err := rows.Scan(&m.ID, &m.Topic, &m.Key, &m.Payload, &m.Attempts, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *pgRepo) MarkOutboxPublished(ctx context.Context, ids []int64, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := r.q.Exec(ctx, `UPDATE outbox_events SET published_at = $2 WHERE id = ANY($1)`, ids, at); err != nil {
		return fmt.Errorf("mark outbox published: %w", err)
	}
	return nil
}

func (r *pgRepo) MarkOutboxFailed(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := r.q.Exec(ctx, `UPDATE outbox_events SET attempts = attempts + 1 WHERE id = ANY($1)`, ids); err != nil {
		return fmt.Errorf("mark outbox failed: %w", err)
	}
	return nil
}
