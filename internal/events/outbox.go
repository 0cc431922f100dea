// internal/events/outbox.go
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"settlement-service/internal/domain"
	"settlement-service/internal/repository"
)

// Envelope is the JSON body of every outbox message.
type Envelope struct {
	EventType  string    `json:"event_type"`
	OccurredAt time.Time `json:"occurred_at"`
	Data       any       `json:"data"`
}

// Enqueue writes an outbox row through r, which should be the repository of the
// transaction that made the change.
func Enqueue(ctx context.Context, r repository.OutboxRepository, topic, key string, data any, at time.Time) error {
	payload, err := json.Marshal(Envelope{EventType: topic, OccurredAt: at, Data: data})
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", topic, err)
	}
	return r.EnqueueOutbox(ctx, &domain.OutboxMessage{
		Topic:     topic,
		Key:       key,
		Payload:   payload,
		CreatedAt: at,
	})
}
