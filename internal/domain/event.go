// internal/domain/event.go
package domain

import "time"

// Outbox topics. They are logical names carried in the message header; the
// relay publishes everything to one Kafka topic keyed by aggregate id.
const (
	TopicPaymentVerified    = "payment.verified"
	TopicPaymentRejected    = "payment.rejected"
	TopicEntityTransitioned = "entity.transitioned"
	TopicLedgerPosted       = "ledger.posted"
	TopicWithdrawalRequest  = "withdrawal.requested"
	TopicWithdrawalResolved = "withdrawal.resolved"
	TopicDisputeEscalated   = "order.dispute_escalated"
)

type OutboxMessage struct {
	ID          int64      `json:"id" db:"id"`
	Topic       string     `json:"topic" db:"topic"`
	Key         string     `json:"key" db:"key"`
	Payload     []byte     `json:"payload" db:"payload"`
	Attempts    int        `json:"attempts" db:"attempts"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	PublishedAt *time.Time `json:"published_at,omitempty" db:"published_at"`
}
