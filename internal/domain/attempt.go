// internal/domain/attempt.go
package domain

import "time"

// GatewayStatus is the normalized charge status reported by the gateway.
type GatewayStatus string

const (
	GatewayInitialized GatewayStatus = "initialized"
	GatewayCaptured    GatewayStatus = "captured"
	GatewayFailed      GatewayStatus = "failed"
	GatewayCancelled   GatewayStatus = "cancelled"
)

// AttemptState tracks where an attempt is in the verification pipeline.
type AttemptState string

const (
	AttemptReserved AttemptState = "reserved"
	AttemptApplied  AttemptState = "applied"
	AttemptRejected AttemptState = "rejected"
	AttemptDeclined AttemptState = "declined"
)

type PaymentAttempt struct {
	ID               string        `json:"id" db:"id"`
	EntityKind       EntityKind    `json:"entity_type" db:"entity_kind"`
	EntityID         string        `json:"entity_id" db:"entity_id"`
	ExternalChargeID string        `json:"external_charge_id" db:"external_charge_id"`
	Amount           int64         `json:"amount" db:"amount"`
	Currency         string        `json:"currency" db:"currency"`
	GatewayStatus    GatewayStatus `json:"gateway_status,omitempty" db:"gateway_status"`
	State            AttemptState  `json:"state" db:"state"`
	LeaseToken       string        `json:"-" db:"lease_token"`
	LeaseExpiresAt   *time.Time    `json:"-" db:"lease_expires_at"`
	OutcomeCode      string        `json:"outcome_code,omitempty" db:"outcome_code"`
	OutcomeMessage   string        `json:"outcome_message,omitempty" db:"outcome_message"`
	AppliedAt        *time.Time    `json:"applied_at,omitempty" db:"applied_at"`
	CreatedAt        time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at" db:"updated_at"`
}

func (a *PaymentAttempt) Ref() EntityRef { return EntityRef{Kind: a.EntityKind, ID: a.EntityID} }

// Terminal reports whether the attempt has a committed outcome.
func (a *PaymentAttempt) Terminal() bool { return a.State != AttemptReserved }

// LeaseLive reports whether another caller still owns the reservation at now.
func (a *PaymentAttempt) LeaseLive(now time.Time) bool {
	return a.State == AttemptReserved && a.LeaseExpiresAt != nil && a.LeaseExpiresAt.After(now)
}

// OutcomeError rebuilds the error stored with a terminal attempt.
func (a *PaymentAttempt) OutcomeError() error {
	switch a.State {
	case AttemptApplied, AttemptReserved:
		return nil
	case AttemptDeclined:
		return ErrPaymentDeclined
	}
	return ErrorForCode(a.OutcomeCode)
}
