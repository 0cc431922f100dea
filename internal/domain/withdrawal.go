// internal/domain/withdrawal.go
package domain

import (
	"fmt"
	"strings"
	"time"
)

type WithdrawalStatus string

const (
	WithdrawalPending    WithdrawalStatus = "pending"
	WithdrawalProcessing WithdrawalStatus = "processing"
	WithdrawalCompleted  WithdrawalStatus = "completed"
	WithdrawalRejected   WithdrawalStatus = "rejected"
)

type WithdrawalAction string

const (
	ActionApprove WithdrawalAction = "approve"
	ActionReject  WithdrawalAction = "reject"
)

func ParseWithdrawalAction(s string) (WithdrawalAction, error) {
	switch a := WithdrawalAction(strings.ToLower(strings.TrimSpace(s))); a {
	case ActionApprove, ActionReject:
		return a, nil
	}
	return "", fmt.Errorf("%w: unknown withdrawal action %q", ErrInvalidInput, s)
}

func ParseWithdrawalStatus(s string) (WithdrawalStatus, error) {
	switch st := WithdrawalStatus(strings.ToLower(strings.TrimSpace(s))); st {
	case "", WithdrawalPending, WithdrawalProcessing, WithdrawalCompleted, WithdrawalRejected:
		return st, nil
	}
	return "", fmt.Errorf("%w: unknown withdrawal status %q", ErrInvalidInput, s)
}

const DefaultRejectionReason = "rejected by administrator"

type WithdrawalRequest struct {
	ID              string           `json:"id" db:"id"`
	AccountID       string           `json:"account_id" db:"account_id"`
	Amount          int64            `json:"amount" db:"amount"`
	Currency        string           `json:"currency" db:"currency"`
	Status          WithdrawalStatus `json:"status" db:"status"`
	HoldID          int64            `json:"hold_id" db:"hold_tx_id"`
	IdempotencyKey  string           `json:"idempotency_key,omitempty" db:"idempotency_key"`
	ProcessedBy     string           `json:"processed_by,omitempty" db:"processed_by"`
	ProcessedAt     *time.Time       `json:"processed_at,omitempty" db:"processed_at"`
	RejectionReason string           `json:"rejection_reason,omitempty" db:"rejection_reason"`
	AdminNotes      string           `json:"admin_notes,omitempty" db:"admin_notes"`
	CreatedAt       time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at" db:"updated_at"`
}

func (w *WithdrawalRequest) Terminal() bool {
	return w.Status == WithdrawalCompleted || w.Status == WithdrawalRejected
}

type WithdrawalFilter struct {
	AccountID string
	Status    WithdrawalStatus
}
