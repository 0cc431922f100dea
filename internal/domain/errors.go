// internal/domain/errors.go
package domain

import (
	"errors"
	"fmt"
)

var (
	ErrGatewayUnavailable  = errors.New("payment gateway unavailable")
	ErrGatewayRejected     = errors.New("charge unknown to payment gateway")
	ErrAmountMismatch      = errors.New("payment amount does not match expected total")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrInsufficientBalance = errors.New("insufficient available balance")
	ErrAlreadyResolved     = errors.New("withdrawal already resolved")
)

var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidInput        = errors.New("invalid input provided")
	ErrForbidden           = errors.New("forbidden")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrChargeConflict      = errors.New("charge already bound to another entity")
	ErrPaymentDeclined     = errors.New("payment was not captured")
	ErrVerificationPending = errors.New("payment not yet confirmed by gateway")
	ErrIdempotencyConflict = errors.New("idempotency key reused with different parameters")
	ErrCurrencyMismatch    = errors.New("currency does not match account currency")
	ErrConcurrentUpdate    = errors.New("record was modified concurrently")
)

// TransitionError describes a rejected state machine event.
type TransitionError struct {
	Kind   EntityKind
	From   Status
	Event  EventType
	Reason string
}

func (e *TransitionError) Error() string {
	msg := fmt.Sprintf("%s: event %q not allowed from %q", e.Kind, e.Event, e.From)
	if e.Reason != "" {
		msg += " (" + e.Reason + ")"
	}
	return msg
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// AmountMismatchError carries both sides of a failed payment comparison in minor units.
type AmountMismatchError struct {
	ExpectedAmount   int64
	ExpectedCurrency string
	ActualAmount     int64
	ActualCurrency   string
}

func (e *AmountMismatchError) Error() string {
	return fmt.Sprintf("amount mismatch: expected %s, got %s",
		FormatMinor(e.ExpectedAmount, e.ExpectedCurrency),
		FormatMinor(e.ActualAmount, e.ActualCurrency))
}

func (e *AmountMismatchError) Unwrap() error { return ErrAmountMismatch }

// Error codes returned to collaborators and stored on rejected attempts.
const (
	CodeOK                  = "ok"
	CodeGatewayUnavailable  = "gateway_unavailable"
	CodeGatewayRejected     = "gateway_rejected"
	CodeAmountMismatch      = "amount_mismatch"
	CodeInvalidTransition   = "invalid_transition"
	CodeInsufficientBalance = "insufficient_balance"
	CodeAlreadyResolved     = "already_resolved"
	CodeNotFound            = "not_found"
	CodeInvalidInput        = "invalid_input"
	CodeForbidden           = "forbidden"
	CodeUnauthorized        = "unauthorized"
	CodeChargeConflict      = "charge_conflict"
	CodePaymentDeclined     = "payment_declined"
	CodeVerificationPending = "verification_pending"
	CodeIdempotencyConflict = "idempotency_conflict"
	CodeCurrencyMismatch    = "currency_mismatch"
	CodeConcurrentUpdate    = "concurrent_update"
	CodeInternal            = "internal_error"
)

var codeTable = []struct {
	err  error
	code string
}{
	{ErrGatewayUnavailable, CodeGatewayUnavailable},
	{ErrGatewayRejected, CodeGatewayRejected},
	{ErrAmountMismatch, CodeAmountMismatch},
	{ErrInvalidTransition, CodeInvalidTransition},
	{ErrInsufficientBalance, CodeInsufficientBalance},
	{ErrAlreadyResolved, CodeAlreadyResolved},
	{ErrNotFound, CodeNotFound},
	{ErrInvalidInput, CodeInvalidInput},
	{ErrForbidden, CodeForbidden},
	{ErrUnauthorized, CodeUnauthorized},
	{ErrChargeConflict, CodeChargeConflict},
	{ErrPaymentDeclined, CodePaymentDeclined},
	{ErrVerificationPending, CodeVerificationPending},
	{ErrIdempotencyConflict, CodeIdempotencyConflict},
	{ErrCurrencyMismatch, CodeCurrencyMismatch},
	{ErrConcurrentUpdate, CodeConcurrentUpdate},
}

// CodeOf maps an error to its stable code. Unknown errors are internal.
func CodeOf(err error) string {
	if err == nil {
		return CodeOK
	}
	for _, c := range codeTable {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeInternal
}

// ErrorForCode is the inverse of CodeOf, used when replaying a stored outcome.
func ErrorForCode(code string) error {
	for _, c := range codeTable {
		if c.code == code {
			return c.err
		}
	}
	if code == CodeOK || code == "" {
		return nil
	}
	return errors.New(code)
}
