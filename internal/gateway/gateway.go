// internal/gateway/gateway.go
package gateway

import (
	"context"
	"strings"

	"settlement-service/internal/domain"

	"github.com/shopspring/decimal"
)

// Gateway looks up charges at the external payment gateway. Implementations
// never mutate local state.
type Gateway interface {
	// CheckStatus fails with domain.ErrGatewayUnavailable on transport trouble and
	// domain.ErrGatewayRejected when the gateway does not know the charge.
	CheckStatus(ctx context.Context, chargeID string) (*ChargeStatus, error)
}

type ChargeStatus struct {
	ChargeID       string
	Status         domain.GatewayStatus
	Amount         decimal.Decimal
	Currency       string
	UpstreamStatus string
}

// MinorAmount converts the reported amount into currency minor units.
func (c *ChargeStatus) MinorAmount() (int64, error) {
	return domain.ToMinor(c.Amount, c.Currency)
}

// NormalizeStatus maps the gateway's charge states onto the four we act on.
// ok is false for an empty or unrecognised state, which must not be read as a
// decline.
func NormalizeStatus(upstream string) (status domain.GatewayStatus, ok bool) {
	switch strings.ToUpper(strings.TrimSpace(upstream)) {
	case "INITIATED", "IN_PROGRESS", "AUTHORIZED", "PENDING":
		return domain.GatewayInitialized, true
	case "CAPTURED":
		return domain.GatewayCaptured, true
	case "CANCELLED", "ABANDONED":
		return domain.GatewayCancelled, true
	case "FAILED", "DECLINED", "RESTRICTED", "VOID", "TIMEDOUT":
		return domain.GatewayFailed, true
	default:
		return "", false
	}
}
