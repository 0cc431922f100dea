// internal/gateway/fake.go
package gateway

import (
	"context"
	"fmt"
	"sync"

	"settlement-service/internal/domain"

	"github.com/shopspring/decimal"
)

// Fake is an in-process Gateway for tests and local development. Each charge
// replays a script of results; the last entry repeats once the script runs out.
type Fake struct {
	mu      sync.Mutex
	scripts map[string][]FakeResult
	calls   map[string]int
	gate    chan struct{}
}

type FakeResult struct {
	Status ChargeStatus
	Err    error
}

func NewFake() *Fake {
	return &Fake{scripts: map[string][]FakeResult{}, calls: map[string]int{}}
}

// Captured scripts a successful capture of amount (major units) in currency.
func (f *Fake) Captured(chargeID, amount, currency string) *Fake {
	return f.Script(chargeID, FakeResult{Status: ChargeStatus{
		ChargeID: chargeID,
		Status:   domain.GatewayCaptured,
		Amount:   decimal.RequireFromString(amount),
		Currency: currency,
	}})
}

// Status scripts a non-error lookup with the given status.
func (f *Fake) Status(chargeID string, status domain.GatewayStatus, amount, currency string) *Fake {
	return f.Script(chargeID, FakeResult{Status: ChargeStatus{
		ChargeID: chargeID,
		Status:   status,
		Amount:   decimal.RequireFromString(amount),
		Currency: currency,
	}})
}

func (f *Fake) Fail(chargeID string, err error) *Fake {
	return f.Script(chargeID, FakeResult{Err: err})
}

func (f *Fake) Script(chargeID string, results ...FakeResult) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts[chargeID] = append(f.scripts[chargeID], results...)
	return f
}

// Hold makes every lookup block until Release is called or ctx ends.
func (f *Fake) Hold() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gate = make(chan struct{})
}

func (f *Fake) Release() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gate != nil {
		close(f.gate)
		f.gate = nil
	}
}

// Calls returns how many lookups were made for chargeID.
func (f *Fake) Calls(chargeID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[chargeID]
}

func (f *Fake) CheckStatus(ctx context.Context, chargeID string) (*ChargeStatus, error) {
	f.mu.Lock()
	gate := f.gate
	n := f.calls[chargeID]
	f.calls[chargeID] = n + 1
	script := f.scripts[chargeID]
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, ctx.Err())
		}
	}

	if len(script) == 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrGatewayRejected, chargeID)
	}
	if n >= len(script) {
		n = len(script) - 1
	}
	r := script[n]
	if r.Err != nil {
		return nil, r.Err
	}
	st := r.Status
	return &st, nil
}
