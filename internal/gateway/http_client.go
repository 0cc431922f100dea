// internal/gateway/http_client.go
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"settlement-service/config"
	"settlement-service/internal/domain"
	"settlement-service/internal/metrics"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type HTTPGateway struct {
	baseURL     string
	secretKey   string
	client      *http.Client
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	logger      *zap.Logger
}

func NewHTTPGateway(cfg config.GatewayConfig, logger *zap.Logger) *HTTPGateway {
	maxAttempts := cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &HTTPGateway{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		secretKey:   cfg.SecretKey,
		client:      &http.Client{Timeout: cfg.Timeout},
		maxAttempts: maxAttempts,
		baseDelay:   cfg.BaseDelay,
		maxDelay:    cfg.MaxDelay,
		logger:      logger,
	}
}

type chargeResponse struct {
	ID       string          `json:"id"`
	Status   string          `json:"status"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

type apiError struct {
	Errors []struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"errors"`
}

// retryable marks failures worth another attempt.
type retryable struct{ err error }

func (r *retryable) Error() string { return r.err.Error() }
func (r *retryable) Unwrap() error { return r.err }

// CheckStatus retries transient failures with capped exponential backoff.
func (g *HTTPGateway) CheckStatus(ctx context.Context, chargeID string) (*ChargeStatus, error) {
	if strings.TrimSpace(chargeID) == "" {
		return nil, fmt.Errorf("%w: empty charge id", domain.ErrGatewayRejected)
	}

	var lastErr error
	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		status, err := g.fetch(ctx, chargeID)
		if err == nil {
			metrics.GatewayCalls.WithLabelValues(string(status.Status)).Inc()
			return status, nil
		}
		lastErr = err

		var r *retryable
		if !errors.As(err, &r) {
			break
		}
		if attempt == g.maxAttempts {
			break
		}

		delay := g.backoff(attempt)
		g.logger.Warn("gateway lookup failed, retrying",
			zap.String("charge_id", chargeID),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))

		select {
		case <-ctx.Done():
			metrics.GatewayCalls.WithLabelValues("unavailable").Inc()
			return nil, fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, ctx.Err())
		case <-time.After(delay):
		}
	}

	if errors.Is(lastErr, domain.ErrGatewayRejected) {
		metrics.GatewayCalls.WithLabelValues("rejected").Inc()
	} else {
		metrics.GatewayCalls.WithLabelValues("unavailable").Inc()
	}
	return nil, lastErr
}

func (g *HTTPGateway) backoff(attempt int) time.Duration {
	d := g.baseDelay << (attempt - 1)
	if d <= 0 || (g.maxDelay > 0 && d > g.maxDelay) {
		return g.maxDelay
	}
	return d
}

func (g *HTTPGateway) fetch(ctx context.Context, chargeID string) (*ChargeStatus, error) {
	endpoint := g.baseURL + "/charges/" + url.PathEscape(chargeID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", domain.ErrGatewayUnavailable, err)
	}
	req.Header.Set("Authorization", "Bearer "+g.secretKey)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := g.client.Do(req)
	metrics.GatewayDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, ctx.Err())
		}
		return nil, &retryable{fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &retryable{fmt.Errorf("%w: read body: %v", domain.ErrGatewayUnavailable, err)}
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusBadRequest:
		return nil, fmt.Errorf("%w: %s", domain.ErrGatewayRejected, describe(resp.StatusCode, body))
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		g.logger.Error("gateway rejected credentials", zap.Int("status", resp.StatusCode))
		return nil, fmt.Errorf("%w: %s", domain.ErrGatewayUnavailable, describe(resp.StatusCode, body))
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, &retryable{fmt.Errorf("%w: %s", domain.ErrGatewayUnavailable, describe(resp.StatusCode, body))}
	default:
		return nil, fmt.Errorf("%w: %s", domain.ErrGatewayUnavailable, describe(resp.StatusCode, body))
	}

	var cr chargeResponse
	if err := json.Unmarshal(body, &cr); err != nil {
		return nil, fmt.Errorf("%w: decode charge: %v", domain.ErrGatewayUnavailable, err)
	}
	if cr.ID != "" && cr.ID != chargeID {
		return nil, fmt.Errorf("%w: gateway returned charge %q for %q", domain.ErrGatewayRejected, cr.ID, chargeID)
	}
	status, ok := NormalizeStatus(cr.Status)
	if !ok {
		g.logger.Error("gateway returned an unknown charge status",
			zap.String("charge_id", chargeID),
			zap.String("upstream_status", cr.Status))
		return nil, fmt.Errorf("%w: unknown charge status %q", domain.ErrGatewayUnavailable, cr.Status)
	}

	return &ChargeStatus{
		ChargeID:       chargeID,
		Status:         status,
		Amount:         cr.Amount,
		Currency:       strings.ToUpper(cr.Currency),
		UpstreamStatus: cr.Status,
	}, nil
}

func describe(code int, body []byte) string {
	var ae apiError
	if json.Unmarshal(body, &ae) == nil && len(ae.Errors) > 0 {
		return fmt.Sprintf("http %d: %s %s", code, ae.Errors[0].Code, ae.Errors[0].Description)
	}
	return fmt.Sprintf("http %d", code)
}
