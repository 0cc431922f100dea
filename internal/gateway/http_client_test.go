package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"settlement-service/config"
	"settlement-service/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestGateway(url string) *HTTPGateway {
	return NewHTTPGateway(config.GatewayConfig{
		BaseURL:     url,
		SecretKey:   "sk_test",
		Timeout:     time.Second,
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
	}, zap.NewNop())
}

func TestCheckStatusCaptured(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/charges/chg_123", r.URL.Path)
		assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"chg_123","status":"CAPTURED","amount":100.000,"currency":"omr"}`))
	}))
	defer srv.Close()

	st, err := newTestGateway(srv.URL).CheckStatus(context.Background(), "chg_123")
	require.NoError(t, err)
	assert.Equal(t, domain.GatewayCaptured, st.Status)
	assert.Equal(t, "OMR", st.Currency)

	minor, err := st.MinorAmount()
	require.NoError(t, err)
	assert.Equal(t, int64(100_000), minor)
}

func TestCheckStatusRetriesTransientFailures(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"id":"chg_1","status":"INITIATED","amount":5,"currency":"OMR"}`))
	}))
	defer srv.Close()

	st, err := newTestGateway(srv.URL).CheckStatus(context.Background(), "chg_1")
	require.NoError(t, err)
	assert.Equal(t, domain.GatewayInitialized, st.Status)
	assert.Equal(t, int32(3), hits.Load())
}

func TestCheckStatusGivesUpAfterMaxAttempts(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newTestGateway(srv.URL).CheckStatus(context.Background(), "chg_1")
	require.ErrorIs(t, err, domain.ErrGatewayUnavailable)
	assert.Equal(t, int32(3), hits.Load())
}

func TestCheckStatusUnknownChargeIsNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"errors":[{"code":"1140","description":"charge not found"}]}`))
	}))
	defer srv.Close()

	_, err := newTestGateway(srv.URL).CheckStatus(context.Background(), "chg_missing")
	require.ErrorIs(t, err, domain.ErrGatewayRejected)
	assert.Contains(t, err.Error(), "charge not found")
	assert.Equal(t, int32(1), hits.Load())
}

func TestCheckStatusBadCredentialsIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := newTestGateway(srv.URL).CheckStatus(context.Background(), "chg_1")
	require.ErrorIs(t, err, domain.ErrGatewayUnavailable)
}

func TestCheckStatusTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := newTestGateway(srv.URL).CheckStatus(ctx, "chg_slow")
	require.ErrorIs(t, err, domain.ErrGatewayUnavailable)
}

func TestNormalizeStatus(t *testing.T) {
	cases := map[string]domain.GatewayStatus{
		"CAPTURED":    domain.GatewayCaptured,
		"initiated":   domain.GatewayInitialized,
		"IN_PROGRESS": domain.GatewayInitialized,
		"ABANDONED":   domain.GatewayCancelled,
		"CANCELLED":   domain.GatewayCancelled,
		"FAILED":      domain.GatewayFailed,
		"DECLINED":    domain.GatewayFailed,
		"RESTRICTED":  domain.GatewayFailed,
		"VOID":        domain.GatewayFailed,
		"TIMEDOUT":    domain.GatewayFailed,
	}
	for in, want := range cases {
		got, ok := NormalizeStatus(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}

	for _, in := range []string{"", "  ", "REFUND_PENDING", "captured?"} {
		_, ok := NormalizeStatus(in)
		assert.False(t, ok, in)
	}
}

func TestCheckStatusUnknownStateIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"chg_x","amount":"100.000","currency":"OMR"}`))
	}))
	defer srv.Close()

	_, err := newTestGateway(srv.URL).CheckStatus(context.Background(), "chg_x")
	require.ErrorIs(t, err, domain.ErrGatewayUnavailable)
	assert.NotErrorIs(t, err, domain.ErrGatewayRejected)
}

func TestFakeReplaysScript(t *testing.T) {
	f := NewFake().
		Fail("chg_1", domain.ErrGatewayUnavailable).
		Captured("chg_1", "10", "OMR")

	_, err := f.CheckStatus(context.Background(), "chg_1")
	require.ErrorIs(t, err, domain.ErrGatewayUnavailable)

	st, err := f.CheckStatus(context.Background(), "chg_1")
	require.NoError(t, err)
	assert.Equal(t, domain.GatewayCaptured, st.Status)

	_, err = f.CheckStatus(context.Background(), "chg_other")
	require.ErrorIs(t, err, domain.ErrGatewayRejected)
	assert.Equal(t, 2, f.Calls("chg_1"))
}
