package handler

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"settlement-service/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusFor(t *testing.T) {
	tests := map[string]int{
		domain.CodeOK:                  http.StatusOK,
		domain.CodeNotFound:            http.StatusNotFound,
		domain.CodeInvalidInput:        http.StatusBadRequest,
		domain.CodeCurrencyMismatch:    http.StatusBadRequest,
		domain.CodeForbidden:           http.StatusForbidden,
		domain.CodeUnauthorized:        http.StatusUnauthorized,
		domain.CodeInvalidTransition:   http.StatusConflict,
		domain.CodeAlreadyResolved:     http.StatusConflict,
		domain.CodeIdempotencyConflict: http.StatusConflict,
		domain.CodeChargeConflict:      http.StatusConflict,
		domain.CodeInsufficientBalance: http.StatusConflict,
		domain.CodeAmountMismatch:      http.StatusUnprocessableEntity,
		domain.CodePaymentDeclined:     http.StatusUnprocessableEntity,
		domain.CodeGatewayUnavailable:  http.StatusServiceUnavailable,
		domain.CodeGatewayRejected:     http.StatusBadGateway,
		domain.CodeVerificationPending: http.StatusAccepted,
		domain.CodeInternal:            http.StatusInternalServerError,
		"something_new":                http.StatusInternalServerError,
	}
	for code, want := range tests {
		assert.Equal(t, want, StatusFor(code), code)
	}
}

func TestDecodeJSON(t *testing.T) {
	var v struct {
		Action string `json:"action"`
	}

	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"action":"approve"}`))
	require.NoError(t, decodeJSON(httptest.NewRecorder(), r, &v))
	assert.Equal(t, "approve", v.Action)

	for name, body := range map[string]string{
		"empty":   "",
		"unknown": `{"action":"approve","extra":1}`,
		"broken":  `{"action":`,
	} {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		err := decodeJSON(httptest.NewRecorder(), r, &v)
		assert.ErrorIs(t, err, domain.ErrInvalidInput, name)
	}
}

func TestPageFrom(t *testing.T) {
	p, err := pageFrom(httptest.NewRequest(http.MethodGet, "/?limit=500&offset=3", nil))
	require.NoError(t, err)
	assert.Equal(t, domain.MaxPageSize, p.Limit)
	assert.Equal(t, 3, p.Offset)

	p, err = pageFrom(httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultPageSize, p.Limit)

	_, err = pageFrom(httptest.NewRequest(http.MethodGet, "/?offset=-1", nil))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestActorRequired(t *testing.T) {
	_, err := actor(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}
