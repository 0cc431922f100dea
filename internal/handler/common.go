// internal/handler/common.go
package handler

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"settlement-service/internal/domain"
	"settlement-service/internal/middleware"
	"settlement-service/pkg/response"

	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

// StatusFor maps an error code to its HTTP status.
func StatusFor(code string) int {
	switch code {
	case domain.CodeOK:
		return http.StatusOK
	case domain.CodeNotFound:
		return http.StatusNotFound
	case domain.CodeInvalidInput, domain.CodeCurrencyMismatch:
		return http.StatusBadRequest
	case domain.CodeForbidden:
		return http.StatusForbidden
	case domain.CodeUnauthorized:
		return http.StatusUnauthorized
	case domain.CodeInvalidTransition, domain.CodeAlreadyResolved, domain.CodeIdempotencyConflict,
		domain.CodeChargeConflict, domain.CodeInsufficientBalance, domain.CodeConcurrentUpdate:
		return http.StatusConflict
	case domain.CodeAmountMismatch, domain.CodePaymentDeclined:
		return http.StatusUnprocessableEntity
	case domain.CodeGatewayUnavailable:
		return http.StatusServiceUnavailable
	case domain.CodeGatewayRejected:
		return http.StatusBadGateway
	case domain.CodeVerificationPending:
		return http.StatusAccepted
	}
	return http.StatusInternalServerError
}

// writeError renders err with its stable code. Internal errors are logged and
// replaced by a generic message.
func writeError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	code := domain.CodeOf(err)
	msg := err.Error()
	if code == domain.CodeInternal {
		logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		msg = "internal error"
	}
	response.Error(w, StatusFor(code), code, msg)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if err == io.EOF {
			return fmt.Errorf("%w: request body is empty", domain.ErrInvalidInput)
		}
		return fmt.Errorf("%w: invalid request body: %v", domain.ErrInvalidInput, err)
	}
	return nil
}

func actor(r *http.Request) (middleware.Actor, error) {
	a, ok := middleware.ActorFrom(r.Context())
	if !ok {
		return middleware.Actor{}, domain.ErrUnauthorized
	}
	return a, nil
}

func pageFrom(r *http.Request) (domain.Page, error) {
	var p domain.Page
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return p, fmt.Errorf("%w: limit must be a non-negative integer", domain.ErrInvalidInput)
		}
		p.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return p, fmt.Errorf("%w: offset must be a non-negative integer", domain.ErrInvalidInput)
		}
		p.Offset = n
	}
	return p.Normalize(), nil
}

type listResponse struct {
	Items  any `json:"items"`
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}
