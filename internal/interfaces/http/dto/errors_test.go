package dto

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetHTTPStatus(t *testing.T) {
	tests := []struct {
		code     string
		expected int
	}{
		{ErrCodeInternal, http.StatusInternalServerError},
		{ErrCodeValidation, http.StatusBadRequest},
		{ErrCodeUnauthorized, http.StatusUnauthorized},
		{ErrCodeForbidden, http.StatusForbidden},
		{ErrCodeNotFound, http.StatusNotFound},
		{ErrCodeConcurrencyConflict, http.StatusConflict},
		{ErrCodeInsufficientStock, http.StatusUnprocessableEntity},
		{ErrCodeRateLimited, http.StatusTooManyRequests},
		{ErrCodeUpstream, http.StatusBadGateway},
		{ErrCodeQuantityMismatch, http.StatusUnprocessableEntity},
		{ErrCodeNoAllocationChosen, http.StatusUnprocessableEntity},
		{ErrCodeSubmitInProgress, http.StatusConflict},
		{ErrCodeRequestTooLarge, http.StatusRequestEntityTooLarge},
		{"UNKNOWN_CODE", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.expected, GetHTTPStatus(tt.code))
		})
	}
}

func TestNormalizeErrorCode(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"NOT_FOUND", ErrCodeNotFound},
		{"INSUFFICIENT_STOCK", ErrCodeInsufficientStock},
		{"UPSTREAM_ERROR", ErrCodeUpstream},
		{"QUANTITY_MISMATCH", "QUANTITY_MISMATCH"},
		{ErrCodeNotFound, ErrCodeNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeErrorCode(tt.input))
		})
	}
}

func TestEveryNormalizedCodeHasAStatus(t *testing.T) {
	for from, to := range domainErrorCodeMapping {
		_, ok := ErrorCodeHTTPStatus[to]
		assert.True(t, ok, "%s maps to %s without an HTTP status", from, to)
	}
}

func TestErrorResponseJSON(t *testing.T) {
	resp := NewErrorResponseWithRequestID(ErrCodeNotFound, "Allocation session not found", "req-1")

	raw, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"success": false,
		"error": {"code": "ERR_NOT_FOUND", "message": "Allocation session not found"},
		"request_id": "req-1"
	}`, string(raw))
}

func TestNewValidationErrorResponse(t *testing.T) {
	resp := NewValidationErrorResponse("Request validation failed", "req-2", []ValidationDetail{
		{Field: "detail_id", Message: "detail_id is required", Tag: "required"},
	})

	assert.False(t, resp.Success)
	assert.Equal(t, ErrCodeValidation, resp.Error.Code)
	assert.Equal(t, "req-2", resp.RequestID)
	require.Len(t, resp.Error.Details, 1)
	assert.Equal(t, "detail_id", resp.Error.Details[0].Field)
}

func TestSuccessResponseJSON(t *testing.T) {
	raw, err := json.Marshal(NewSuccessResponse(map[string]string{"status": "ok"}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"success": true, "data": {"status": "ok"}}`, string(raw))
}
