package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/utafrali/ordersaga/pkg/errors"
)

func fakeResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func TestParseResponseError_StructuredBodies(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		sentinel error
		code     int
	}{
		{"not found", http.StatusNotFound, `{"error":{"code":"NOT_FOUND","message":"order missing"}}`, apperrors.ErrNotFound, http.StatusNotFound},
		{"bad request", http.StatusBadRequest, `{"error":{"code":"INVALID_INPUT","message":"bad qty"}}`, apperrors.ErrInvalidInput, http.StatusBadRequest},
		{"conflict", http.StatusConflict, `{"error":{"code":"CONFLICT","message":"stock"}}`, apperrors.ErrConflict, http.StatusConflict},
		{"unauthorized", http.StatusUnauthorized, `{"error":{"code":"UNAUTHORIZED","message":"no"}}`, apperrors.ErrUnauthorized, http.StatusUnauthorized},
		{"forbidden", http.StatusForbidden, `{"error":{"code":"FORBIDDEN","message":"no"}}`, apperrors.ErrForbidden, http.StatusForbidden},
		{"gone", http.StatusGone, `{"error":{"code":"GONE","message":"expired"}}`, apperrors.ErrGone, http.StatusGone},
		{"payment 422", http.StatusUnprocessableEntity, `{"error":{"code":"DECLINED","message":"card declined"}}`, apperrors.ErrPaymentFailed, http.StatusUnprocessableEntity},
		{"payment 402", http.StatusPaymentRequired, `{"success":false,"message":"insufficient funds"}`, apperrors.ErrPaymentFailed, http.StatusUnprocessableEntity},
		{"unavailable", http.StatusServiceUnavailable, `{"error":{"code":"DOWN","message":"maintenance"}}`, apperrors.ErrServiceUnavail, http.StatusServiceUnavailable},
		{"legacy envelope", http.StatusBadRequest, `{"success":false,"message":"Some products are not available"}`, apperrors.ErrInvalidInput, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ParseResponseError(fakeResponse(tt.status, tt.body), "inventory-service")
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.sentinel), "got %v", err)
			assert.Equal(t, tt.code, apperrors.HTTPStatus(err))
		})
	}
}

func TestParseResponseError_KeepsMessage(t *testing.T) {
	err := ParseResponseError(fakeResponse(http.StatusUnprocessableEntity,
		`{"error":{"code":"DECLINED","message":"card declined"}}`), "payment-service")

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "payment-service: card declined", appErr.Message)
}

func TestParseResponseError_ServerErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"structured", `{"error":{"code":"INTERNAL","message":"something went wrong"}}`},
		{"unstructured", "Bad Gateway: upstream connection refused"},
		{"html", "<html><body>nginx</body></html>"},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ParseResponseError(fakeResponse(http.StatusBadGateway, tt.body), "order-service")

			var up *UpstreamError
			require.ErrorAs(t, err, &up)
			assert.Equal(t, "order-service", up.Service)
			assert.Equal(t, http.StatusBadGateway, up.StatusCode)
			assert.Contains(t, err.Error(), "502")
		})
	}
}

func TestParseResponseError_UnstructuredClientError(t *testing.T) {
	err := ParseResponseError(fakeResponse(http.StatusTeapot, "short and stout"), "svc")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "svc")
	assert.Contains(t, err.Error(), "418")
	assert.Contains(t, err.Error(), "short and stout")
}

func TestParseResponseError_UnknownStatusKeepsCode(t *testing.T) {
	err := ParseResponseError(fakeResponse(http.StatusTooManyRequests,
		`{"error":{"code":"RATE_LIMITED","message":"slow down"}}`), "payment-service")

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "RATE_LIMITED", appErr.Code)
	assert.Equal(t, http.StatusTooManyRequests, appErr.Status)
}

func TestTransportError(t *testing.T) {
	t.Run("circuit open", func(t *testing.T) {
		err := TransportError(fmt.Errorf("call: %w", ErrCircuitOpen), "payment-service")
		assert.Equal(t, http.StatusServiceUnavailable, apperrors.HTTPStatus(err))
	})

	t.Run("deadline", func(t *testing.T) {
		err := TransportError(fmt.Errorf("call: %w", context.DeadlineExceeded), "inventory-service")
		assert.Equal(t, http.StatusServiceUnavailable, apperrors.HTTPStatus(err))
		assert.Contains(t, err.Error(), "timed out")
	})

	t.Run("upstream", func(t *testing.T) {
		err := TransportError(&UpstreamError{Service: "inventory-service", StatusCode: 500}, "inventory-service")
		assert.Equal(t, http.StatusBadGateway, apperrors.HTTPStatus(err))
		var up *UpstreamError
		assert.ErrorAs(t, err, &up)
	})

	t.Run("app error passes through", func(t *testing.T) {
		in := apperrors.ServiceUnavailable("fallback")
		assert.Same(t, in, TransportError(in, "x"))
	})

	t.Run("canceled passes through", func(t *testing.T) {
		assert.ErrorIs(t, TransportError(context.Canceled, "x"), context.Canceled)
	})
}

func TestIsClientError(t *testing.T) {
	assert.True(t, IsClientError(400))
	assert.True(t, IsClientError(499))
	assert.False(t, IsClientError(399))
	assert.False(t, IsClientError(500))
	assert.False(t, IsClientError(200))
}
