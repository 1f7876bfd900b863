package httpclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	apperrors "github.com/utafrali/ordersaga/pkg/errors"
)

// downstreamError covers both error body shapes we receive from
// collaborators: {"error":{"code","message"}} and {"success":false,"message"}.
type downstreamError struct {
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Message string `json:"message"`
}

// UpstreamError is returned when a collaborator answered with a 5xx status
// after retries were exhausted.
type UpstreamError struct {
	Service    string
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s returned status %d: %s", e.Service, e.StatusCode, e.Body)
}

// ParseResponseError reads the body of a non-2xx response and translates it
// into an AppError that keeps the downstream code and message. The body is
// fully consumed and closed.
func ParseResponseError(resp *http.Response, serviceName string) error {
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%s returned status %d (failed to read body: %w)", serviceName, resp.StatusCode, err)
	}

	var parsed downstreamError
	if json.Unmarshal(body, &parsed) == nil {
		switch {
		case parsed.Error != nil:
			return mapDownstreamError(resp.StatusCode, parsed.Error.Code, parsed.Error.Message, serviceName)
		case parsed.Message != "":
			return mapDownstreamError(resp.StatusCode, "", parsed.Message, serviceName)
		}
	}

	if resp.StatusCode >= 500 {
		return &UpstreamError{Service: serviceName, StatusCode: resp.StatusCode, Body: string(body)}
	}
	return fmt.Errorf("%s returned status %d: %s", serviceName, resp.StatusCode, string(body))
}

func mapDownstreamError(status int, code, message, serviceName string) error {
	qualified := fmt.Sprintf("%s: %s", serviceName, message)

	switch {
	case status == http.StatusNotFound:
		return apperrors.NotFound(serviceName, message)
	case status == http.StatusBadRequest:
		return apperrors.InvalidInput(qualified)
	case status == http.StatusConflict:
		return apperrors.Conflict(qualified)
	case status == http.StatusUnauthorized:
		return apperrors.Unauthorized(qualified)
	case status == http.StatusForbidden:
		return apperrors.Forbidden(qualified)
	case status == http.StatusGone:
		return apperrors.Gone(qualified)
	case status == http.StatusPaymentRequired, status == http.StatusUnprocessableEntity:
		return apperrors.PaymentFailed(qualified)
	case status == http.StatusServiceUnavailable:
		return apperrors.ServiceUnavailable(qualified)
	case status >= 500:
		return &UpstreamError{Service: serviceName, StatusCode: status, Body: fmt.Sprintf("%s: %s", code, message)}
	default:
		return &apperrors.AppError{Code: code, Message: qualified, Status: status}
	}
}

// TransportError classifies an error returned by Do (as opposed to a non-2xx
// response) into an AppError. AppErrors pass through unchanged.
func TransportError(err error, serviceName string) error {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return err
	}

	switch {
	case errors.Is(err, ErrCircuitOpen):
		return apperrors.ServiceUnavailable(fmt.Sprintf("%s is temporarily unavailable", serviceName))
	case errors.Is(err, context.DeadlineExceeded):
		return apperrors.ServiceUnavailable(fmt.Sprintf("%s timed out", serviceName))
	case errors.Is(err, context.Canceled):
		return err
	}

	return apperrors.BadGateway(serviceName, err)
}

// IsClientError returns true if the HTTP status code is a 4xx client error.
func IsClientError(status int) bool {
	return status >= 400 && status < 500
}
