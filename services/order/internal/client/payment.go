package client

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/utafrali/ordersaga/pkg/httpclient"
)

const paymentService = "payment-service"

// ChargeRequest is what the payment service needs to take a payment.
type ChargeRequest struct {
	OrderID     string         `json:"order_id"`
	OrderNumber string         `json:"order_number"`
	Amount      int64          `json:"amount"`
	Currency    string         `json:"currency"`
	UserID      string         `json:"user_id"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Payment is the payment service's view of a charge. The orchestrator only
// relies on ID and Status.
type Payment struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// Refund is the payment service's answer to a refund.
type Refund struct {
	RefundTransactionID string `json:"refund_transaction_id"`
	Status              string `json:"status,omitempty"`
}

// PaymentClient talks to the payment service.
type PaymentClient struct {
	http    HTTPDoer
	baseURL string
	logger  *slog.Logger
}

// NewPaymentClient creates a client rooted at baseURL.
func NewPaymentClient(doer HTTPDoer, baseURL string, logger *slog.Logger) *PaymentClient {
	return &PaymentClient{http: doer, baseURL: baseURL, logger: logger}
}

// Charge takes a payment for an order. A declined charge comes back as an
// AppError wrapping apperrors.ErrPaymentFailed with the gateway's reason.
// Charges are never retried by the transport.
func (c *PaymentClient) Charge(ctx context.Context, req ChargeRequest) (*Payment, error) {
	resp, err := do(ctx, c.http, call{
		service: paymentService,
		method:  http.MethodPost,
		url:     c.baseURL + "/payments",
		body:    req,
	})
	if err != nil {
		return nil, err
	}
	if !isSuccess(resp.StatusCode) {
		return nil, httpclient.ParseResponseError(resp, paymentService)
	}

	payment, err := decodeData[Payment](resp, paymentService)
	if err != nil {
		return nil, err
	}

	c.logger.InfoContext(ctx, "payment charged",
		slog.String("order_id", req.OrderID),
		slog.String("payment_id", payment.ID),
		slog.String("payment_status", payment.Status),
	)
	return &payment, nil
}

type refundRequest struct {
	Amount *int64 `json:"amount,omitempty"`
}

// Refund refunds a payment, in full when amount is nil. One payment is
// refunded at most once, so the payment id doubles as the idempotency key.
func (c *PaymentClient) Refund(ctx context.Context, paymentID string, amount *int64) (*Refund, error) {
	resp, err := do(ctx, c.http, call{
		service:        paymentService,
		method:         http.MethodPost,
		url:            c.baseURL + "/payments/" + url.PathEscape(paymentID) + "/refund",
		body:           refundRequest{Amount: amount},
		idempotencyKey: "refund-" + paymentID,
	})
	if err != nil {
		return nil, err
	}
	if !isSuccess(resp.StatusCode) {
		return nil, httpclient.ParseResponseError(resp, paymentService)
	}

	refund, err := decodeData[Refund](resp, paymentService)
	if err != nil {
		return nil, err
	}

	c.logger.InfoContext(ctx, "payment refunded",
		slog.String("payment_id", paymentID),
		slog.String("refund_transaction_id", refund.RefundTransactionID),
	)
	return &refund, nil
}
