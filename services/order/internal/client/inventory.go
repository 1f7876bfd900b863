package client

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	apperrors "github.com/utafrali/ordersaga/pkg/errors"
	"github.com/utafrali/ordersaga/pkg/httpclient"
	"github.com/utafrali/ordersaga/services/order/internal/domain"
)

const inventoryService = "product-service"

// Availability is the product service's answer for one requested item.
type Availability struct {
	ProductID    string `json:"product_id"`
	Available    bool   `json:"available"`
	CurrentStock int    `json:"current_stock"`
	Price        int64  `json:"price"`
	Name         string `json:"name"`
	SKU          string `json:"sku,omitempty"`
}

// InventoryClient talks to the product service's inventory endpoints.
type InventoryClient struct {
	http    HTTPDoer
	baseURL string
	logger  *slog.Logger
}

// NewInventoryClient creates a client rooted at baseURL.
func NewInventoryClient(doer HTTPDoer, baseURL string, logger *slog.Logger) *InventoryClient {
	return &InventoryClient{http: doer, baseURL: baseURL, logger: logger}
}

type itemsRequest struct {
	Items []ItemQuantity `json:"items"`
}

// CheckAvailability asks whether every requested quantity is in stock. It
// does not reserve anything.
func (c *InventoryClient) CheckAvailability(ctx context.Context, items []ItemQuantity) ([]Availability, error) {
	resp, err := do(ctx, c.http, call{
		service: inventoryService,
		method:  http.MethodPost,
		url:     c.baseURL + "/products/check-availability",
		body:    itemsRequest{Items: items},
	})
	if err != nil {
		return nil, err
	}
	if !isSuccess(resp.StatusCode) {
		return nil, httpclient.ParseResponseError(resp, inventoryService)
	}
	return decodeData[[]Availability](resp, inventoryService)
}

// Reserve decrements stock for every item. The product service reserves all
// or nothing; a refusal comes back as *domain.InsufficientStockError.
func (c *InventoryClient) Reserve(ctx context.Context, items []ItemQuantity) ([]ItemQuantity, error) {
	resp, err := do(ctx, c.http, call{
		service: inventoryService,
		method:  http.MethodPost,
		url:     c.baseURL + "/products/reserve-inventory",
		body:    itemsRequest{Items: items},
	})
	if err != nil {
		return nil, err
	}

	switch {
	case isSuccess(resp.StatusCode):
	case resp.StatusCode == http.StatusConflict, resp.StatusCode == http.StatusUnprocessableEntity:
		cause := httpclient.ParseResponseError(resp, inventoryService)
		return nil, &domain.InsufficientStockError{Reason: apperrors.Message(cause)}
	default:
		return nil, httpclient.ParseResponseError(resp, inventoryService)
	}

	reserved, err := decodeData[[]ItemQuantity](resp, inventoryService)
	if err != nil {
		return nil, err
	}

	c.logger.InfoContext(ctx, "inventory reserved", slog.Int("items_count", len(reserved)))
	return reserved, nil
}

// ReleaseKey is the idempotency key for giving back the stock held by one
// order. Rollback and cancellation release the same reservation, so they
// share it.
func ReleaseKey(orderID string) string {
	return "release-" + orderID
}

// Release re-increments stock. key identifies the release operation, so the
// product service applies a repeated release once; an empty key gets a
// random one that only covers transport retries of this call.
func (c *InventoryClient) Release(ctx context.Context, items []ItemQuantity, key string) error {
	if len(items) == 0 {
		return nil
	}

	if key == "" {
		key = uuid.NewString()
	}
	resp, err := do(ctx, c.http, call{
		service:        inventoryService,
		method:         http.MethodPost,
		url:            c.baseURL + "/products/release-inventory",
		body:           itemsRequest{Items: items},
		idempotencyKey: key,
	})
	if err != nil {
		return err
	}
	if !isSuccess(resp.StatusCode) {
		return httpclient.ParseResponseError(resp, inventoryService)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	c.logger.InfoContext(ctx, "inventory released", slog.Int("items_count", len(items)))
	return nil
}
