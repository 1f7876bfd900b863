// Package client holds typed adapters for the collaborators the order sagas
// call: the product service for inventory and the payment service.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/utafrali/ordersaga/pkg/httpclient"
)

// HTTPDoer is the interface for executing HTTP requests.
// Both httpclient.Client and httpclient.CircuitBreakerClient satisfy this.
type HTTPDoer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// ItemQuantity is a product and a quantity. It is both the unit of an
// availability check and of a reservation.
type ItemQuantity struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// envelope is the {data: ...} wrapper collaborators answer with.
type envelope[T any] struct {
	Data T `json:"data"`
}

type call struct {
	service        string
	method         string
	url            string
	body           any
	idempotencyKey string
}

// do sends c and returns the raw response when the status is 2xx. Transport
// failures are classified with httpclient.TransportError; non-2xx responses
// are handed back unread so callers can map business statuses first.
func do(ctx context.Context, doer HTTPDoer, c call) (*http.Response, error) {
	var payload []byte
	if c.body != nil {
		var err error
		payload, err = json.Marshal(c.body)
		if err != nil {
			return nil, fmt.Errorf("marshal %s request: %w", c.service, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, c.method, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", c.service, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.idempotencyKey != "" {
		req.Header.Set(httpclient.HeaderIdempotencyKey, c.idempotencyKey)
	}

	resp, err := doer.Do(ctx, req)
	if err != nil {
		return nil, httpclient.TransportError(err, c.service)
	}
	return resp, nil
}

func decodeData[T any](resp *http.Response, service string) (T, error) {
	defer resp.Body.Close()

	var env envelope[T]
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		var zero T
		return zero, fmt.Errorf("decode %s response: %w", service, err)
	}
	return env.Data, nil
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}
