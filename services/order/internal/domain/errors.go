package domain

import (
	"fmt"
	"net/http"
	"strings"
)

// InvalidStatusTransitionError is returned when a status change is not in
// the transition table.
type InvalidStatusTransitionError struct {
	From string
	To   string
}

func (e *InvalidStatusTransitionError) Error() string {
	return fmt.Sprintf("cannot transition order from %s to %s", e.From, e.To)
}

func (e *InvalidStatusTransitionError) HTTPStatus() int   { return http.StatusBadRequest }
func (e *InvalidStatusTransitionError) ErrorCode() string { return "INVALID_STATUS_TRANSITION" }

// OrderNotCancellableError is returned when a cancel is attempted on an
// order that is past the point of customer cancellation.
type OrderNotCancellableError struct {
	OrderID string
	Status  string
}

func (e *OrderNotCancellableError) Error() string {
	return fmt.Sprintf("order %s cannot be cancelled in status %s", e.OrderID, e.Status)
}

func (e *OrderNotCancellableError) HTTPStatus() int   { return http.StatusBadRequest }
func (e *OrderNotCancellableError) ErrorCode() string { return "ORDER_NOT_CANCELLABLE" }

// UnavailableItem describes a requested product the inventory cannot cover.
type UnavailableItem struct {
	ProductID    string `json:"product_id"`
	Name         string `json:"name,omitempty"`
	Requested    int    `json:"requested"`
	CurrentStock int    `json:"current_stock"`
}

// ProductUnavailableError is returned by the availability check when one or
// more requested items exceed stock.
type ProductUnavailableError struct {
	Items []UnavailableItem
}

func (e *ProductUnavailableError) Error() string {
	ids := make([]string, 0, len(e.Items))
	for _, it := range e.Items {
		ids = append(ids, it.ProductID)
	}
	return "products not available: " + strings.Join(ids, ", ")
}

func (e *ProductUnavailableError) HTTPStatus() int   { return http.StatusConflict }
func (e *ProductUnavailableError) ErrorCode() string { return "PRODUCT_UNAVAILABLE" }

// PriceChange is a line whose price differs from the product's current one.
type PriceChange struct {
	ProductID string `json:"product_id"`
	Requested int64  `json:"requested_price"`
	Current   int64  `json:"current_price"`
}

// PriceChangedError is returned by the availability check when the order was
// priced with stale product prices.
type PriceChangedError struct {
	Items []PriceChange
}

func (e *PriceChangedError) Error() string {
	parts := make([]string, 0, len(e.Items))
	for _, it := range e.Items {
		parts = append(parts, fmt.Sprintf("%s (%d -> %d)", it.ProductID, it.Requested, it.Current))
	}
	return "prices changed: " + strings.Join(parts, ", ")
}

func (e *PriceChangedError) HTTPStatus() int   { return http.StatusConflict }
func (e *PriceChangedError) ErrorCode() string { return "PRICE_CHANGED" }

// InsufficientStockError is returned when the inventory refuses a
// reservation.
type InsufficientStockError struct {
	Reason string
}

func (e *InsufficientStockError) Error() string {
	if e.Reason == "" {
		return "insufficient stock"
	}
	return "insufficient stock: " + e.Reason
}

func (e *InsufficientStockError) HTTPStatus() int   { return http.StatusConflict }
func (e *InsufficientStockError) ErrorCode() string { return "INSUFFICIENT_STOCK" }
