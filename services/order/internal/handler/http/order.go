package http

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/utafrali/ordersaga/pkg/httputil"
	"github.com/utafrali/ordersaga/pkg/logger"
	"github.com/utafrali/ordersaga/pkg/middleware"
	"github.com/utafrali/ordersaga/pkg/pagination"
	"github.com/utafrali/ordersaga/pkg/saga"
	"github.com/utafrali/ordersaga/pkg/validator"
	"github.com/utafrali/ordersaga/services/order/internal/domain"
	"github.com/utafrali/ordersaga/services/order/internal/repository"
	"github.com/utafrali/ordersaga/services/order/internal/service"
)

// OrderHandler handles HTTP requests for order endpoints.
type OrderHandler struct {
	service *service.OrderService
	logger  *slog.Logger
}

// NewOrderHandler creates a new order HTTP handler.
func NewOrderHandler(svc *service.OrderService, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{
		service: svc,
		logger:  logger,
	}
}

// --- Request DTOs ---

// CreateOrderItemRequest is the JSON request body for an order line item.
// Prices are in minor units; name and SKU default to the catalog's.
type CreateOrderItemRequest struct {
	ProductID   string `json:"product_id" validate:"required"`
	ProductName string `json:"product_name" validate:"max=255"`
	SKU         string `json:"sku" validate:"max=100"`
	Quantity    int    `json:"quantity" validate:"required,gte=1"`
	UnitPrice   int64  `json:"unit_price" validate:"required,gt=0"`
}

// CreateOrderRequest is the JSON request body for creating an order. The
// ordering user is taken from the X-User-ID header.
type CreateOrderRequest struct {
	Items           []CreateOrderItemRequest `json:"items" validate:"required,min=1,dive"`
	DiscountAmount  int64                    `json:"discount_amount" validate:"gte=0"`
	ShippingAmount  int64                    `json:"shipping_amount" validate:"gte=0"`
	Currency        string                   `json:"currency" validate:"omitempty,currency"`
	ShippingAddress *domain.Address          `json:"shipping_address"`
	BillingAddress  *domain.Address          `json:"billing_address"`
	Notes           string                   `json:"notes" validate:"max=1000"`
}

// UpdateStatusRequest is the JSON request body for updating order status.
type UpdateStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=pending confirmed processing shipped delivered cancelled refunded"`
}

// --- Handlers ---

// CreateOrder handles POST /api/v1/orders
func (h *OrderHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	var req CreateOrderRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, r, err)
		return
	}

	items := make([]service.CreateOrderItemInput, len(req.Items))
	for i, item := range req.Items {
		items[i] = service.CreateOrderItemInput{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			SKU:         item.SKU,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
		}
	}

	order, err := h.service.CreateOrder(r.Context(), service.CreateOrderInput{
		UserID:          middleware.UserIDFromContext(r.Context()),
		Items:           items,
		DiscountAmount:  req.DiscountAmount,
		ShippingAmount:  req.ShippingAmount,
		Currency:        req.Currency,
		ShippingAddress: req.ShippingAddress,
		BillingAddress:  req.BillingAddress,
		Notes:           req.Notes,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: order})
}

// MyOrders handles GET /api/v1/orders/my-orders
func (h *OrderHandler) MyOrders(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	filter, ok := parseListFilter(w, r)
	if !ok {
		return
	}
	filter.UserID = &userID
	h.list(w, r, filter)
}

// ListOrders handles GET /api/v1/orders (admin)
func (h *OrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	filter, ok := parseListFilter(w, r)
	if !ok {
		return
	}
	if v := r.URL.Query().Get("user_id"); v != "" {
		filter.UserID = &v
	}
	h.list(w, r, filter)
}

func (h *OrderHandler) list(w http.ResponseWriter, r *http.Request, filter repository.OrderFilter) {
	orders, total, err := h.service.ListOrders(r.Context(), filter)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, pagination.NewPage(orders, total, pagination.Params{Page: filter.Page, PerPage: filter.PerPage}))
}

// GetOrder handles GET /api/v1/orders/{id}
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, r, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	order, err := h.service.GetOrder(r.Context(), id.String(), callerFrom(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: order})
}

// GetOrderByNumber handles GET /api/v1/orders/number/{orderNumber}
func (h *OrderHandler) GetOrderByNumber(w http.ResponseWriter, r *http.Request) {
	order, err := h.service.GetOrderByNumber(r.Context(), chi.URLParam(r, "orderNumber"), callerFrom(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: order})
}

// UpdateOrderStatus handles PATCH /api/v1/orders/{id}/status (admin)
func (h *OrderHandler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, r, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	var req UpdateStatusRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, r, err)
		return
	}

	order, err := h.service.UpdateOrderStatus(r.Context(), id.String(), req.Status)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: order})
}

// CancelOrder handles POST /api/v1/orders/{id}/cancel
func (h *OrderHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, r, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	order, err := h.service.CancelOrder(r.Context(), id.String(), middleware.UserIDFromContext(r.Context()))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: order})
}

// --- Helpers ---

func callerFrom(r *http.Request) service.Caller {
	return service.Caller{
		UserID: middleware.UserIDFromContext(r.Context()),
		Admin:  middleware.IsAdmin(r.Context()),
	}
}

// writeServiceError maps service errors onto the response envelope. Items
// that could not be covered are listed per product in the error fields.
func (h *OrderHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	if step, ok := saga.FailedStep(err); ok {
		logger.WithContext(r.Context(), h.logger).WarnContext(r.Context(), "order saga failed",
			slog.String("step", step),
			slog.String("error", err.Error()),
		)
	}

	var unavailable *domain.ProductUnavailableError
	if errors.As(err, &unavailable) {
		fields := make(map[string]string, len(unavailable.Items))
		for _, it := range unavailable.Items {
			fields[it.ProductID] = fmt.Sprintf("requested %d, in stock %d", it.Requested, it.CurrentStock)
		}
		httputil.WriteJSON(w, unavailable.HTTPStatus(), httputil.Response{
			Error: &httputil.ErrorResponse{
				Code:      unavailable.ErrorCode(),
				Message:   "some products are not available",
				Fields:    fields,
				RequestID: logger.CorrelationIDFromContext(r.Context()),
			},
		})
		return
	}

	var priced *domain.PriceChangedError
	if errors.As(err, &priced) {
		fields := make(map[string]string, len(priced.Items))
		for _, it := range priced.Items {
			fields[it.ProductID] = fmt.Sprintf("requested price %d, current price %d", it.Requested, it.Current)
		}
		httputil.WriteJSON(w, priced.HTTPStatus(), httputil.Response{
			Error: &httputil.ErrorResponse{
				Code:      priced.ErrorCode(),
				Message:   "some prices have changed",
				Fields:    fields,
				RequestID: logger.CorrelationIDFromContext(r.Context()),
			},
		})
		return
	}

	httputil.WriteError(w, r, err, h.logger)
}

func parseListFilter(w http.ResponseWriter, r *http.Request) (repository.OrderFilter, bool) {
	p := pagination.FromRequest(r)
	filter := repository.OrderFilter{Page: p.Page, PerPage: p.PerPage}

	q := r.URL.Query()
	if v := q.Get("status"); v != "" {
		filter.Status = &v
	}

	for _, bound := range []struct {
		name  string
		dst   **time.Time
		endOf bool
	}{
		{"from", &filter.From, false},
		{"to", &filter.To, true},
	} {
		v := q.Get(bound.name)
		if v == "" {
			continue
		}
		t, err := parseTimeParam(v, bound.endOf)
		if err != nil {
			httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
				Error: &httputil.ErrorResponse{
					Code:    "INVALID_PARAMETER",
					Message: bound.name + " must be an RFC 3339 timestamp or a YYYY-MM-DD date",
				},
			})
			return filter, false
		}
		*bound.dst = &t
	}

	return filter, true
}

// parseTimeParam accepts RFC 3339 or a bare date. A bare date used as an
// upper bound covers the whole day.
func parseTimeParam(v string, endOfDay bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}
