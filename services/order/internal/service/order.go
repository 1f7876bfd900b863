package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	apperrors "github.com/utafrali/ordersaga/pkg/errors"
	"github.com/utafrali/ordersaga/pkg/pagination"
	"github.com/utafrali/ordersaga/services/order/internal/domain"
	"github.com/utafrali/ordersaga/services/order/internal/orchestrator"
	"github.com/utafrali/ordersaga/services/order/internal/repository"
)

// Sagas runs the multi-service order flows. *orchestrator.Orchestrator
// satisfies it.
type Sagas interface {
	CreateOrder(ctx context.Context, req orchestrator.CreateOrderRequest) (*domain.Order, error)
	CancelOrder(ctx context.Context, orderID, userID string) (*domain.Order, error)
}

// StatusPublisher publishes order status changes.
type StatusPublisher interface {
	PublishOrderStatusChanged(ctx context.Context, order *domain.Order, oldStatus string) error
}

// Caller identifies who is acting on an order.
type Caller struct {
	UserID string
	Admin  bool
}

func (c Caller) canSee(o *domain.Order) bool {
	return c.Admin || o.UserID == c.UserID
}

// OrderService implements the business logic for order operations.
type OrderService struct {
	sagas  Sagas
	repo   repository.OrderRepository
	events StatusPublisher
	logger *slog.Logger
}

// NewOrderService creates a new order service. events may be nil.
func NewOrderService(sagas Sagas, repo repository.OrderRepository, events StatusPublisher, logger *slog.Logger) *OrderService {
	return &OrderService{
		sagas:  sagas,
		repo:   repo,
		events: events,
		logger: logger,
	}
}

// CreateOrderItemInput holds the parameters for an order line item.
type CreateOrderItemInput struct {
	ProductID   string
	ProductName string
	SKU         string
	Quantity    int
	UnitPrice   int64
}

// CreateOrderInput holds the parameters for creating an order.
type CreateOrderInput struct {
	UserID          string
	Items           []CreateOrderItemInput
	DiscountAmount  int64
	ShippingAmount  int64
	Currency        string
	ShippingAddress *domain.Address
	BillingAddress  *domain.Address
	Notes           string
}

func (in CreateOrderInput) validate() error {
	if in.UserID == "" {
		return apperrors.InvalidInput("user_id is required")
	}
	if len(in.Items) == 0 {
		return apperrors.InvalidInput("order must contain at least one item")
	}
	seen := make(map[string]struct{}, len(in.Items))
	for i, it := range in.Items {
		if it.ProductID == "" {
			return apperrors.InvalidInput(fmt.Sprintf("items[%d].product_id is required", i))
		}
		if it.Quantity <= 0 {
			return apperrors.InvalidInput(fmt.Sprintf("items[%d].quantity must be positive", i))
		}
		if it.UnitPrice <= 0 {
			return apperrors.InvalidInput(fmt.Sprintf("items[%d].unit_price must be positive", i))
		}
		if _, dup := seen[it.ProductID]; dup {
			return apperrors.InvalidInput(fmt.Sprintf("product %s appears more than once", it.ProductID))
		}
		seen[it.ProductID] = struct{}{}
	}
	if in.Currency != "" && len(in.Currency) != 3 {
		return apperrors.InvalidInput("currency must be a 3-letter ISO code")
	}
	if in.DiscountAmount < 0 || in.ShippingAmount < 0 {
		return apperrors.InvalidInput("discount and shipping amounts must not be negative")
	}
	return nil
}

// CreateOrder validates the input and places the order through the
// create-order saga. Prices and product names come from the inventory.
func (s *OrderService) CreateOrder(ctx context.Context, input CreateOrderInput) (*domain.Order, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}

	items := make([]orchestrator.ItemRequest, len(input.Items))
	for i, it := range input.Items {
		items[i] = orchestrator.ItemRequest{
			ProductID:   it.ProductID,
			ProductName: it.ProductName,
			SKU:         it.SKU,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
		}
	}

	order, err := s.sagas.CreateOrder(ctx, orchestrator.CreateOrderRequest{
		UserID:          input.UserID,
		Items:           items,
		ShippingAmount:  input.ShippingAmount,
		DiscountAmount:  input.DiscountAmount,
		Currency:        strings.ToUpper(input.Currency),
		ShippingAddress: input.ShippingAddress,
		BillingAddress:  input.BillingAddress,
		Notes:           input.Notes,
	})
	if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	return order, nil
}

// GetOrder retrieves an order by its ID. Only the owner and admins may read
// it.
func (s *OrderService) GetOrder(ctx context.Context, id string, caller Caller) (*domain.Order, error) {
	order, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get order by id: %w", err)
	}
	if !caller.canSee(order) {
		return nil, apperrors.Forbidden("you do not have access to this order")
	}
	return order, nil
}

// GetOrderByNumber retrieves an order by its human-readable number.
func (s *OrderService) GetOrderByNumber(ctx context.Context, number string, caller Caller) (*domain.Order, error) {
	if _, _, err := domain.ParseOrderNumber(number); err != nil {
		return nil, apperrors.InvalidInput(err.Error())
	}
	order, err := s.repo.GetByOrderNumber(ctx, number)
	if err != nil {
		return nil, fmt.Errorf("get order by number: %w", err)
	}
	if !caller.canSee(order) {
		return nil, apperrors.Forbidden("you do not have access to this order")
	}
	return order, nil
}

// ListOrders returns a filtered, paginated list of orders.
func (s *OrderService) ListOrders(ctx context.Context, filter repository.OrderFilter) ([]domain.Order, int, error) {
	p := pagination.Normalize(filter.Page, filter.PerPage)
	filter.Page, filter.PerPage = p.Page, p.PerPage
	if filter.Status != nil && !domain.IsValidStatus(*filter.Status) {
		return nil, 0, apperrors.InvalidInput(fmt.Sprintf("invalid status %q", *filter.Status))
	}
	if filter.From != nil && filter.To != nil && filter.From.After(*filter.To) {
		return nil, 0, apperrors.InvalidInput("from must not be after to")
	}

	orders, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("list orders: %w", err)
	}

	return orders, total, nil
}

// UpdateOrderStatus moves an order along the status table. It is an
// administrative operation and has no side effects on inventory or payment.
func (s *OrderService) UpdateOrderStatus(ctx context.Context, id, newStatus string) (*domain.Order, error) {
	if !domain.IsValidStatus(newStatus) {
		return nil, apperrors.InvalidInput(fmt.Sprintf("invalid status %q, must be one of: %s", newStatus, strings.Join(domain.ValidStatuses(), ", ")))
	}

	order, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get order for status update: %w", err)
	}

	if err := domain.ValidateTransition(order.Status, newStatus); err != nil {
		return nil, err
	}

	oldStatus := order.Status
	if err := s.repo.UpdateStatus(ctx, id, oldStatus, newStatus); err != nil {
		return nil, fmt.Errorf("update order status: %w", err)
	}
	order.Status = newStatus

	if s.events != nil {
		if err := s.events.PublishOrderStatusChanged(ctx, order, oldStatus); err != nil {
			s.logger.ErrorContext(ctx, "failed to publish order.status_changed event",
				slog.String("order_id", id),
				slog.String("error", err.Error()),
			)
		}
	}

	s.logger.InfoContext(ctx, "order status updated",
		slog.String("order_id", id),
		slog.String("old_status", oldStatus),
		slog.String("new_status", newStatus),
	)
	return order, nil
}

// CancelOrder cancels the caller's order, releasing its inventory and
// refunding its payment.
func (s *OrderService) CancelOrder(ctx context.Context, id, userID string) (*domain.Order, error) {
	if userID == "" {
		return nil, apperrors.Unauthorized("user id is required")
	}
	return s.sagas.CancelOrder(ctx, id, userID)
}
