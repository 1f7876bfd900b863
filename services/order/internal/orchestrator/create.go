package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	apperrors "github.com/utafrali/ordersaga/pkg/errors"
	"github.com/utafrali/ordersaga/pkg/logger"
	"github.com/utafrali/ordersaga/pkg/saga"
	"github.com/utafrali/ordersaga/services/order/internal/client"
	"github.com/utafrali/ordersaga/services/order/internal/domain"
)

// Step names of the create-order saga.
const (
	SagaCreateOrder = "create_order"

	StepCheckAvailability = "checkAvailability"
	StepReserveInventory  = "reserveInventory"
	StepCreateOrderRecord = "createOrderRecord"
	StepProcessPayment    = "processPayment"
	StepConfirmOrder      = "confirmOrder"
)

const (
	paymentStatusFailed = "failed"
	orderNumberAttempts = 3
)

// ItemRequest is one requested line, priced by the caller. An empty name or
// SKU is filled in from the product service.
type ItemRequest struct {
	ProductID   string
	ProductName string
	SKU         string
	Quantity    int
	UnitPrice   int64
}

// CreateOrderRequest holds a validated order placement.
type CreateOrderRequest struct {
	UserID          string
	Items           []ItemRequest
	ShippingAmount  int64
	DiscountAmount  int64
	Currency        string
	ShippingAddress *domain.Address
	BillingAddress  *domain.Address
	Notes           string
}

// CreateOrderState is the execution state shared by the create-order steps.
// Order is the priced draft until createOrderRecord stores it.
type CreateOrderState struct {
	Request      CreateOrderRequest
	Availability map[string]client.Availability
	Reserved     []client.ItemQuantity
	Order        *domain.Order
	Payment      *client.Payment
}

// CreateOrder prices the order, then runs the create-order saga: check
// availability, reserve inventory, persist the order, take payment and
// confirm. Pricing errors are returned before any step runs. Any step failure
// unwinds the completed steps in reverse and returns a *saga.StepFailure
// carrying the original error. order.created is published only for an order
// that was placed.
func (o *Orchestrator) CreateOrder(ctx context.Context, req CreateOrderRequest) (*domain.Order, error) {
	if len(req.Items) == 0 {
		return nil, apperrors.InvalidInput("order must contain at least one item")
	}
	if req.Currency == "" {
		req.Currency = o.cfg.DefaultCurrency
	}
	req.Currency = strings.ToUpper(req.Currency)

	draft, err := o.draftOrder(req)
	if err != nil {
		return nil, err
	}

	log := logger.WithContext(ctx, o.logger)
	s := saga.New[CreateOrderState](SagaCreateOrder, logger.CorrelationIDFromContext(ctx), log, o.sagaOptions()...)

	steps := []saga.Step[CreateOrderState]{
		{Name: StepCheckAvailability, Action: o.checkAvailability},
		{Name: StepReserveInventory, Action: o.reserveInventory, Compensate: o.releaseReserved},
		{Name: StepCreateOrderRecord, Action: o.createOrderRecord, Compensate: o.discardOrderRecord},
		{Name: StepProcessPayment, Action: o.processPayment, Compensate: o.refundPayment},
		{Name: StepConfirmOrder, Action: o.confirmOrder, Compensate: o.cancelConfirmed},
	}
	for _, step := range steps {
		if err := s.AddStep(step); err != nil {
			return nil, fmt.Errorf("build create order saga: %w", err)
		}
	}

	state := &CreateOrderState{Request: req, Order: draft}
	results, err := s.Execute(ctx, state)
	if err != nil {
		return nil, err
	}

	order, ok := results[StepConfirmOrder].(*domain.Order)
	if !ok {
		return nil, fmt.Errorf("create order saga: unexpected %s result %T", StepConfirmOrder, results[StepConfirmOrder])
	}

	o.publish(ctx, "order.created", order.ID, func() error {
		return o.events.PublishOrderCreated(ctx, order)
	})

	log.InfoContext(ctx, "order placed",
		slog.String("order_id", order.ID),
		slog.String("order_number", order.OrderNumber),
		slog.Int64("total_amount", order.TotalAmount),
	)
	return order, nil
}

// draftOrder builds the pending order and its totals from the request.
func (o *Orchestrator) draftOrder(req CreateOrderRequest) (*domain.Order, error) {
	now := o.now()
	orderID := uuid.NewString()

	items := make([]domain.OrderItem, len(req.Items))
	for i, it := range req.Items {
		items[i] = domain.OrderItem{
			ID:          uuid.NewString(),
			OrderID:     orderID,
			ProductID:   it.ProductID,
			ProductName: it.ProductName,
			SKU:         it.SKU,
			UnitPrice:   it.UnitPrice,
			Quantity:    it.Quantity,
		}
	}

	totals, err := domain.CalculateTotals(items, req.ShippingAmount, req.DiscountAmount, o.cfg.TaxRateBasisPoints)
	if err != nil {
		return nil, apperrors.InvalidInput(err.Error())
	}

	order := &domain.Order{
		ID:              orderID,
		UserID:          req.UserID,
		Status:          domain.OrderStatusPending,
		Items:           items,
		Currency:        req.Currency,
		ShippingAddress: req.ShippingAddress,
		BillingAddress:  req.BillingAddress,
		Notes:           req.Notes,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	totals.Apply(order)
	return order, nil
}

func requestedQuantities(items []ItemRequest) []client.ItemQuantity {
	out := make([]client.ItemQuantity, len(items))
	for i, it := range items {
		out[i] = client.ItemQuantity{ProductID: it.ProductID, Quantity: it.Quantity}
	}
	return out
}

func (o *Orchestrator) checkAvailability(ctx context.Context, st *CreateOrderState) (any, error) {
	results, err := o.inventory.CheckAvailability(ctx, requestedQuantities(st.Request.Items))
	if err != nil {
		return nil, err
	}

	st.Availability = make(map[string]client.Availability, len(results))
	for _, a := range results {
		st.Availability[a.ProductID] = a
	}

	var unavailable []domain.UnavailableItem
	for _, it := range st.Request.Items {
		a, found := st.Availability[it.ProductID]
		if found && a.Available {
			continue
		}
		unavailable = append(unavailable, domain.UnavailableItem{
			ProductID:    it.ProductID,
			Name:         a.Name,
			Requested:    it.Quantity,
			CurrentStock: a.CurrentStock,
		})
	}
	if len(unavailable) > 0 {
		return nil, &domain.ProductUnavailableError{Items: unavailable}
	}

	var changed []domain.PriceChange
	for i := range st.Order.Items {
		item := &st.Order.Items[i]
		a := st.Availability[item.ProductID]
		if a.Price != item.UnitPrice {
			changed = append(changed, domain.PriceChange{ProductID: item.ProductID, Requested: item.UnitPrice, Current: a.Price})
			continue
		}
		if item.ProductName == "" {
			item.ProductName = a.Name
		}
		if item.SKU == "" {
			item.SKU = a.SKU
		}
	}
	if len(changed) > 0 {
		return nil, &domain.PriceChangedError{Items: changed}
	}
	return results, nil
}

func (o *Orchestrator) reserveInventory(ctx context.Context, st *CreateOrderState) (any, error) {
	reserved, err := o.inventory.Reserve(ctx, requestedQuantities(st.Request.Items))
	if err != nil {
		return nil, err
	}
	st.Reserved = reserved
	return reserved, nil
}

// releaseReserved gives back exactly what reserveInventory took.
func (o *Orchestrator) releaseReserved(ctx context.Context, st *CreateOrderState, result any) error {
	reserved, _ := result.([]client.ItemQuantity)
	if len(reserved) == 0 {
		return nil
	}
	return o.inventory.Release(ctx, reserved, client.ReleaseKey(st.Order.ID))
}

func (o *Orchestrator) createOrderRecord(ctx context.Context, st *CreateOrderState) (any, error) {
	order := st.Order
	now := order.CreatedAt
	var err error

	// Two writers can be handed the same number by the max+1 allocator; the
	// unique index rejects the second and it tries the next number.
	for attempt := 1; ; attempt++ {
		order.OrderNumber, err = o.numbers.NextOrderNumber(ctx, now)
		if err != nil {
			return nil, fmt.Errorf("allocate order number: %w", err)
		}
		err = o.orders.CreateWithItems(ctx, order)
		if err == nil {
			break
		}
		if !errors.Is(err, apperrors.ErrAlreadyExists) || attempt == orderNumberAttempts {
			return nil, fmt.Errorf("create order record: %w", err)
		}
	}

	return order.ID, nil
}

// discardOrderRecord hard-deletes an order that never took payment. Once a
// payment was captured the record is kept and marked cancelled so the
// refund stays traceable to an order.
func (o *Orchestrator) discardOrderRecord(ctx context.Context, st *CreateOrderState, result any) error {
	orderID, _ := result.(string)
	if st.Payment != nil {
		if err := o.orders.UpdateStatus(ctx, orderID, st.Order.Status, domain.OrderStatusCancelled); err != nil {
			return err
		}
		st.Order.Status = domain.OrderStatusCancelled
		return nil
	}
	return o.orders.DeleteByID(ctx, orderID)
}

func (o *Orchestrator) processPayment(ctx context.Context, st *CreateOrderState) (any, error) {
	order := st.Order
	lines := make([]map[string]any, len(order.Items))
	for i, it := range order.Items {
		lines[i] = map[string]any{"product_id": it.ProductID, "quantity": it.Quantity}
	}

	payment, err := o.payments.Charge(ctx, client.ChargeRequest{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Amount:      order.TotalAmount,
		Currency:    order.Currency,
		UserID:      order.UserID,
		Metadata:    map[string]any{"items": lines},
	})
	if err != nil {
		return nil, err
	}
	if payment.Status == paymentStatusFailed {
		return nil, apperrors.PaymentFailed(fmt.Sprintf("payment %s for order %s was declined", payment.ID, order.OrderNumber))
	}

	if err := o.orders.UpdatePayment(ctx, order.ID, payment.ID, payment.Status); err != nil {
		// The step has not completed, so rollback will not refund this
		// charge. Undo it here before failing.
		o.refund(ctx, order.ID, payment.ID)
		return nil, fmt.Errorf("record payment: %w", err)
	}

	order.PaymentID = &payment.ID
	order.PaymentStatus = &payment.Status
	st.Payment = payment
	return payment.ID, nil
}

// refundPayment never fails the rollback: a refund that does not go through
// is logged for manual follow-up.
func (o *Orchestrator) refundPayment(ctx context.Context, st *CreateOrderState, result any) error {
	paymentID, _ := result.(string)
	o.refund(ctx, st.Order.ID, paymentID)
	return nil
}

func (o *Orchestrator) refund(ctx context.Context, orderID, paymentID string) bool {
	if _, err := o.payments.Refund(ctx, paymentID, nil); err != nil {
		logger.WithContext(ctx, o.logger).ErrorContext(ctx, "payment refund failed",
			slog.String("order_id", orderID),
			slog.String("payment_id", paymentID),
			slog.String("error", err.Error()),
		)
		return false
	}
	return true
}

func (o *Orchestrator) confirmOrder(ctx context.Context, st *CreateOrderState) (any, error) {
	order := st.Order
	if err := domain.ValidateTransition(order.Status, domain.OrderStatusConfirmed); err != nil {
		return nil, err
	}
	if err := o.orders.UpdateStatus(ctx, order.ID, order.Status, domain.OrderStatusConfirmed); err != nil {
		return nil, fmt.Errorf("confirm order: %w", err)
	}

	order.Status = domain.OrderStatusConfirmed
	order.UpdatedAt = o.now()
	return order, nil
}

func (o *Orchestrator) cancelConfirmed(ctx context.Context, st *CreateOrderState, _ any) error {
	if err := o.orders.UpdateStatus(ctx, st.Order.ID, domain.OrderStatusConfirmed, domain.OrderStatusCancelled); err != nil {
		return err
	}
	st.Order.Status = domain.OrderStatusCancelled
	return nil
}

// publish sends a best-effort event. Failures are logged, never returned.
func (o *Orchestrator) publish(ctx context.Context, name, orderID string, fn func() error) {
	if o.events == nil {
		return
	}
	if err := fn(); err != nil {
		logger.WithContext(ctx, o.logger).ErrorContext(ctx, "failed to publish "+name+" event",
			slog.String("order_id", orderID),
			slog.String("error", err.Error()),
		)
	}
}
