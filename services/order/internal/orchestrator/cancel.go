package orchestrator

import (
	"context"
	"fmt"
	"log/slog"

	apperrors "github.com/utafrali/ordersaga/pkg/errors"
	"github.com/utafrali/ordersaga/pkg/logger"
	"github.com/utafrali/ordersaga/services/order/internal/client"
	"github.com/utafrali/ordersaga/services/order/internal/domain"
)

const paymentStatusRefunded = "refunded"

// CancelOrder cancels an order on behalf of its owner.
//
// Unlike CreateOrder this is not a saga: releasing inventory, refunding and
// marking the order cancelled are attempted independently. A failed release
// or refund is logged and does not stop the rest, so a partial cancellation
// is possible and only visible in the logs. A failure to mark the order
// cancelled is returned.
func (o *Orchestrator) CancelOrder(ctx context.Context, orderID, userID string) (*domain.Order, error) {
	order, err := o.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("get order for cancel: %w", err)
	}
	if order.UserID != userID {
		return nil, apperrors.Forbidden("you do not have access to this order")
	}
	if !order.IsCancellable() {
		return nil, &domain.OrderNotCancellableError{OrderID: order.ID, Status: order.Status}
	}
	if err := domain.ValidateTransition(order.Status, domain.OrderStatusCancelled); err != nil {
		return nil, err
	}

	log := logger.WithContext(ctx, o.logger).With(
		slog.String("order_id", order.ID),
		slog.String("order_number", order.OrderNumber),
	)
	run := o.tracker.Begin("cancel_order", logger.CorrelationIDFromContext(ctx))
	defer run.Finish()

	// The caller's cancellation must not leave a cancellation half done.
	ctx = context.WithoutCancel(ctx)

	items := make([]client.ItemQuantity, len(order.Items))
	for i, it := range order.Items {
		items[i] = client.ItemQuantity{ProductID: it.ProductID, Quantity: it.Quantity}
	}
	run.Advance("releaseInventory")
	if err := o.inventory.Release(ctx, items, client.ReleaseKey(order.ID)); err != nil {
		log.ErrorContext(ctx, "inventory release failed during cancel", slog.String("error", err.Error()))
	}

	refunded := false
	if order.HasPayment() {
		run.Advance("refundPayment")
		refunded = o.refund(ctx, order.ID, *order.PaymentID)
	}

	run.Advance("markCancelled")
	if err := o.orders.UpdateStatus(ctx, order.ID, order.Status, domain.OrderStatusCancelled); err != nil {
		log.ErrorContext(ctx, "failed to mark order cancelled", slog.String("error", err.Error()))
		return nil, fmt.Errorf("cancel order: %w", err)
	}

	oldStatus := order.Status
	order.Status = domain.OrderStatusCancelled
	order.UpdatedAt = o.now()

	if refunded {
		status := paymentStatusRefunded
		if err := o.orders.UpdatePayment(ctx, order.ID, *order.PaymentID, status); err != nil {
			log.WarnContext(ctx, "failed to record refund on order", slog.String("error", err.Error()))
		} else {
			order.PaymentStatus = &status
		}
	}

	o.publish(ctx, "order.cancelled", order.ID, func() error {
		return o.events.PublishOrderCancelled(ctx, order, refunded)
	})

	log.InfoContext(ctx, "order cancelled",
		slog.String("previous_status", oldStatus),
		slog.Bool("refunded", refunded),
	)
	return order, nil
}
