// Package orchestrator composes the order sagas: placing an order across
// inventory, the order store and payment, and cancelling one.
package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/utafrali/ordersaga/pkg/saga"
	"github.com/utafrali/ordersaga/services/order/internal/client"
	"github.com/utafrali/ordersaga/services/order/internal/domain"
	"github.com/utafrali/ordersaga/services/order/internal/repository"
)

// Inventory reserves and releases stock. *client.InventoryClient satisfies it.
type Inventory interface {
	CheckAvailability(ctx context.Context, items []client.ItemQuantity) ([]client.Availability, error)
	Reserve(ctx context.Context, items []client.ItemQuantity) ([]client.ItemQuantity, error)
	Release(ctx context.Context, items []client.ItemQuantity, key string) error
}

// Payments charges and refunds. *client.PaymentClient satisfies it.
type Payments interface {
	Charge(ctx context.Context, req client.ChargeRequest) (*client.Payment, error)
	Refund(ctx context.Context, paymentID string, amount *int64) (*client.Refund, error)
}

// Events publishes order domain events. *event.Producer satisfies it.
type Events interface {
	PublishOrderCreated(ctx context.Context, order *domain.Order) error
	PublishOrderStatusChanged(ctx context.Context, order *domain.Order, oldStatus string) error
	PublishOrderCancelled(ctx context.Context, order *domain.Order, refunded bool) error
}

// Deps are the collaborators of the orchestrator.
type Deps struct {
	Inventory Inventory
	Payments  Payments
	Orders    repository.OrderRepository
	Numbers   repository.NumberAllocator
	Events    Events

	// Tracker, when set, registers every running saga.
	Tracker   *saga.Tracker
	Observers []saga.Observer
}

// Config holds the pricing settings applied to new orders.
type Config struct {
	TaxRateBasisPoints int64
	DefaultCurrency    string
}

// Orchestrator runs the create and cancel flows.
type Orchestrator struct {
	inventory Inventory
	payments  Payments
	orders    repository.OrderRepository
	numbers   repository.NumberAllocator
	events    Events
	tracker   *saga.Tracker
	observers []saga.Observer
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time
}

// New creates an orchestrator.
func New(deps Deps, cfg Config, logger *slog.Logger) *Orchestrator {
	if cfg.TaxRateBasisPoints <= 0 {
		cfg.TaxRateBasisPoints = domain.DefaultTaxRateBasisPoints
	}
	if cfg.DefaultCurrency == "" {
		cfg.DefaultCurrency = domain.DefaultCurrency
	}
	numbers := deps.Numbers
	if numbers == nil {
		if alloc, ok := deps.Orders.(repository.NumberAllocator); ok {
			numbers = alloc
		}
	}
	return &Orchestrator{
		inventory: deps.Inventory,
		payments:  deps.Payments,
		orders:    deps.Orders,
		numbers:   numbers,
		events:    deps.Events,
		tracker:   deps.Tracker,
		observers: deps.Observers,
		cfg:       cfg,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (o *Orchestrator) sagaOptions() []saga.Option {
	return []saga.Option{
		saga.WithObserver(o.observers...),
		saga.WithTracker(o.tracker),
	}
}
