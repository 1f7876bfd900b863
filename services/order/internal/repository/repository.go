package repository

import (
	"context"
	"time"

	"github.com/utafrali/ordersaga/services/order/internal/domain"
)

// OrderFilter defines filter criteria for listing orders.
type OrderFilter struct {
	UserID  *string
	Status  *string
	From    *time.Time
	To      *time.Time
	Page    int
	PerPage int
}

// OrderRepository defines the interface for order persistence operations.
type OrderRepository interface {
	// CreateWithItems inserts a new order and its items atomically. A clash on
	// the order number is reported as apperrors.ErrAlreadyExists.
	CreateWithItems(ctx context.Context, order *domain.Order) error

	// DeleteByID removes an order and its items. Deleting a missing order is
	// not an error.
	DeleteByID(ctx context.Context, id string) error

	// GetByID retrieves an order by its unique identifier, including items.
	GetByID(ctx context.Context, id string) (*domain.Order, error)

	// GetByOrderNumber retrieves an order by its human-readable number.
	GetByOrderNumber(ctx context.Context, orderNumber string) (*domain.Order, error)

	// List returns orders matching the given filter along with the total count.
	List(ctx context.Context, filter OrderFilter) ([]domain.Order, int, error)

	// UpdateStatus moves an order from status from to status to. An order no
	// longer in from is left alone and reported as apperrors.ErrConflict.
	UpdateStatus(ctx context.Context, id, from, to string) error

	// UpdatePayment records the payment taken for an order.
	UpdatePayment(ctx context.Context, id, paymentID, paymentStatus string) error

	// MaxDailySequence returns the highest sequence used by order numbers of
	// the given YYMMDD day, or 0 when none exist.
	MaxDailySequence(ctx context.Context, day string) (int, error)
}

// NumberAllocator hands out order numbers. Numbers are unique per day and
// increase with each call.
type NumberAllocator interface {
	NextOrderNumber(ctx context.Context, now time.Time) (string, error)
}
