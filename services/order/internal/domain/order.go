package domain

import "time"

// Order status constants.
const (
	OrderStatusPending    = "pending"
	OrderStatusConfirmed  = "confirmed"
	OrderStatusProcessing = "processing"
	OrderStatusShipped    = "shipped"
	OrderStatusDelivered  = "delivered"
	OrderStatusCancelled  = "cancelled"
	OrderStatusRefunded   = "refunded"
)

// DefaultCurrency is used when an order request does not name one.
const DefaultCurrency = "USD"

// Order represents a customer order. Amounts are in minor units (cents).
type Order struct {
	ID              string      `json:"id"`
	OrderNumber     string      `json:"order_number"`
	UserID          string      `json:"user_id"`
	Status          string      `json:"status"`
	Items           []OrderItem `json:"items"`
	SubtotalAmount  int64       `json:"subtotal_amount"`
	TaxAmount       int64       `json:"tax_amount"`
	ShippingAmount  int64       `json:"shipping_amount"`
	DiscountAmount  int64       `json:"discount_amount"`
	TotalAmount     int64       `json:"total_amount"`
	Currency        string      `json:"currency"`
	PaymentID       *string     `json:"payment_id,omitempty"`
	PaymentStatus   *string     `json:"payment_status,omitempty"`
	ShippingAddress *Address    `json:"shipping_address,omitempty"`
	BillingAddress  *Address    `json:"billing_address,omitempty"`
	Notes           string      `json:"notes,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// Address represents a shipping or billing address.
type Address struct {
	FullName    string `json:"full_name"`
	AddressLine string `json:"address_line"`
	City        string `json:"city"`
	State       string `json:"state"`
	PostalCode  string `json:"postal_code"`
	Country     string `json:"country"`
	Phone       string `json:"phone,omitempty"`
}

// ValidStatuses returns all valid order statuses.
func ValidStatuses() []string {
	return []string{
		OrderStatusPending,
		OrderStatusConfirmed,
		OrderStatusProcessing,
		OrderStatusShipped,
		OrderStatusDelivered,
		OrderStatusCancelled,
		OrderStatusRefunded,
	}
}

// IsValidStatus checks if a status string is valid.
func IsValidStatus(status string) bool {
	_, ok := transitions[status]
	return ok
}

var transitions = map[string][]string{
	OrderStatusPending:    {OrderStatusConfirmed, OrderStatusCancelled},
	OrderStatusConfirmed:  {OrderStatusProcessing, OrderStatusCancelled},
	OrderStatusProcessing: {OrderStatusShipped, OrderStatusCancelled},
	OrderStatusShipped:    {OrderStatusDelivered},
	OrderStatusDelivered:  {OrderStatusRefunded},
	OrderStatusCancelled:  {},
	OrderStatusRefunded:   {},
}

// AllowedTransitions returns a copy of the status transition table.
func AllowedTransitions() map[string][]string {
	out := make(map[string][]string, len(transitions))
	for from, to := range transitions {
		out[from] = append([]string(nil), to...)
	}
	return out
}

// ValidateTransition returns an *InvalidStatusTransitionError unless the
// table allows moving from one status to the other.
func ValidateTransition(from, to string) error {
	for _, s := range transitions[from] {
		if s == to {
			return nil
		}
	}
	return &InvalidStatusTransitionError{From: from, To: to}
}

// CanTransitionTo checks if the order can transition to the target status.
func (o *Order) CanTransitionTo(target string) bool {
	return ValidateTransition(o.Status, target) == nil
}

// IsCancellable reports whether a customer may still cancel the order.
// Once fulfilment has started, cancellation goes through support.
func (o *Order) IsCancellable() bool {
	return o.Status == OrderStatusPending || o.Status == OrderStatusConfirmed
}

// HasPayment reports whether a payment was recorded against the order.
func (o *Order) HasPayment() bool {
	return o.PaymentID != nil && *o.PaymentID != ""
}
