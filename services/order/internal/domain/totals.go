package domain

import (
	"errors"
	"fmt"
)

// DefaultTaxRateBasisPoints is a 10% tax rate.
const DefaultTaxRateBasisPoints int64 = 1000

// ErrNegativeTotal is returned when the discount exceeds the rest of the order.
var ErrNegativeTotal = errors.New("order total cannot be negative")

// Totals holds the computed monetary amounts of an order, in minor units.
type Totals struct {
	Subtotal int64
	Tax      int64
	Shipping int64
	Discount int64
	Total    int64
}

// CalculateTotals fills in each item's TotalPrice and computes the order
// amounts. Tax is rounded half-up to the nearest minor unit.
func CalculateTotals(items []OrderItem, shipping, discount, taxBasisPoints int64) (Totals, error) {
	if shipping < 0 || discount < 0 {
		return Totals{}, fmt.Errorf("shipping and discount must not be negative")
	}

	var subtotal int64
	for i := range items {
		if items[i].UnitPrice < 0 || items[i].Quantity <= 0 {
			return Totals{}, fmt.Errorf("item %s: unit price must not be negative and quantity must be positive", items[i].ProductID)
		}
		items[i].TotalPrice = items[i].LineTotal()
		subtotal += items[i].TotalPrice
	}

	tax := (subtotal*taxBasisPoints + 5000) / 10000
	total := subtotal + tax + shipping - discount
	if total < 0 {
		return Totals{}, ErrNegativeTotal
	}

	return Totals{
		Subtotal: subtotal,
		Tax:      tax,
		Shipping: shipping,
		Discount: discount,
		Total:    total,
	}, nil
}

// Apply copies the totals onto the order.
func (t Totals) Apply(o *Order) {
	o.SubtotalAmount = t.Subtotal
	o.TaxAmount = t.Tax
	o.ShippingAmount = t.Shipping
	o.DiscountAmount = t.Discount
	o.TotalAmount = t.Total
}
