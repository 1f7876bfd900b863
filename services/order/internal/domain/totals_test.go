package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateTotals_SingleItemScenario(t *testing.T) {
	items := []OrderItem{{ProductID: "P1", UnitPrice: 1000, Quantity: 2}}

	totals, err := CalculateTotals(items, 500, 0, DefaultTaxRateBasisPoints)
	require.NoError(t, err)

	assert.Equal(t, int64(2000), totals.Subtotal)
	assert.Equal(t, int64(200), totals.Tax)
	assert.Equal(t, int64(500), totals.Shipping)
	assert.Equal(t, int64(2700), totals.Total)
	assert.Equal(t, int64(2000), items[0].TotalPrice)
}

func TestCalculateTotals_MultipleItemsWithDiscount(t *testing.T) {
	items := []OrderItem{
		{UnitPrice: 1999, Quantity: 3},
		{UnitPrice: 250, Quantity: 4},
	}

	totals, err := CalculateTotals(items, 0, 1000, DefaultTaxRateBasisPoints)
	require.NoError(t, err)

	assert.Equal(t, int64(6997), totals.Subtotal)
	// 699.7 rounds half-up to 700.
	assert.Equal(t, int64(700), totals.Tax)
	assert.Equal(t, int64(6697), totals.Total)
}

func TestCalculateTotals_TaxRounding(t *testing.T) {
	tests := []struct {
		subtotal int64
		tax      int64
	}{
		{5, 1},
		{4, 0},
		{15, 2},
		{14, 1},
		{0, 0},
	}

	for _, tt := range tests {
		items := []OrderItem{{UnitPrice: tt.subtotal, Quantity: 1}}
		totals, err := CalculateTotals(items, 0, 0, DefaultTaxRateBasisPoints)
		require.NoError(t, err)
		assert.Equal(t, tt.tax, totals.Tax, "subtotal %d", tt.subtotal)
	}
}

func TestCalculateTotals_NegativeTotal(t *testing.T) {
	items := []OrderItem{{UnitPrice: 100, Quantity: 1}}
	_, err := CalculateTotals(items, 0, 1000, DefaultTaxRateBasisPoints)
	assert.ErrorIs(t, err, ErrNegativeTotal)
}

func TestCalculateTotals_NegativeInputs(t *testing.T) {
	items := []OrderItem{{UnitPrice: 100, Quantity: 1}}
	_, err := CalculateTotals(items, -1, 0, DefaultTaxRateBasisPoints)
	assert.Error(t, err)

	_, err = CalculateTotals([]OrderItem{{ProductID: "P1", UnitPrice: -1, Quantity: 1}}, 500, 0, DefaultTaxRateBasisPoints)
	assert.EqualError(t, err, "item P1: unit price must not be negative and quantity must be positive")

	_, err = CalculateTotals([]OrderItem{{ProductID: "P1", UnitPrice: 100, Quantity: 0}}, 0, 0, DefaultTaxRateBasisPoints)
	assert.Error(t, err)
}

func TestTotals_Apply(t *testing.T) {
	o := &Order{}
	Totals{Subtotal: 1, Tax: 2, Shipping: 3, Discount: 4, Total: 2}.Apply(o)
	assert.Equal(t, int64(1), o.SubtotalAmount)
	assert.Equal(t, int64(2), o.TaxAmount)
	assert.Equal(t, int64(3), o.ShippingAmount)
	assert.Equal(t, int64(4), o.DiscountAmount)
	assert.Equal(t, int64(2), o.TotalAmount)
}
