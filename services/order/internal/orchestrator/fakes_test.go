package orchestrator

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	apperrors "github.com/utafrali/ordersaga/pkg/errors"
	"github.com/utafrali/ordersaga/pkg/saga"
	"github.com/utafrali/ordersaga/services/order/internal/client"
	"github.com/utafrali/ordersaga/services/order/internal/domain"
	"github.com/utafrali/ordersaga/services/order/internal/repository"
)

// fakeInventory is an in-memory product service. Reservations are all or
// nothing and a release is applied once per idempotency key.
type fakeInventory struct {
	mu          sync.Mutex
	stock       map[string]int
	price       map[string]int64
	names       map[string]string
	applied     map[string]bool
	reserveErr  error
	releaseErr  error
	reserves    int
	releases    [][]client.ItemQuantity
	releaseKeys []string
}

func newFakeInventory() *fakeInventory {
	return &fakeInventory{
		stock: map[string]int{},
		price: map[string]int64{},
		names:   map[string]string{},
		applied: map[string]bool{},
	}
}

func (f *fakeInventory) add(productID, name string, price int64, stock int) {
	f.stock[productID] = stock
	f.price[productID] = price
	f.names[productID] = name
}

func (f *fakeInventory) level(productID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stock[productID]
}

func (f *fakeInventory) CheckAvailability(_ context.Context, items []client.ItemQuantity) ([]client.Availability, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]client.Availability, 0, len(items))
	for _, it := range items {
		stock, ok := f.stock[it.ProductID]
		if !ok {
			continue
		}
		out = append(out, client.Availability{
			ProductID:    it.ProductID,
			Available:    stock >= it.Quantity,
			CurrentStock: stock,
			Price:        f.price[it.ProductID],
			Name:         f.names[it.ProductID],
			SKU:          "SKU-" + it.ProductID,
		})
	}
	return out, nil
}

func (f *fakeInventory) Reserve(_ context.Context, items []client.ItemQuantity) ([]client.ItemQuantity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reserves++
	if f.reserveErr != nil {
		return nil, f.reserveErr
	}
	for _, it := range items {
		if f.stock[it.ProductID] < it.Quantity {
			return nil, &domain.InsufficientStockError{Reason: it.ProductID}
		}
	}
	for _, it := range items {
		f.stock[it.ProductID] -= it.Quantity
	}
	return append([]client.ItemQuantity(nil), items...), nil
}

func (f *fakeInventory) Release(_ context.Context, items []client.ItemQuantity, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releases = append(f.releases, items)
	f.releaseKeys = append(f.releaseKeys, key)
	if f.releaseErr != nil {
		return f.releaseErr
	}
	if f.applied[key] {
		return nil
	}
	f.applied[key] = true
	for _, it := range items {
		f.stock[it.ProductID] += it.Quantity
	}
	return nil
}

type fakePayments struct {
	mu        sync.Mutex
	chargeErr error
	status    string
	refundErr error
	charges   []client.ChargeRequest
	refunds   []string
}

func (f *fakePayments) Charge(_ context.Context, req client.ChargeRequest) (*client.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.chargeErr != nil {
		return nil, f.chargeErr
	}
	f.charges = append(f.charges, req)
	status := f.status
	if status == "" {
		status = "completed"
	}
	return &client.Payment{
		ID:       fmt.Sprintf("pay-%d", len(f.charges)),
		Status:   status,
		Amount:   req.Amount,
		Currency: req.Currency,
	}, nil
}

func (f *fakePayments) Refund(_ context.Context, paymentID string, _ *int64) (*client.Refund, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refunds = append(f.refunds, paymentID)
	if f.refundErr != nil {
		return nil, f.refundErr
	}
	return &client.Refund{RefundTransactionID: "rf-" + paymentID}, nil
}

// fakeOrders is an in-memory order store that also allocates order numbers
// the way the postgres repository does (max + 1).
type fakeOrders struct {
	mu               sync.Mutex
	orders           map[string]domain.Order
	deleted          []string
	createErr        error
	duplicateCreates int
	statusErr        map[string]error
	paymentErr       error
	// movedTo, when set, is the status another writer gives an order right
	// after it is read.
	movedTo          string
}

func newFakeOrders() *fakeOrders {
	return &fakeOrders{orders: map[string]domain.Order{}, statusErr: map[string]error{}}
}

var _ repository.OrderRepository = (*fakeOrders)(nil)

func (f *fakeOrders) get(id string) (domain.Order, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	return o, ok
}

func (f *fakeOrders) put(o domain.Order) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders[o.ID] = o
}

func (f *fakeOrders) all() []domain.Order {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Order, 0, len(f.orders))
	for _, o := range f.orders {
		out = append(out, o)
	}
	return out
}

func (f *fakeOrders) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.orders)
}

func (f *fakeOrders) CreateWithItems(_ context.Context, o *domain.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	if f.duplicateCreates > 0 {
		f.duplicateCreates--
		// Simulate a concurrent writer having taken this number.
		f.orders["other-"+o.OrderNumber] = domain.Order{ID: "other-" + o.OrderNumber, OrderNumber: o.OrderNumber}
		return apperrors.AlreadyExists("order", "order_number", o.OrderNumber)
	}
	cp := *o
	cp.Items = append([]domain.OrderItem(nil), o.Items...)
	f.orders[o.ID] = cp
	return nil
}

func (f *fakeOrders) DeleteByID(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.orders, id)
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeOrders) GetByID(_ context.Context, id string) (*domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return nil, apperrors.NotFound("order", id)
	}
	if f.movedTo != "" {
		moved := o
		moved.Status = f.movedTo
		f.orders[id] = moved
	}
	return &o, nil
}

func (f *fakeOrders) GetByOrderNumber(_ context.Context, number string) (*domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range f.orders {
		if o.OrderNumber == number {
			return &o, nil
		}
	}
	return nil, apperrors.NotFound("order", number)
}

func (f *fakeOrders) List(_ context.Context, _ repository.OrderFilter) ([]domain.Order, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Order, 0, len(f.orders))
	for _, o := range f.orders {
		out = append(out, o)
	}
	return out, len(out), nil
}

func (f *fakeOrders) UpdateStatus(_ context.Context, id, from, to string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.statusErr[to]; err != nil {
		return err
	}
	o, ok := f.orders[id]
	if !ok {
		return apperrors.NotFound("order", id)
	}
	if o.Status != from {
		return apperrors.Conflict(fmt.Sprintf("order %s is %s, not %s", id, o.Status, from))
	}
	o.Status = to
	f.orders[id] = o
	return nil
}

func (f *fakeOrders) UpdatePayment(_ context.Context, id, paymentID, paymentStatus string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.paymentErr != nil {
		return f.paymentErr
	}
	o, ok := f.orders[id]
	if !ok {
		return apperrors.NotFound("order", id)
	}
	o.PaymentID = &paymentID
	o.PaymentStatus = &paymentStatus
	f.orders[id] = o
	return nil
}

func (f *fakeOrders) MaxDailySequence(_ context.Context, day string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	maxSeq := 0
	for _, o := range f.orders {
		if !strings.HasPrefix(o.OrderNumber, "ORD"+day) {
			continue
		}
		if _, seq, err := domain.ParseOrderNumber(o.OrderNumber); err == nil && seq > maxSeq {
			maxSeq = seq
		}
	}
	return maxSeq, nil
}

func (f *fakeOrders) NextOrderNumber(ctx context.Context, now time.Time) (string, error) {
	seq, err := f.MaxDailySequence(ctx, domain.OrderNumberDay(now))
	if err != nil {
		return "", err
	}
	return domain.FormatOrderNumber(now, seq+1), nil
}

type fakeEvents struct {
	mu        sync.Mutex
	err       error
	created   []string
	changed   []string
	cancelled []bool
}

func (f *fakeEvents) PublishOrderCreated(_ context.Context, o *domain.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, o.ID)
	return f.err
}

func (f *fakeEvents) PublishOrderStatusChanged(_ context.Context, o *domain.Order, old string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.changed = append(f.changed, old+"->"+o.Status)
	return f.err
}

func (f *fakeEvents) PublishOrderCancelled(_ context.Context, _ *domain.Order, refunded bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, refunded)
	return f.err
}

// harness wires an orchestrator to fresh fakes with a fixed clock.
type harness struct {
	orch      *Orchestrator
	inventory *fakeInventory
	payments  *fakePayments
	orders    *fakeOrders
	events    *fakeEvents
	tracker   *saga.Tracker
}

var testNow = time.Date(2024, 3, 7, 14, 0, 0, 0, time.UTC)

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		inventory: newFakeInventory(),
		payments:  &fakePayments{},
		orders:    newFakeOrders(),
		events:    &fakeEvents{},
		tracker:   saga.NewTracker(),
	}
	h.orch = New(Deps{
		Inventory: h.inventory,
		Payments:  h.payments,
		Orders:    h.orders,
		Events:    h.events,
		Tracker:   h.tracker,
	}, Config{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	h.orch.now = func() time.Time { return testNow }
	return h
}
