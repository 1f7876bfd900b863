// Package postgres stores orders and their items in PostgreSQL through pgx.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/utafrali/ordersaga/pkg/database"
	apperrors "github.com/utafrali/ordersaga/pkg/errors"
	"github.com/utafrali/ordersaga/pkg/pagination"
	"github.com/utafrali/ordersaga/services/order/internal/domain"
	"github.com/utafrali/ordersaga/services/order/internal/repository"
)

const orderColumns = `o.id, o.order_number, o.user_id, o.status, o.subtotal_amount, o.tax_amount,
	o.shipping_amount, o.discount_amount, o.total_amount, o.currency, o.payment_id,
	o.payment_status, o.shipping_address, o.billing_address, o.notes, o.created_at, o.updated_at`

// uniqueViolation is the SQLSTATE of a unique index clash.
const uniqueViolation = "23505"

// itemColumns are copied in this order by CreateWithItems.
var itemColumns = []string{
	"id", "order_id", "position", "product_id", "product_name", "sku", "unit_price", "quantity", "total_price",
}

type OrderRepository struct {
	pool database.DBTX
}

func NewOrderRepository(pool database.DBTX) *OrderRepository {
	return &OrderRepository{pool: pool}
}

var (
	_ repository.OrderRepository = (*OrderRepository)(nil)
	_ repository.NumberAllocator = (*OrderRepository)(nil)
)

// CreateWithItems inserts the order row and bulk-copies its items in one
// transaction. Items keep their slice order through the position column.
func (r *OrderRepository) CreateWithItems(ctx context.Context, o *domain.Order) (err error) {
	ctx, end := database.TraceQuery(ctx, "CreateOrderWithItems", "INSERT INTO orders")
	defer func() { end(err) }()

	shipping, err := marshalAddress(o.ShippingAddress)
	if err != nil {
		return fmt.Errorf("marshal shipping address: %w", err)
	}
	billing, err := marshalAddress(o.BillingAddress)
	if err != nil {
		return fmt.Errorf("marshal billing address: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO orders (id, order_number, user_id, status, subtotal_amount, tax_amount,
			shipping_amount, discount_amount, total_amount, currency, shipping_address,
			billing_address, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		o.ID, o.OrderNumber, o.UserID, o.Status,
		o.SubtotalAmount, o.TaxAmount, o.ShippingAmount, o.DiscountAmount, o.TotalAmount,
		o.Currency, shipping, billing, o.Notes, o.CreatedAt, o.UpdatedAt,
	)
	switch {
	case isUniqueViolation(err):
		return apperrors.AlreadyExists("order", "order_number", o.OrderNumber)
	case err != nil:
		return fmt.Errorf("insert order: %w", err)
	}

	rows := pgx.CopyFromSlice(len(o.Items), func(i int) ([]any, error) {
		it := o.Items[i]
		return []any{it.ID, it.OrderID, i, it.ProductID, it.ProductName, it.SKU, it.UnitPrice, it.Quantity, it.TotalPrice}, nil
	})
	copied, err := tx.CopyFrom(ctx, pgx.Identifier{"order_items"}, itemColumns, rows)
	if err != nil {
		return fmt.Errorf("copy order items: %w", err)
	}
	if copied != int64(len(o.Items)) {
		return fmt.Errorf("copy order items: wrote %d of %d", copied, len(o.Items))
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// DeleteByID removes an order; its items go through ON DELETE CASCADE.
func (r *OrderRepository) DeleteByID(ctx context.Context, id string) (err error) {
	ctx, end := database.TraceQuery(ctx, "DeleteOrder", "DELETE FROM orders")
	defer func() { end(err) }()

	if _, err = r.pool.Exec(ctx, `DELETE FROM orders WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete order %s: %w", id, err)
	}
	return nil
}

func (r *OrderRepository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	return r.getOne(ctx, "GetOrderByID", "o.id = $1", id)
}

func (r *OrderRepository) GetByOrderNumber(ctx context.Context, orderNumber string) (*domain.Order, error) {
	return r.getOne(ctx, "GetOrderByNumber", "o.order_number = $1", orderNumber)
}

// getOne loads an order with its items aggregated into a JSONB array, so a
// single round trip answers.
func (r *OrderRepository) getOne(ctx context.Context, operation, where, arg string) (_ *domain.Order, err error) {
	query := `
		SELECT ` + orderColumns + `,
			COALESCE(
				JSONB_AGG(
					JSONB_BUILD_OBJECT(
						'id', oi.id,
						'order_id', oi.order_id,
						'product_id', oi.product_id,
						'product_name', oi.product_name,
						'sku', oi.sku,
						'unit_price', oi.unit_price,
						'quantity', oi.quantity,
						'total_price', oi.total_price
					) ORDER BY oi.position, oi.id
				) FILTER (WHERE oi.id IS NOT NULL),
				'[]'::jsonb
			) AS items
		FROM orders o
		LEFT JOIN order_items oi ON o.id = oi.order_id
		WHERE ` + where + `
		GROUP BY o.id`

	ctx, end := database.TraceQuery(ctx, operation, query)
	defer func() { end(err) }()

	var itemsJSON []byte
	o, err := scanOrder(r.pool.QueryRow(ctx, query, arg), &itemsJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("order", arg)
	}
	if err != nil {
		return nil, err
	}

	o.Items = []domain.OrderItem{}
	if len(itemsJSON) > 0 {
		if err = json.Unmarshal(itemsJSON, &o.Items); err != nil {
			return nil, fmt.Errorf("decode order items: %w", err)
		}
	}
	return o, nil
}

// scanOrder reads the orderColumns of one row followed by extra
// destinations.
func scanOrder(row pgx.Row, extra ...any) (*domain.Order, error) {
	var (
		o                 domain.Order
		shipping, billing []byte
	)
	dest := append([]any{
		&o.ID, &o.OrderNumber, &o.UserID, &o.Status,
		&o.SubtotalAmount, &o.TaxAmount, &o.ShippingAmount, &o.DiscountAmount, &o.TotalAmount,
		&o.Currency, &o.PaymentID, &o.PaymentStatus,
		&shipping, &billing, &o.Notes, &o.CreatedAt, &o.UpdatedAt,
	}, extra...)

	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan order: %w", err)
	}

	var err error
	if o.ShippingAddress, err = unmarshalAddress(shipping); err != nil {
		return nil, fmt.Errorf("decode shipping address of %s: %w", o.ID, err)
	}
	if o.BillingAddress, err = unmarshalAddress(billing); err != nil {
		return nil, fmt.Errorf("decode billing address of %s: %w", o.ID, err)
	}
	return &o, nil
}

// whereClause collects AND-ed conditions with numbered placeholders.
type whereClause struct {
	conds []string
	args  []any
}

// add appends cond with its "?" replaced by the next placeholder.
func (w *whereClause) add(cond string, arg any) {
	w.args = append(w.args, arg)
	w.conds = append(w.conds, strings.Replace(cond, "?", "$"+strconv.Itoa(len(w.args)), 1))
}

func (w *whereClause) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return "WHERE " + strings.Join(w.conds, " AND ")
}

// List returns one page of orders, newest first, and the number of orders
// matching the filter across all pages.
func (r *OrderRepository) List(ctx context.Context, filter repository.OrderFilter) (_ []domain.Order, _ int, err error) {
	var where whereClause
	if filter.UserID != nil {
		where.add("o.user_id = ?", *filter.UserID)
	}
	if filter.Status != nil {
		where.add("o.status = ?", *filter.Status)
	}
	if filter.From != nil {
		where.add("o.created_at >= ?", *filter.From)
	}
	if filter.To != nil {
		where.add("o.created_at < ?", *filter.To)
	}

	n := len(where.args)
	query := fmt.Sprintf(`
		SELECT %s, count(*) OVER() AS total_count
		FROM orders o
		%s
		ORDER BY o.created_at DESC, o.id
		LIMIT $%d OFFSET $%d`,
		orderColumns, where.String(), n+1, n+2,
	)

	ctx, end := database.TraceQuery(ctx, "ListOrders", query)
	defer func() { end(err) }()

	page := pagination.Normalize(filter.Page, filter.PerPage)
	rows, err := r.pool.Query(ctx, query, append(where.args, page.Limit(), page.Offset())...)
	if err != nil {
		return nil, 0, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var total int
	orders := make([]domain.Order, 0, page.PerPage)
	for rows.Next() {
		o, err := scanOrder(rows, &total)
		if err != nil {
			return nil, 0, err
		}
		orders = append(orders, *o)
	}
	if err = rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate orders: %w", err)
	}

	if len(orders) > 0 {
		if err = r.attachItems(ctx, orders); err != nil {
			return nil, 0, err
		}
	}
	return orders, total, nil
}

// attachItems loads the items of every order on the page with one query.
func (r *OrderRepository) attachItems(ctx context.Context, orders []domain.Order) error {
	ids := make([]string, len(orders))
	for i := range orders {
		ids[i] = orders[i].ID
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, order_id, product_id, product_name, sku, unit_price, quantity, total_price
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY order_id, position`, ids)
	if err != nil {
		return fmt.Errorf("load order items: %w", err)
	}
	defer rows.Close()

	byOrder := make(map[string][]domain.OrderItem, len(orders))
	for rows.Next() {
		var it domain.OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.ProductName,
			&it.SKU, &it.UnitPrice, &it.Quantity, &it.TotalPrice); err != nil {
			return fmt.Errorf("scan order item: %w", err)
		}
		byOrder[it.OrderID] = append(byOrder[it.OrderID], it)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate order items: %w", err)
	}

	for i := range orders {
		orders[i].Items = byOrder[orders[i].ID]
		if orders[i].Items == nil {
			orders[i].Items = []domain.OrderItem{}
		}
	}
	return nil
}

func (r *OrderRepository) UpdateStatus(ctx context.Context, id, from, to string) error {
	err := r.update(ctx, "UpdateOrderStatus", id,
		`UPDATE orders SET status = $3, updated_at = $2 WHERE id = $1 AND status = $4`, to, from)
	if !errors.Is(err, apperrors.ErrNotFound) {
		return err
	}

	// Nothing matched: either the order is gone or another writer moved it.
	var current string
	if qerr := r.pool.QueryRow(ctx, `SELECT status FROM orders WHERE id = $1`, id).Scan(&current); qerr != nil {
		if errors.Is(qerr, pgx.ErrNoRows) {
			return err
		}
		return fmt.Errorf("read status of order %s: %w", id, qerr)
	}
	return apperrors.Conflict(fmt.Sprintf("order %s is %s, not %s", id, current, from))
}

func (r *OrderRepository) UpdatePayment(ctx context.Context, id, paymentID, paymentStatus string) error {
	return r.update(ctx, "UpdateOrderPayment", id,
		`UPDATE orders SET payment_id = $3, payment_status = $4, updated_at = $2 WHERE id = $1`, paymentID, paymentStatus)
}

// update runs query with id as $1, the current time as $2 and values from
// $3 on. No matching row is NotFound.
func (r *OrderRepository) update(ctx context.Context, operation, id, query string, values ...any) (err error) {
	ctx, end := database.TraceQuery(ctx, operation, query)
	defer func() { end(err) }()

	args := append([]any{id, time.Now().UTC()}, values...)
	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update order %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("order", id)
	}
	return nil
}

// MaxDailySequence returns the highest sequence among the order numbers of
// day (YYMMDD). Sequences are compared as integers so numbers past 9999
// still order correctly.
func (r *OrderRepository) MaxDailySequence(ctx context.Context, day string) (_ int, err error) {
	query := `
		SELECT COALESCE(MAX(CAST(SUBSTRING(order_number FROM 10) AS INTEGER)), 0)
		FROM orders
		WHERE order_number LIKE $1`

	ctx, end := database.TraceQuery(ctx, "MaxDailySequence", query)
	defer func() { end(err) }()

	var seq int
	if err = r.pool.QueryRow(ctx, query, "ORD"+day+"%").Scan(&seq); err != nil {
		return 0, fmt.Errorf("query max daily sequence: %w", err)
	}
	return seq, nil
}

// NextOrderNumber allocates max+1 for the day of now. Two concurrent callers
// can receive the same number; the unique index on order_number turns the
// second insert into ErrAlreadyExists.
func (r *OrderRepository) NextOrderNumber(ctx context.Context, now time.Time) (string, error) {
	seq, err := r.MaxDailySequence(ctx, domain.OrderNumberDay(now))
	if err != nil {
		return "", err
	}
	return domain.FormatOrderNumber(now, seq+1), nil
}

func marshalAddress(a *domain.Address) ([]byte, error) {
	if a == nil {
		return nil, nil
	}
	return json.Marshal(a)
}

func unmarshalAddress(raw []byte) (*domain.Address, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var addr domain.Address
	if err := json.Unmarshal(raw, &addr); err != nil {
		return nil, err
	}
	return &addr, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
