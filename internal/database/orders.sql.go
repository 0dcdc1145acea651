package database

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const orderColumns = `id, order_number, order_date, status, user_id, table_id, worker_id,
	payment_method_id, subtotal, discount, tax, total, customer_name, order_type,
	observations, is_paid, completed_at, created_at, updated_at`

func scanOrder(row pgx.Row) (Order, error) {
	var o Order
	err := row.Scan(
		&o.ID, &o.OrderNumber, &o.OrderDate, &o.Status, &o.UserID, &o.TableID,
		&o.WorkerID, &o.PaymentMethodID, &o.Subtotal, &o.Discount, &o.Tax, &o.Total,
		&o.CustomerName, &o.OrderType, &o.Observations, &o.IsPaid, &o.CompletedAt,
		&o.CreatedAt, &o.UpdatedAt,
	)
	return o, err
}

type CreateOrderParams struct {
	OrderNumber     string
	OrderDate       time.Time
	Status          string
	UserID          pgtype.UUID
	TableID         uuid.UUID
	WorkerID        pgtype.UUID
	PaymentMethodID pgtype.UUID
	Subtotal        pgtype.Numeric
	Discount        pgtype.Numeric
	Tax             pgtype.Numeric
	Total           pgtype.Numeric
	CustomerName    pgtype.Text
	OrderType       string
	Observations    pgtype.Text
}

const createOrder = `
INSERT INTO orders (order_number, order_date, status, user_id, table_id, worker_id,
	payment_method_id, subtotal, discount, tax, total, customer_name, order_type, observations)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
RETURNING ` + orderColumns

func (q *Queries) CreateOrder(ctx context.Context, arg CreateOrderParams) (Order, error) {
	row := q.db.QueryRow(ctx, createOrder,
		arg.OrderNumber, arg.OrderDate, arg.Status, arg.UserID, arg.TableID,
		arg.WorkerID, arg.PaymentMethodID, arg.Subtotal, arg.Discount, arg.Tax,
		arg.Total, arg.CustomerName, arg.OrderType, arg.Observations,
	)
	return scanOrder(row)
}

const getOrder = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

func (q *Queries) GetOrder(ctx context.Context, id uuid.UUID) (Order, error) {
	return scanOrder(q.db.QueryRow(ctx, getOrder, id))
}

// GetOrderForUpdate locks the order row so settlement checks are race-free
// within the surrounding transaction.
const getOrderForUpdate = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1 FOR NO KEY UPDATE`

func (q *Queries) GetOrderForUpdate(ctx context.Context, id uuid.UUID) (Order, error) {
	return scanOrder(q.db.QueryRow(ctx, getOrderForUpdate, id))
}

type ListOrdersParams struct {
	Search    pgtype.Text
	Status    pgtype.Text
	TableID   pgtype.UUID
	IsPaid    pgtype.Bool
	StartDate pgtype.Timestamptz
	EndDate   pgtype.Timestamptz
	Limit     int32
	Offset    int32
}

const listOrders = `
SELECT ` + orderColumns + ` FROM orders
WHERE ($1::text IS NULL OR order_number ILIKE '%' || $1 || '%' OR customer_name ILIKE '%' || $1 || '%')
  AND ($2::text IS NULL OR status = $2)
  AND ($3::uuid IS NULL OR table_id = $3)
  AND ($4::boolean IS NULL OR is_paid = $4)
  AND ($5::timestamptz IS NULL OR order_date >= $5)
  AND ($6::timestamptz IS NULL OR order_date <= $6)
ORDER BY order_date DESC
LIMIT $7 OFFSET $8`

func (q *Queries) ListOrders(ctx context.Context, arg ListOrdersParams) ([]Order, error) {
	rows, err := q.db.Query(ctx, listOrders,
		arg.Search, arg.Status, arg.TableID, arg.IsPaid, arg.StartDate, arg.EndDate,
		arg.Limit, arg.Offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

type CountOrdersParams struct {
	Search    pgtype.Text
	Status    pgtype.Text
	TableID   pgtype.UUID
	IsPaid    pgtype.Bool
	StartDate pgtype.Timestamptz
	EndDate   pgtype.Timestamptz
}

const countOrders = `
SELECT count(*) FROM orders
WHERE ($1::text IS NULL OR order_number ILIKE '%' || $1 || '%' OR customer_name ILIKE '%' || $1 || '%')
  AND ($2::text IS NULL OR status = $2)
  AND ($3::uuid IS NULL OR table_id = $3)
  AND ($4::boolean IS NULL OR is_paid = $4)
  AND ($5::timestamptz IS NULL OR order_date >= $5)
  AND ($6::timestamptz IS NULL OR order_date <= $6)`

func (q *Queries) CountOrders(ctx context.Context, arg CountOrdersParams) (int64, error) {
	var n int64
	err := q.db.QueryRow(ctx, countOrders,
		arg.Search, arg.Status, arg.TableID, arg.IsPaid, arg.StartDate, arg.EndDate,
	).Scan(&n)
	return n, err
}

// ListActiveOrdersByTables fetches the live (unpaid, non-cancelled) orders for
// a set of tables in one pass, newest first. Occupancy derivation depends on
// this being a single round trip regardless of how many tables are listed.
const listActiveOrdersByTables = `
SELECT ` + orderColumns + ` FROM orders
WHERE table_id = ANY($1) AND is_paid = false AND status <> 'Cancelled'
ORDER BY order_date DESC`

func (q *Queries) ListActiveOrdersByTables(ctx context.Context, tableIDs []uuid.UUID) ([]Order, error) {
	rows, err := q.db.Query(ctx, listActiveOrdersByTables, tableIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

type UpdateOrderParams struct {
	ID              uuid.UUID
	TableID         uuid.UUID
	WorkerID        pgtype.UUID
	PaymentMethodID pgtype.UUID
	Status          string
	CustomerName    pgtype.Text
	OrderType       string
	Observations    pgtype.Text
	Discount        pgtype.Numeric
	Tax             pgtype.Numeric
	Total           pgtype.Numeric
	// UpdatedAt is the value read before the edit; the row is only written
	// if it has not changed since (optimistic concurrency check).
	UpdatedAt time.Time
}

const updateOrder = `
UPDATE orders
SET table_id = $2, worker_id = $3, payment_method_id = $4, status = $5,
	customer_name = $6, order_type = $7, observations = $8,
	discount = $9, tax = $10, total = $11,
	completed_at = CASE WHEN $5 = 'Completed' AND completed_at IS NULL THEN now() ELSE completed_at END,
	updated_at = now()
WHERE id = $1 AND updated_at = $12
RETURNING ` + orderColumns

func (q *Queries) UpdateOrder(ctx context.Context, arg UpdateOrderParams) (Order, error) {
	row := q.db.QueryRow(ctx, updateOrder,
		arg.ID, arg.TableID, arg.WorkerID, arg.PaymentMethodID, arg.Status,
		arg.CustomerName, arg.OrderType, arg.Observations,
		arg.Discount, arg.Tax, arg.Total, arg.UpdatedAt,
	)
	return scanOrder(row)
}

type UpdateOrderStatusParams struct {
	ID     uuid.UUID
	Status string
}

const updateOrderStatus = `
UPDATE orders
SET status = $2,
	completed_at = CASE WHEN $2 = 'Completed' AND completed_at IS NULL THEN now() ELSE completed_at END,
	updated_at = now()
WHERE id = $1
RETURNING ` + orderColumns

func (q *Queries) UpdateOrderStatus(ctx context.Context, arg UpdateOrderStatusParams) (Order, error) {
	return scanOrder(q.db.QueryRow(ctx, updateOrderStatus, arg.ID, arg.Status))
}

// MarkOrderPaid is guarded by is_paid = false so a concurrent settlement of
// the same order yields no rows instead of a duplicate movement.
const markOrderPaid = `
UPDATE orders
SET is_paid = true, status = 'Completed',
	completed_at = COALESCE(completed_at, now()),
	updated_at = now()
WHERE id = $1 AND is_paid = false
RETURNING ` + orderColumns

func (q *Queries) MarkOrderPaid(ctx context.Context, id uuid.UUID) (Order, error) {
	return scanOrder(q.db.QueryRow(ctx, markOrderPaid, id))
}

const deleteOrder = `DELETE FROM orders WHERE id = $1`

func (q *Queries) DeleteOrder(ctx context.Context, id uuid.UUID) error {
	_, err := q.db.Exec(ctx, deleteOrder, id)
	return err
}

// --- Order details ---

const orderDetailColumns = `id, order_id, product_id, product_name, quantity, unit_price,
	subtotal, total, observations, status, created_at, updated_at`

func scanOrderDetail(row pgx.Row) (OrderDetail, error) {
	var d OrderDetail
	err := row.Scan(
		&d.ID, &d.OrderID, &d.ProductID, &d.ProductName, &d.Quantity, &d.UnitPrice,
		&d.Subtotal, &d.Total, &d.Observations, &d.Status, &d.CreatedAt, &d.UpdatedAt,
	)
	return d, err
}

type CreateOrderDetailParams struct {
	OrderID      uuid.UUID
	ProductID    pgtype.UUID
	ProductName  string
	Quantity     int32
	UnitPrice    pgtype.Numeric
	Subtotal     pgtype.Numeric
	Total        pgtype.Numeric
	Observations pgtype.Text
	Status       string
}

const createOrderDetail = `
INSERT INTO order_details (order_id, product_id, product_name, quantity, unit_price,
	subtotal, total, observations, status)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING ` + orderDetailColumns

func (q *Queries) CreateOrderDetail(ctx context.Context, arg CreateOrderDetailParams) (OrderDetail, error) {
	row := q.db.QueryRow(ctx, createOrderDetail,
		arg.OrderID, arg.ProductID, arg.ProductName, arg.Quantity, arg.UnitPrice,
		arg.Subtotal, arg.Total, arg.Observations, arg.Status,
	)
	return scanOrderDetail(row)
}

const listOrderDetailsByOrder = `
SELECT ` + orderDetailColumns + ` FROM order_details WHERE order_id = $1 ORDER BY created_at`

func (q *Queries) ListOrderDetailsByOrder(ctx context.Context, orderID uuid.UUID) ([]OrderDetail, error) {
	rows, err := q.db.Query(ctx, listOrderDetailsByOrder, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var details []OrderDetail
	for rows.Next() {
		d, err := scanOrderDetail(rows)
		if err != nil {
			return nil, err
		}
		details = append(details, d)
	}
	return details, rows.Err()
}

const listOrderDetailsByOrders = `
SELECT ` + orderDetailColumns + ` FROM order_details WHERE order_id = ANY($1) ORDER BY created_at`

func (q *Queries) ListOrderDetailsByOrders(ctx context.Context, orderIDs []uuid.UUID) ([]OrderDetail, error) {
	rows, err := q.db.Query(ctx, listOrderDetailsByOrders, orderIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var details []OrderDetail
	for rows.Next() {
		d, err := scanOrderDetail(rows)
		if err != nil {
			return nil, err
		}
		details = append(details, d)
	}
	return details, rows.Err()
}

const deleteOrderDetailsByOrder = `DELETE FROM order_details WHERE order_id = $1`

func (q *Queries) DeleteOrderDetailsByOrder(ctx context.Context, orderID uuid.UUID) error {
	_, err := q.db.Exec(ctx, deleteOrderDetailsByOrder, orderID)
	return err
}
