package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fogon-pos/api/internal/database"
	"github.com/fogon-pos/api/internal/enum"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

const maxOrderNumberRetries = 3

// Errors returned by the order service.
var (
	ErrEmptyDetails          = errors.New("at least one order line is required")
	ErrInvalidQuantity       = errors.New("quantity must be >= 1")
	ErrInvalidUnitPrice      = errors.New("unit_price must be > 0")
	ErrMissingProductName    = errors.New("product_name is required")
	ErrTableNotFound         = errors.New("table does not exist")
	ErrWorkerNotFound        = errors.New("worker does not exist")
	ErrPaymentMethodNotFound = errors.New("payment method does not exist")
	ErrProductNotFound       = errors.New("product does not exist")
	ErrInvalidStatus         = errors.New("invalid status")
	ErrInvalidAmount         = errors.New("amount must be >= 0")
	ErrNegativeTotal         = errors.New("discount exceeds subtotal plus tax")
	ErrOrderNotFound         = errors.New("order not found")
	ErrOrderSettled          = errors.New("cannot delete a settled order")
	ErrConcurrentUpdate      = errors.New("order was modified concurrently")
)

// TxBeginner starts a new database transaction.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// OrderStore defines the DB methods needed by the order lifecycle.
// Satisfied by *database.Queries (and its WithTx variant).
type OrderStore interface {
	GetTable(ctx context.Context, id uuid.UUID) (database.Table, error)
	GetWorker(ctx context.Context, id uuid.UUID) (database.Worker, error)
	GetPaymentMethod(ctx context.Context, id uuid.UUID) (database.PaymentMethod, error)
	GetProduct(ctx context.Context, id uuid.UUID) (database.Product, error)
	CreateOrder(ctx context.Context, arg database.CreateOrderParams) (database.Order, error)
	CreateOrderDetail(ctx context.Context, arg database.CreateOrderDetailParams) (database.OrderDetail, error)
	GetOrder(ctx context.Context, id uuid.UUID) (database.Order, error)
	ListOrderDetailsByOrder(ctx context.Context, orderID uuid.UUID) ([]database.OrderDetail, error)
	UpdateOrder(ctx context.Context, arg database.UpdateOrderParams) (database.Order, error)
	UpdateOrderStatus(ctx context.Context, arg database.UpdateOrderStatusParams) (database.Order, error)
	DeleteOrderDetailsByOrder(ctx context.Context, orderID uuid.UUID) error
	DeleteOrder(ctx context.Context, id uuid.UUID) error
}

// NewOrderStore creates an OrderStore from a DBTX (pool or tx).
type NewOrderStore func(db database.DBTX) OrderStore

// CreateOrderRequest is the validated input for creating an order.
type CreateOrderRequest struct {
	TableID         uuid.UUID
	WorkerID        *uuid.UUID
	PaymentMethodID uuid.UUID
	UserID          *uuid.UUID
	CustomerName    string
	OrderType       string
	Observations    string
	Discount        decimal.Decimal
	Tax             decimal.Decimal
	Details         []CreateOrderDetailRequest
}

// CreateOrderDetailRequest is a single line in the order. ProductID is
// optional; ProductName is required either way (free-text lines).
type CreateOrderDetailRequest struct {
	ProductID    *uuid.UUID
	ProductName  string
	Quantity     int32
	UnitPrice    decimal.Decimal
	Observations string
}

// UpdateOrderRequest carries the full replace-style update of an order.
// is_paid is deliberately absent: settlement is the only path that flips it.
type UpdateOrderRequest struct {
	TableID         uuid.UUID
	WorkerID        *uuid.UUID
	PaymentMethodID uuid.UUID
	Status          string
	CustomerName    string
	OrderType       string
	Observations    string
	Discount        decimal.Decimal
	Tax             decimal.Decimal
}

// OrderResult is an order with its owned lines.
type OrderResult struct {
	Order   database.Order
	Details []database.OrderDetail
}

// OrderService owns order creation, field updates, status transitions and
// deletion guards.
type OrderService struct {
	store    OrderStore
	pool     TxBeginner
	newStore NewOrderStore
}

// NewOrderService creates a new OrderService. store is bound to the pool for
// single-statement operations; newStore builds tx-scoped stores.
func NewOrderService(store OrderStore, pool TxBeginner, newStore NewOrderStore) *OrderService {
	return &OrderService{store: store, pool: pool, newStore: newStore}
}

// Create validates references, computes totals and persists the order with
// its lines in one transaction. The order starts Pending and unpaid; income
// is recognized at settlement, never here.
func (s *OrderService) Create(ctx context.Context, req CreateOrderRequest) (*OrderResult, error) {
	if len(req.Details) == 0 {
		return nil, ErrEmptyDetails
	}
	for i, d := range req.Details {
		if d.Quantity < 1 {
			return nil, fmt.Errorf("details[%d]: %w", i, ErrInvalidQuantity)
		}
		if !d.UnitPrice.IsPositive() {
			return nil, fmt.Errorf("details[%d]: %w", i, ErrInvalidUnitPrice)
		}
		if d.ProductName == "" {
			return nil, fmt.Errorf("details[%d]: %w", i, ErrMissingProductName)
		}
	}
	if req.Discount.IsNegative() || req.Tax.IsNegative() {
		return nil, ErrInvalidAmount
	}

	// Retry loop: concurrent creates within the same second collide on the
	// time-derived order number's unique index.
	var lastErr error
	for attempt := 0; attempt < maxOrderNumberRetries; attempt++ {
		result, err := s.createTx(ctx, req, attempt)
		if err == nil {
			return result, nil
		}
		if isUniqueViolation(err, "orders_order_number_key") {
			lastErr = err
			continue
		}
		return nil, err
	}
	return nil, lastErr
}

func (s *OrderService) createTx(ctx context.Context, req CreateOrderRequest, attempt int) (*OrderResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	if err := s.validateReferences(ctx, store, req.TableID, req.WorkerID, req.PaymentMethodID); err != nil {
		return nil, err
	}
	for i, d := range req.Details {
		if d.ProductID == nil {
			continue
		}
		if _, err := store.GetProduct(ctx, *d.ProductID); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, fmt.Errorf("details[%d]: %w", i, ErrProductNotFound)
			}
			return nil, fmt.Errorf("details[%d]: get product: %w", i, err)
		}
	}

	subtotal := decimal.Zero
	for _, d := range req.Details {
		subtotal = subtotal.Add(d.UnitPrice.Mul(decimal.NewFromInt32(d.Quantity)))
	}
	total := subtotal.Sub(req.Discount).Add(req.Tax)
	if total.IsNegative() {
		return nil, ErrNegativeTotal
	}

	now := time.Now().UTC()
	orderNumber := fmt.Sprintf("ORD-%s", now.Format("20060102150405"))
	if attempt > 0 {
		orderNumber = fmt.Sprintf("%s-%d", orderNumber, now.Nanosecond())
	}

	orderType := req.OrderType
	if orderType == "" {
		orderType = enum.OrderTypeDineIn
	}

	order, err := store.CreateOrder(ctx, database.CreateOrderParams{
		OrderNumber:     orderNumber,
		OrderDate:       now,
		Status:          enum.OrderStatusPending,
		UserID:          uuidOrNull(req.UserID),
		TableID:         req.TableID,
		WorkerID:        uuidOrNull(req.WorkerID),
		PaymentMethodID: pgtype.UUID{Bytes: req.PaymentMethodID, Valid: true},
		Subtotal:        decimalToNumeric(subtotal),
		Discount:        decimalToNumeric(req.Discount),
		Tax:             decimalToNumeric(req.Tax),
		Total:           decimalToNumeric(total),
		CustomerName:    textOrNull(req.CustomerName),
		OrderType:       orderType,
		Observations:    textOrNull(req.Observations),
	})
	if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	details := make([]database.OrderDetail, 0, len(req.Details))
	for _, d := range req.Details {
		lineSubtotal := d.UnitPrice.Mul(decimal.NewFromInt32(d.Quantity))
		detail, err := store.CreateOrderDetail(ctx, database.CreateOrderDetailParams{
			OrderID:      order.ID,
			ProductID:    uuidOrNull(d.ProductID),
			ProductName:  d.ProductName,
			Quantity:     d.Quantity,
			UnitPrice:    decimalToNumeric(d.UnitPrice),
			Subtotal:     decimalToNumeric(lineSubtotal),
			Total:        decimalToNumeric(lineSubtotal),
			Observations: textOrNull(d.Observations),
			Status:       enum.OrderDetailStatusPending,
		})
		if err != nil {
			return nil, fmt.Errorf("create order detail: %w", err)
		}
		details = append(details, detail)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	return &OrderResult{Order: order, Details: details}, nil
}

// Update re-validates references and recomputes the total from the stored
// subtotal and the new discount/tax. Transition into Completed stamps
// completed_at exactly once. A concurrent write between our read and write is
// detected via the updated_at guard and re-checked for existence.
func (s *OrderService) Update(ctx context.Context, id uuid.UUID, req UpdateOrderRequest) (*OrderResult, error) {
	if !isValidOrderStatus(req.Status) {
		return nil, ErrInvalidStatus
	}
	if req.Discount.IsNegative() || req.Tax.IsNegative() {
		return nil, ErrInvalidAmount
	}

	order, err := s.store.GetOrder(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	if err := s.validateReferences(ctx, s.store, req.TableID, req.WorkerID, req.PaymentMethodID); err != nil {
		return nil, err
	}

	subtotal := numericToDecimal(order.Subtotal)
	total := subtotal.Sub(req.Discount).Add(req.Tax)
	if total.IsNegative() {
		return nil, ErrNegativeTotal
	}

	updated, err := s.store.UpdateOrder(ctx, database.UpdateOrderParams{
		ID:              id,
		TableID:         req.TableID,
		WorkerID:        uuidOrNull(req.WorkerID),
		PaymentMethodID: pgtype.UUID{Bytes: req.PaymentMethodID, Valid: true},
		Status:          req.Status,
		CustomerName:    textOrNull(req.CustomerName),
		OrderType:       req.OrderType,
		Observations:    textOrNull(req.Observations),
		Discount:        decimalToNumeric(req.Discount),
		Tax:             decimalToNumeric(req.Tax),
		Total:           decimalToNumeric(total),
		UpdatedAt:       order.UpdatedAt,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Row changed (or vanished) between read and write.
			if _, getErr := s.store.GetOrder(ctx, id); getErr != nil {
				if errors.Is(getErr, pgx.ErrNoRows) {
					return nil, ErrOrderNotFound
				}
				return nil, fmt.Errorf("recheck order: %w", getErr)
			}
			return nil, ErrConcurrentUpdate
		}
		return nil, fmt.Errorf("update order: %w", err)
	}

	details, err := s.store.ListOrderDetailsByOrder(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list order details: %w", err)
	}
	return &OrderResult{Order: updated, Details: details}, nil
}

// ChangeStatus moves the order into one of the four lifecycle states.
// The status set is case-sensitive; anything else is a validation error.
func (s *OrderService) ChangeStatus(ctx context.Context, id uuid.UUID, status string) (*OrderResult, error) {
	if !isValidOrderStatus(status) {
		return nil, ErrInvalidStatus
	}

	order, err := s.store.UpdateOrderStatus(ctx, database.UpdateOrderStatusParams{
		ID:     id,
		Status: status,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("update order status: %w", err)
	}

	details, err := s.store.ListOrderDetailsByOrder(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list order details: %w", err)
	}
	return &OrderResult{Order: order, Details: details}, nil
}

// Delete removes an order and its lines together. Settled orders are
// immutable for deletion.
func (s *OrderService) Delete(ctx context.Context, id uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	order, err := store.GetOrder(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrOrderNotFound
		}
		return fmt.Errorf("get order: %w", err)
	}
	if order.IsPaid {
		return ErrOrderSettled
	}

	if err := store.DeleteOrderDetailsByOrder(ctx, id); err != nil {
		return fmt.Errorf("delete order details: %w", err)
	}
	if err := store.DeleteOrder(ctx, id); err != nil {
		return fmt.Errorf("delete order: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *OrderService) validateReferences(ctx context.Context, store OrderStore, tableID uuid.UUID, workerID *uuid.UUID, paymentMethodID uuid.UUID) error {
	if _, err := store.GetTable(ctx, tableID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrTableNotFound
		}
		return fmt.Errorf("get table: %w", err)
	}
	if workerID != nil {
		if _, err := store.GetWorker(ctx, *workerID); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrWorkerNotFound
			}
			return fmt.Errorf("get worker: %w", err)
		}
	}
	if _, err := store.GetPaymentMethod(ctx, paymentMethodID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrPaymentMethodNotFound
		}
		return fmt.Errorf("get payment method: %w", err)
	}
	return nil
}

// --- Helpers ---

func isValidOrderStatus(s string) bool {
	switch s {
	case enum.OrderStatusPending, enum.OrderStatusInProcess,
		enum.OrderStatusCompleted, enum.OrderStatusCancelled:
		return true
	}
	return false
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" && pgErr.ConstraintName == constraint
	}
	return false
}

func uuidOrNull(id *uuid.UUID) pgtype.UUID {
	if id == nil {
		return pgtype.UUID{}
	}
	return pgtype.UUID{Bytes: *id, Valid: true}
}

func textOrNull(s string) pgtype.Text {
	if s == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: s, Valid: true}
}

func numericToDecimal(n pgtype.Numeric) decimal.Decimal {
	if !n.Valid {
		return decimal.Zero
	}
	val, err := n.Value()
	if err != nil || val == nil {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(val.(string))
	if err != nil {
		return decimal.Zero
	}
	return d
}

func decimalToNumeric(d decimal.Decimal) pgtype.Numeric {
	var n pgtype.Numeric
	_ = n.Scan(d.StringFixed(2))
	return n
}
