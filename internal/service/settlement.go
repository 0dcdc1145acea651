package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/fogon-pos/api/internal/database"
	"github.com/fogon-pos/api/internal/enum"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ErrAlreadyPaid is returned when settling an order that is already settled.
var ErrAlreadyPaid = errors.New("order is already paid")

// SettlementStore defines the DB methods needed to settle an order.
// Satisfied by *database.Queries (and its WithTx variant).
type SettlementStore interface {
	GetOrderForUpdate(ctx context.Context, id uuid.UUID) (database.Order, error)
	GetOpenCashRegisterForUpdate(ctx context.Context) (database.CashRegister, error)
	MarkOrderPaid(ctx context.Context, id uuid.UUID) (database.Order, error)
	GetTable(ctx context.Context, id uuid.UUID) (database.Table, error)
	CreateCashMovement(ctx context.Context, arg database.CreateCashMovementParams) (database.CashMovement, error)
	ListOrderDetailsByOrder(ctx context.Context, orderID uuid.UUID) ([]database.OrderDetail, error)
}

// NewSettlementStore creates a SettlementStore from a DBTX (pool or tx).
type NewSettlementStore func(db database.DBTX) SettlementStore

// SettlementService performs the payment settlement: marking an order paid and
// recording the matching Income movement are one transaction, so the books
// never show a paid order without its income or the reverse.
type SettlementService struct {
	pool     TxBeginner
	newStore NewSettlementStore
}

// NewSettlementService creates a new SettlementService.
func NewSettlementService(pool TxBeginner, newStore NewSettlementStore) *SettlementService {
	return &SettlementService{pool: pool, newStore: newStore}
}

// MarkOrderAsPaid settles an order against the open register. The order row
// and the register row are both locked for the duration of the transaction:
// two cashiers settling the same order race on the lock, and the loser sees
// is_paid already flipped. Requires an open register; settling also completes
// the order, stamping completed_at if it is not already set.
func (s *SettlementService) MarkOrderAsPaid(ctx context.Context, orderID uuid.UUID) (*OrderResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	order, err := store.GetOrderForUpdate(ctx, orderID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	if order.IsPaid {
		return nil, ErrAlreadyPaid
	}

	register, err := store.GetOpenCashRegisterForUpdate(ctx)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoOpenRegister
		}
		return nil, fmt.Errorf("get open register: %w", err)
	}

	paid, err := store.MarkOrderPaid(ctx, orderID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAlreadyPaid
		}
		return nil, fmt.Errorf("mark order paid: %w", err)
	}

	table, err := store.GetTable(ctx, order.TableID)
	if err != nil {
		return nil, fmt.Errorf("get table: %w", err)
	}

	concept := fmt.Sprintf("Payment for order %s - Table %s", order.OrderNumber, table.Name)
	if _, err := store.CreateCashMovement(ctx, database.CreateCashMovementParams{
		RegisterID:   register.ID,
		MovementType: enum.MovementTypeIncome,
		Amount:       paid.Total,
		Concept:      concept,
	}); err != nil {
		return nil, fmt.Errorf("create income movement: %w", err)
	}

	details, err := store.ListOrderDetailsByOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("list order details: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	return &OrderResult{Order: paid, Details: details}, nil
}
