package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/fogon-pos/api/internal/database"
	"github.com/fogon-pos/api/internal/enum"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// Errors returned by the cash register state machine.
var (
	ErrRegisterNotFound    = errors.New("cash register not found")
	ErrRegisterAlreadyOpen = errors.New("a cash register is already open")
	ErrRegisterClosed      = errors.New("cannot post to a closed register")
	ErrRegisterNotClosed   = errors.New("close the register before deleting it")
	ErrNoOpenRegister      = errors.New("no active register - open one before accepting payment")
	ErrInvalidMovementType = errors.New("movement type must be Income or Expense")
	ErrNonPositiveAmount   = errors.New("amount must be > 0")
)

// SmallBoxStore defines the DB methods needed by the register state machine.
// Satisfied by *database.Queries (and its WithTx variant).
type SmallBoxStore interface {
	GetOpenCashRegister(ctx context.Context) (database.CashRegister, error)
	CreateCashRegister(ctx context.Context, arg database.CreateCashRegisterParams) (database.CashRegister, error)
	GetCashRegister(ctx context.Context, id uuid.UUID) (database.CashRegister, error)
	GetCashRegisterForUpdate(ctx context.Context, id uuid.UUID) (database.CashRegister, error)
	CloseCashRegister(ctx context.Context, arg database.CloseCashRegisterParams) (database.CashRegister, error)
	CreateCashMovement(ctx context.Context, arg database.CreateCashMovementParams) (database.CashMovement, error)
	ListCashMovementsByRegister(ctx context.Context, registerID uuid.UUID) ([]database.CashMovement, error)
	DeleteCashMovementsByRegister(ctx context.Context, registerID uuid.UUID) error
	DeleteCashRegister(ctx context.Context, id uuid.UUID) error
}

// NewSmallBoxStore creates a SmallBoxStore from a DBTX (pool or tx).
type NewSmallBoxStore func(db database.DBTX) SmallBoxStore

// SmallBoxService owns the open/close lifecycle of the cash register and its
// recorded movements. State machine per register: Open -> Closed (terminal);
// system-wide there is never more than one open register.
type SmallBoxService struct {
	store    SmallBoxStore
	pool     TxBeginner
	newStore NewSmallBoxStore
}

// NewSmallBoxService creates a new SmallBoxService.
func NewSmallBoxService(store SmallBoxStore, pool TxBeginner, newStore NewSmallBoxStore) *SmallBoxService {
	return &SmallBoxService{store: store, pool: pool, newStore: newStore}
}

// Open creates a new register session. The existence check gives the friendly
// error; the partial unique index on open registers decides races the check
// cannot see, so a concurrent second open fails with the same error instead
// of slipping through.
func (s *SmallBoxService) Open(ctx context.Context, openingAmount decimal.Decimal, note string, openedBy *uuid.UUID) (database.CashRegister, error) {
	if openingAmount.IsNegative() {
		return database.CashRegister{}, ErrInvalidAmount
	}

	if _, err := s.store.GetOpenCashRegister(ctx); err == nil {
		return database.CashRegister{}, ErrRegisterAlreadyOpen
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return database.CashRegister{}, fmt.Errorf("get open register: %w", err)
	}

	register, err := s.store.CreateCashRegister(ctx, database.CreateCashRegisterParams{
		OpeningAmount: decimalToNumeric(openingAmount),
		Note:          textOrNull(note),
		OpenedBy:      uuidOrNull(openedBy),
	})
	if err != nil {
		if isUniqueViolation(err, "uniq_cash_registers_open") {
			return database.CashRegister{}, ErrRegisterAlreadyOpen
		}
		return database.CashRegister{}, fmt.Errorf("create register: %w", err)
	}
	return register, nil
}

// RecordMovement appends a manual Income or Expense entry. The register row
// is locked for the duration of the transaction so a concurrent close cannot
// slip between the check and the insert.
func (s *SmallBoxService) RecordMovement(ctx context.Context, registerID uuid.UUID, movementType string, amount decimal.Decimal, concept string) (database.CashMovement, error) {
	if movementType != enum.MovementTypeIncome && movementType != enum.MovementTypeExpense {
		return database.CashMovement{}, ErrInvalidMovementType
	}
	if !amount.IsPositive() {
		return database.CashMovement{}, ErrNonPositiveAmount
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return database.CashMovement{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	register, err := store.GetCashRegisterForUpdate(ctx, registerID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return database.CashMovement{}, ErrRegisterNotFound
		}
		return database.CashMovement{}, fmt.Errorf("get register: %w", err)
	}
	if register.IsClosed {
		return database.CashMovement{}, ErrRegisterClosed
	}

	movement, err := store.CreateCashMovement(ctx, database.CreateCashMovementParams{
		RegisterID:   registerID,
		MovementType: movementType,
		Amount:       decimalToNumeric(amount),
		Concept:      concept,
	})
	if err != nil {
		return database.CashMovement{}, fmt.Errorf("create movement: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return database.CashMovement{}, fmt.Errorf("commit tx: %w", err)
	}
	return movement, nil
}

// Close stamps the closing timestamp and declared amount, and makes the
// register terminal. The note survives unless a non-blank replacement comes in.
func (s *SmallBoxService) Close(ctx context.Context, registerID uuid.UUID, finalAmount decimal.Decimal, note string) (database.CashRegister, error) {
	if finalAmount.IsNegative() {
		return database.CashRegister{}, ErrInvalidAmount
	}

	register, err := s.store.CloseCashRegister(ctx, database.CloseCashRegisterParams{
		ID:            registerID,
		ClosingAmount: decimalToNumeric(finalAmount),
		Note:          textOrNull(note),
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Either the register is gone or it was already closed.
			if _, getErr := s.store.GetCashRegister(ctx, registerID); getErr != nil {
				if errors.Is(getErr, pgx.ErrNoRows) {
					return database.CashRegister{}, ErrRegisterNotFound
				}
				return database.CashRegister{}, fmt.Errorf("recheck register: %w", getErr)
			}
			return database.CashRegister{}, ErrRegisterClosed
		}
		return database.CashRegister{}, fmt.Errorf("close register: %w", err)
	}
	return register, nil
}

// GetOpen returns the single open register, or ErrNoOpenRegister. This is the
// hinge the settlement coordinator depends on.
func (s *SmallBoxService) GetOpen(ctx context.Context) (database.CashRegister, error) {
	register, err := s.store.GetOpenCashRegister(ctx)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return database.CashRegister{}, ErrNoOpenRegister
		}
		return database.CashRegister{}, fmt.Errorf("get open register: %w", err)
	}
	return register, nil
}

// Delete removes a closed register and its movements together. Open registers
// must be closed first.
func (s *SmallBoxService) Delete(ctx context.Context, registerID uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	register, err := store.GetCashRegisterForUpdate(ctx, registerID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrRegisterNotFound
		}
		return fmt.Errorf("get register: %w", err)
	}
	if !register.IsClosed {
		return ErrRegisterNotClosed
	}

	if err := store.DeleteCashMovementsByRegister(ctx, registerID); err != nil {
		return fmt.Errorf("delete movements: %w", err)
	}
	if err := store.DeleteCashRegister(ctx, registerID); err != nil {
		return fmt.Errorf("delete register: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// RegisterTotals sums a register's movements. Balance = opening amount +
// income - expense.
func RegisterTotals(register database.CashRegister, movements []database.CashMovement) (income, expense, balance decimal.Decimal) {
	income, expense = decimal.Zero, decimal.Zero
	for _, m := range movements {
		switch m.MovementType {
		case enum.MovementTypeIncome:
			income = income.Add(numericToDecimal(m.Amount))
		case enum.MovementTypeExpense:
			expense = expense.Add(numericToDecimal(m.Amount))
		}
	}
	balance = numericToDecimal(register.OpeningAmount).Add(income).Sub(expense)
	return income, expense, balance
}
