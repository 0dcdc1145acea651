package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const registerColumns = `id, opening_amount, closing_amount, opened_at, closed_at, note,
	is_closed, opened_by, created_at, updated_at`

func scanRegister(row pgx.Row) (CashRegister, error) {
	var r CashRegister
	err := row.Scan(&r.ID, &r.OpeningAmount, &r.ClosingAmount, &r.OpenedAt, &r.ClosedAt,
		&r.Note, &r.IsClosed, &r.OpenedBy, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}

type CreateCashRegisterParams struct {
	OpeningAmount pgtype.Numeric
	Note          pgtype.Text
	OpenedBy      pgtype.UUID
}

// The partial unique index on (is_closed) WHERE NOT is_closed makes this
// insert fail with 23505 if another open register slips in between the
// service's existence check and this write.
const createCashRegister = `
INSERT INTO cash_registers (opening_amount, closing_amount, note, opened_by)
VALUES ($1, 0, $2, $3)
RETURNING ` + registerColumns

func (q *Queries) CreateCashRegister(ctx context.Context, arg CreateCashRegisterParams) (CashRegister, error) {
	return scanRegister(q.db.QueryRow(ctx, createCashRegister,
		arg.OpeningAmount, arg.Note, arg.OpenedBy))
}

const getCashRegister = `SELECT ` + registerColumns + ` FROM cash_registers WHERE id = $1`

func (q *Queries) GetCashRegister(ctx context.Context, id uuid.UUID) (CashRegister, error) {
	return scanRegister(q.db.QueryRow(ctx, getCashRegister, id))
}

const getCashRegisterForUpdate = `
SELECT ` + registerColumns + ` FROM cash_registers WHERE id = $1 FOR NO KEY UPDATE`

func (q *Queries) GetCashRegisterForUpdate(ctx context.Context, id uuid.UUID) (CashRegister, error) {
	return scanRegister(q.db.QueryRow(ctx, getCashRegisterForUpdate, id))
}

const getOpenCashRegister = `
SELECT ` + registerColumns + ` FROM cash_registers
WHERE is_closed = false
ORDER BY opened_at DESC
LIMIT 1`

func (q *Queries) GetOpenCashRegister(ctx context.Context) (CashRegister, error) {
	return scanRegister(q.db.QueryRow(ctx, getOpenCashRegister))
}

// GetOpenCashRegisterForUpdate locks the open register row so settlement and
// close cannot interleave.
const getOpenCashRegisterForUpdate = getOpenCashRegister + ` FOR NO KEY UPDATE`

func (q *Queries) GetOpenCashRegisterForUpdate(ctx context.Context) (CashRegister, error) {
	return scanRegister(q.db.QueryRow(ctx, getOpenCashRegisterForUpdate))
}

type ListCashRegistersParams struct {
	IsClosed  pgtype.Bool
	StartDate pgtype.Timestamptz
	EndDate   pgtype.Timestamptz
	Limit     int32
	Offset    int32
}

const listCashRegisters = `
SELECT ` + registerColumns + ` FROM cash_registers
WHERE ($1::boolean IS NULL OR is_closed = $1)
  AND ($2::timestamptz IS NULL OR opened_at >= $2)
  AND ($3::timestamptz IS NULL OR opened_at <= $3)
ORDER BY opened_at DESC
LIMIT $4 OFFSET $5`

func (q *Queries) ListCashRegisters(ctx context.Context, arg ListCashRegistersParams) ([]CashRegister, error) {
	rows, err := q.db.Query(ctx, listCashRegisters,
		arg.IsClosed, arg.StartDate, arg.EndDate, arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var registers []CashRegister
	for rows.Next() {
		r, err := scanRegister(rows)
		if err != nil {
			return nil, err
		}
		registers = append(registers, r)
	}
	return registers, rows.Err()
}

type CountCashRegistersParams struct {
	IsClosed  pgtype.Bool
	StartDate pgtype.Timestamptz
	EndDate   pgtype.Timestamptz
}

const countCashRegisters = `
SELECT count(*) FROM cash_registers
WHERE ($1::boolean IS NULL OR is_closed = $1)
  AND ($2::timestamptz IS NULL OR opened_at >= $2)
  AND ($3::timestamptz IS NULL OR opened_at <= $3)`

func (q *Queries) CountCashRegisters(ctx context.Context, arg CountCashRegistersParams) (int64, error) {
	var n int64
	err := q.db.QueryRow(ctx, countCashRegisters, arg.IsClosed, arg.StartDate, arg.EndDate).Scan(&n)
	return n, err
}

type CloseCashRegisterParams struct {
	ID            uuid.UUID
	ClosingAmount pgtype.Numeric
	Note          pgtype.Text
}

// Note is only replaced when a non-null value is supplied; the guard on
// is_closed makes a double close return no rows.
const closeCashRegister = `
UPDATE cash_registers
SET closing_amount = $2, closed_at = now(), is_closed = true,
	note = COALESCE($3, note), updated_at = now()
WHERE id = $1 AND is_closed = false
RETURNING ` + registerColumns

func (q *Queries) CloseCashRegister(ctx context.Context, arg CloseCashRegisterParams) (CashRegister, error) {
	return scanRegister(q.db.QueryRow(ctx, closeCashRegister, arg.ID, arg.ClosingAmount, arg.Note))
}

const deleteCashRegister = `DELETE FROM cash_registers WHERE id = $1`

func (q *Queries) DeleteCashRegister(ctx context.Context, id uuid.UUID) error {
	_, err := q.db.Exec(ctx, deleteCashRegister, id)
	return err
}

// --- Cash movements ---

const movementColumns = `id, register_id, movement_type, amount, concept, movement_date, created_at`

func scanMovement(row pgx.Row) (CashMovement, error) {
	var m CashMovement
	err := row.Scan(&m.ID, &m.RegisterID, &m.MovementType, &m.Amount, &m.Concept,
		&m.MovementDate, &m.CreatedAt)
	return m, err
}

type CreateCashMovementParams struct {
	RegisterID   uuid.UUID
	MovementType string
	Amount       pgtype.Numeric
	Concept      string
}

const createCashMovement = `
INSERT INTO cash_movements (register_id, movement_type, amount, concept)
VALUES ($1, $2, $3, $4)
RETURNING ` + movementColumns

func (q *Queries) CreateCashMovement(ctx context.Context, arg CreateCashMovementParams) (CashMovement, error) {
	return scanMovement(q.db.QueryRow(ctx, createCashMovement,
		arg.RegisterID, arg.MovementType, arg.Amount, arg.Concept))
}

const listCashMovementsByRegister = `
SELECT ` + movementColumns + ` FROM cash_movements
WHERE register_id = $1
ORDER BY movement_date DESC`

func (q *Queries) ListCashMovementsByRegister(ctx context.Context, registerID uuid.UUID) ([]CashMovement, error) {
	rows, err := q.db.Query(ctx, listCashMovementsByRegister, registerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var movements []CashMovement
	for rows.Next() {
		m, err := scanMovement(rows)
		if err != nil {
			return nil, err
		}
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

const listCashMovementsByRegisters = `
SELECT ` + movementColumns + ` FROM cash_movements
WHERE register_id = ANY($1)
ORDER BY movement_date DESC`

func (q *Queries) ListCashMovementsByRegisters(ctx context.Context, registerIDs []uuid.UUID) ([]CashMovement, error) {
	rows, err := q.db.Query(ctx, listCashMovementsByRegisters, registerIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var movements []CashMovement
	for rows.Next() {
		m, err := scanMovement(rows)
		if err != nil {
			return nil, err
		}
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

const deleteCashMovementsByRegister = `DELETE FROM cash_movements WHERE register_id = $1`

func (q *Queries) DeleteCashMovementsByRegister(ctx context.Context, registerID uuid.UUID) error {
	_, err := q.db.Exec(ctx, deleteCashMovementsByRegister, registerID)
	return err
}
