package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const tableColumns = `id, name, environment, capacity, lounge_id, is_active, created_at, updated_at`

func scanTable(row pgx.Row) (Table, error) {
	var t Table
	err := row.Scan(&t.ID, &t.Name, &t.Environment, &t.Capacity, &t.LoungeID,
		&t.IsActive, &t.CreatedAt, &t.UpdatedAt)
	return t, err
}

const getTable = `SELECT ` + tableColumns + ` FROM tables WHERE id = $1`

func (q *Queries) GetTable(ctx context.Context, id uuid.UUID) (Table, error) {
	return scanTable(q.db.QueryRow(ctx, getTable, id))
}

type ListTablesParams struct {
	Search   pgtype.Text
	IsActive pgtype.Bool
	LoungeID pgtype.UUID
	Limit    int32
	Offset   int32
}

const listTables = `
SELECT ` + tableColumns + ` FROM tables
WHERE ($1::text IS NULL OR name ILIKE '%' || $1 || '%' OR environment ILIKE '%' || $1 || '%')
  AND ($2::boolean IS NULL OR is_active = $2)
  AND ($3::uuid IS NULL OR lounge_id = $3)
ORDER BY name
LIMIT $4 OFFSET $5`

func (q *Queries) ListTables(ctx context.Context, arg ListTablesParams) ([]Table, error) {
	rows, err := q.db.Query(ctx, listTables,
		arg.Search, arg.IsActive, arg.LoungeID, arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tables []Table
	for rows.Next() {
		t, err := scanTable(rows)
		if err != nil {
			return nil, err
		}
		tables = append(tables, t)
	}
	return tables, rows.Err()
}

type CountTablesParams struct {
	Search   pgtype.Text
	IsActive pgtype.Bool
	LoungeID pgtype.UUID
}

const countTables = `
SELECT count(*) FROM tables
WHERE ($1::text IS NULL OR name ILIKE '%' || $1 || '%' OR environment ILIKE '%' || $1 || '%')
  AND ($2::boolean IS NULL OR is_active = $2)
  AND ($3::uuid IS NULL OR lounge_id = $3)`

func (q *Queries) CountTables(ctx context.Context, arg CountTablesParams) (int64, error) {
	var n int64
	err := q.db.QueryRow(ctx, countTables, arg.Search, arg.IsActive, arg.LoungeID).Scan(&n)
	return n, err
}

const listActiveTables = `
SELECT ` + tableColumns + ` FROM tables WHERE is_active = true ORDER BY name`

func (q *Queries) ListActiveTables(ctx context.Context) ([]Table, error) {
	rows, err := q.db.Query(ctx, listActiveTables)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tables []Table
	for rows.Next() {
		t, err := scanTable(rows)
		if err != nil {
			return nil, err
		}
		tables = append(tables, t)
	}
	return tables, rows.Err()
}

type CreateTableParams struct {
	Name        string
	Environment string
	Capacity    int32
	LoungeID    pgtype.UUID
}

const createTable = `
INSERT INTO tables (name, environment, capacity, lounge_id)
VALUES ($1, $2, $3, $4)
RETURNING ` + tableColumns

func (q *Queries) CreateTable(ctx context.Context, arg CreateTableParams) (Table, error) {
	return scanTable(q.db.QueryRow(ctx, createTable,
		arg.Name, arg.Environment, arg.Capacity, arg.LoungeID))
}
