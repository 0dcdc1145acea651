package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

// Reference lookups used by the order service to validate foreign references
// before any mutation. The catalog itself is maintained out of band (seed
// command, admin tooling).

const getWorker = `
SELECT id, first_name, last_name, is_active, created_at, updated_at
FROM workers WHERE id = $1`

func (q *Queries) GetWorker(ctx context.Context, id uuid.UUID) (Worker, error) {
	var w Worker
	err := q.db.QueryRow(ctx, getWorker, id).Scan(
		&w.ID, &w.FirstName, &w.LastName, &w.IsActive, &w.CreatedAt, &w.UpdatedAt)
	return w, err
}

const getPaymentMethod = `
SELECT id, name, is_active, created_at, updated_at
FROM payment_methods WHERE id = $1`

func (q *Queries) GetPaymentMethod(ctx context.Context, id uuid.UUID) (PaymentMethod, error) {
	var pm PaymentMethod
	err := q.db.QueryRow(ctx, getPaymentMethod, id).Scan(
		&pm.ID, &pm.Name, &pm.IsActive, &pm.CreatedAt, &pm.UpdatedAt)
	return pm, err
}

const getProduct = `
SELECT id, name, price, is_active, created_at, updated_at
FROM products WHERE id = $1`

func (q *Queries) GetProduct(ctx context.Context, id uuid.UUID) (Product, error) {
	var p Product
	err := q.db.QueryRow(ctx, getProduct, id).Scan(
		&p.ID, &p.Name, &p.Price, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

const getLounge = `
SELECT id, name, is_active, created_at, updated_at
FROM lounges WHERE id = $1`

func (q *Queries) GetLounge(ctx context.Context, id uuid.UUID) (Lounge, error) {
	var l Lounge
	err := q.db.QueryRow(ctx, getLounge, id).Scan(
		&l.ID, &l.Name, &l.IsActive, &l.CreatedAt, &l.UpdatedAt)
	return l, err
}

const listLoungesByIDs = `
SELECT id, name, is_active, created_at, updated_at
FROM lounges WHERE id = ANY($1)`

func (q *Queries) ListLoungesByIDs(ctx context.Context, ids []uuid.UUID) ([]Lounge, error) {
	rows, err := q.db.Query(ctx, listLoungesByIDs, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lounges []Lounge
	for rows.Next() {
		var l Lounge
		if err := rows.Scan(&l.ID, &l.Name, &l.IsActive, &l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, err
		}
		lounges = append(lounges, l)
	}
	return lounges, rows.Err()
}

// --- Seed helpers ---

type CreateWorkerParams struct {
	FirstName string
	LastName  string
}

const createWorker = `
INSERT INTO workers (first_name, last_name)
VALUES ($1, $2)
RETURNING id, first_name, last_name, is_active, created_at, updated_at`

func (q *Queries) CreateWorker(ctx context.Context, arg CreateWorkerParams) (Worker, error) {
	var w Worker
	err := q.db.QueryRow(ctx, createWorker, arg.FirstName, arg.LastName).Scan(
		&w.ID, &w.FirstName, &w.LastName, &w.IsActive, &w.CreatedAt, &w.UpdatedAt)
	return w, err
}

const createPaymentMethod = `
INSERT INTO payment_methods (name)
VALUES ($1)
RETURNING id, name, is_active, created_at, updated_at`

func (q *Queries) CreatePaymentMethod(ctx context.Context, name string) (PaymentMethod, error) {
	var pm PaymentMethod
	err := q.db.QueryRow(ctx, createPaymentMethod, name).Scan(
		&pm.ID, &pm.Name, &pm.IsActive, &pm.CreatedAt, &pm.UpdatedAt)
	return pm, err
}

type CreateProductParams struct {
	Name  string
	Price pgtype.Numeric
}

const createProduct = `
INSERT INTO products (name, price)
VALUES ($1, $2)
RETURNING id, name, price, is_active, created_at, updated_at`

func (q *Queries) CreateProduct(ctx context.Context, arg CreateProductParams) (Product, error) {
	var p Product
	err := q.db.QueryRow(ctx, createProduct, arg.Name, arg.Price).Scan(
		&p.ID, &p.Name, &p.Price, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

const createLounge = `
INSERT INTO lounges (name)
VALUES ($1)
RETURNING id, name, is_active, created_at, updated_at`

func (q *Queries) CreateLounge(ctx context.Context, name string) (Lounge, error) {
	var l Lounge
	err := q.db.QueryRow(ctx, createLounge, name).Scan(
		&l.ID, &l.Name, &l.IsActive, &l.CreatedAt, &l.UpdatedAt)
	return l, err
}
