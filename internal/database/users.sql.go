package database

import (
	"context"

	"github.com/google/uuid"
)

const userColumns = `id, full_name, email, hashed_password, role, is_active, created_at, updated_at`

const getUserByEmail = `SELECT ` + userColumns + ` FROM users WHERE email = $1 AND is_active = true`

func (q *Queries) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var u User
	err := q.db.QueryRow(ctx, getUserByEmail, email).Scan(
		&u.ID, &u.FullName, &u.Email, &u.HashedPassword, &u.Role,
		&u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

const getUserByID = `SELECT ` + userColumns + ` FROM users WHERE id = $1 AND is_active = true`

func (q *Queries) GetUserByID(ctx context.Context, id uuid.UUID) (User, error) {
	var u User
	err := q.db.QueryRow(ctx, getUserByID, id).Scan(
		&u.ID, &u.FullName, &u.Email, &u.HashedPassword, &u.Role,
		&u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

type CreateUserParams struct {
	FullName       string
	Email          string
	HashedPassword string
	Role           string
}

const createUser = `
INSERT INTO users (full_name, email, hashed_password, role)
VALUES ($1, $2, $3, $4)
RETURNING ` + userColumns

func (q *Queries) CreateUser(ctx context.Context, arg CreateUserParams) (User, error) {
	var u User
	err := q.db.QueryRow(ctx, createUser,
		arg.FullName, arg.Email, arg.HashedPassword, arg.Role).Scan(
		&u.ID, &u.FullName, &u.Email, &u.HashedPassword, &u.Role,
		&u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}
