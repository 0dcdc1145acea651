package database

import (
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

// Order is a customer's request for products at a table. Status and the
// is_paid flag are independent axes: an order can be Completed and unpaid.
type Order struct {
	ID              uuid.UUID
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
	IsPaid          bool
	CompletedAt     pgtype.Timestamptz
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// OrderDetail is a single line item owned by an order. product_id may be
// null for free-text lines; product_name is always the display snapshot.
type OrderDetail struct {
	ID           uuid.UUID
	OrderID      uuid.UUID
	ProductID    pgtype.UUID
	ProductName  string
	Quantity     int32
	UnitPrice    pgtype.Numeric
	Subtotal     pgtype.Numeric
	Total        pgtype.Numeric
	Observations pgtype.Text
	Status       string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Table stores no occupancy; occupancy is derived from live orders.
type Table struct {
	ID          uuid.UUID
	Name        string
	Environment string
	Capacity    int32
	LoungeID    pgtype.UUID
	IsActive    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Lounge struct {
	ID        uuid.UUID
	Name      string
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Worker struct {
	ID        uuid.UUID
	FirstName string
	LastName  string
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

type PaymentMethod struct {
	ID        uuid.UUID
	Name      string
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Product struct {
	ID        uuid.UUID
	Name      string
	Price     pgtype.Numeric
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

type User struct {
	ID             uuid.UUID
	FullName       string
	Email          string
	HashedPassword string
	Role           string
	IsActive       bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// CashRegister is a session-scoped cash drawer ("small box"). At most one
// register may be open at a time, enforced by a partial unique index on
// is_closed = false.
type CashRegister struct {
	ID            uuid.UUID
	OpeningAmount pgtype.Numeric
	ClosingAmount pgtype.Numeric
	OpenedAt      time.Time
	ClosedAt      pgtype.Timestamptz
	Note          pgtype.Text
	IsClosed      bool
	OpenedBy      pgtype.UUID
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// CashMovement is an immutable ledger entry against an open register.
type CashMovement struct {
	ID           uuid.UUID
	RegisterID   uuid.UUID
	MovementType string
	Amount       pgtype.Numeric
	Concept      string
	MovementDate time.Time
	CreatedAt    time.Time
}
