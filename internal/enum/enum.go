package enum

// ── Order state machine (CHECK constrained in DB) ──

const (
	OrderStatusPending   = "Pending"
	OrderStatusInProcess = "InProcess"
	OrderStatusCompleted = "Completed"
	OrderStatusCancelled = "Cancelled"
)

const (
	OrderDetailStatusPending   = "Pending"
	OrderDetailStatusPreparing = "Preparing"
	OrderDetailStatusReady     = "Ready"
	OrderDetailStatusDelivered = "Delivered"
)

// ── Cash register ledger (CHECK constrained in DB) ──

const (
	MovementTypeIncome  = "Income"
	MovementTypeExpense = "Expense"
)

// ── Configurable labels (no DB constraint) ──

const (
	OrderTypeDineIn   = "DineIn"
	OrderTypeTakeaway = "Takeaway"
	OrderTypeDelivery = "Delivery"
)

const (
	UserRoleAdmin   = "ADMIN"
	UserRoleCashier = "CASHIER"
	UserRoleWaiter  = "WAITER"
)
