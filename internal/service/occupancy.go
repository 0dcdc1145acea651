package service

import (
	"context"
	"fmt"

	"github.com/fogon-pos/api/internal/database"
	"github.com/google/uuid"
)

// OccupancyStore defines the DB methods needed to derive table occupancy.
type OccupancyStore interface {
	ListActiveOrdersByTables(ctx context.Context, tableIDs []uuid.UUID) ([]database.Order, error)
}

// TableOccupancy is the derived state of one table: occupied iff a live order
// (unpaid, not cancelled) references it. Never stored, always computed.
type TableOccupancy struct {
	Occupied     bool
	CurrentOrder *database.Order
}

// OccupancyService derives occupancy for tables from the live orders that
// reference them.
type OccupancyService struct {
	store OccupancyStore
}

// NewOccupancyService creates a new OccupancyService.
func NewOccupancyService(store OccupancyStore) *OccupancyService {
	return &OccupancyService{store: store}
}

// Resolve returns the occupancy of each requested table in a single round
// trip. Tables with no live order are present in the result with Occupied
// false. When several live orders reference a table, the most recent by order
// date wins.
func (s *OccupancyService) Resolve(ctx context.Context, tableIDs []uuid.UUID) (map[uuid.UUID]TableOccupancy, error) {
	result := make(map[uuid.UUID]TableOccupancy, len(tableIDs))
	for _, id := range tableIDs {
		result[id] = TableOccupancy{}
	}
	if len(tableIDs) == 0 {
		return result, nil
	}

	orders, err := s.store.ListActiveOrdersByTables(ctx, tableIDs)
	if err != nil {
		return nil, fmt.Errorf("list active orders: %w", err)
	}

	// Rows arrive ordered by order_date descending, so the first order seen
	// for a table is its current one.
	for i := range orders {
		o := orders[i]
		if occ, ok := result[o.TableID]; !ok || !occ.Occupied {
			result[o.TableID] = TableOccupancy{Occupied: true, CurrentOrder: &orders[i]}
		}
	}
	return result, nil
}
