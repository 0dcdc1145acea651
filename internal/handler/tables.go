package handler

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/fogon-pos/api/internal/database"
	"github.com/fogon-pos/api/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// TableStore defines the database methods needed by table handlers.
// Satisfied by *database.Queries; narrow interface for testability.
type TableStore interface {
	GetTable(ctx context.Context, id uuid.UUID) (database.Table, error)
	ListTables(ctx context.Context, arg database.ListTablesParams) ([]database.Table, error)
	CountTables(ctx context.Context, arg database.CountTablesParams) (int64, error)
	ListActiveTables(ctx context.Context) ([]database.Table, error)
	ListLoungesByIDs(ctx context.Context, ids []uuid.UUID) ([]database.Lounge, error)
}

// OccupancyResolver derives occupancy for a batch of tables.
// Satisfied by *service.OccupancyService.
type OccupancyResolver interface {
	Resolve(ctx context.Context, tableIDs []uuid.UUID) (map[uuid.UUID]service.TableOccupancy, error)
}

// TableHandler handles table endpoints. Occupancy never comes from a stored
// column: every response derives it from the live orders at request time.
type TableHandler struct {
	store     TableStore
	occupancy OccupancyResolver
}

// NewTableHandler creates a new TableHandler.
func NewTableHandler(store TableStore, occupancy OccupancyResolver) *TableHandler {
	return &TableHandler{store: store, occupancy: occupancy}
}

// RegisterRoutes registers table endpoints on the given Chi router.
func (h *TableHandler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.List)
	r.Get("/simple", h.ListSimple)
	r.Get("/{id}", h.Get)
}

// --- Response types ---

type tableResponse struct {
	ID           uuid.UUID             `json:"id"`
	Name         string                `json:"name"`
	Environment  string                `json:"environment"`
	Capacity     int32                 `json:"capacity"`
	LoungeID     *string               `json:"lounge_id"`
	LoungeName   *string               `json:"lounge_name"`
	IsActive     bool                  `json:"is_active"`
	IsOccupied   bool                  `json:"is_occupied"`
	CurrentOrder *currentOrderResponse `json:"current_order"`
	CreatedAt    time.Time             `json:"created_at"`
	UpdatedAt    time.Time             `json:"updated_at"`
}

// currentOrderResponse is the trimmed order summary shown on the floor view.
type currentOrderResponse struct {
	ID          uuid.UUID `json:"id"`
	OrderNumber string    `json:"order_number"`
	Status      string    `json:"status"`
	Total       string    `json:"total"`
	OrderDate   time.Time `json:"order_date"`
}

type simpleTableResponse struct {
	ID       uuid.UUID `json:"id"`
	Name     string    `json:"name"`
	Capacity int32     `json:"capacity"`
}

type tableListResponse struct {
	Tables []tableResponse `json:"tables"`
	Total  int64           `json:"total"`
	Limit  int             `json:"limit"`
	Offset int             `json:"offset"`
}

// --- Handlers ---

// List handles GET /tables.
func (h *TableHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 {
			limit = v
		}
	}
	if limit > 200 {
		limit = 200
	}

	offset := 0
	if s := r.URL.Query().Get("offset"); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v >= 0 {
			offset = v
		}
	}

	params := database.ListTablesParams{
		Limit:  int32(limit),
		Offset: int32(offset),
	}
	count := database.CountTablesParams{}

	if s := r.URL.Query().Get("search"); s != "" {
		params.Search = pgtype.Text{String: s, Valid: true}
		count.Search = params.Search
	}
	if s := r.URL.Query().Get("is_active"); s != "" {
		v, err := strconv.ParseBool(s)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid is_active"})
			return
		}
		params.IsActive = pgtype.Bool{Bool: v, Valid: true}
		count.IsActive = params.IsActive
	}
	if s := r.URL.Query().Get("lounge_id"); s != "" {
		id, err := uuid.Parse(s)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid lounge_id"})
			return
		}
		params.LoungeID = pgtype.UUID{Bytes: id, Valid: true}
		count.LoungeID = params.LoungeID
	}

	tables, err := h.store.ListTables(r.Context(), params)
	if err != nil {
		log.Printf("ERROR: list tables: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	total, err := h.store.CountTables(r.Context(), count)
	if err != nil {
		log.Printf("ERROR: count tables: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	resp, err := h.buildResponses(r.Context(), tables)
	if err != nil {
		log.Printf("ERROR: resolve occupancy: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	writeJSON(w, http.StatusOK, tableListResponse{
		Tables: resp,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

// ListSimple handles GET /tables/simple: active tables only, no occupancy,
// for dropdowns.
func (h *TableHandler) ListSimple(w http.ResponseWriter, r *http.Request) {
	tables, err := h.store.ListActiveTables(r.Context())
	if err != nil {
		log.Printf("ERROR: list active tables: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	resp := make([]simpleTableResponse, len(tables))
	for i, t := range tables {
		resp[i] = simpleTableResponse{ID: t.ID, Name: t.Name, Capacity: t.Capacity}
	}
	writeJSON(w, http.StatusOK, resp)
}

// Get handles GET /tables/{id}.
func (h *TableHandler) Get(w http.ResponseWriter, r *http.Request) {
	tableID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid table ID"})
		return
	}

	table, err := h.store.GetTable(r.Context(), tableID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "table not found"})
			return
		}
		log.Printf("ERROR: get table: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	resp, err := h.buildResponses(r.Context(), []database.Table{table})
	if err != nil {
		log.Printf("ERROR: resolve occupancy: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	writeJSON(w, http.StatusOK, resp[0])
}

// --- Helpers ---

// buildResponses decorates tables with derived occupancy and lounge names,
// one occupancy query and one lounge query for the whole batch.
func (h *TableHandler) buildResponses(ctx context.Context, tables []database.Table) ([]tableResponse, error) {
	tableIDs := make([]uuid.UUID, len(tables))
	loungeIDSet := map[uuid.UUID]bool{}
	for i, t := range tables {
		tableIDs[i] = t.ID
		if t.LoungeID.Valid {
			loungeIDSet[uuid.UUID(t.LoungeID.Bytes)] = true
		}
	}

	occupancy, err := h.occupancy.Resolve(ctx, tableIDs)
	if err != nil {
		return nil, err
	}

	loungeNames := map[uuid.UUID]string{}
	if len(loungeIDSet) > 0 {
		ids := make([]uuid.UUID, 0, len(loungeIDSet))
		for id := range loungeIDSet {
			ids = append(ids, id)
		}
		lounges, err := h.store.ListLoungesByIDs(ctx, ids)
		if err != nil {
			return nil, err
		}
		for _, l := range lounges {
			loungeNames[l.ID] = l.Name
		}
	}

	resp := make([]tableResponse, len(tables))
	for i, t := range tables {
		tr := tableResponse{
			ID:          t.ID,
			Name:        t.Name,
			Environment: t.Environment,
			Capacity:    t.Capacity,
			IsActive:    t.IsActive,
			CreatedAt:   t.CreatedAt,
			UpdatedAt:   t.UpdatedAt,
		}
		if t.LoungeID.Valid {
			loungeID := uuid.UUID(t.LoungeID.Bytes)
			s := loungeID.String()
			tr.LoungeID = &s
			if name, ok := loungeNames[loungeID]; ok {
				tr.LoungeName = &name
			}
		}
		if occ, ok := occupancy[t.ID]; ok && occ.Occupied {
			tr.IsOccupied = true
			o := occ.CurrentOrder
			tr.CurrentOrder = &currentOrderResponse{
				ID:          o.ID,
				OrderNumber: o.OrderNumber,
				Status:      o.Status,
				Total:       numericToString(o.Total),
				OrderDate:   o.OrderDate,
			}
		}
		resp[i] = tr
	}
	return resp, nil
}
