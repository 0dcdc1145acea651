package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/fogon-pos/api/internal/database"
	"github.com/fogon-pos/api/internal/middleware"
	"github.com/fogon-pos/api/internal/service"
	"github.com/fogon-pos/api/internal/ws"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

// SmallBoxServicer defines the service methods needed by register handlers.
// Satisfied by *service.SmallBoxService; narrow interface for testability.
type SmallBoxServicer interface {
	Open(ctx context.Context, openingAmount decimal.Decimal, note string, openedBy *uuid.UUID) (database.CashRegister, error)
	Close(ctx context.Context, registerID uuid.UUID, finalAmount decimal.Decimal, note string) (database.CashRegister, error)
	RecordMovement(ctx context.Context, registerID uuid.UUID, movementType string, amount decimal.Decimal, concept string) (database.CashMovement, error)
	GetOpen(ctx context.Context) (database.CashRegister, error)
	Delete(ctx context.Context, registerID uuid.UUID) error
}

// SmallBoxStore defines the database methods needed by register read handlers.
// Satisfied by *database.Queries; narrow interface for testability.
type SmallBoxStore interface {
	GetCashRegister(ctx context.Context, id uuid.UUID) (database.CashRegister, error)
	ListCashRegisters(ctx context.Context, arg database.ListCashRegistersParams) ([]database.CashRegister, error)
	CountCashRegisters(ctx context.Context, arg database.CountCashRegistersParams) (int64, error)
	ListCashMovementsByRegister(ctx context.Context, registerID uuid.UUID) ([]database.CashMovement, error)
	ListCashMovementsByRegisters(ctx context.Context, registerIDs []uuid.UUID) ([]database.CashMovement, error)
}

// SmallBoxHandler handles cash register endpoints.
type SmallBoxHandler struct {
	svc   SmallBoxServicer
	store SmallBoxStore
	hub   Broadcaster
}

// NewSmallBoxHandler creates a new SmallBoxHandler.
func NewSmallBoxHandler(svc SmallBoxServicer, store SmallBoxStore, hub Broadcaster) *SmallBoxHandler {
	return &SmallBoxHandler{svc: svc, store: store, hub: hub}
}

// RegisterRoutes registers cash register endpoints on the given Chi router.
func (h *SmallBoxHandler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.List)
	r.Post("/", h.Open)
	r.Get("/active", h.GetActive)
	r.Post("/cash-movement", h.AddMovement)
	r.Get("/{id}", h.Get)
	r.Patch("/{id}/close", h.Close)
}

// RegisterAdminRoutes registers the destructive register endpoints, mounted
// behind a role check.
func (h *SmallBoxHandler) RegisterAdminRoutes(r chi.Router) {
	r.Delete("/{id}", h.Delete)
}

// --- Request / Response types ---

type openRegisterRequest struct {
	InitialAmount string `json:"initial_amount"`
	Note          string `json:"note"`
}

type closeRegisterRequest struct {
	FinalAmount string `json:"final_amount"`
	Note        string `json:"note"`
}

type addMovementRequest struct {
	RegisterID   string `json:"register_id"`
	MovementType string `json:"movement_type"`
	Amount       string `json:"amount"`
	Concept      string `json:"concept"`
}

type registerResponse struct {
	ID            uuid.UUID          `json:"id"`
	OpeningAmount string             `json:"opening_amount"`
	ClosingAmount string             `json:"closing_amount"`
	OpenedAt      time.Time          `json:"opened_at"`
	ClosedAt      *time.Time         `json:"closed_at"`
	Note          *string            `json:"note"`
	IsClosed      bool               `json:"is_closed"`
	OpenedBy      *string            `json:"opened_by"`
	TotalIncome   string             `json:"total_income"`
	TotalExpense  string             `json:"total_expense"`
	Balance       string             `json:"balance"`
	Movements     []movementResponse `json:"movements,omitempty"`
}

type movementResponse struct {
	ID           uuid.UUID `json:"id"`
	MovementType string    `json:"movement_type"`
	Amount       string    `json:"amount"`
	Concept      string    `json:"concept"`
	MovementDate time.Time `json:"movement_date"`
}

type registerListResponse struct {
	Registers []registerResponse `json:"registers"`
	Total     int64              `json:"total"`
	Limit     int                `json:"limit"`
	Offset    int                `json:"offset"`
}

// --- Handlers ---

// List handles GET /smallbox. Each register carries its computed totals; the
// movements for the whole page come back in one query.
func (h *SmallBoxHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if s := r.URL.Query().Get("limit"); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 {
			limit = v
		}
	}
	if limit > 100 {
		limit = 100
	}

	offset := 0
	if s := r.URL.Query().Get("offset"); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v >= 0 {
			offset = v
		}
	}

	params := database.ListCashRegistersParams{
		Limit:  int32(limit),
		Offset: int32(offset),
	}
	count := database.CountCashRegistersParams{}

	if s := r.URL.Query().Get("is_closed"); s != "" {
		v, err := strconv.ParseBool(s)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid is_closed"})
			return
		}
		params.IsClosed = pgtype.Bool{Bool: v, Valid: true}
		count.IsClosed = params.IsClosed
	}
	if s := r.URL.Query().Get("start_date"); s != "" {
		t, err := time.Parse("2006-01-02", s)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid start_date format, use YYYY-MM-DD"})
			return
		}
		params.StartDate = pgtype.Timestamptz{Time: t, Valid: true}
		count.StartDate = params.StartDate
	}
	if s := r.URL.Query().Get("end_date"); s != "" {
		t, err := time.Parse("2006-01-02", s)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid end_date format, use YYYY-MM-DD"})
			return
		}
		params.EndDate = pgtype.Timestamptz{Time: t, Valid: true}
		count.EndDate = params.EndDate
	}

	registers, err := h.store.ListCashRegisters(r.Context(), params)
	if err != nil {
		log.Printf("ERROR: list registers: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	total, err := h.store.CountCashRegisters(r.Context(), count)
	if err != nil {
		log.Printf("ERROR: count registers: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	registerIDs := make([]uuid.UUID, len(registers))
	for i, reg := range registers {
		registerIDs[i] = reg.ID
	}
	movementsByRegister := map[uuid.UUID][]database.CashMovement{}
	if len(registerIDs) > 0 {
		movements, err := h.store.ListCashMovementsByRegisters(r.Context(), registerIDs)
		if err != nil {
			log.Printf("ERROR: list movements: %v", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
			return
		}
		for _, m := range movements {
			movementsByRegister[m.RegisterID] = append(movementsByRegister[m.RegisterID], m)
		}
	}

	resp := make([]registerResponse, len(registers))
	for i, reg := range registers {
		resp[i] = toRegisterResponse(reg, movementsByRegister[reg.ID], false)
	}

	writeJSON(w, http.StatusOK, registerListResponse{
		Registers: resp,
		Total:     total,
		Limit:     limit,
		Offset:    offset,
	})
}

// GetActive handles GET /smallbox/active.
func (h *SmallBoxHandler) GetActive(w http.ResponseWriter, r *http.Request) {
	register, err := h.svc.GetOpen(r.Context())
	if err != nil {
		if errors.Is(err, service.ErrNoOpenRegister) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "no open cash register"})
			return
		}
		log.Printf("ERROR: get active register: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	h.respondWithRegister(w, r, register)
}

// Get handles GET /smallbox/{id}.
func (h *SmallBoxHandler) Get(w http.ResponseWriter, r *http.Request) {
	registerID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid register ID"})
		return
	}

	register, err := h.store.GetCashRegister(r.Context(), registerID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "cash register not found"})
			return
		}
		log.Printf("ERROR: get register: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	h.respondWithRegister(w, r, register)
}

// Open handles POST /smallbox.
func (h *SmallBoxHandler) Open(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
		return
	}

	var req openRegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	amount, err := parseOptionalDecimal(req.InitialAmount)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid initial_amount"})
		return
	}

	openedBy := claims.UserID
	register, err := h.svc.Open(r.Context(), amount, req.Note, &openedBy)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrRegisterAlreadyOpen):
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "a cash register is already open"})
		case errors.Is(err, service.ErrInvalidAmount):
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "initial_amount must be >= 0"})
		default:
			log.Printf("ERROR: open register: %v", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		}
		return
	}

	resp := toRegisterResponse(register, nil, false)
	h.hub.Broadcast(ws.EventRegisterOpened, resp)
	writeJSON(w, http.StatusCreated, resp)
}

// Close handles PATCH /smallbox/{id}/close.
func (h *SmallBoxHandler) Close(w http.ResponseWriter, r *http.Request) {
	registerID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid register ID"})
		return
	}

	var req closeRegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	amount, err := parseOptionalDecimal(req.FinalAmount)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid final_amount"})
		return
	}

	register, err := h.svc.Close(r.Context(), registerID, amount, req.Note)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrRegisterNotFound):
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "cash register not found"})
		case errors.Is(err, service.ErrRegisterClosed):
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "cash register is already closed"})
		case errors.Is(err, service.ErrInvalidAmount):
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "final_amount must be >= 0"})
		default:
			log.Printf("ERROR: close register: %v", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		}
		return
	}

	movements, err := h.store.ListCashMovementsByRegister(r.Context(), register.ID)
	if err != nil {
		log.Printf("ERROR: list movements: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	resp := toRegisterResponse(register, movements, true)
	h.hub.Broadcast(ws.EventRegisterClosed, resp)
	writeJSON(w, http.StatusOK, resp)
}

// AddMovement handles POST /smallbox/cash-movement.
func (h *SmallBoxHandler) AddMovement(w http.ResponseWriter, r *http.Request) {
	var req addMovementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	registerID, err := uuid.Parse(req.RegisterID)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid register_id"})
		return
	}

	if req.Concept == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "concept is required"})
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid amount"})
		return
	}

	movement, err := h.svc.RecordMovement(r.Context(), registerID, req.MovementType, amount, req.Concept)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrRegisterNotFound):
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "cash register not found"})
		case errors.Is(err, service.ErrRegisterClosed):
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "cannot post to a closed register"})
		case errors.Is(err, service.ErrInvalidMovementType):
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "movement_type must be Income or Expense"})
		case errors.Is(err, service.ErrNonPositiveAmount):
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "amount must be > 0"})
		default:
			log.Printf("ERROR: record movement: %v", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		}
		return
	}

	resp := toMovementResponse(movement)
	h.hub.Broadcast(ws.EventMovementCreated, resp)
	writeJSON(w, http.StatusCreated, resp)
}

// Delete handles DELETE /smallbox/{id}.
func (h *SmallBoxHandler) Delete(w http.ResponseWriter, r *http.Request) {
	registerID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid register ID"})
		return
	}

	if err := h.svc.Delete(r.Context(), registerID); err != nil {
		switch {
		case errors.Is(err, service.ErrRegisterNotFound):
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "cash register not found"})
		case errors.Is(err, service.ErrRegisterNotClosed):
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "close the register before deleting it"})
		default:
			log.Printf("ERROR: delete register: %v", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "cash register deleted"})
}

// --- Helpers ---

func (h *SmallBoxHandler) respondWithRegister(w http.ResponseWriter, r *http.Request, register database.CashRegister) {
	movements, err := h.store.ListCashMovementsByRegister(r.Context(), register.ID)
	if err != nil {
		log.Printf("ERROR: list movements: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	writeJSON(w, http.StatusOK, toRegisterResponse(register, movements, true))
}

// toRegisterResponse computes totals from the movements. includeMovements
// controls whether the movement list itself rides along (detail endpoints)
// or only the totals (list endpoint).
func toRegisterResponse(register database.CashRegister, movements []database.CashMovement, includeMovements bool) registerResponse {
	income, expense, balance := service.RegisterTotals(register, movements)

	resp := registerResponse{
		ID:            register.ID,
		OpeningAmount: numericToString(register.OpeningAmount),
		ClosingAmount: numericToString(register.ClosingAmount),
		OpenedAt:      register.OpenedAt,
		IsClosed:      register.IsClosed,
		TotalIncome:   income.StringFixed(2),
		TotalExpense:  expense.StringFixed(2),
		Balance:       balance.StringFixed(2),
	}
	if register.ClosedAt.Valid {
		resp.ClosedAt = &register.ClosedAt.Time
	}
	if register.Note.Valid {
		resp.Note = &register.Note.String
	}
	if register.OpenedBy.Valid {
		s := uuid.UUID(register.OpenedBy.Bytes).String()
		resp.OpenedBy = &s
	}
	if includeMovements {
		resp.Movements = make([]movementResponse, len(movements))
		for i, m := range movements {
			resp.Movements[i] = toMovementResponse(m)
		}
	}
	return resp
}

func toMovementResponse(m database.CashMovement) movementResponse {
	return movementResponse{
		ID:           m.ID,
		MovementType: m.MovementType,
		Amount:       numericToString(m.Amount),
		Concept:      m.Concept,
		MovementDate: m.MovementDate,
	}
}
