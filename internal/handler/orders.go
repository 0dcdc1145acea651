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

// Broadcaster publishes events to the floor feed. Satisfied by *ws.Hub.
type Broadcaster interface {
	Broadcast(eventType string, payload interface{})
}

// OrderServicer defines the service methods needed by order handlers.
// Satisfied by *service.OrderService; narrow interface for testability.
type OrderServicer interface {
	Create(ctx context.Context, req service.CreateOrderRequest) (*service.OrderResult, error)
	Update(ctx context.Context, id uuid.UUID, req service.UpdateOrderRequest) (*service.OrderResult, error)
	ChangeStatus(ctx context.Context, id uuid.UUID, status string) (*service.OrderResult, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// SettlementServicer marks orders paid. Satisfied by *service.SettlementService.
type SettlementServicer interface {
	MarkOrderAsPaid(ctx context.Context, orderID uuid.UUID) (*service.OrderResult, error)
}

// OrderStore defines the database methods needed by order read handlers.
// Satisfied by *database.Queries; narrow interface for testability.
type OrderStore interface {
	GetOrder(ctx context.Context, id uuid.UUID) (database.Order, error)
	ListOrders(ctx context.Context, arg database.ListOrdersParams) ([]database.Order, error)
	CountOrders(ctx context.Context, arg database.CountOrdersParams) (int64, error)
	ListOrderDetailsByOrder(ctx context.Context, orderID uuid.UUID) ([]database.OrderDetail, error)
	ListOrderDetailsByOrders(ctx context.Context, orderIDs []uuid.UUID) ([]database.OrderDetail, error)
}

// OrderHandler handles order endpoints.
type OrderHandler struct {
	svc    OrderServicer
	settle SettlementServicer
	store  OrderStore
	hub    Broadcaster
}

// NewOrderHandler creates a new OrderHandler.
func NewOrderHandler(svc OrderServicer, settle SettlementServicer, store OrderStore, hub Broadcaster) *OrderHandler {
	return &OrderHandler{svc: svc, settle: settle, store: store, hub: hub}
}

// RegisterRoutes registers order endpoints on the given Chi router.
func (h *OrderHandler) RegisterRoutes(r chi.Router) {
	r.Post("/", h.Create)
	r.Get("/", h.List)
	r.Get("/{id}", h.Get)
	r.Put("/{id}", h.Update)
	r.Patch("/{id}/change-status", h.UpdateStatus)
	r.Patch("/{id}/mark-as-paid", h.MarkAsPaid)
	r.Delete("/{id}", h.Delete)
}

// --- Request / Response types ---

type createOrderRequest struct {
	TableID         string                     `json:"table_id"`
	WorkerID        string                     `json:"worker_id"`
	PaymentMethodID string                     `json:"payment_method_id"`
	CustomerName    string                     `json:"customer_name"`
	OrderType       string                     `json:"order_type"`
	Observations    string                     `json:"observations"`
	Discount        string                     `json:"discount"`
	Tax             string                     `json:"tax"`
	Details         []createOrderDetailRequest `json:"details"`
}

type createOrderDetailRequest struct {
	ProductID    string `json:"product_id"`
	ProductName  string `json:"product_name"`
	Quantity     int32  `json:"quantity"`
	UnitPrice    string `json:"unit_price"`
	Observations string `json:"observations"`
}

type updateOrderRequest struct {
	TableID         string `json:"table_id"`
	WorkerID        string `json:"worker_id"`
	PaymentMethodID string `json:"payment_method_id"`
	Status          string `json:"status"`
	CustomerName    string `json:"customer_name"`
	OrderType       string `json:"order_type"`
	Observations    string `json:"observations"`
	Discount        string `json:"discount"`
	Tax             string `json:"tax"`
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

type orderResponse struct {
	ID              uuid.UUID             `json:"id"`
	OrderNumber     string                `json:"order_number"`
	OrderDate       time.Time             `json:"order_date"`
	Status          string                `json:"status"`
	TableID         uuid.UUID             `json:"table_id"`
	WorkerID        *string               `json:"worker_id"`
	PaymentMethodID *string               `json:"payment_method_id"`
	CustomerName    *string               `json:"customer_name"`
	OrderType       string                `json:"order_type"`
	Observations    *string               `json:"observations"`
	Subtotal        string                `json:"subtotal"`
	Discount        string                `json:"discount"`
	Tax             string                `json:"tax"`
	Total           string                `json:"total"`
	IsPaid          bool                  `json:"is_paid"`
	CompletedAt     *time.Time            `json:"completed_at"`
	CreatedAt       time.Time             `json:"created_at"`
	UpdatedAt       time.Time             `json:"updated_at"`
	Details         []orderDetailResponse `json:"details"`
}

type orderDetailResponse struct {
	ID           uuid.UUID `json:"id"`
	ProductID    *string   `json:"product_id"`
	ProductName  string    `json:"product_name"`
	Quantity     int32     `json:"quantity"`
	UnitPrice    string    `json:"unit_price"`
	Subtotal     string    `json:"subtotal"`
	Total        string    `json:"total"`
	Observations *string   `json:"observations"`
	Status       string    `json:"status"`
}

// orderListResponse wraps a list of orders with pagination metadata.
type orderListResponse struct {
	Orders []orderResponse `json:"orders"`
	Total  int64           `json:"total"`
	Limit  int             `json:"limit"`
	Offset int             `json:"offset"`
}

// --- Handlers ---

// Create handles POST /orders.
func (h *OrderHandler) Create(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
		return
	}

	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	tableID, err := uuid.Parse(req.TableID)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid table_id"})
		return
	}
	paymentMethodID, err := uuid.Parse(req.PaymentMethodID)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payment_method_id"})
		return
	}
	workerID, err := parseOptionalUUID(req.WorkerID)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid worker_id"})
		return
	}

	discount, err := parseOptionalDecimal(req.Discount)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid discount"})
		return
	}
	tax, err := parseOptionalDecimal(req.Tax)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid tax"})
		return
	}

	if len(req.Details) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "details are required"})
		return
	}
	details := make([]service.CreateOrderDetailRequest, len(req.Details))
	for i, d := range req.Details {
		productID, err := parseOptionalUUID(d.ProductID)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": formatDetailError(i, "invalid product_id")})
			return
		}
		unitPrice, err := decimal.NewFromString(d.UnitPrice)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": formatDetailError(i, "invalid unit_price")})
			return
		}
		details[i] = service.CreateOrderDetailRequest{
			ProductID:    productID,
			ProductName:  d.ProductName,
			Quantity:     d.Quantity,
			UnitPrice:    unitPrice,
			Observations: d.Observations,
		}
	}

	userID := claims.UserID
	result, err := h.svc.Create(r.Context(), service.CreateOrderRequest{
		TableID:         tableID,
		WorkerID:        workerID,
		PaymentMethodID: paymentMethodID,
		UserID:          &userID,
		CustomerName:    req.CustomerName,
		OrderType:       req.OrderType,
		Observations:    req.Observations,
		Discount:        discount,
		Tax:             tax,
		Details:         details,
	})
	if err != nil {
		if isOrderValidationError(err) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		log.Printf("ERROR: create order: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	resp := toOrderResponse(result.Order, result.Details)
	h.hub.Broadcast(ws.EventOrderCreated, resp)
	writeJSON(w, http.StatusCreated, resp)
}

// List handles GET /orders.
func (h *OrderHandler) List(w http.ResponseWriter, r *http.Request) {
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

	params := database.ListOrdersParams{
		Limit:  int32(limit),
		Offset: int32(offset),
	}
	count := database.CountOrdersParams{}

	if s := r.URL.Query().Get("search"); s != "" {
		params.Search = pgtype.Text{String: s, Valid: true}
		count.Search = params.Search
	}
	if s := r.URL.Query().Get("status"); s != "" {
		params.Status = pgtype.Text{String: s, Valid: true}
		count.Status = params.Status
	}
	if s := r.URL.Query().Get("table_id"); s != "" {
		id, err := uuid.Parse(s)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid table_id"})
			return
		}
		params.TableID = pgtype.UUID{Bytes: id, Valid: true}
		count.TableID = params.TableID
	}
	if s := r.URL.Query().Get("is_paid"); s != "" {
		v, err := strconv.ParseBool(s)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid is_paid"})
			return
		}
		params.IsPaid = pgtype.Bool{Bool: v, Valid: true}
		count.IsPaid = params.IsPaid
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

	orders, err := h.store.ListOrders(r.Context(), params)
	if err != nil {
		log.Printf("ERROR: list orders: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	total, err := h.store.CountOrders(r.Context(), count)
	if err != nil {
		log.Printf("ERROR: count orders: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	// One batched query for all lines on the page.
	orderIDs := make([]uuid.UUID, len(orders))
	for i, o := range orders {
		orderIDs[i] = o.ID
	}
	detailsByOrder := map[uuid.UUID][]database.OrderDetail{}
	if len(orderIDs) > 0 {
		details, err := h.store.ListOrderDetailsByOrders(r.Context(), orderIDs)
		if err != nil {
			log.Printf("ERROR: list order details: %v", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
			return
		}
		for _, d := range details {
			detailsByOrder[d.OrderID] = append(detailsByOrder[d.OrderID], d)
		}
	}

	resp := make([]orderResponse, len(orders))
	for i, o := range orders {
		resp[i] = toOrderResponse(o, detailsByOrder[o.ID])
	}

	writeJSON(w, http.StatusOK, orderListResponse{
		Orders: resp,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

// Get handles GET /orders/{id}.
func (h *OrderHandler) Get(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid order ID"})
		return
	}

	order, err := h.store.GetOrder(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "order not found"})
			return
		}
		log.Printf("ERROR: get order: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	details, err := h.store.ListOrderDetailsByOrder(r.Context(), orderID)
	if err != nil {
		log.Printf("ERROR: list order details: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	writeJSON(w, http.StatusOK, toOrderResponse(order, details))
}

// Update handles PUT /orders/{id}.
func (h *OrderHandler) Update(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid order ID"})
		return
	}

	var req updateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	tableID, err := uuid.Parse(req.TableID)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid table_id"})
		return
	}
	paymentMethodID, err := uuid.Parse(req.PaymentMethodID)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payment_method_id"})
		return
	}
	workerID, err := parseOptionalUUID(req.WorkerID)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid worker_id"})
		return
	}
	discount, err := parseOptionalDecimal(req.Discount)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid discount"})
		return
	}
	tax, err := parseOptionalDecimal(req.Tax)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid tax"})
		return
	}

	result, err := h.svc.Update(r.Context(), orderID, service.UpdateOrderRequest{
		TableID:         tableID,
		WorkerID:        workerID,
		PaymentMethodID: paymentMethodID,
		Status:          req.Status,
		CustomerName:    req.CustomerName,
		OrderType:       req.OrderType,
		Observations:    req.Observations,
		Discount:        discount,
		Tax:             tax,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrOrderNotFound):
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "order not found"})
		case errors.Is(err, service.ErrConcurrentUpdate):
			writeJSON(w, http.StatusConflict, map[string]string{"error": "order was modified, please retry"})
		case isOrderValidationError(err):
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		default:
			log.Printf("ERROR: update order: %v", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		}
		return
	}

	resp := toOrderResponse(result.Order, result.Details)
	h.hub.Broadcast(ws.EventOrderUpdated, resp)
	writeJSON(w, http.StatusOK, resp)
}

// UpdateStatus handles PATCH /orders/{id}/change-status.
func (h *OrderHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid order ID"})
		return
	}

	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	if req.Status == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "status is required"})
		return
	}

	result, err := h.svc.ChangeStatus(r.Context(), orderID, req.Status)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrOrderNotFound):
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "order not found"})
		case errors.Is(err, service.ErrInvalidStatus):
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid status"})
		default:
			log.Printf("ERROR: update order status: %v", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		}
		return
	}

	resp := toOrderResponse(result.Order, result.Details)
	h.hub.Broadcast(ws.EventOrderUpdated, resp)
	writeJSON(w, http.StatusOK, resp)
}

// MarkAsPaid handles PATCH /orders/{id}/mark-as-paid. Settling flips is_paid
// and records the income movement atomically; both appear or neither does.
func (h *OrderHandler) MarkAsPaid(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid order ID"})
		return
	}

	result, err := h.settle.MarkOrderAsPaid(r.Context(), orderID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrOrderNotFound):
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "order not found"})
		case errors.Is(err, service.ErrAlreadyPaid):
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "order is already paid"})
		case errors.Is(err, service.ErrNoOpenRegister):
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "no open cash register, open one before accepting payment"})
		default:
			log.Printf("ERROR: mark order as paid: %v", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		}
		return
	}

	resp := toOrderResponse(result.Order, result.Details)
	h.hub.Broadcast(ws.EventOrderSettled, resp)
	writeJSON(w, http.StatusOK, resp)
}

// Delete handles DELETE /orders/{id}.
func (h *OrderHandler) Delete(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid order ID"})
		return
	}

	if err := h.svc.Delete(r.Context(), orderID); err != nil {
		switch {
		case errors.Is(err, service.ErrOrderNotFound):
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "order not found"})
		case errors.Is(err, service.ErrOrderSettled):
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "cannot delete a paid order"})
		default:
			log.Printf("ERROR: delete order: %v", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		}
		return
	}

	h.hub.Broadcast(ws.EventOrderDeleted, map[string]string{"id": orderID.String()})
	writeJSON(w, http.StatusOK, map[string]string{"message": "order deleted"})
}

// --- Helpers ---

func formatDetailError(idx int, msg string) string {
	return "details[" + strconv.Itoa(idx) + "]: " + msg
}

func parseOptionalUUID(s string) (*uuid.UUID, error) {
	if s == "" {
		return nil, nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func parseOptionalDecimal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

// isOrderValidationError checks if the error is a known validation error
// from the service layer that should result in 400 Bad Request.
func isOrderValidationError(err error) bool {
	return errors.Is(err, service.ErrEmptyDetails) ||
		errors.Is(err, service.ErrInvalidQuantity) ||
		errors.Is(err, service.ErrInvalidUnitPrice) ||
		errors.Is(err, service.ErrMissingProductName) ||
		errors.Is(err, service.ErrTableNotFound) ||
		errors.Is(err, service.ErrWorkerNotFound) ||
		errors.Is(err, service.ErrPaymentMethodNotFound) ||
		errors.Is(err, service.ErrProductNotFound) ||
		errors.Is(err, service.ErrInvalidStatus) ||
		errors.Is(err, service.ErrInvalidAmount) ||
		errors.Is(err, service.ErrNegativeTotal)
}

func toOrderResponse(o database.Order, details []database.OrderDetail) orderResponse {
	resp := orderResponse{
		ID:          o.ID,
		OrderNumber: o.OrderNumber,
		OrderDate:   o.OrderDate,
		Status:      o.Status,
		TableID:     o.TableID,
		OrderType:   o.OrderType,
		Subtotal:    numericToString(o.Subtotal),
		Discount:    numericToString(o.Discount),
		Tax:         numericToString(o.Tax),
		Total:       numericToString(o.Total),
		IsPaid:      o.IsPaid,
		CreatedAt:   o.CreatedAt,
		UpdatedAt:   o.UpdatedAt,
	}

	if o.WorkerID.Valid {
		s := uuid.UUID(o.WorkerID.Bytes).String()
		resp.WorkerID = &s
	}
	if o.PaymentMethodID.Valid {
		s := uuid.UUID(o.PaymentMethodID.Bytes).String()
		resp.PaymentMethodID = &s
	}
	if o.CustomerName.Valid {
		resp.CustomerName = &o.CustomerName.String
	}
	if o.Observations.Valid {
		resp.Observations = &o.Observations.String
	}
	if o.CompletedAt.Valid {
		resp.CompletedAt = &o.CompletedAt.Time
	}

	resp.Details = make([]orderDetailResponse, len(details))
	for i, d := range details {
		resp.Details[i] = toOrderDetailResponse(d)
	}
	return resp
}

func toOrderDetailResponse(d database.OrderDetail) orderDetailResponse {
	resp := orderDetailResponse{
		ID:          d.ID,
		ProductName: d.ProductName,
		Quantity:    d.Quantity,
		UnitPrice:   numericToString(d.UnitPrice),
		Subtotal:    numericToString(d.Subtotal),
		Total:       numericToString(d.Total),
		Status:      d.Status,
	}
	if d.ProductID.Valid {
		s := uuid.UUID(d.ProductID.Bytes).String()
		resp.ProductID = &s
	}
	if d.Observations.Valid {
		resp.Observations = &d.Observations.String
	}
	return resp
}

func numericToString(n pgtype.Numeric) string {
	if !n.Valid {
		return "0.00"
	}
	val, err := n.Value()
	if err != nil || val == nil {
		return "0.00"
	}
	d, err := decimal.NewFromString(val.(string))
	if err != nil {
		return "0.00"
	}
	return d.StringFixed(2)
}
