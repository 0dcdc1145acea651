package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fogon-pos/api/internal/auth"
	"github.com/fogon-pos/api/internal/database"
	"github.com/fogon-pos/api/internal/enum"
	"github.com/fogon-pos/api/internal/handler"
	"github.com/fogon-pos/api/internal/middleware"
	"github.com/fogon-pos/api/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// --- Shared test helpers ---

const testJWTSecret = "test-secret-for-handlers"

// mockHub satisfies handler.Broadcaster and records what was published.
type mockHub struct {
	events []string
}

func (h *mockHub) Broadcast(eventType string, payload interface{}) {
	h.events = append(h.events, eventType)
}

func testClaims() *auth.Claims {
	return &auth.Claims{
		UserID: uuid.New(),
		Role:   enum.UserRoleCashier,
	}
}

func doAuthRequest(t *testing.T, router http.Handler, method, path string, body interface{}, claims *auth.Claims) *httptest.ResponseRecorder {
	t.Helper()

	token, err := auth.GenerateToken(testJWTSecret, claims.UserID, claims.Role)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	var req *http.Request
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		req = httptest.NewRequest(method, path, bytes.NewReader(b))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func testNumeric(t *testing.T, s string) pgtype.Numeric {
	t.Helper()
	var n pgtype.Numeric
	if err := n.Scan(s); err != nil {
		t.Fatalf("scan numeric %q: %v", s, err)
	}
	return n
}

// --- Mock OrderServicer ---

type mockOrderService struct {
	createFn       func(ctx context.Context, req service.CreateOrderRequest) (*service.OrderResult, error)
	updateFn       func(ctx context.Context, id uuid.UUID, req service.UpdateOrderRequest) (*service.OrderResult, error)
	changeStatusFn func(ctx context.Context, id uuid.UUID, status string) (*service.OrderResult, error)
	deleteFn       func(ctx context.Context, id uuid.UUID) error
}

func (m *mockOrderService) Create(ctx context.Context, req service.CreateOrderRequest) (*service.OrderResult, error) {
	return m.createFn(ctx, req)
}

func (m *mockOrderService) Update(ctx context.Context, id uuid.UUID, req service.UpdateOrderRequest) (*service.OrderResult, error) {
	return m.updateFn(ctx, id, req)
}

func (m *mockOrderService) ChangeStatus(ctx context.Context, id uuid.UUID, status string) (*service.OrderResult, error) {
	return m.changeStatusFn(ctx, id, status)
}

func (m *mockOrderService) Delete(ctx context.Context, id uuid.UUID) error {
	return m.deleteFn(ctx, id)
}

// --- Mock SettlementServicer ---

type mockSettlementService struct {
	markPaidFn func(ctx context.Context, orderID uuid.UUID) (*service.OrderResult, error)
}

func (m *mockSettlementService) MarkOrderAsPaid(ctx context.Context, orderID uuid.UUID) (*service.OrderResult, error) {
	return m.markPaidFn(ctx, orderID)
}

// --- Mock OrderStore ---

type mockOrderStore struct {
	getOrderFn                 func(ctx context.Context, id uuid.UUID) (database.Order, error)
	listOrdersFn               func(ctx context.Context, arg database.ListOrdersParams) ([]database.Order, error)
	countOrdersFn              func(ctx context.Context, arg database.CountOrdersParams) (int64, error)
	listOrderDetailsByOrderFn  func(ctx context.Context, orderID uuid.UUID) ([]database.OrderDetail, error)
	listOrderDetailsByOrdersFn func(ctx context.Context, orderIDs []uuid.UUID) ([]database.OrderDetail, error)
}

func (m *mockOrderStore) GetOrder(ctx context.Context, id uuid.UUID) (database.Order, error) {
	if m.getOrderFn != nil {
		return m.getOrderFn(ctx, id)
	}
	return database.Order{}, pgx.ErrNoRows
}

func (m *mockOrderStore) ListOrders(ctx context.Context, arg database.ListOrdersParams) ([]database.Order, error) {
	if m.listOrdersFn != nil {
		return m.listOrdersFn(ctx, arg)
	}
	return []database.Order{}, nil
}

func (m *mockOrderStore) CountOrders(ctx context.Context, arg database.CountOrdersParams) (int64, error) {
	if m.countOrdersFn != nil {
		return m.countOrdersFn(ctx, arg)
	}
	return 0, nil
}

func (m *mockOrderStore) ListOrderDetailsByOrder(ctx context.Context, orderID uuid.UUID) ([]database.OrderDetail, error) {
	if m.listOrderDetailsByOrderFn != nil {
		return m.listOrderDetailsByOrderFn(ctx, orderID)
	}
	return []database.OrderDetail{}, nil
}

func (m *mockOrderStore) ListOrderDetailsByOrders(ctx context.Context, orderIDs []uuid.UUID) ([]database.OrderDetail, error) {
	if m.listOrderDetailsByOrdersFn != nil {
		return m.listOrderDetailsByOrdersFn(ctx, orderIDs)
	}
	return []database.OrderDetail{}, nil
}

// --- Router setup ---

func setupOrderRouter(svc *mockOrderService, settle *mockSettlementService, store *mockOrderStore, hub *mockHub) *chi.Mux {
	h := handler.NewOrderHandler(svc, settle, store, hub)
	r := chi.NewRouter()
	r.Use(middleware.Authenticate(testJWTSecret))
	r.Route("/orders", h.RegisterRoutes)
	return r
}

// --- Test data ---

func testOrderResult(t *testing.T, tableID uuid.UUID) *service.OrderResult {
	t.Helper()
	orderID := uuid.New()
	now := time.Now()

	return &service.OrderResult{
		Order: database.Order{
			ID:              orderID,
			OrderNumber:     "ORD-20260830120000",
			OrderDate:       now,
			Status:          enum.OrderStatusPending,
			TableID:         tableID,
			PaymentMethodID: pgtype.UUID{Bytes: uuid.New(), Valid: true},
			Subtotal:        testNumeric(t, "25.00"),
			Discount:        testNumeric(t, "0.00"),
			Tax:             testNumeric(t, "0.00"),
			Total:           testNumeric(t, "25.00"),
			OrderType:       enum.OrderTypeDineIn,
			CreatedAt:       now,
			UpdatedAt:       now,
		},
		Details: []database.OrderDetail{
			{
				ID:          uuid.New(),
				OrderID:     orderID,
				ProductName: "Lomo Saltado",
				Quantity:    2,
				UnitPrice:   testNumeric(t, "12.50"),
				Subtotal:    testNumeric(t, "25.00"),
				Total:       testNumeric(t, "25.00"),
				Status:      enum.OrderDetailStatusPending,
			},
		},
	}
}

func createOrderBody(tableID, paymentMethodID uuid.UUID) map[string]interface{} {
	return map[string]interface{}{
		"table_id":          tableID.String(),
		"payment_method_id": paymentMethodID.String(),
		"order_type":        "DineIn",
		"details": []map[string]interface{}{
			{
				"product_name": "Lomo Saltado",
				"quantity":     2,
				"unit_price":   "12.50",
			},
		},
	}
}

// --- Create ---

func TestOrderCreate_HappyPath(t *testing.T) {
	tableID := uuid.New()
	paymentMethodID := uuid.New()
	claims := testClaims()

	svc := &mockOrderService{
		createFn: func(ctx context.Context, req service.CreateOrderRequest) (*service.OrderResult, error) {
			if req.TableID != tableID {
				t.Errorf("table_id: got %v, want %v", req.TableID, tableID)
			}
			if req.UserID == nil || *req.UserID != claims.UserID {
				t.Errorf("user_id: got %v, want %v", req.UserID, claims.UserID)
			}
			if len(req.Details) != 1 {
				t.Errorf("details count: got %d, want 1", len(req.Details))
			}
			return testOrderResult(t, tableID), nil
		},
	}
	hub := &mockHub{}
	router := setupOrderRouter(svc, nil, &mockOrderStore{}, hub)

	rr := doAuthRequest(t, router, "POST", "/orders", createOrderBody(tableID, paymentMethodID), claims)

	if rr.Code != http.StatusCreated {
		t.Fatalf("status: got %d, want %d; body: %s", rr.Code, http.StatusCreated, rr.Body.String())
	}

	resp := decodeResponse(t, rr)
	if resp["order_number"] != "ORD-20260830120000" {
		t.Errorf("order_number: got %v", resp["order_number"])
	}
	if resp["total"] != "25.00" {
		t.Errorf("total: got %v, want 25.00", resp["total"])
	}
	if resp["status"] != "Pending" {
		t.Errorf("status: got %v, want Pending", resp["status"])
	}
	if len(hub.events) != 1 || hub.events[0] != "order.created" {
		t.Errorf("broadcast events: got %v, want [order.created]", hub.events)
	}
}

func TestOrderCreate_MissingDetails(t *testing.T) {
	claims := testClaims()
	svc := &mockOrderService{}
	router := setupOrderRouter(svc, nil, &mockOrderStore{}, &mockHub{})

	body := createOrderBody(uuid.New(), uuid.New())
	body["details"] = []map[string]interface{}{}
	rr := doAuthRequest(t, router, "POST", "/orders", body, claims)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestOrderCreate_InvalidTableID(t *testing.T) {
	claims := testClaims()
	router := setupOrderRouter(&mockOrderService{}, nil, &mockOrderStore{}, &mockHub{})

	body := createOrderBody(uuid.New(), uuid.New())
	body["table_id"] = "not-a-uuid"
	rr := doAuthRequest(t, router, "POST", "/orders", body, claims)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestOrderCreate_ValidationErrorFromService(t *testing.T) {
	claims := testClaims()
	svc := &mockOrderService{
		createFn: func(ctx context.Context, req service.CreateOrderRequest) (*service.OrderResult, error) {
			return nil, service.ErrTableNotFound
		},
	}
	router := setupOrderRouter(svc, nil, &mockOrderStore{}, &mockHub{})

	rr := doAuthRequest(t, router, "POST", "/orders", createOrderBody(uuid.New(), uuid.New()), claims)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestOrderCreate_Unauthenticated(t *testing.T) {
	router := setupOrderRouter(&mockOrderService{}, nil, &mockOrderStore{}, &mockHub{})

	b, _ := json.Marshal(createOrderBody(uuid.New(), uuid.New()))
	req := httptest.NewRequest("POST", "/orders", bytes.NewReader(b))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("status: got %d, want %d", rr.Code, http.StatusUnauthorized)
	}
}

// --- Get / List ---

func TestOrderGet_NotFound(t *testing.T) {
	claims := testClaims()
	router := setupOrderRouter(&mockOrderService{}, nil, &mockOrderStore{}, &mockHub{})

	rr := doAuthRequest(t, router, "GET", "/orders/"+uuid.New().String(), nil, claims)

	if rr.Code != http.StatusNotFound {
		t.Errorf("status: got %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestOrderGet_HappyPath(t *testing.T) {
	claims := testClaims()
	result := testOrderResult(t, uuid.New())

	store := &mockOrderStore{
		getOrderFn: func(ctx context.Context, id uuid.UUID) (database.Order, error) {
			if id != result.Order.ID {
				return database.Order{}, pgx.ErrNoRows
			}
			return result.Order, nil
		},
		listOrderDetailsByOrderFn: func(ctx context.Context, orderID uuid.UUID) ([]database.OrderDetail, error) {
			return result.Details, nil
		},
	}
	router := setupOrderRouter(&mockOrderService{}, nil, store, &mockHub{})

	rr := doAuthRequest(t, router, "GET", "/orders/"+result.Order.ID.String(), nil, claims)

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d; body: %s", rr.Code, http.StatusOK, rr.Body.String())
	}

	resp := decodeResponse(t, rr)
	details, ok := resp["details"].([]interface{})
	if !ok || len(details) != 1 {
		t.Errorf("details: got %v, want 1 line", resp["details"])
	}
}

func TestOrderList_BatchesDetailQueries(t *testing.T) {
	claims := testClaims()
	first := testOrderResult(t, uuid.New())
	second := testOrderResult(t, uuid.New())

	batchCalls := 0
	store := &mockOrderStore{
		listOrdersFn: func(ctx context.Context, arg database.ListOrdersParams) ([]database.Order, error) {
			return []database.Order{first.Order, second.Order}, nil
		},
		countOrdersFn: func(ctx context.Context, arg database.CountOrdersParams) (int64, error) {
			return 2, nil
		},
		listOrderDetailsByOrdersFn: func(ctx context.Context, orderIDs []uuid.UUID) ([]database.OrderDetail, error) {
			batchCalls++
			if len(orderIDs) != 2 {
				t.Errorf("batched IDs: got %d, want 2", len(orderIDs))
			}
			return append(first.Details, second.Details...), nil
		},
	}
	router := setupOrderRouter(&mockOrderService{}, nil, store, &mockHub{})

	rr := doAuthRequest(t, router, "GET", "/orders", nil, claims)

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d; body: %s", rr.Code, http.StatusOK, rr.Body.String())
	}
	if batchCalls != 1 {
		t.Errorf("detail queries: got %d, want 1", batchCalls)
	}

	resp := decodeResponse(t, rr)
	if resp["total"] != float64(2) {
		t.Errorf("total: got %v, want 2", resp["total"])
	}
}

func TestOrderList_InvalidStatusFilterDate(t *testing.T) {
	claims := testClaims()
	router := setupOrderRouter(&mockOrderService{}, nil, &mockOrderStore{}, &mockHub{})

	rr := doAuthRequest(t, router, "GET", "/orders?start_date=yesterday", nil, claims)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

// --- Update / Status ---

func TestOrderUpdate_ConcurrentModification(t *testing.T) {
	claims := testClaims()
	svc := &mockOrderService{
		updateFn: func(ctx context.Context, id uuid.UUID, req service.UpdateOrderRequest) (*service.OrderResult, error) {
			return nil, service.ErrConcurrentUpdate
		},
	}
	router := setupOrderRouter(svc, nil, &mockOrderStore{}, &mockHub{})

	body := map[string]interface{}{
		"table_id":          uuid.New().String(),
		"payment_method_id": uuid.New().String(),
		"status":            "Pending",
		"order_type":        "DineIn",
	}
	rr := doAuthRequest(t, router, "PUT", "/orders/"+uuid.New().String(), body, claims)

	if rr.Code != http.StatusConflict {
		t.Errorf("status: got %d, want %d", rr.Code, http.StatusConflict)
	}
}

func TestOrderUpdate_NotFound(t *testing.T) {
	claims := testClaims()
	svc := &mockOrderService{
		updateFn: func(ctx context.Context, id uuid.UUID, req service.UpdateOrderRequest) (*service.OrderResult, error) {
			return nil, service.ErrOrderNotFound
		},
	}
	router := setupOrderRouter(svc, nil, &mockOrderStore{}, &mockHub{})

	body := map[string]interface{}{
		"table_id":          uuid.New().String(),
		"payment_method_id": uuid.New().String(),
		"status":            "Pending",
		"order_type":        "DineIn",
	}
	rr := doAuthRequest(t, router, "PUT", "/orders/"+uuid.New().String(), body, claims)

	if rr.Code != http.StatusNotFound {
		t.Errorf("status: got %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestOrderStatus_HappyPath(t *testing.T) {
	claims := testClaims()
	result := testOrderResult(t, uuid.New())
	result.Order.Status = enum.OrderStatusInProcess

	svc := &mockOrderService{
		changeStatusFn: func(ctx context.Context, id uuid.UUID, status string) (*service.OrderResult, error) {
			if status != "InProcess" {
				t.Errorf("status: got %q, want InProcess", status)
			}
			return result, nil
		},
	}
	hub := &mockHub{}
	router := setupOrderRouter(svc, nil, &mockOrderStore{}, hub)

	rr := doAuthRequest(t, router, "PATCH", "/orders/"+result.Order.ID.String()+"/change-status", map[string]string{
		"status": "InProcess",
	}, claims)

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d; body: %s", rr.Code, http.StatusOK, rr.Body.String())
	}
	if len(hub.events) != 1 || hub.events[0] != "order.updated" {
		t.Errorf("broadcast events: got %v, want [order.updated]", hub.events)
	}
}

func TestOrderStatus_InvalidStatus(t *testing.T) {
	claims := testClaims()
	svc := &mockOrderService{
		changeStatusFn: func(ctx context.Context, id uuid.UUID, status string) (*service.OrderResult, error) {
			return nil, service.ErrInvalidStatus
		},
	}
	router := setupOrderRouter(svc, nil, &mockOrderStore{}, &mockHub{})

	rr := doAuthRequest(t, router, "PATCH", "/orders/"+uuid.New().String()+"/change-status", map[string]string{
		"status": "Finished",
	}, claims)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

// --- Mark as paid ---

func TestOrderMarkAsPaid_HappyPath(t *testing.T) {
	claims := testClaims()
	result := testOrderResult(t, uuid.New())
	result.Order.IsPaid = true
	result.Order.Status = enum.OrderStatusCompleted

	settle := &mockSettlementService{
		markPaidFn: func(ctx context.Context, orderID uuid.UUID) (*service.OrderResult, error) {
			if orderID != result.Order.ID {
				t.Errorf("order ID: got %v, want %v", orderID, result.Order.ID)
			}
			return result, nil
		},
	}
	hub := &mockHub{}
	router := setupOrderRouter(&mockOrderService{}, settle, &mockOrderStore{}, hub)

	rr := doAuthRequest(t, router, "PATCH", "/orders/"+result.Order.ID.String()+"/mark-as-paid", nil, claims)

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d; body: %s", rr.Code, http.StatusOK, rr.Body.String())
	}

	resp := decodeResponse(t, rr)
	if resp["is_paid"] != true {
		t.Errorf("is_paid: got %v, want true", resp["is_paid"])
	}
	if len(hub.events) != 1 || hub.events[0] != "order.settled" {
		t.Errorf("broadcast events: got %v, want [order.settled]", hub.events)
	}
}

func TestOrderMarkAsPaid_AlreadyPaid(t *testing.T) {
	claims := testClaims()
	settle := &mockSettlementService{
		markPaidFn: func(ctx context.Context, orderID uuid.UUID) (*service.OrderResult, error) {
			return nil, service.ErrAlreadyPaid
		},
	}
	router := setupOrderRouter(&mockOrderService{}, settle, &mockOrderStore{}, &mockHub{})

	rr := doAuthRequest(t, router, "PATCH", "/orders/"+uuid.New().String()+"/mark-as-paid", nil, claims)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestOrderMarkAsPaid_NoOpenRegister(t *testing.T) {
	claims := testClaims()
	settle := &mockSettlementService{
		markPaidFn: func(ctx context.Context, orderID uuid.UUID) (*service.OrderResult, error) {
			return nil, service.ErrNoOpenRegister
		},
	}
	hub := &mockHub{}
	router := setupOrderRouter(&mockOrderService{}, settle, &mockOrderStore{}, hub)

	rr := doAuthRequest(t, router, "PATCH", "/orders/"+uuid.New().String()+"/mark-as-paid", nil, claims)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want %d", rr.Code, http.StatusBadRequest)
	}
	if len(hub.events) != 0 {
		t.Errorf("broadcast events: got %v, want none", hub.events)
	}
}

func TestOrderMarkAsPaid_NotFound(t *testing.T) {
	claims := testClaims()
	settle := &mockSettlementService{
		markPaidFn: func(ctx context.Context, orderID uuid.UUID) (*service.OrderResult, error) {
			return nil, service.ErrOrderNotFound
		},
	}
	router := setupOrderRouter(&mockOrderService{}, settle, &mockOrderStore{}, &mockHub{})

	rr := doAuthRequest(t, router, "PATCH", "/orders/"+uuid.New().String()+"/mark-as-paid", nil, claims)

	if rr.Code != http.StatusNotFound {
		t.Errorf("status: got %d, want %d", rr.Code, http.StatusNotFound)
	}
}

// --- Delete ---

func TestOrderDelete_HappyPath(t *testing.T) {
	claims := testClaims()
	svc := &mockOrderService{
		deleteFn: func(ctx context.Context, id uuid.UUID) error {
			return nil
		},
	}
	hub := &mockHub{}
	router := setupOrderRouter(svc, nil, &mockOrderStore{}, hub)

	rr := doAuthRequest(t, router, "DELETE", "/orders/"+uuid.New().String(), nil, claims)

	if rr.Code != http.StatusOK {
		t.Errorf("status: got %d, want %d", rr.Code, http.StatusOK)
	}
	if len(hub.events) != 1 || hub.events[0] != "order.deleted" {
		t.Errorf("broadcast events: got %v, want [order.deleted]", hub.events)
	}
}

func TestOrderDelete_SettledOrderRejected(t *testing.T) {
	claims := testClaims()
	svc := &mockOrderService{
		deleteFn: func(ctx context.Context, id uuid.UUID) error {
			return service.ErrOrderSettled
		},
	}
	router := setupOrderRouter(svc, nil, &mockOrderStore{}, &mockHub{})

	rr := doAuthRequest(t, router, "DELETE", "/orders/"+uuid.New().String(), nil, claims)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want %d", rr.Code, http.StatusBadRequest)
	}
}
