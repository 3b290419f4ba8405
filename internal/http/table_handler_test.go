package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fjod/qr_order/internal/backend"
	"github.com/fjod/qr_order/internal/checkout"
	"github.com/fjod/qr_order/internal/domain"
	"github.com/fjod/qr_order/internal/persistence"
	"github.com/fjod/qr_order/internal/service"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// BackendMock stands in for the restaurant API: vendors, tables, orders and
// token lookup.
type BackendMock struct {
	mu       sync.Mutex
	OrderErr error
	Orders   []domain.OrderRequest
	Users    map[string]*domain.User
}

func (b *BackendMock) GetVendorByID(_ context.Context, vendorID string) (*domain.Vendor, error) {
	if vendorID != "v1" {
		return nil, backend.ErrNotFound
	}
	return &domain.Vendor{ID: "v1", Name: "Harbour Grill", BillingSettings: &domain.BillingConfig{
		TaxRate:           decimal.NewFromInt(10),
		ServiceChargeRate: decimal.NewFromInt(5),
	}}, nil
}

func (b *BackendMock) GetTableByNumber(_ context.Context, _, tableNumber string) (*domain.Table, error) {
	if tableNumber != "12" {
		return nil, backend.ErrNotFound
	}
	return &domain.Table{Number: "12", Location: "Terrace"}, nil
}

func (b *BackendMock) CreateOrder(_ context.Context, req domain.OrderRequest) (*domain.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Orders = append(b.Orders, req)
	if b.OrderErr != nil {
		return nil, b.OrderErr
	}
	return &domain.Order{ID: "ord-1", OrderNumber: "A-1001", Status: domain.OrderStatusPending, TotalAmount: req.TotalAmount}, nil
}

func (b *BackendMock) CurrentUser(_ context.Context, token string) (*domain.User, error) {
	if u, ok := b.Users[token]; ok {
		return u, nil
	}
	return nil, errors.New("invalid token")
}

func (b *BackendMock) orderCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.Orders)
}

type testServer struct {
	handler http.Handler
	backend *BackendMock
	saver   *persistence.CartPersistence
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	mock := &BackendMock{Users: map[string]*domain.User{
		"good-token": {ID: "u1", Phone: "+15550100", Email: "ana@example.com"},
	}}
	saver := persistence.New(persistence.NewMemoryBackend(), nil)
	cfg := service.DefaultConfig()
	cfg.CleanupInterval = 0
	svc := service.NewTableService(saver, mock, mock, service.WithConfig(cfg))
	t.Cleanup(func() { _ = svc.Close() })

	return &testServer{
		handler: NewRouter(RouterConfig{
			Tables:         svc,
			Resolver:       mock,
			RequestTimeout: 5 * time.Second,
		}),
		backend: mock,
		saver:   saver,
	}
}

func (s *testServer) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

const base = "/api/v1/vendors/v1/tables/12"

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	return out
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestGetTable(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, base, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	info := decode[TableInfoResponse](t, rec)
	assert.Equal(t, "Harbour Grill", info.VendorName)
	assert.Equal(t, "Terrace", info.Location)
	assert.Equal(t, "10", info.TaxRate)
	assert.Equal(t, []int64{0, 10, 15, 20}, info.TipPresets)

	rec = s.do(t, http.MethodGet, "/api/v1/vendors/v1/tables/99", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/vendors/nope/tables/12", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCartLifecycle(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, base+"/cart/items", AddItemRequestDTO{
		ItemID: "pasta", Name: "Pasta", Price: decimal.RequireFromString("12.50"), Quantity: 2,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	cart := decode[CartResponse](t, rec)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, "12.50", cart.Items[0].UnitPrice)
	assert.Equal(t, "25.00", cart.Items[0].LineTotal)
	assert.Equal(t, 2, cart.ItemCount)
	assert.Equal(t, "28.75", cart.Totals.GrandTotal)

	rec = s.do(t, http.MethodPut, base+"/cart/items/pasta", map[string]any{"quantity": 3, "notes": "al dente"})
	require.Equal(t, http.StatusOK, rec.Code)
	cart = decode[CartResponse](t, rec)
	assert.Equal(t, 3, cart.Items[0].Quantity)
	assert.Equal(t, "al dente", cart.Items[0].Notes)

	rec = s.do(t, http.MethodPut, base+"/cart/items/pasta", map[string]any{"quantity": 0})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[CartResponse](t, rec).Items)

	rec = s.do(t, http.MethodDelete, base+"/cart/items/pasta", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	s.do(t, http.MethodPost, base+"/cart/items", AddItemRequestDTO{ItemID: "soda", Name: "Soda", Price: decimal.NewFromInt(3)})
	rec = s.do(t, http.MethodDelete, base+"/cart", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[CartResponse](t, rec).Items)

	_, ok := s.saver.Restore(context.Background(), domain.Scope{VendorID: "v1", TableNumber: "12"})
	assert.False(t, ok)
}

func TestAddItem_BadInput(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, base+"/cart/items", map[string]any{"name": "no id"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_item_id", decode[ErrorResponse](t, rec).Code)

	rec = s.do(t, http.MethodPost, base+"/cart/items", map[string]any{"itemId": "x", "quantity": 500})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, base+"/cart/items", map[string]any{"itemId": "x", "price": "-1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, base+"/cart/items", strings.NewReader("{"))
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestInvalidScope(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/v1/vendors/%20/tables/12/cart", nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_scope", decode[ErrorResponse](t, rec).Code)
}

func TestGetTotals(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodPost, base+"/cart/items", AddItemRequestDTO{ItemID: "set", Name: "Set", Price: decimal.NewFromInt(100)})

	rec := s.do(t, http.MethodGet, base+"/cart/totals?tipPercent=15", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	totals := decode[TotalsDTO](t, rec)
	assert.Equal(t, "10.00", totals.Tax)
	assert.Equal(t, "5.00", totals.ServiceCharge)
	assert.Equal(t, "115.00", totals.TipBase)
	assert.Equal(t, "17.25", totals.Tip)
	assert.Equal(t, "132.25", totals.GrandTotal)

	rec = s.do(t, http.MethodGet, base+"/cart/totals?tipPercent=15&tipAmount=20", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	totals = decode[TotalsDTO](t, rec)
	assert.Equal(t, "20.00", totals.Tip)
	assert.Equal(t, "135.00", totals.GrandTotal)

	rec = s.do(t, http.MethodGet, base+"/cart/totals?tipPercent=lots", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmit_Guest(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodPost, base+"/cart/items", AddItemRequestDTO{ItemID: "set", Name: "Set", Price: decimal.NewFromInt(100)})

	rec := s.do(t, http.MethodPost, base+"/checkout", CheckoutRequestDTO{PaymentMethod: "card"})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "validation_failed", decode[ErrorResponse](t, rec).Code)
	assert.Equal(t, 0, s.backend.orderCount())

	tip := decimal.NewFromInt(15)
	rec = s.do(t, http.MethodPost, base+"/checkout", CheckoutRequestDTO{
		Email: "guest@example.com", PaymentMethod: "card", TipPercent: &tip,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	receipt := decode[ReceiptResponse](t, rec)
	assert.Equal(t, "ord-1", receipt.OrderID)
	assert.Equal(t, "132.25", receipt.Totals.GrandTotal)

	require.Equal(t, 1, s.backend.orderCount())
	assert.True(t, s.backend.Orders[0].TotalAmount.Equal(decimal.RequireFromString("132.25")))

	rec = s.do(t, http.MethodGet, base+"/checkout", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	state := decode[CheckoutStateDTO](t, rec)
	assert.Equal(t, "succeeded", state.Status)
	require.NotNil(t, state.Receipt)

	rec = s.do(t, http.MethodGet, base+"/cart", nil)
	assert.Empty(t, decode[CartResponse](t, rec).Items)
}

func TestSubmit_AuthenticatedPrefill(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodPost, base+"/cart/items", AddItemRequestDTO{ItemID: "soda", Name: "Soda", Price: decimal.NewFromInt(3)})

	rec := s.do(t, http.MethodPost, base+"/checkout", CheckoutRequestDTO{}, "Authorization", "Bearer good-token")

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "ana@example.com", s.backend.Orders[0].CustomerEmail)
	assert.Equal(t, "+15550100", s.backend.Orders[0].CustomerPhone)
}

func TestSubmit_EmptyCart(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, base+"/checkout", CheckoutRequestDTO{Email: "guest@example.com"})

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestSubmit_RejectedKeepsCart(t *testing.T) {
	s := newTestServer(t)
	s.backend.OrderErr = backend.ErrOrderRejected
	s.do(t, http.MethodPost, base+"/cart/items", AddItemRequestDTO{ItemID: "soda", Name: "Soda", Price: decimal.NewFromInt(3), Quantity: 2})

	rec := s.do(t, http.MethodPost, base+"/checkout", CheckoutRequestDTO{Email: "guest@example.com"})
	require.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "order_failed", decode[ErrorResponse](t, rec).Code)

	rec = s.do(t, http.MethodGet, base+"/cart", nil)
	cart := decode[CartResponse](t, rec)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, 2, cart.Items[0].Quantity)
	assert.Equal(t, "failed", cart.Checkout.Status)
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{&checkout.ValidationError{Err: checkout.ErrEmptyCart}, http.StatusUnprocessableEntity},
		{checkout.ErrSubmitInFlight, http.StatusConflict},
		{&checkout.SubmissionError{Err: checkout.ErrSubmitTimeout}, http.StatusGatewayTimeout},
		{&checkout.SubmissionError{Err: errors.New("refused")}, http.StatusBadGateway},
		{service.ErrBillingUnavailable, http.StatusServiceUnavailable},
		{fmt.Errorf("%w: %w", service.ErrCartUnavailable, context.DeadlineExceeded), http.StatusServiceUnavailable},
		{domain.ErrInvalidScope, http.StatusBadRequest},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		got, _ := statusFor(tc.err)
		assert.Equal(t, tc.want, got, tc.err.Error())
	}
}
