package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fjod/qr_order/internal/domain"
	"github.com/fjod/qr_order/pkg/circuitbreaker"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeEnvelope(t *testing.T, w http.ResponseWriter, status int, success bool, data any, message string) {
	t.Helper()
	body := map[string]any{"success": success}
	if data != nil {
		body["data"] = data
	}
	if message != "" {
		body["message"] = message
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	require.NoError(t, json.NewEncoder(w).Encode(body))
}

func TestCreateOrder_Success(t *testing.T) {
	var gotKey string
	var gotReq domain.OrderRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/orders", r.URL.Path)
		gotKey = r.Header.Get("Idempotency-Key")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		writeEnvelope(t, w, http.StatusCreated, true, map[string]any{
			"_id":         "ord-1",
			"orderNumber": "A-1001",
			"status":      "pending",
			"totalAmount": 135,
		}, "")
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	order, err := client.CreateOrder(context.Background(), domain.OrderRequest{
		VendorID:       "v1",
		TableNumber:    "12",
		TotalAmount:    decimal.NewFromInt(135),
		PaymentMethod:  domain.PaymentCard,
		IdempotencyKey: "key-123",
	})

	require.NoError(t, err)
	assert.Equal(t, "ord-1", order.ID)
	assert.Equal(t, "A-1001", order.OrderNumber)
	assert.Equal(t, domain.OrderStatus("pending"), order.Status)
	assert.Equal(t, "key-123", gotKey)
	assert.Equal(t, "v1", gotReq.VendorID)
	assert.Equal(t, "12", gotReq.TableNumber)
	assert.True(t, gotReq.TotalAmount.Equal(decimal.NewFromInt(135)))
}

func TestCreateOrder_SuccessFalseIsRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(t, w, http.StatusOK, false, nil, "kitchen closed")
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).CreateOrder(context.Background(), domain.OrderRequest{VendorID: "v1"})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOrderRejected)
	assert.Contains(t, err.Error(), "kitchen closed")
}

func TestCreateOrder_ClientErrorIsRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(t, w, http.StatusBadRequest, false, nil, "invalid table")
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).CreateOrder(context.Background(), domain.OrderRequest{VendorID: "v1"})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOrderRejected)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "invalid table", apiErr.Message)
}

func TestCreateOrder_ServerErrorIsNotRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).CreateOrder(context.Background(), domain.OrderRequest{VendorID: "v1"})

	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrOrderRejected)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
}

func TestCreateOrder_NoIdempotencyHeaderWhenKeyEmpty(t *testing.T) {
	var present bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, present = r.Header["Idempotency-Key"]
		writeEnvelope(t, w, http.StatusOK, true, map[string]any{"_id": "ord-2"}, "")
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).CreateOrder(context.Background(), domain.OrderRequest{VendorID: "v1"})

	require.NoError(t, err)
	assert.False(t, present)
}

func TestCreateOrder_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	client := NewClient(srv.URL, WithTimeout(50*time.Millisecond))
	_, err := client.CreateOrder(context.Background(), domain.OrderRequest{VendorID: "v1"})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGetVendorByID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/vendors/v1":
			writeEnvelope(t, w, http.StatusOK, true, map[string]any{
				"_id":  "v1",
				"name": "Harbour Grill",
				"billingSettings": map[string]any{
					"taxRate":           8,
					"serviceChargeRate": 10,
				},
			}, "")
		case "/api/vendors/v2":
			writeEnvelope(t, w, http.StatusOK, true, map[string]any{"_id": "v2", "name": "Noodle Bar"}, "")
		default:
			writeEnvelope(t, w, http.StatusNotFound, false, nil, "vendor not found")
		}
	}))
	defer srv.Close()

	client := NewClient(srv.URL)

	vendor, err := client.GetVendorByID(context.Background(), "v1")
	require.NoError(t, err)
	assert.Equal(t, "Harbour Grill", vendor.Name)
	assert.True(t, vendor.Billing().TaxRate.Equal(decimal.NewFromInt(8)))
	assert.True(t, vendor.Billing().ServiceChargeRate.Equal(decimal.NewFromInt(10)))

	bare, err := client.GetVendorByID(context.Background(), "v2")
	require.NoError(t, err)
	assert.True(t, bare.Billing().TaxRate.IsZero())
	assert.True(t, bare.Billing().ServiceChargeRate.IsZero())

	_, err = client.GetVendorByID(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetTableByNumber(t *testing.T) {
	var gotVendor string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tables/number/12", r.URL.Path)
		gotVendor = r.URL.Query().Get("vendorId")
		writeEnvelope(t, w, http.StatusOK, true, map[string]any{"location": "Terrace"}, "")
	}))
	defer srv.Close()

	table, err := NewClient(srv.URL).GetTableByNumber(context.Background(), "v 1", "12")

	require.NoError(t, err)
	assert.Equal(t, "v 1", gotVendor)
	assert.Equal(t, "12", table.Number)
	assert.Equal(t, "Terrace", table.Location)
}

func TestCurrentUser(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer good" {
			writeEnvelope(t, w, http.StatusUnauthorized, false, nil, "invalid token")
			return
		}
		writeEnvelope(t, w, http.StatusOK, true, map[string]any{
			"_id":   "u1",
			"name":  "Ana",
			"phone": "+15550100",
			"email": "ana@example.com",
		}, "")
	}))
	defer srv.Close()

	client := NewClient(srv.URL)

	user, err := client.CurrentUser(context.Background(), "good")
	require.NoError(t, err)
	assert.Equal(t, "u1", user.ID)
	assert.Equal(t, "ana@example.com", user.Email)

	_, err = client.CurrentUser(context.Background(), "bad")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
}

func TestDo_MalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>oops</html>"))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).GetVendorByID(context.Background(), "v1")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to decode response")
}

func TestBreaker_OpensOnServerErrors(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	settings := circuitbreaker.DefaultSettings("test")
	settings.MaxFailures = 2
	settings.OpenTimeout = time.Hour
	settings.IsFailure = IsServerFailure
	client := NewClient(srv.URL, WithBreaker(circuitbreaker.New(settings)))

	for i := 0; i < 2; i++ {
		_, err := client.GetVendorByID(context.Background(), "v1")
		require.Error(t, err)
	}
	_, err := client.GetVendorByID(context.Background(), "v1")

	assert.ErrorIs(t, err, circuitbreaker.ErrOpen)
	assert.Equal(t, 2, hits)
}

func TestBreaker_IgnoresClientErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(t, w, http.StatusNotFound, false, nil, "no such vendor")
	}))
	defer srv.Close()

	settings := circuitbreaker.DefaultSettings("test")
	settings.MaxFailures = 1
	settings.IsFailure = IsServerFailure
	client := NewClient(srv.URL, WithBreaker(circuitbreaker.New(settings)))

	for i := 0; i < 3; i++ {
		_, err := client.GetVendorByID(context.Background(), "ghost")
		assert.ErrorIs(t, err, ErrNotFound)
	}
}

func TestIsServerFailure(t *testing.T) {
	assert.False(t, IsServerFailure(nil))
	assert.False(t, IsServerFailure(ErrNotFound))
	assert.False(t, IsServerFailure(ErrRejected))
	assert.False(t, IsServerFailure(&APIError{StatusCode: 400}))
	assert.False(t, IsServerFailure(context.Canceled))
	assert.True(t, IsServerFailure(&APIError{StatusCode: 503}))
	assert.True(t, IsServerFailure(context.DeadlineExceeded))
	assert.True(t, IsServerFailure(errors.New("connection refused")))
}
