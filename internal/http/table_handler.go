package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/fjod/qr_order/internal/checkout"
	"github.com/fjod/qr_order/internal/domain"
	"github.com/fjod/qr_order/internal/pricing"
	"github.com/fjod/qr_order/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const maxQuantity = domain.MaxQuantity

// TableAPI is the table session surface the handlers drive.
type TableAPI interface {
	GetCart(ctx context.Context, scope domain.Scope) (*service.CartView, error)
	AddItem(ctx context.Context, scope domain.Scope, item domain.MenuItem, quantity int, notes string) (*service.CartView, error)
	RemoveItem(ctx context.Context, scope domain.Scope, itemID string) (*service.CartView, error)
	SetQuantity(ctx context.Context, scope domain.Scope, itemID string, quantity int) (*service.CartView, error)
	SetNotes(ctx context.Context, scope domain.Scope, itemID, notes string) (*service.CartView, error)
	Clear(ctx context.Context, scope domain.Scope) (*service.CartView, error)
	Quote(ctx context.Context, scope domain.Scope, tip domain.TipSelection) (pricing.Breakdown, error)
	Checkout(ctx context.Context, scope domain.Scope, form checkout.Form) (*checkout.Receipt, error)
	CheckoutStatus(ctx context.Context, scope domain.Scope) (checkout.State, error)
	TableInfo(ctx context.Context, scope domain.Scope) (*service.TableInfo, error)
}

type TableHandler struct {
	tables  TableAPI
	timeout time.Duration
	logger  *zap.Logger
}

func NewTableHandler(tables TableAPI, timeout time.Duration, logger *zap.Logger) *TableHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TableHandler{tables: tables, timeout: timeout, logger: logger}
}

type scopeKey struct{}

// ScopeCtx parses the vendor and table path parameters once per request.
func ScopeCtx(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		scope, err := domain.NewScope(chi.URLParam(r, "vendorID"), chi.URLParam(r, "tableNumber"))
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid_scope", err.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), scopeKey{}, scope)))
	})
}

func scopeFrom(r *http.Request) domain.Scope {
	scope, _ := r.Context().Value(scopeKey{}).(domain.Scope)
	return scope
}

func (h *TableHandler) GetTable(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	info, err := h.tables.TableInfo(ctx, scopeFrom(r))
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toTableInfo(info))
}

func (h *TableHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	view, err := h.tables.GetCart(ctx, scopeFrom(r))
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toCartResponse(view))
}

func (h *TableHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req AddItemRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.ItemID == "" {
		respondError(w, http.StatusBadRequest, "invalid_item_id", "itemId is required")
		return
	}
	if req.Quantity < 0 || req.Quantity > maxQuantity {
		respondError(w, http.StatusBadRequest, "invalid_quantity", "quantity must be between 1 and 99")
		return
	}

	item := domain.MenuItem{ID: req.ItemID, Name: req.Name, Price: req.Price}
	view, err := h.tables.AddItem(ctx, scopeFrom(r), item, req.Quantity, req.Notes)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, toCartResponse(view))
}

func (h *TableHandler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	itemID := chi.URLParam(r, "itemID")
	var req UpdateItemRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.Quantity == nil && req.Notes == nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "quantity or notes is required")
		return
	}
	if req.Quantity != nil && *req.Quantity > maxQuantity {
		respondError(w, http.StatusBadRequest, "invalid_quantity", "quantity must not exceed 99")
		return
	}

	scope := scopeFrom(r)
	var (
		view *service.CartView
		err  error
	)
	if req.Notes != nil {
		if view, err = h.tables.SetNotes(ctx, scope, itemID, *req.Notes); err != nil {
			h.handleError(w, r, err)
			return
		}
	}
	if req.Quantity != nil {
		if view, err = h.tables.SetQuantity(ctx, scope, itemID, *req.Quantity); err != nil {
			h.handleError(w, r, err)
			return
		}
	}
	respondJSON(w, http.StatusOK, toCartResponse(view))
}

func (h *TableHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	view, err := h.tables.RemoveItem(ctx, scopeFrom(r), chi.URLParam(r, "itemID"))
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toCartResponse(view))
}

func (h *TableHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	view, err := h.tables.Clear(ctx, scopeFrom(r))
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toCartResponse(view))
}

// GetTotals prices the cart for the tip chosen in the query string.
// tipAmount wins over tipPercent when both are given.
func (h *TableHandler) GetTotals(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	percent, err := queryDecimal(r, "tipPercent")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_tip", "tipPercent must be a number")
		return
	}
	amount, err := queryDecimal(r, "tipAmount")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_tip", "tipAmount must be a number")
		return
	}

	totals, err := h.tables.Quote(ctx, scopeFrom(r), tipSelection(percent, amount))
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toTotals(totals))
}

// Submit places the order. The order call carries its own timeout and is not
// bounded by the request timeout.
func (h *TableHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req CheckoutRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	receipt, err := h.tables.Checkout(r.Context(), scopeFrom(r), req.form())
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, toReceipt(receipt))
}

func (h *TableHandler) GetCheckout(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	state, err := h.tables.CheckoutStatus(ctx, scopeFrom(r))
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toCheckoutState(state))
}

func queryDecimal(r *http.Request, name string) (*decimal.Decimal, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
