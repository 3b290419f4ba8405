package http

import (
	"github.com/fjod/qr_order/internal/checkout"
	"github.com/fjod/qr_order/internal/domain"
	"github.com/fjod/qr_order/internal/pricing"
	"github.com/fjod/qr_order/internal/service"
	"github.com/shopspring/decimal"
)

type AddItemRequestDTO struct {
	ItemID   string          `json:"itemId"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Quantity int             `json:"quantity"`
	Notes    string          `json:"notes"`
}

// UpdateItemRequestDTO changes quantity, notes, or both. A quantity of zero
// removes the line.
type UpdateItemRequestDTO struct {
	Quantity *int    `json:"quantity"`
	Notes    *string `json:"notes"`
}

type CheckoutRequestDTO struct {
	Phone           string           `json:"phone"`
	Email           string           `json:"email"`
	PaymentMethod   string           `json:"paymentMethod"`
	Notes           string           `json:"notes"`
	SpecialRequests string           `json:"specialRequests"`
	TipPercent      *decimal.Decimal `json:"tipPercent"`
	TipAmount       *decimal.Decimal `json:"tipAmount"`
}

func (r CheckoutRequestDTO) form() checkout.Form {
	return checkout.Form{
		Phone:           r.Phone,
		Email:           r.Email,
		PaymentMethod:   r.PaymentMethod,
		Notes:           r.Notes,
		SpecialRequests: r.SpecialRequests,
		Tip:             tipSelection(r.TipPercent, r.TipAmount),
	}
}

func tipSelection(percent, amount *decimal.Decimal) domain.TipSelection {
	var tip domain.TipSelection
	if percent != nil {
		tip = tip.WithPercentage(*percent)
	}
	if amount != nil {
		tip = tip.WithCustomAmount(*amount)
	}
	return tip
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

type LineItemDTO struct {
	ItemID    string `json:"itemId"`
	Name      string `json:"name"`
	UnitPrice string `json:"unitPrice"`
	Quantity  int    `json:"quantity"`
	Notes     string `json:"notes,omitempty"`
	LineTotal string `json:"lineTotal"`
}

type TotalsDTO struct {
	Subtotal      string `json:"subtotal"`
	Tax           string `json:"tax"`
	ServiceCharge string `json:"serviceCharge"`
	TipBase       string `json:"tipBase"`
	Tip           string `json:"tip"`
	GrandTotal    string `json:"grandTotal"`
}

type CheckoutStateDTO struct {
	Status  string           `json:"status"`
	Error   string           `json:"error,omitempty"`
	Receipt *ReceiptResponse `json:"receipt,omitempty"`
}

type CartResponse struct {
	VendorID    string           `json:"vendorId"`
	TableNumber string           `json:"tableNumber"`
	Items       []LineItemDTO    `json:"items"`
	ItemCount   int              `json:"itemCount"`
	Totals      TotalsDTO        `json:"totals"`
	Checkout    CheckoutStateDTO `json:"checkout"`
}

type ReceiptResponse struct {
	OrderID     string    `json:"orderId"`
	OrderNumber string    `json:"orderNumber,omitempty"`
	Status      string    `json:"status,omitempty"`
	Totals      TotalsDTO `json:"totals"`
}

type TableInfoResponse struct {
	VendorID          string  `json:"vendorId"`
	TableNumber       string  `json:"tableNumber"`
	VendorName        string  `json:"vendorName"`
	Location          string  `json:"location,omitempty"`
	TaxRate           string  `json:"taxRate"`
	ServiceChargeRate string  `json:"serviceChargeRate"`
	TipPresets        []int64 `json:"tipPresets"`
}

func toTotals(b pricing.Breakdown) TotalsDTO {
	return TotalsDTO{
		Subtotal:      pricing.Format(b.Subtotal),
		Tax:           pricing.Format(b.Tax),
		ServiceCharge: pricing.Format(b.ServiceCharge),
		TipBase:       pricing.Format(b.TipBase),
		Tip:           pricing.Format(b.Tip),
		GrandTotal:    pricing.Format(b.GrandTotal),
	}
}

func toCartResponse(v *service.CartView) CartResponse {
	items := make([]LineItemDTO, 0, len(v.Cart.Items))
	count := 0
	for _, it := range v.Cart.Items {
		items = append(items, LineItemDTO{
			ItemID:    it.ItemID,
			Name:      it.Name,
			UnitPrice: pricing.Format(it.UnitPrice),
			Quantity:  it.Quantity,
			Notes:     it.Notes,
			LineTotal: pricing.Format(it.LineTotal()),
		})
		count += it.Quantity
	}
	return CartResponse{
		VendorID:    v.Cart.Scope.VendorID,
		TableNumber: v.Cart.Scope.TableNumber,
		Items:       items,
		ItemCount:   count,
		Totals:      toTotals(v.Totals),
		Checkout:    toCheckoutState(v.Checkout),
	}
}

func toCheckoutState(s checkout.State) CheckoutStateDTO {
	dto := CheckoutStateDTO{Status: s.Status.String()}
	if s.Err != nil {
		dto.Error = s.Err.Error()
	}
	if s.Receipt != nil {
		r := toReceipt(s.Receipt)
		dto.Receipt = &r
	}
	return dto
}

func toReceipt(r *checkout.Receipt) ReceiptResponse {
	return ReceiptResponse{
		OrderID:     r.Order.ID,
		OrderNumber: r.Order.OrderNumber,
		Status:      string(r.Order.Status),
		Totals:      toTotals(r.Totals),
	}
}

func toTableInfo(info *service.TableInfo) TableInfoResponse {
	return TableInfoResponse{
		VendorID:          info.Scope.VendorID,
		TableNumber:       info.Scope.TableNumber,
		VendorName:        info.VendorName,
		Location:          info.Location,
		TaxRate:           info.Billing.TaxRate.String(),
		ServiceChargeRate: info.Billing.ServiceChargeRate.String(),
		TipPresets:        domain.TipPresets,
	}
}
