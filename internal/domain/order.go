package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusConfirmed OrderStatus = "confirmed"
	OrderStatusPreparing OrderStatus = "preparing"
	OrderStatusServed    OrderStatus = "served"
	OrderStatusCancelled OrderStatus = "cancelled"
)

type OrderItem struct {
	MenuItemID string          `json:"menuItemId"`
	Name       string          `json:"name"`
	Price      decimal.Decimal `json:"price"`
	Quantity   int             `json:"quantity"`
	Notes      string          `json:"notes,omitempty"`
}

// OrderRequest is the order-creation payload sent to the backend API. It is
// built once per submit attempt and never persisted on its own.
type OrderRequest struct {
	VendorID        string          `json:"vendorId"`
	TableNumber     string          `json:"tableNumber"`
	Items           []OrderItem     `json:"items"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	Tax             decimal.Decimal `json:"tax"`
	ServiceCharge   decimal.Decimal `json:"serviceCharge"`
	Tip             decimal.Decimal `json:"tip"`
	TotalAmount     decimal.Decimal `json:"totalAmount"`
	PaymentMethod   PaymentMethod   `json:"paymentMethod"`
	Notes           string          `json:"notes,omitempty"`
	SpecialRequests string          `json:"specialRequests,omitempty"`
	CustomerPhone   string          `json:"customerPhone,omitempty"`
	CustomerEmail   string          `json:"customerEmail,omitempty"`
	IdempotencyKey  string          `json:"-"`
}

type Order struct {
	ID          string          `json:"_id"`
	OrderNumber string          `json:"orderNumber,omitempty"`
	Status      OrderStatus     `json:"status,omitempty"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
	CreatedAt   time.Time       `json:"createdAt"`
}

type Vendor struct {
	ID              string         `json:"_id"`
	Name            string         `json:"name"`
	BillingSettings *BillingConfig `json:"billingSettings,omitempty"`
}

// Billing returns the vendor's normalized billing config, zero when unset.
func (v Vendor) Billing() BillingConfig {
	if v.BillingSettings == nil {
		return BillingConfig{}
	}
	return v.BillingSettings.Normalized()
}

type Table struct {
	Number   string `json:"tableNumber"`
	Location string `json:"location,omitempty"`
}

type User struct {
	ID    string `json:"_id"`
	Name  string `json:"name,omitempty"`
	Phone string `json:"phone,omitempty"`
	Email string `json:"email,omitempty"`
}
