package checkout

import (
	"net/mail"
	"strings"

	"github.com/fjod/qr_order/internal/domain"
	"github.com/fjod/qr_order/internal/pricing"
	"github.com/fjod/qr_order/internal/session"
)

// Form is what the diner fills in on the checkout screen.
type Form struct {
	Phone           string
	Email           string
	PaymentMethod   string
	Notes           string
	SpecialRequests string
	Tip             domain.TipSelection
}

type contact struct {
	phone string
	email string
}

// resolveContact fills blank form fields from the signed-in user and checks
// that a guest left an email.
func resolveContact(f Form, id session.Identity) (contact, error) {
	c := contact{
		phone: strings.TrimSpace(f.Phone),
		email: strings.TrimSpace(f.Email),
	}
	defPhone, defEmail := id.ContactDefaults()
	if c.phone == "" {
		c.phone = defPhone
	}
	if c.email == "" {
		c.email = defEmail
	}

	if c.email == "" {
		if id.IsGuest() {
			return contact{}, invalid("email", ErrGuestEmailRequired)
		}
		return c, nil
	}
	addr, err := mail.ParseAddress(c.email)
	if err != nil || addr.Address != c.email {
		return contact{}, invalid("email", ErrInvalidEmail)
	}
	return c, nil
}

func resolvePaymentMethod(raw string) (domain.PaymentMethod, error) {
	if strings.TrimSpace(raw) == "" {
		return domain.PaymentCash, nil
	}
	pm, err := domain.ParsePaymentMethod(raw)
	if err != nil {
		return "", invalid("paymentMethod", ErrInvalidPaymentMethod)
	}
	return pm, nil
}

// buildOrderRequest maps the cart and its rounded totals onto the payload
// sent to the order API.
func buildOrderRequest(scope domain.Scope, items []domain.LineItem, totals pricing.Breakdown,
	pm domain.PaymentMethod, f Form, c contact, key string) domain.OrderRequest {

	orderItems := make([]domain.OrderItem, 0, len(items))
	for _, it := range items {
		orderItems = append(orderItems, domain.OrderItem{
			MenuItemID: it.ItemID,
			Name:       it.Name,
			Price:      it.UnitPrice,
			Quantity:   it.Quantity,
			Notes:      it.Notes,
		})
	}

	return domain.OrderRequest{
		VendorID:        scope.VendorID,
		TableNumber:     scope.TableNumber,
		Items:           orderItems,
		Subtotal:        totals.Subtotal,
		Tax:             totals.Tax,
		ServiceCharge:   totals.ServiceCharge,
		Tip:             totals.Tip,
		TotalAmount:     totals.GrandTotal,
		PaymentMethod:   pm,
		Notes:           strings.TrimSpace(f.Notes),
		SpecialRequests: strings.TrimSpace(f.SpecialRequests),
		CustomerPhone:   c.phone,
		CustomerEmail:   c.email,
		IdempotencyKey:  key,
	}
}
