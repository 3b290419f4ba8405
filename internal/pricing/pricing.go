// Package pricing derives order totals from cart lines, vendor billing rates
// and a tip selection.
//
// All figures are computed in full decimal precision. Rounding happens once,
// either for display (Format) or for the amounts sent with an order
// (Breakdown.Rounded).
package pricing

import (
	"fmt"
	"strings"

	"github.com/fjod/qr_order/internal/domain"
	"github.com/shopspring/decimal"
)

const displayPlaces = 2

var hundred = decimal.NewFromInt(100)

// TipBasis selects which amount a percentage tip is taken from.
type TipBasis string

const (
	// TipOnTotal takes the tip from subtotal + tax + service charge.
	TipOnTotal    TipBasis = "total"
	TipOnSubtotal TipBasis = "subtotal"
)

func ParseTipBasis(s string) (TipBasis, error) {
	switch TipBasis(strings.ToLower(strings.TrimSpace(s))) {
	case "", TipOnTotal:
		return TipOnTotal, nil
	case TipOnSubtotal:
		return TipOnSubtotal, nil
	default:
		return "", fmt.Errorf("unknown tip basis %q", s)
	}
}

type Policy struct {
	TipBasis TipBasis
}

func DefaultPolicy() Policy {
	return Policy{TipBasis: TipOnTotal}
}

type Breakdown struct {
	Subtotal      decimal.Decimal `json:"subtotal"`
	Tax           decimal.Decimal `json:"tax"`
	ServiceCharge decimal.Decimal `json:"serviceCharge"`
	TipBase       decimal.Decimal `json:"tipBase"`
	Tip           decimal.Decimal `json:"tip"`
	GrandTotal    decimal.Decimal `json:"grandTotal"`
}

func Subtotal(items []domain.LineItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.LineTotal())
	}
	return total
}

func Tax(subtotal, taxRate decimal.Decimal) decimal.Decimal {
	return percentOf(subtotal, taxRate)
}

func ServiceCharge(subtotal, serviceChargeRate decimal.Decimal) decimal.Decimal {
	return percentOf(subtotal, serviceChargeRate)
}

func TipBase(subtotal, tax, serviceCharge decimal.Decimal) decimal.Decimal {
	return subtotal.Add(tax).Add(serviceCharge)
}

// Tip returns the custom amount when one is set and non-negative, otherwise
// the selected percentage of base. Negative percentages count as zero.
func Tip(base decimal.Decimal, sel domain.TipSelection) decimal.Decimal {
	if sel.CustomAmount != nil && !sel.CustomAmount.IsNegative() {
		return *sel.CustomAmount
	}
	if sel.Percentage.IsNegative() {
		return decimal.Zero
	}
	return percentOf(base, sel.Percentage)
}

func GrandTotal(subtotal, tax, serviceCharge, tip decimal.Decimal) decimal.Decimal {
	return subtotal.Add(tax).Add(serviceCharge).Add(tip)
}

// Calculate prices a cart under the default policy.
func Calculate(items []domain.LineItem, billing domain.BillingConfig, tip domain.TipSelection) Breakdown {
	return DefaultPolicy().Calculate(items, billing, tip)
}

func (p Policy) Calculate(items []domain.LineItem, billing domain.BillingConfig, tip domain.TipSelection) Breakdown {
	b := billing.Normalized()
	subtotal := Subtotal(items)
	tax := Tax(subtotal, b.TaxRate)
	service := ServiceCharge(subtotal, b.ServiceChargeRate)

	base := TipBase(subtotal, tax, service)
	if p.TipBasis == TipOnSubtotal {
		base = subtotal
	}
	tipAmount := Tip(base, tip)

	return Breakdown{
		Subtotal:      subtotal,
		Tax:           tax,
		ServiceCharge: service,
		TipBase:       base,
		Tip:           tipAmount,
		GrandTotal:    GrandTotal(subtotal, tax, service, tipAmount),
	}
}

// Rounded rounds every figure to cents, half away from zero. The grand
// total is rounded from the full-precision value, not summed from rounded
// parts.
func (b Breakdown) Rounded() Breakdown {
	return Breakdown{
		Subtotal:      b.Subtotal.Round(displayPlaces),
		Tax:           b.Tax.Round(displayPlaces),
		ServiceCharge: b.ServiceCharge.Round(displayPlaces),
		TipBase:       b.TipBase.Round(displayPlaces),
		Tip:           b.Tip.Round(displayPlaces),
		GrandTotal:    b.GrandTotal.Round(displayPlaces),
	}
}

// Format renders an amount with two decimal places.
func Format(d decimal.Decimal) string {
	return d.StringFixed(displayPlaces)
}

func percentOf(amount, rate decimal.Decimal) decimal.Decimal {
	return amount.Mul(rate).Div(hundred)
}
