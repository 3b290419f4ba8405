package domain

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// BillingConfig holds a vendor's percentage rates. A missing config means
// zero tax and zero service charge.
type BillingConfig struct {
	TaxRate           decimal.Decimal `json:"taxRate"`
	ServiceChargeRate decimal.Decimal `json:"serviceChargeRate"`
}

// Normalized clamps both rates into [0, 100].
func (b BillingConfig) Normalized() BillingConfig {
	return BillingConfig{
		TaxRate:           clampPercent(b.TaxRate),
		ServiceChargeRate: clampPercent(b.ServiceChargeRate),
	}
}

func clampPercent(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	if d.GreaterThan(hundred) {
		return hundred
	}
	return d
}

// TipPresets are the percentage buttons offered at checkout.
var TipPresets = []int64{0, 10, 15, 20}

// TipSelection carries either a percentage or a custom amount. Only one is
// authoritative: a non-nil CustomAmount overrides Percentage.
type TipSelection struct {
	Percentage   decimal.Decimal  `json:"percentage"`
	CustomAmount *decimal.Decimal `json:"customAmount,omitempty"`
}

func TipPercent(p int64) TipSelection {
	return TipSelection{}.WithPercentage(decimal.NewFromInt(p))
}

func (t TipSelection) WithPercentage(p decimal.Decimal) TipSelection {
	return TipSelection{Percentage: p}
}

func (t TipSelection) WithCustomAmount(amount decimal.Decimal) TipSelection {
	a := amount
	return TipSelection{Percentage: decimal.Zero, CustomAmount: &a}
}

func (t TipSelection) IsCustom() bool {
	return t.CustomAmount != nil
}

type PaymentMethod string

const (
	PaymentCash PaymentMethod = "cash"
	PaymentCard PaymentMethod = "card"
)

var ErrUnknownPaymentMethod = errors.New("payment method must be cash or card")

func ParsePaymentMethod(s string) (PaymentMethod, error) {
	switch PaymentMethod(strings.ToLower(strings.TrimSpace(s))) {
	case PaymentCash:
		return PaymentCash, nil
	case PaymentCard:
		return PaymentCard, nil
	default:
		return "", ErrUnknownPaymentMethod
	}
}

func (p PaymentMethod) Valid() bool {
	return p == PaymentCash || p == PaymentCard
}

func (p PaymentMethod) String() string {
	return string(p)
}
