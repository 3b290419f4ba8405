package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var ErrInvalidScope = errors.New("vendor id and table number are required")

// Scope identifies a single dining session: one vendor, one table.
type Scope struct {
	VendorID    string `json:"vendorId"`
	TableNumber string `json:"tableNumber"`
}

func NewScope(vendorID, tableNumber string) (Scope, error) {
	s := Scope{
		VendorID:    strings.TrimSpace(vendorID),
		TableNumber: strings.TrimSpace(tableNumber),
	}
	if !s.Valid() {
		return Scope{}, ErrInvalidScope
	}
	return s, nil
}

func (s Scope) Valid() bool {
	return s.VendorID != "" && s.TableNumber != ""
}

// Key is the persistence key for the scope's cart record.
func (s Scope) Key() string {
	return fmt.Sprintf("cart:%s:%s", s.VendorID, s.TableNumber)
}

func (s Scope) String() string {
	return s.VendorID + "/" + s.TableNumber
}

// MenuItem is what the customer picks from the menu.
type MenuItem struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
}

// MaxQuantity caps the quantity of a single line.
const MaxQuantity = 99

type LineItem struct {
	ItemID    string          `json:"itemId"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	Quantity  int             `json:"quantity"`
	Notes     string          `json:"notes,omitempty"`
}

// LineTotal is unit price times quantity.
func (l LineItem) LineTotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

type Cart struct {
	Scope     Scope      `json:"scope"`
	Items     []LineItem `json:"items"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

func (c Cart) IsEmpty() bool {
	return len(c.Items) == 0
}

// NormalizeItems drops lines with a quantity below one and merges lines that
// share an item id, keeping the position of the first occurrence.
func NormalizeItems(items []LineItem) []LineItem {
	out := make([]LineItem, 0, len(items))
	index := make(map[string]int, len(items))
	for _, item := range items {
		if item.Quantity < 1 || item.ItemID == "" {
			continue
		}
		if i, ok := index[item.ItemID]; ok {
			out[i].Quantity += item.Quantity
			continue
		}
		index[item.ItemID] = len(out)
		out = append(out, item)
	}
	return out
}
