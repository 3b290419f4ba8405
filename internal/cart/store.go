package cart

import (
	"sync"
	"time"

	"github.com/fjod/qr_order/internal/domain"
	"github.com/shopspring/decimal"
)

// MutationHook receives the cart state right after a mutation.
type MutationHook func(snapshot domain.Cart)

type Option func(*Store)

// WithItems seeds the store with previously persisted items. Seeding does not
// fire mutation hooks.
func WithItems(items []domain.LineItem) Option {
	return func(s *Store) {
		s.items = domain.NormalizeItems(items)
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// Store holds the line items of one table scope. Every mutating call fires
// each registered hook exactly once, in mutation order, while the store lock
// is held.
type Store struct {
	mu        sync.Mutex
	scope     domain.Scope
	items     []domain.LineItem
	createdAt time.Time
	updatedAt time.Time
	hooks     []MutationHook
	now       func() time.Time
}

func New(scope domain.Scope, opts ...Option) *Store {
	s := &Store{
		scope: scope,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.createdAt = s.now()
	s.updatedAt = s.createdAt
	return s
}

func (s *Store) OnMutate(hook MutationHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, hook)
}

func (s *Store) Scope() domain.Scope {
	return s.scope
}

// AddItem bumps the quantity of an existing line or appends a new one.
func (s *Store) AddItem(item domain.MenuItem) {
	s.AddQuantity(item, 1, "")
}

// AddQuantity adds n units of item as one mutation, creating the line when
// needed. Non-empty notes replace the line's notes. The line never exceeds
// domain.MaxQuantity.
func (s *Store) AddQuantity(item domain.MenuItem, n int, notes string) {
	if n < 1 {
		n = 1
	}
	s.mutate(func() {
		i := s.indexOf(item.ID)
		if i < 0 {
			s.items = append(s.items, domain.LineItem{
				ItemID:    item.ID,
				Name:      item.Name,
				UnitPrice: item.Price,
			})
			i = len(s.items) - 1
		}
		s.items[i].Quantity = min(s.items[i].Quantity+n, domain.MaxQuantity)
		if notes != "" {
			s.items[i].Notes = notes
		}
	})
}

func (s *Store) RemoveItem(itemID string) {
	s.mutate(func() {
		s.remove(itemID)
	})
}

// SetQuantity removes the line when quantity <= 0 and caps it at
// domain.MaxQuantity. Unknown ids are ignored.
func (s *Store) SetQuantity(itemID string, quantity int) {
	s.mutate(func() {
		if quantity <= 0 {
			s.remove(itemID)
			return
		}
		if i := s.indexOf(itemID); i >= 0 {
			s.items[i].Quantity = min(quantity, domain.MaxQuantity)
		}
	})
}

func (s *Store) SetNotes(itemID, notes string) {
	s.mutate(func() {
		if i := s.indexOf(itemID); i >= 0 {
			s.items[i].Notes = notes
		}
	})
}

// Deduct takes the given quantities off their lines and drops lines that
// reach zero. Anything not listed stays. It returns the number of lines left.
func (s *Store) Deduct(items []domain.LineItem) int {
	var left int
	s.mutate(func() {
		for _, item := range items {
			i := s.indexOf(item.ItemID)
			if i < 0 {
				continue
			}
			if s.items[i].Quantity <= item.Quantity {
				s.remove(item.ItemID)
				continue
			}
			s.items[i].Quantity -= item.Quantity
		}
		left = len(s.items)
	})
	return left
}

func (s *Store) Clear() {
	s.mutate(func() {
		s.items = nil
	})
}

// Total is the sum of unit price times quantity over all lines.
func (s *Store) Total() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := decimal.Zero
	for _, item := range s.items {
		total = total.Add(item.LineTotal())
	}
	return total
}

func (s *Store) ItemCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, item := range s.items {
		count += item.Quantity
	}
	return count
}

// Quantity returns the quantity of a line, 0 when the item is not in the cart.
func (s *Store) Quantity(itemID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexOf(itemID); i >= 0 {
		return s.items[i].Quantity
	}
	return 0
}

func (s *Store) IsEmpty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items) == 0
}

func (s *Store) Items() []domain.LineItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyItems()
}

func (s *Store) Snapshot() domain.Cart {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}

func (s *Store) mutate(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn()
	s.updatedAt = s.now()
	snap := s.snapshot()
	for _, hook := range s.hooks {
		hook(snap)
	}
}

func (s *Store) snapshot() domain.Cart {
	return domain.Cart{
		Scope:     s.scope,
		Items:     s.copyItems(),
		CreatedAt: s.createdAt,
		UpdatedAt: s.updatedAt,
	}
}

func (s *Store) copyItems() []domain.LineItem {
	if len(s.items) == 0 {
		return nil
	}
	out := make([]domain.LineItem, len(s.items))
	copy(out, s.items)
	return out
}

func (s *Store) indexOf(itemID string) int {
	for i := range s.items {
		if s.items[i].ItemID == itemID {
			return i
		}
	}
	return -1
}

func (s *Store) remove(itemID string) {
	if i := s.indexOf(itemID); i >= 0 {
		s.items = append(s.items[:i], s.items[i+1:]...)
	}
}
