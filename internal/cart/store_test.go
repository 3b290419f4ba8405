package cart

import (
	"sync"
	"testing"
	"time"

	"github.com/fjod/qr_order/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testScope = domain.Scope{VendorID: "vendor-a", TableNumber: "7"}

func burger() domain.MenuItem {
	return domain.MenuItem{ID: "burger", Name: "Burger", Price: decimal.RequireFromString("12.50")}
}

func fries() domain.MenuItem {
	return domain.MenuItem{ID: "fries", Name: "Fries", Price: decimal.RequireFromString("4.25")}
}

func TestAddItem_SameItemIncrementsQuantity(t *testing.T) {
	s := New(testScope)

	for i := 0; i < 4; i++ {
		s.AddItem(burger())
	}

	items := s.Items()
	require.Len(t, items, 1)
	assert.Equal(t, 4, items[0].Quantity)
	assert.True(t, s.Total().Equal(decimal.RequireFromString("50.00")))
	assert.Equal(t, 4, s.ItemCount())
}

func TestAddItem_PreservesInsertionOrder(t *testing.T) {
	s := New(testScope)
	s.AddItem(fries())
	s.AddItem(burger())
	s.AddItem(fries())

	items := s.Items()
	require.Len(t, items, 2)
	assert.Equal(t, "fries", items[0].ItemID)
	assert.Equal(t, "burger", items[1].ItemID)
	assert.Equal(t, 3, s.ItemCount())
}

func TestSetQuantity_ZeroOrNegativeRemoves(t *testing.T) {
	s := New(testScope)
	s.AddItem(burger())
	s.AddItem(fries())

	s.SetQuantity("burger", 0)
	s.SetQuantity("fries", -2)

	assert.True(t, s.IsEmpty())
	assert.NotPanics(t, func() { s.RemoveItem("burger") })
	assert.True(t, s.IsEmpty())
}

func TestSetQuantity_UpdatesAndIgnoresUnknown(t *testing.T) {
	s := New(testScope)
	s.AddItem(burger())

	s.SetQuantity("burger", 3)
	s.SetQuantity("unknown", 5)

	items := s.Items()
	require.Len(t, items, 1)
	assert.Equal(t, 3, items[0].Quantity)
}

func TestSetNotes(t *testing.T) {
	s := New(testScope)
	s.AddItem(burger())
	s.SetNotes("burger", "no onions")

	assert.Equal(t, "no onions", s.Items()[0].Notes)
}

func TestClear(t *testing.T) {
	s := New(testScope)
	s.AddItem(burger())
	s.Clear()

	assert.True(t, s.IsEmpty())
	assert.True(t, s.Total().IsZero())
	assert.Equal(t, 0, s.ItemCount())
}

func TestOnMutate_FiresOncePerCall(t *testing.T) {
	s := New(testScope)
	var snaps []domain.Cart
	s.OnMutate(func(c domain.Cart) { snaps = append(snaps, c) })

	s.AddItem(burger())
	s.AddItem(burger())
	s.SetQuantity("burger", 5)
	s.RemoveItem("missing")
	s.SetNotes("burger", "extra cheese")
	s.Clear()

	require.Len(t, snaps, 6)
	assert.Equal(t, 1, snaps[0].Items[0].Quantity)
	assert.Equal(t, 2, snaps[1].Items[0].Quantity)
	assert.Equal(t, 5, snaps[2].Items[0].Quantity)
	assert.Equal(t, "extra cheese", snaps[4].Items[0].Notes)
	assert.True(t, snaps[5].IsEmpty())
	assert.Equal(t, testScope, snaps[5].Scope)
}

func TestAddQuantity_SingleMutation(t *testing.T) {
	s := New(testScope)
	var snaps []domain.Cart
	s.OnMutate(func(c domain.Cart) { snaps = append(snaps, c) })

	s.AddQuantity(burger(), 3, "no onions")
	s.AddQuantity(burger(), 2, "")

	require.Len(t, snaps, 2)
	assert.Equal(t, 3, snaps[0].Items[0].Quantity)
	assert.Equal(t, "no onions", snaps[0].Items[0].Notes)
	items := s.Items()
	require.Len(t, items, 1)
	assert.Equal(t, 5, items[0].Quantity)
	assert.Equal(t, "no onions", items[0].Notes)
}

func TestQuantityIsCapped(t *testing.T) {
	s := New(testScope)

	s.AddQuantity(burger(), 60, "")
	s.AddQuantity(burger(), 60, "")
	assert.Equal(t, domain.MaxQuantity, s.Quantity("burger"))

	s.AddItem(burger())
	assert.Equal(t, domain.MaxQuantity, s.Quantity("burger"))

	s.SetQuantity("burger", 500)
	assert.Equal(t, domain.MaxQuantity, s.Quantity("burger"))
}

func TestDeduct(t *testing.T) {
	s := New(testScope)
	s.AddQuantity(burger(), 3, "")
	s.AddQuantity(fries(), 1, "")
	var fired int
	s.OnMutate(func(domain.Cart) { fired++ })

	left := s.Deduct([]domain.LineItem{
		{ItemID: "burger", Quantity: 2},
		{ItemID: "fries", Quantity: 4},
		{ItemID: "ghost", Quantity: 1},
	})

	assert.Equal(t, 1, left)
	assert.Equal(t, 1, fired)
	items := s.Items()
	require.Len(t, items, 1)
	assert.Equal(t, "burger", items[0].ItemID)
	assert.Equal(t, 1, items[0].Quantity)

	assert.Equal(t, 0, s.Deduct(items))
	assert.True(t, s.IsEmpty())
}

func TestSnapshot_IsIsolatedFromStore(t *testing.T) {
	s := New(testScope)
	s.AddItem(burger())

	snap := s.Snapshot()
	snap.Items[0].Quantity = 99

	assert.Equal(t, 1, s.Items()[0].Quantity)
}

func TestWithItems_SeedsWithoutHooks(t *testing.T) {
	fired := 0
	s := New(testScope, WithItems([]domain.LineItem{
		{ItemID: "burger", Name: "Burger", UnitPrice: decimal.NewFromInt(10), Quantity: 2},
		{ItemID: "burger", Name: "Burger", UnitPrice: decimal.NewFromInt(10), Quantity: 1},
		{ItemID: "water", Quantity: 0},
	}))
	s.OnMutate(func(domain.Cart) { fired++ })

	assert.Equal(t, 3, s.ItemCount())
	assert.Equal(t, 0, fired)
}

func TestUpdatedAtAdvances(t *testing.T) {
	clock := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s := New(testScope, WithClock(func() time.Time { return clock }))
	created := s.Snapshot().CreatedAt

	clock = clock.Add(time.Minute)
	s.AddItem(burger())

	snap := s.Snapshot()
	assert.Equal(t, created, snap.CreatedAt)
	assert.Equal(t, clock, snap.UpdatedAt)
}

func TestConcurrentMutations(t *testing.T) {
	s := New(testScope)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.AddItem(burger())
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, s.ItemCount())
}
