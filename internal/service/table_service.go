package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fjod/qr_order/internal/backend"
	"github.com/fjod/qr_order/internal/cart"
	"github.com/fjod/qr_order/internal/checkout"
	"github.com/fjod/qr_order/internal/domain"
	"github.com/fjod/qr_order/internal/events"
	"github.com/fjod/qr_order/internal/persistence"
	"github.com/fjod/qr_order/internal/pricing"
	"github.com/fjod/qr_order/internal/session"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var (
	ErrVendorNotFound     = errors.New("vendor not found")
	ErrTableNotFound      = errors.New("table not found")
	ErrInvalidItem        = errors.New("item id is required and price must not be negative")
	ErrBillingUnavailable = errors.New("vendor billing settings are unavailable")
	ErrCartUnavailable    = errors.New("cart storage is unavailable")
)

// Directory looks up vendor and table profiles.
type Directory interface {
	GetVendorByID(ctx context.Context, vendorID string) (*domain.Vendor, error)
	GetTableByNumber(ctx context.Context, vendorID, tableNumber string) (*domain.Table, error)
}

type Config struct {
	IdleTTL         time.Duration
	CleanupInterval time.Duration
	SubmitTimeout   time.Duration
	// LookupTimeout bounds work shared by concurrent callers: session
	// restore and vendor lookups.
	LookupTimeout time.Duration
	Policy        pricing.Policy
}

func DefaultConfig() Config {
	return Config{
		IdleTTL:         2 * time.Hour,
		CleanupInterval: time.Minute,
		SubmitTimeout:   checkout.DefaultTimeout,
		LookupTimeout:   10 * time.Second,
		Policy:          pricing.DefaultPolicy(),
	}
}

type Option func(*TableService)

func WithConfig(cfg Config) Option {
	return func(s *TableService) { s.cfg = cfg }
}

func WithPublisher(p events.Publisher) Option {
	return func(s *TableService) { s.publisher = p }
}

func WithIdentities(p session.Provider) Option {
	return func(s *TableService) { s.identities = p }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *TableService) { s.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *TableService) { s.now = now }
}

type tableSession struct {
	store         *cart.Store
	ctrl          *checkout.Controller
	billingLoaded bool
	lastSeen      time.Time
}

// TableService hosts one cart and one checkout controller per table scope.
// Sessions are created on first use, seeded from the persisted cart, and
// evicted from memory after IdleTTL without touching the persisted record.
type TableService struct {
	persistence *persistence.CartPersistence
	orders      checkout.OrderCreator
	directory   Directory
	identities  session.Provider
	publisher   events.Publisher
	logger      *zap.Logger
	cfg         Config
	now         func() time.Time

	mu       sync.Mutex
	sessions map[string]*tableSession
	sfg      singleflight.Group

	stopCleanup chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
}

func NewTableService(p *persistence.CartPersistence, orders checkout.OrderCreator, directory Directory, opts ...Option) *TableService {
	s := &TableService{
		persistence: p,
		orders:      orders,
		directory:   directory,
		identities:  session.ContextProvider{},
		publisher:   events.Nop{},
		logger:      zap.NewNop(),
		cfg:         DefaultConfig(),
		now:         time.Now,
		sessions:    make(map[string]*tableSession),
		stopCleanup: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cfg.CleanupInterval > 0 && s.cfg.IdleTTL > 0 {
		s.wg.Add(1)
		go s.cleanupLoop()
	}
	return s
}

// CartView is a cart plus its totals without tip and the checkout state.
type CartView struct {
	Cart     domain.Cart
	Totals   pricing.Breakdown
	Billing  domain.BillingConfig
	Checkout checkout.State
}

type TableInfo struct {
	Scope      domain.Scope
	VendorName string
	Location   string
	Billing    domain.BillingConfig
}

func (s *TableService) GetCart(ctx context.Context, scope domain.Scope) (*CartView, error) {
	ts, err := s.open(ctx, scope)
	if err != nil {
		return nil, err
	}
	return s.view(ts), nil
}

// AddItem adds quantity units of item, creating the line when needed. The
// line is capped at domain.MaxQuantity.
func (s *TableService) AddItem(ctx context.Context, scope domain.Scope, item domain.MenuItem, quantity int, notes string) (*CartView, error) {
	item.ID = strings.TrimSpace(item.ID)
	if item.ID == "" || item.Price.IsNegative() {
		return nil, ErrInvalidItem
	}
	ts, err := s.open(ctx, scope)
	if err != nil {
		return nil, err
	}
	ts.store.AddQuantity(item, quantity, strings.TrimSpace(notes))
	return s.view(ts), nil
}

func (s *TableService) RemoveItem(ctx context.Context, scope domain.Scope, itemID string) (*CartView, error) {
	ts, err := s.open(ctx, scope)
	if err != nil {
		return nil, err
	}
	ts.store.RemoveItem(itemID)
	return s.view(ts), nil
}

func (s *TableService) SetQuantity(ctx context.Context, scope domain.Scope, itemID string, quantity int) (*CartView, error) {
	ts, err := s.open(ctx, scope)
	if err != nil {
		return nil, err
	}
	ts.store.SetQuantity(itemID, quantity)
	return s.view(ts), nil
}

func (s *TableService) SetNotes(ctx context.Context, scope domain.Scope, itemID, notes string) (*CartView, error) {
	ts, err := s.open(ctx, scope)
	if err != nil {
		return nil, err
	}
	ts.store.SetNotes(itemID, strings.TrimSpace(notes))
	return s.view(ts), nil
}

func (s *TableService) Clear(ctx context.Context, scope domain.Scope) (*CartView, error) {
	ts, err := s.open(ctx, scope)
	if err != nil {
		return nil, err
	}
	ts.store.Clear()
	return s.view(ts), nil
}

// Quote prices the cart with the given tip at full precision.
func (s *TableService) Quote(ctx context.Context, scope domain.Scope, tip domain.TipSelection) (pricing.Breakdown, error) {
	ts, err := s.open(ctx, scope)
	if err != nil {
		return pricing.Breakdown{}, err
	}
	if err := s.ensureBilling(ctx, scope, ts); err != nil {
		return pricing.Breakdown{}, err
	}
	return ts.ctrl.Quote(tip), nil
}

// Checkout refuses to submit while billing is unknown so the diner is never
// charged a total computed without tax and service charge.
func (s *TableService) Checkout(ctx context.Context, scope domain.Scope, form checkout.Form) (*checkout.Receipt, error) {
	ts, err := s.open(ctx, scope)
	if err != nil {
		return nil, err
	}
	if err := s.ensureBilling(ctx, scope, ts); err != nil {
		return nil, err
	}
	return ts.ctrl.Submit(ctx, form)
}

func (s *TableService) CheckoutStatus(ctx context.Context, scope domain.Scope) (checkout.State, error) {
	ts, err := s.open(ctx, scope)
	if err != nil {
		return checkout.State{}, err
	}
	return ts.ctrl.State(), nil
}

// TableInfo returns the vendor name and table location for display. The
// location is best effort; an unknown table is reported as not found.
func (s *TableService) TableInfo(ctx context.Context, scope domain.Scope) (*TableInfo, error) {
	if !scope.Valid() {
		return nil, domain.ErrInvalidScope
	}
	vendor, err := s.vendor(ctx, scope.VendorID)
	if err != nil {
		return nil, err
	}

	info := &TableInfo{Scope: scope, VendorName: vendor.Name, Billing: vendor.Billing()}
	table, err := s.directory.GetTableByNumber(ctx, scope.VendorID, scope.TableNumber)
	switch {
	case errors.Is(err, backend.ErrNotFound):
		return nil, ErrTableNotFound
	case err != nil:
		s.logger.Warn("table lookup failed", zap.String("scope", scope.String()), zap.Error(err))
	default:
		info.Location = table.Location
	}
	return info, nil
}

// Sessions reports how many table sessions are held in memory.
func (s *TableService) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *TableService) Close() error {
	s.stopOnce.Do(func() { close(s.stopCleanup) })
	s.wg.Wait()
	return nil
}

// open returns the live session for the scope, restoring it on first use.
// Concurrent first opens of one scope share a single restore, which does not
// see any caller's cancellation.
func (s *TableService) open(ctx context.Context, scope domain.Scope) (*tableSession, error) {
	if !scope.Valid() {
		return nil, domain.ErrInvalidScope
	}
	key := scope.Key()

	if ts := s.lookup(key); ts != nil {
		return ts, nil
	}

	v, err, _ := s.sfg.Do("open:"+key, func() (interface{}, error) {
		if ts := s.lookup(key); ts != nil {
			return ts, nil
		}
		openCtx, cancel := s.detach(ctx)
		defer cancel()
		ts, err := s.newSession(openCtx, scope)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.sessions[key] = ts
		s.mu.Unlock()
		return ts, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*tableSession), nil
}

func (s *TableService) lookup(key string) *tableSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts, ok := s.sessions[key]
	if !ok {
		return nil
	}
	ts.lastSeen = s.now()
	return ts
}

func (s *TableService) newSession(ctx context.Context, scope domain.Scope) (*tableSession, error) {
	ts := &tableSession{lastSeen: s.now()}

	billing, err := s.loadBilling(ctx, scope.VendorID)
	switch {
	case errors.Is(err, ErrVendorNotFound):
		return nil, err
	case err != nil:
		s.logger.Warn("vendor billing lookup failed, will retry",
			zap.String("vendor_id", scope.VendorID), zap.Error(err))
	default:
		ts.billingLoaded = true
	}

	var opts []cart.Option
	if s.persistence != nil {
		items, ok, err := s.persistence.Fetch(ctx, scope)
		switch {
		case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
			// The stored cart may still exist; no session is cached.
			return nil, fmt.Errorf("%w: %w", ErrCartUnavailable, err)
		case err != nil:
			s.logger.Warn("cart restore failed, starting empty",
				zap.String("scope", scope.String()), zap.Error(err))
		case ok:
			opts = append(opts, cart.WithItems(items))
			s.logger.Info("restored cart", zap.String("scope", scope.String()), zap.Int("lines", len(items)))
		}
	}
	ts.store = cart.New(scope, opts...)

	ctrlOpts := []checkout.Option{
		checkout.WithBilling(billing),
		checkout.WithPolicy(s.cfg.Policy),
		checkout.WithTimeout(s.cfg.SubmitTimeout),
		checkout.WithPublisher(s.publisher),
		checkout.WithLogger(s.logger.With(zap.String("scope", scope.String()))),
	}
	if s.persistence != nil {
		s.persistence.Bind(ts.store)
		ctrlOpts = append(ctrlOpts, checkout.WithPersistence(s.persistence))
	}
	ts.ctrl = checkout.NewController(ts.store, s.orders, s.identities, ctrlOpts...)
	return ts, nil
}

func (s *TableService) ensureBilling(ctx context.Context, scope domain.Scope, ts *tableSession) error {
	s.mu.Lock()
	loaded := ts.billingLoaded
	s.mu.Unlock()
	if loaded {
		return nil
	}

	billing, err := s.loadBilling(ctx, scope.VendorID)
	if err != nil {
		if errors.Is(err, ErrVendorNotFound) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrBillingUnavailable, err)
	}
	ts.ctrl.SetBilling(billing)

	s.mu.Lock()
	ts.billingLoaded = true
	s.mu.Unlock()
	return nil
}

func (s *TableService) loadBilling(ctx context.Context, vendorID string) (domain.BillingConfig, error) {
	vendor, err := s.vendor(ctx, vendorID)
	if err != nil {
		return domain.BillingConfig{}, err
	}
	return vendor.Billing(), nil
}

// vendor collapses concurrent lookups of the same vendor into one call.
func (s *TableService) vendor(ctx context.Context, vendorID string) (*domain.Vendor, error) {
	v, err, _ := s.sfg.Do("vendor:"+vendorID, func() (interface{}, error) {
		lookupCtx, cancel := s.detach(ctx)
		defer cancel()
		vendor, err := s.directory.GetVendorByID(lookupCtx, vendorID)
		if errors.Is(err, backend.ErrNotFound) {
			return nil, ErrVendorNotFound
		}
		if err != nil {
			return nil, err
		}
		return vendor, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Vendor), nil
}

// detach gives work shared through singleflight its own deadline, free of the
// caller's cancellation.
func (s *TableService) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx = context.WithoutCancel(ctx)
	if s.cfg.LookupTimeout > 0 {
		return context.WithTimeout(ctx, s.cfg.LookupTimeout)
	}
	return context.WithCancel(ctx)
}

func (s *TableService) view(ts *tableSession) *CartView {
	billing := ts.ctrl.Billing()
	c := ts.store.Snapshot()
	return &CartView{
		Cart:     c,
		Totals:   s.cfg.Policy.Calculate(c.Items, billing, domain.TipSelection{}),
		Billing:  billing,
		Checkout: ts.ctrl.State(),
	}
}

func (s *TableService) cleanupLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.evictIdle()
		case <-s.stopCleanup:
			return
		}
	}
}

// evictIdle drops sessions unused for IdleTTL. Sessions with an order in
// flight are kept.
func (s *TableService) evictIdle() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-s.cfg.IdleTTL)
	evicted := 0
	for key, ts := range s.sessions {
		if ts.lastSeen.After(cutoff) || ts.ctrl.Status() == checkout.StatusSubmitting {
			continue
		}
		delete(s.sessions, key)
		evicted++
	}
	if evicted > 0 {
		s.logger.Info("evicted idle table sessions", zap.Int("count", evicted))
	}
	return evicted
}
