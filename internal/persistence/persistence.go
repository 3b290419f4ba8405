package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/qr_order/internal/cart"
	"github.com/fjod/qr_order/internal/domain"
	"go.uber.org/zap"
)

// TTL is how long a saved cart stays restorable.
const TTL = 24 * time.Hour

var ErrNotFound = errors.New("cart record not found")

// Backend is the key-value store a cart record lives in.
// Get returns ErrNotFound when the key is absent.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Pinger is implemented by backends that can report their health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Record is the stored shape of a cart. Timestamp is Unix milliseconds.
type Record struct {
	VendorID    string            `json:"vendorId"`
	TableNumber string            `json:"tableNumber"`
	Items       []domain.LineItem `json:"items"`
	Timestamp   int64             `json:"timestamp"`
}

type Option func(*CartPersistence)

func WithClock(now func() time.Time) Option {
	return func(p *CartPersistence) { p.now = now }
}

func WithTTL(ttl time.Duration) Option {
	return func(p *CartPersistence) { p.ttl = ttl }
}

func WithOpTimeout(d time.Duration) Option {
	return func(p *CartPersistence) { p.opTimeout = d }
}

// CartPersistence mirrors carts into a Backend. It never returns storage
// errors: failures are logged and reads degrade to "no cart".
type CartPersistence struct {
	backend   Backend
	logger    *zap.Logger
	now       func() time.Time
	ttl       time.Duration
	opTimeout time.Duration
}

func New(backend Backend, logger *zap.Logger, opts ...Option) *CartPersistence {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &CartPersistence{
		backend:   backend,
		logger:    logger,
		now:       time.Now,
		ttl:       TTL,
		opTimeout: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Save writes the cart, or deletes the scope's record when the cart is empty.
func (p *CartPersistence) Save(ctx context.Context, c domain.Cart) {
	if !c.Scope.Valid() {
		return
	}
	if c.IsEmpty() {
		p.Forget(ctx, c.Scope)
		return
	}

	data, err := json.Marshal(Record{
		VendorID:    c.Scope.VendorID,
		TableNumber: c.Scope.TableNumber,
		Items:       c.Items,
		Timestamp:   p.now().UnixMilli(),
	})
	if err != nil {
		p.logger.Error("marshal cart record failed", zap.String("scope", c.Scope.String()), zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, p.opTimeout)
	defer cancel()
	if err := p.backend.Set(ctx, c.Scope.Key(), data, p.ttl); err != nil {
		p.logger.Warn("save cart record failed", zap.String("scope", c.Scope.String()), zap.Error(err))
	}
}

// Restore returns the saved items for the scope. The bool is false when there
// is nothing usable: no record, a corrupt record, a record for another scope,
// an expired record, or an empty item list.
func (p *CartPersistence) Restore(ctx context.Context, scope domain.Scope) ([]domain.LineItem, bool) {
	items, ok, err := p.Fetch(ctx, scope)
	if err != nil {
		p.logger.Warn("read cart record failed", zap.String("scope", scope.String()), zap.Error(err))
		return nil, false
	}
	return items, ok
}

// Fetch is Restore without the fail-soft read: a backend read error is
// returned so the caller can tell "no cart" from "could not look".
// Unusable records still come back as false with a nil error.
func (p *CartPersistence) Fetch(ctx context.Context, scope domain.Scope) ([]domain.LineItem, bool, error) {
	if !scope.Valid() {
		return nil, false, nil
	}
	opCtx, cancel := context.WithTimeout(ctx, p.opTimeout)
	defer cancel()

	data, err := p.backend.Get(opCtx, scope.Key())
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read cart record: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		p.logger.Warn("discarding corrupt cart record", zap.String("scope", scope.String()), zap.Error(err))
		p.Forget(ctx, scope)
		return nil, false, nil
	}

	if rec.VendorID != scope.VendorID || rec.TableNumber != scope.TableNumber {
		return nil, false, nil
	}

	if p.expired(rec) {
		p.logger.Debug("discarding expired cart record", zap.String("scope", scope.String()))
		p.Forget(ctx, scope)
		return nil, false, nil
	}

	items := domain.NormalizeItems(rec.Items)
	if len(items) == 0 {
		return nil, false, nil
	}
	return items, true, nil
}

func (p *CartPersistence) Forget(ctx context.Context, scope domain.Scope) {
	ctx, cancel := context.WithTimeout(ctx, p.opTimeout)
	defer cancel()
	if err := p.backend.Delete(ctx, scope.Key()); err != nil && !errors.Is(err, ErrNotFound) {
		p.logger.Warn("delete cart record failed", zap.String("scope", scope.String()), zap.Error(err))
	}
}

// Bind mirrors every mutation of the store into the backend.
func (p *CartPersistence) Bind(store *cart.Store) {
	store.OnMutate(func(snapshot domain.Cart) {
		p.Save(context.Background(), snapshot)
	})
}

// Ping reports backend health when the backend supports it.
func (p *CartPersistence) Ping(ctx context.Context) error {
	pinger, ok := p.backend.(Pinger)
	if !ok {
		return nil
	}
	if err := pinger.Ping(ctx); err != nil {
		return fmt.Errorf("cart backend ping: %w", err)
	}
	return nil
}

func (p *CartPersistence) expired(rec Record) bool {
	saved := time.UnixMilli(rec.Timestamp)
	return p.now().Sub(saved) > p.ttl
}
