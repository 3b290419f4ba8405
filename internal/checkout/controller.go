package checkout

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/fjod/qr_order/internal/cart"
	"github.com/fjod/qr_order/internal/domain"
	"github.com/fjod/qr_order/internal/events"
	"github.com/fjod/qr_order/internal/pricing"
	"github.com/fjod/qr_order/internal/session"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const DefaultTimeout = 20 * time.Second

// OrderCreator places an order with the restaurant backend.
type OrderCreator interface {
	CreateOrder(ctx context.Context, req domain.OrderRequest) (*domain.Order, error)
}

// Forgetter drops the persisted cart of a scope.
type Forgetter interface {
	Forget(ctx context.Context, scope domain.Scope)
}

type Receipt struct {
	Order          domain.Order
	Totals         pricing.Breakdown
	IdempotencyKey string
}

// State is a point-in-time view of the controller.
type State struct {
	Status  Status
	Err     error
	Receipt *Receipt
}

type Option func(*Controller)

func WithPersistence(f Forgetter) Option {
	return func(c *Controller) { c.persistence = f }
}

func WithBilling(b domain.BillingConfig) Option {
	return func(c *Controller) { c.billing = b.Normalized() }
}

func WithPolicy(p pricing.Policy) Option {
	return func(c *Controller) { c.policy = p }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithPublisher(p events.Publisher) Option {
	return func(c *Controller) { c.publisher = p }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

func WithIDGenerator(gen func() string) Option {
	return func(c *Controller) { c.newID = gen }
}

// Controller runs checkout for one table cart. At most one order call is in
// flight at a time.
//
// Lock order: the store lock may be held while c.mu is taken (mutation
// hooks), never the other way round.
type Controller struct {
	store       *cart.Store
	orders      OrderCreator
	sessions    session.Provider
	persistence Forgetter
	publisher   events.Publisher
	policy      pricing.Policy
	timeout     time.Duration
	logger      *zap.Logger
	newID       func() string

	mu      sync.Mutex
	billing domain.BillingConfig
	status  Status
	lastErr error
	receipt *Receipt
}

func NewController(store *cart.Store, orders OrderCreator, sessions session.Provider, opts ...Option) *Controller {
	c := &Controller{
		store:     store,
		orders:    orders,
		sessions:  sessions,
		publisher: events.Nop{},
		policy:    pricing.DefaultPolicy(),
		timeout:   DefaultTimeout,
		logger:    zap.NewNop(),
		newID:     uuid.NewString,
		status:    StatusIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.sessions == nil {
		c.sessions = session.ContextProvider{}
	}
	store.OnMutate(c.onCartChanged)
	return c
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{Status: c.status, Err: c.lastErr, Receipt: c.receipt}
}

func (c *Controller) SetBilling(b domain.BillingConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.billing = b.Normalized()
}

func (c *Controller) Billing() domain.BillingConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.billing
}

// Quote prices the current cart at full precision.
func (c *Controller) Quote(tip domain.TipSelection) pricing.Breakdown {
	return c.policy.Calculate(c.store.Items(), c.Billing(), tip)
}

// Submit validates the form, places the order and, on success, takes the
// ordered lines out of the cart. Lines added while the order call was running
// stay in the cart. Validation failures return a *ValidationError and leave
// everything untouched. A failed order call returns a *SubmissionError and
// keeps the cart. A call made while another submission is running returns
// ErrSubmitInFlight and does nothing else.
func (c *Controller) Submit(ctx context.Context, form Form) (*Receipt, error) {
	if c.Status() == StatusSubmitting {
		return nil, ErrSubmitInFlight
	}

	scope := c.store.Scope()
	if c.store.IsEmpty() {
		return nil, invalid("", ErrEmptyCart)
	}
	pm, err := resolvePaymentMethod(form.PaymentMethod)
	if err != nil {
		return nil, err
	}
	contact, err := resolveContact(form, c.sessions.Identity(ctx))
	if err != nil {
		return nil, err
	}

	prev, ok := c.begin()
	if !ok {
		return nil, ErrSubmitInFlight
	}
	// Edits are still accepted while Submitting, so the snapshot is taken
	// after the state flips.
	items := c.store.Items()
	if len(items) == 0 {
		c.restore(prev)
		return nil, invalid("", ErrEmptyCart)
	}

	totals := c.policy.Calculate(items, c.Billing(), form.Tip).Rounded()
	key := c.newID()
	req := buildOrderRequest(scope, items, totals, pm, form, contact, key)

	c.logger.Info("submitting order",
		zap.String("scope", scope.String()),
		zap.Int("items", len(items)),
		zap.String("total", pricing.Format(totals.GrandTotal)),
		zap.String("idempotency_key", key))

	order, err := c.createOrder(ctx, req)
	if err != nil {
		c.fail(scope, err)
		c.publish(ctx, failedEvent(scope, totals, len(items), err))
		return nil, &SubmissionError{Err: err}
	}

	// Deduct runs before the state flips so the mutation hook sees
	// Submitting and leaves it alone.
	if left := c.store.Deduct(items); left == 0 && c.persistence != nil {
		c.persistence.Forget(context.WithoutCancel(ctx), scope)
	}

	receipt := &Receipt{Order: *order, Totals: totals, IdempotencyKey: key}
	c.succeed(receipt)
	c.logger.Info("order placed",
		zap.String("scope", scope.String()),
		zap.String("order_id", order.ID),
		zap.String("order_number", order.OrderNumber))
	c.publish(ctx, placedEvent(scope, order, totals, len(items)))
	return receipt, nil
}

func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// createOrder runs the order call detached from the caller's cancellation
// and bounded by the submit timeout.
func (c *Controller) createOrder(ctx context.Context, req domain.OrderRequest) (*domain.Order, error) {
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()

	order, err := c.orders.CreateOrder(callCtx, req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return nil, ErrSubmitTimeout
		}
		return nil, err
	}
	if order == nil {
		return nil, errors.New("order API returned no order")
	}
	return order, nil
}

// begin moves to Submitting and returns the state it replaced.
func (c *Controller) begin() (State, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := State{Status: c.status, Err: c.lastErr, Receipt: c.receipt}
	if !c.status.CanTransitionTo(StatusSubmitting) {
		return prev, false
	}
	c.status = StatusSubmitting
	c.lastErr = nil
	c.receipt = nil
	return prev, true
}

// restore undoes begin for a submission that never reached the order call.
func (c *Controller) restore(prev State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = prev.Status
	c.lastErr = prev.Err
	c.receipt = prev.Receipt
}

func (c *Controller) succeed(r *Receipt) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = StatusSucceeded
	c.receipt = r
}

func (c *Controller) fail(scope domain.Scope, err error) {
	c.mu.Lock()
	c.status = StatusFailed
	c.lastErr = err
	c.mu.Unlock()

	c.logger.Warn("order submission failed",
		zap.String("scope", scope.String()),
		zap.Bool("timeout", errors.Is(err, ErrSubmitTimeout)),
		zap.Error(err))
}

// onCartChanged returns a finished submission to idle once the diner edits
// the cart again. Runs under the store lock.
func (c *Controller) onCartChanged(domain.Cart) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status.IsTerminal() {
		c.status = StatusIdle
		c.lastErr = nil
	}
}

func (c *Controller) publish(ctx context.Context, e events.Event) {
	if err := c.publisher.Publish(context.WithoutCancel(ctx), e); err != nil {
		c.logger.Warn("failed to publish checkout event",
			zap.String("event_type", string(e.Type)),
			zap.Error(err))
	}
}

func placedEvent(scope domain.Scope, order *domain.Order, totals pricing.Breakdown, count int) events.Event {
	e := events.NewEvent(events.OrderPlaced, scope.VendorID, scope.TableNumber)
	e.OrderID = order.ID
	e.OrderNumber = order.OrderNumber
	e.TotalAmount = totals.GrandTotal
	e.ItemCount = count
	return e
}

func failedEvent(scope domain.Scope, totals pricing.Breakdown, count int, err error) events.Event {
	e := events.NewEvent(events.OrderFailed, scope.VendorID, scope.TableNumber)
	e.TotalAmount = totals.GrandTotal
	e.ItemCount = count
	e.Error = err.Error()
	return e
}
