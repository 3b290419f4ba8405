package events

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Type string

const (
	OrderPlaced Type = "order.placed"
	OrderFailed Type = "order.failed"
)

var ErrQueueFull = errors.New("event queue is full")

// Event describes the outcome of one checkout submission.
type Event struct {
	ID          string          `json:"id"`
	Type        Type            `json:"type"`
	VendorID    string          `json:"vendorId"`
	TableNumber string          `json:"tableNumber"`
	OrderID     string          `json:"orderId,omitempty"`
	OrderNumber string          `json:"orderNumber,omitempty"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
	ItemCount   int             `json:"itemCount"`
	Error       string          `json:"error,omitempty"`
	OccurredAt  time.Time       `json:"occurredAt"`
}

// NewEvent stamps an id and time on an event of the given type.
func NewEvent(t Type, vendorID, tableNumber string) Event {
	return Event{
		ID:          uuid.NewString(),
		Type:        t,
		VendorID:    vendorID,
		TableNumber: tableNumber,
		OccurredAt:  time.Now().UTC(),
	}
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher queues events in memory and flushes them to Kafka from Run.
// Publish never blocks the checkout path on the broker.
type KafkaPublisher struct {
	writer    messageWriter
	queue     chan kafka.Message
	flushTick time.Duration
	batchSize int
	timeout   time.Duration
	logger    *zap.Logger
}

type KafkaOption func(*KafkaPublisher)

func WithQueueSize(n int) KafkaOption {
	return func(p *KafkaPublisher) { p.queue = make(chan kafka.Message, n) }
}

func WithFlushInterval(d time.Duration) KafkaOption {
	return func(p *KafkaPublisher) { p.flushTick = d }
}

func WithLogger(l *zap.Logger) KafkaOption {
	return func(p *KafkaPublisher) { p.logger = l }
}

func NewKafkaPublisher(topic string, brokers []string, opts ...KafkaOption) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           50 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
	return newKafkaPublisher(w, opts...)
}

func newKafkaPublisher(w messageWriter, opts ...KafkaOption) *KafkaPublisher {
	p := &KafkaPublisher{
		writer:    w,
		queue:     make(chan kafka.Message, 256),
		flushTick: 500 * time.Millisecond,
		batchSize: 50,
		timeout:   5 * time.Second,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish enqueues the event keyed by its table scope so that events of one
// table keep their order within a partition.
func (p *KafkaPublisher) Publish(_ context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Key:   []byte(e.VendorID + "/" + e.TableNumber),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(e.Type)},
			{Key: "event_id", Value: []byte(e.ID)},
		},
	}
	select {
	case p.queue <- msg:
		return nil
	default:
		p.logger.Warn("dropping event, queue full",
			zap.String("event_id", e.ID),
			zap.String("event_type", string(e.Type)))
		return ErrQueueFull
	}
}

// Run flushes queued events until ctx is cancelled, then drains what is left.
func (p *KafkaPublisher) Run(ctx context.Context) {
	ticker := time.NewTicker(p.flushTick)
	defer ticker.Stop()

	batch := make([]kafka.Message, 0, p.batchSize)
	for {
		select {
		case msg := <-p.queue:
			batch = append(batch, msg)
			if len(batch) >= p.batchSize {
				batch = p.flush(context.Background(), batch)
			}
		case <-ticker.C:
			batch = p.flush(context.Background(), batch)
		case <-ctx.Done():
			for {
				select {
				case msg := <-p.queue:
					batch = append(batch, msg)
				default:
					p.flush(context.Background(), batch)
					return
				}
			}
		}
	}
}

func (p *KafkaPublisher) flush(ctx context.Context, batch []kafka.Message) []kafka.Message {
	if len(batch) == 0 {
		return batch
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if err := p.writer.WriteMessages(ctx, batch...); err != nil {
		p.logger.Error("failed to publish events", zap.Int("count", len(batch)), zap.Error(err))
	} else {
		p.logger.Debug("published events", zap.Int("count", len(batch)))
	}
	return batch[:0]
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
