// Package events publishes domain events to RabbitMQ.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/xenking/kart-assistant/internal/domain/commerce"
	"github.com/xenking/kart-assistant/internal/domain/order"
)

const (
	Exchange           = "orders"
	RoutingOrderPlaced = "order.placed"

	publishTimeout = 3 * time.Second
)

// Channel is the subset of *amqp.Channel the publisher needs.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

var _ Channel = (*amqp.Channel)(nil)

// Publisher sends order events to a topic exchange.
type Publisher struct {
	mu sync.Mutex
	ch Channel
}

var _ commerce.Publisher = (*Publisher)(nil)

// NewPublisher declares the exchange on ch.
func NewPublisher(ch Channel) (*Publisher, error) {
	if err := ch.ExchangeDeclare(Exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return nil, errors.Wrapf(err, "declare exchange %s", Exchange)
	}
	return &Publisher{ch: ch}, nil
}

// Dial connects to the broker at url and opens a Publisher on a new
// channel. Closing the returned connection closes the publisher too.
func Dial(url string) (*Publisher, *amqp.Connection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, errors.Wrap(err, "dial")
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, errors.Wrap(err, "open channel")
	}
	p, err := NewPublisher(ch)
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	return p, conn, nil
}

// Close closes the channel.
func (p *Publisher) Close() error {
	return p.ch.Close()
}

// OrderPlaced implements commerce.Publisher.
func (p *Publisher) OrderPlaced(ctx context.Context, o *order.Order) error {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ch.PublishWithContext(ctx, Exchange, RoutingOrderPlaced, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		Type:         RoutingOrderPlaced,
		Body:         EncodeOrderPlaced(o),
	}); err != nil {
		return errors.Wrapf(err, "publish order %d", o.ID)
	}
	return nil
}

// EncodeOrderPlaced renders the order.placed message body.
func EncodeOrderPlaced(o *order.Order) []byte {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("order_id")
	e.Int64(o.ID)
	e.FieldStart("user_id")
	e.Int64(o.UserID)
	e.FieldStart("total")
	e.Str(o.Total.StringFixed(2))
	e.FieldStart("items")
	e.ArrStart()
	for _, it := range o.Items {
		e.ObjStart()
		e.FieldStart("product_id")
		e.Int64(it.ProductID)
		e.FieldStart("quantity")
		e.Int(it.Quantity)
		e.FieldStart("price")
		e.Str(it.Price.StringFixed(2))
		e.ObjEnd()
	}
	e.ArrEnd()
	e.FieldStart("placed_at")
	e.Str(o.CreatedAt.UTC().Format(time.RFC3339))
	e.ObjEnd()
	return e.Bytes()
}
