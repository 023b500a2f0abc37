package monitor

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPEventBus publishes transition events to a fanout exchange.
// Publishes are fire-and-forget; transition events have no caller awaiting
// a reply.
type AMQPEventBus struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
}

// NewAMQPEventBus dials url, opens a channel, and declares exchange as a
// fanout exchange for transition events.
func NewAMQPEventBus(url, exchange string) (*AMQPEventBus, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := ch.ExchangeDeclare(exchange, "fanout", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	return &AMQPEventBus{conn: conn, ch: ch, exchange: exchange}, nil
}

type eventMessage struct {
	Event     Event  `json:"event"`
	Timestamp int64  `json:"timestamp"`
}

// Publish implements EventBus.
func (b *AMQPEventBus) Publish(ctx context.Context, evt Event) error {
	body, err := json.Marshal(eventMessage{Event: evt, Timestamp: time.Now().Unix()})
	if err != nil {
		return err
	}
	return b.ch.PublishWithContext(ctx, b.exchange, "", false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
}

// Close releases the channel and connection.
func (b *AMQPEventBus) Close() error {
	b.ch.Close()
	return b.conn.Close()
}
