package kafka

import (
	"context"

	"github.com/BearBump/TradeBox/internal/broker/messages"
	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type Producer struct {
	w messageWriter
}

func NewProducer(brokers []string) *Producer {
	return &Producer{
		w: &kafka.Writer{
			Addr: kafka.TCP(brokers...),
			// события одного заказа должны идти в одну партицию
			Balancer:               &kafka.Hash{},
			AllowAutoTopicCreation: true,
		},
	}
}

func newProducerWithWriter(w messageWriter) *Producer {
	return &Producer{w: w}
}

func (p *Producer) Publish(ctx context.Context, topic string, key, value []byte) error {
	if err := p.w.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   key,
		Value: value,
	}); err != nil {
		return errors.Wrap(err, "kafka publish")
	}
	return nil
}

func (p *Producer) Close() error {
	if c, ok := p.w.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

// OrderEvents publishes order events keyed by order id.
type OrderEvents struct {
	p     *Producer
	topic string
}

func NewOrderEvents(p *Producer, topic string) *OrderEvents {
	return &OrderEvents{p: p, topic: topic}
}

func (e *OrderEvents) PublishOrderEvent(ctx context.Context, ev messages.OrderEvent) error {
	b, err := ev.Encode()
	if err != nil {
		return err
	}
	return e.p.Publish(ctx, e.topic, []byte(ev.OrderID), b)
}
