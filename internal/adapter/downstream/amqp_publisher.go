package downstream

import (
	"context"
	"encoding/json"
	"fmt"

	"payment-collection-broker/internal/core/domain"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Channel is the subset of *amqp.Channel the publisher needs.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPPublisher publishes status changes to a topic exchange.
type AMQPPublisher struct {
	channel    Channel
	exchange   string
	routingKey string
}

func NewAMQPPublisher(ch Channel, exchange, routingKey string) *AMQPPublisher {
	return &AMQPPublisher{channel: ch, exchange: exchange, routingKey: routingKey}
}

func (p *AMQPPublisher) Name() string { return "amqp" }

func (p *AMQPPublisher) Notify(ctx context.Context, event domain.StatusChangeEvent) error {
	body, err := json.Marshal(Payload{EventType: domain.EventTypeStatusChanged, Data: event})
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	err = p.channel.PublishWithContext(ctx,
		p.exchange,
		p.routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:   "application/json",
			Body:          body,
			DeliveryMode:  amqp.Persistent,
			MessageId:     event.CorrelationID + ":" + string(event.Status),
			CorrelationId: event.CorrelationID,
			Timestamp:     event.Timestamp,
			Type:          domain.EventTypeStatusChanged,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

// DialChannel opens a connection and channel and declares the durable topic
// exchange. The returned close func releases both.
func DialChannel(url, exchange, connectionName string) (*amqp.Channel, func(), error) {
	conn, err := amqp.DialConfig(url, amqp.Config{
		Properties: amqp.Table{"connection_name": connectionName},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("amqp dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("amqp channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, nil, fmt.Errorf("amqp exchange declare: %w", err)
	}

	return ch, func() {
		ch.Close()
		conn.Close()
	}, nil
}
