package mqs

import (
	"context"
	"errors"

	"github.com/rabbitmq/amqp091-go"
	"gocloud.dev/pubsub"
	"gocloud.dev/pubsub/rabbitpubsub"
)

type RabbitMQConfig struct {
	ServerURL string
	Exchange  string
	Queue     string
}

func (c *RabbitMQConfig) Validate() error {
	if c.ServerURL == "" {
		return errors.New("rabbitmq server URL is not set")
	}
	if c.Exchange == "" {
		return errors.New("rabbitmq exchange is not set")
	}
	if c.Queue == "" {
		return errors.New("rabbitmq queue is not set")
	}
	return nil
}

type RabbitMQQueue struct {
	conn   *amqp091.Connection
	config *RabbitMQConfig
	topic  *pubsub.Topic
}

var _ Queue = (*RabbitMQQueue)(nil)

func (q *RabbitMQQueue) Init(ctx context.Context) (func(), error) {
	if err := q.config.Validate(); err != nil {
		return nil, err
	}
	conn, err := amqp091.Dial(q.config.ServerURL)
	if err != nil {
		return nil, err
	}
	if err := q.declareInfrastructure(ctx, conn); err != nil {
		conn.Close()
		return nil, err
	}
	q.conn = conn
	q.topic = rabbitpubsub.OpenTopic(conn, q.config.Exchange, nil)
	return func() {
		q.topic.Shutdown(ctx)
		conn.Close()
	}, nil
}

func (q *RabbitMQQueue) Publish(ctx context.Context, incomingMessage IncomingMessage) error {
	msg, err := incomingMessage.ToMessage()
	if err != nil {
		return err
	}
	return q.topic.Send(ctx, &pubsub.Message{Body: msg.Body})
}

func (q *RabbitMQQueue) Subscribe(ctx context.Context) (Subscription, error) {
	sub := rabbitpubsub.OpenSubscription(q.conn, q.config.Queue, nil)
	return &wrappedSubscription{sub: sub}, nil
}

func (q *RabbitMQQueue) declareInfrastructure(_ context.Context, conn *amqp091.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()
	if err := ch.ExchangeDeclare(
		q.config.Exchange, // name
		"fanout",          // type
		true,              // durable
		false,             // auto-deleted
		false,             // internal
		false,             // no-wait
		nil,               // arguments
	); err != nil {
		return err
	}
	queue, err := ch.QueueDeclare(
		q.config.Queue, // name
		true,           // durable
		false,          // delete when unused
		false,          // exclusive
		false,          // no-wait
		nil,            // arguments
	)
	if err != nil {
		return err
	}
	return ch.QueueBind(
		queue.Name,        // queue name
		"",                // routing key
		q.config.Exchange, // exchange
		false,             // no-wait
		nil,               // arguments
	)
}
