package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/Guizzs26/shop-sync/pkg/metrics"
)

const (
	CommandQueue    = "shopsync.commands"
	DeadLetterQueue = "shopsync.contact.dead"

	requeueDelay = 5 * time.Second
)

// ErrDrop marks a message that must not be requeued
var ErrDrop = errors.New("drop message")

type CommandHandler interface {
	HandleCommand(ctx context.Context, body []byte) error
}

type DeadLetterHandler interface {
	HandleDeadLetter(ctx context.Context, body []byte) error
}

// RabbitMQConsumer manages the connection and message flow from the broker
type RabbitMQConsumer struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	commands CommandHandler
	dead     DeadLetterHandler
	logger   *slog.Logger
}

func NewRabbitMQConsumer(url string, commands CommandHandler, dead DeadLetterHandler, logger *slog.Logger) (*RabbitMQConsumer, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}

	// Prefetch 1: commands run one at a time, in order
	if err := ch.Qos(1, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	return &RabbitMQConsumer{
		conn:     conn,
		channel:  ch,
		commands: commands,
		dead:     dead,
		logger:   logger,
	}, nil
}

func (c *RabbitMQConsumer) declare(queue, routingKey string) (<-chan amqp.Delivery, error) {
	if err := c.channel.ExchangeDeclare(Exchange, "topic", true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}
	q, err := c.channel.QueueDeclare(queue, true, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to declare queue %s: %w", queue, err)
	}
	if err := c.channel.QueueBind(q.Name, routingKey, Exchange, false, nil); err != nil {
		return nil, fmt.Errorf("failed to bind queue %s: %w", queue, err)
	}
	msgs, err := c.channel.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to register consumer on %s: %w", queue, err)
	}
	return msgs, nil
}

// Listen consumes operator commands and dead-lettered contact events until
// ctx ends or the broker closes the channel
func (c *RabbitMQConsumer) Listen(ctx context.Context) error {
	commands, err := c.declare(CommandQueue, CommandKeyPattern)
	if err != nil {
		return err
	}
	dead, err := c.declare(DeadLetterQueue, DeadLetterKey)
	if err != nil {
		return err
	}

	c.logger.Info("🎧 Consumer is online and waiting for messages", "commands", CommandQueue, "dead_letters", DeadLetterQueue)

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-commands:
			if !ok {
				return fmt.Errorf("command channel closed")
			}
			c.settle(ctx, "command", d, c.commands.HandleCommand(ctx, d.Body))
		case d, ok := <-dead:
			if !ok {
				return fmt.Errorf("dead letter channel closed")
			}
			c.settle(ctx, "dead_letter", d, c.dead.HandleDeadLetter(ctx, d.Body))
		}
	}
}

// settle acks, drops or requeues a delivery depending on the handler error
func (c *RabbitMQConsumer) settle(ctx context.Context, kind string, d amqp.Delivery, err error) {
	l := c.logger.With("kind", kind, "message_id", d.MessageId, "routing_key", d.RoutingKey)

	switch {
	case err == nil:
		metrics.CommandMessages.WithLabelValues(kind, "ok").Inc()
		if aerr := d.Ack(false); aerr != nil {
			l.Error("Failed to Ack message", "error", aerr)
		}
	case errors.Is(err, ErrDrop):
		metrics.CommandMessages.WithLabelValues(kind, "dropped").Inc()
		l.Error("Dropping message", "error", err)
		_ = d.Nack(false, false)
	default:
		metrics.CommandMessages.WithLabelValues(kind, "requeued").Inc()
		l.Error("Processing failed, requeueing", "error", err)
		select {
		case <-ctx.Done():
		case <-time.After(requeueDelay):
		}
		_ = d.Nack(false, true)
	}
}

// Close gracefully terminates RabbitMQ resources
func (c *RabbitMQConsumer) Close() {
	c.logger.Info("Shutting down RabbitMQ consumer")
	c.channel.Close()
	c.conn.Close()
}
