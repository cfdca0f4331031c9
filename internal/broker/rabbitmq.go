package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/Guizzs26/shop-sync/internal/models"
	"github.com/Guizzs26/shop-sync/pkg/infra"
	"github.com/Guizzs26/shop-sync/pkg/metrics"
)

const (
	Exchange = "shopsync.topic"

	// DispatchedKeyPrefix is followed by the primary channel name
	DispatchedKeyPrefix = "contact.dispatched."
	CommandKeyPattern   = "command.#"
	DeadLetterKey       = "contact.dead"

	confirmTimeout = 10 * time.Second
)

// DispatchedKey is the routing key of a contact event
func DispatchedKey(channel string) string {
	return DispatchedKeyPrefix + channel
}

// RabbitMQClient publishes contact events with publisher confirms and
// re-dials in the background when the link drops
type RabbitMQClient struct {
	url     string
	logger  *slog.Logger
	backoff *infra.Backoff

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel

	closeOnce sync.Once
	healthy   atomic.Bool
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewRabbitMQClient dials the broker, declares the exchange and enables
// Publisher Confirms
func NewRabbitMQClient(url string, l *slog.Logger) (*RabbitMQClient, error) {
	ctx, cancel := context.WithCancel(context.Background())
	client := &RabbitMQClient{
		url:     url,
		logger:  l,
		backoff: infra.NewBackoff(time.Second, 30*time.Second, 2),
		ctx:     ctx,
		cancel:  cancel,
	}
	if err := client.connect(); err != nil {
		cancel()
		return nil, err
	}
	l.Info("🐇 Connected to RabbitMQ, publisher confirms enabled", "exchange", Exchange)
	return client, nil
}

func (r *RabbitMQClient) connect() error {
	c, err := amqp.Dial(r.url)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := c.Channel()
	if err != nil {
		c.Close()
		return fmt.Errorf("failed to open RabbitMQ channel: %w", err)
	}

	if err := ch.ExchangeDeclare(Exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		c.Close()
		return fmt.Errorf("failed to declare topic exchange: %w", err)
	}

	if err := ch.Confirm(false); err != nil {
		ch.Close()
		c.Close()
		return fmt.Errorf("failed to activate Publisher Confirms: %w", err)
	}

	r.mu.Lock()
	r.conn, r.channel = c, ch
	r.mu.Unlock()

	r.healthy.Store(true)
	metrics.BrokerHealthy.Set(1)

	connClosed := c.NotifyClose(make(chan *amqp.Error, 1))
	chanClosed := ch.NotifyClose(make(chan *amqp.Error, 1))
	go r.watch(connClosed, chanClosed)
	return nil
}

// watch flags the link unhealthy on close and dials again with backoff
func (r *RabbitMQClient) watch(connClosed, chanClosed chan *amqp.Error) {
	select {
	case err := <-connClosed:
		r.logger.Warn("RabbitMQ connection closed", "error", err)
	case err := <-chanClosed:
		r.logger.Warn("RabbitMQ channel closed", "error", err)
	case <-r.ctx.Done():
		return
	}
	r.healthy.Store(false)
	metrics.BrokerHealthy.Set(0)

	for {
		if err := r.backoff.Wait(r.ctx); err != nil {
			return
		}
		metrics.BrokerReconnections.Inc()
		if err := r.connect(); err != nil {
			r.logger.Warn("RabbitMQ reconnect failed", "attempt", r.backoff.Attempts(), "error", err)
			continue
		}
		r.backoff.Reset()
		r.logger.Info("🐇 RabbitMQ link restored")
		return
	}
}

// PublishContactEvent routes ev to contact.dispatched.<channel> and blocks
// until the broker confirms it
func (r *RabbitMQClient) PublishContactEvent(ctx context.Context, ev models.ContactEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to serialize event: %w", err)
	}
	return r.Publish(ctx, DispatchedKey(ev.Channel), ev.EventID, body)
}

// Publish sends a persistent JSON message and waits for the ACK/NACK
func (r *RabbitMQClient) Publish(ctx context.Context, routingKey, messageID string, body []byte) error {
	if !r.IsHealthy() {
		return fmt.Errorf("broker connection is closed")
	}

	r.mu.Lock()
	ch := r.channel
	r.mu.Unlock()

	l := r.logger.With("message_id", messageID, "routing_key", routingKey)

	deferred, err := ch.PublishWithDeferredConfirmWithContext(
		ctx,
		Exchange,
		routingKey,
		false,
		false,
		amqp.Publishing{
			MessageId:    messageID,
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
			Body:         body,
		},
	)
	if err != nil {
		l.Error("failed to publish message to exchange", "error", err)
		return fmt.Errorf("publish call failed: %w", err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-deferred.Done():
		if !deferred.Acked() {
			return fmt.Errorf("RabbitMQ NACK received: message not persisted")
		}
		return nil
	case <-time.After(confirmTimeout):
		return fmt.Errorf("publisher confirm timeout")
	}
}

// Close gracefully shuts down the RabbitMQ resources
func (r *RabbitMQClient) Close() error {
	r.closeOnce.Do(func() {
		r.logger.Info("Terminating RabbitMQ client")
		r.cancel()
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.channel != nil {
			r.channel.Close()
		}
		if r.conn != nil {
			r.conn.Close()
		}
		r.healthy.Store(false)
		metrics.BrokerHealthy.Set(0)
	})
	return nil
}

// IsHealthy returns true if the connection and channel are active
func (r *RabbitMQClient) IsHealthy() bool {
	return r.healthy.Load()
}
