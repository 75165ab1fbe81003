// Package mq is the RabbitMQ client shared by the writer and notifier.
// Events go through one durable topic exchange; consumers bind queues to
// routing key patterns.
package mq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

const (
	Exchange     = "replywriter.events"
	ExchangeType = "topic"
)

// ErrClosed is returned by Publish once the connection is gone.
var ErrClosed = errors.New("mq: connection closed")

// retryDelay is the backoff step between dial attempts.
var retryDelay = time.Second

// Broker holds one AMQP connection and one channel. It does not redial;
// Done is closed when the server or network drops the connection.
type Broker struct {
	url      string
	attempts int

	mu   sync.Mutex // guards ch; amqp channels are not safe for concurrent use
	conn *amqp.Connection
	ch   *amqp.Channel

	done chan struct{}
}

// New dials RabbitMQ, retrying up to attempts times with a linear backoff,
// and declares the exchange.
func New(amqpURL string, attempts int) (*Broker, error) {
	b := &Broker{url: amqpURL, attempts: max(attempts, 1), done: make(chan struct{})}
	if err := b.dial(); err != nil {
		return nil, err
	}
	if err := b.setup(); err != nil {
		b.conn.Close()
		return nil, err
	}
	go b.watch(b.conn.NotifyClose(make(chan *amqp.Error, 1)))
	return b, nil
}

func (b *Broker) dial() error {
	var err error
	for attempt := 1; attempt <= b.attempts; attempt++ {
		b.conn, err = amqp.DialConfig(b.url, amqp.Config{
			Heartbeat: 10 * time.Second,
			Locale:    "en_US",
		})
		if err == nil {
			return nil
		}
		log.Warn().Err(err).Int("attempt", attempt).Int("of", b.attempts).Msg("RabbitMQ dial failed")
		if attempt < b.attempts {
			time.Sleep(time.Duration(attempt) * retryDelay)
		}
	}
	return fmt.Errorf("rabbitmq connect after %d attempts: %w", b.attempts, err)
}

func (b *Broker) setup() error {
	ch, err := b.conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	err = ch.ExchangeDeclare(Exchange, ExchangeType,
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		ch.Close()
		return fmt.Errorf("declare exchange %s: %w", Exchange, err)
	}
	b.ch = ch
	return nil
}

// watch logs an unexpected connection loss. A nil error means Close was
// called.
func (b *Broker) watch(closed <-chan *amqp.Error) {
	if err, ok := <-closed; ok && err != nil {
		log.Error().Str("reason", err.Reason).Int("code", err.Code).Bool("server", err.Server).
			Msg("RabbitMQ connection lost, events will not be delivered")
	}
	close(b.done)
}

// Done is closed once the connection has shut down for any reason.
func (b *Broker) Done() <-chan struct{} { return b.done }

// Alive reports whether the connection is open. A nil Broker is not alive.
func (b *Broker) Alive() bool {
	return b != nil && b.conn != nil && !b.conn.IsClosed()
}

// Publish sends body to the exchange under routingKey as a persistent
// JSON message.
func (b *Broker) Publish(ctx context.Context, routingKey string, body []byte) error {
	if !b.Alive() {
		return ErrClosed
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ch == nil || b.ch.IsClosed() {
		return ErrClosed
	}
	return b.ch.PublishWithContext(ctx, Exchange, routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
}

// Subscribe declares a durable queue, binds it to pattern ("reply.*",
// "reply.failed") and starts consuming with manual acks, one message in
// flight at a time.
func (b *Broker) Subscribe(queueName, pattern string) (<-chan amqp.Delivery, error) {
	if !b.Alive() {
		return nil, ErrClosed
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	q, err := b.ch.QueueDeclare(queueName,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("declare queue %s: %w", queueName, err)
	}
	if err := b.ch.QueueBind(q.Name, pattern, Exchange, false, nil); err != nil {
		return nil, fmt.Errorf("bind queue %s to %s: %w", queueName, pattern, err)
	}
	if err := b.ch.Qos(1, 0, false); err != nil {
		return nil, fmt.Errorf("set qos: %w", err)
	}
	return b.ch.Consume(q.Name,
		"",    // server-generated consumer tag
		false, // auto-ack
		false, false, false, nil,
	)
}

// Close shuts down the channel and the connection.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ch != nil {
		b.ch.Close()
	}
	if b.conn != nil {
		b.conn.Close()
	}
}
