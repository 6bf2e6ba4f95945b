// Package broker wraps an AMQP 0.9.1 connection with the queue operations the
// scheduler and its tooling need. A Client is not safe for concurrent use.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/nemanja-m/scheduler/internal/scheduler/core"
)

const (
	ContentTypeJSON = "application/json"
	defaultAppID    = "scheduler"
)

// Channel is the subset of *amqp.Channel used by Client.
type Channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueDeclarePassive(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueDelete(name string, ifUnused, ifEmpty, noWait bool) (int, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Cancel(consumer string, noWait bool) error
	Ack(tag uint64, multiple bool) error
	Close() error
}

type Connection interface {
	Channel() (Channel, error)
	Close() error
}

type amqpConnection struct {
	conn *amqp.Connection
}

func (c amqpConnection) Channel() (Channel, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}

func (c amqpConnection) Close() error {
	return c.conn.Close()
}

// Message is one consumed task with the tag needed to acknowledge it.
type Message struct {
	Body        map[string]any
	DeliveryTag uint64
}

type Client struct {
	conn     Connection
	channels map[string]Channel
	appID    string
	now      func() time.Time
	closed   bool
}

type options struct {
	heartbeat      time.Duration
	connectionName string
	appID          string
}

type Option func(*options)

func WithHeartbeat(d time.Duration) Option {
	return func(o *options) { o.heartbeat = d }
}

// WithConnectionName sets the name shown for the connection in the broker UI.
func WithConnectionName(name string) Option {
	return func(o *options) { o.connectionName = name }
}

// WithAppID sets the AppId property of published messages.
func WithAppID(id string) Option {
	return func(o *options) { o.appID = id }
}

func buildOptions(opts []Option) options {
	o := options{heartbeat: 10 * time.Second, appID: defaultAppID, connectionName: defaultAppID}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Dial opens a single broker connection. Channels are opened lazily, one per
// queue name.
func Dial(url string, opts ...Option) (*Client, error) {
	o := buildOptions(opts)
	cfg := amqp.Config{
		Heartbeat:  o.heartbeat,
		Properties: amqp.NewConnectionProperties(),
	}
	cfg.Properties.SetClientConnectionName(o.connectionName)

	conn, err := amqp.DialConfig(url, cfg)
	if err != nil {
		return nil, fmt.Errorf("dial broker: %w: %w", core.ErrBrokerConnection, err)
	}
	return New(amqpConnection{conn: conn}, opts...), nil
}

func New(conn Connection, opts ...Option) *Client {
	o := buildOptions(opts)
	return &Client{
		conn:     conn,
		channels: make(map[string]Channel),
		appID:    o.appID,
		now:      time.Now,
	}
}

func (c *Client) channel(name string) (Channel, error) {
	if c.closed {
		return nil, fmt.Errorf("queue %q: %w: client closed", name, core.ErrBrokerConnection)
	}
	if ch, ok := c.channels[name]; ok {
		return ch, nil
	}
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel for %q: %w: %w", name, core.ErrBrokerConnection, err)
	}
	c.channels[name] = ch
	return ch, nil
}

// fail maps a channel operation error. The broker closes a channel on every
// channel exception, so the cached channel is dropped and reopened on the
// next call for that queue.
func (c *Client) fail(op, name string, err error) error {
	var aerr *amqp.Error
	if errors.As(err, &aerr) || errors.Is(err, amqp.ErrClosed) {
		c.evict(name)
	}
	if aerr != nil && aerr.Code == amqp.NotFound {
		return fmt.Errorf("%s %q: %w", op, name, core.ErrQueueNotFound)
	}
	return fmt.Errorf("%s %q: %w: %w", op, name, core.ErrBrokerConnection, err)
}

func (c *Client) evict(name string) {
	if ch, ok := c.channels[name]; ok {
		_ = ch.Close()
		delete(c.channels, name)
	}
}

// CreateQueue declares a durable queue. Declaring an existing queue with the
// same properties is a no-op.
func (c *Client) CreateQueue(name string) error {
	ch, err := c.channel(name)
	if err != nil {
		return err
	}
	if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
		return c.fail("declare queue", name, err)
	}
	return nil
}

// QueueExists probes the queue with a passive declare. A missing queue is
// reported as false with a nil error. Any other failure returns false and
// the error.
func (c *Client) QueueExists(name string) (bool, error) {
	_, err := c.inspect(name)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, core.ErrQueueNotFound):
		return false, nil
	default:
		return false, err
	}
}

// QueueSize returns the number of messages ready for delivery.
func (c *Client) QueueSize(name string) (int, error) {
	q, err := c.inspect(name)
	if err != nil {
		return 0, err
	}
	return q.Messages, nil
}

func (c *Client) inspect(name string) (amqp.Queue, error) {
	ch, err := c.channel(name)
	if err != nil {
		return amqp.Queue{}, err
	}
	q, err := ch.QueueDeclarePassive(name, true, false, false, false, nil)
	if err != nil {
		return amqp.Queue{}, c.fail("inspect queue", name, err)
	}
	return q, nil
}

// DeleteQueue removes the queue and returns how many messages it held.
func (c *Client) DeleteQueue(name string) (int, error) {
	ch, err := c.channel(name)
	if err != nil {
		return 0, err
	}
	purged, err := ch.QueueDelete(name, false, false, false)
	if err != nil {
		return 0, c.fail("delete queue", name, err)
	}
	return purged, nil
}

// Publish sends each message, in order, as a persistent JSON message routed
// to the queue through the default exchange.
func (c *Client) Publish(ctx context.Context, name string, messages []any) error {
	ch, err := c.channel(name)
	if err != nil {
		return err
	}
	for i, m := range messages {
		body, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("encode message %d for %q: %w", i, name, err)
		}
		msg := amqp.Publishing{
			ContentType:  ContentTypeJSON,
			DeliveryMode: amqp.Persistent,
			MessageId:    uuid.NewString(),
			AppId:        c.appID,
			Timestamp:    c.now().UTC(),
			Body:         body,
		}
		if err := ch.PublishWithContext(ctx, "", name, false, false, msg); err != nil {
			return c.fail("publish to", name, err)
		}
	}
	return nil
}

// Consume pulls exactly count messages, blocking until they are available,
// ctx is done or the connection drops. Messages stay unacknowledged until
// Acknowledge is called with their tags.
func (c *Client) Consume(ctx context.Context, name string, count int) ([]Message, error) {
	if count <= 0 {
		return nil, nil
	}
	ch, err := c.channel(name)
	if err != nil {
		return nil, err
	}
	if err := ch.Qos(count, 0, false); err != nil {
		return nil, c.fail("set prefetch on", name, err)
	}

	consumer := fmt.Sprintf("%s-%s", c.appID, uuid.NewString())
	deliveries, err := ch.Consume(name, consumer, false, false, false, false, nil)
	if err != nil {
		return nil, c.fail("consume from", name, err)
	}

	messages := make([]Message, 0, count)
	for len(messages) < count {
		select {
		case <-ctx.Done():
			_ = ch.Cancel(consumer, false)
			return nil, ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				c.evict(name)
				return nil, fmt.Errorf("consume from %q: %w: delivery channel closed", name, core.ErrBrokerConnection)
			}
			var body map[string]any
			if err := json.Unmarshal(d.Body, &body); err != nil {
				_ = ch.Cancel(consumer, false)
				return nil, fmt.Errorf("decode message %d from %q: %w", d.DeliveryTag, name, err)
			}
			messages = append(messages, Message{Body: body, DeliveryTag: d.DeliveryTag})
		}
	}

	if err := ch.Cancel(consumer, false); err != nil {
		return messages, c.fail("cancel consumer on", name, err)
	}
	return messages, nil
}

// Acknowledge removes the delivered messages from the queue for good. Tags
// are only valid on the channel that consumed them.
func (c *Client) Acknowledge(name string, tags []uint64) error {
	ch, err := c.channel(name)
	if err != nil {
		return err
	}
	for _, tag := range tags {
		if err := ch.Ack(tag, false); err != nil {
			return c.fail("acknowledge on", name, err)
		}
	}
	return nil
}

// Close closes every open channel, then the connection. Unacknowledged
// messages go back to their queues.
func (c *Client) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true

	var errs []error
	for _, name := range slices.Sorted(maps.Keys(c.channels)) {
		if err := c.channels[name].Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, fmt.Errorf("close channel %q: %w", name, err))
		}
	}
	clear(c.channels)
	if err := c.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		errs = append(errs, fmt.Errorf("close connection: %w", err))
	}
	return errors.Join(errs...)
}
