// Package brokertest provides an in-memory AMQP broker for tests. It models
// durable queues, per-consumer prefetch, manual acks and requeue of
// unacknowledged messages when a channel closes.
package brokertest

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/nemanja-m/scheduler/internal/scheduler/broker"
)

type Broker struct {
	mu     sync.Mutex
	queues map[string]*queue
	conns  []*Conn

	publishFaults map[string]*fault
	channelErr    error
}

type queue struct {
	durable   bool
	ready     []amqp.Publishing
	consumers []*consumer
}

type fault struct {
	after int
	err   error
}

type consumer struct {
	tag      string
	queue    string
	prefetch int
	inflight int
	out      chan amqp.Delivery
	ch       *Channel
	stopped  bool
}

func (c *consumer) stop() {
	if !c.stopped {
		c.stopped = true
		close(c.out)
	}
}

type unacked struct {
	queue string
	msg   amqp.Publishing
	cons  *consumer
}

func NewBroker() *Broker {
	return &Broker{
		queues:        make(map[string]*queue),
		publishFaults: make(map[string]*fault),
	}
}

// Dial returns a new connection to b.
func (b *Broker) Dial() *Conn {
	b.mu.Lock()
	defer b.mu.Unlock()
	c := &Conn{broker: b}
	b.conns = append(b.conns, c)
	return c
}

// Client dials b and wraps the connection in a broker.Client.
func (b *Broker) Client(opts ...broker.Option) *broker.Client {
	return broker.New(b.Dial(), opts...)
}

// FailPublish makes the publish after the first n successful ones to the
// queue fail with err.
func (b *Broker) FailPublish(queue string, n int, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.publishFaults[queue] = &fault{after: n, err: err}
}

// FailChannels makes every subsequent channel open fail with err.
func (b *Broker) FailChannels(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.channelErr = err
}

// DropConnections closes every open connection as if the network failed.
func (b *Broker) DropConnections() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range b.conns {
		c.closeLocked()
	}
	b.conns = nil
}

// Queues returns the names of all declared queues, sorted.
func (b *Broker) Queues() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	names := make([]string, 0, len(b.queues))
	for name := range b.queues {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Ready returns the messages waiting in the queue, in delivery order.
func (b *Broker) Ready(name string) []amqp.Publishing {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[name]
	if !ok {
		return nil
	}
	return slices.Clone(q.ready)
}

// dispatchLocked hands ready messages to consumers with spare prefetch.
func (b *Broker) dispatchLocked(name string) {
	q, ok := b.queues[name]
	if !ok {
		return
	}
	for _, cons := range q.consumers {
		for len(q.ready) > 0 && cons.inflight < cons.prefetch {
			msg := q.ready[0]
			q.ready = q.ready[1:]
			cons.inflight++
			cons.ch.nextTag++
			tag := cons.ch.nextTag
			cons.ch.unacked[tag] = unacked{queue: name, msg: msg, cons: cons}
			cons.out <- amqp.Delivery{
				ContentType:  msg.ContentType,
				DeliveryMode: msg.DeliveryMode,
				MessageId:    msg.MessageId,
				AppId:        msg.AppId,
				Timestamp:    msg.Timestamp,
				ConsumerTag:  cons.tag,
				DeliveryTag:  tag,
				RoutingKey:   name,
				Body:         msg.Body,
			}
		}
	}
}

type Conn struct {
	broker   *Broker
	channels []*Channel
	closed   bool
}

var _ broker.Connection = (*Conn)(nil)

func (c *Conn) Channel() (broker.Channel, error) {
	b := c.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if c.closed {
		return nil, amqp.ErrClosed
	}
	if b.channelErr != nil {
		return nil, b.channelErr
	}
	ch := &Channel{conn: c, unacked: make(map[uint64]unacked)}
	c.channels = append(c.channels, ch)
	return ch, nil
}

func (c *Conn) Close() error {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	if c.closed {
		return amqp.ErrClosed
	}
	c.closeLocked()
	return nil
}

func (c *Conn) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	for _, ch := range c.channels {
		ch.closeLocked()
	}
}

// Channels returns how many channels were opened on the connection.
func (c *Conn) Channels() int {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	return len(c.channels)
}

type Channel struct {
	conn      *Conn
	closed    bool
	prefetch  int
	nextTag   uint64
	unacked   map[uint64]unacked
	consumers []*consumer
}

var _ broker.Channel = (*Channel)(nil)

func (ch *Channel) lock() (*Broker, error) {
	b := ch.conn.broker
	b.mu.Lock()
	if ch.closed {
		b.mu.Unlock()
		return nil, amqp.ErrClosed
	}
	return b, nil
}

// exceptionLocked closes the channel the way a broker does on a channel
// level error.
func (ch *Channel) exceptionLocked(code int, reason string) error {
	ch.closeLocked()
	return &amqp.Error{Code: code, Reason: reason, Server: true}
}

func (ch *Channel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	b, err := ch.lock()
	if err != nil {
		return amqp.Queue{}, err
	}
	defer b.mu.Unlock()

	q, ok := b.queues[name]
	if !ok {
		q = &queue{durable: durable}
		b.queues[name] = q
	} else if q.durable != durable {
		return amqp.Queue{}, ch.exceptionLocked(amqp.PreconditionFailed,
			fmt.Sprintf("PRECONDITION_FAILED - inequivalent arg 'durable' for queue '%s'", name))
	}
	return amqp.Queue{Name: name, Messages: len(q.ready), Consumers: len(q.consumers)}, nil
}

func (ch *Channel) QueueDeclarePassive(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	b, err := ch.lock()
	if err != nil {
		return amqp.Queue{}, err
	}
	defer b.mu.Unlock()

	q, ok := b.queues[name]
	if !ok {
		return amqp.Queue{}, ch.exceptionLocked(amqp.NotFound, fmt.Sprintf("NOT_FOUND - no queue '%s'", name))
	}
	return amqp.Queue{Name: name, Messages: len(q.ready), Consumers: len(q.consumers)}, nil
}

func (ch *Channel) QueueDelete(name string, ifUnused, ifEmpty, noWait bool) (int, error) {
	b, err := ch.lock()
	if err != nil {
		return 0, err
	}
	defer b.mu.Unlock()

	q, ok := b.queues[name]
	if !ok {
		return 0, ch.exceptionLocked(amqp.NotFound, fmt.Sprintf("NOT_FOUND - no queue '%s'", name))
	}
	for _, cons := range q.consumers {
		cons.stop()
	}
	delete(b.queues, name)
	return len(q.ready), nil
}

func (ch *Channel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := ch.lock()
	if err != nil {
		return err
	}
	defer b.mu.Unlock()

	if f, ok := b.publishFaults[key]; ok {
		if f.after <= 0 {
			return f.err
		}
		f.after--
	}
	q, ok := b.queues[key]
	if exchange != "" || !ok {
		// unroutable and not mandatory: dropped
		return nil
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	q.ready = append(q.ready, msg)
	b.dispatchLocked(key)
	return nil
}

func (ch *Channel) Qos(prefetchCount, prefetchSize int, global bool) error {
	b, err := ch.lock()
	if err != nil {
		return err
	}
	defer b.mu.Unlock()
	ch.prefetch = prefetchCount
	return nil
}

func (ch *Channel) Consume(queueName, consumerTag string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	b, err := ch.lock()
	if err != nil {
		return nil, err
	}
	defer b.mu.Unlock()

	q, ok := b.queues[queueName]
	if !ok {
		return nil, ch.exceptionLocked(amqp.NotFound, fmt.Sprintf("NOT_FOUND - no queue '%s'", queueName))
	}
	if autoAck {
		return nil, fmt.Errorf("brokertest: auto-ack consumers are not supported")
	}
	prefetch := ch.prefetch
	if prefetch <= 0 {
		prefetch = 1024
	}
	cons := &consumer{
		tag:      consumerTag,
		queue:    queueName,
		prefetch: prefetch,
		out:      make(chan amqp.Delivery, prefetch),
		ch:       ch,
	}
	q.consumers = append(q.consumers, cons)
	ch.consumers = append(ch.consumers, cons)
	b.dispatchLocked(queueName)
	return cons.out, nil
}

func (ch *Channel) Cancel(consumerTag string, noWait bool) error {
	b, err := ch.lock()
	if err != nil {
		return err
	}
	defer b.mu.Unlock()

	idx := slices.IndexFunc(ch.consumers, func(c *consumer) bool { return c.tag == consumerTag })
	if idx < 0 {
		return nil
	}
	cons := ch.consumers[idx]
	ch.consumers = slices.Delete(ch.consumers, idx, idx+1)
	if q, ok := b.queues[cons.queue]; ok {
		q.consumers = slices.DeleteFunc(q.consumers, func(c *consumer) bool { return c == cons })
	}
	cons.stop()
	return nil
}

func (ch *Channel) Ack(tag uint64, multiple bool) error {
	b, err := ch.lock()
	if err != nil {
		return err
	}
	defer b.mu.Unlock()

	u, ok := ch.unacked[tag]
	if !ok {
		return ch.exceptionLocked(amqp.PreconditionFailed, fmt.Sprintf("PRECONDITION_FAILED - unknown delivery tag %d", tag))
	}
	delete(ch.unacked, tag)
	u.cons.inflight--
	b.dispatchLocked(u.queue)
	return nil
}

func (ch *Channel) Close() error {
	b, err := ch.lock()
	if err != nil {
		return err
	}
	defer b.mu.Unlock()
	ch.closeLocked()
	return nil
}

// closeLocked cancels the channel's consumers and requeues its unacked
// messages at the head of their queues, in delivery order.
func (ch *Channel) closeLocked() {
	if ch.closed {
		return
	}
	ch.closed = true
	b := ch.conn.broker

	for _, cons := range ch.consumers {
		if q, ok := b.queues[cons.queue]; ok {
			q.consumers = slices.DeleteFunc(q.consumers, func(c *consumer) bool { return c == cons })
		}
		cons.stop()
	}
	ch.consumers = nil

	tags := make([]uint64, 0, len(ch.unacked))
	for tag := range ch.unacked {
		tags = append(tags, tag)
	}
	slices.Sort(tags)
	requeued := make(map[string][]amqp.Publishing)
	for _, tag := range tags {
		u := ch.unacked[tag]
		requeued[u.queue] = append(requeued[u.queue], u.msg)
	}
	ch.unacked = make(map[uint64]unacked)
	for name, msgs := range requeued {
		if q, ok := b.queues[name]; ok {
			q.ready = append(msgs, q.ready...)
			b.dispatchLocked(name)
		}
	}
}
