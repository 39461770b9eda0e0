// Package amqp forwards live score events to an AMQP topic exchange so that
// systems outside this process (scoreboards, video overlays) can follow a
// competition. Routing keys have the form scores.<institution>.
package amqp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqplib "github.com/streadway/amqp"

	"github.com/TinchoF/gym-score-be/internal/adapters/live"
	"github.com/TinchoF/gym-score-be/pkg/logger"
	"github.com/TinchoF/gym-score-be/pkg/metrics"
)

const (
	routingPrefix   = "scores."
	contentType     = "application/json"
	heartbeat       = 30 * time.Second
	initialBackoff  = time.Second
	maxBackoff      = 60 * time.Second
	backoffMultiple = 2
)

// channel is the subset of *amqplib.Channel the publisher uses.
type channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqplib.Table) error
	Publish(exchange, key string, mandatory, immediate bool, msg amqplib.Publishing) error
	Close() error
}

// dialer opens a channel and reports when the underlying connection dies.
type dialer func() (channel, <-chan *amqplib.Error, error)

// Option configures a Publisher.
type Option func(*Publisher)

// WithLogger sets the publisher logger.
func WithLogger(l logger.Logger) Option {
	return func(p *Publisher) {
		if l != nil {
			p.logger = l
		}
	}
}

// Publisher implements live.Publisher over AMQP.
type Publisher struct {
	exchange string
	dial     dialer

	mu     sync.Mutex
	ch     channel
	closed bool

	logger logger.Logger
}

var _ live.Publisher = (*Publisher)(nil)

// Dial connects to url, declares exchange as a durable topic exchange and
// keeps the link alive until ctx is cancelled or Close is called. The
// exchange carries staff-level views with every judge's marks; bind only
// staff-facing consumers to it.
func Dial(ctx context.Context, url, exchange string, opts ...Option) (*Publisher, error) {
	d := func() (channel, <-chan *amqplib.Error, error) {
		conn, err := amqplib.DialConfig(url, amqplib.Config{Heartbeat: heartbeat, Locale: "en_US"})
		if err != nil {
			return nil, nil, fmt.Errorf("dial: %w", err)
		}
		ch, err := conn.Channel()
		if err != nil {
			_ = conn.Close()
			return nil, nil, fmt.Errorf("open channel: %w", err)
		}
		return &connChannel{Channel: ch, conn: conn}, conn.NotifyClose(make(chan *amqplib.Error, 1)), nil
	}
	return newPublisher(ctx, exchange, d, opts...)
}

func newPublisher(ctx context.Context, exchange string, d dialer, opts ...Option) (*Publisher, error) {
	p := &Publisher{exchange: exchange, dial: d}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = logger.Get().Named("amqp")
	}

	notify, err := p.connect()
	if err != nil {
		return nil, err
	}
	go p.watch(ctx, notify)
	return p, nil
}

func (p *Publisher) connect() (<-chan *amqplib.Error, error) {
	ch, notify, err := p.dial()
	if err != nil {
		return nil, err
	}
	if err := ch.ExchangeDeclare(p.exchange, amqplib.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("declare exchange %q: %w", p.exchange, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		_ = ch.Close()
		return nil, ErrClosed
	}
	p.ch = ch
	return notify, nil
}

// watch reconnects with exponential backoff whenever the connection drops.
func (p *Publisher) watch(ctx context.Context, notify <-chan *amqplib.Error) {
	for {
		select {
		case <-ctx.Done():
			_ = p.Close()
			return
		case amqpErr, ok := <-notify:
			p.mu.Lock()
			p.ch = nil
			closed := p.closed
			p.mu.Unlock()
			if closed {
				return
			}
			if ok && amqpErr != nil {
				p.logger.Warn(ctx, "amqp connection lost", logger.String("reason", amqpErr.Reason))
			}
			next, err := p.reconnect(ctx)
			if err != nil {
				return
			}
			notify = next
		}
	}
}

func (p *Publisher) reconnect(ctx context.Context) (<-chan *amqplib.Error, error) {
	delay := initialBackoff
	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		notify, err := p.connect()
		if err == nil {
			p.logger.Info(ctx, "amqp reconnected", logger.Int("attempt", attempt))
			return notify, nil
		}
		if errors.Is(err, ErrClosed) {
			return nil, err
		}
		p.logger.Warn(ctx, "amqp reconnect failed", logger.Int("attempt", attempt), logger.Error(err))
		delay *= backoffMultiple
		if delay > maxBackoff {
			delay = maxBackoff
		}
	}
}

// Publish sends ev to the exchange as-is, individual judge marks included.
// Events are not buffered while the link is down; the next event for the
// group carries the current truth anyway.
func (p *Publisher) Publish(ctx context.Context, ev live.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if p.ch == nil {
		metrics.RecordBroadcastDropped("amqp_disconnected")
		return ErrNotConnected
	}

	msg := amqplib.Publishing{
		ContentType:  contentType,
		DeliveryMode: amqplib.Persistent,
		Timestamp:    time.Now().UTC(),
		Type:         ev.Type,
		Headers:      amqplib.Table{"institution": ev.InstitutionID},
		Body:         body,
	}
	if err := p.ch.Publish(p.exchange, RoutingKey(ev.InstitutionID), false, false, msg); err != nil {
		metrics.RecordErrorByComponent("amqp", "publish")
		p.logger.Error(ctx, "amqp publish failed", logger.String("group", ev.View.ID), logger.Error(err))
		return fmt.Errorf("publish: %w", err)
	}
	metrics.RecordBroadcastPublished("amqp")
	return nil
}

// Close closes the channel and stops reconnecting.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if p.ch == nil {
		return nil
	}
	err := p.ch.Close()
	p.ch = nil
	return err
}

// RoutingKey returns the routing key for an institution's events.
func RoutingKey(institutionID string) string {
	return routingPrefix + institutionID
}

// connChannel closes the owning connection together with the channel.
type connChannel struct {
	*amqplib.Channel
	conn *amqplib.Connection
}

func (c *connChannel) Close() error {
	_ = c.Channel.Close()
	return c.conn.Close()
}
