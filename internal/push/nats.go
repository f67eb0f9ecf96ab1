package push

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/roach88/replica/internal/model"
)

const (
	reconnectDelay = time.Second

	// DefaultSubjectPrefix namespaces replica topics on a shared NATS server.
	DefaultSubjectPrefix = "replica.push"
)

// NATSConfig addresses a NATS server.
type NATSConfig struct {
	// NATS address, e.g. nats://127.0.0.1:4222
	Address string
	// Subjects are "<SubjectPrefix>.<topic>".
	SubjectPrefix string
	// Per-subscription buffer size.
	BufferSize int
}

func (c NATSConfig) subject(topic string) string {
	prefix := c.SubjectPrefix
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return prefix + "." + topic
}

// natsConn holds one lazily dialed, shared connection.
type natsConn struct {
	NATSConfig

	m  sync.Mutex
	nc *nats.Conn
}

// dial will (re)try to create a NATS connection until it succeeds or ctx is
// done.
func (c *natsConn) dial(ctx context.Context) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.ReconnectWait(reconnectDelay),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			slog.Info("NATS", "error", err)
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Info("disconnected from NATS", "error", err)
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			slog.Info("NATS connection is closed")
		}),
	}
	for {
		c.m.Lock()
		if c.nc != nil && c.nc.IsConnected() {
			nc := c.nc
			c.m.Unlock()
			return nc, nil
		}
		nc, err := nats.Connect(c.Address, opts...)
		if err == nil {
			c.nc = nc
			c.m.Unlock()
			return nc, nil
		}
		c.m.Unlock()
		slog.Info("nats connection failed", "address", c.Address, "error", err)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(reconnectDelay):
		}
	}
}

func (c *natsConn) Close() {
	c.m.Lock()
	defer c.m.Unlock()
	if c.nc != nil {
		c.nc.Close()
		c.nc = nil
	}
}

// NATSSubscriber receives push events from NATS subjects.
type NATSSubscriber struct {
	conn natsConn
}

// NewNATSSubscriber creates a subscriber. No connection is made until the
// first Subscribe.
func NewNATSSubscriber(c NATSConfig) *NATSSubscriber {
	if c.BufferSize <= 0 {
		c.BufferSize = DefaultBufferSize
	}
	return &NATSSubscriber{conn: natsConn{NATSConfig: c}}
}

// Subscribe delivers events published on topic's subject until ctx ends.
// The connection is dialed with retry; Subscribe blocks until it is up.
func (s *NATSSubscriber) Subscribe(ctx context.Context, topic string) (<-chan model.PushEvent, error) {
	nc, err := s.conn.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("nats subscribe %s: %w", topic, err)
	}
	subject := s.conn.subject(topic)
	natsCh := make(chan *nats.Msg, s.conn.BufferSize)
	sub, err := nc.ChanSubscribe(subject, natsCh)
	if err != nil {
		return nil, fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	out := make(chan model.PushEvent, s.conn.BufferSize)
	go func() {
		defer close(out)
		defer sub.Unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case nm, ok := <-natsCh:
				if !ok {
					return
				}
				if !deliver(ctx, out, nm.Data, "subject", subject) {
					return
				}
			}
		}
	}()
	return out, nil
}

// Close closes the shared connection.
func (s *NATSSubscriber) Close() {
	s.conn.Close()
}

// NATSPublisher publishes push events to one topic's subject.
type NATSPublisher struct {
	conn  natsConn
	topic string
}

// NewNATSPublisher creates a publisher for topic.
func NewNATSPublisher(c NATSConfig, topic string) *NATSPublisher {
	return &NATSPublisher{conn: natsConn{NATSConfig: c}, topic: topic}
}

// Publish encodes ev and publishes it.
func (p *NATSPublisher) Publish(ctx context.Context, ev model.PushEvent) error {
	data, err := Encode(ev)
	if err != nil {
		return err
	}
	nc, err := p.conn.dial(ctx)
	if err != nil {
		return fmt.Errorf("nats publish: %w", err)
	}
	if err := nc.Publish(p.conn.subject(p.topic), data); err != nil {
		return fmt.Errorf("nats publish: %w", err)
	}
	return nil
}

// Close closes the connection.
func (p *NATSPublisher) Close() {
	p.conn.Close()
}

// deliver decodes one message onto out. Undecodable messages are logged
// and skipped. It returns false once ctx has ended.
func deliver(ctx context.Context, out chan<- model.PushEvent, data []byte, source ...any) bool {
	ev, err := Decode(data)
	if err != nil {
		slog.Info("push message dropped", append(source, "error", err)...)
		return ctx.Err() == nil
	}
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
