package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	// URL is the NATS server URL (e.g., "nats://localhost:4222").
	URL string

	// Name identifies the client on the server.
	Name string

	// ReconnectWait is the time to wait between reconnection attempts.
	ReconnectWait time.Duration

	// ConnectTimeout for each connection attempt.
	ConnectTimeout time.Duration
}

// DefaultNATSConfig returns configuration with sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:            nats.DefaultURL,
		ReconnectWait:  2 * time.Second,
		ConnectTimeout: 5 * time.Second,
	}
}

// dialNATS connects to the server. With lazy set, an unreachable server is
// not an error: the client keeps retrying in the background.
func dialNATS(cfg NATSConfig, lazy bool, log zerolog.Logger) (*nats.Conn, error) {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = DefaultNATSConfig().ReconnectWait
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultNATSConfig().ConnectTimeout
	}

	opts := []nats.Option{
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(-1),
		nats.Timeout(cfg.ConnectTimeout),
		nats.RetryOnFailedConnect(lazy),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}
	if cfg.Name != "" {
		opts = append(opts, nats.Name(cfg.Name))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", cfg.URL, err)
	}
	return conn, nil
}

// NATSPublisher publishes frames on the subject "<topic>.<name>".
type NATSPublisher struct {
	conn      *nats.Conn
	name      string
	closeOnce sync.Once
}

// NewNATSPublisher connects to the server for the beacon called name; an
// unreachable server is fatal.
func NewNATSPublisher(cfg NATSConfig, name string, log zerolog.Logger) (*NATSPublisher, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	conn, err := dialNATS(cfg, false, log)
	if err != nil {
		return nil, err
	}
	return &NATSPublisher{conn: conn, name: name}, nil
}

// Publish sends the frame without waiting for subscribers.
func (p *NATSPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ValidateTopic(topic); err != nil {
		return err
	}
	if p.conn.IsClosed() {
		return ErrClosed
	}
	if err := p.conn.Publish(brokerSubject(topic, p.name), encodeFrame(topic, payload)); err != nil {
		return fmt.Errorf("nats publish: %w", err)
	}
	return nil
}

// Close closes the connection.
func (p *NATSPublisher) Close() error {
	p.closeOnce.Do(p.conn.Close)
	return nil
}

// NATSSubscriber reads frames from a synchronous NATS subscription.
type NATSSubscriber struct {
	conn    *nats.Conn
	sub     *nats.Subscription
	topic   string
	timeout time.Duration

	closeOnce sync.Once
}

// NewNATSSubscriber subscribes to topic as published by the beacon called
// name. The server does not need to be reachable; the subscription is
// registered once the client connects.
func NewNATSSubscriber(cfg NATSConfig, topic, name string, timeout time.Duration, log zerolog.Logger) (*NATSSubscriber, error) {
	if err := ValidateTopic(topic); err != nil {
		return nil, err
	}
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	conn, err := dialNATS(cfg, true, log)
	if err != nil {
		return nil, err
	}
	subject := brokerSubject(topic, name)
	sub, err := conn.SubscribeSync(subject)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("nats subscribe %s: %w", subject, err)
	}
	return &NATSSubscriber{
		conn:    conn,
		sub:     sub,
		topic:   topic,
		timeout: timeout,
	}, nil
}

// Receive waits up to the configured timeout for a payload on the topic.
func (s *NATSSubscriber) Receive(ctx context.Context) ([]byte, error) {
	if s.conn.IsClosed() {
		return nil, ErrClosed
	}

	rctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	for {
		msg, err := s.sub.NextMsgWithContext(rctx)
		switch {
		case err == nil:
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case errors.Is(err, context.DeadlineExceeded):
			return nil, ErrTimeout
		case errors.Is(err, nats.ErrBadSubscription), errors.Is(err, nats.ErrConnectionClosed):
			return nil, ErrClosed
		default:
			return nil, fmt.Errorf("nats receive: %w", err)
		}

		if payload, ok := matchFrame(msg.Data, s.topic); ok {
			return payload, nil
		}
	}
}

// Close unsubscribes and closes the connection.
func (s *NATSSubscriber) Close() error {
	s.closeOnce.Do(func() {
		_ = s.sub.Unsubscribe()
		s.conn.Close()
	})
	return nil
}
