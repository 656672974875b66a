package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Kind selects a transport backend.
type Kind string

const (
	KindTCP   Kind = "tcp"
	KindNATS  Kind = "nats"
	KindRedis Kind = "redis"
)

// Config selects and configures a backend. With the broker backends the
// broker address comes from NATSURL or RedisAddr, each beacon publishes on
// its own "<topic>.<name>" channel, and an observer's host is the name of the
// beacon it watches.
type Config struct {
	Kind      Kind
	NATSURL   string
	RedisAddr string
	DSCP      int
	QueueSize int
}

func (c Config) kind() Kind {
	if c.Kind == "" {
		return KindTCP
	}
	return c.Kind
}

func (c Config) options() Options {
	return Options{DSCP: c.DSCP, QueueSize: c.QueueSize}
}

func (c Config) natsConfig(name string) NATSConfig {
	nc := DefaultNATSConfig()
	if c.NATSURL != "" {
		nc.URL = c.NATSURL
	}
	nc.Name = name
	return nc
}

// NewPublisher opens a publisher for the beacon called name. The TCP backend
// binds port; the broker backends publish under name.
func NewPublisher(ctx context.Context, cfg Config, port int, name string, log zerolog.Logger) (Publisher, error) {
	switch cfg.kind() {
	case KindTCP:
		p, err := Bind(port, cfg.options(), log)
		if err != nil {
			return nil, err
		}
		return p, nil
	case KindNATS:
		p, err := NewNATSPublisher(cfg.natsConfig("beatwatch-beacon-"+name), name, log)
		if err != nil {
			return nil, err
		}
		return p, nil
	case KindRedis:
		p, err := NewRedisPublisher(ctx, cfg.RedisAddr, name, log)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, cfg.Kind)
	}
}

// NewSubscriber opens a subscriber for topic published by host:port. With the
// broker backends host is the beacon's name and port is unused. Reachability
// of the remote end is never checked here.
func NewSubscriber(cfg Config, host string, port int, topic string, timeout time.Duration, log zerolog.Logger) (Subscriber, error) {
	switch cfg.kind() {
	case KindTCP:
		return Connect(host, port, topic, timeout, cfg.options(), log), nil
	case KindNATS:
		s, err := NewNATSSubscriber(cfg.natsConfig("beatwatch-observer-"+host), topic, host, timeout, log)
		if err != nil {
			return nil, err
		}
		return s, nil
	case KindRedis:
		s, err := NewRedisSubscriber(cfg.RedisAddr, topic, host, timeout)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, cfg.Kind)
	}
}
