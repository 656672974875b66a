package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisPublisher publishes frames with PUBLISH on the channel "<topic>.<name>".
type RedisPublisher struct {
	client    *redis.Client
	name      string
	closeOnce sync.Once
	closeErr  error
}

// NewRedisPublisher connects to addr for the beacon called name and pings it;
// an unreachable server is fatal.
func NewRedisPublisher(ctx context.Context, addr, name string, log zerolog.Logger) (*RedisPublisher, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	client := redis.NewClient(&redis.Options{Addr: addr})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", addr, err)
	}

	log.Debug().Str("addr", addr).Msg("Redis publisher connected")
	return &RedisPublisher{client: client, name: name}, nil
}

// Publish sends the frame; a channel with no subscribers is not an error.
func (p *RedisPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := ValidateTopic(topic); err != nil {
		return err
	}
	if err := p.client.Publish(ctx, brokerSubject(topic, p.name), encodeFrame(topic, payload)).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Close closes the client.
func (p *RedisPublisher) Close() error {
	p.closeOnce.Do(func() {
		p.closeErr = p.client.Close()
	})
	return p.closeErr
}

// RedisSubscriber receives frames from a redis SUBSCRIBE on one beacon's channel.
type RedisSubscriber struct {
	client  *redis.Client
	pubsub  *redis.PubSub
	ch      <-chan *redis.Message
	topic   string
	timeout time.Duration

	done      chan struct{}
	closeOnce sync.Once
}

// NewRedisSubscriber subscribes on addr to topic as published by the beacon
// called name. go-redis dials lazily and resubscribes after reconnecting, so
// an absent server is not an error.
func NewRedisSubscriber(addr, topic, name string, timeout time.Duration) (*RedisSubscriber, error) {
	if err := ValidateTopic(topic); err != nil {
		return nil, err
	}
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	pubsub := client.Subscribe(context.Background(), brokerSubject(topic, name))

	return &RedisSubscriber{
		client:  client,
		pubsub:  pubsub,
		ch:      pubsub.Channel(),
		topic:   topic,
		timeout: timeout,
		done:    make(chan struct{}),
	}, nil
}

// Receive waits up to the configured timeout for a payload on the topic.
func (s *RedisSubscriber) Receive(ctx context.Context) ([]byte, error) {
	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	for {
		select {
		case <-s.done:
			return nil, ErrClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, ErrTimeout
		case msg, ok := <-s.ch:
			if !ok {
				return nil, ErrClosed
			}
			if payload, ok := matchFrame([]byte(msg.Payload), s.topic); ok {
				return payload, nil
			}
		}
	}
}

// Close unsubscribes and closes the client.
func (s *RedisSubscriber) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.pubsub.Close()
		_ = s.client.Close()
	})
	return nil
}
