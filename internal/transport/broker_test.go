package transport

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// getNATSURL returns the NATS URL for testing, or skips the test.
func getNATSURL(t *testing.T) string {
	if testing.Short() {
		t.Skip("skipping NATS test in short mode")
	}
	url := os.Getenv("NATS_URL")
	if url == "" {
		url = "nats://localhost:4222"
	}

	cfg := DefaultNATSConfig()
	cfg.URL = url
	cfg.ConnectTimeout = 2 * time.Second
	p, err := NewNATSPublisher(cfg, "availability-check", testLogger())
	if err != nil {
		t.Skipf("skipping: NATS not available at %s: %v", url, err)
	}
	p.Close()
	return url
}

// getRedisAddr returns the redis address for testing, or skips the test.
func getRedisAddr(t *testing.T) string {
	if testing.Short() {
		t.Skip("skipping redis test in short mode")
	}
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("skipping: redis not available at %s: %v", addr, err)
	}
	return addr
}

func receiveWhilePublishing(t *testing.T, pub Publisher, sub Subscriber, topic string) []byte {
	t.Helper()
	stop := make(chan struct{})
	defer close(stop)
	publishUntil(t, pub, topic, []byte("alive"), stop)

	got, err := sub.Receive(context.Background())
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	return got
}

func TestNATS_PublishReceive(t *testing.T) {
	cfg := Config{Kind: KindNATS, NATSURL: getNATSURL(t)}

	pub, err := NewPublisher(context.Background(), cfg, 5555, "db1", testLogger())
	if err != nil {
		t.Fatalf("publisher: %v", err)
	}
	defer pub.Close()

	sub, err := NewSubscriber(cfg, "db1", 5555, "beatwatch-test", 2*time.Second, testLogger())
	if err != nil {
		t.Fatalf("subscriber: %v", err)
	}
	defer sub.Close()

	if got := receiveWhilePublishing(t, pub, sub, "beatwatch-test"); string(got) != "alive" {
		t.Errorf("payload: got %q, want alive", got)
	}
}

func TestNATS_Timeout(t *testing.T) {
	cfg := Config{Kind: KindNATS, NATSURL: getNATSURL(t)}

	sub, err := NewSubscriber(cfg, "db1", 5555, "beatwatch-silent", 100*time.Millisecond, testLogger())
	if err != nil {
		t.Fatalf("subscriber: %v", err)
	}
	defer sub.Close()

	if _, err := sub.Receive(context.Background()); !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestRedis_PublishReceive(t *testing.T) {
	cfg := Config{Kind: KindRedis, RedisAddr: getRedisAddr(t)}

	pub, err := NewPublisher(context.Background(), cfg, 5555, "db1", testLogger())
	if err != nil {
		t.Fatalf("publisher: %v", err)
	}
	defer pub.Close()

	sub, err := NewSubscriber(cfg, "db1", 5555, "beatwatch-test", 2*time.Second, testLogger())
	if err != nil {
		t.Fatalf("subscriber: %v", err)
	}
	defer sub.Close()

	if got := receiveWhilePublishing(t, pub, sub, "beatwatch-test"); string(got) != "alive" {
		t.Errorf("payload: got %q, want alive", got)
	}
}

func TestRedis_SubscriberWithoutServer(t *testing.T) {
	sub, err := NewRedisSubscriber("127.0.0.1:1", "hearthbeat", "db1", 50*time.Millisecond)
	if err != nil {
		t.Fatalf("subscriber must not fail without a server: %v", err)
	}
	defer sub.Close()

	if _, err := sub.Receive(context.Background()); !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestNATS_BeaconsOnSharedTopicStayApart(t *testing.T) {
	cfg := Config{Kind: KindNATS, NATSURL: getNATSURL(t)}
	assertBeaconsStayApart(t, cfg)
}

func TestRedis_BeaconsOnSharedTopicStayApart(t *testing.T) {
	mr := miniredis.RunT(t)
	assertBeaconsStayApart(t, Config{Kind: KindRedis, RedisAddr: mr.Addr()})
}

// assertBeaconsStayApart runs a live beacon and watches both it and a silent
// one on the same topic: only the live one may be heard.
func assertBeaconsStayApart(t *testing.T, cfg Config) {
	t.Helper()

	live, err := NewPublisher(context.Background(), cfg, 5555, "10.0.0.5", testLogger())
	if err != nil {
		t.Fatalf("publisher: %v", err)
	}
	defer live.Close()

	silent, err := NewSubscriber(cfg, "10.0.0.6", 5555, "hearthbeat", 300*time.Millisecond, testLogger())
	if err != nil {
		t.Fatalf("subscriber: %v", err)
	}
	defer silent.Close()

	heard, err := NewSubscriber(cfg, "10.0.0.5", 5555, "hearthbeat", 2*time.Second, testLogger())
	if err != nil {
		t.Fatalf("subscriber: %v", err)
	}
	defer heard.Close()

	if got := receiveWhilePublishing(t, live, heard, "hearthbeat"); string(got) != "alive" {
		t.Errorf("payload: got %q, want alive", got)
	}

	stop := make(chan struct{})
	defer close(stop)
	publishUntil(t, live, "hearthbeat", []byte("alive"), stop)

	for i := 0; i < 3; i++ {
		if got, err := silent.Receive(context.Background()); !errors.Is(err, ErrTimeout) {
			t.Fatalf("receive %d for silent beacon: got %q, %v; want ErrTimeout", i, got, err)
		}
	}
}

func TestRedis_PublishReceiveInMemory(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := Config{Kind: KindRedis, RedisAddr: mr.Addr()}

	pub, err := NewPublisher(context.Background(), cfg, 5555, "db1", testLogger())
	if err != nil {
		t.Fatalf("publisher: %v", err)
	}
	defer pub.Close()

	sub, err := NewSubscriber(cfg, "db1", 5555, "hearthbeat", 2*time.Second, testLogger())
	if err != nil {
		t.Fatalf("subscriber: %v", err)
	}
	defer sub.Close()

	if got := receiveWhilePublishing(t, pub, sub, "hearthbeat"); string(got) != "alive" {
		t.Errorf("payload: got %q, want alive", got)
	}
}

func TestBrokerBackends_RejectBadName(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := Config{Kind: KindRedis, RedisAddr: mr.Addr()}

	if _, err := NewPublisher(context.Background(), cfg, 5555, "two words", testLogger()); !errors.Is(err, ErrInvalidName) {
		t.Errorf("publisher: got %v, want ErrInvalidName", err)
	}
	sub, err := NewSubscriber(cfg, "db1.example.com", 5555, "hearthbeat", time.Second, testLogger())
	if err != nil {
		t.Fatalf("dotted names are allowed: %v", err)
	}
	sub.Close()
	if _, err := NewSubscriber(cfg, "db>", 5555, "hearthbeat", time.Second, testLogger()); !errors.Is(err, ErrInvalidName) {
		t.Errorf("subscriber: got %v, want ErrInvalidName", err)
	}
}
