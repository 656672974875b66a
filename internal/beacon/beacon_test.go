package beacon

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fakePublisher struct {
	mu      sync.Mutex
	topics  []string
	frames  [][]byte
	err     error
	closed  int
	publish chan struct{}
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{publish: make(chan struct{}, 64)}
}

func (f *fakePublisher) Publish(_ context.Context, topic string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.topics = append(f.topics, topic)
	f.frames = append(f.frames, payload)
	select {
	case f.publish <- struct{}{}:
	default:
	}
	return nil
}

func (f *fakePublisher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakePublisher) snapshot() ([]string, [][]byte, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.topics...), append([][]byte(nil), f.frames...), f.closed
}

func TestNew_RejectsBadConfig(t *testing.T) {
	if _, err := New(Config{Topic: "hearthbeat"}, newFakePublisher(), zerolog.Nop()); !errors.Is(err, ErrInvalidPeriod) {
		t.Errorf("zero period: got %v, want ErrInvalidPeriod", err)
	}
	if _, err := New(Config{Topic: "", Period: time.Second}, newFakePublisher(), zerolog.Nop()); err == nil {
		t.Error("expected error for empty topic")
	}
}

func TestBeacon_PublishesUntilCancelled(t *testing.T) {
	pub := newFakePublisher()
	b, err := New(Config{Port: 5555, Topic: "hearthbeat", Period: 10 * time.Millisecond}, pub, zerolog.Nop())
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	for i := 0; i < 3; i++ {
		select {
		case <-pub.publish:
		case <-time.After(2 * time.Second):
			t.Fatalf("beat %d never published", i)
		}
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned %v, want nil on cancel", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("run did not return after cancel")
	}

	topics, frames, closed := pub.snapshot()
	if closed != 1 {
		t.Errorf("publisher closed %d times, want 1", closed)
	}
	if len(frames) < 3 {
		t.Fatalf("expected at least 3 beats, got %d", len(frames))
	}

	first, err := Unmarshal(frames[0])
	if err != nil {
		t.Fatalf("decode first beat: %v", err)
	}
	for i, frame := range frames {
		if topics[i] != "hearthbeat" {
			t.Errorf("beat %d topic: got %s, want hearthbeat", i, topics[i])
		}
		p, err := Unmarshal(frame)
		if err != nil {
			t.Fatalf("decode beat %d: %v", i, err)
		}
		if p.StartedAt != first.StartedAt {
			t.Errorf("beat %d beating_since changed: %d != %d", i, p.StartedAt, first.StartedAt)
		}
		if p.InstanceID == "" || p.InstanceID != first.InstanceID {
			t.Errorf("beat %d instance id: got %q, want %q", i, p.InstanceID, first.InstanceID)
		}
		if p.SentAt < p.StartedAt {
			t.Errorf("beat %d sent before start: %d < %d", i, p.SentAt, p.StartedAt)
		}
	}
}

func TestBeacon_PublishErrorIsFatal(t *testing.T) {
	pub := newFakePublisher()
	pub.err = errors.New("socket gone")

	b, err := New(Config{Topic: "hearthbeat", Period: time.Hour}, pub, zerolog.Nop())
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	err = b.Run(context.Background())
	if !errors.Is(err, pub.err) {
		t.Fatalf("expected wrapped publish error, got %v", err)
	}
	if _, _, closed := pub.snapshot(); closed != 1 {
		t.Errorf("publisher closed %d times, want 1", closed)
	}
}
