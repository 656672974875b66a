package observer

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"beatwatch/internal/action"
	"beatwatch/internal/beacon"
	"beatwatch/internal/transport"
)

// chanRunner reports every expanded command on a channel.
type chanRunner chan string

func (c chanRunner) Invoke(_ context.Context, template, host string) action.Outcome {
	cmd := action.Expand(template, host)
	c <- cmd
	return action.Outcome{Command: cmd, Success: true}
}

func startBeacon(t *testing.T, port int) (context.CancelFunc, <-chan error) {
	t.Helper()
	pub, err := transport.Bind(port, transport.Options{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	b, err := beacon.New(beacon.Config{Port: port, Topic: "hearthbeat", Period: 20 * time.Millisecond}, pub, zerolog.Nop())
	if err != nil {
		t.Fatalf("beacon: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()
	return cancel, done
}

func expectCommand(t *testing.T, runner chanRunner, want string, within time.Duration) {
	t.Helper()
	select {
	case got := <-runner:
		if got != want {
			t.Fatalf("command: got %q, want %q", got, want)
		}
	case <-time.After(within):
		t.Fatalf("no %q within %v", want, within)
	}
}

func TestObserver_TCPBeaconLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping timing test in short mode")
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	stopBeacon, beaconDone := startBeacon(t, port)

	cfg := Config{
		Host:    "127.0.0.1",
		Port:    port,
		Topic:   "hearthbeat",
		Timeout: 500 * time.Millisecond,
		OnDead:  "dead %ip",
		OnAlive: "alive %ip",
	}
	sub := transport.Connect(cfg.Host, cfg.Port, cfg.Topic, cfg.Timeout, transport.Options{}, zerolog.Nop())
	runner := make(chanRunner, 8)
	o, err := New(cfg, sub, runner, zerolog.Nop())
	if err != nil {
		t.Fatalf("observer: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	observerDone := make(chan error, 1)
	go func() { observerDone <- o.Run(ctx) }()

	// Beating steadily: no action.
	select {
	case got := <-runner:
		t.Fatalf("unexpected action while beacon is beating: %q", got)
	case <-time.After(time.Second):
	}

	stopBeacon()
	if err := <-beaconDone; err != nil {
		t.Fatalf("beacon run: %v", err)
	}
	expectCommand(t, runner, "dead 127.0.0.1", 3*time.Second)

	stopBeacon, beaconDone = startBeacon(t, port)
	expectCommand(t, runner, "alive 127.0.0.1", 5*time.Second)

	select {
	case got := <-runner:
		t.Fatalf("unexpected extra action: %q", got)
	case <-time.After(time.Second):
	}

	stopBeacon()
	<-beaconDone
	cancel()
	if err := <-observerDone; err != nil {
		t.Fatalf("observer run: %v", err)
	}
}
