package observer

import (
	"context"
	"errors"
	"net"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"beatwatch/internal/action"
	"beatwatch/internal/beacon"
	"beatwatch/internal/transport"
)

// ErrInvalidTimeout rejects a non-positive time-to-death.
var ErrInvalidTimeout = errors.New("time to death must be positive")

// receiveRetryDelay paces the loop after an unexpected transport error.
const receiveRetryDelay = time.Second

// Runner executes an edge's command template for a host.
type Runner interface {
	Invoke(ctx context.Context, template, host string) action.Outcome
}

// Config holds the settings of one observer. An empty OnDead or OnAlive
// means no action for that edge.
type Config struct {
	Host    string
	Port    int
	Topic   string
	Timeout time.Duration
	OnDead  string
	OnAlive string

	// AsyncActions runs edge commands on a separate goroutine so a slow
	// command does not delay the next receive. Edges still run in order and
	// exactly once.
	AsyncActions bool
}

// Observer tracks the liveness of one remote beacon.
type Observer struct {
	cfg    Config
	sub    transport.Subscriber
	runner Runner
	log    zerolog.Logger
	now    func() time.Time

	state    State
	last     beacon.Payload
	seen     bool
	dispatch *dispatcher
}

// New returns an observer that owns sub and closes it when Run returns.
// The observer starts Alive, so a beacon that never beats is reported dead
// once the first timeout elapses.
func New(cfg Config, sub transport.Subscriber, runner Runner, log zerolog.Logger) (*Observer, error) {
	if cfg.Timeout <= 0 {
		return nil, ErrInvalidTimeout
	}
	if err := transport.ValidateTopic(cfg.Topic); err != nil {
		return nil, err
	}
	return &Observer{
		cfg:    cfg,
		sub:    sub,
		runner: runner,
		log:    log,
		now:    time.Now,
		state:  Alive,
	}, nil
}

// Remote returns host:port of the observed beacon.
func (o *Observer) Remote() string {
	return net.JoinHostPort(o.cfg.Host, strconv.Itoa(o.cfg.Port))
}

// Run receives until ctx is cancelled or the subscriber is closed. It never
// fails on payload or action errors.
func (o *Observer) Run(ctx context.Context) error {
	defer o.sub.Close()

	if o.cfg.AsyncActions {
		o.dispatch = newDispatcher(func(t Transition) { o.runAction(ctx, t) })
		defer func() {
			if dropped := o.dispatch.stop(); dropped > 0 {
				o.log.Warn().Int("dropped", dropped).Msg("Pending actions dropped on shutdown")
			}
		}()
	}

	if o.cfg.OnDead == "" && o.cfg.OnAlive == "" {
		o.log.Warn().Msg("No on-dead or on-alive command configured")
	}

	o.log.Info().
		Str("remote", o.Remote()).
		Str("topic", o.cfg.Topic).
		Dur("time_to_death", o.cfg.Timeout).
		Bool("async_actions", o.cfg.AsyncActions).
		Msg("Observer started")

	for {
		payload, err := o.sub.Receive(ctx)
		switch {
		case err == nil:
			o.handle(ctx, Received, payload)
		case ctx.Err() != nil:
			o.log.Info().Msg("Observer stopped")
			return nil
		case errors.Is(err, transport.ErrTimeout):
			o.handle(ctx, TimedOut, nil)
		case errors.Is(err, transport.ErrClosed):
			o.log.Info().Msg("Subscriber closed, observer stopped")
			return nil
		default:
			o.log.Warn().Err(err).Msg("Receive failed")
			if !sleep(ctx, min(receiveRetryDelay, o.cfg.Timeout)) {
				o.log.Info().Msg("Observer stopped")
				return nil
			}
		}
	}
}

// handle applies one receive outcome to the state machine and fires the
// edge's action, if any.
func (o *Observer) handle(ctx context.Context, ev Event, payload []byte) {
	if ev == Received {
		o.inspect(payload)
	}

	next, changed := o.state.Next(ev)
	prev := o.state
	o.state = next
	if !changed {
		return
	}

	t := Transition{From: prev, To: next, At: o.now()}
	if next == Dead {
		t.Template = o.cfg.OnDead
		o.log.Warn().Str("remote", o.Remote()).Msg("DEAD")
	} else {
		t.Template = o.cfg.OnAlive
		o.log.Info().Str("remote", o.Remote()).Msg("ALIVE")
	}

	if t.Template == "" {
		return
	}
	if o.dispatch != nil {
		o.dispatch.enqueue(t)
		return
	}
	o.runAction(ctx, t)
}

// inspect decodes a payload for diagnostics. A malformed payload still counts
// as a sign of life.
func (o *Observer) inspect(payload []byte) {
	p, err := beacon.Unmarshal(payload)
	if err != nil {
		o.log.Warn().Err(err).Int("bytes", len(payload)).Msg("Malformed payload, counted as alive")
		return
	}

	o.log.Debug().
		Int64("time", p.SentAt).
		Int64("beating_since", p.StartedAt).
		Str("beacon_host", p.Hostname).
		Msg("Beat received")

	if o.seen && p.RestartedSince(o.last) {
		ev := o.log.Info().
			Int64("previous_since", o.last.StartedAt).
			Int64("beating_since", p.StartedAt)
		if p.BootTime != 0 && o.last.BootTime != 0 && p.BootTime != o.last.BootTime {
			ev = ev.Bool("host_rebooted", true)
		}
		ev.Msg("Beacon restarted")
	}
	o.last = p
	o.seen = true
}

func (o *Observer) runAction(ctx context.Context, t Transition) {
	out := o.runner.Invoke(ctx, t.Template, o.cfg.Host)
	if !out.Success {
		o.log.Error().
			Err(out.Err).
			Str("edge", t.To.String()).
			Str("command", out.Command).
			Int("exit_code", out.ExitCode).
			Str("output", out.Output).
			Dur("duration", out.Duration).
			Msg("Action failed")
		return
	}
	o.log.Info().
		Str("edge", t.To.String()).
		Str("command", out.Command).
		Dur("duration", out.Duration).
		Msg("Action ran")
	if out.Output != "" {
		o.log.Debug().Str("output", out.Output).Msg("Action output")
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
