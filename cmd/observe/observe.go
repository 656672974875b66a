// Package observe implements the `beatwatch observe` command.
package observe

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"beatwatch/internal/action"
	"beatwatch/internal/observer"
	"beatwatch/internal/service"
	"beatwatch/internal/transport"
	"beatwatch/pkg/config"
	"beatwatch/pkg/logger"
)

// ErrNoHosts is returned when observe has nothing to watch.
var ErrNoHosts = errors.New("no hosts to observe (use --host or [observer] hosts)")

// hostList is a repeatable flag. The first use replaces the hosts from the
// config file.
type hostList struct {
	dst *[]string
	set bool
}

func (h *hostList) String() string {
	if h.dst == nil {
		return ""
	}
	return strings.Join(*h.dst, ",")
}

func (h *hostList) Set(v string) error {
	if !h.set {
		*h.dst = nil
		h.set = true
	}
	*h.dst = append(*h.dst, v)
	return nil
}

// BindFlags registers the observer flags on fs. Flag defaults are the values
// already in cfg, so flags override the config file.
func BindFlags(fs *flag.FlagSet, cfg *config.ObserverConfig) {
	hosts := &hostList{dst: &cfg.Hosts}
	fs.Var(hosts, "host", "beacon to observe as host[:port][@topic] (repeatable)")
	fs.Var(hosts, "h", "shorthand for --host")
	fs.StringVar(&cfg.OnDead, "on-dead", cfg.OnDead, "command run when a host dies (%ip is the host)")
	fs.StringVar(&cfg.OnDead, "d", cfg.OnDead, "shorthand for --on-dead")
	fs.StringVar(&cfg.OnAlive, "on-alive", cfg.OnAlive, "command run when a host comes back (%ip is the host)")
	fs.StringVar(&cfg.OnAlive, "a", cfg.OnAlive, "shorthand for --on-alive")
	fs.StringVar(&cfg.TimeToDeath, "ttd", cfg.TimeToDeath, "silence after which a host is dead (seconds or duration)")
	fs.BoolVar(&cfg.AsyncActions, "async-actions", cfg.AsyncActions, "run commands without blocking the receive loop")
}

// Run starts one observer per configured host and blocks until SIGINT or
// SIGTERM.
func Run(configPath string, args []string) error {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	fs := flag.NewFlagSet("observe", flag.ContinueOnError)
	BindFlags(fs, &cfg.Observer)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if len(cfg.Observer.Hosts) == 0 {
		return ErrNoHosts
	}

	log := logger.Init(cfg.LogLevel, cfg.LogFormat)

	services, err := Services(cfg, log)
	if err != nil {
		return err
	}

	ctx, stop := service.SignalContext(context.Background())
	defer stop()
	return service.RunAll(ctx, services...)
}

// Services builds one observer service per configured host. Hosts without
// an explicit port or topic use the beacon section's values.
func Services(cfg *config.Config, log zerolog.Logger) ([]service.Service, error) {
	targets, err := cfg.Observer.Targets(cfg.Beacon.Port, cfg.Beacon.Topic)
	if err != nil {
		return nil, err
	}
	ttd, err := cfg.Observer.ParseTimeToDeath()
	if err != nil {
		return nil, fmt.Errorf("parsing time to death: %w", err)
	}
	actionTimeout, err := cfg.Observer.ParseActionTimeout()
	if err != nil {
		return nil, fmt.Errorf("parsing action timeout: %w", err)
	}
	if period, err := cfg.Beacon.ParsePeriod(); err == nil && ttd <= period {
		log.Warn().
			Dur("time_to_death", ttd).
			Dur("period", period).
			Msg("Time to death is not longer than the beat period, hosts will flap")
	}

	invoker := action.NewInvoker(actionTimeout)
	backend := cfg.Transport.Backend()

	services := make([]service.Service, 0, len(targets))
	var subs []transport.Subscriber
	fail := func(err error) ([]service.Service, error) {
		for _, s := range subs {
			s.Close()
		}
		return nil, err
	}
	for _, t := range targets {
		ocfg := observer.Config{
			Host:         t.Host,
			Port:         t.Port,
			Topic:        t.Topic,
			Timeout:      ttd,
			OnDead:       cfg.Observer.OnDead,
			OnAlive:      cfg.Observer.OnAlive,
			AsyncActions: cfg.Observer.AsyncActions,
		}
		olog := logger.ForObserver(log, t.Host)

		sub, err := transport.NewSubscriber(backend, t.Host, t.Port, t.Topic, ttd, olog)
		if err != nil {
			return fail(fmt.Errorf("subscribing to %s: %w", t.Host, err))
		}
		subs = append(subs, sub)
		o, err := observer.New(ocfg, sub, invoker, olog)
		if err != nil {
			return fail(fmt.Errorf("observer for %s: %w", t.Host, err))
		}
		services = append(services, o)
	}
	return services, nil
}
