// Package beacon implements the `beatwatch beacon` command.
package beacon

import (
	"context"
	"flag"
	"fmt"

	"github.com/rs/zerolog"

	"beatwatch/internal/beacon"
	"beatwatch/internal/service"
	"beatwatch/internal/sysinfo"
	"beatwatch/internal/transport"
	"beatwatch/pkg/config"
	"beatwatch/pkg/logger"
)

// BindFlags registers the beacon flags on fs. Flag defaults are the values
// already in cfg, so flags override the config file.
func BindFlags(fs *flag.FlagSet, cfg *config.BeaconConfig) {
	fs.IntVar(&cfg.Port, "port", cfg.Port, "TCP port to publish on")
	fs.IntVar(&cfg.Port, "p", cfg.Port, "shorthand for --port")
	fs.StringVar(&cfg.Topic, "topic", cfg.Topic, "topic to publish beats on")
	fs.StringVar(&cfg.Topic, "t", cfg.Topic, "shorthand for --topic")
	fs.StringVar(&cfg.Period, "period", cfg.Period, "interval between beats (seconds or duration)")
	fs.StringVar(&cfg.Period, "f", cfg.Period, "shorthand for --period")
	fs.StringVar(&cfg.Name, "name", cfg.Name, "beacon name on a nats or redis broker (default hostname)")
	fs.StringVar(&cfg.Name, "n", cfg.Name, "shorthand for --name")
}

// Name returns the configured beacon name, or the hostname when unset.
func Name(cfg *config.BeaconConfig) string {
	if cfg.Name != "" {
		return cfg.Name
	}
	return sysinfo.Collect().Hostname
}

// Run starts a beacon and blocks until SIGINT or SIGTERM.
func Run(configPath string, args []string) error {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	fs := flag.NewFlagSet("beacon", flag.ContinueOnError)
	BindFlags(fs, &cfg.Beacon)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := logger.Init(cfg.LogLevel, cfg.LogFormat)

	svc, err := Service(cfg, log)
	if err != nil {
		return err
	}

	ctx, stop := service.SignalContext(context.Background())
	defer stop()
	return service.RunAll(ctx, svc)
}

// Service builds the beacon service described by cfg. The publisher is
// opened when the service starts.
func Service(cfg *config.Config, log zerolog.Logger) (service.Service, error) {
	period, err := cfg.Beacon.ParsePeriod()
	if err != nil {
		return nil, fmt.Errorf("parsing period: %w", err)
	}
	bcfg := beacon.Config{
		Port:   cfg.Beacon.Port,
		Topic:  cfg.Beacon.Topic,
		Period: period,
	}
	name := Name(&cfg.Beacon)
	log = logger.ForBeacon(log).With().Str("name", name).Logger()

	return service.Func(func(ctx context.Context) error {
		pub, err := transport.NewPublisher(ctx, cfg.Transport.Backend(), bcfg.Port, name, log)
		if err != nil {
			return fmt.Errorf("starting beacon: %w", err)
		}
		b, err := beacon.New(bcfg, pub, log)
		if err != nil {
			pub.Close()
			return err
		}
		return b.Run(ctx)
	}), nil
}
