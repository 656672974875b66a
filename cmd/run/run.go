// Package run implements `beatwatch run`: a beacon plus an observer for each
// configured host.
package run

import (
	"context"
	"flag"
	"fmt"

	beaconcmd "beatwatch/cmd/beacon"
	"beatwatch/cmd/observe"
	"beatwatch/internal/service"
	"beatwatch/pkg/config"
	"beatwatch/pkg/logger"
)

// Run starts the beacon and, when hosts are configured, the observers. It
// blocks until SIGINT or SIGTERM, or until the beacon fails.
func Run(configPath string, args []string) error {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	beaconcmd.BindFlags(fs, &cfg.Beacon)
	observe.BindFlags(fs, &cfg.Observer)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := logger.Init(cfg.LogLevel, cfg.LogFormat)

	b, err := beaconcmd.Service(cfg, log)
	if err != nil {
		return err
	}
	services := []service.Service{b}

	if len(cfg.Observer.Hosts) > 0 {
		observers, err := observe.Services(cfg, log)
		if err != nil {
			return err
		}
		services = append(services, observers...)
	} else {
		log.Info().Msg("No hosts configured, running beacon only")
	}

	ctx, stop := service.SignalContext(context.Background())
	defer stop()
	return service.RunAll(ctx, services...)
}
