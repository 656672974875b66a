package config

import (
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"beatwatch/internal/transport"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		_ = validate.RegisterValidation("topic", func(fl validator.FieldLevel) bool {
			return validTopic(fl.Field().String())
		})
		_ = validate.RegisterValidation("beacon_name", func(fl validator.FieldLevel) bool {
			return transport.ValidateName(fl.Field().String()) == nil
		})
	})
	return validate
}

func validTopic(topic string) bool {
	return topic != "" && !strings.ContainsAny(topic, " \t\r\n")
}

// Validate checks field ranges and that every duration parses.
func (cfg *Config) Validate() error {
	if err := getValidator().Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := cfg.Beacon.ParsePeriod(); err != nil {
		return fmt.Errorf("invalid beacon period: %w", err)
	}
	if _, err := cfg.Observer.ParseTimeToDeath(); err != nil {
		return fmt.Errorf("invalid time_to_death: %w", err)
	}
	if _, err := cfg.Observer.ParseActionTimeout(); err != nil {
		return fmt.Errorf("invalid action_timeout: %w", err)
	}
	targets, err := cfg.Observer.Targets(cfg.Beacon.Port, cfg.Beacon.Topic)
	if err != nil {
		return err
	}
	return cfg.validateTargets(targets)
}

// validateTargets rejects targets watched twice and, on a broker, hosts that
// cannot name a beacon's channel.
func (cfg *Config) validateTargets(targets []Target) error {
	broker := cfg.Transport.Kind == string(transport.KindNATS) || cfg.Transport.Kind == string(transport.KindRedis)

	seen := make(map[Target]bool, len(targets))
	for _, t := range targets {
		key := t
		if broker {
			key.Port = 0
			if err := transport.ValidateName(t.Host); err != nil {
				return fmt.Errorf("host %q cannot name a beacon on %s: %w", t.Host, cfg.Transport.Kind, err)
			}
		}
		if seen[key] {
			return fmt.Errorf("host %s@%s is observed twice", t.Host, t.Topic)
		}
		seen[key] = true
	}
	return nil
}
