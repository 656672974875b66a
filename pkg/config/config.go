// Package config provides TOML configuration loading for beatwatch.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"

	"beatwatch/internal/transport"
)

// Defaults shared by the config file and the CLI.
const (
	DefaultPort        = 5555
	DefaultTopic       = "hearthbeat"
	DefaultPeriod      = "5s"
	DefaultTimeToDeath = "15s"
	DefaultNATSURL     = "nats://127.0.0.1:4222"
	DefaultRedisAddr   = "127.0.0.1:6379"
)

// Config is the top-level configuration structure.
type Config struct {
	LogLevel  string          `toml:"log_level" validate:"omitempty,oneof=debug info warn error"`
	LogFormat string          `toml:"log_format" validate:"omitempty,oneof=auto console json"`
	Beacon    BeaconConfig    `toml:"beacon"`
	Observer  ObserverConfig  `toml:"observer"`
	Transport TransportConfig `toml:"transport"`
}

// BeaconConfig holds settings for the local beacon.
type BeaconConfig struct {
	// Name identifies the beacon on a broker; observers name it as their
	// host. Defaults to the hostname. Unused by the tcp transport.
	Name   string `toml:"name" validate:"omitempty,beacon_name"`
	Port   int    `toml:"port" validate:"min=1,max=65535"`
	Topic  string `toml:"topic" validate:"topic"`
	Period string `toml:"period"`
}

// ObserverConfig holds settings shared by every observer.
type ObserverConfig struct {
	// Hosts lists remote beacons as host, host:port, host@topic or host:port@topic.
	Hosts         []string `toml:"hosts" validate:"dive,required"`
	TimeToDeath   string   `toml:"time_to_death"`
	OnDead        string   `toml:"on_dead"`
	OnAlive       string   `toml:"on_alive"`
	AsyncActions  bool     `toml:"async_actions"`
	ActionTimeout string   `toml:"action_timeout"`
}

// TransportConfig selects the pub/sub backend.
type TransportConfig struct {
	Kind      string `toml:"kind" validate:"omitempty,oneof=tcp nats redis"`
	NATSURL   string `toml:"nats_url"`
	RedisAddr string `toml:"redis_addr"`
	DSCP      int    `toml:"dscp" validate:"min=0,max=63"`
	QueueSize int    `toml:"queue_size" validate:"min=0"`
}

// ParsePeriod parses the beacon period.
func (b *BeaconConfig) ParsePeriod() (time.Duration, error) {
	return parsePositive(b.Period, DefaultPeriod)
}

// ParseTimeToDeath parses the observer receive timeout.
func (o *ObserverConfig) ParseTimeToDeath() (time.Duration, error) {
	return parsePositive(o.TimeToDeath, DefaultTimeToDeath)
}

// ParseActionTimeout parses the action timeout. Empty means no limit.
func (o *ObserverConfig) ParseActionTimeout() (time.Duration, error) {
	if o.ActionTimeout == "" {
		return 0, nil
	}
	return ParseSeconds(o.ActionTimeout)
}

func parsePositive(value, fallback string) (time.Duration, error) {
	if value == "" {
		value = fallback
	}
	d, err := ParseSeconds(value)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration %q must be positive", value)
	}
	return d, nil
}

// maxSeconds is the longest bare-seconds value a time.Duration can hold.
const maxSeconds = math.MaxInt64 / int64(time.Second)

// ParseSeconds accepts a Go duration ("1.5s", "200ms") or a bare number of
// seconds ("1.5").
func ParseSeconds(value string) (time.Duration, error) {
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		if math.IsNaN(secs) || math.IsInf(secs, 0) {
			return 0, fmt.Errorf("duration %q is not a finite number", value)
		}
		if math.Abs(secs) > float64(maxSeconds) {
			return 0, fmt.Errorf("duration %q exceeds %d seconds", value, maxSeconds)
		}
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("parsing duration %q: %w", value, err)
	}
	return d, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Load reads and parses a TOML config file, applying defaults for unset values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := &Config{}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	applyDefaults(cfg)
	return cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields the defaults.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(ExpandPath(path))
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// ExpandPath expands tilde (~) to the user's home directory.
func ExpandPath(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	usr, err := user.Current()
	if err != nil {
		return path
	}
	if path == "~" {
		return usr.HomeDir
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(usr.HomeDir, path[2:])
	}
	return path
}

func applyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "auto"
	}

	// Beacon defaults
	if cfg.Beacon.Port == 0 {
		cfg.Beacon.Port = DefaultPort
	}
	if cfg.Beacon.Topic == "" {
		cfg.Beacon.Topic = DefaultTopic
	}
	if cfg.Beacon.Period == "" {
		cfg.Beacon.Period = DefaultPeriod
	}

	// Observer defaults
	if cfg.Observer.TimeToDeath == "" {
		cfg.Observer.TimeToDeath = DefaultTimeToDeath
	}

	// Transport defaults
	if cfg.Transport.Kind == "" {
		cfg.Transport.Kind = "tcp"
	}
	if cfg.Transport.NATSURL == "" {
		cfg.Transport.NATSURL = DefaultNATSURL
	}
	if cfg.Transport.RedisAddr == "" {
		cfg.Transport.RedisAddr = DefaultRedisAddr
	}
}

// Backend converts the transport section for the transport factory.
func (t TransportConfig) Backend() transport.Config {
	return transport.Config{
		Kind:      transport.Kind(t.Kind),
		NATSURL:   t.NATSURL,
		RedisAddr: t.RedisAddr,
		DSCP:      t.DSCP,
		QueueSize: t.QueueSize,
	}
}
