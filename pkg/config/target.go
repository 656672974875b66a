package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Target is one remote beacon an observer watches.
type Target struct {
	Host  string
	Port  int
	Topic string
}

// ParseTarget parses host, host:port, host@topic or host:port@topic.
// Bracketed IPv6 addresses take a port ("[::1]:5555"); bare ones do not.
func ParseTarget(raw string, defaultPort int, defaultTopic string) (Target, error) {
	t := Target{Host: raw, Port: defaultPort, Topic: defaultTopic}

	if i := strings.LastIndex(raw, "@"); i >= 0 {
		t.Host, t.Topic = raw[:i], raw[i+1:]
	}

	if strings.HasPrefix(t.Host, "[") || strings.Count(t.Host, ":") == 1 {
		host, port, err := net.SplitHostPort(t.Host)
		if err != nil {
			return Target{}, fmt.Errorf("invalid host %q: %w", raw, err)
		}
		p, err := strconv.Atoi(port)
		if err != nil || p < 1 || p > 65535 {
			return Target{}, fmt.Errorf("invalid port in host %q", raw)
		}
		t.Host, t.Port = host, p
	}

	if t.Host == "" {
		return Target{}, fmt.Errorf("missing host in %q", raw)
	}
	if !validTopic(t.Topic) {
		return Target{}, fmt.Errorf("invalid topic in host %q", raw)
	}
	return t, nil
}

// Targets parses every configured host.
func (o *ObserverConfig) Targets(defaultPort int, defaultTopic string) ([]Target, error) {
	targets := make([]Target, 0, len(o.Hosts))
	for _, h := range o.Hosts {
		t, err := ParseTarget(h, defaultPort, defaultTopic)
		if err != nil {
			return nil, err
		}
		targets = append(targets, t)
	}
	return targets, nil
}
