// Package logger provides a structured zerolog logger for beatwatch.
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/term"
)

// Output formats accepted by Init.
const (
	FormatAuto    = "auto"
	FormatConsole = "console"
	FormatJSON    = "json"
)

// Service names used to scope log lines.
const (
	ServiceBeacon   = "beacon"
	ServiceObserver = "observer"
)

// Init creates and returns a zerolog.Logger configured with the given log level
// and format, writing to stderr.
// Supported levels: debug, info, warn, error. Defaults to info.
// Supported formats: auto (console on a terminal, JSON otherwise), console, json.
func Init(level, format string) zerolog.Logger {
	return New(os.Stderr, level, format, term.IsTerminal(int(os.Stderr.Fd())))
}

// New builds a logger on out. isTTY decides the auto format.
func New(out io.Writer, level, format string, isTTY bool) zerolog.Logger {
	if format == FormatConsole || (format != FormatJSON && isTTY) {
		out = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
		}
	}
	return zerolog.New(out).Level(ParseLevel(level)).With().Timestamp().Logger()
}

// ParseLevel maps a level name to a zerolog level, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// ForBeacon scopes log lines to the beacon service.
func ForBeacon(log zerolog.Logger) zerolog.Logger {
	return log.With().Str("service", ServiceBeacon).Logger()
}

// ForObserver scopes log lines to the observer of one remote beacon.
func ForObserver(log zerolog.Logger, host string) zerolog.Logger {
	return log.With().Str("service", ServiceObserver).Str("host", host).Logger()
}
