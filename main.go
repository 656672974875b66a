// beatwatch: heartbeat beacons and liveness observers
//
// Usage:
//
//	beatwatch beacon  (publish a heartbeat)
//	beatwatch observe (watch remote heartbeats and run commands on edges)
//	beatwatch run     (both)
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"beatwatch/cmd/beacon"
	"beatwatch/cmd/edit"
	"beatwatch/cmd/observe"
	"beatwatch/cmd/run"
)

const (
	defaultSystemPath = "/etc/beatwatch/config.toml"
	defaultLocalPath  = "config.toml"
	version           = "0.3.0"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	configPath, args, err := extractConfigFlag(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	// An explicit config must exist; a discovered one may not.
	if configPath != "" {
		if _, err := os.Stat(configPath); err != nil && args[0] != "edit" {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	} else if _, err := os.Stat(defaultLocalPath); err == nil {
		configPath = defaultLocalPath
	} else {
		configPath = defaultSystemPath
	}

	subcommand, rest := args[0], args[1:]

	switch subcommand {
	case "beacon":
		err = beacon.Run(configPath, rest)
	case "observe":
		err = observe.Run(configPath, rest)
	case "run":
		err = run.Run(configPath, rest)
	case "edit":
		err = edit.EditConfig(configPath)
	case "version":
		fmt.Printf("beatwatch v%s\n", version)
		return
	case "help", "--help", "-h":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", subcommand)
		printUsage()
		os.Exit(1)
	}

	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// errConfigPath reports a --config flag without a path.
var errConfigPath = errors.New("--config requires a path")

// extractConfigFlag removes --config <path> and --config=<path> from args,
// wherever they appear, and returns the last path given.
func extractConfigFlag(args []string) (string, []string, error) {
	configPath := ""
	rest := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--config":
			if i+1 >= len(args) || args[i+1] == "" {
				return "", nil, errConfigPath
			}
			configPath = args[i+1]
			i++
		case strings.HasPrefix(arg, "--config="):
			configPath = strings.TrimPrefix(arg, "--config=")
			if configPath == "" {
				return "", nil, errConfigPath
			}
		default:
			rest = append(rest, arg)
		}
	}
	return configPath, rest, nil
}

func printUsage() {
	fmt.Printf(`beatwatch v%s: heartbeat beacons and liveness observers

Usage:
  beatwatch <command> [--config <path>] [flags]

Commands:
  beacon   Publish a heartbeat
             -p, --port     TCP port to publish on (default 5555)
             -t, --topic    topic to publish on (default hearthbeat)
             -f, --period   seconds between beats (default 5)
             -n, --name     beacon name on a nats/redis broker (default hostname)
  observe  Watch remote heartbeats
             -h, --host     host[:port][@topic] to watch (repeatable); on a
                            broker, host is the watched beacon's name
             -d, --on-dead  command run when a host dies, %%ip is the host
             -a, --on-alive command run when a host comes back
                 --ttd      seconds of silence before a host is dead (default 15)
                 --async-actions  run commands off the receive loop
  run      Beacon and observers together (accepts all flags above)
  edit     Edit the configuration file in your system editor
  version  Print version information
  help     Show this help message

Options:
  --config <path>  Path to config file (default: looks for ./config.toml, then %s)

Examples:
  beatwatch beacon -f 1                                  # beat every second
  beatwatch observe -h 10.0.0.5 -d 'notify.sh %%ip down' # alert when 10.0.0.5 stops
  beatwatch run --host db1 --host db2:5556@db            # beat and watch two peers

`, version, defaultSystemPath)
}
