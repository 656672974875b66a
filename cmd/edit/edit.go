// Package edit implements `beatwatch edit`.
package edit

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"beatwatch/pkg/config"
)

const defaultConfigTemplate = `log_level  = "info"
log_format = "auto"   # auto | console | json

[beacon]
  name   = ""   # name on a nats/redis broker, defaults to the hostname
  port   = 5555
  topic  = "hearthbeat"
  period = "5s"

[observer]
  # host, host:port, host@topic or host:port@topic
  hosts          = []
  time_to_death  = "15s"
  on_dead        = ""   # e.g. "logger -t beatwatch %ip is down"
  on_alive       = ""
  async_actions  = false
  action_timeout = ""

[transport]
  kind       = "tcp"  # tcp | nats | redis
  nats_url   = "nats://127.0.0.1:4222"
  redis_addr = "127.0.0.1:6379"
  dscp       = 0
`

// EditConfig opens the configuration file in the system editor.
// If the file does not exist, it creates it with default values.
func EditConfig(path string) error {
	path = config.ExpandPath(path)

	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Printf("Creating new config file at %s...\n", path)
		if err := os.WriteFile(path, []byte(defaultConfigTemplate), 0644); err != nil {
			return fmt.Errorf("writing default config: %w", err)
		}
	}

	editor, err := findEditor()
	if err != nil {
		return err
	}

	cmd := exec.Command(editor, path)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("running %s: %w", editor, err)
	}

	// Catch typos before the next start does.
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	return cfg.Validate()
}

func findEditor() (string, error) {
	if editor := os.Getenv("EDITOR"); editor != "" {
		return editor, nil
	}
	for _, e := range []string{"vi", "nano", "vim"} {
		if _, err := exec.LookPath(e); err == nil {
			return e, nil
		}
	}
	return "", fmt.Errorf("no editor found ($EDITOR environment variable not set, and vi/nano/vim not in PATH)")
}
