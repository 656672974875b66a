// Package action runs the external commands configured for liveness edges.
package action

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"
)

// HostPlaceholder is replaced by the observed host in command templates.
const HostPlaceholder = "%ip"

const (
	defaultShell = "/bin/sh"
	maxOutput    = 4096
	waitDelay    = time.Second // killed commands' children may hold the pipe this long
)

// Outcome describes one command execution. A failed command is reported
// here, never returned as an error.
type Outcome struct {
	Command  string
	Success  bool
	ExitCode int
	Output   string
	Err      error
	Duration time.Duration
}

// Invoker executes command templates through a shell.
type Invoker struct {
	// Shell runs the expanded command as `Shell -c command`.
	Shell string
	// Timeout kills commands running longer than this. Zero means no limit.
	Timeout time.Duration
}

// NewInvoker returns an invoker using /bin/sh and the given timeout.
func NewInvoker(timeout time.Duration) *Invoker {
	return &Invoker{Shell: defaultShell, Timeout: timeout}
}

// Expand substitutes host for every HostPlaceholder in template.
func Expand(template, host string) string {
	return strings.ReplaceAll(template, HostPlaceholder, host)
}

// Invoke expands template for host and runs it synchronously.
func (i *Invoker) Invoke(ctx context.Context, template, host string) Outcome {
	command := Expand(template, host)
	out := Outcome{Command: command, ExitCode: -1}

	if i.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.Timeout)
		defer cancel()
	}

	shell := i.Shell
	if shell == "" {
		shell = defaultShell
	}

	start := time.Now()
	cmd := exec.CommandContext(ctx, shell, "-c", command)
	cmd.WaitDelay = waitDelay
	output, err := cmd.CombinedOutput()
	out.Duration = time.Since(start)
	out.Output = truncate(strings.TrimSpace(string(output)), maxOutput)

	if err != nil {
		out.Err = err
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			out.ExitCode = exitErr.ExitCode()
		}
		return out
	}

	out.Success = true
	out.ExitCode = 0
	return out
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-1] + "…"
}
