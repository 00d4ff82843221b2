// Package taskrunner executes shell commands attached to event triggers.
// Commands run detached from the controller's executor so a slow hook
// cannot stall the protocol.
package taskrunner

import (
	"context"
	"log/slog"
	"os/exec"
	"time"
)

// DefaultTimeout bounds a single hook; a spindle cooldown script is
// seconds, not minutes.
const DefaultTimeout = 60 * time.Second

type Runner struct {
	log     *slog.Logger
	timeout time.Duration
}

func New(logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		log:     logger.With("component", "taskrunner"),
		timeout: DefaultTimeout,
	}
}

// Run starts command under the shell and returns immediately. The exit
// status is logged when the command finishes.
func (r *Runner) Run(command string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()

		start := time.Now()
		cmd := exec.CommandContext(ctx, "sh", "-c", command)
		output, err := cmd.CombinedOutput()
		elapsed := time.Since(start).Round(time.Millisecond)

		if err != nil {
			r.log.Error("trigger command failed",
				"command", command, "elapsed", elapsed,
				"output", string(output), "error", err)
			return
		}
		r.log.Info("trigger command finished", "command", command, "elapsed", elapsed)
	}()
}
