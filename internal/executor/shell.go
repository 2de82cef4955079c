package executor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/me/zkq/internal/watchdog"
)

// ShellName is the registry key of the generic shell executor.
const ShellName = "shell"

// Shell runs arbitrary shell commands under the watchdog. It is the generic
// plugin: anything expressible as a command template works with it.
type Shell struct {
	logger *slog.Logger
}

// NewShell creates the shell executor.
func NewShell(logger *slog.Logger) *Shell {
	return &Shell{logger: logger.With("component", "shell-executor")}
}

// Name returns ShellName.
func (s *Shell) Name() string { return ShellName }

// Execute runs the job's command line through the watchdog and returns the
// captured result. Pass-through arguments are appended to the command,
// letting callers forward options to the underlying script.
func (s *Shell) Execute(ctx context.Context, job *Job) (watchdog.Result, error) {
	cmd := strings.TrimSpace(job.Command)
	if cmd == "" {
		return watchdog.Result{}, fmt.Errorf("shell executor: %s/%s: empty command", job.App, job.JobID)
	}
	if len(job.ExtraArgs) > 0 {
		cmd += " " + strings.Join(job.ExtraArgs, " ")
	}

	s.logger.Info("running shell job",
		"app", job.App,
		"job_id", job.JobID,
		"command", cmd,
		"watchdog_seconds", job.TimeoutSeconds,
	)

	res, err := watchdog.Run(ctx, watchdog.Spec{
		Shell:          cmd,
		Dir:            job.Dir,
		Env:            job.Env,
		TimeoutSeconds: job.TimeoutSeconds,
	}, s.logger)
	if err != nil {
		return res, fmt.Errorf("shell executor: %s/%s: %w", job.App, job.JobID, err)
	}

	s.logger.Info("shell job finished",
		"app", job.App,
		"job_id", job.JobID,
		"exit_code", res.ExitCode,
		"timed_out", res.TimedOut,
	)
	return res, nil
}
