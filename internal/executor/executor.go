// Package executor defines the pluggable execution boundary: the
// coordinator hands a rendered job to whichever plugin the app selects and
// gets back a classified outcome.
package executor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/me/zkq/internal/watchdog"
)

// Job is one fully rendered execution request. The queue core has already
// resolved the app's template against the job id; executors only run it.
type Job struct {
	App   string
	JobID string

	// Command is the rendered shell command line.
	Command string
	// ExtraArgs are pass-through arguments appended to the command.
	ExtraArgs []string

	Dir string
	Env []string

	// TimeoutSeconds arms the watchdog; negative disables it.
	TimeoutSeconds int
}

// Executor is a pluggable backend that runs Jobs.
type Executor interface {
	// Name returns the registry key for this executor.
	Name() string

	// Execute runs the job to completion and reports the captured result.
	// The error return is reserved for infrastructure failures; a job that
	// ran and failed comes back as a Result with a non-zero exit code.
	Execute(ctx context.Context, job *Job) (watchdog.Result, error)
}

// Registry maps executor names to implementations. Registration happens at
// startup before concurrent access, so no mutex is needed.
type Registry struct {
	executors map[string]Executor
	logger    *slog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		executors: make(map[string]Executor),
		logger:    logger.With("component", "executor-registry"),
	}
}

// Register adds an Executor, keyed by its Name().
func (r *Registry) Register(exec Executor) {
	r.executors[exec.Name()] = exec
	r.logger.Info("executor registered", "name", exec.Name())
}

// Get returns the Executor for name; empty name selects the shell executor.
func (r *Registry) Get(name string) (Executor, error) {
	if name == "" {
		name = ShellName
	}
	exec, ok := r.executors[name]
	if !ok {
		return nil, fmt.Errorf("no executor registered for %q", name)
	}
	return exec, nil
}
