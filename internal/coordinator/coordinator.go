// Package coordinator ties the queue protocol to execution: it enqueues
// jobs, claims them, runs them through the selected executor plugin, and
// records the terminal outcome back into the job state store. It is the
// single boundary where execution results are translated into lifecycle
// transitions and where protocol violations are logged loudly.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/me/zkq/internal/config"
	"github.com/me/zkq/internal/coord"
	"github.com/me/zkq/internal/executor"
	"github.com/me/zkq/internal/history"
	"github.com/me/zkq/internal/jobstate"
	"github.com/me/zkq/internal/metrics"
	"github.com/me/zkq/internal/queue"
	"github.com/me/zkq/pkg/model"
)

// Coordinator orchestrates one worker's interaction with the queue core.
type Coordinator struct {
	c        coord.Client
	st       *jobstate.Store
	reg      *executor.Registry
	cfg      *config.Config
	hist     *history.Store
	met      *metrics.Collector
	workerID string
	logger   *slog.Logger

	mu     sync.Mutex
	queues map[string]*queue.Queue
}

// Option configures optional Coordinator dependencies.
type Option func(*Coordinator)

// WithHistory enables local run journaling.
func WithHistory(h *history.Store) Option {
	return func(c *Coordinator) { c.hist = h }
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *metrics.Collector) Option {
	return func(c *Coordinator) { c.met = m }
}

// WithWorkerID overrides the generated worker identity.
func WithWorkerID(id string) Option {
	return func(c *Coordinator) { c.workerID = id }
}

// New creates a Coordinator over an established coordination session.
func New(client coord.Client, cfg *config.Config, reg *executor.Registry, logger *slog.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		c:        client,
		st:       jobstate.New(client, logger),
		reg:      reg,
		cfg:      cfg,
		workerID: uuid.NewString(),
		logger:   logger.With("component", "coordinator"),
		queues:   make(map[string]*queue.Queue),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WorkerID returns this coordinator's worker identity.
func (c *Coordinator) WorkerID() string { return c.workerID }

// State exposes the job state store for the monitoring surface.
func (c *Coordinator) State() *jobstate.Store { return c.st }

func (c *Coordinator) queueFor(app string) *queue.Queue {
	c.mu.Lock()
	defer c.mu.Unlock()
	q, ok := c.queues[app]
	if !ok {
		q = queue.New(c.c, c.st, app, c.logger)
		c.queues[app] = q
	}
	return q
}

// Enqueue idempotently adds a job to its app's queue.
func (c *Coordinator) Enqueue(ctx context.Context, app, jobID string) (bool, error) {
	added, err := c.queueFor(app).Enqueue(ctx, jobID)
	if err != nil {
		return false, err
	}
	if added && c.met != nil {
		c.met.JobEnqueued(app)
	}
	return added, nil
}

// Requeue re-creates a queue entry for a claimed-but-unconsumed job.
func (c *Coordinator) Requeue(app, jobID string) error {
	return c.queueFor(app).Put(jobID)
}

// Status returns the diagnostic view of one job.
func (c *Coordinator) Status(app, jobID string) (model.StatusView, error) {
	return c.st.View(app, jobID)
}

// QueueSize returns the number of live entries in an app's queue.
func (c *Coordinator) QueueSize(app string) (int, error) {
	return c.queueFor(app).Size()
}

// RunOne claims the next available job of app, executes it, and finalizes
// the outcome. Returns queue.ErrEmpty when nothing became claimable within
// wait; that is a routine scheduling event, not an error.
func (c *Coordinator) RunOne(ctx context.Context, app string, wait time.Duration) error {
	q := c.queueFor(app)
	cl, err := q.Get(ctx, wait)
	if err != nil {
		return err
	}
	if c.met != nil {
		c.met.JobClaimed(app)
	}
	return c.runClaim(ctx, q, cl, nil)
}

// RunClaim executes an already claimed job with optional pass-through
// arguments and finalizes it. Used by the worker loop and the one-shot CLI.
func (c *Coordinator) RunClaim(ctx context.Context, cl *queue.Claim, extraArgs []string) error {
	return c.runClaim(ctx, c.queueFor(cl.App), cl, extraArgs)
}

// Skip finalizes a claimed job as skipped without executing it.
func (c *Coordinator) Skip(cl *queue.Claim) error {
	q := c.queueFor(cl.App)
	if err := c.st.MarkSkipped(cl.App, cl.JobID, cl.ExecuteLock()); err != nil {
		return c.finalizeError(cl, err)
	}
	if c.met != nil {
		c.met.JobSkipped(cl.App)
	}
	return q.Consume(cl)
}

func (c *Coordinator) runClaim(ctx context.Context, q *queue.Queue, cl *queue.Claim, extraArgs []string) error {
	started := time.Now()

	// A terminal job can still have a live entry, e.g. after an
	// administrative requeue of a job that then finished. Re-check after
	// claiming and retire the entry instead of re-executing.
	st, err := c.st.Status(cl.App, cl.JobID)
	if err != nil {
		return c.finalizeError(cl, err)
	}
	if st.Terminal() {
		c.logger.Info("claimed entry for terminal job, consuming",
			"app", cl.App, "job_id", cl.JobID, "state", st)
		return q.Consume(cl)
	}

	job, err := c.renderJob(cl, extraArgs)
	if err != nil {
		// Configuration errors are fatal to this attempt, not the worker.
		c.logger.Error("job not executable", "app", cl.App, "job_id", cl.JobID, "error", err)
		return c.finalizeFailed(q, cl, err.Error(), execResult{exitCode: -1, started: started})
	}

	exec, err := c.reg.Get(c.executorName(cl.App))
	if err != nil {
		c.logger.Error("job not executable", "app", cl.App, "job_id", cl.JobID, "error", err)
		return c.finalizeFailed(q, cl, err.Error(), execResult{exitCode: -1, started: started})
	}

	res, err := exec.Execute(ctx, job)
	if err != nil {
		if ctx.Err() != nil {
			// Shutdown mid-run: leave entry and lock to session-death
			// recovery rather than recording an ambiguous outcome.
			return ctx.Err()
		}
		c.logger.Error("execution infrastructure failure",
			"app", cl.App, "job_id", cl.JobID, "error", err)
		return c.finalizeFailed(q, cl, err.Error(), execResult{exitCode: -1, started: started})
	}

	er := execResult{
		exitCode: res.ExitCode,
		stdout:   res.Stdout,
		stderr:   res.Stderr,
		started:  started,
	}
	switch model.ClassifyExit(res.ExitCode) {
	case model.OutcomeSuccess:
		return c.finalizeCompleted(q, cl, er)
	case model.OutcomeTimeout:
		return c.finalizeFailed(q, cl, model.ReasonTimedOut, er)
	default:
		return c.finalizeFailed(q, cl, fmt.Sprintf("%s (%d)", model.ReasonNonZeroExit, res.ExitCode), er)
	}
}

type execResult struct {
	exitCode int
	stdout   string
	stderr   string
	started  time.Time
}

// finalizeCompleted records completion and only then consumes the entry.
// If recording fails the claim is deliberately left alone: the entry plus
// session-death lock release make the job retryable, which beats a
// half-consumed state.
func (c *Coordinator) finalizeCompleted(q *queue.Queue, cl *queue.Claim, er execResult) error {
	if err := c.st.MarkCompleted(cl.App, cl.JobID, cl.ExecuteLock()); err != nil {
		return c.finalizeError(cl, err)
	}
	c.observe(cl, model.OutcomeSuccess, er)
	return q.Consume(cl)
}

// finalizeFailed records the failure and vacates the queue slot. Failed
// jobs do not retry automatically; re-running one is an operator decision.
func (c *Coordinator) finalizeFailed(q *queue.Queue, cl *queue.Claim, reason string, er execResult) error {
	if err := c.st.MarkFailed(cl.App, cl.JobID, reason); err != nil {
		return c.finalizeError(cl, err)
	}
	outcome := model.OutcomeFailure
	if reason == model.ReasonTimedOut {
		outcome = model.OutcomeTimeout
	}
	c.observe(cl, outcome, er)
	return q.Consume(cl)
}

// finalizeError handles a failed terminal transition. Protocol violations
// are loud; in every case the entry is left unconsumed so crash-recovery
// semantics apply.
func (c *Coordinator) finalizeError(cl *queue.Claim, err error) error {
	if errors.Is(err, jobstate.ErrNotLockHolder) || errors.Is(err, jobstate.ErrInvalidTransition) {
		c.logger.Error("protocol violation while finalizing job",
			"app", cl.App, "job_id", cl.JobID, "error", err)
	} else {
		c.logger.Error("could not record job outcome, leaving claim for recovery",
			"app", cl.App, "job_id", cl.JobID, "error", err)
	}
	return err
}

func (c *Coordinator) renderJob(cl *queue.Claim, extraArgs []string) (*executor.Job, error) {
	appCfg, ok := c.cfg.App(cl.App)
	if !ok {
		return nil, fmt.Errorf("%w: %s", config.ErrNoCommand, cl.App)
	}
	cmd, err := appCfg.RenderCommand(cl.App, cl.JobID)
	if err != nil {
		return nil, err
	}
	return &executor.Job{
		App:            cl.App,
		JobID:          cl.JobID,
		Command:        cmd,
		ExtraArgs:      extraArgs,
		Dir:            appCfg.WorkDir,
		Env:            appCfg.Environ(),
		TimeoutSeconds: appCfg.Watchdog(),
	}, nil
}

func (c *Coordinator) executorName(app string) string {
	if appCfg, ok := c.cfg.App(app); ok {
		return appCfg.Executor
	}
	return ""
}

func (c *Coordinator) observe(cl *queue.Claim, outcome model.Outcome, er execResult) {
	finished := time.Now()
	if c.met != nil {
		c.met.JobFinalized(cl.App, outcome, finished.Sub(er.started))
	}
	if c.hist == nil {
		return
	}
	run := model.Run{
		ID:         uuid.NewString(),
		App:        cl.App,
		JobID:      cl.JobID,
		WorkerID:   c.workerID,
		Outcome:    outcome,
		ExitCode:   er.exitCode,
		Stdout:     er.stdout,
		Stderr:     er.stderr,
		StartedAt:  er.started,
		FinishedAt: finished,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.hist.Record(ctx, run); err != nil {
		c.logger.Warn("history record failed", "app", cl.App, "job_id", cl.JobID, "error", err)
	}
}
