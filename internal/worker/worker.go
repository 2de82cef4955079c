// Package worker is the long-running work loop: it cycles over the
// configured apps, claims one job at a time through the coordinator, and
// executes it. All claim fairness and crash recovery lives below in the
// queue protocol; the loop only decides when to ask for work.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/me/zkq/internal/coordinator"
	"github.com/me/zkq/internal/queue"
)

// Worker polls the per-app queues and executes claimed jobs serially.
type Worker struct {
	co   *coordinator.Coordinator
	apps []string

	// claimWait bounds each per-app Get so the loop keeps rotating
	// through apps instead of parking on an empty queue.
	claimWait time.Duration

	// idleSleep is the pause after a full rotation found nothing.
	idleSleep time.Duration

	logger *slog.Logger
}

// Config holds worker loop settings.
type Config struct {
	Apps      []string
	ClaimWait time.Duration
	IdleSleep time.Duration
}

// New creates a Worker over a coordinator.
func New(co *coordinator.Coordinator, cfg Config, logger *slog.Logger) *Worker {
	if cfg.ClaimWait <= 0 {
		cfg.ClaimWait = 2 * time.Second
	}
	if cfg.IdleSleep <= 0 {
		cfg.IdleSleep = time.Second
	}
	return &Worker{
		co:        co,
		apps:      cfg.Apps,
		claimWait: cfg.ClaimWait,
		idleSleep: cfg.IdleSleep,
		logger:    logger.With("component", "worker", "worker_id", co.WorkerID()),
	}
}

// Run loops until the context is cancelled. Jobs run one at a time; a job
// in flight finishes (or is killed by its watchdog) before the next claim.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker started", "apps", w.apps)
	for {
		ran, err := w.rotate(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				w.logger.Info("worker stopping")
				return nil
			}
			// Coordination errors are transient from the loop's point of
			// view; log and keep polling.
			w.logger.Error("run attempt failed", "error", err)
		}
		if !ran {
			select {
			case <-ctx.Done():
				w.logger.Info("worker stopping")
				return nil
			case <-time.After(w.idleSleep):
			}
		}
	}
}

// rotate asks each app's queue for one job. Returns whether any app had
// work, so Run can back off on a fully idle rotation.
func (w *Worker) rotate(ctx context.Context) (bool, error) {
	ran := false
	for _, app := range w.apps {
		if ctx.Err() != nil {
			return ran, ctx.Err()
		}
		err := w.co.RunOne(ctx, app, w.claimWait)
		if err != nil {
			if errors.Is(err, queue.ErrEmpty) {
				continue
			}
			return ran, err
		}
		ran = true
	}
	return ran, nil
}
