// Package queue implements the per-app mutual-exclusion queue: idempotent
// enqueue under an add lock, exclusive claims under an execute lock, and
// durable consume. Entries are persistent sequential nodes so a job survives
// the crash of whichever worker enqueued it; the locks are ephemeral so a
// crashed claimant's session death returns the entry to availability.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/me/zkq/internal/coord"
	"github.com/me/zkq/internal/jobstate"
)

// ErrEmpty is returned by Get when no entry became claimable within the
// caller's timeout. Expected and recoverable; never an error condition.
var ErrEmpty = errors.New("queue: no entries available")

const (
	entryPrefix = "entry-"

	// addLockWait bounds how long Enqueue waits for the add lock. The
	// critical section is a handful of reads, so contention clears fast.
	addLockWait = 30 * time.Second

	// relistInterval bounds how long Get sleeps when entries exist but all
	// are claimed: execute-lock releases do not fire the entries watch, so
	// a periodic re-list is the only way to observe them.
	relistInterval = 500 * time.Millisecond
)

// Claim is the opaque handle returned by Get. It pins the claimed entry and
// carries the execute lock that makes the claim exclusive.
type Claim struct {
	App   string
	JobID string

	entry string
	lock  *coord.Mutex
}

// ExecuteLock exposes the claim's lock as finalization evidence for the
// state store.
func (c *Claim) ExecuteLock() *coord.Mutex { return c.lock }

// Queue is the locking queue for one app.
type Queue struct {
	c      coord.Client
	st     *jobstate.Store
	app    string
	logger *slog.Logger
}

// New creates the queue for app over the given session.
func New(c coord.Client, st *jobstate.Store, app string, logger *slog.Logger) *Queue {
	return &Queue{
		c:      c,
		st:     st,
		app:    app,
		logger: logger.With("component", "queue", "app", app),
	}
}

// Enqueue adds jobID to the queue and sets its status to pending. It is
// idempotent: if a live entry for jobID already exists, or the job has
// reached a terminal state, nothing happens and added is false. Concurrent
// enqueuers of the same job are serialized by the job's add lock, so at
// most one entry ever results.
func (q *Queue) Enqueue(ctx context.Context, jobID string) (added bool, err error) {
	mu := coord.NewMutex(q.c, jobstate.AddLockPath(q.app, jobID))
	if err := mu.Acquire(ctx, addLockWait); err != nil {
		return false, fmt.Errorf("enqueue %s/%s: add lock: %w", q.app, jobID, err)
	}
	defer mu.Release()

	st, err := q.st.Status(q.app, jobID)
	if err != nil {
		return false, err
	}
	if st.Terminal() {
		q.logger.Debug("enqueue no-op, job is terminal", "job_id", jobID, "state", st)
		return false, nil
	}
	inQueue, err := q.contains(jobID)
	if err != nil {
		return false, err
	}
	if inQueue {
		q.logger.Debug("enqueue no-op, entry exists", "job_id", jobID)
		return false, nil
	}

	if err := q.c.EnsurePath(jobstate.EntriesPath(q.app)); err != nil {
		return false, fmt.Errorf("enqueue %s/%s: %w", q.app, jobID, err)
	}
	entry, err := q.c.CreateSeq(jobstate.EntriesPath(q.app), entryPrefix, []byte(jobID), false)
	if err != nil {
		return false, fmt.Errorf("enqueue %s/%s: create entry: %w", q.app, jobID, err)
	}
	if err := q.st.SetPending(q.app, jobID); err != nil {
		return false, err
	}
	q.logger.Info("job enqueued", "job_id", jobID, "entry", entry)
	return true, nil
}

// Get claims the lowest-numbered available entry, blocking until one exists
// or timeout elapses (ErrEmpty). timeout < 0 blocks until ctx is done.
// Entries whose job already has a live execute lock are skipped; the entry
// itself is not removed until Consume.
func (q *Queue) Get(ctx context.Context, timeout time.Duration) (*Claim, error) {
	if err := q.c.EnsurePath(jobstate.EntriesPath(q.app)); err != nil {
		return nil, fmt.Errorf("get %s: %w", q.app, err)
	}

	var deadline <-chan time.Time
	if timeout >= 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		deadline = t.C
	}

	for {
		entries, watch, err := q.c.ChildrenW(jobstate.EntriesPath(q.app))
		if err != nil {
			return nil, fmt.Errorf("get %s: list entries: %w", q.app, err)
		}
		coord.SortBySeq(entries)

		for _, name := range entries {
			cl, ok, err := q.tryClaim(ctx, name)
			if err != nil {
				return nil, err
			}
			if ok {
				return cl, nil
			}
		}

		relist := time.NewTimer(relistInterval)
		select {
		case <-watch:
			relist.Stop()
		case <-relist.C:
		case <-deadline:
			relist.Stop()
			return nil, ErrEmpty
		case <-ctx.Done():
			relist.Stop()
			return nil, ctx.Err()
		}
	}
}

// tryClaim attempts to take the execute lock for the entry's job. A held
// lock or a vanished entry is not an error, just not-claimable.
func (q *Queue) tryClaim(ctx context.Context, name string) (*Claim, bool, error) {
	entry := coord.Join(jobstate.EntriesPath(q.app), name)
	data, err := q.c.Get(entry)
	if err != nil {
		if errors.Is(err, coord.ErrNoNode) {
			return nil, false, nil // consumed between list and read
		}
		return nil, false, fmt.Errorf("get %s: read entry %s: %w", q.app, name, err)
	}
	jobID := string(data)

	mu := coord.NewMutex(q.c, jobstate.ExecLockPath(q.app, jobID))
	if err := mu.Acquire(ctx, 0); err != nil {
		if errors.Is(err, coord.ErrLockTimeout) {
			return nil, false, nil // claimed by another worker
		}
		return nil, false, fmt.Errorf("get %s: execute lock %s: %w", q.app, jobID, err)
	}

	// The entry may have been consumed while we took the lock.
	ok, err := q.c.Exists(entry)
	if err != nil || !ok {
		mu.Release()
		if err != nil {
			return nil, false, fmt.Errorf("get %s: recheck entry %s: %w", q.app, name, err)
		}
		return nil, false, nil
	}

	q.logger.Debug("job claimed", "job_id", jobID, "entry", entry)
	return &Claim{App: q.app, JobID: jobID, entry: entry, lock: mu}, true, nil
}

// Consume durably removes the claimed entry and releases its execute lock.
// Call exactly once after the terminal outcome is recorded. A worker that
// crashes before Consume leaves the entry behind; its execute lock dies
// with the session and another worker's Get reclaims the job.
func (q *Queue) Consume(cl *Claim) error {
	if err := q.c.Delete(cl.entry); err != nil && !errors.Is(err, coord.ErrNoNode) {
		return fmt.Errorf("consume %s/%s: delete entry: %w", q.app, cl.JobID, err)
	}
	if err := cl.lock.Release(); err != nil {
		return fmt.Errorf("consume %s/%s: %w", q.app, cl.JobID, err)
	}
	q.logger.Debug("entry consumed", "job_id", cl.JobID)
	return nil
}

// Put re-creates an entry for a previously claimed but not-yet-consumed
// job without touching its status. Administrative re-queue only; the
// crash-recovered entry enters at a new, later sequence position.
func (q *Queue) Put(jobID string) error {
	if err := q.c.EnsurePath(jobstate.EntriesPath(q.app)); err != nil {
		return fmt.Errorf("put %s/%s: %w", q.app, jobID, err)
	}
	entry, err := q.c.CreateSeq(jobstate.EntriesPath(q.app), entryPrefix, []byte(jobID), false)
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", q.app, jobID, err)
	}
	q.logger.Info("job re-queued", "job_id", jobID, "entry", entry)
	return nil
}

// Size returns the number of live entries.
func (q *Queue) Size() (int, error) {
	entries, err := q.c.Children(jobstate.EntriesPath(q.app))
	if err != nil {
		if errors.Is(err, coord.ErrNoNode) {
			return 0, nil
		}
		return 0, fmt.Errorf("size %s: %w", q.app, err)
	}
	return len(entries), nil
}

func (q *Queue) contains(jobID string) (bool, error) {
	entries, err := q.c.Children(jobstate.EntriesPath(q.app))
	if err != nil {
		if errors.Is(err, coord.ErrNoNode) {
			return false, nil
		}
		return false, fmt.Errorf("scan entries %s: %w", q.app, err)
	}
	for _, name := range entries {
		data, err := q.c.Get(coord.Join(jobstate.EntriesPath(q.app), name))
		if err != nil {
			if errors.Is(err, coord.ErrNoNode) {
				continue
			}
			return false, fmt.Errorf("scan entries %s: %w", q.app, err)
		}
		if string(data) == jobID {
			return true, nil
		}
	}
	return false, nil
}
