// Package jobstate persists the lifecycle state of each (app, job_id) pair
// in the coordination service and derives the diagnostic status view from
// the live node tree.
package jobstate

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/me/zkq/internal/coord"
	"github.com/me/zkq/pkg/model"
)

var (
	// ErrInvalidTransition is returned when a terminal job is finalized
	// again. Terminal states are immutable.
	ErrInvalidTransition = errors.New("jobstate: status is terminal")

	// ErrNotLockHolder is returned when a caller finalizes a job without
	// holding its execute lock. Indicates a protocol violation.
	ErrNotLockHolder = errors.New("jobstate: caller does not hold the execute lock")
)

// Node layout per app A and job J:
//
//	A/entries/entry-<seq>      queue entries, payload = job_id
//	A/all_subtasks/<job_id>    completion record
//	A/<job_id>                 payload = status string
//	A/<job_id>/execute_lock/   ephemeral lock markers
//	A/<job_id>/add_lock/       ephemeral lock markers
func StatusPath(app, jobID string) string   { return coord.Join(app, jobID) }
func EntriesPath(app string) string         { return coord.Join(app, "entries") }
func SubtasksPath(app string) string        { return coord.Join(app, "all_subtasks") }
func SubtaskPath(app, jobID string) string  { return coord.Join(app, "all_subtasks", jobID) }
func AddLockPath(app, jobID string) string  { return coord.Join(app, jobID, "add_lock") }
func ExecLockPath(app, jobID string) string { return coord.Join(app, jobID, "execute_lock") }

// Holder is the claim evidence a caller presents when finalizing a job.
// Satisfied by *coord.Mutex; ownership is re-verified against the live
// marker set, never from cached state.
type Holder interface {
	Held() (bool, error)
}

// Store reads and writes job lifecycle state.
type Store struct {
	c      coord.Client
	logger *slog.Logger
}

// New creates a Store over the given coordination session.
func New(c coord.Client, logger *slog.Logger) *Store {
	return &Store{c: c, logger: logger.With("component", "jobstate")}
}

// Status returns the persisted status of a job. A job with no status node
// has never reached a terminal state and therefore reads as pending. The
// same holds for an empty payload: lock directories live under the status
// node, so ensuring a lock path materializes it with no data before any
// status was written.
func (s *Store) Status(app, jobID string) (model.JobStatus, error) {
	data, err := s.c.Get(StatusPath(app, jobID))
	if err != nil {
		if errors.Is(err, coord.ErrNoNode) {
			return model.StatusPending, nil
		}
		return "", fmt.Errorf("read status %s/%s: %w", app, jobID, err)
	}
	if len(data) == 0 {
		return model.StatusPending, nil
	}
	st := model.JobStatus(data)
	if !st.Valid() {
		return "", fmt.Errorf("read status %s/%s: unknown state %q", app, jobID, data)
	}
	return st, nil
}

// SetPending writes status=pending, creating the node if needed. Called by
// the queue under the add lock when an entry is created.
func (s *Store) SetPending(app, jobID string) error {
	return s.write(app, jobID, model.StatusPending, nil)
}

// MarkCompleted transitions the job to completed and writes its
// subtask-completion record in the same transaction. The caller must hold
// the job's execute lock; entry and lock cleanup remain the caller's
// responsibility via a subsequent queue consume.
func (s *Store) MarkCompleted(app, jobID string, holder Holder) error {
	if err := s.requireHolder(app, jobID, holder); err != nil {
		return err
	}
	if err := s.requireNonTerminal(app, jobID); err != nil {
		return err
	}
	if err := s.c.EnsurePath(SubtasksPath(app)); err != nil {
		return fmt.Errorf("mark completed %s/%s: %w", app, jobID, err)
	}
	record := coord.Op{Kind: coord.OpCreate, Path: SubtaskPath(app, jobID)}
	if err := s.write(app, jobID, model.StatusCompleted, &record); err != nil {
		return err
	}
	s.logger.Info("job completed", "app", app, "job_id", jobID)
	return nil
}

// MarkSkipped transitions the job to skipped. Same claim contract as
// MarkCompleted, without a completion record.
func (s *Store) MarkSkipped(app, jobID string, holder Holder) error {
	if err := s.requireHolder(app, jobID, holder); err != nil {
		return err
	}
	if err := s.requireNonTerminal(app, jobID); err != nil {
		return err
	}
	if err := s.write(app, jobID, model.StatusSkipped, nil); err != nil {
		return err
	}
	s.logger.Info("job skipped", "app", app, "job_id", jobID)
	return nil
}

// MarkFailed transitions the job to failed and force-releases any execute
// lock markers so no claim survives the failure. No holder is required:
// failure may be recorded on behalf of a worker that is already gone.
func (s *Store) MarkFailed(app, jobID, reason string) error {
	if err := s.requireNonTerminal(app, jobID); err != nil {
		return err
	}
	if err := s.write(app, jobID, model.StatusFailed, nil); err != nil {
		return err
	}
	if err := s.releaseExecuteLocks(app, jobID); err != nil {
		return err
	}
	s.logger.Warn("job failed", "app", app, "job_id", jobID, "reason", reason)
	return nil
}

// View assembles the diagnostic status view from the live tree.
func (s *Store) View(app, jobID string) (model.StatusView, error) {
	var v model.StatusView

	st, err := s.Status(app, jobID)
	if err != nil {
		return v, err
	}
	v.State = st

	v.NumAddLocks, err = s.countChildren(AddLockPath(app, jobID))
	if err != nil {
		return v, err
	}
	v.NumExecuteLocks, err = s.countChildren(ExecLockPath(app, jobID))
	if err != nil {
		return v, err
	}

	entries, err := s.c.Children(EntriesPath(app))
	if err != nil {
		if errors.Is(err, coord.ErrNoNode) {
			return v, nil
		}
		return v, fmt.Errorf("list entries %s: %w", app, err)
	}
	v.QueueSize = len(entries)
	for _, e := range entries {
		data, err := s.c.Get(coord.Join(EntriesPath(app), e))
		if err != nil {
			if errors.Is(err, coord.ErrNoNode) {
				continue // consumed while scanning
			}
			return v, fmt.Errorf("read entry %s/%s: %w", app, e, err)
		}
		if string(data) == jobID {
			v.InQueue = true
			break
		}
	}
	return v, nil
}

func (s *Store) requireHolder(app, jobID string, holder Holder) error {
	if holder == nil {
		return ErrNotLockHolder
	}
	held, err := holder.Held()
	if err != nil {
		return fmt.Errorf("verify execute lock %s/%s: %w", app, jobID, err)
	}
	if !held {
		return ErrNotLockHolder
	}
	return nil
}

func (s *Store) requireNonTerminal(app, jobID string) error {
	st, err := s.Status(app, jobID)
	if err != nil {
		return err
	}
	if st.Terminal() {
		return fmt.Errorf("%w: %s/%s is %s", ErrInvalidTransition, app, jobID, st)
	}
	return nil
}

// write commits the status value plus an optional extra op atomically.
func (s *Store) write(app, jobID string, st model.JobStatus, extra *coord.Op) error {
	p := StatusPath(app, jobID)
	exists, err := s.c.Exists(p)
	if err != nil {
		return fmt.Errorf("write status %s/%s: %w", app, jobID, err)
	}
	var op coord.Op
	if exists {
		op = coord.Op{Kind: coord.OpSet, Path: p, Data: []byte(st)}
	} else {
		if err := s.c.EnsurePath(coord.Join(app)); err != nil {
			return fmt.Errorf("write status %s/%s: %w", app, jobID, err)
		}
		op = coord.Op{Kind: coord.OpCreate, Path: p, Data: []byte(st)}
	}
	ops := []coord.Op{op}
	if extra != nil {
		ops = append(ops, *extra)
	}
	if err := s.c.Multi(ops...); err != nil {
		return fmt.Errorf("write status %s/%s: %w", app, jobID, err)
	}
	return nil
}

func (s *Store) releaseExecuteLocks(app, jobID string) error {
	dir := ExecLockPath(app, jobID)
	kids, err := s.c.Children(dir)
	if err != nil {
		if errors.Is(err, coord.ErrNoNode) {
			return nil
		}
		return fmt.Errorf("release execute locks %s/%s: %w", app, jobID, err)
	}
	for _, k := range kids {
		if err := s.c.Delete(coord.Join(dir, k)); err != nil && !errors.Is(err, coord.ErrNoNode) {
			return fmt.Errorf("release execute locks %s/%s: %w", app, jobID, err)
		}
	}
	return nil
}

func (s *Store) countChildren(dir string) (int, error) {
	kids, err := s.c.Children(dir)
	if err != nil {
		if errors.Is(err, coord.ErrNoNode) {
			return 0, nil
		}
		return 0, fmt.Errorf("count %s: %w", dir, err)
	}
	return len(kids), nil
}
