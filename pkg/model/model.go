// Package model holds the domain types shared between the queue core,
// the executors, and the monitoring surface.
package model

import "time"

// JobStatus is the persisted lifecycle state of one (app, job_id) pair.
// Pending is the only non-terminal state; it covers both "queued" and
// "claimed, executing". The two sub-phases are distinguished by whether an
// execute lock currently exists, never by a separate status value.
type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
	StatusSkipped   JobStatus = "skipped"
)

// Terminal reports whether no further transition is permitted from s.
func (s JobStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusSkipped:
		return true
	}
	return false
}

// Valid reports whether s is one of the four known states.
func (s JobStatus) Valid() bool {
	return s == StatusPending || s.Terminal()
}

// StatusView is the diagnostic view of one job as observed through the
// coordination service. Operators and tests assert against it; the core
// itself makes no control decisions from it.
type StatusView struct {
	State           JobStatus `json:"state"`
	InQueue         bool      `json:"in_queue"`
	NumExecuteLocks int       `json:"num_execute_locks"`
	NumAddLocks     int       `json:"num_add_locks"`
	QueueSize       int       `json:"queue_size"`
}

// KilledExitCode is the sentinel exit code reported when the watchdog kills
// a job for exceeding its deadline, distinguishing a timeout kill from a
// genuine non-zero process exit.
const KilledExitCode = -9

// Outcome classifies a finished execution.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeTimeout Outcome = "timeout"
)

// ClassifyExit maps a watchdog exit code to an Outcome.
func ClassifyExit(code int) Outcome {
	switch {
	case code == 0:
		return OutcomeSuccess
	case code == KilledExitCode:
		return OutcomeTimeout
	default:
		return OutcomeFailure
	}
}

// Distinguished failure reasons recorded when a job is marked failed.
const (
	ReasonTimedOut    = "timed out"
	ReasonNonZeroExit = "non-zero exit"
)

// Run is one recorded execution attempt, journaled by the worker.
type Run struct {
	ID         string    `json:"id"`
	App        string    `json:"app"`
	JobID      string    `json:"job_id"`
	WorkerID   string    `json:"worker_id"`
	Outcome    Outcome   `json:"outcome"`
	ExitCode   int       `json:"exit_code"`
	Stdout     string    `json:"stdout"`
	Stderr     string    `json:"stderr"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Duration returns the wall-clock time the run took.
func (r Run) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
