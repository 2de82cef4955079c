package jobstate

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/me/zkq/internal/coord"
	"github.com/me/zkq/pkg/model"
)

const (
	app = "test/etl"
	job = "20140606_1111_profile"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type staticHolder bool

func (h staticHolder) Held() (bool, error) { return bool(h), nil }

func newStore(t *testing.T) (*Store, coord.Client) {
	t.Helper()
	c := coord.NewMemory().Session()
	return New(c, newTestLogger()), c
}

func acquireExecLock(t *testing.T, c coord.Client) *coord.Mutex {
	t.Helper()
	m := coord.NewMutex(c, ExecLockPath(app, job))
	require.NoError(t, m.Acquire(context.Background(), 0))
	return m
}

func TestStatusDefaultsToPending(t *testing.T) {
	st, _ := newStore(t)
	got, err := st.Status(app, job)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, got)
}

func TestStatusEmptyNodeReadsPending(t *testing.T) {
	st, c := newStore(t)

	// Taking a lock materializes the status node with no payload, since
	// the lock directories live beneath it. That must still read pending.
	m := coord.NewMutex(c, AddLockPath(app, job))
	require.NoError(t, m.Acquire(context.Background(), 0))
	defer m.Release()

	ok, err := c.Exists(StatusPath(app, job))
	require.NoError(t, err)
	require.True(t, ok, "lock acquisition creates the status node")

	got, err := st.Status(app, job)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, got)
}

func TestMarkCompletedRequiresLockHolder(t *testing.T) {
	st, _ := newStore(t)

	require.ErrorIs(t, st.MarkCompleted(app, job, nil), ErrNotLockHolder)
	require.ErrorIs(t, st.MarkCompleted(app, job, staticHolder(false)), ErrNotLockHolder)

	got, err := st.Status(app, job)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, got, "rejected finalize must not alter state")
}

func TestMarkCompletedWritesCompletionRecord(t *testing.T) {
	st, c := newStore(t)
	require.NoError(t, st.SetPending(app, job))
	m := acquireExecLock(t, c)

	require.NoError(t, st.MarkCompleted(app, job, m))

	got, err := st.Status(app, job)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, got)

	ok, err := c.Exists(SubtaskPath(app, job))
	require.NoError(t, err)
	assert.True(t, ok, "completion must write the subtask record")
}

func TestTerminalStatusIsImmutable(t *testing.T) {
	st, c := newStore(t)
	require.NoError(t, st.SetPending(app, job))
	m := acquireExecLock(t, c)
	require.NoError(t, st.MarkCompleted(app, job, m))

	require.ErrorIs(t, st.MarkFailed(app, job, model.ReasonNonZeroExit), ErrInvalidTransition)
	require.ErrorIs(t, st.MarkSkipped(app, job, staticHolder(true)), ErrInvalidTransition)
	require.ErrorIs(t, st.MarkCompleted(app, job, staticHolder(true)), ErrInvalidTransition)

	got, err := st.Status(app, job)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, got, "terminal state must survive rejected transitions")
}

func TestMarkFailedReleasesExecuteLocks(t *testing.T) {
	st, c := newStore(t)
	require.NoError(t, st.SetPending(app, job))
	acquireExecLock(t, c)

	require.NoError(t, st.MarkFailed(app, job, model.ReasonTimedOut))

	v, err := st.View(app, job)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, v.State)
	assert.Zero(t, v.NumExecuteLocks, "failure must leave no execute lock")
	assert.Zero(t, v.NumAddLocks)
}

func TestMarkSkipped(t *testing.T) {
	st, c := newStore(t)
	require.NoError(t, st.SetPending(app, job))
	m := acquireExecLock(t, c)

	require.NoError(t, st.MarkSkipped(app, job, m))

	got, err := st.Status(app, job)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSkipped, got)

	ok, err := c.Exists(SubtaskPath(app, job))
	require.NoError(t, err)
	assert.False(t, ok, "skip must not write a completion record")
}

func TestViewReflectsQueueAndLocks(t *testing.T) {
	st, c := newStore(t)
	require.NoError(t, st.SetPending(app, job))
	require.NoError(t, c.EnsurePath(EntriesPath(app)))
	_, err := c.CreateSeq(EntriesPath(app), "entry-", []byte(job), false)
	require.NoError(t, err)
	_, err = c.CreateSeq(EntriesPath(app), "entry-", []byte("20140607_2222_profile"), false)
	require.NoError(t, err)
	acquireExecLock(t, c)

	v, err := st.View(app, job)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, v.State)
	assert.True(t, v.InQueue)
	assert.Equal(t, 2, v.QueueSize)
	assert.Equal(t, 1, v.NumExecuteLocks)
	assert.Equal(t, 0, v.NumAddLocks)
}
