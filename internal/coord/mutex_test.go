package coord

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMutexAcquireRelease(t *testing.T) {
	c := NewMemory().Session()
	m := NewMutex(c, "/app/job/execute_lock")

	require.NoError(t, m.Acquire(context.Background(), 0))
	held, err := m.Held()
	require.NoError(t, err)
	assert.True(t, held)

	require.NoError(t, m.Release())
	held, err = m.Held()
	require.NoError(t, err)
	assert.False(t, held)

	// Reusable after release.
	require.NoError(t, m.Acquire(context.Background(), 0))
	require.NoError(t, m.Release())
}

func TestMutexContentionTimesOut(t *testing.T) {
	store := NewMemory()
	s1, s2 := store.Session(), store.Session()

	holder := NewMutex(s1, "/app/job/execute_lock")
	require.NoError(t, holder.Acquire(context.Background(), 0))

	waiter := NewMutex(s2, "/app/job/execute_lock")
	err := waiter.Acquire(context.Background(), 50*time.Millisecond)
	require.ErrorIs(t, err, ErrLockTimeout)

	// The failed waiter must leave no marker behind.
	kids, err := s1.Children("/app/job/execute_lock")
	require.NoError(t, err)
	assert.Len(t, kids, 1)
}

func TestMutexFIFOHandoff(t *testing.T) {
	store := NewMemory()
	s1, s2, s3 := store.Session(), store.Session(), store.Session()
	dir := "/app/job/execute_lock"

	first := NewMutex(s1, dir)
	require.NoError(t, first.Acquire(context.Background(), 0))

	order := make(chan int, 2)
	start := func(n int, c Client) {
		m := NewMutex(c, dir)
		require.NoError(t, m.Acquire(context.Background(), 5*time.Second))
		order <- n
		require.NoError(t, m.Release())
	}

	go start(2, s2)
	waitForMarkers(t, s1, dir, 2)
	go start(3, s3)
	waitForMarkers(t, s1, dir, 3)

	require.NoError(t, first.Release())

	assert.Equal(t, 2, <-order, "earliest waiter must be woken first")
	assert.Equal(t, 3, <-order)
}

func TestMutexSessionDeathReleases(t *testing.T) {
	store := NewMemory()
	s1, s2 := store.Session(), store.Session()
	dir := "/app/job/execute_lock"

	holder := NewMutex(s1, dir)
	require.NoError(t, holder.Acquire(context.Background(), 0))

	done := make(chan error, 1)
	go func() {
		m := NewMutex(s2, dir)
		done <- m.Acquire(context.Background(), 5*time.Second)
	}()
	waitForMarkers(t, s2, dir, 2)

	require.NoError(t, s1.Close())

	select {
	case err := <-done:
		require.NoError(t, err, "lock should pass to the waiter on session death")
	case <-time.After(5 * time.Second):
		t.Fatal("waiter never acquired after holder session died")
	}
}

func TestMutexContextCancellation(t *testing.T) {
	store := NewMemory()
	s1, s2 := store.Session(), store.Session()
	dir := "/app/job/add_lock"

	holder := NewMutex(s1, dir)
	require.NoError(t, holder.Acquire(context.Background(), 0))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		m := NewMutex(s2, dir)
		done <- m.Acquire(ctx, -1)
	}()
	waitForMarkers(t, s2, dir, 2)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("acquire did not observe cancellation")
	}

	kids, err := s1.Children(dir)
	require.NoError(t, err)
	assert.Len(t, kids, 1, "cancelled waiter must clean up its marker")
}

func waitForMarkers(t *testing.T, c Client, dir string, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		kids, err := c.Children(dir)
		require.NoError(t, err)
		if len(kids) >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("never saw %d markers under %s", n, dir)
}
