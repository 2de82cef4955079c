package coord

import (
	"context"
	"fmt"
	"path"
	"time"
)

const lockPrefix = "lock-"

// Mutex is a fair distributed lock built from sequential ephemeral markers
// under a lock directory. The lowest-numbered live marker holds the lock;
// waiters watch only their immediate predecessor, so release wakes exactly
// the next waiter in sequence order. A holder whose session dies loses its
// marker automatically — that is the only recovery path for a stuck lock.
type Mutex struct {
	c    Client
	dir  string
	node string
}

// NewMutex returns an unacquired mutex over the given lock directory.
func NewMutex(c Client, dir string) *Mutex {
	return &Mutex{c: c, dir: Normalize(dir)}
}

// Acquire blocks until the lock is held or timeout elapses, failing with
// ErrLockTimeout in the latter case. timeout == 0 tries exactly once;
// timeout < 0 waits bounded only by ctx. On every failure path the caller's
// marker is removed, leaving no residual state.
func (m *Mutex) Acquire(ctx context.Context, timeout time.Duration) error {
	if m.node != "" {
		return fmt.Errorf("mutex %s: already acquired", m.dir)
	}
	if err := m.c.EnsurePath(m.dir); err != nil {
		return fmt.Errorf("mutex %s: ensure dir: %w", m.dir, err)
	}
	node, err := m.c.CreateSeq(m.dir, lockPrefix, nil, true)
	if err != nil {
		return fmt.Errorf("mutex %s: create marker: %w", m.dir, err)
	}
	m.node = node

	var deadline <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		deadline = t.C
	}

	mine := path.Base(m.node)
	for {
		pred, held, err := m.predecessor(mine)
		if err != nil {
			m.abandon()
			return err
		}
		if held {
			return nil
		}
		if timeout == 0 {
			m.abandon()
			return ErrLockTimeout
		}

		ok, watch, err := m.c.ExistsW(m.dir + "/" + pred)
		if err != nil {
			m.abandon()
			return err
		}
		if !ok {
			continue // predecessor vanished between listing and watching
		}
		select {
		case <-watch:
		case <-deadline:
			m.abandon()
			return ErrLockTimeout
		case <-ctx.Done():
			m.abandon()
			return ctx.Err()
		}
	}
}

// predecessor lists the live markers and returns the one immediately below
// mine, or held=true when mine is the lowest.
func (m *Mutex) predecessor(mine string) (string, bool, error) {
	kids, err := m.c.Children(m.dir)
	if err != nil {
		return "", false, fmt.Errorf("mutex %s: list markers: %w", m.dir, err)
	}
	SortBySeq(kids)
	prev := ""
	for _, k := range kids {
		if k == mine {
			return prev, prev == "", nil
		}
		prev = k
	}
	return "", false, fmt.Errorf("mutex %s: own marker %s disappeared", m.dir, mine)
}

func (m *Mutex) abandon() {
	if m.node != "" {
		m.c.Delete(m.node)
		m.node = ""
	}
}

// Release deletes the caller's marker, waking the next waiter. Releasing a
// lock whose marker is already gone (forced release, session churn) is not
// an error.
func (m *Mutex) Release() error {
	if m.node == "" {
		return nil
	}
	err := m.c.Delete(m.node)
	m.node = ""
	if err != nil && err != ErrNoNode {
		return fmt.Errorf("mutex %s: release: %w", m.dir, err)
	}
	return nil
}

// Held verifies ownership against the live marker set. It re-reads the
// service on every call; lock state is never cached across calls.
func (m *Mutex) Held() (bool, error) {
	if m.node == "" {
		return false, nil
	}
	kids, err := m.c.Children(m.dir)
	if err != nil {
		if err == ErrNoNode {
			return false, nil
		}
		return false, err
	}
	if len(kids) == 0 {
		return false, nil
	}
	SortBySeq(kids)
	return kids[0] == path.Base(m.node), nil
}

// Node returns the path of the caller's marker, empty when unacquired.
func (m *Mutex) Node() string {
	return m.node
}
