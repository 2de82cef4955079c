// Package coord wraps the hierarchical coordination service the queue core
// is built on. It exposes the small primitive set the rest of the system
// needs — atomic create/delete, ephemeral and sequential nodes, existence
// and child watches — behind a Client interface with a ZooKeeper
// implementation for production and an in-process implementation for tests.
package coord

import (
	"errors"
	"path"
	"sort"
	"strconv"
	"strings"
)

var (
	// ErrNodeExists is returned by Create when the node already exists.
	ErrNodeExists = errors.New("coord: node already exists")

	// ErrNoNode is returned when the target node does not exist.
	ErrNoNode = errors.New("coord: no node")

	// ErrNotEmpty is returned by Delete when the node still has children.
	ErrNotEmpty = errors.New("coord: node has children")

	// ErrLockTimeout is returned by Mutex.Acquire when the lock could not
	// be taken within the caller's timeout. Expected and recoverable.
	ErrLockTimeout = errors.New("coord: lock acquire timed out")

	// ErrClosed is returned on any operation after Close.
	ErrClosed = errors.New("coord: client closed")
)

// OpKind selects the operation type inside a Multi transaction.
type OpKind int

const (
	OpCreate OpKind = iota
	OpSet
	OpDelete
)

// Op is one operation in a Multi transaction.
type Op struct {
	Kind OpKind
	Path string
	Data []byte
}

// Client is a session-scoped handle to the coordination service. Ephemeral
// nodes created through a Client are removed automatically when its session
// dies; that removal is the system's sole crash-recovery mechanism.
//
// Watches are one-shot: the returned channel is closed on the first change
// and callers must re-register.
type Client interface {
	// Create makes a persistent node, failing with ErrNodeExists if it is
	// already there. The parent must exist.
	Create(path string, data []byte) error

	// CreateSeq makes a node named prefix plus a monotonically increasing
	// zero-padded sequence number under dir, returning the full path.
	CreateSeq(dir, prefix string, data []byte, ephemeral bool) (string, error)

	// EnsurePath creates the node and any missing parents, ignoring nodes
	// that already exist.
	EnsurePath(path string) error

	Get(path string) ([]byte, error)
	Set(path string, data []byte) error
	Exists(path string) (bool, error)
	Children(path string) ([]string, error)
	Delete(path string) error

	// ExistsW is Exists plus a watch that fires when the node is created
	// or deleted.
	ExistsW(path string) (bool, <-chan struct{}, error)

	// ChildrenW is Children plus a watch that fires when a direct child is
	// created or deleted.
	ChildrenW(path string) ([]string, <-chan struct{}, error)

	// Multi applies all ops atomically, or none of them.
	Multi(ops ...Op) error

	// Close terminates the session, removing every ephemeral node it owns.
	Close() error
}

// Normalize cleans p into the canonical absolute form used as a node key.
func Normalize(p string) string {
	return path.Clean("/" + strings.TrimPrefix(p, "/"))
}

// Join joins path segments into a normalized node path.
func Join(parts ...string) string {
	return Normalize(path.Join(parts...))
}

// SeqNum extracts the trailing sequence number from a sequential node name,
// returning -1 when the name carries none.
func SeqNum(name string) int {
	i := len(name)
	for i > 0 && name[i-1] >= '0' && name[i-1] <= '9' {
		i--
	}
	if i == len(name) {
		return -1
	}
	n, err := strconv.Atoi(name[i:])
	if err != nil {
		return -1
	}
	return n
}

// SortBySeq orders sequential node names by their sequence number.
func SortBySeq(names []string) {
	sort.Slice(names, func(i, j int) bool {
		return SeqNum(names[i]) < SeqNum(names[j])
	})
}
