package coord

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCreateGetDelete(t *testing.T) {
	c := NewMemory().Session()

	require.NoError(t, c.EnsurePath("/a/b"))
	require.NoError(t, c.Create("/a/b/x", []byte("payload")))
	require.ErrorIs(t, c.Create("/a/b/x", nil), ErrNodeExists)
	require.ErrorIs(t, c.Create("/missing/parent/x", nil), ErrNoNode)

	data, err := c.Get("/a/b/x")
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	_, err = c.Get("/a/b/y")
	require.ErrorIs(t, err, ErrNoNode)

	require.ErrorIs(t, c.Delete("/a/b"), ErrNotEmpty)
	require.NoError(t, c.Delete("/a/b/x"))
	require.NoError(t, c.Delete("/a/b"))
}

func TestMemoryCreateSeqOrdering(t *testing.T) {
	c := NewMemory().Session()
	require.NoError(t, c.EnsurePath("/q"))

	first, err := c.CreateSeq("/q", "entry-", []byte("j1"), false)
	require.NoError(t, err)
	second, err := c.CreateSeq("/q", "entry-", []byte("j2"), false)
	require.NoError(t, err)

	assert.Equal(t, "/q/entry-0000000000", first)
	assert.Equal(t, "/q/entry-0000000001", second)
	assert.Less(t, SeqNum("entry-0000000000"), SeqNum("entry-0000000001"))
}

func TestMemorySessionDeathRemovesEphemerals(t *testing.T) {
	store := NewMemory()
	s1 := store.Session()
	s2 := store.Session()

	require.NoError(t, s1.EnsurePath("/locks"))
	node, err := s1.CreateSeq("/locks", "lock-", nil, true)
	require.NoError(t, err)

	ok, watch, err := s2.ExistsW(node)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, s1.Close())

	select {
	case <-watch:
	case <-time.After(time.Second):
		t.Fatal("exists watch did not fire on session death")
	}

	ok, err = s2.Exists(node)
	require.NoError(t, err)
	assert.False(t, ok, "ephemeral should be gone after session death")
}

func TestMemoryChildWatch(t *testing.T) {
	store := NewMemory()
	s1 := store.Session()
	s2 := store.Session()

	require.NoError(t, s1.EnsurePath("/q"))
	kids, watch, err := s2.ChildrenW("/q")
	require.NoError(t, err)
	assert.Empty(t, kids)

	_, err = s1.CreateSeq("/q", "entry-", []byte("j"), false)
	require.NoError(t, err)

	select {
	case <-watch:
	case <-time.After(time.Second):
		t.Fatal("child watch did not fire on entry creation")
	}
}

func TestMemoryMultiAllOrNothing(t *testing.T) {
	c := NewMemory().Session()
	require.NoError(t, c.EnsurePath("/a"))
	require.NoError(t, c.Create("/a/status", []byte("pending")))

	// Second op fails (missing parent); first must not be applied.
	err := c.Multi(
		Op{Kind: OpSet, Path: "/a/status", Data: []byte("completed")},
		Op{Kind: OpCreate, Path: "/missing/marker"},
	)
	require.ErrorIs(t, err, ErrNoNode)

	data, err := c.Get("/a/status")
	require.NoError(t, err)
	assert.Equal(t, "pending", string(data))

	require.NoError(t, c.EnsurePath("/b"))
	require.NoError(t, c.Multi(
		Op{Kind: OpSet, Path: "/a/status", Data: []byte("completed")},
		Op{Kind: OpCreate, Path: "/b/marker"},
	))
	data, _ = c.Get("/a/status")
	assert.Equal(t, "completed", string(data))
	ok, _ := c.Exists("/b/marker")
	assert.True(t, ok)
}

func TestNormalizeAndSeqNum(t *testing.T) {
	assert.Equal(t, "/a/b", Normalize("a/b"))
	assert.Equal(t, "/a/b", Normalize("/a//b/"))
	assert.Equal(t, "/", Normalize(""))
	assert.Equal(t, 42, SeqNum("lock-0000000042"))
	assert.Equal(t, -1, SeqNum("lock-"))
	assert.Equal(t, -1, SeqNum("status"))
}
