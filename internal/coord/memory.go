package coord

import (
	"fmt"
	"path"
	"strings"
	"sync"
)

// Memory is an in-process coordination service shared by any number of
// sessions. It mirrors the semantics the queue core relies on — ephemeral
// ownership, sequential naming, one-shot watches, session-death cleanup —
// closely enough that every protocol test runs against it without a real
// ZooKeeper. Not intended for production use.
type Memory struct {
	mu          sync.Mutex
	nodes       map[string]*mnode
	childWatch  map[string][]chan struct{}
	existWatch  map[string][]chan struct{}
	nextSession int64
}

type mnode struct {
	data    []byte
	owner   int64 // session id for ephemerals, 0 for persistent nodes
	nextSeq int64
}

// NewMemory creates an empty in-process coordination service.
func NewMemory() *Memory {
	return &Memory{
		nodes:      map[string]*mnode{"/": {}},
		childWatch: make(map[string][]chan struct{}),
		existWatch: make(map[string][]chan struct{}),
	}
}

// Session opens a new session. Closing the returned client removes every
// ephemeral node it created, exactly like a session expiry would.
func (m *Memory) Session() *MemClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextSession++
	return &MemClient{store: m, session: m.nextSession}
}

// fire wakes and removes all one-shot watches registered in reg for p.
func fire(reg map[string][]chan struct{}, p string) {
	for _, ch := range reg[p] {
		close(ch)
	}
	delete(reg, p)
}

func (m *Memory) notifyCreated(p string) {
	fire(m.existWatch, p)
	fire(m.childWatch, path.Dir(p))
}

func (m *Memory) notifyDeleted(p string) {
	fire(m.existWatch, p)
	fire(m.childWatch, path.Dir(p))
}

func (m *Memory) hasChildren(p string) bool {
	for k := range m.nodes {
		if k != "/" && path.Dir(k) == p {
			return true
		}
	}
	return false
}

func (m *Memory) childrenOf(p string) []string {
	var kids []string
	for k := range m.nodes {
		if k != "/" && path.Dir(k) == p {
			kids = append(kids, path.Base(k))
		}
	}
	return kids
}

// create inserts a node. Caller holds m.mu.
func (m *Memory) create(p string, data []byte, owner int64) error {
	if _, ok := m.nodes[p]; ok {
		return ErrNodeExists
	}
	if _, ok := m.nodes[path.Dir(p)]; !ok {
		return ErrNoNode
	}
	m.nodes[p] = &mnode{data: data, owner: owner}
	m.notifyCreated(p)
	return nil
}

// delete removes a node. Caller holds m.mu.
func (m *Memory) delete(p string) error {
	if _, ok := m.nodes[p]; !ok {
		return ErrNoNode
	}
	if m.hasChildren(p) {
		return ErrNotEmpty
	}
	delete(m.nodes, p)
	m.notifyDeleted(p)
	return nil
}

// MemClient is one session against a Memory store.
type MemClient struct {
	store   *Memory
	session int64
	closed  bool
}

func (c *MemClient) Create(p string, data []byte) error {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	return c.store.create(Normalize(p), data, 0)
}

func (c *MemClient) CreateSeq(dir, prefix string, data []byte, ephemeral bool) (string, error) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	if c.closed {
		return "", ErrClosed
	}
	d := Normalize(dir)
	parent, ok := c.store.nodes[d]
	if !ok {
		return "", ErrNoNode
	}
	name := fmt.Sprintf("%s%010d", prefix, parent.nextSeq)
	parent.nextSeq++
	owner := int64(0)
	if ephemeral {
		owner = c.session
	}
	p := d + "/" + name
	if err := c.store.create(p, data, owner); err != nil {
		return "", err
	}
	return p, nil
}

func (c *MemClient) EnsurePath(p string) error {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	full := Normalize(p)
	if full == "/" {
		return nil
	}
	cur := ""
	for _, part := range strings.Split(strings.Trim(full, "/"), "/") {
		cur += "/" + part
		if err := c.store.create(cur, nil, 0); err != nil && err != ErrNodeExists {
			return err
		}
	}
	return nil
}

func (c *MemClient) Get(p string) ([]byte, error) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	n, ok := c.store.nodes[Normalize(p)]
	if !ok {
		return nil, ErrNoNode
	}
	return append([]byte(nil), n.data...), nil
}

func (c *MemClient) Set(p string, data []byte) error {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	n, ok := c.store.nodes[Normalize(p)]
	if !ok {
		return ErrNoNode
	}
	n.data = append([]byte(nil), data...)
	return nil
}

func (c *MemClient) Exists(p string) (bool, error) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	if c.closed {
		return false, ErrClosed
	}
	_, ok := c.store.nodes[Normalize(p)]
	return ok, nil
}

func (c *MemClient) Children(p string) ([]string, error) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	full := Normalize(p)
	if _, ok := c.store.nodes[full]; !ok {
		return nil, ErrNoNode
	}
	return c.store.childrenOf(full), nil
}

func (c *MemClient) Delete(p string) error {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	return c.store.delete(Normalize(p))
}

func (c *MemClient) ExistsW(p string) (bool, <-chan struct{}, error) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	if c.closed {
		return false, nil, ErrClosed
	}
	full := Normalize(p)
	ch := make(chan struct{})
	c.store.existWatch[full] = append(c.store.existWatch[full], ch)
	_, ok := c.store.nodes[full]
	return ok, ch, nil
}

func (c *MemClient) ChildrenW(p string) ([]string, <-chan struct{}, error) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	if c.closed {
		return nil, nil, ErrClosed
	}
	full := Normalize(p)
	if _, ok := c.store.nodes[full]; !ok {
		return nil, nil, ErrNoNode
	}
	ch := make(chan struct{})
	c.store.childWatch[full] = append(c.store.childWatch[full], ch)
	return c.store.childrenOf(full), ch, nil
}

func (c *MemClient) Multi(ops ...Op) error {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	// Validate every op before applying any, so the batch is all-or-nothing.
	for _, op := range ops {
		p := Normalize(op.Path)
		switch op.Kind {
		case OpCreate:
			if _, ok := c.store.nodes[p]; ok {
				return ErrNodeExists
			}
			if _, ok := c.store.nodes[path.Dir(p)]; !ok {
				return ErrNoNode
			}
		case OpSet:
			if _, ok := c.store.nodes[p]; !ok {
				return ErrNoNode
			}
		case OpDelete:
			if _, ok := c.store.nodes[p]; !ok {
				return ErrNoNode
			}
			if c.store.hasChildren(p) {
				return ErrNotEmpty
			}
		}
	}
	for _, op := range ops {
		p := Normalize(op.Path)
		switch op.Kind {
		case OpCreate:
			c.store.create(p, op.Data, 0)
		case OpSet:
			c.store.nodes[p].data = append([]byte(nil), op.Data...)
		case OpDelete:
			c.store.delete(p)
		}
	}
	return nil
}

// Close ends the session and removes its ephemeral nodes, firing the same
// watches a real session expiry would.
func (c *MemClient) Close() error {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	for p, n := range c.store.nodes {
		if n.owner == c.session {
			delete(c.store.nodes, p)
			c.store.notifyDeleted(p)
		}
	}
	return nil
}
