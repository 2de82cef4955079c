package coord

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-zookeeper/zk"
)

// ZKConfig holds connection settings for the ZooKeeper backend.
type ZKConfig struct {
	Servers        []string      `yaml:"servers"`
	SessionTimeout time.Duration `yaml:"session_timeout"`
	// Chroot is prefixed to every path, isolating this deployment's tree.
	Chroot string `yaml:"chroot"`
}

// ZK implements Client on top of a ZooKeeper session.
type ZK struct {
	conn   *zk.Conn
	chroot string
	logger *slog.Logger
}

var zkACL = zk.WorldACL(zk.PermAll)

// ConnectZK opens a ZooKeeper session. The session timeout bounds how long
// a crashed worker's ephemeral nodes linger before the service reclaims them.
func ConnectZK(cfg ZKConfig, logger *slog.Logger) (*ZK, error) {
	servers := cfg.Servers
	if len(servers) == 0 {
		servers = []string{"127.0.0.1:2181"}
	}
	timeout := cfg.SessionTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	conn, events, err := zk.Connect(servers, timeout, zk.WithLogInfo(false))
	if err != nil {
		return nil, fmt.Errorf("connect zookeeper %v: %w", servers, err)
	}

	c := &ZK{
		conn:   conn,
		chroot: strings.TrimSuffix(Normalize(cfg.Chroot), "/"),
		logger: logger.With("component", "coord"),
	}
	if c.chroot == "/" {
		c.chroot = ""
	}

	// Drain session events so the library's channel never blocks.
	go func() {
		for ev := range events {
			if ev.State == zk.StateExpired {
				c.logger.Error("zookeeper session expired")
			}
		}
	}()

	if c.chroot != "" {
		if err := c.EnsurePath("/"); err != nil {
			conn.Close()
			return nil, fmt.Errorf("create chroot %s: %w", c.chroot, err)
		}
	}
	return c, nil
}

func (c *ZK) abs(p string) string {
	return Normalize(c.chroot + Normalize(p))
}

func zkErr(err error) error {
	switch {
	case err == nil:
		return nil
	case err == zk.ErrNodeExists:
		return ErrNodeExists
	case err == zk.ErrNoNode:
		return ErrNoNode
	case err == zk.ErrNotEmpty:
		return ErrNotEmpty
	default:
		return err
	}
}

// watchChan adapts a one-shot ZooKeeper event channel to a close-only signal.
func watchChan(events <-chan zk.Event) <-chan struct{} {
	ch := make(chan struct{})
	go func() {
		<-events
		close(ch)
	}()
	return ch
}

func (c *ZK) Create(path string, data []byte) error {
	_, err := c.conn.Create(c.abs(path), data, 0, zkACL)
	return zkErr(err)
}

func (c *ZK) CreateSeq(dir, prefix string, data []byte, ephemeral bool) (string, error) {
	flags := int32(zk.FlagSequence)
	if ephemeral {
		flags |= zk.FlagEphemeral
	}
	created, err := c.conn.Create(c.abs(dir)+"/"+prefix, data, flags, zkACL)
	if err != nil {
		return "", zkErr(err)
	}
	// Strip the chroot so callers see the same namespace they write.
	return Normalize(strings.TrimPrefix(created, c.chroot)), nil
}

func (c *ZK) EnsurePath(p string) error {
	full := c.abs(p)
	parts := strings.Split(strings.Trim(full, "/"), "/")
	cur := ""
	for _, part := range parts {
		if part == "" {
			continue
		}
		cur += "/" + part
		_, err := c.conn.Create(cur, nil, 0, zkACL)
		if err != nil && err != zk.ErrNodeExists {
			return fmt.Errorf("ensure %s: %w", cur, zkErr(err))
		}
	}
	return nil
}

func (c *ZK) Get(path string) ([]byte, error) {
	data, _, err := c.conn.Get(c.abs(path))
	return data, zkErr(err)
}

func (c *ZK) Set(path string, data []byte) error {
	_, err := c.conn.Set(c.abs(path), data, -1)
	return zkErr(err)
}

func (c *ZK) Exists(path string) (bool, error) {
	ok, _, err := c.conn.Exists(c.abs(path))
	return ok, zkErr(err)
}

func (c *ZK) Children(path string) ([]string, error) {
	kids, _, err := c.conn.Children(c.abs(path))
	return kids, zkErr(err)
}

func (c *ZK) Delete(path string) error {
	return zkErr(c.conn.Delete(c.abs(path), -1))
}

func (c *ZK) ExistsW(path string) (bool, <-chan struct{}, error) {
	ok, _, events, err := c.conn.ExistsW(c.abs(path))
	if err != nil {
		return false, nil, zkErr(err)
	}
	return ok, watchChan(events), nil
}

func (c *ZK) ChildrenW(path string) ([]string, <-chan struct{}, error) {
	kids, _, events, err := c.conn.ChildrenW(c.abs(path))
	if err != nil {
		return nil, nil, zkErr(err)
	}
	return kids, watchChan(events), nil
}

func (c *ZK) Multi(ops ...Op) error {
	reqs := make([]interface{}, 0, len(ops))
	for _, op := range ops {
		switch op.Kind {
		case OpCreate:
			reqs = append(reqs, &zk.CreateRequest{
				Path:  c.abs(op.Path),
				Data:  op.Data,
				Acl:   zkACL,
				Flags: 0,
			})
		case OpSet:
			reqs = append(reqs, &zk.SetDataRequest{
				Path:    c.abs(op.Path),
				Data:    op.Data,
				Version: -1,
			})
		case OpDelete:
			reqs = append(reqs, &zk.DeleteRequest{
				Path:    c.abs(op.Path),
				Version: -1,
			})
		}
	}
	_, err := c.conn.Multi(reqs...)
	return zkErr(err)
}

func (c *ZK) Close() error {
	c.conn.Close()
	return nil
}
