// Package membership lets shard hosts announce themselves in ZooKeeper so a
// running coordinator can add them to its pool of free hosts.
//
// Hosts create ephemeral nodes under <root>/hosts. The coordinator watches
// that directory and adds every child it has not seen yet; hosts that vanish
// are not removed, because directory records live for the whole run.
package membership

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-zookeeper/zk"
)

const hostsDir = "/hosts"

// conn is the subset of *zk.Conn used here.
type conn interface {
	Exists(path string) (bool, *zk.Stat, error)
	Create(path string, data []byte, flags int32, acl []zk.ACL) (string, error)
	ChildrenW(path string) ([]string, *zk.Stat, <-chan zk.Event, error)
	State() zk.State
	Close()
}

// ZK is a connection to a ZooKeeper ensemble scoped to one root path.
type ZK struct {
	conn   conn
	root   string
	logger *slog.Logger

	retryDelay time.Duration
}

// Connect opens a session. servers look like "zk1:2181".
func Connect(servers []string, root string, sessionTimeout time.Duration, logger *slog.Logger) (*ZK, error) {
	c, _, err := zk.Connect(servers, sessionTimeout)
	if err != nil {
		return nil, fmt.Errorf("zk connect: %w", err)
	}
	return newZK(c, root, logger), nil
}

func newZK(c conn, root string, logger *slog.Logger) *ZK {
	if logger == nil {
		logger = slog.Default()
	}
	return &ZK{
		conn:       c,
		root:       strings.TrimRight(root, "/"),
		logger:     logger.With("component", "membership"),
		retryDelay: 2 * time.Second,
	}
}

// Close ends the session; announced hosts disappear with it.
func (m *ZK) Close() error {
	m.conn.Close()
	return nil
}

// Announce publishes host as available.
func (m *ZK) Announce(ctx context.Context, host string) error {
	if err := m.waitConnected(ctx, 10*time.Second); err != nil {
		return err
	}
	if err := m.ensurePath(m.root + hostsDir); err != nil {
		return fmt.Errorf("ensure hosts path: %w", err)
	}
	path := m.root + hostsDir + "/" + host
	_, err := m.conn.Create(path, nil, zk.FlagEphemeral, zk.WorldACL(zk.PermAll))
	if err != nil && !errors.Is(err, zk.ErrNodeExists) {
		return fmt.Errorf("create ephemeral node: %w", err)
	}
	m.logger.Info("host announced", "path", path)
	return nil
}

// Watch calls onHost for every announced host, now and whenever the set
// changes, until ctx is cancelled. onHost must tolerate repeats.
func (m *ZK) Watch(ctx context.Context, onHost func(host string)) {
	for {
		if err := m.ensurePath(m.root + hostsDir); err != nil {
			m.logger.Warn("ensure hosts path", "error", err)
		}
		children, _, ch, err := m.conn.ChildrenW(m.root + hostsDir)
		if err != nil {
			m.logger.Warn("watch hosts", "error", err)
			select {
			case <-time.After(m.retryDelay):
				continue
			case <-ctx.Done():
				return
			}
		}
		for _, h := range children {
			onHost(h)
		}

		select {
		case ev := <-ch:
			m.logger.Debug("hosts changed", "event", ev.Type.String())
		case <-ctx.Done():
			m.logger.Info("host watch stopped")
			return
		}
	}
}

func (m *ZK) ensurePath(path string) error {
	cur := ""
	for _, p := range strings.Split(path, "/") {
		if p == "" {
			continue
		}
		cur += "/" + p
		exists, _, err := m.conn.Exists(cur)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		if _, err := m.conn.Create(cur, nil, 0, zk.WorldACL(zk.PermAll)); err != nil && !errors.Is(err, zk.ErrNodeExists) {
			return err
		}
	}
	return nil
}

func (m *ZK) waitConnected(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		st := m.conn.State()
		if st == zk.StateConnected || st == zk.StateHasSession {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("zk: not connected after %s, state=%v", timeout, st)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
}
