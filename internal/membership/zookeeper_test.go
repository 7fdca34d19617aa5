package membership

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/go-zookeeper/zk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConn is an in-memory znode tree with child watches.
type fakeConn struct {
	mu      sync.Mutex
	nodes   map[string]int32
	watches map[string][]chan zk.Event
	state   zk.State
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		nodes:   map[string]int32{},
		watches: map[string][]chan zk.Event{},
		state:   zk.StateHasSession,
	}
}

func (f *fakeConn) Exists(path string) (bool, *zk.Stat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.nodes[path]
	return ok, &zk.Stat{}, nil
}

func (f *fakeConn) Create(path string, _ []byte, flags int32, _ []zk.ACL) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.nodes[path]; ok {
		return "", zk.ErrNodeExists
	}
	f.nodes[path] = flags
	parent := path[:lastSlash(path)]
	for _, ch := range f.watches[parent] {
		ch <- zk.Event{Type: zk.EventNodeChildrenChanged, Path: parent}
	}
	delete(f.watches, parent)
	return path, nil
}

func (f *fakeConn) ChildrenW(path string) ([]string, *zk.Stat, <-chan zk.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var children []string
	for p := range f.nodes {
		if i := lastSlash(p); p[:i] == path {
			children = append(children, p[i+1:])
		}
	}
	sort.Strings(children)
	ch := make(chan zk.Event, 1)
	f.watches[path] = append(f.watches[path], ch)
	return children, &zk.Stat{}, ch, nil
}

func (f *fakeConn) State() zk.State { return f.state }

func (f *fakeConn) Close() {}

func lastSlash(p string) int {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' {
			return i
		}
	}
	return 0
}

func TestAnnounceCreatesEphemeralNode(t *testing.T) {
	fc := newFakeConn()
	m := newZK(fc, "/rangedir/", nil)

	require.NoError(t, m.Announce(context.Background(), "node2:55252"))
	require.NoError(t, m.Announce(context.Background(), "node2:55252"), "re-announcing is harmless")

	fc.mu.Lock()
	defer fc.mu.Unlock()
	assert.Contains(t, fc.nodes, "/rangedir")
	assert.Contains(t, fc.nodes, "/rangedir/hosts")
	assert.Equal(t, int32(zk.FlagEphemeral), fc.nodes["/rangedir/hosts/node2:55252"])
}

func TestAnnounceWaitsForSession(t *testing.T) {
	fc := newFakeConn()
	fc.state = zk.StateConnecting
	m := newZK(fc, "/rangedir", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, m.Announce(ctx, "node2"), context.DeadlineExceeded)
}

func TestWatchReportsHosts(t *testing.T) {
	fc := newFakeConn()
	m := newZK(fc, "/rangedir", nil)
	require.NoError(t, m.Announce(context.Background(), "node2"))

	var (
		mu   sync.Mutex
		seen = map[string]bool{}
	)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Watch(ctx, func(h string) {
			mu.Lock()
			seen[h] = true
			mu.Unlock()
		})
	}()

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return seen["node2"]
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, m.Announce(context.Background(), "node3"))
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return seen["node3"]
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Watch did not stop")
	}
}
