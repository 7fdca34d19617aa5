package transport

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoHandler() Handler {
	return HandlerFunc(func(_ context.Context, line string) (string, bool) {
		if line == "bye" {
			return "ok", true
		}
		return "ok " + strings.ToUpper(line), false
	})
}

func startServer(t *testing.T, workers int, h Handler) *Server {
	t.Helper()
	srv, err := Listen("127.0.0.1:0", workers, h, nil)
	require.NoError(t, err)
	go func() { _ = srv.Serve(context.Background()) }()
	t.Cleanup(func() { _ = srv.Close() })
	return srv
}

func fastPolicy() DialPolicy {
	return DialPolicy{Attempts: 5, Delay: 10 * time.Millisecond}
}

func TestConnRoundTrip(t *testing.T) {
	srv := startServer(t, 2, echoHandler())
	c := NewConn(srv.Addr(), fastPolicy(), nil)
	defer c.Close()
	assert.False(t, c.Connected(), "dialing is lazy")

	resp, err := c.Call(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "ok HELLO", resp)
	assert.True(t, c.Connected())

	resp, err = c.Call(context.Background(), "again")
	require.NoError(t, err)
	assert.Equal(t, "ok AGAIN", resp)
}

func TestConnRedialsAfterServerClosesConnection(t *testing.T) {
	srv := startServer(t, 2, echoHandler())
	c := NewConn(srv.Addr(), fastPolicy(), nil)
	defer c.Close()

	resp, err := c.Call(context.Background(), "bye")
	require.NoError(t, err)
	assert.Equal(t, "ok", resp)

	// The next call hits the closed socket and fails; the one after redials.
	if _, err := c.Call(context.Background(), "x"); err != nil {
		resp, err = c.Call(context.Background(), "x")
		require.NoError(t, err)
		assert.Equal(t, "ok X", resp)
	}
}

func TestConnRetriesUntilListenerAppears(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	c := NewConn(addr, DialPolicy{Attempts: 200, Delay: 10 * time.Millisecond}, nil)
	defer c.Close()

	go func() {
		time.Sleep(50 * time.Millisecond)
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return
		}
		srv := NewServer(ln, 1, echoHandler(), nil)
		go func() { _ = srv.Serve(context.Background()) }()
		t.Cleanup(func() { _ = srv.Close() })
	}()

	resp, err := c.Call(context.Background(), "late")
	require.NoError(t, err)
	assert.Equal(t, "ok LATE", resp)
}

func TestConnGivesUp(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	c := NewConn(addr, DialPolicy{Attempts: 3, Delay: time.Millisecond}, nil)
	_, err = c.Call(context.Background(), "x")
	assert.ErrorIs(t, err, ErrConnect)
}

func TestConnHonoursContext(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	c := NewConn(addr, DialPolicy{Attempts: 1000, Delay: 50 * time.Millisecond}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = c.Call(ctx, "x")
	assert.ErrorIs(t, err, ErrConnect)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestServerPerConnectionOrdering(t *testing.T) {
	srv := startServer(t, 1, echoHandler())
	c := NewConn(srv.Addr(), fastPolicy(), nil)
	defer c.Close()

	for _, w := range []string{"a", "b", "c", "d"} {
		resp, err := c.Call(context.Background(), w)
		require.NoError(t, err)
		assert.Equal(t, "ok "+strings.ToUpper(w), resp)
	}
}

func TestServerCloseDrainsIdlePeers(t *testing.T) {
	srv, err := Listen("127.0.0.1:0", 2, echoHandler(), nil)
	require.NoError(t, err)
	done := make(chan error, 1)
	go func() { done <- srv.Serve(context.Background()) }()

	c := NewConn(srv.Addr(), fastPolicy(), nil)
	defer c.Close()
	_, err = c.Call(context.Background(), "warm")
	require.NoError(t, err)

	require.NoError(t, srv.Close())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after Close")
	}

	_, err = net.DialTimeout("tcp", srv.Addr(), 100*time.Millisecond)
	assert.Error(t, err, "listener should be closed")
}

func TestServerStopsOnContextCancel(t *testing.T) {
	srv, err := Listen("127.0.0.1:0", 1, echoHandler(), nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestHostAddr(t *testing.T) {
	assert.Equal(t, "node1:55252", HostAddr("node1", 55252))
	assert.Equal(t, "127.0.0.1:4000", HostAddr("127.0.0.1:4000", 55252))
	assert.Equal(t, "[::1]:55252", HostAddr("::1", 55252))
}
