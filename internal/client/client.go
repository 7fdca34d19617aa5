// Package client holds the two protocol clients: ShardClient talks to one
// shard and remembers the range it believes that shard owns;
// CoordinatorClient talks to the coordinator.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/dreamware/rangedir/internal/keyrange"
	"github.com/dreamware/rangedir/internal/protocol"
	"github.com/dreamware/rangedir/internal/transport"
)

// ErrNoFreeHost is returned by SeekHost when the coordinator has no unlinked
// host left.
var ErrNoFreeHost = errors.New("no free host")

// call sends line and classifies the answer. "ok" and "sync" lines come back
// verbatim; anything else becomes a *protocol.RemoteError.
func call(ctx context.Context, conn *transport.Conn, line string) (protocol.Response, error) {
	raw, err := conn.Call(ctx, line)
	if err != nil {
		return protocol.Response{}, err
	}
	resp, err := protocol.ParseResponse(raw)
	if err != nil {
		return protocol.Response{}, &protocol.RemoteError{Response: raw}
	}
	if resp.Head == protocol.HeadNok {
		return resp, &protocol.RemoteError{Response: raw}
	}
	return resp, nil
}

// Result is the outcome of a shard operation. Exactly one of Value (for an
// "ok" lookup) or Sync (for a redirect) is meaningful.
type Result struct {
	Value string
	Sync  *protocol.SyncNotice
}

// Redirected reports whether the shard answered with a sync notice.
func (r Result) Redirected() bool { return r.Sync != nil }

// ShardClient is a connection to one shard plus the range the caller
// currently believes that shard owns.
type ShardClient struct {
	conn *transport.Conn

	mu       sync.RWMutex
	believed keyrange.Range
}

// NewShardClient returns a lazily connecting client for the shard at addr.
func NewShardClient(addr string, believed keyrange.Range, policy transport.DialPolicy, logger *slog.Logger) *ShardClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &ShardClient{
		conn:     transport.NewConn(addr, policy, logger.With("component", "shard-client")),
		believed: believed,
	}
}

// Addr returns the shard address.
func (c *ShardClient) Addr() string { return c.conn.Addr() }

// Range returns the believed range.
func (c *ShardClient) Range() keyrange.Range {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.believed
}

// SetRange replaces the believed range.
func (c *ShardClient) SetRange(r keyrange.Range) {
	c.mu.Lock()
	c.believed = r
	c.mu.Unlock()
}

// SendCommand sends a raw request line. Sync redirects are returned as plain
// responses, not errors.
func (c *ShardClient) SendCommand(ctx context.Context, line string) (string, error) {
	resp, err := call(ctx, c.conn, line)
	if err != nil {
		return "", err
	}
	return resp.Raw, nil
}

// Lookup asks the shard for key's value. An unbound key yields an error
// matching protocol.ErrNotFound.
func (c *ShardClient) Lookup(ctx context.Context, key string) (Result, error) {
	return c.do(ctx, protocol.NewCommand(protocol.CmdLookup, key))
}

// Put binds key to value. An already bound key yields protocol.ErrBound.
func (c *ShardClient) Put(ctx context.Context, key, value string) (Result, error) {
	if !protocol.ValidToken(value) {
		return Result{}, fmt.Errorf("%w: value %q", protocol.ErrMalformed, value)
	}
	return c.do(ctx, protocol.NewCommand(protocol.CmdPut, key, value))
}

// Remove unbinds key. An unbound key yields protocol.ErrNotBound.
func (c *ShardClient) Remove(ctx context.Context, key string) (Result, error) {
	return c.do(ctx, protocol.NewCommand(protocol.CmdRemove, key))
}

// Shutdown ends the session; the shard closes the connection after "ok".
// A client that holds no connection has no session and sends nothing.
func (c *ShardClient) Shutdown(ctx context.Context) error {
	if !c.conn.Connected() {
		return nil
	}
	_, err := call(ctx, c.conn, protocol.CmdShutdown)
	_ = c.conn.Close()
	return err
}

// Close drops the connection without notifying the shard.
func (c *ShardClient) Close() error {
	return c.conn.Close()
}

func (c *ShardClient) do(ctx context.Context, cmd protocol.Command) (Result, error) {
	if !protocol.ValidKey(cmd.Arg(0)) {
		return Result{}, fmt.Errorf("%w: key %q", protocol.ErrMalformed, cmd.Arg(0))
	}
	resp, err := call(ctx, c.conn, cmd.String())
	if err != nil {
		return Result{}, err
	}
	if resp.IsSync() {
		notice, err := protocol.ParseSync(resp.Raw)
		if err != nil {
			return Result{}, err
		}
		return Result{Sync: &notice}, nil
	}
	return Result{Value: strings.Join(resp.Fields, " ")}, nil
}

// CoordinatorClient talks to the coordinator.
type CoordinatorClient struct {
	conn *transport.Conn
}

// NewCoordinatorClient returns a lazily connecting coordinator client.
func NewCoordinatorClient(addr string, policy transport.DialPolicy, logger *slog.Logger) *CoordinatorClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &CoordinatorClient{
		conn: transport.NewConn(addr, policy, logger.With("component", "coordinator-client")),
	}
}

// Addr returns the coordinator address.
func (c *CoordinatorClient) Addr() string { return c.conn.Addr() }

// SeekHost asks for a free host to serve r and links it. It returns
// ErrNoFreeHost when none is left.
func (c *CoordinatorClient) SeekHost(ctx context.Context, r keyrange.Range) (string, error) {
	resp, err := call(ctx, c.conn, protocol.NewCommand(protocol.CmdSeekHost, r.String()).String())
	if err != nil {
		if errors.Is(err, protocol.ErrNotFound) {
			return "", ErrNoFreeHost
		}
		return "", err
	}
	if resp.Value() == "" {
		return "", &protocol.RemoteError{Response: resp.Raw}
	}
	return resp.Value(), nil
}

// SeekKey returns the host owning key and its recorded range. When no
// linked host covers key the error matches protocol.ErrNotFound.
func (c *CoordinatorClient) SeekKey(ctx context.Context, key string) (string, keyrange.Range, error) {
	resp, err := call(ctx, c.conn, protocol.NewCommand(protocol.CmdSeekKey, key).String())
	if err != nil {
		return "", keyrange.Range{}, err
	}
	if len(resp.Fields) != 2 {
		return "", keyrange.Range{}, fmt.Errorf("%w: %q", protocol.ErrMalformed, resp.Raw)
	}
	r, err := keyrange.Parse(resp.Fields[1])
	if err != nil {
		return "", keyrange.Range{}, fmt.Errorf("%w: %v", protocol.ErrMalformed, err)
	}
	return resp.Fields[0], r, nil
}

// Register announces that the calling host now serves r.
func (c *CoordinatorClient) Register(ctx context.Context, r keyrange.Range) error {
	_, err := call(ctx, c.conn, protocol.NewCommand(protocol.CmdRegister, r.String()).String())
	return err
}

// Shutdown ends the session.
func (c *CoordinatorClient) Shutdown(ctx context.Context) error {
	_, err := call(ctx, c.conn, protocol.CmdShutdown)
	_ = c.conn.Close()
	return err
}

// Close drops the connection.
func (c *CoordinatorClient) Close() error {
	return c.conn.Close()
}
