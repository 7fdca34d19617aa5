package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"
)

// ErrConnect is returned when a peer cannot be reached within the configured
// number of attempts.
var ErrConnect = errors.New("cannot connect to peer")

// Default dial policy: a split target may still be starting, so be patient.
const (
	DefaultAttempts = 1000
	DefaultDelay    = 200 * time.Millisecond
)

// DialPolicy bounds the reconnect loop.
type DialPolicy struct {
	Attempts int
	Delay    time.Duration
	// Timeout applies to each individual dial. Zero means no timeout.
	Timeout time.Duration
}

// DefaultDialPolicy returns the stock retry policy.
func DefaultDialPolicy() DialPolicy {
	return DialPolicy{Attempts: DefaultAttempts, Delay: DefaultDelay}
}

// Conn is a client connection to one peer. It holds at most one socket,
// dials lazily on first use and redials after an I/O failure. Calls are
// serialized.
type Conn struct {
	addr   string
	policy DialPolicy
	logger *slog.Logger

	mu   sync.Mutex
	conn net.Conn
	r    *bufio.Reader
}

// NewConn returns an unconnected Conn for addr.
func NewConn(addr string, policy DialPolicy, logger *slog.Logger) *Conn {
	if policy.Attempts < 1 {
		policy.Attempts = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Conn{addr: addr, policy: policy, logger: logger}
}

// Addr returns the peer address.
func (c *Conn) Addr() string { return c.addr }

// Call sends one request line and returns the response line with the line
// terminator stripped. A request is never resent: after a failed write or
// read the socket is dropped and the error returned.
func (c *Conn) Call(ctx context.Context, line string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.connect(ctx); err != nil {
		return "", err
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetDeadline(deadline)
		defer func() {
			if c.conn != nil {
				_ = c.conn.SetDeadline(time.Time{})
			}
		}()
	}

	if _, err := c.conn.Write([]byte(line + "\n")); err != nil {
		c.drop()
		return "", fmt.Errorf("send to %s: %w", c.addr, err)
	}
	resp, err := c.r.ReadString('\n')
	if err != nil {
		c.drop()
		return "", fmt.Errorf("receive from %s: %w", c.addr, err)
	}
	return strings.TrimRight(resp, "\r\n"), nil
}

// Connected reports whether a socket is currently open.
func (c *Conn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Close drops the socket if one is open.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn, c.r = nil, nil
	return err
}

func (c *Conn) connect(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}
	d := net.Dialer{Timeout: c.policy.Timeout}
	var lastErr error
	for attempt := 1; attempt <= c.policy.Attempts; attempt++ {
		conn, err := d.DialContext(ctx, "tcp", c.addr)
		if err == nil {
			c.conn = conn
			c.r = bufio.NewReader(conn)
			if attempt > 1 {
				c.logger.Debug("connected after retry", "peer", c.addr, "attempts", attempt)
			}
			return nil
		}
		lastErr = err
		if attempt == c.policy.Attempts {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w %s: %w", ErrConnect, c.addr, ctx.Err())
		case <-time.After(c.policy.Delay):
		}
	}
	return fmt.Errorf("%w %s after %d attempts: %w", ErrConnect, c.addr, c.policy.Attempts, lastErr)
}

func (c *Conn) drop() {
	_ = c.conn.Close()
	c.conn, c.r = nil, nil
}

// HostAddr turns a host name into a dialable address. Hosts that already
// carry a port are returned unchanged.
func HostAddr(host string, port int) string {
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	return net.JoinHostPort(host, fmt.Sprint(port))
}
