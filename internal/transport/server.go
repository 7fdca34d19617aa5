// Package transport carries protocol lines over TCP. Server accepts
// connections and serves each one sequentially on a worker from a bounded
// pool; Conn is the client side with lazy dialing and bounded retry.
package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dreamware/rangedir/internal/workerpool"
)

// Handler answers one request line. When closeConn is true the reply is sent
// and the connection is closed afterwards.
type Handler interface {
	Handle(ctx context.Context, line string) (reply string, closeConn bool)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, line string) (string, bool)

func (f HandlerFunc) Handle(ctx context.Context, line string) (string, bool) {
	return f(ctx, line)
}

// Server is a line-oriented TCP server. Each accepted connection occupies one
// worker until the peer disconnects, so the pool size caps concurrent peers.
type Server struct {
	ln      net.Listener
	handler Handler
	pool    *workerpool.Pool[net.Conn]
	logger  *slog.Logger

	mu      sync.Mutex
	conns   map[net.Conn]struct{}
	started atomic.Bool
	closing atomic.Bool
	served  chan struct{}
}

// Listen binds addr and prepares a server with the given number of workers.
// Serve must be called to start accepting.
func Listen(addr string, workers int, handler Handler, logger *slog.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	return NewServer(ln, workers, handler, logger), nil
}

// NewServer wraps an existing listener.
func NewServer(ln net.Listener, workers int, handler Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		ln:      ln,
		handler: handler,
		logger:  logger.With("addr", ln.Addr().String()),
		conns:   make(map[net.Conn]struct{}),
		served:  make(chan struct{}),
	}
	s.pool = workerpool.New(workers, s.serveConn)
	return s
}

// Addr returns the bound address in host:port form.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Serve accepts connections until Close is called or ctx is cancelled. It
// returns nil after a graceful shutdown.
func (s *Server) Serve(ctx context.Context) error {
	s.started.Store(true)
	defer close(s.served)
	s.pool.Start(ctx)
	defer s.pool.Stop()

	go func() {
		select {
		case <-ctx.Done():
			s.shutdown()
		case <-s.served:
		}
	}()

	s.logger.Info("accepting connections", "workers", s.pool.Size())
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if s.closing.Load() {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}
		if err := s.pool.Submit(ctx, conn); err != nil {
			s.logger.Warn("dropping connection", "remote", conn.RemoteAddr().String(), "error", err)
			_ = conn.Close()
		}
	}
}

// Close stops accepting, lets in-flight requests finish, then disconnects
// idle peers. Serve returns once all workers have exited.
func (s *Server) Close() error {
	s.shutdown()
	if s.started.Load() {
		<-s.served
	}
	return nil
}

func (s *Server) shutdown() {
	if s.closing.Swap(true) {
		return
	}
	_ = s.ln.Close()

	s.mu.Lock()
	defer s.mu.Unlock()
	// A worker blocked in a read wakes up and exits; one mid-request
	// finishes writing its reply first.
	for c := range s.conns {
		_ = c.SetReadDeadline(time.Now())
	}
}

func (s *Server) track(c net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing.Load() {
		return false
	}
	s.conns[c] = struct{}{}
	return true
}

func (s *Server) untrack(c net.Conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	if !s.track(conn) {
		return
	}
	defer s.untrack(conn)

	remote := conn.RemoteAddr().String()
	s.logger.Debug("peer connected", "remote", remote)

	r := bufio.NewReader(conn)
	w := bufio.NewWriter(conn)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			if !errors.Is(err, io.EOF) && !s.closing.Load() {
				s.logger.Debug("read failed", "remote", remote, "error", err)
			}
			break
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			continue
		}

		reply, closeConn := s.handler.Handle(ctx, line)
		_, err = w.WriteString(reply + "\n")
		if err == nil {
			err = w.Flush()
		}
		if err != nil {
			s.logger.Debug("write failed", "remote", remote, "error", err)
			break
		}
		if closeConn || s.closing.Load() {
			break
		}
	}
	s.logger.Debug("peer disconnected", "remote", remote)
}
