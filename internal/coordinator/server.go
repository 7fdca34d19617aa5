package coordinator

import (
	"context"
	"log/slog"

	"github.com/dreamware/rangedir/internal/keyrange"
	"github.com/dreamware/rangedir/internal/protocol"
	"github.com/dreamware/rangedir/internal/transport"
)

// Server answers the coordinator protocol against a Directory.
type Server struct {
	dir    *Directory
	logger *slog.Logger
}

// NewServer returns a protocol handler for dir.
func NewServer(dir *Directory, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{dir: dir, logger: logger.With("component", "coordinator")}
}

// Directory returns the table the server mutates.
func (s *Server) Directory() *Directory { return s.dir }

// Listen binds addr and returns a transport server running this handler.
func (s *Server) Listen(addr string, workers int) (*transport.Server, error) {
	return transport.Listen(addr, workers, s, s.logger)
}

// Handle implements transport.Handler.
func (s *Server) Handle(_ context.Context, line string) (string, bool) {
	cmd, err := protocol.ParseCommand(line)
	if err != nil {
		s.logger.Debug("rejected command", "line", line, "error", err)
		return protocol.Nok(protocol.ReasonUnknownCommand), false
	}

	switch cmd.Name {
	case protocol.CmdSeekHost:
		r, err := keyrange.Parse(cmd.Arg(0))
		if err != nil {
			s.logger.Warn("seekHost with malformed range", "range", cmd.Arg(0), "error", err)
			return protocol.Nok(protocol.ReasonUnknownCommand), false
		}
		host, ok := s.dir.SeekHost(r)
		if !ok {
			return protocol.Nok(""), false
		}
		s.logger.Info("reserved host", "host", host, "range", r.String())
		return protocol.OK(host), false

	case protocol.CmdSeekKey:
		host, r, ok := s.dir.SeekKey(cmd.Arg(0))
		if !ok {
			return protocol.Nok(""), false
		}
		return protocol.OK(host, r.String()), false

	case protocol.CmdRegister:
		r, err := keyrange.Parse(cmd.Arg(0))
		if err != nil {
			s.logger.Warn("register with malformed range", "range", cmd.Arg(0), "error", err)
			return protocol.Nok(protocol.ReasonUnknownCommand), false
		}
		if err := s.dir.Register(r); err != nil {
			s.logger.Warn("register refused", "range", cmd.Arg(0), "error", err)
			return protocol.Nok(""), false
		}
		s.logger.Info("registered shard", "range", r.String())
		return protocol.OK(), false

	case protocol.CmdShutdown:
		return protocol.OK(), true
	}
	return protocol.Nok(protocol.ReasonUnknownCommand), false
}
