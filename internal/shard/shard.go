package shard

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/dreamware/rangedir/internal/client"
	"github.com/dreamware/rangedir/internal/keyrange"
	"github.com/dreamware/rangedir/internal/launcher"
	"github.com/dreamware/rangedir/internal/protocol"
	"github.com/dreamware/rangedir/internal/storage"
	"github.com/dreamware/rangedir/internal/transport"
)

// ShardState represents the split state of a shard
type ShardState string

const (
	// ShardStateActive means the shard serves requests and may split
	ShardStateActive ShardState = "active"
	// ShardStateSplitting means keys are being handed to a new shard
	ShardStateSplitting ShardState = "splitting"
	// ShardStateSplitDenied means the coordinator ran out of hosts; the shard
	// keeps its range and grows without bound
	ShardStateSplitDenied ShardState = "split_denied"
	// ShardStateStandalone means the shard owns every key and never splits
	ShardStateStandalone ShardState = "standalone"
)

// DefaultSplitSize is the key count at which a shard splits.
const DefaultSplitSize = 100

// Coordinator is the part of the coordinator protocol a shard uses.
// *client.CoordinatorClient implements it.
type Coordinator interface {
	SeekHost(ctx context.Context, r keyrange.Range) (string, error)
	SeekKey(ctx context.Context, key string) (string, keyrange.Range, error)
	Register(ctx context.Context, r keyrange.Range) error
}

// Config wires a shard to the rest of the cluster.
type Config struct {
	// Range is the initial range. Ignored in standalone mode.
	Range keyrange.Range
	// SplitSize is the key count that triggers a split.
	SplitSize int
	// ShardPort completes host names handed out without a port.
	ShardPort int
	// Coordinator is nil in standalone mode.
	Coordinator Coordinator
	// CoordinatorAddr is passed on to launched shards.
	CoordinatorAddr string
	// Launcher starts the shard taking over the upper half of a split.
	Launcher launcher.Launcher
	// Dial bounds the transfer client's reconnect loop.
	Dial   transport.DialPolicy
	Logger *slog.Logger
}

// OperationStats tracks operation counts
type OperationStats struct {
	Lookups     uint64 `json:"lookups"`
	Puts        uint64 `json:"puts"`
	Removes     uint64 `json:"removes"`
	Redirects   uint64 `json:"redirects"`
	Splits      uint64 `json:"splits"`
	Transferred uint64 `json:"transferred"`
}

// ShardInfo contains metadata about a shard
type ShardInfo struct {
	ID       string         `json:"id"`
	Range    string         `json:"range"`
	State    ShardState     `json:"state"`
	KeyCount int            `json:"key_count"`
	ByteSize int            `json:"byte_size"`
	Ops      OperationStats `json:"ops"`
}

// Server is one shard: a key range, the entries bound in it, and the split
// protocol that hands the upper half to a new shard once the store is full.
//
// mu guards the range and the state. Range checks and the local steps of a
// split run under it; network transfer of already extracted keys does not.
type Server struct {
	id     string
	cfg    Config
	store  *storage.Store
	logger *slog.Logger

	mu    sync.Mutex
	rng   keyrange.Range
	state ShardState

	ops OperationStats
}

// New creates a shard. A nil cfg.Coordinator puts it in standalone mode.
func New(cfg Config) *Server {
	if cfg.SplitSize < 2 {
		cfg.SplitSize = DefaultSplitSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &Server{
		id:    uuid.NewString(),
		cfg:   cfg,
		store: storage.NewStore(),
		rng:   cfg.Range,
		state: ShardStateActive,
	}
	if cfg.Coordinator == nil {
		s.rng = keyrange.Full
		s.state = ShardStateStandalone
	}
	s.logger = cfg.Logger.With("component", "shard", "instance", s.id)
	return s
}

// ID returns the instance id.
func (s *Server) ID() string { return s.id }

// Range returns the current range.
func (s *Server) Range() keyrange.Range {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng
}

// State returns the current state.
func (s *Server) State() ShardState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Store exposes the local entries.
func (s *Server) Store() *storage.Store { return s.store }

// Register announces the shard's range to the coordinator. Only shards
// spawned by a split register; the initial shard is known to the coordinator
// from the start.
func (s *Server) Register(ctx context.Context) error {
	if s.cfg.Coordinator == nil {
		return nil
	}
	r := s.Range()
	if err := s.cfg.Coordinator.Register(ctx, r); err != nil {
		return err
	}
	s.logger.Info("registered with coordinator", "range", r.String())
	return nil
}

// Listen binds addr and returns a transport server running this shard.
func (s *Server) Listen(addr string, workers int) (*transport.Server, error) {
	return transport.Listen(addr, workers, s, s.logger)
}

// Serve wraps an existing listener.
func (s *Server) Serve(ln net.Listener, workers int) *transport.Server {
	return transport.NewServer(ln, workers, s, s.logger)
}

// Handle implements transport.Handler.
func (s *Server) Handle(ctx context.Context, line string) (string, bool) {
	cmd, err := protocol.ParseCommand(line)
	if err != nil {
		return protocol.Nok(protocol.ReasonUnknownCommand), false
	}
	switch cmd.Name {
	case protocol.CmdLookup, protocol.CmdPut, protocol.CmdRemove:
		if !protocol.ValidKey(cmd.Arg(0)) {
			s.logger.Debug("rejected key", "key", cmd.Arg(0))
			return protocol.Nok(protocol.ReasonUnknownCommand), false
		}
	}
	switch cmd.Name {
	case protocol.CmdLookup:
		return s.lookup(ctx, cmd.Arg(0)), false
	case protocol.CmdPut:
		return s.put(ctx, cmd.Arg(0), cmd.Arg(1)), false
	case protocol.CmdRemove:
		return s.remove(ctx, cmd.Arg(0)), false
	case protocol.CmdShutdown:
		return protocol.OK(), true
	}
	return protocol.Nok(protocol.ReasonUnknownCommand), false
}

func (s *Server) lookup(ctx context.Context, key string) string {
	atomic.AddUint64(&s.ops.Lookups, 1)
	s.mu.Lock()
	if !s.owns(key) {
		mine := s.rng
		s.mu.Unlock()
		return s.redirect(ctx, mine, key)
	}
	value, ok := s.store.Get(key)
	s.mu.Unlock()
	if !ok {
		return protocol.Nok("")
	}
	return protocol.OK(value)
}

func (s *Server) put(ctx context.Context, key, value string) string {
	atomic.AddUint64(&s.ops.Puts, 1)
	s.mu.Lock()
	if !s.owns(key) {
		mine := s.rng
		s.mu.Unlock()
		return s.redirect(ctx, mine, key)
	}
	if err := s.store.Put(key, value); err != nil {
		s.mu.Unlock()
		return protocol.Nok(protocol.ReasonBound)
	}
	var plan *splitPlan
	if s.state == ShardStateActive && s.store.Len() >= s.cfg.SplitSize {
		plan = s.prepareSplit(ctx)
	}
	s.mu.Unlock()

	if plan != nil {
		s.transfer(ctx, plan)
	}
	return protocol.OK()
}

func (s *Server) remove(ctx context.Context, key string) string {
	atomic.AddUint64(&s.ops.Removes, 1)
	s.mu.Lock()
	if !s.owns(key) {
		mine := s.rng
		s.mu.Unlock()
		return s.redirect(ctx, mine, key)
	}
	err := s.store.Remove(key)
	s.mu.Unlock()
	if errors.Is(err, storage.ErrKeyNotFound) {
		return protocol.Nok(protocol.ReasonNotBound)
	}
	return protocol.OK()
}

// owns is called with mu held.
func (s *Server) owns(key string) bool {
	return s.state == ShardStateStandalone || s.rng.Contains(key)
}

// redirect answers a request for a key outside mine with the owner the
// coordinator knows about.
func (s *Server) redirect(ctx context.Context, mine keyrange.Range, key string) string {
	atomic.AddUint64(&s.ops.Redirects, 1)
	host, owner, err := s.cfg.Coordinator.SeekKey(ctx, key)
	if err != nil {
		s.logger.Warn("no owner for key", "key", key, "error", err)
		return protocol.Nok(protocol.ReasonUncovered)
	}
	return protocol.SyncNotice{Range: mine, Owner: host, OwnerRange: owner}.String()
}

// Info returns metadata about the shard
func (s *Server) Info() ShardInfo {
	s.mu.Lock()
	rng, state := s.rng, s.state
	s.mu.Unlock()

	st := s.store.Stats()
	return ShardInfo{
		ID:       s.id,
		Range:    rng.String(),
		State:    state,
		KeyCount: st.Keys,
		ByteSize: st.Bytes,
		Ops: OperationStats{
			Lookups:     atomic.LoadUint64(&s.ops.Lookups),
			Puts:        atomic.LoadUint64(&s.ops.Puts),
			Removes:     atomic.LoadUint64(&s.ops.Removes),
			Redirects:   atomic.LoadUint64(&s.ops.Redirects),
			Splits:      atomic.LoadUint64(&s.ops.Splits),
			Transferred: atomic.LoadUint64(&s.ops.Transferred),
		},
	}
}

// compile-time check
var _ Coordinator = (*client.CoordinatorClient)(nil)
