package shard

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/dreamware/rangedir/internal/client"
	"github.com/dreamware/rangedir/internal/keyrange"
	"github.com/dreamware/rangedir/internal/launcher"
	"github.com/dreamware/rangedir/internal/storage"
	"github.com/dreamware/rangedir/internal/transport"
)

// splitPlan is what the locked part of a split hands to the transfer.
type splitPlan struct {
	addr    string
	upper   keyrange.Range
	entries []storage.Entry
}

// prepareSplit runs the local steps of a split with mu held: pick the cut
// from the current keys, reserve a host, launch the new shard and narrow the
// local range. It returns nil when no split happens.
func (s *Server) prepareSplit(ctx context.Context) *splitPlan {
	keys := s.store.SortedKeys()
	lower, upper, cut, err := s.rng.Split(keys)
	if err != nil {
		s.logger.Debug("range cannot split at current keys", "range", s.rng.String(), "error", err)
		return nil
	}
	log := s.logger.With("range", s.rng.String(), "cut", cut, "upper", upper.String())

	host, err := s.cfg.Coordinator.SeekHost(ctx, upper)
	if errors.Is(err, client.ErrNoFreeHost) {
		s.state = ShardStateSplitDenied
		log.Warn("no free host, splitting disabled", "keys", len(keys))
		return nil
	}
	if err != nil {
		log.Error("seekHost failed", "error", err)
		return nil
	}

	addr := transport.HostAddr(host, s.cfg.ShardPort)
	req := launcher.Request{Host: host, Addr: addr, Range: upper, Coordinator: s.cfg.CoordinatorAddr}
	if err := s.cfg.Launcher.Launch(ctx, req); err != nil {
		// The reserved host stays reserved on the coordinator; the next put
		// asks for another one.
		log.Error("launch failed", "host", host, "error", err)
		return nil
	}

	s.rng = lower
	s.state = ShardStateSplitting
	atomic.AddUint64(&s.ops.Splits, 1)
	log.Info("split", "host", host, "kept", lower.String())

	return &splitPlan{addr: addr, upper: upper, entries: s.store.EntriesAbove(cut)}
}

// transfer moves the extracted entries to the new shard without holding mu.
// An entry leaves the local store only after the new shard acknowledged it.
func (s *Server) transfer(ctx context.Context, plan *splitPlan) {
	log := s.logger.With("target", plan.addr, "upper", plan.upper.String())
	c := client.NewShardClient(plan.addr, plan.upper, s.cfg.Dial, s.logger)

	moved := 0
	for _, e := range plan.entries {
		res, err := c.Put(ctx, e.Key, e.Value)
		if errors.Is(err, transport.ErrConnect) {
			log.Error("new shard unreachable, keeping remaining keys", "moved", moved, "left", len(plan.entries)-moved)
			break
		}
		if err != nil || res.Redirected() {
			log.Warn("transfer refused, keeping key", "key", e.Key, "error", err, "redirected", res.Redirected())
			continue
		}
		if err := s.store.Remove(e.Key); err != nil {
			log.Warn("transferred key vanished locally", "key", e.Key, "error", err)
		}
		moved++
	}
	atomic.AddUint64(&s.ops.Transferred, uint64(moved))

	if err := c.Shutdown(ctx); err != nil {
		log.Debug("closing transfer session", "error", err)
	}

	s.mu.Lock()
	s.state = ShardStateActive
	s.mu.Unlock()
	log.Info("transfer complete", "moved", moved)
}
