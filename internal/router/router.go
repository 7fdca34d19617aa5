// Package router is the client-side entry point to the directory. It keeps a
// cache of shards and the ranges it believes they own, sends each request to
// the shard believed to own the key, and repairs the cache from the redirects
// shards answer with.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/exp/slices"

	"github.com/dreamware/rangedir/internal/client"
	"github.com/dreamware/rangedir/internal/keyrange"
	"github.com/dreamware/rangedir/internal/protocol"
	"github.com/dreamware/rangedir/internal/transport"
)

var (
	// ErrUncoveredKey is returned when no cached shard is believed to own the key.
	ErrUncoveredKey = errors.New("no cached shard covers key")

	// ErrStaleRoute is returned when the shard a redirect pointed to
	// redirects again.
	ErrStaleRoute = errors.New("route still stale after refresh")
)

// Config configures a Router.
type Config struct {
	// FirstShard is the address of the shard that initially owns a-z.
	FirstShard string
	// ShardPort completes host names in redirects that carry no port.
	ShardPort int
	Dial      transport.DialPolicy
	Logger    *slog.Logger
}

// Route is one cache entry.
type Route struct {
	Addr  string         `json:"addr"`
	Range keyrange.Range `json:"range"`
}

// Router routes directory operations to shards. Entries are created when a
// redirect names an unknown shard, updated in place, and never removed.
type Router struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	shards []*client.ShardClient
}

// New returns a router whose cache holds only the first shard, believed to
// own every key.
func New(cfg Config) *Router {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	r := &Router{cfg: cfg, logger: cfg.Logger.With("component", "router")}
	r.shards = []*client.ShardClient{r.newClient(cfg.FirstShard, keyrange.Full)}
	return r
}

// Lookup returns the value bound to key. An unbound key yields an error
// matching protocol.ErrNotFound.
func (r *Router) Lookup(ctx context.Context, key string) (string, error) {
	res, err := r.do(ctx, key, func(c *client.ShardClient) (client.Result, error) {
		return c.Lookup(ctx, key)
	})
	if err != nil {
		return "", err
	}
	return res.Value, nil
}

// Put binds key to value. A key that is already bound yields protocol.ErrBound.
func (r *Router) Put(ctx context.Context, key, value string) error {
	_, err := r.do(ctx, key, func(c *client.ShardClient) (client.Result, error) {
		return c.Put(ctx, key, value)
	})
	return err
}

// Remove unbinds key. An unbound key yields protocol.ErrNotBound.
func (r *Router) Remove(ctx context.Context, key string) error {
	_, err := r.do(ctx, key, func(c *client.ShardClient) (client.Result, error) {
		return c.Remove(ctx, key)
	})
	return err
}

// Routes returns the cache in order.
func (r *Router) Routes() []Route {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Route, len(r.shards))
	for i, c := range r.shards {
		out[i] = Route{Addr: c.Addr(), Range: c.Range()}
	}
	return out
}

// Close ends the session with every cached shard.
func (r *Router) Close(ctx context.Context) error {
	r.mu.Lock()
	shards := slices.Clone(r.shards)
	r.mu.Unlock()

	var errs []error
	for _, c := range shards {
		if err := c.Shutdown(ctx); err != nil && !errors.Is(err, transport.ErrConnect) {
			errs = append(errs, fmt.Errorf("close %s: %w", c.Addr(), err))
		}
	}
	return errors.Join(errs...)
}

// do sends op to the shard believed to own key, retrying once after a
// redirect has been folded into the cache.
func (r *Router) do(ctx context.Context, key string, op func(*client.ShardClient) (client.Result, error)) (client.Result, error) {
	for attempt := 0; attempt < 2; attempt++ {
		c := r.route(key)
		if c == nil {
			return client.Result{}, fmt.Errorf("%w: %q", ErrUncoveredKey, key)
		}
		res, err := op(c)
		if err != nil {
			return client.Result{}, err
		}
		if !res.Redirected() {
			return res, nil
		}
		r.repair(c, *res.Sync)
	}
	return client.Result{}, fmt.Errorf("%w: %q", ErrStaleRoute, key)
}

func (r *Router) route(key string) *client.ShardClient {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := slices.IndexFunc(r.shards, func(c *client.ShardClient) bool {
		return c.Range().Contains(key)
	})
	if i < 0 {
		return nil
	}
	return r.shards[i]
}

// repair narrows the redirecting shard and records the owner it named.
func (r *Router) repair(from *client.ShardClient, n protocol.SyncNotice) {
	owner := transport.HostAddr(n.Owner, r.cfg.ShardPort)

	r.mu.Lock()
	defer r.mu.Unlock()

	from.SetRange(n.Range)
	i := slices.IndexFunc(r.shards, func(c *client.ShardClient) bool { return c.Addr() == owner })
	if i >= 0 {
		r.shards[i].SetRange(n.OwnerRange)
	} else {
		r.shards = append(r.shards, r.newClient(owner, n.OwnerRange))
	}
	r.logger.Debug("route repaired", "shard", from.Addr(), "range", n.Range.String(), "owner", owner, "owner_range", n.OwnerRange.String())
}

func (r *Router) newClient(addr string, believed keyrange.Range) *client.ShardClient {
	return client.NewShardClient(transport.HostAddr(addr, r.cfg.ShardPort), believed, r.cfg.Dial, r.logger)
}
