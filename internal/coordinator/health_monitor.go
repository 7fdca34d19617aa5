// This file implements liveness probing of linked shard hosts.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dreamware/rangedir/internal/protocol"
	"github.com/dreamware/rangedir/internal/transport"
)

// Health statuses.
const (
	StatusUnknown   = "unknown"
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// HostHealth tracks the health status of a single shard host.
// Thread-safe: Protected by HealthMonitor's mutex when accessed.
type HostHealth struct {
	LastCheck        time.Time `json:"last_check"`   // Timestamp of the last probe
	LastHealthy      time.Time `json:"last_healthy"` // Timestamp of the last successful probe
	Addr             string    `json:"addr"`         // Shard address probed
	Status           string    `json:"status"`       // "healthy", "unhealthy" or "unknown"
	ConsecutiveFails int       `json:"consecutive_fails"`
}

// HealthMonitor periodically probes every linked shard host over the shard
// protocol. Status is informational: the directory never drops a host.
// Thread-safe: All methods are safe for concurrent access.
type HealthMonitor struct {
	hosts       map[string]*HostHealth // Current health status per address
	checkFunc   func(ctx context.Context, addr string) error
	onUnhealthy func(addr string)
	logger      *slog.Logger
	ctx         context.Context
	cancel      context.CancelFunc
	interval    time.Duration
	timeout     time.Duration
	mu          sync.RWMutex
	wg          sync.WaitGroup
	maxFailures int
}

// NewHealthMonitor creates a monitor that probes every interval and marks a
// host unhealthy after 3 consecutive failures.
//
// Example:
//
//	monitor := NewHealthMonitor(5*time.Second, logger)
//	monitor.Start(ctx, linkedShardAddrs)
//	defer monitor.Stop()
func NewHealthMonitor(interval time.Duration, logger *slog.Logger) *HealthMonitor {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &HealthMonitor{
		interval:    interval,
		timeout:     2 * time.Second,
		maxFailures: 3,
		hosts:       make(map[string]*HostHealth),
		logger:      logger.With("component", "health"),
		ctx:         ctx,
		cancel:      cancel,
	}
	h.checkFunc = h.probe
	return h
}

// SetOnUnhealthy sets the callback invoked when a host turns unhealthy.
func (h *HealthMonitor) SetOnUnhealthy(callback func(addr string)) {
	h.onUnhealthy = callback
}

// SetCheckFunction overrides the probe. Useful for tests.
func (h *HealthMonitor) SetCheckFunction(checkFunc func(ctx context.Context, addr string) error) {
	h.checkFunc = checkFunc
}

// Start launches the probe loop in a background goroutine that runs until ctx
// is cancelled or Stop is called. addrs is consulted before every round.
func (h *HealthMonitor) Start(ctx context.Context, addrs func() []string) {
	if ctx == nil {
		ctx = h.ctx
	}
	h.wg.Add(1)
	go h.run(ctx, addrs)
}

func (h *HealthMonitor) run(ctx context.Context, addrs func() []string) {
	defer h.wg.Done()
	if h.ctx.Err() != nil || ctx.Err() != nil {
		return
	}

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.logger.Info("health monitor started", "interval", h.interval)
	h.checkAll(ctx, addrs())

	for {
		select {
		case <-ticker.C:
			h.checkAll(ctx, addrs())
		case <-ctx.Done():
			return
		case <-h.ctx.Done():
			return
		}
	}
}

// Stop cancels the probe loop and waits for it to return.
func (h *HealthMonitor) Stop() {
	h.cancel()
	h.wg.Wait()
	h.logger.Info("health monitor stopped")
}

func (h *HealthMonitor) checkAll(ctx context.Context, addrs []string) {
	current := make(map[string]bool, len(addrs))
	for _, addr := range addrs {
		current[addr] = true
		h.check(ctx, addr)
	}

	h.mu.Lock()
	for addr := range h.hosts {
		if !current[addr] {
			delete(h.hosts, addr)
		}
	}
	h.mu.Unlock()
}

func (h *HealthMonitor) check(ctx context.Context, addr string) {
	h.mu.Lock()
	health, exists := h.hosts[addr]
	if !exists {
		health = &HostHealth{
			Addr:        addr,
			Status:      StatusUnknown,
			LastCheck:   time.Now(),
			LastHealthy: time.Now(),
		}
		h.hosts[addr] = health
	}
	h.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	err := h.checkFunc(ctx, addr)
	cancel()

	h.mu.Lock()
	defer h.mu.Unlock()

	health.LastCheck = time.Now()
	if err != nil {
		health.ConsecutiveFails++
		h.logger.Debug("probe failed", "addr", addr, "fails", health.ConsecutiveFails, "error", err)
		if health.ConsecutiveFails >= h.maxFailures {
			previous := health.Status
			health.Status = StatusUnhealthy
			if previous != StatusUnhealthy {
				h.logger.Warn("shard host unhealthy", "addr", addr, "fails", health.ConsecutiveFails)
				if h.onUnhealthy != nil {
					go h.onUnhealthy(addr)
				}
			}
		}
		return
	}
	if health.Status == StatusUnhealthy {
		h.logger.Info("shard host recovered", "addr", addr)
	}
	health.Status = StatusHealthy
	health.ConsecutiveFails = 0
	health.LastHealthy = time.Now()
}

// probe opens a fresh session and ends it with "shutdown", which any live
// shard answers with "ok".
func (h *HealthMonitor) probe(ctx context.Context, addr string) error {
	conn := transport.NewConn(addr, transport.DialPolicy{Attempts: 1, Timeout: h.timeout}, h.logger)
	defer conn.Close()

	resp, err := conn.Call(ctx, protocol.CmdShutdown)
	if err != nil {
		return err
	}
	if resp != protocol.HeadOK {
		return fmt.Errorf("unexpected probe answer %q", resp)
	}
	return nil
}

// GetHostHealth returns a copy of the status of addr, or nil if unknown.
func (h *HealthMonitor) GetHostHealth(addr string) *HostHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()
	health, ok := h.hosts[addr]
	if !ok {
		return nil
	}
	c := *health
	return &c
}

// GetAllHostHealth returns copies of every tracked status keyed by address.
func (h *HealthMonitor) GetAllHostHealth() map[string]*HostHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]*HostHealth, len(h.hosts))
	for addr, health := range h.hosts {
		c := *health
		out[addr] = &c
	}
	return out
}

// IsHealthy reports whether addr passed its last probes.
func (h *HealthMonitor) IsHealthy(addr string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	health, ok := h.hosts[addr]
	return ok && health.Status == StatusHealthy
}
