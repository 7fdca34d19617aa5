// Package admin serves the operator HTTP endpoints of coordinators and
// shards.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dreamware/rangedir/internal/cluster"
	"github.com/dreamware/rangedir/internal/coordinator"
	"github.com/dreamware/rangedir/internal/shard"
	"github.com/dreamware/rangedir/internal/transport"
)

const (
	contentTypeJSON        = "application/json"
	defaultShutdownTimeout = 5 * time.Second
)

// CoordinatorHandler exposes the host table.
type CoordinatorHandler struct {
	Directory *coordinator.Directory
	// Health may be nil when probing is disabled.
	Health    *coordinator.HealthMonitor
	ShardPort int
}

// Routes builds the chi router.
func (h *CoordinatorHandler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/health", handleHealth)
	r.Get("/hosts", h.handleHosts)
	r.Post("/hosts", h.handleAddHost)
	return r
}

func (h *CoordinatorHandler) handleHosts(w http.ResponseWriter, _ *http.Request) {
	records := h.Directory.Snapshot()
	resp := cluster.HostsResponse{Hosts: make([]cluster.HostStatus, 0, len(records))}
	for _, rec := range records {
		st := cluster.HostStatus{Host: rec.Host, Linked: rec.Linked}
		if !rec.Free() {
			st.Range = rec.Range.String()
		}
		if h.Health != nil && rec.Linked {
			st.Health = coordinator.StatusUnknown
			if hh := h.Health.GetHostHealth(transport.HostAddr(rec.Host, h.ShardPort)); hh != nil {
				st.Health = hh.Status
			}
		}
		resp.Hosts = append(resp.Hosts, st)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *CoordinatorHandler) handleAddHost(w http.ResponseWriter, r *http.Request) {
	var req cluster.AddHostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, cluster.StatusResponse{Status: "error", Error: "invalid JSON body"})
		return
	}
	host := strings.TrimSpace(req.Host)
	if host == "" || strings.ContainsAny(host, " \t") {
		writeJSON(w, http.StatusBadRequest, cluster.StatusResponse{Status: "error", Error: "host required"})
		return
	}
	added := h.Directory.AddHost(host)
	if added {
		slog.Info("host added through admin", "host", host)
	}
	writeJSON(w, http.StatusOK, cluster.AddHostResponse{Added: added})
}

// ShardHandler exposes one shard's metadata.
type ShardHandler struct {
	Shard *shard.Server
}

// Routes builds the chi router.
func (h *ShardHandler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/health", handleHealth)
	r.Get("/info", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, h.Shard.Info())
	})
	return r
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, cluster.StatusResponse{Status: "ok"})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Warn("error encoding response", "error", err)
	}
}

// Server runs an admin handler until stopped.
type Server struct {
	httpServer *http.Server
	ln         net.Listener
}

// Start binds addr and serves handler in the background.
func Start(addr string, handler http.Handler) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("admin listen on %s: %w", addr, err)
	}
	s := &Server{
		httpServer: &http.Server{Handler: handler, ReadHeaderTimeout: time.Second},
		ln:         ln,
	}
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("admin server error", "error", err)
		}
	}()
	slog.Info("admin server started", "addr", ln.Addr().String())
	return s, nil
}

// Addr returns the bound address.
func (s *Server) Addr() string { return s.ln.Addr().String() }

// Stop shuts the server down, waiting up to five seconds for open requests.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("admin shutdown: %w", err)
	}
	return nil
}
