// Package orchestrator implements the per-charge-point session orchestrator:
// one instance tracks a live OCPP WebSocket, correlates outbound CALLs with
// their responses, dispatches inbound actions, and drives the transaction
// and watchdog state held in the registry.
package orchestrator

import (
	"log/slog"
	"sync"

	"github.com/ocx/evcentral/internal/config"
	"github.com/ocx/evcentral/internal/metrics"
	"github.com/ocx/evcentral/internal/registry"
	"github.com/ocx/evcentral/internal/vid"
	"github.com/ocx/evcentral/internal/wallet"
)

// Hub is the process-wide acceptor: it holds the live cpid -> Session map
// and the shared collaborator services every session consults.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	vid      *vid.Resolver
	wallet   *wallet.Wallet
	registry *registry.Registry
	cfg      *config.Config
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// New constructs a Hub wired to its collaborator services.
func New(v *vid.Resolver, w *wallet.Wallet, reg *registry.Registry, cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		sessions: make(map[string]*Session),
		vid:      v,
		wallet:   w,
		registry: reg,
		cfg:      cfg,
		metrics:  m,
		logger:   logger,
	}
}

// Lookup returns the live session for cpid, if connected.
func (h *Hub) Lookup(cpid string) (*Session, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.sessions[cpid]
	return s, ok
}

// register installs s as the live session for its cpid, evicting and
// closing whatever was previously registered under that cpid.
func (h *Hub) register(s *Session) {
	h.mu.Lock()
	old, ok := h.sessions[s.cpid]
	h.sessions[s.cpid] = s
	h.mu.Unlock()

	if ok {
		h.logger.Info("evicting prior connection for duplicate cpid", "cpid", s.cpid)
		old.cancel()
		old.conn.Close()
	}
}

// unregister removes s from the live map, provided it is still the
// current session for its cpid (a stale readLoop exiting after eviction
// must not remove the session that replaced it).
func (h *Hub) unregister(s *Session) {
	h.mu.Lock()
	if cur, ok := h.sessions[s.cpid]; ok && cur == s {
		delete(h.sessions, s.cpid)
	}
	h.mu.Unlock()
	h.registry.Disconnect(s.cpid)
	h.metrics.StationsConnected.Dec()
}

// Registry exposes the shared station registry to other adapters (HTTP,
// console) that read fleet state without going through a session.
func (h *Hub) Registry() *registry.Registry {
	return h.registry
}

// Wallet exposes the shared wallet service.
func (h *Hub) Wallet() *wallet.Wallet {
	return h.wallet
}

// VID exposes the shared identity resolver.
func (h *Hub) VID() *vid.Resolver {
	return h.vid
}
