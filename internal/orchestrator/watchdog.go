package orchestrator

import (
	"context"
	"time"

	"github.com/ocx/evcentral/internal/ocpp"
)

// armWatchdog starts the no-session watchdog for a connector. At most one
// runs per connector: registry.ArmWatchdog cancels whatever was previously
// armed there before installing the new cancel function.
func (h *Hub) armWatchdog(s *Session, connectorID int) {
	ctx, cancel := context.WithCancel(s.ctx)
	h.registry.ArmWatchdog(s.cpid, connectorID, cancel)

	go func() {
		timer := time.NewTimer(time.Duration(h.cfg.Watchdog.TimeoutSec) * time.Second)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		if _, active := h.registry.ActiveByConnector(s.cpid, connectorID); active {
			return
		}
		conn, ok := h.registry.ConnectorStatus(s.cpid, connectorID)
		if !ok || (conn.Status != ocpp.StatusPreparing && conn.Status != ocpp.StatusOccupied) {
			return
		}

		h.metrics.WatchdogFires.WithLabelValues(s.cpid).Inc()
		h.registry.TakePendingRemote(s.cpid, connectorID)
		h.registry.ClearPending(s.cpid, connectorID)

		if _, err := h.sendCall(context.Background(), s, ocpp.ActionUnlockConnector, ocpp.UnlockConnectorRequest{ConnectorId: connectorID}); err != nil {
			s.logger.Warn("watchdog UnlockConnector failed", "connectorId", connectorID, "error", err)
		}
	}()
}
