package orchestrator

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	Subprotocols:    []string{"ocpp1.6"},
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeWS upgrades an inbound request at /ocpp/<cpid> and starts the
// session's read loop. A reconnect under the same cpid evicts whatever
// connection is already registered.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	cpid := strings.TrimPrefix(r.URL.Path, "/ocpp/")
	if cpid == "" || strings.Contains(cpid, "/") {
		http.Error(w, "missing charge point id", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "cpid", cpid, "error", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		cpid:         cpid,
		conn:         conn,
		ctx:          ctx,
		cancel:       cancel,
		pendingCalls: make(map[string]chan pendingResult),
		logger:       h.logger.With("cpid", cpid),
	}

	h.register(s)
	h.metrics.StationsConnected.Inc()
	s.logger.Info("station connected")

	go s.readLoop(h)
}
