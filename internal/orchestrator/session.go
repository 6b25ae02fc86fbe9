package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ocx/evcentral/internal/apperr"
	"github.com/ocx/evcentral/internal/ocpp"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	writeWait  = 10 * time.Second
)

// pendingResult is what a correlated outbound CALL eventually receives:
// either the CALLRESULT payload, or a CALLERROR's code/description.
type pendingResult struct {
	payload json.RawMessage
	isError bool
	errCode string
	errDesc string
}

// Session owns one charge point's live WebSocket: framing, the outbound
// response-correlation table, and the per-connection cancellation context
// that tears down its watchdogs and waiters on disconnect.
type Session struct {
	cpid string
	conn *websocket.Conn

	ctx    context.Context
	cancel context.CancelFunc

	writeMu sync.Mutex

	pendingMu    sync.Mutex
	pendingCalls map[string]chan pendingResult

	logger *slog.Logger
}

func (s *Session) registerPending(id string, ch chan pendingResult) {
	s.pendingMu.Lock()
	s.pendingCalls[id] = ch
	s.pendingMu.Unlock()
}

func (s *Session) clearPending(id string) {
	s.pendingMu.Lock()
	delete(s.pendingCalls, id)
	s.pendingMu.Unlock()
}

func (s *Session) resolvePending(id string, res pendingResult) {
	s.pendingMu.Lock()
	ch, ok := s.pendingCalls[id]
	if ok {
		delete(s.pendingCalls, id)
	}
	s.pendingMu.Unlock()

	if ok {
		select {
		case ch <- res:
		default:
		}
	}
}

func (s *Session) writeFrame(frame []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.TextMessage, frame)
}

func (s *Session) writeControl(messageType int) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(messageType, nil)
}

// readLoop owns the connection until it closes or errs. Frames are
// processed in receive order; handlers that need to do more than reply
// spawn their own goroutines rather than blocking this loop.
func (s *Session) readLoop(h *Hub) {
	defer func() {
		s.cancel()
		s.conn.Close()
		h.unregister(s)
		s.logger.Info("station disconnected")
	}()

	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := s.writeControl(websocket.PingMessage); err != nil {
					return
				}
			case <-done:
				return
			case <-s.ctx.Done():
				return
			}
		}
	}()
	defer close(done)

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		h.handleFrame(s, raw)
	}
}

func (h *Hub) handleFrame(s *Session, raw []byte) {
	call, result, callErr, err := ocpp.Decode(raw)
	if err != nil {
		h.metrics.RejectedFrames.WithLabelValues("framing").Inc()
		s.logger.Error("malformed OCPP frame", "error", err)
		return
	}

	switch {
	case call != nil:
		h.dispatchCall(s, call)
	case result != nil:
		s.resolvePending(result.MessageID, pendingResult{payload: result.Payload})
	case callErr != nil:
		s.resolvePending(callErr.MessageID, pendingResult{isError: true, errCode: callErr.ErrorCode, errDesc: callErr.ErrorDescription})
	}
}

// sendCall issues an outbound CALL and blocks until it is correlated with
// a CALLRESULT/CALLERROR, ctx expires, or the connection is torn down.
func (h *Hub) sendCall(ctx context.Context, s *Session, action string, payload interface{}) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", action, err)
	}

	msgID := ocpp.NewMessageID()
	ch := make(chan pendingResult, 1)
	s.registerPending(msgID, ch)
	defer s.clearPending(msgID)

	frame, err := ocpp.EncodeCall(ocpp.Call{MessageID: msgID, Action: action, Payload: body})
	if err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", action, err)
	}
	if err := s.writeFrame(frame); err != nil {
		return nil, fmt.Errorf("send %s: %w", action, err)
	}
	h.metrics.MessagesSent.WithLabelValues(action).Inc()

	select {
	case res := <-ch:
		if res.isError {
			return nil, fmt.Errorf("%s rejected by station (%s %s): %w", action, res.errCode, res.errDesc, apperr.Rejected)
		}
		return res.payload, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", action, apperr.Timeout)
	case <-s.ctx.Done():
		return nil, fmt.Errorf("%s: %w", action, apperr.Disconnected)
	}
}

func (h *Hub) replyResult(s *Session, msgID string, payload interface{}) {
	body, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("encode CALLRESULT failed", "error", err)
		return
	}
	frame, err := ocpp.EncodeCallResult(ocpp.CallResult{MessageID: msgID, Payload: body})
	if err != nil {
		s.logger.Error("encode CALLRESULT frame failed", "error", err)
		return
	}
	if err := s.writeFrame(frame); err != nil {
		s.logger.Warn("write CALLRESULT failed", "error", err)
	}
}

func (h *Hub) replyError(s *Session, msgID, code, desc string, details []byte) {
	frame, err := ocpp.EncodeCallError(ocpp.CallError{MessageID: msgID, ErrorCode: code, ErrorDescription: desc, Details: details})
	if err != nil {
		s.logger.Error("encode CALLERROR failed", "error", err)
		return
	}
	if err := s.writeFrame(frame); err != nil {
		s.logger.Warn("write CALLERROR failed", "error", err)
	}
}
