package orchestrator

import (
	"encoding/json"

	"github.com/ocx/evcentral/internal/ocpp"
)

type inboundHandler func(h *Hub, s *Session, payload json.RawMessage) (interface{}, error)

var inboundHandlers = map[string]inboundHandler{
	ocpp.ActionBootNotification:   (*Hub).handleBootNotification,
	ocpp.ActionAuthorize:          (*Hub).handleAuthorize,
	ocpp.ActionStatusNotification: (*Hub).handleStatusNotification,
	ocpp.ActionHeartbeat:          (*Hub).handleHeartbeat,
	ocpp.ActionStartTransaction:   (*Hub).handleStartTransaction,
	ocpp.ActionStopTransaction:    (*Hub).handleStopTransaction,
	ocpp.ActionMeterValues:        (*Hub).handleMeterValues,
	ocpp.ActionDataTransfer:       (*Hub).handleDataTransfer,
}

// dispatchCall routes an inbound CALL to its handler and writes back a
// CALLRESULT or CALLERROR. A handler panic is recovered here so it never
// tears down the read loop; it is reported as a CALLERROR for the message
// that triggered it.
func (h *Hub) dispatchCall(s *Session, call *ocpp.Call) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("handler panic", "action", call.Action, "recover", r)
			h.replyError(s, call.MessageID, ocpp.ErrorInternalError, "internal error", nil)
		}
	}()

	fn, ok := inboundHandlers[call.Action]
	if !ok {
		h.metrics.RejectedFrames.WithLabelValues("not_implemented").Inc()
		h.replyError(s, call.MessageID, ocpp.ErrorNotImplemented, "action not implemented", ocpp.NotImplementedDetails(call.Action))
		return
	}
	h.metrics.MessagesReceived.WithLabelValues(call.Action).Inc()

	resp, err := fn(h, s, call.Payload)
	if err != nil {
		s.logger.Warn("handler error", "action", call.Action, "error", err)
		h.replyError(s, call.MessageID, ocpp.ErrorFormationViolation, err.Error(), nil)
		return
	}
	h.replyResult(s, call.MessageID, resp)
}
