package ocpp

// Action names as they appear on the wire, inbound and outbound.
const (
	ActionBootNotification    = "BootNotification"
	ActionAuthorize           = "Authorize"
	ActionStatusNotification  = "StatusNotification"
	ActionHeartbeat           = "Heartbeat"
	ActionStartTransaction    = "StartTransaction"
	ActionStopTransaction     = "StopTransaction"
	ActionMeterValues         = "MeterValues"
	ActionDataTransfer        = "DataTransfer"
	ActionRemoteStartTx       = "RemoteStartTransaction"
	ActionRemoteStopTx        = "RemoteStopTransaction"
	ActionReset               = "Reset"
	ActionUnlockConnector     = "UnlockConnector"
	ActionChangeAvailability  = "ChangeAvailability"
	ActionChangeConfiguration = "ChangeConfiguration"
	ActionGetConfiguration    = "GetConfiguration"
)

// InboundActions lists every action a charge point is allowed to CALL the
// central system with. Anything else gets NotImplemented.
var InboundActions = map[string]bool{
	ActionBootNotification:   true,
	ActionAuthorize:          true,
	ActionStatusNotification: true,
	ActionHeartbeat:          true,
	ActionStartTransaction:   true,
	ActionStopTransaction:    true,
	ActionMeterValues:        true,
	ActionDataTransfer:       true,
}

// NotImplementedDetails builds the CALLERROR details payload for an
// action the central system doesn't recognize.
func NotImplementedDetails(action string) []byte {
	return []byte(`{"action":"` + action + `"}`)
}
