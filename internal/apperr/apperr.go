// Package apperr defines the error taxonomy shared by the orchestrator,
// the HTTP control plane, and the operator console.
package apperr

import "errors"

// Sentinel errors. Collaborators wrap these with fmt.Errorf("...: %w", Err)
// and callers recover the category with errors.Is.
var (
	// NotConnected means the referenced charge point has no live orchestrator.
	NotConnected = errors.New("charge point not connected")
	// NotFound means a referenced transaction, connector, or station is unknown.
	NotFound = errors.New("not found")
	// Rejected means the station replied with a non-Accepted status to an outbound command.
	Rejected = errors.New("rejected by station")
	// InvalidInput means the request failed schema or semantic validation.
	InvalidInput = errors.New("invalid input")
	// InsufficientFunds means a wallet deduction would take the balance negative.
	InsufficientFunds = errors.New("insufficient funds")
	// Timeout means the GetConfiguration call did not resolve in time.
	Timeout = errors.New("timeout")
	// ProtocolFramingError means an inbound OCPP frame could not be parsed.
	ProtocolFramingError = errors.New("protocol framing error")
	// Disconnected means an outstanding outbound call was cancelled by a socket close.
	Disconnected = errors.New("disconnected")
)

// HTTPStatus maps a sentinel to the status code the control-plane adapter
// should answer with. Returns 0, false for errors outside the taxonomy.
func HTTPStatus(err error) (int, bool) {
	switch {
	case errors.Is(err, NotConnected):
		return 404, true
	case errors.Is(err, NotFound):
		return 404, true
	case errors.Is(err, Rejected):
		return 409, true
	case errors.Is(err, InvalidInput):
		return 400, true
	case errors.Is(err, InsufficientFunds):
		return 402, true
	case errors.Is(err, Timeout):
		return 504, true
	case errors.Is(err, ProtocolFramingError):
		return 400, true
	case errors.Is(err, Disconnected):
		return 409, true
	default:
		return 0, false
	}
}
