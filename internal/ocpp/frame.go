// Package ocpp implements the OCPP 1.6J wire format: the three JSON array
// message shapes (CALL, CALLRESULT, CALLERROR), the per-action payload
// structs, and the action dispatch table the orchestrator drives.
package ocpp

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/ocx/evcentral/internal/apperr"
)

// MessageTypeID identifies which of the three OCPP-J array shapes a frame is.
type MessageTypeID int

const (
	MessageTypeCall       MessageTypeID = 2
	MessageTypeCallResult MessageTypeID = 3
	MessageTypeCallError  MessageTypeID = 4
)

// Standard OCPP 1.6 CALLERROR codes used by this implementation.
const (
	ErrorNotImplemented        = "NotImplemented"
	ErrorNotSupported          = "NotSupported"
	ErrorInternalError         = "InternalError"
	ErrorProtocolError         = "ProtocolError"
	ErrorFormationViolation    = "FormationViolation"
	ErrorPropertyConstraintVio = "PropertyConstraintViolation"
	ErrorOccurenceConstraint   = "OccurenceConstraintViolation"
	ErrorTypeConstraintVio     = "TypeConstraintViolation"
	ErrorGenericError          = "GenericError"
)

// Call is an inbound or outbound OCPP request: [2, messageId, action, payload].
type Call struct {
	MessageID string
	Action    string
	Payload   json.RawMessage
}

// CallResult is a successful reply: [3, messageId, payload].
type CallResult struct {
	MessageID string
	Payload   json.RawMessage
}

// CallError is a failed reply: [4, messageId, errorCode, errorDescription, details].
type CallError struct {
	MessageID        string
	ErrorCode        string
	ErrorDescription string
	Details          json.RawMessage
}

// NewMessageID returns a fresh, unique OCPP message id.
func NewMessageID() string {
	return uuid.NewString()
}

// EncodeCall marshals a Call into its wire form.
func EncodeCall(c Call) ([]byte, error) {
	return json.Marshal([]interface{}{MessageTypeCall, c.MessageID, c.Action, c.Payload})
}

// EncodeCallResult marshals a CallResult into its wire form.
func EncodeCallResult(r CallResult) ([]byte, error) {
	return json.Marshal([]interface{}{MessageTypeCallResult, r.MessageID, r.Payload})
}

// EncodeCallError marshals a CallError into its wire form.
func EncodeCallError(e CallError) ([]byte, error) {
	details := e.Details
	if details == nil {
		details = json.RawMessage("{}")
	}
	return json.Marshal([]interface{}{MessageTypeCallError, e.MessageID, e.ErrorCode, e.ErrorDescription, details})
}

// Decode parses a raw frame into exactly one of Call, CallResult, or
// CallError, returning apperr.ProtocolFramingError for anything that
// doesn't fit the three OCPP-J array shapes.
func Decode(raw []byte) (*Call, *CallResult, *CallError, error) {
	var arr []json.RawMessage
	if err := json.Unmarshal(raw, &arr); err != nil {
		return nil, nil, nil, fmt.Errorf("%w: %v", apperr.ProtocolFramingError, err)
	}
	if len(arr) < 3 {
		return nil, nil, nil, fmt.Errorf("%w: frame has %d elements", apperr.ProtocolFramingError, len(arr))
	}

	var typeID int
	if err := json.Unmarshal(arr[0], &typeID); err != nil {
		return nil, nil, nil, fmt.Errorf("%w: message type id: %v", apperr.ProtocolFramingError, err)
	}

	var msgID string
	if err := json.Unmarshal(arr[1], &msgID); err != nil {
		return nil, nil, nil, fmt.Errorf("%w: message id: %v", apperr.ProtocolFramingError, err)
	}

	switch MessageTypeID(typeID) {
	case MessageTypeCall:
		if len(arr) != 4 {
			return nil, nil, nil, fmt.Errorf("%w: CALL has %d elements, want 4", apperr.ProtocolFramingError, len(arr))
		}
		var action string
		if err := json.Unmarshal(arr[2], &action); err != nil {
			return nil, nil, nil, fmt.Errorf("%w: action: %v", apperr.ProtocolFramingError, err)
		}
		return &Call{MessageID: msgID, Action: action, Payload: arr[3]}, nil, nil, nil

	case MessageTypeCallResult:
		if len(arr) != 3 {
			return nil, nil, nil, fmt.Errorf("%w: CALLRESULT has %d elements, want 3", apperr.ProtocolFramingError, len(arr))
		}
		return nil, &CallResult{MessageID: msgID, Payload: arr[2]}, nil, nil

	case MessageTypeCallError:
		if len(arr) != 5 {
			return nil, nil, nil, fmt.Errorf("%w: CALLERROR has %d elements, want 5", apperr.ProtocolFramingError, len(arr))
		}
		var code, desc string
		if err := json.Unmarshal(arr[2], &code); err != nil {
			return nil, nil, nil, fmt.Errorf("%w: error code: %v", apperr.ProtocolFramingError, err)
		}
		_ = json.Unmarshal(arr[3], &desc)
		return nil, nil, &CallError{MessageID: msgID, ErrorCode: code, ErrorDescription: desc, Details: arr[4]}, nil

	default:
		return nil, nil, nil, fmt.Errorf("%w: unknown message type id %d", apperr.ProtocolFramingError, typeID)
	}
}
