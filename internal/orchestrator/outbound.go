package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ocx/evcentral/internal/apperr"
	"github.com/ocx/evcentral/internal/ocpp"
)

// RemoteStart dispatches RemoteStartTransaction and, only if the station
// accepts, arms the pending-remote flag so the upcoming StartTransaction
// can be authenticated against idTag.
func (h *Hub) RemoteStart(ctx context.Context, cpid string, connectorID int, idTag string) (string, error) {
	s, ok := h.Lookup(cpid)
	if !ok {
		return "", fmt.Errorf("remote start %s: %w", cpid, apperr.NotConnected)
	}

	raw, err := h.sendCall(ctx, s, ocpp.ActionRemoteStartTx, ocpp.RemoteStartTransactionRequest{ConnectorId: connectorID, IdTag: idTag})
	if err != nil {
		return "", err
	}

	var resp ocpp.RemoteStartTransactionResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("%w: %v", apperr.ProtocolFramingError, err)
	}
	if resp.Status == accepted {
		h.registry.SetPendingRemote(cpid, connectorID, idTag)
	}
	return resp.Status, nil
}

// RemoteStop dispatches RemoteStopTransaction for an already-started
// transaction id.
func (h *Hub) RemoteStop(ctx context.Context, cpid string, transactionID int) (string, error) {
	s, ok := h.Lookup(cpid)
	if !ok {
		return "", fmt.Errorf("remote stop %s: %w", cpid, apperr.NotConnected)
	}

	raw, err := h.sendCall(ctx, s, ocpp.ActionRemoteStopTx, ocpp.RemoteStopTransactionRequest{TransactionId: transactionID})
	if err != nil {
		return "", err
	}

	var resp ocpp.RemoteStopTransactionResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("%w: %v", apperr.ProtocolFramingError, err)
	}
	return resp.Status, nil
}

// Reset dispatches a Hard or Soft Reset.
func (h *Hub) Reset(ctx context.Context, cpid, resetType string) (string, error) {
	s, ok := h.Lookup(cpid)
	if !ok {
		return "", fmt.Errorf("reset %s: %w", cpid, apperr.NotConnected)
	}

	raw, err := h.sendCall(ctx, s, ocpp.ActionReset, ocpp.ResetRequest{Type: resetType})
	if err != nil {
		return "", err
	}

	var resp ocpp.ResetResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("%w: %v", apperr.ProtocolFramingError, err)
	}
	return resp.Status, nil
}

// UnlockConnector dispatches UnlockConnector for a connector.
func (h *Hub) UnlockConnector(ctx context.Context, cpid string, connectorID int) (string, error) {
	s, ok := h.Lookup(cpid)
	if !ok {
		return "", fmt.Errorf("unlock %s: %w", cpid, apperr.NotConnected)
	}

	raw, err := h.sendCall(ctx, s, ocpp.ActionUnlockConnector, ocpp.UnlockConnectorRequest{ConnectorId: connectorID})
	if err != nil {
		return "", err
	}

	var resp ocpp.UnlockConnectorResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("%w: %v", apperr.ProtocolFramingError, err)
	}
	return resp.Status, nil
}

// ChangeAvailability dispatches ChangeAvailability for a connector.
func (h *Hub) ChangeAvailability(ctx context.Context, cpid string, connectorID int, availabilityType string) (string, error) {
	s, ok := h.Lookup(cpid)
	if !ok {
		return "", fmt.Errorf("change availability %s: %w", cpid, apperr.NotConnected)
	}

	raw, err := h.sendCall(ctx, s, ocpp.ActionChangeAvailability, ocpp.ChangeAvailabilityRequest{ConnectorId: connectorID, Type: availabilityType})
	if err != nil {
		return "", err
	}

	var resp ocpp.ChangeAvailabilityResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("%w: %v", apperr.ProtocolFramingError, err)
	}
	return resp.Status, nil
}

// ChangeConfiguration dispatches ChangeConfiguration for a key/value pair.
func (h *Hub) ChangeConfiguration(ctx context.Context, cpid, key, value string) (string, error) {
	s, ok := h.Lookup(cpid)
	if !ok {
		return "", fmt.Errorf("change configuration %s: %w", cpid, apperr.NotConnected)
	}

	raw, err := h.sendCall(ctx, s, ocpp.ActionChangeConfiguration, ocpp.ChangeConfigurationRequest{Key: key, Value: value})
	if err != nil {
		return "", err
	}

	var resp ocpp.ChangeConfigurationResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("%w: %v", apperr.ProtocolFramingError, err)
	}
	return resp.Status, nil
}

// Release cancels a connector's watchdog and pending session, then
// unlocks it. Returns apperr.InvalidInput if a transaction is active.
func (h *Hub) Release(ctx context.Context, cpid string, connectorID int) (string, error) {
	if _, active := h.registry.ActiveByConnector(cpid, connectorID); active {
		return "", fmt.Errorf("release %s/%d: %w", cpid, connectorID, apperr.InvalidInput)
	}
	h.registry.DisarmWatchdog(cpid, connectorID)
	h.registry.ClearPending(cpid, connectorID)
	h.registry.TakePendingRemote(cpid, connectorID)
	return h.UnlockConnector(ctx, cpid, connectorID)
}

// SeedPendingStart arms a connector's pending session ahead of an
// operator- or API-initiated RemoteStartTransaction.
func (h *Hub) SeedPendingStart(cpid string, connectorID int, idTag, vid, mac string) {
	h.registry.SetPending(cpid, connectorID, idTag, vid, mac)
}
