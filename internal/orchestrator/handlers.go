package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ocx/evcentral/internal/ocpp"
	"github.com/ocx/evcentral/internal/registry"
)

const accepted = ocpp.AuthorizeStatusAccepted

func (h *Hub) handleBootNotification(s *Session, payload json.RawMessage) (interface{}, error) {
	var req ocpp.BootNotificationRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("BootNotification: %w", err)
	}

	h.registry.Connect(s.cpid, req.ChargePointVendor, req.ChargePointModel, req.FirmwareVersion)

	go h.postBootSequence(s)

	return ocpp.BootNotificationResponse{
		Status:      ocpp.RegistrationStatusAccepted,
		CurrentTime: nowUTC(),
		Interval:    300,
	}, nil
}

// postBootSequence runs the asynchronous reconfiguration handshake after
// BootNotification has already been acknowledged.
func (h *Hub) postBootSequence(s *Session) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(h.cfg.Boot.GetConfigurationTimeoutSec)*time.Second)
	defer cancel()

	raw, err := h.sendCall(ctx, s, ocpp.ActionGetConfiguration, ocpp.GetConfigurationRequest{})
	if err != nil {
		s.logger.Warn("post-boot GetConfiguration did not complete", "error", err)
		return
	}

	var resp ocpp.GetConfigurationResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		s.logger.Warn("post-boot GetConfiguration response malformed", "error", err)
		return
	}

	keys := make(map[string]string, len(resp.ConfigurationKey))
	for _, kv := range resp.ConfigurationKey {
		keys[normalizeConfigKey(kv.Key)] = kv.Value
	}

	background := context.Background()

	if _, ok := keys[normalizeConfigKey("AuthorizeRemoteTxRequests")]; ok {
		if _, err := h.sendCall(background, s, ocpp.ActionChangeConfiguration, ocpp.ChangeConfigurationRequest{
			Key: "AuthorizeRemoteTxRequests", Value: "true",
		}); err != nil {
			s.logger.Warn("post-boot ChangeConfiguration(AuthorizeRemoteTxRequests) failed", "error", err)
		}
	}

	if _, ok := keys[normalizeConfigKey("QRcodeConnectorID1")]; ok {
		if _, err := h.sendCall(background, s, ocpp.ActionChangeConfiguration, ocpp.ChangeConfigurationRequest{
			Key: "QRcodeConnectorID1", Value: h.cfg.Boot.QRCodeURL,
		}); err != nil {
			s.logger.Warn("post-boot ChangeConfiguration(QRcodeConnectorID1) failed", "error", err)
		}
		return
	}

	body, _ := json.Marshal(map[string]string{"message_type": "QRCode", "uri": h.cfg.Boot.QRCodeURL})
	if _, err := h.sendCall(background, s, ocpp.ActionDataTransfer, ocpp.DataTransferRequest{
		VendorId: "com.yourcompany.payment", MessageId: "DisplayQRCode", Data: string(body),
	}); err != nil {
		s.logger.Warn("post-boot DataTransfer(DisplayQRCode) failed", "error", err)
	}
}

func normalizeConfigKey(k string) string {
	return strings.ToLower(strings.ReplaceAll(k, "_", ""))
}

func (h *Hub) handleAuthorize(s *Session, payload json.RawMessage) (interface{}, error) {
	var req ocpp.AuthorizeRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("Authorize: %w", err)
	}

	tagVID := h.vid.Resolve("id_tag", req.IdTag)

	for _, p := range h.registry.PendingForStation(s.cpid) {
		if p.MAC != "" {
			macVID := h.vid.Resolve("mac", p.MAC)
			if macVID != tagVID {
				h.vid.Merge(macVID, tagVID)
			}
		}
		if p.VID != "" && p.VID != tagVID {
			h.vid.Merge(p.VID, tagVID)
		}
		h.registry.SetPending(s.cpid, p.ConnectorID, req.IdTag, tagVID, "")
	}

	return ocpp.AuthorizeResponse{IdTagInfo: ocpp.IdTagInfo{Status: accepted}}, nil
}

func (h *Hub) handleStatusNotification(s *Session, payload json.RawMessage) (interface{}, error) {
	var req ocpp.StatusNotificationRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("StatusNotification: %w", err)
	}

	h.registry.SetConnectorStatus(s.cpid, req.ConnectorId, req.Status, req.ErrorCode)

	armable := req.Status == ocpp.StatusPreparing || req.Status == ocpp.StatusOccupied

	if req.Status == ocpp.StatusPreparing {
		existing, _ := h.registry.Pending(s.cpid, req.ConnectorId)
		v, mac := "", ""
		if existing != nil {
			v, mac = existing.VID, existing.MAC
		}
		if v == "" {
			hint := h.registry.LastSeenHint(s.cpid)
			if hint.VID != "" {
				v = hint.VID
			}
			if mac == "" {
				mac = hint.MAC
			}
		}
		if v == "" {
			v = h.vid.Resolve("temp", fmt.Sprintf("temp:%s:%d:%s", s.cpid, req.ConnectorId, uuid.NewString()))
		}
		h.registry.SetPending(s.cpid, req.ConnectorId, "", v, mac)
		h.registry.ClearPending(s.cpid, 0)
	} else {
		h.registry.ClearPending(s.cpid, req.ConnectorId)
	}

	_, active := h.registry.ActiveByConnector(s.cpid, req.ConnectorId)
	if armable && !active {
		h.armWatchdog(s, req.ConnectorId)
	} else {
		h.registry.DisarmWatchdog(s.cpid, req.ConnectorId)
	}

	return ocpp.StatusNotificationResponse{}, nil
}

func (h *Hub) handleHeartbeat(s *Session, payload json.RawMessage) (interface{}, error) {
	h.registry.Touch(s.cpid)
	return ocpp.HeartbeatResponse{CurrentTime: nowUTC()}, nil
}

func (h *Hub) handleMeterValues(s *Session, payload json.RawMessage) (interface{}, error) {
	var req ocpp.MeterValuesRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("MeterValues: %w", err)
	}

	if _, ok := h.registry.ActiveByConnector(s.cpid, req.ConnectorId); !ok {
		return ocpp.MeterValuesResponse{}, nil
	}

	for _, mv := range req.MeterValue {
		sample := registry.MeterSample{}
		if ts, err := time.Parse(time.RFC3339, mv.Timestamp); err == nil {
			sample.Timestamp = ts
		} else {
			sample.Timestamp = time.Now().UTC()
		}

		for _, sv := range mv.SampledValue {
			f, err := strconv.ParseFloat(sv.Value, 64)
			if err != nil {
				continue
			}
			switch sv.Measurand {
			case "Current.Import":
				sample.Current = &f
			case "Voltage":
				sample.Voltage = &f
			case "SoC":
				sample.SoC = &f
			case "Temperature":
				sample.Temperature = &f
			case "Energy.Active.Import.Register":
				h.registry.SetEnergyImportRegister(s.cpid, req.ConnectorId, f)
				continue
			}
		}
		h.registry.AppendMeterSample(s.cpid, req.ConnectorId, sample)
	}

	return ocpp.MeterValuesResponse{}, nil
}

func (h *Hub) handleDataTransfer(s *Session, payload json.RawMessage) (interface{}, error) {
	var req ocpp.DataTransferRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("DataTransfer: %w", err)
	}

	var vidHint, macHint string
	if req.VendorId == "MacID" {
		macHint = req.Data
	} else if req.Data != "" {
		var parsed map[string]interface{}
		if err := json.Unmarshal([]byte(req.Data), &parsed); err != nil {
			return ocpp.DataTransferResponse{Status: ocpp.DataTransferStatusRejected}, nil
		}
		vidHint = firstString(parsed, "vid", "vehicleId", "vehicle_id")
		macHint = firstString(parsed, "mac", "macId", "mac_id")
	}

	if vidHint == "" && macHint == "" {
		return ocpp.DataTransferResponse{Status: ocpp.DataTransferStatusAccepted}, nil
	}

	resolved := vidHint
	if macHint != "" {
		macVID := h.vid.Resolve("mac", macHint)
		if resolved == "" {
			resolved = macVID
		} else if macVID != resolved {
			h.vid.Merge(macVID, resolved)
		}
	}

	h.registry.SetLastSeenHint(s.cpid, resolved, macHint)

	for _, p := range h.registry.PendingForStation(s.cpid) {
		if p.VID != "" && resolved != "" && p.VID != resolved {
			h.vid.Merge(p.VID, resolved)
		}
		h.registry.SetPending(s.cpid, p.ConnectorID, "", resolved, macHint)
	}

	return ocpp.DataTransferResponse{Status: ocpp.DataTransferStatusAccepted}, nil
}

func firstString(m map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

func (h *Hub) handleStartTransaction(s *Session, payload json.RawMessage) (interface{}, error) {
	var req ocpp.StartTransactionRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("StartTransaction: %w", err)
	}
	c := req.ConnectorId

	if expected, ok := h.registry.TakePendingRemote(s.cpid, c); ok && expected != req.IdTag {
		h.registry.ClearPending(s.cpid, c)
		go func() {
			if _, err := h.sendCall(s.ctx, s, ocpp.ActionUnlockConnector, ocpp.UnlockConnectorRequest{ConnectorId: c}); err != nil {
				s.logger.Warn("UnlockConnector after rejected StartTransaction failed", "error", err)
			}
		}()
		return ocpp.StartTransactionResponse{
			TransactionId: 0,
			IdTagInfo:     ocpp.IdTagInfo{Status: ocpp.AuthorizeStatusInvalid},
		}, nil
	}

	var vidVal, macVal string
	if pending, ok := h.registry.TakePending(s.cpid, c); ok {
		vidVal, macVal = pending.VID, pending.MAC
	}
	if vidVal == "" && req.IdTag != "" {
		vidVal = h.vid.Resolve("id_tag", req.IdTag)
	}
	hint := h.registry.LastSeenHint(s.cpid)
	if vidVal == "" && hint.VID != "" {
		vidVal = hint.VID
	}
	if vidVal == "" && hint.MAC != "" {
		vidVal = h.vid.Resolve("mac", hint.MAC)
	}
	if macVal == "" {
		macVal = hint.MAC
	}

	h.registry.DisarmWatchdog(s.cpid, c)

	startedAt, err := time.Parse(time.RFC3339, req.Timestamp)
	if err != nil {
		startedAt = time.Now().UTC()
	}
	tx := h.registry.StartTransaction(s.cpid, c, vidVal, macVal, req.IdTag, req.MeterStart, startedAt)
	h.metrics.ActiveTransactions.Inc()

	if h.cfg.Wallet.ZeroCreditCutoffEnabled {
		txID := tx.TransactionID
		go func() {
			if h.wallet.Balance(vidVal) <= 0 {
				if _, err := h.sendCall(context.Background(), s, ocpp.ActionRemoteStopTx, ocpp.RemoteStopTransactionRequest{TransactionId: txID}); err != nil {
					s.logger.Warn("zero-credit RemoteStopTransaction failed", "transactionId", txID, "error", err)
				}
			}
		}()
	}

	return ocpp.StartTransactionResponse{
		TransactionId: tx.TransactionID,
		IdTagInfo:     ocpp.IdTagInfo{Status: accepted},
	}, nil
}

func (h *Hub) handleStopTransaction(s *Session, payload json.RawMessage) (interface{}, error) {
	var req ocpp.StopTransactionRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("StopTransaction: %w", err)
	}

	stoppedAt, err := time.Parse(time.RFC3339, req.Timestamp)
	if err != nil {
		stoppedAt = time.Now().UTC()
	}

	rec, err := h.registry.StopTransaction(req.TransactionId, req.MeterStop, stoppedAt)
	if err != nil {
		return ocpp.StopTransactionResponse{}, nil
	}

	h.metrics.ActiveTransactions.Dec()
	h.metrics.TransactionDuration.Observe(rec.Duration.Seconds())

	return ocpp.StopTransactionResponse{IdTagInfo: &ocpp.IdTagInfo{Status: accepted}}, nil
}

func nowUTC() string {
	return time.Now().UTC().Format(time.RFC3339)
}
