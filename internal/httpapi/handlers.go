package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/ocx/evcentral/internal/apperr"
	"github.com/ocx/evcentral/internal/registry"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":   true,
		"time": time.Now().UTC(),
	})
}

type createStationRequest struct {
	Name     string `json:"name"`
	Location string `json:"location"`
}

func (s *Server) handleCreateStation(w http.ResponseWriter, r *http.Request) {
	var req createStationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid body")
		return
	}
	if req.Name == "" {
		writeBadRequest(w, "name is required")
		return
	}
	st := s.hub.Registry().CreateStation(req.Name, req.Location)
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleListStations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.hub.Registry().Stations())
}

func (s *Server) handleGetStation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeBadRequest(w, "invalid station id")
		return
	}
	st, found := s.hub.Registry().StationByID(id)
	if !found {
		writeError(w, apperr.NotFound)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleDeleteStation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeBadRequest(w, "invalid station id")
		return
	}
	if !s.hub.Registry().DeleteStation(id) {
		writeError(w, apperr.NotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func pathID(r *http.Request) (int, bool) {
	var id int
	if _, err := fmt.Sscanf(mux.Vars(r)["id"], "%d", &id); err != nil {
		return 0, false
	}
	return id, true
}

type startRequest struct {
	CPID        string `json:"cpid"`
	ConnectorID int    `json:"connectorId"`
	IDTag       string `json:"idTag"`
	VID         string `json:"vid"`
	MAC         string `json:"mac"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid body")
		return
	}
	if req.CPID == "" {
		writeBadRequest(w, "cpid is required")
		return
	}
	s.hub.SeedPendingStart(req.CPID, req.ConnectorID, req.IDTag, req.VID, req.MAC)

	status, err := s.hub.RemoteStart(r.Context(), req.CPID, req.ConnectorID, req.IDTag)
	if err != nil {
		writeError(w, err)
		return
	}
	if status != "Accepted" {
		writeError(w, fmt.Errorf("remote start: %w", apperr.Rejected))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

type stopRequest struct {
	CPID          string `json:"cpid"`
	TransactionID int    `json:"transactionId"`
	ConnectorID   int    `json:"connectorId"`
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	var req stopRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid body")
		return
	}
	if req.CPID == "" {
		writeBadRequest(w, "cpid is required")
		return
	}

	txID := req.TransactionID
	if txID == 0 {
		tx, ok := s.hub.Registry().ActiveByConnector(req.CPID, req.ConnectorID)
		if !ok {
			writeError(w, apperr.NotFound)
			return
		}
		txID = tx.TransactionID
	}

	status, err := s.hub.RemoteStop(r.Context(), req.CPID, txID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

type releaseRequest struct {
	CPID        string `json:"cpid"`
	ConnectorID int    `json:"connectorId"`
}

func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	var req releaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid body")
		return
	}
	status, err := s.hub.Release(r.Context(), req.CPID, req.ConnectorID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

type resetRequest struct {
	CPID string `json:"cpid"`
	Type string `json:"type"`
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid body")
		return
	}
	if req.Type != "Hard" && req.Type != "Soft" {
		writeBadRequest(w, `type must be "Hard" or "Soft"`)
		return
	}
	status, err := s.hub.Reset(r.Context(), req.CPID, req.Type)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

type availabilityRequest struct {
	CPID        string `json:"cpid"`
	ConnectorID int    `json:"connectorId"`
	Available   bool   `json:"available"`
}

func (s *Server) handleAvailability(w http.ResponseWriter, r *http.Request) {
	var req availabilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid body")
		return
	}
	availType := "Inoperative"
	if req.Available {
		availType = "Operative"
	}
	status, err := s.hub.ChangeAvailability(r.Context(), req.CPID, req.ConnectorID, availType)
	if err != nil {
		writeError(w, err)
		return
	}
	if status != "Accepted" && status != "Scheduled" {
		writeError(w, fmt.Errorf("change availability: %w", apperr.Rejected))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.hub.Registry().AllPending())
}

func (s *Server) handleActive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.hub.Registry().AllActive())
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.hub.Registry().History())
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.hub.Registry().AllConnectors())
}

type overview struct {
	Status  []*registry.Connector          `json:"status"`
	Pending []*registry.PendingSession     `json:"pending"`
	Active  []*registry.ActiveTransaction  `json:"active"`
}

func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	reg := s.hub.Registry()
	writeJSON(w, http.StatusOK, overview{
		Status:  reg.AllConnectors(),
		Pending: reg.AllPending(),
		Active:  reg.AllActive(),
	})
}

func (s *Server) handleIdentify(w http.ResponseWriter, r *http.Request) {
	var req UserIdentifier
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid body")
		return
	}
	id, ok := req.resolve(s.hub.VID())
	if !ok {
		writeBadRequest(w, "no identifier field provided")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"vid": id})
}

type walletRequest struct {
	Identifier UserIdentifier `json:"identifier"`
	Amount     float64        `json:"amount"`
}

func (s *Server) handleWalletTopUp(w http.ResponseWriter, r *http.Request) {
	var req walletRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid body")
		return
	}
	id, ok := req.Identifier.resolve(s.hub.VID())
	if !ok {
		writeBadRequest(w, "no identifier field provided")
		return
	}
	balance := s.hub.Wallet().TopUp(id, req.Amount)
	writeJSON(w, http.StatusOK, map[string]interface{}{"vid": id, "balance": balance})
}

func (s *Server) handleWalletCharge(w http.ResponseWriter, r *http.Request) {
	var req walletRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid body")
		return
	}
	id, ok := req.Identifier.resolve(s.hub.VID())
	if !ok {
		writeBadRequest(w, "no identifier field provided")
		return
	}
	balance, err := s.hub.Wallet().Deduct(id, req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"vid": id, "balance": balance})
}
