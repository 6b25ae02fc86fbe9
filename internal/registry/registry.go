// Package registry holds the flat, in-memory tables the orchestrator and
// control plane share: stations, connectors, pending sessions, active
// transactions, and completed-session history. Every table is keyed by id
// or (station, connector) pair rather than by pointer, so a lookup never
// outlives the station it names.
package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/ocx/evcentral/internal/apperr"
)

// Station is one charge point's identity and liveness state.
type Station struct {
	ID              int
	CPID            string
	Name            string
	Location        string
	Vendor          string
	Model            string
	FirmwareVersion string
	Connected       bool
	ConnectedAt     time.Time
	LastSeen        time.Time
}

// Connector tracks the OCPP status of a single numbered connector on a
// station. ConnectorID 0 refers to the station itself.
type Connector struct {
	StationID   int
	CPID        string
	ConnectorID int
	Status      string
	ErrorCode   string
	UpdatedAt   time.Time
}

// PendingSession accumulates identity hints for a connector between a
// Preparing StatusNotification and the StartTransaction that follows it.
type PendingSession struct {
	CPID        string
	ConnectorID int
	IDTag       string
	VID         string
	MAC         string
	CreatedAt   time.Time
}

// MeterSample is one parsed MeterValues reading attached to an active or
// completed transaction.
type MeterSample struct {
	Timestamp   time.Time
	Current     *float64
	Voltage     *float64
	SoC         *float64
	Temperature *float64
}

// ActiveTransaction is a connector's in-flight charge.
type ActiveTransaction struct {
	TransactionID int
	StationID     int
	CPID          string
	ConnectorID   int
	VID           string
	MAC           string
	IDTag         string
	MeterStart    int
	StartedAt     time.Time
	MeterSamples  []MeterSample
	LastSample    *MeterSample
	// LastEnergyImportRegister is the most recent Energy.Active.Import.Register
	// reading. It is bookkeeping for the HTTP active/overview views only and
	// is never copied into a persisted MeterSample.
	LastEnergyImportRegister *float64
}

// CompletedSession is the record appended once a transaction stops.
type CompletedSession struct {
	TransactionID int
	CPID          string
	ConnectorID   int
	VID           string
	MAC           string
	IDTag         string
	MeterStart    int
	MeterStop     int
	EnergyWh      int
	StartedAt     time.Time
	StoppedAt     time.Time
	Duration      time.Duration
	MeterSamples  []MeterSample
}

// Hint is the orchestrator-wide "last seen" identity guess propagated by
// DataTransfer, consulted by StartTransaction's VID-selection fallback.
type Hint struct {
	VID string
	MAC string
}

type connKey struct {
	cpid        string
	connectorID int
}

// Registry is the process-wide flat arena. All methods are safe for
// concurrent use.
type Registry struct {
	mu sync.RWMutex

	stations      map[string]*Station
	nextStationID int

	connectors map[connKey]*Connector
	pending    map[connKey]*PendingSession

	// pendingRemote holds the id tag a RemoteStartTransaction expects the
	// next StartTransaction on that connector to present.
	pendingRemote map[connKey]string

	active       map[connKey]*ActiveTransaction
	activeByTxID map[int]*ActiveTransaction
	txCounter    int

	history []CompletedSession

	watchdogs map[connKey]func()

	lastSeen map[string]Hint // keyed by cpid
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		stations:      make(map[string]*Station),
		connectors:    make(map[connKey]*Connector),
		pending:       make(map[connKey]*PendingSession),
		pendingRemote: make(map[connKey]string),
		active:        make(map[connKey]*ActiveTransaction),
		activeByTxID:  make(map[int]*ActiveTransaction),
		watchdogs:     make(map[connKey]func()),
		lastSeen:      make(map[string]Hint),
	}
}

// SetLastSeenHint records the orchestrator-wide identity guess for a
// station, as propagated by DataTransfer.
func (r *Registry) SetLastSeenHint(cpid, vid, mac string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h := r.lastSeen[cpid]
	if vid != "" {
		h.VID = vid
	}
	if mac != "" {
		h.MAC = mac
	}
	r.lastSeen[cpid] = h
}

// LastSeenHint returns the last identity guess recorded for a station.
func (r *Registry) LastSeenHint(cpid string) Hint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastSeen[cpid]
}

// PendingForStation returns every pending session currently held for cpid,
// across all connectors.
func (r *Registry) PendingForStation(cpid string) []*PendingSession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []*PendingSession{}
	for k, p := range r.pending {
		if k.cpid == cpid {
			out = append(out, p)
		}
	}
	return out
}

// AllPending returns every pending session across every station.
func (r *Registry) AllPending() []*PendingSession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*PendingSession, 0, len(r.pending))
	for _, p := range r.pending {
		out = append(out, p)
	}
	return out
}

// AllActive returns every in-flight transaction across every station.
func (r *Registry) AllActive() []*ActiveTransaction {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*ActiveTransaction, 0, len(r.active))
	for _, tx := range r.active {
		out = append(out, tx)
	}
	return out
}

// AllConnectors returns every connector known across every station.
func (r *Registry) AllConnectors() []*Connector {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Connector, 0, len(r.connectors))
	for _, c := range r.connectors {
		out = append(out, c)
	}
	return out
}

// Connect registers cpid as connected, creating the station record on
// first sight and updating boot metadata on every reconnect.
func (r *Registry) Connect(cpid, vendor, model, firmware string) *Station {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.stations[cpid]
	if !ok {
		r.nextStationID++
		st = &Station{ID: r.nextStationID, CPID: cpid}
		r.stations[cpid] = st
	}
	st.Vendor = vendor
	st.Model = model
	st.FirmwareVersion = firmware
	st.Connected = true
	st.ConnectedAt = time.Now()
	st.LastSeen = st.ConnectedAt
	return st
}

// CreateStation pre-registers a station by name ahead of its first OCPP
// connection, for the control-plane's station CRUD surface. name is used as
// the cpid key; a station already known under that name is returned as-is.
func (r *Registry) CreateStation(name, location string) *Station {
	r.mu.Lock()
	defer r.mu.Unlock()

	if st, ok := r.stations[name]; ok {
		return st
	}
	r.nextStationID++
	st := &Station{ID: r.nextStationID, CPID: name, Name: name, Location: location}
	r.stations[name] = st
	return st
}

// StationByID returns the station with the given numeric id.
func (r *Registry) StationByID(id int) (*Station, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, st := range r.stations {
		if st.ID == id {
			return st, true
		}
	}
	return nil, false
}

// DeleteStation removes a pre-registered station record by numeric id.
// Reports false if no station carries that id.
func (r *Registry) DeleteStation(id int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for cpid, st := range r.stations {
		if st.ID == id {
			delete(r.stations, cpid)
			return true
		}
	}
	return false
}

// Disconnect marks a station offline. Connector status, pending sessions,
// and transaction history for it are left in place.
func (r *Registry) Disconnect(cpid string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.stations[cpid]; ok {
		st.Connected = false
	}
}

// Touch refreshes a station's last-seen timestamp (Heartbeat, or any
// inbound traffic).
func (r *Registry) Touch(cpid string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.stations[cpid]; ok {
		st.LastSeen = time.Now()
	}
}

// Station returns the station record for cpid.
func (r *Registry) Station(cpid string) (*Station, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.stations[cpid]
	return st, ok
}

// Stations returns every known station in registration order.
func (r *Registry) Stations() []*Station {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Station, 0, len(r.stations))
	for _, st := range r.stations {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SetConnectorStatus records a StatusNotification for (cpid, connectorID).
func (r *Registry) SetConnectorStatus(cpid string, connectorID int, status, errorCode string) *Connector {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := connKey{cpid, connectorID}
	c, ok := r.connectors[key]
	if !ok {
		st := r.stations[cpid]
		stationID := 0
		if st != nil {
			stationID = st.ID
		}
		c = &Connector{StationID: stationID, CPID: cpid, ConnectorID: connectorID}
		r.connectors[key] = c
	}
	c.Status = status
	c.ErrorCode = errorCode
	c.UpdatedAt = time.Now()
	return c
}

// ConnectorStatus returns the last known status for a connector.
func (r *Registry) ConnectorStatus(cpid string, connectorID int) (*Connector, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.connectors[connKey{cpid, connectorID}]
	return c, ok
}

// Connectors returns every connector known for cpid.
func (r *Registry) Connectors(cpid string) []*Connector {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []*Connector{}
	for k, c := range r.connectors {
		if k.cpid == cpid {
			out = append(out, c)
		}
	}
	return out
}

// SetPending installs or merges identity hints for a connector awaiting
// StartTransaction.
func (r *Registry) SetPending(cpid string, connectorID int, idTag, vid, mac string) *PendingSession {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := connKey{cpid, connectorID}
	p, ok := r.pending[key]
	if !ok {
		p = &PendingSession{CPID: cpid, ConnectorID: connectorID, CreatedAt: time.Now()}
		r.pending[key] = p
	}
	if idTag != "" {
		p.IDTag = idTag
	}
	if vid != "" {
		p.VID = vid
	}
	if mac != "" {
		p.MAC = mac
	}
	return p
}

// Pending returns the pending session for a connector, if any.
func (r *Registry) Pending(cpid string, connectorID int) (*PendingSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pending[connKey{cpid, connectorID}]
	return p, ok
}

// TakePending atomically reads and clears the pending session for a
// connector, so at most one caller ever consumes it (pending-clearing
// exclusivity).
func (r *Registry) TakePending(cpid string, connectorID int) (*PendingSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := connKey{cpid, connectorID}
	p, ok := r.pending[key]
	if ok {
		delete(r.pending, key)
	}
	return p, ok
}

// ClearPending discards a pending session without returning it.
func (r *Registry) ClearPending(cpid string, connectorID int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, connKey{cpid, connectorID})
}

// SetPendingRemote records the id tag a forthcoming StartTransaction must
// present to be treated as the remote-start it was authorized for.
func (r *Registry) SetPendingRemote(cpid string, connectorID int, idTag string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pendingRemote[connKey{cpid, connectorID}] = idTag
}

// TakePendingRemote atomically reads and clears the pending remote-start
// flag for a connector.
func (r *Registry) TakePendingRemote(cpid string, connectorID int) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := connKey{cpid, connectorID}
	idTag, ok := r.pendingRemote[key]
	if ok {
		delete(r.pendingRemote, key)
	}
	return idTag, ok
}

// NextTransactionID returns the next value of the process-wide,
// monotonically increasing transaction id counter, starting at 1.
func (r *Registry) NextTransactionID() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.txCounter++
	return r.txCounter
}

// StartTransaction records a new active transaction on a connector,
// replacing whatever was previously active there. startedAt should be the
// OCPP message's own Timestamp, not the time it was handled.
func (r *Registry) StartTransaction(cpid string, connectorID int, vid, mac, idTag string, meterStart int, startedAt time.Time) *ActiveTransaction {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := r.stations[cpid]
	stationID := 0
	if st != nil {
		stationID = st.ID
	}

	r.txCounter++
	tx := &ActiveTransaction{
		TransactionID: r.txCounter,
		StationID:     stationID,
		CPID:          cpid,
		ConnectorID:   connectorID,
		VID:           vid,
		MAC:           mac,
		IDTag:         idTag,
		MeterStart:    meterStart,
		StartedAt:     startedAt,
	}
	r.active[connKey{cpid, connectorID}] = tx
	r.activeByTxID[tx.TransactionID] = tx
	return tx
}

// AppendMeterSample records a MeterValues sample against the connector's
// active transaction. No-op if none is active.
func (r *Registry) AppendMeterSample(cpid string, connectorID int, sample MeterSample) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx, ok := r.active[connKey{cpid, connectorID}]
	if !ok {
		return
	}
	tx.MeterSamples = append(tx.MeterSamples, sample)
	last := sample
	tx.LastSample = &last
}

// SetEnergyImportRegister records the most recent Energy.Active.Import.Register
// reading for a connector's active transaction, without appending it as a
// persisted meter sample. No-op if no transaction is active.
func (r *Registry) SetEnergyImportRegister(cpid string, connectorID int, value float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx, ok := r.active[connKey{cpid, connectorID}]
	if !ok {
		return
	}
	tx.LastEnergyImportRegister = &value
}

// ActiveByConnector returns the in-flight transaction on a connector.
func (r *Registry) ActiveByConnector(cpid string, connectorID int) (*ActiveTransaction, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tx, ok := r.active[connKey{cpid, connectorID}]
	return tx, ok
}

// ActiveByTxID returns the in-flight transaction by its id.
func (r *Registry) ActiveByTxID(txID int) (*ActiveTransaction, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tx, ok := r.activeByTxID[txID]
	return tx, ok
}

// StopTransaction closes an active transaction and appends a completed
// session record. Returns apperr.NotFound if txID isn't active.
func (r *Registry) StopTransaction(txID, meterStop int, stoppedAt time.Time) (*CompletedSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, ok := r.activeByTxID[txID]
	if !ok {
		return nil, apperr.NotFound
	}
	delete(r.activeByTxID, txID)
	delete(r.active, connKey{tx.CPID, tx.ConnectorID})

	rec := CompletedSession{
		TransactionID: tx.TransactionID,
		CPID:          tx.CPID,
		ConnectorID:   tx.ConnectorID,
		VID:           tx.VID,
		MAC:           tx.MAC,
		IDTag:         tx.IDTag,
		MeterStart:    tx.MeterStart,
		MeterStop:     meterStop,
		EnergyWh:      meterStop - tx.MeterStart,
		StartedAt:     tx.StartedAt,
		StoppedAt:     stoppedAt,
		Duration:      stoppedAt.Sub(tx.StartedAt),
		MeterSamples:  tx.MeterSamples,
	}
	r.history = append(r.history, rec)
	return &rec, nil
}

// History returns completed sessions oldest-first.
func (r *Registry) History() []CompletedSession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]CompletedSession, len(r.history))
	copy(out, r.history)
	return out
}

// ArmWatchdog registers the cancel function for a connector's no-session
// watchdog. Any watchdog already armed for the connector is cancelled
// first, guaranteeing at most one live watchdog per connector.
func (r *Registry) ArmWatchdog(cpid string, connectorID int, cancel func()) {
	r.mu.Lock()
	key := connKey{cpid, connectorID}
	prior, ok := r.watchdogs[key]
	r.watchdogs[key] = cancel
	r.mu.Unlock()

	if ok && prior != nil {
		prior()
	}
}

// DisarmWatchdog cancels and forgets a connector's watchdog, if armed.
func (r *Registry) DisarmWatchdog(cpid string, connectorID int) {
	r.mu.Lock()
	cancel, ok := r.watchdogs[connKey{cpid, connectorID}]
	if ok {
		delete(r.watchdogs, connKey{cpid, connectorID})
	}
	r.mu.Unlock()
	if ok && cancel != nil {
		cancel()
	}
}
