package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/evcentral/internal/apperr"
)

func TestConnectCreatesStationOnce(t *testing.T) {
	r := New()
	a := r.Connect("CP001", "Acme", "X1", "1.0")
	b := r.Connect("CP001", "Acme", "X1", "1.1")

	assert.Equal(t, a.ID, b.ID)
	assert.Equal(t, "1.1", b.FirmwareVersion)
	assert.True(t, b.Connected)
}

func TestDisconnectLeavesHistoryIntact(t *testing.T) {
	r := New()
	r.Connect("CP001", "Acme", "X1", "1.0")
	r.StartTransaction("CP001", 1, "VID:0000000001", "", "TAG1", 0, time.Now())
	_, err := r.StopTransaction(1, 500, time.Now())
	require.NoError(t, err)

	r.Disconnect("CP001")
	st, ok := r.Station("CP001")
	require.True(t, ok)
	assert.False(t, st.Connected)
	assert.Len(t, r.History(), 1)
}

func TestPendingExclusiveTake(t *testing.T) {
	r := New()
	r.SetPending("CP001", 1, "TAG1", "", "")

	p1, ok1 := r.TakePending("CP001", 1)
	require.True(t, ok1)
	assert.Equal(t, "TAG1", p1.IDTag)

	_, ok2 := r.TakePending("CP001", 1)
	assert.False(t, ok2, "pending session must be consumable only once")
}

func TestSetPendingMergesHints(t *testing.T) {
	r := New()
	r.SetPending("CP001", 1, "TAG1", "", "")
	r.SetPending("CP001", 1, "", "VID:000000000A", "AA:BB:CC:DD:EE:FF")

	p, ok := r.Pending("CP001", 1)
	require.True(t, ok)
	assert.Equal(t, "TAG1", p.IDTag)
	assert.Equal(t, "VID:000000000A", p.VID)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", p.MAC)
}

func TestTransactionIDsAreMonotonic(t *testing.T) {
	r := New()
	tx1 := r.StartTransaction("CP001", 1, "VID:1", "", "TAG1", 0, time.Now())
	tx2 := r.StartTransaction("CP001", 2, "VID:2", "", "TAG2", 0, time.Now())
	assert.Equal(t, 1, tx1.TransactionID)
	assert.Equal(t, 2, tx2.TransactionID)
}

func TestStopTransactionComputesEnergyAndDuration(t *testing.T) {
	r := New()
	started := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tx := r.StartTransaction("CP001", 1, "VID:1", "", "TAG1", 100, started)
	stopped := started.Add(10 * time.Minute)

	rec, err := r.StopTransaction(tx.TransactionID, 600, stopped)
	require.NoError(t, err)
	assert.Equal(t, 500, rec.EnergyWh)
	assert.Equal(t, 10*time.Minute, rec.Duration)

	_, ok := r.ActiveByConnector("CP001", 1)
	assert.False(t, ok)
}

func TestStopUnknownTransactionIsNotFound(t *testing.T) {
	r := New()
	_, err := r.StopTransaction(999, 0, time.Now())
	require.ErrorIs(t, err, apperr.NotFound)
}

func TestPendingRemoteFlagConsumedOnce(t *testing.T) {
	r := New()
	r.SetPendingRemote("CP001", 1, "REMOTETAG")

	tag, ok := r.TakePendingRemote("CP001", 1)
	require.True(t, ok)
	assert.Equal(t, "REMOTETAG", tag)

	_, ok = r.TakePendingRemote("CP001", 1)
	assert.False(t, ok)
}

func TestWatchdogDisarmInvokesCancel(t *testing.T) {
	r := New()
	cancelled := false
	r.ArmWatchdog("CP001", 1, func() { cancelled = true })
	r.DisarmWatchdog("CP001", 1)
	assert.True(t, cancelled)
}

func TestLastSeenHintMergesFields(t *testing.T) {
	r := New()
	r.SetLastSeenHint("CP001", "VID:1", "")
	r.SetLastSeenHint("CP001", "", "AA:BB:CC:DD:EE:FF")

	h := r.LastSeenHint("CP001")
	assert.Equal(t, "VID:1", h.VID)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", h.MAC)
}

func TestPendingForStationReturnsAllConnectors(t *testing.T) {
	r := New()
	r.SetPending("CP001", 1, "TAG1", "", "")
	r.SetPending("CP001", 2, "TAG2", "", "")
	r.SetPending("CP002", 1, "TAG3", "", "")

	got := r.PendingForStation("CP001")
	assert.Len(t, got, 2)
}

func TestAppendMeterSampleUpdatesLastSample(t *testing.T) {
	r := New()
	r.StartTransaction("CP001", 1, "VID:1", "", "TAG1", 0, time.Now())
	current := 10.5
	r.AppendMeterSample("CP001", 1, MeterSample{Current: &current})

	tx, ok := r.ActiveByConnector("CP001", 1)
	require.True(t, ok)
	require.NotNil(t, tx.LastSample)
	assert.Equal(t, 10.5, *tx.LastSample.Current)
	assert.Len(t, tx.MeterSamples, 1)
}

func TestSetEnergyImportRegisterDoesNotTouchMeterSamples(t *testing.T) {
	r := New()
	r.StartTransaction("CP001", 1, "VID:1", "", "TAG1", 0, time.Now())
	r.SetEnergyImportRegister("CP001", 1, 42.5)

	tx, ok := r.ActiveByConnector("CP001", 1)
	require.True(t, ok)
	require.NotNil(t, tx.LastEnergyImportRegister)
	assert.Equal(t, 42.5, *tx.LastEnergyImportRegister)
	assert.Empty(t, tx.MeterSamples)
}

func TestCreateStationIsIdempotentByName(t *testing.T) {
	r := New()
	a := r.CreateStation("CP_LOBBY", "Lobby")
	b := r.CreateStation("CP_LOBBY", "ignored on repeat")

	assert.Equal(t, a.ID, b.ID)
	assert.Equal(t, "Lobby", b.Location)
}

func TestStationByIDAndDelete(t *testing.T) {
	r := New()
	st := r.CreateStation("CP_LOBBY", "Lobby")

	found, ok := r.StationByID(st.ID)
	require.True(t, ok)
	assert.Equal(t, "CP_LOBBY", found.CPID)

	assert.True(t, r.DeleteStation(st.ID))
	_, ok = r.StationByID(st.ID)
	assert.False(t, ok)
	assert.False(t, r.DeleteStation(st.ID))
}

func TestAllPendingActiveConnectorsSpanStations(t *testing.T) {
	r := New()
	r.SetPending("CP001", 1, "TAG1", "", "")
	r.SetPending("CP002", 1, "TAG2", "", "")
	r.SetConnectorStatus("CP001", 1, "Preparing", "")
	r.SetConnectorStatus("CP002", 1, "Available", "")
	r.StartTransaction("CP001", 1, "VID:1", "", "TAG1", 0, time.Now())

	assert.Len(t, r.AllPending(), 2)
	assert.Len(t, r.AllActive(), 1)
	assert.Len(t, r.AllConnectors(), 2)
}
