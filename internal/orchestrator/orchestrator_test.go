package orchestrator

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/ocx/evcentral/internal/config"
	"github.com/ocx/evcentral/internal/metrics"
	"github.com/ocx/evcentral/internal/ocpp"
	"github.com/ocx/evcentral/internal/registry"
	"github.com/ocx/evcentral/internal/vid"
	"github.com/ocx/evcentral/internal/wallet"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Boot.GetConfigurationTimeoutSec = 1
	cfg.Watchdog.TimeoutSec = 90
	cfg.Wallet.ZeroCreditCutoffEnabled = true
	return cfg
}

// promauto registers into the default Prometheus registerer, so the metric
// set is built exactly once per test binary and shared across subtests.
var (
	sharedMetrics *metrics.Metrics
	metricsOnce   sync.Once
)

func testMetrics() *metrics.Metrics {
	metricsOnce.Do(func() { sharedMetrics = metrics.New() })
	return sharedMetrics
}

type testServer struct {
	hub *Hub
	srv *httptest.Server
}

func newTestServer(t *testing.T, cfg *config.Config) *testServer {
	t.Helper()
	if cfg == nil {
		cfg = testConfig()
	}
	hub := New(vid.New(), wallet.New(), registry.New(), cfg, testMetrics(), slog.Default())
	mux := http.NewServeMux()
	mux.HandleFunc("/ocpp/", hub.ServeWS)
	srv := httptest.NewServer(mux)
	return &testServer{hub: hub, srv: srv}
}

func (ts *testServer) dial(t *testing.T, cpid string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/ocpp/" + cpid
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

func sendCallFrame(t *testing.T, conn *websocket.Conn, msgID, action string, payload interface{}) {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	frame, err := ocpp.EncodeCall(ocpp.Call{MessageID: msgID, Action: action, Payload: body})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))
}

func readCallResult(t *testing.T, conn *websocket.Conn) *ocpp.CallResult {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	_, result, _, err := ocpp.Decode(raw)
	require.NoError(t, err)
	require.NotNil(t, result)
	return result
}

// readCall reads the next inbound CALL addressed to the station (used when
// the central system initiates a command, e.g. UnlockConnector).
func readCall(t *testing.T, conn *websocket.Conn) *ocpp.Call {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	call, _, _, err := ocpp.Decode(raw)
	require.NoError(t, err)
	require.NotNil(t, call)
	return call
}

// bootStation sends BootNotification and reads its reply together with the
// post-boot GetConfiguration CALL (the two may arrive in either order). The
// GetConfiguration is answered with a CALLERROR, which ends the post-boot
// sequence, so no further central-initiated frame follows.
func bootStation(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	sendCallFrame(t, conn, "boot-1", ocpp.ActionBootNotification, ocpp.BootNotificationRequest{
		ChargePointVendor: "Acme", ChargePointModel: "X1",
	})
	var res *ocpp.CallResult
	gotGetConfiguration := false
	for res == nil || !gotGetConfiguration {
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, raw, err := conn.ReadMessage()
		require.NoError(t, err)
		call, result, _, err := ocpp.Decode(raw)
		require.NoError(t, err)
		if call == nil {
			require.NotNil(t, result)
			res = result
			continue
		}
		require.Equal(t, ocpp.ActionGetConfiguration, call.Action)
		frame, err := ocpp.EncodeCallError(ocpp.CallError{MessageID: call.MessageID, ErrorCode: ocpp.ErrorNotSupported, ErrorDescription: "not supported"})
		require.NoError(t, err)
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))
		gotGetConfiguration = true
	}
	var resp ocpp.BootNotificationResponse
	require.NoError(t, json.Unmarshal(res.Payload, &resp))
	require.Equal(t, ocpp.RegistrationStatusAccepted, resp.Status)
}

func TestBootNotificationAcceptsAndRegistersStation(t *testing.T) {
	ts := newTestServer(t, nil)
	defer ts.srv.Close()
	conn := ts.dial(t, "cp-boot")
	defer conn.Close()

	bootStation(t, conn)

	st, ok := ts.hub.Registry().Station("cp-boot")
	require.True(t, ok)
	require.True(t, st.Connected)
	require.Equal(t, "Acme", st.Vendor)
}

func TestUnknownActionRepliesNotImplemented(t *testing.T) {
	ts := newTestServer(t, nil)
	defer ts.srv.Close()
	conn := ts.dial(t, "cp-unknown")
	defer conn.Close()

	sendCallFrame(t, conn, "msg-1", "SomeFutureAction", map[string]string{})

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	_, _, callErr, err := ocpp.Decode(raw)
	require.NoError(t, err)
	require.NotNil(t, callErr)
	require.Equal(t, ocpp.ErrorNotImplemented, callErr.ErrorCode)
}

func TestStatusNotificationPreparingCreatesPendingSessionWithFreshVID(t *testing.T) {
	ts := newTestServer(t, nil)
	defer ts.srv.Close()
	conn := ts.dial(t, "cp-prep")
	defer conn.Close()
	bootStation(t, conn)

	sendCallFrame(t, conn, "status-1", ocpp.ActionStatusNotification, ocpp.StatusNotificationRequest{
		ConnectorId: 1, Status: ocpp.StatusPreparing, ErrorCode: "NoError",
	})
	readCallResult(t, conn)

	pending, ok := ts.hub.Registry().Pending("cp-prep", 1)
	require.True(t, ok)
	require.True(t, strings.HasPrefix(pending.VID, "VID:"))
}

func TestStartTransactionAssignsTransactionIDAndRecordsActive(t *testing.T) {
	ts := newTestServer(t, nil)
	defer ts.srv.Close()
	conn := ts.dial(t, "cp-start")
	defer conn.Close()
	bootStation(t, conn)

	sendCallFrame(t, conn, "status-1", ocpp.ActionStatusNotification, ocpp.StatusNotificationRequest{
		ConnectorId: 1, Status: ocpp.StatusPreparing, ErrorCode: "NoError",
	})
	readCallResult(t, conn)

	// Fund the pending VID so the zero-credit cutoff sends no RemoteStopTransaction.
	pending, ok := ts.hub.Registry().Pending("cp-start", 1)
	require.True(t, ok)
	ts.hub.Wallet().TopUp(pending.VID, 100)

	sendCallFrame(t, conn, "start-1", ocpp.ActionStartTransaction, ocpp.StartTransactionRequest{
		ConnectorId: 1, IdTag: "TAG123", MeterStart: 1000, Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	res := readCallResult(t, conn)

	var resp ocpp.StartTransactionResponse
	require.NoError(t, json.Unmarshal(res.Payload, &resp))
	require.Greater(t, resp.TransactionId, 0)
	require.Equal(t, ocpp.AuthorizeStatusAccepted, resp.IdTagInfo.Status)

	tx, ok := ts.hub.Registry().ActiveByConnector("cp-start", 1)
	require.True(t, ok)
	require.Equal(t, "TAG123", tx.IDTag)
	require.True(t, strings.HasPrefix(tx.VID, "VID:"))
}

func TestStopTransactionAppendsHistory(t *testing.T) {
	ts := newTestServer(t, nil)
	defer ts.srv.Close()
	conn := ts.dial(t, "cp-stop")
	defer conn.Close()
	bootStation(t, conn)

	sendCallFrame(t, conn, "status-1", ocpp.ActionStatusNotification, ocpp.StatusNotificationRequest{
		ConnectorId: 1, Status: ocpp.StatusPreparing, ErrorCode: "NoError",
	})
	readCallResult(t, conn)

	// Fund the pending VID so the zero-credit cutoff sends no RemoteStopTransaction.
	pending, ok := ts.hub.Registry().Pending("cp-stop", 1)
	require.True(t, ok)
	ts.hub.Wallet().TopUp(pending.VID, 100)

	sendCallFrame(t, conn, "start-1", ocpp.ActionStartTransaction, ocpp.StartTransactionRequest{
		ConnectorId: 1, IdTag: "TAG123", MeterStart: 1000, Timestamp: "2024-01-01T00:00:00Z",
	})
	startRes := readCallResult(t, conn)
	var startResp ocpp.StartTransactionResponse
	require.NoError(t, json.Unmarshal(startRes.Payload, &startResp))

	sendCallFrame(t, conn, "stop-1", ocpp.ActionStopTransaction, ocpp.StopTransactionRequest{
		TransactionId: startResp.TransactionId, MeterStop: 1500, Timestamp: "2024-01-01T00:10:00Z",
	})
	readCallResult(t, conn)

	history := ts.hub.Registry().History()
	require.Len(t, history, 1)
	require.Equal(t, 500, history[0].EnergyWh)
	require.Equal(t, 600*time.Second, history[0].Duration)
	require.Equal(t, "2024-01-01T00:00:00Z", history[0].StartedAt.UTC().Format(time.RFC3339))
	require.Equal(t, "2024-01-01T00:10:00Z", history[0].StoppedAt.UTC().Format(time.RFC3339))

	_, active := ts.hub.Registry().ActiveByConnector("cp-stop", 1)
	require.False(t, active)
}

func TestAuthorizeReconcilesPendingVIDAcrossStation(t *testing.T) {
	ts := newTestServer(t, nil)
	defer ts.srv.Close()
	conn := ts.dial(t, "cp-auth")
	defer conn.Close()
	bootStation(t, conn)

	sendCallFrame(t, conn, "status-1", ocpp.ActionStatusNotification, ocpp.StatusNotificationRequest{
		ConnectorId: 1, Status: ocpp.StatusPreparing, ErrorCode: "NoError",
	})
	readCallResult(t, conn)

	pendingBefore, _ := ts.hub.Registry().Pending("cp-auth", 1)
	tempVID := pendingBefore.VID

	sendCallFrame(t, conn, "auth-1", ocpp.ActionAuthorize, ocpp.AuthorizeRequest{IdTag: "TAG999"})
	res := readCallResult(t, conn)
	var resp ocpp.AuthorizeResponse
	require.NoError(t, json.Unmarshal(res.Payload, &resp))
	require.Equal(t, ocpp.AuthorizeStatusAccepted, resp.IdTagInfo.Status)

	pendingAfter, ok := ts.hub.Registry().Pending("cp-auth", 1)
	require.True(t, ok)
	require.Equal(t, "TAG999", pendingAfter.IDTag)

	tagVID := ts.hub.VID().Resolve("id_tag", "TAG999")
	require.Equal(t, tagVID, pendingAfter.VID)
	require.NotEqual(t, tempVID, "")
}

func TestDataTransferMacIDPropagatesHintIntoPendingSession(t *testing.T) {
	ts := newTestServer(t, nil)
	defer ts.srv.Close()
	conn := ts.dial(t, "cp-dt")
	defer conn.Close()
	bootStation(t, conn)

	sendCallFrame(t, conn, "status-1", ocpp.ActionStatusNotification, ocpp.StatusNotificationRequest{
		ConnectorId: 1, Status: ocpp.StatusPreparing, ErrorCode: "NoError",
	})
	readCallResult(t, conn)

	sendCallFrame(t, conn, "dt-1", ocpp.ActionDataTransfer, ocpp.DataTransferRequest{
		VendorId: "MacID", Data: "AA:BB:CC:DD:EE:FF",
	})
	res := readCallResult(t, conn)
	var resp ocpp.DataTransferResponse
	require.NoError(t, json.Unmarshal(res.Payload, &resp))
	require.Equal(t, ocpp.DataTransferStatusAccepted, resp.Status)

	pending, ok := ts.hub.Registry().Pending("cp-dt", 1)
	require.True(t, ok)
	require.Equal(t, "AA:BB:CC:DD:EE:FF", pending.MAC)

	hint := ts.hub.Registry().LastSeenHint("cp-dt")
	require.Equal(t, "AA:BB:CC:DD:EE:FF", hint.MAC)
}

func TestDataTransferRejectsMalformedJSONBody(t *testing.T) {
	ts := newTestServer(t, nil)
	defer ts.srv.Close()
	conn := ts.dial(t, "cp-dt-bad")
	defer conn.Close()
	bootStation(t, conn)

	sendCallFrame(t, conn, "dt-1", ocpp.ActionDataTransfer, ocpp.DataTransferRequest{
		VendorId: "com.example.telemetry", Data: "{not json",
	})
	res := readCallResult(t, conn)
	var resp ocpp.DataTransferResponse
	require.NoError(t, json.Unmarshal(res.Payload, &resp))
	require.Equal(t, ocpp.DataTransferStatusRejected, resp.Status)
}

func TestReconnectUnderSameCPIDEvictsPriorSession(t *testing.T) {
	ts := newTestServer(t, nil)
	defer ts.srv.Close()
	conn1 := ts.dial(t, "cp-dup")
	defer conn1.Close()
	bootStation(t, conn1)

	conn2 := ts.dial(t, "cp-dup")
	defer conn2.Close()
	bootStation(t, conn2)

	time.Sleep(100 * time.Millisecond)
	conn1.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn1.ReadMessage()
	require.Error(t, err)

	cur, ok := ts.hub.Lookup("cp-dup")
	require.True(t, ok)
	require.NotNil(t, cur)
}

func TestWatchdogFiresAndUnlocksIdleConnector(t *testing.T) {
	cfg := testConfig()
	cfg.Watchdog.TimeoutSec = 1

	ts := newTestServer(t, cfg)
	defer ts.srv.Close()
	conn := ts.dial(t, "cp-wd")
	defer conn.Close()
	bootStation(t, conn)

	sendCallFrame(t, conn, "status-1", ocpp.ActionStatusNotification, ocpp.StatusNotificationRequest{
		ConnectorId: 1, Status: ocpp.StatusPreparing, ErrorCode: "NoError",
	})
	readCallResult(t, conn)

	call := readCall(t, conn)
	require.Equal(t, ocpp.ActionUnlockConnector, call.Action)
}

func TestRemoteStartThenStartTransactionMatchingIdTagSucceeds(t *testing.T) {
	ts := newTestServer(t, nil)
	defer ts.srv.Close()
	conn := ts.dial(t, "cp-remote")
	defer conn.Close()
	bootStation(t, conn)

	done := make(chan struct{})
	go func() {
		defer close(done)
		status, err := ts.hub.RemoteStart(context.Background(), "cp-remote", 1, "REMOTETAG")
		require.NoError(t, err)
		require.Equal(t, ocpp.AuthorizeStatusAccepted, status)
	}()

	call := readCall(t, conn)
	require.Equal(t, ocpp.ActionRemoteStartTx, call.Action)
	res, err := ocpp.EncodeCallResult(ocpp.CallResult{MessageID: call.MessageID, Payload: mustMarshal(t, ocpp.RemoteStartTransactionResponse{Status: ocpp.AuthorizeStatusAccepted})})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, res))
	<-done

	// Fund the id tag's VID so the zero-credit cutoff sends no RemoteStopTransaction.
	ts.hub.Wallet().TopUp(ts.hub.VID().Resolve("id_tag", "REMOTETAG"), 100)

	sendCallFrame(t, conn, "start-1", ocpp.ActionStartTransaction, ocpp.StartTransactionRequest{
		ConnectorId: 1, IdTag: "REMOTETAG", MeterStart: 500,
	})
	startRes := readCallResult(t, conn)
	var resp ocpp.StartTransactionResponse
	require.NoError(t, json.Unmarshal(startRes.Payload, &resp))
	require.Equal(t, ocpp.AuthorizeStatusAccepted, resp.IdTagInfo.Status)
}

func mustMarshal(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}
