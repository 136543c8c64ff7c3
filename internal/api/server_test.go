package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/telemetry.report/internal/db"
	"github.com/banshee-data/telemetry.report/internal/demod"
	"github.com/banshee-data/telemetry.report/internal/ingest"
	"github.com/banshee-data/telemetry.report/internal/monitoring"
	"github.com/banshee-data/telemetry.report/internal/queue"
	"github.com/banshee-data/telemetry.report/internal/testutil"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	m.Run()
}

type fixture struct {
	queue   *queue.Buffer
	store   *db.DB
	handler *ingest.Handler
	server  *Server
}

// newFixture wires a real queue, store and ingest handler behind a Server.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := db.NewDB(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	session, err := store.StartSession("test")
	require.NoError(t, err)

	q := queue.NewBuffer(0)
	h := ingest.NewHandler(ingest.Config{Queue: q, Store: store, SessionID: session.ID})
	return &fixture{
		queue:   q,
		store:   store,
		handler: h,
		server:  NewServer(Config{Queue: q, Store: store, Status: h, Demod: demod.NewDisabledMux()}),
	}
}

func (f *fixture) ingest(t *testing.T, frame []byte, crc bool, id uint64) {
	t.Helper()
	require.NoError(t, f.handler.HandleLine(testutil.PacketLine(t, frame, crc, id)))
}

// loadFlight ingests a small flight: two sensor frames, one Kalman frame
// and one frame of an unrecognised type.
func (f *fixture) loadFlight(t *testing.T) {
	t.Helper()
	f.ingest(t, testutil.NewFrame(7, 100, 1).I16(20, 160).I16(22, 100).Build(), true, 1)
	f.ingest(t, testutil.NewFrame(7, 200, 9).I16(6, 4095).I16(28, 320).I16(30, 300).Build(), true, 2)
	f.ingest(t, testutil.NewFrame(8, 300, 1).I16(22, 5000).Build(), false, 3)
	f.ingest(t, testutil.NewFrame(9, 400, 77).Build(), true, 4)
}

func (f *fixture) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := testutil.NewTestRecorder()
	LoggingMiddleware(f.server.ServeMux()).ServeHTTP(w, testutil.NewTestRequest(http.MethodGet, path))
	return w
}

func TestGetData_DrainsQueue(t *testing.T) {
	f := newFixture(t)

	w := f.get(t, "/getdata")
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	assert.JSONEq(t, `[]`, w.Body.String())

	f.loadFlight(t)
	w = f.get(t, "/getdata")
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)

	var got []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got, 4)
	assert.Equal(t, "sensor", got[0]["kind"])
	assert.Equal(t, "kalman", got[1]["kind"])
	assert.Equal(t, "unknown", got[3]["kind"])
	assert.Equal(t, float64(77), got[3]["type"])
	assert.Equal(t, 1.0, got[0]["tick"])

	// drained records are not handed out twice
	w = f.get(t, "/getdata")
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestGetData_MethodNotAllowed(t *testing.T) {
	f := newFixture(t)
	w := testutil.NewTestRecorder()
	f.server.ServeMux().ServeHTTP(w, testutil.NewTestRequest(http.MethodPost, "/getdata"))
	testutil.AssertStatusCode(t, w.Code, http.StatusMethodNotAllowed)
	assert.Equal(t, 0, f.queue.Len())
}

func TestListPackets(t *testing.T) {
	f := newFixture(t)
	f.loadFlight(t)

	w := f.get(t, "/api/packets")
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	var all []db.StoredPacket
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &all))
	require.Len(t, all, 4)
	assert.Equal(t, uint64(4), all[0].FrameID)

	w = f.get(t, "/api/packets?type=1&serial=8")
	var filtered []db.StoredPacket
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &filtered))
	require.Len(t, filtered, 1)
	assert.Equal(t, uint64(3), filtered[0].FrameID)
	assert.False(t, filtered[0].CRC)

	w = f.get(t, "/api/packets?limit=2")
	var limited []db.StoredPacket
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &limited))
	assert.Len(t, limited, 2)
}

func TestListPackets_BadParams(t *testing.T) {
	f := newFixture(t)
	for _, q := range []string{"limit=-1", "limit=x", "type=300", "serial=70000", "serial=abc"} {
		t.Run(q, func(t *testing.T) {
			w := f.get(t, "/api/packets?"+q)
			testutil.AssertStatusCode(t, w.Code, http.StatusBadRequest)
			assert.Contains(t, w.Body.String(), "invalid")
		})
	}
}

func TestShowStats(t *testing.T) {
	f := newFixture(t)
	f.loadFlight(t)

	w := f.get(t, "/api/stats?units=mph&height_units=ft")
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)

	var got StatsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, int64(4), got.Total)
	assert.InDelta(t, 0.75, got.CRCPassRate, 1e-9)
	assert.Len(t, got.Types, 3)
	assert.Equal(t, 1, got.Battery.Count)
	assert.InDelta(t, 5.148, got.Battery.Max, 1e-3)
	// crc-failed frames never count toward the maxima
	assert.InDelta(t, 300*3.28084, got.MaxHeight, 1e-6)
	assert.InDelta(t, 20*2.23694, got.MaxSpeed, 1e-6)
	assert.Equal(t, "mph", got.SpeedUnits)
	assert.Equal(t, "ft", got.HeightUnits)
	assert.Nil(t, got.Serial)
}

func TestShowStats_PerSerial(t *testing.T) {
	f := newFixture(t)
	f.loadFlight(t)

	w := f.get(t, "/api/stats?serial=8")
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)

	var got StatsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.NotNil(t, got.Serial)
	assert.Equal(t, uint16(8), *got.Serial)
	assert.Equal(t, int64(1), got.Total)
	assert.Zero(t, got.CRCPassRate)
	assert.Zero(t, got.MaxHeight)
	assert.Equal(t, 0, got.Battery.Count)
	assert.Equal(t, "mps", got.SpeedUnits)
}

func TestShowStats_BadUnits(t *testing.T) {
	f := newFixture(t)
	w := f.get(t, "/api/stats?units=knots")
	testutil.AssertStatusCode(t, w.Code, http.StatusBadRequest)
	w = f.get(t, "/api/stats?height_units=yards")
	testutil.AssertStatusCode(t, w.Code, http.StatusBadRequest)
}

func TestSummarise(t *testing.T) {
	assert.Equal(t, Summary{}, Summarise(nil))
	assert.Equal(t, Summary{Count: 1, Min: 4, Max: 4, Mean: 4, Last: 4}, Summarise([]float64{4}))

	s := Summarise([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	assert.Equal(t, 8, s.Count)
	assert.Equal(t, 2.0, s.Min)
	assert.Equal(t, 9.0, s.Max)
	assert.Equal(t, 5.0, s.Mean)
	assert.Equal(t, 9.0, s.Last)
	// gonum reports the unbiased (n-1) standard deviation
	assert.InDelta(t, 2.138, s.StdDev, 1e-3)
}

func TestShowReceiver(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.handler.HandleLine(`{"type":"gain","lna":32,"vga":20}`))
	f.loadFlight(t)

	w := f.get(t, "/api/receiver")
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)

	var got struct {
		Receiver ingest.ReceiverState `json:"receiver"`
		Ingest   ingest.Counters      `json:"ingest"`
		Demod    *demod.Stats         `json:"demod"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, 32, got.Receiver.LNAGain)
	assert.Equal(t, uint64(5), got.Ingest.Lines)
	assert.Equal(t, uint64(4), got.Ingest.Decoded)
	assert.Equal(t, uint64(1), got.Ingest.CRCFailures)
	assert.Equal(t, uint64(1), got.Ingest.UnknownTypes)
	require.NotNil(t, got.Demod)
}

func TestUnconfiguredRoutes(t *testing.T) {
	s := NewServer(Config{Queue: queue.NewBuffer(1)})
	for _, path := range []string{"/api/packets", "/api/stats", "/api/receiver", "/api/live"} {
		w := testutil.NewTestRecorder()
		s.ServeMux().ServeHTTP(w, testutil.NewTestRequest(http.MethodGet, path))
		testutil.AssertStatusCode(t, w.Code, http.StatusServiceUnavailable)
	}
}

func TestShowVersion(t *testing.T) {
	f := newFixture(t)
	w := f.get(t, "/api/version")
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	assert.True(t, strings.Contains(w.Body.String(), `"version":"dev"`))
}

func TestStatusCodeColor(t *testing.T) {
	assert.Contains(t, statusCodeColor(200), "200")
	assert.Contains(t, statusCodeColor(301), colorYellow)
	assert.Contains(t, statusCodeColor(404), colorBoldRed)
	assert.Equal(t, "101", statusCodeColor(101))
}
