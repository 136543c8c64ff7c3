package db

import (
	"compress/gzip"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/telemetry.report/internal/packet"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func sensor(serial uint16, height int16, crc bool) packet.SensorRecord {
	return packet.SensorRecord{
		Header: packet.Header{Serial: serial, Tick: 1.5, Type: packet.TypeSensor, CRC: crc},
		Height: height,
		Speed:  12.5,
	}
}

func record(t *testing.T, db *DB, s Session, id uint64, r packet.Record) {
	t.Helper()
	require.NoError(t, db.RecordPacket(Packet{
		SessionID:  s.ID,
		FrameID:    id,
		ReceivedAt: time.Unix(1700000000+int64(id), 0),
		Raw:        []byte{0x01, 0x02},
		Record:     r,
	}))
}

func TestNewDB_MigratesSchema(t *testing.T) {
	db := newTestDB(t)

	version, dirty, err := db.MigrateVersion(MigrationsFS())
	require.NoError(t, err)
	assert.False(t, dirty)
	assert.Equal(t, uint(2), version)

	// re-running is a no-op
	require.NoError(t, db.MigrateUp(MigrationsFS()))
}

func TestMigrateDown(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.MigrateDown(MigrationsFS()))

	version, _, err := db.MigrateVersion(MigrationsFS())
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)

	var n int
	err = db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE name = 'packets'`).Scan(&n)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStartSession(t *testing.T) {
	db := newTestDB(t)
	s, err := db.StartSession("replay")
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, s.ID)

	var source string
	require.NoError(t, db.QueryRow(`SELECT source FROM sessions WHERE session_id = ?`, s.ID.String()).Scan(&source))
	assert.Equal(t, "replay", source)
}

func TestRecordPacket_RequiresSession(t *testing.T) {
	db := newTestDB(t)
	err := db.RecordPacket(Packet{Record: sensor(1, 0, true)})
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestRecentPackets(t *testing.T) {
	db := newTestDB(t)
	s, err := db.StartSession("test")
	require.NoError(t, err)

	record(t, db, s, 1, sensor(10, 100, true))
	record(t, db, s, 2, sensor(11, 200, true))
	record(t, db, s, 3, packet.UnknownRecord{Type: 42, CRC: false})

	all, err := db.RecentPackets(Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)

	// newest first
	assert.Equal(t, uint64(3), all[0].FrameID)
	assert.Equal(t, packet.Type(42), all[0].Type)
	assert.Equal(t, "unknown", all[0].Kind)
	assert.Nil(t, all[0].Serial)
	assert.Nil(t, all[0].Tick)
	assert.False(t, all[0].CRC)

	assert.Equal(t, "0102", all[1].RawHex)
	require.NotNil(t, all[1].Serial)
	assert.Equal(t, uint16(11), *all[1].Serial)
	assert.Equal(t, 1.5, *all[1].Tick)
	assert.True(t, all[1].CRC)
	assert.Equal(t, s.ID.String(), all[1].SessionID)
	assert.True(t, all[1].ReceivedAt.Equal(time.Unix(1700000002, 0)))

	var data map[string]any
	require.NoError(t, json.Unmarshal(all[1].Data, &data))
	assert.Equal(t, "sensor", data["kind"])
	assert.Equal(t, float64(200), data["height"])

	typ := packet.TypeSensor
	serial := uint16(10)
	got, err := db.RecentPackets(Filter{Type: &typ, Serial: &serial})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, uint64(1), got[0].FrameID)

	got, err = db.RecentPackets(Filter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestTypeCounts(t *testing.T) {
	db := newTestDB(t)
	s, err := db.StartSession("test")
	require.NoError(t, err)

	record(t, db, s, 1, sensor(10, 100, true))
	record(t, db, s, 2, sensor(10, 200, false))
	record(t, db, s, 3, sensor(11, 300, true))
	record(t, db, s, 4, packet.UnknownRecord{Type: 2})

	counts, err := db.TypeCounts(nil)
	require.NoError(t, err)
	assert.Equal(t, []TypeCount{
		{Type: packet.TypeSensor, Kind: "sensor", Total: 3, CRCOK: 2},
		{Type: 2, Kind: "unknown", Total: 1, CRCOK: 0},
	}, sortByType(counts))

	serial := uint16(10)
	counts, err = db.TypeCounts(&serial)
	require.NoError(t, err)
	assert.Equal(t, []TypeCount{{Type: packet.TypeSensor, Kind: "sensor", Total: 2, CRCOK: 1}}, counts)
}

// sortByType puts sensor (1) ahead of the unknown type 2 regardless of the
// database's grouping order.
func sortByType(c []TypeCount) []TypeCount {
	if len(c) == 2 && c[0].Type > c[1].Type {
		c[0], c[1] = c[1], c[0]
	}
	return c
}

func TestSeriesFor(t *testing.T) {
	db := newTestDB(t)
	s, err := db.StartSession("test")
	require.NoError(t, err)

	record(t, db, s, 1, sensor(10, 100, true))
	record(t, db, s, 2, sensor(10, 200, false)) // excluded: crc failed
	record(t, db, s, 3, sensor(10, 300, true))
	record(t, db, s, 4, sensor(11, 400, true))

	got, err := db.SeriesFor(packet.TypeSensor, "height", nil, 0)
	require.NoError(t, err)
	assert.Equal(t, []float64{100, 300, 400}, got)

	serial := uint16(10)
	got, err = db.SeriesFor(packet.TypeSensor, "height", &serial, 0)
	require.NoError(t, err)
	assert.Equal(t, []float64{100, 300}, got)

	got, err = db.SeriesFor(packet.TypeSensor, "height", nil, 2)
	require.NoError(t, err)
	assert.Equal(t, []float64{300, 400}, got)

	got, err = db.SeriesFor(packet.TypeGPS, "altitude", nil, 0)
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = db.SeriesFor(packet.TypeSensor, "height') --", nil, 0)
	assert.ErrorIs(t, err, ErrInvalidField)
}

func localHostRequest(method, path string) *http.Request {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = "127.0.0.1:12345"
	return req
}

func TestAttachAdminRoutes_Backup(t *testing.T) {
	db := newTestDB(t)
	s, err := db.StartSession("test")
	require.NoError(t, err)
	record(t, db, s, 1, sensor(1, 1, true))

	mux := http.NewServeMux()
	require.NoError(t, db.AttachAdminRoutes(mux))

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, localHostRequest(http.MethodGet, "/debug/backup"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "backup-")

	gz, err := gzip.NewReader(w.Body)
	require.NoError(t, err)
	data, err := io.ReadAll(gz)
	require.NoError(t, err)
	assert.Equal(t, "SQLite format 3\x00", string(data[:16]))
}
