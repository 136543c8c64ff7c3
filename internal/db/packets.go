package db

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/telemetry.report/internal/packet"
)

// DefaultLimit caps RecentPackets when no limit is given.
const DefaultLimit = 100

// MaxLimit is the largest page RecentPackets will return.
const MaxLimit = 5000

var (
	ErrNoSession    = errors.New("no session started")
	ErrInvalidField = errors.New("invalid field name")
)

// Session groups packets received during one run of the service.
type Session struct {
	ID        uuid.UUID `json:"session_id"`
	StartedAt time.Time `json:"started_at"`
	Source    string    `json:"source"`
}

// StartSession creates a session row for source.
func (db *DB) StartSession(source string) (Session, error) {
	s := Session{ID: uuid.New(), StartedAt: time.Now().UTC(), Source: source}
	_, err := db.Exec(
		`INSERT INTO sessions (session_id, started_at, source) VALUES (?, ?, ?)`,
		s.ID.String(), s.StartedAt, s.Source,
	)
	if err != nil {
		return Session{}, fmt.Errorf("failed to start session: %w", err)
	}
	return s, nil
}

// Packet is a decoded frame ready to be stored.
type Packet struct {
	SessionID  uuid.UUID
	FrameID    uint64
	ReceivedAt time.Time
	Raw        []byte
	Record     packet.Record
}

// RecordPacket stores p. Header columns are left NULL for unknown records.
func (db *DB) RecordPacket(p Packet) error {
	if p.SessionID == uuid.Nil {
		return ErrNoSession
	}
	data, err := json.Marshal(p.Record)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}

	var serial, tick any
	if h, ok := packet.HeaderOf(p.Record); ok {
		serial, tick = int(h.Serial), h.Tick
	}

	t := p.Record.PacketType()
	_, err = db.Exec(
		`INSERT INTO packets (
			session_id, frame_id, received_at, serial, tick, type, kind, crc, raw_hex, data
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.SessionID.String(), int64(p.FrameID), p.ReceivedAt.UTC(), serial, tick,
		int(t), t.Kind(), p.Record.CRCMatch(), hex.EncodeToString(p.Raw), string(data),
	)
	if err != nil {
		return fmt.Errorf("failed to record packet: %w", err)
	}
	return nil
}

// StoredPacket is a persisted packet as returned by queries.
type StoredPacket struct {
	ID         int64           `json:"id"`
	SessionID  string          `json:"session_id"`
	FrameID    uint64          `json:"frame_id"`
	ReceivedAt time.Time       `json:"received_at"`
	Serial     *uint16         `json:"serial,omitempty"`
	Tick       *float64        `json:"tick,omitempty"`
	Type       packet.Type     `json:"type"`
	Kind       string          `json:"kind"`
	CRC        bool            `json:"crc"`
	RawHex     string          `json:"raw_hex"`
	Data       json.RawMessage `json:"data"`
}

// Filter narrows RecentPackets. Nil fields match everything.
type Filter struct {
	Limit  int
	Type   *packet.Type
	Serial *uint16
}

// RecentPackets returns the newest packets first.
func (db *DB) RecentPackets(f Filter) ([]StoredPacket, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	var where []string
	var args []any
	if f.Type != nil {
		where = append(where, "type = ?")
		args = append(args, int(*f.Type))
	}
	if f.Serial != nil {
		where = append(where, "serial = ?")
		args = append(args, int(*f.Serial))
	}

	query := `SELECT id, session_id, frame_id, received_at, serial, tick, type, kind, crc, raw_hex, data
		FROM packets`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []StoredPacket{}
	for rows.Next() {
		var (
			p       StoredPacket
			frameID int64
			serial  *int64
			typ     int
			data    string
		)
		if err := rows.Scan(&p.ID, &p.SessionID, &frameID, &p.ReceivedAt, &serial, &p.Tick,
			&typ, &p.Kind, &p.CRC, &p.RawHex, &data); err != nil {
			return nil, err
		}
		p.FrameID = uint64(frameID)
		p.Type = packet.Type(typ)
		if serial != nil {
			s := uint16(*serial)
			p.Serial = &s
		}
		p.Data = json.RawMessage(data)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// TypeCount summarises stored packets of one type.
type TypeCount struct {
	Type  packet.Type `json:"type"`
	Kind  string      `json:"kind"`
	Total int64       `json:"total"`
	CRCOK int64       `json:"crc_ok"`
}

// TypeCounts returns per-type totals, optionally for one serial.
func (db *DB) TypeCounts(serial *uint16) ([]TypeCount, error) {
	query := `SELECT type, kind, COUNT(*), COALESCE(SUM(crc), 0) FROM packets`
	var args []any
	if serial != nil {
		query += " WHERE serial = ?"
		args = append(args, int(*serial))
	}
	query += " GROUP BY type, kind ORDER BY type"

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []TypeCount{}
	for rows.Next() {
		var c TypeCount
		var typ int
		if err := rows.Scan(&typ, &c.Kind, &c.Total, &c.CRCOK); err != nil {
			return nil, err
		}
		c.Type = packet.Type(typ)
		out = append(out, c)
	}
	return out, rows.Err()
}

var fieldName = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// SeriesFor returns the numeric values of field for CRC-valid packets of
// type t in arrival order. A zero limit returns every value.
func (db *DB) SeriesFor(t packet.Type, field string, serial *uint16, limit int) ([]float64, error) {
	if !fieldName.MatchString(field) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidField, field)
	}

	expr := `CAST(json_extract(data, '$.` + field + `') AS REAL)`
	inner := `SELECT id, ` + expr + ` AS v FROM packets
		WHERE type = ? AND crc = 1 AND json_extract(data, '$.` + field + `') IS NOT NULL`
	args := []any{int(t)}
	if serial != nil {
		inner += " AND serial = ?"
		args = append(args, int(*serial))
	}
	query := inner + " ORDER BY id"
	if limit > 0 {
		// newest limit values, still returned oldest first
		query = `SELECT id, v FROM (` + inner + ` ORDER BY id DESC LIMIT ?) ORDER BY id`
		args = append(args, limit)
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []float64{}
	for rows.Next() {
		var id int64
		var v float64
		if err := rows.Scan(&id, &v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
