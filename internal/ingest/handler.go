// Package ingest turns demodulator output lines into decoded records and
// hands each record to the configured sinks.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/telemetry.report/internal/db"
	"github.com/banshee-data/telemetry.report/internal/gfsk"
	"github.com/banshee-data/telemetry.report/internal/monitoring"
	"github.com/banshee-data/telemetry.report/internal/packet"
	"github.com/banshee-data/telemetry.report/internal/timeutil"
)

// Queue receives records for the polling consumer.
type Queue interface {
	Append(packet.Record)
}

// Store persists records.
type Store interface {
	RecordPacket(db.Packet) error
}

// RecordLog appends records to the session log file.
type RecordLog interface {
	Append(ts time.Time, id uint64, raw []byte, r packet.Record) error
}

// Publisher streams events to live clients.
type Publisher interface {
	Publish(Event) bool
}

// Event is a decoded record as streamed to live clients.
type Event struct {
	ReceivedAt time.Time     `json:"received_at"`
	ID         uint64        `json:"id"`
	Kind       string        `json:"kind"`
	Record     packet.Record `json:"record"`
}

// Config wires a Handler. Every sink is optional.
type Config struct {
	Queue     Queue
	Store     Store
	SessionID uuid.UUID
	Log       RecordLog
	Live      Publisher
	Clock     timeutil.Clock
}

// ReceiverState is the latest control information from the demodulator.
type ReceiverState struct {
	LNAGain   int       `json:"lna_gain"`
	VGAGain   int       `json:"vga_gain"`
	Center    float64   `json:"center_hz"`
	LastError string    `json:"last_error,omitempty"`
	ErrorAt   string    `json:"error_at,omitempty"`
	Closed    bool      `json:"closed"`
	Updated   time.Time `json:"updated"`
}

// Counters is a snapshot of ingest activity.
type Counters struct {
	Lines        uint64 `json:"lines"`
	Frames       uint64 `json:"frames"`
	Decoded      uint64 `json:"decoded"`
	Short        uint64 `json:"short"`
	CRCFailures  uint64 `json:"crc_failures"`
	UnknownTypes uint64 `json:"unknown_types"`
	ParseErrors  uint64 `json:"parse_errors"`
	SinkErrors   uint64 `json:"sink_errors"`
}

type Handler struct {
	cfg Config

	stateMu sync.RWMutex
	state   ReceiverState

	lines       atomic.Uint64
	frames      atomic.Uint64
	decoded     atomic.Uint64
	short       atomic.Uint64
	crcFailures atomic.Uint64
	unknown     atomic.Uint64
	parseErrs   atomic.Uint64
	sinkErrs    atomic.Uint64
}

func NewHandler(cfg Config) *Handler {
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	return &Handler{cfg: cfg}
}

// HandleLine processes one line of demodulator output. A decoded packet is
// sent to the queue, the store, the record log and the live hub in that
// order; a failing sink does not stop the ones after it.
func (h *Handler) HandleLine(line string) error {
	h.lines.Add(1)

	msg, err := gfsk.ParseMessage(line)
	if err != nil {
		if errors.Is(err, gfsk.ErrEmptyLine) {
			return nil
		}
		h.parseErrs.Add(1)
		return fmt.Errorf("failed to parse demodulator line: %w", err)
	}

	frame, ok := msg.Frame()
	if !ok {
		h.handleControl(msg)
		return nil
	}
	return h.handleFrame(frame)
}

func (h *Handler) handleFrame(frame packet.RawFrame) error {
	h.frames.Add(1)

	rec, err := packet.Decode(frame)
	if err != nil {
		if errors.Is(err, packet.ErrShortFrame) {
			h.short.Add(1)
		}
		return fmt.Errorf("frame %d rejected: %w", frame.ID, err)
	}
	h.decoded.Add(1)
	if !rec.CRCMatch() {
		h.crcFailures.Add(1)
	}
	if !rec.PacketType().Known() {
		h.unknown.Add(1)
	}

	now := h.cfg.Clock.Now()
	var errs []error

	if h.cfg.Queue != nil {
		h.cfg.Queue.Append(rec)
	}
	if h.cfg.Store != nil {
		err := h.cfg.Store.RecordPacket(db.Packet{
			SessionID:  h.cfg.SessionID,
			FrameID:    frame.ID,
			ReceivedAt: now,
			Raw:        frame.Data,
			Record:     rec,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("store: %w", err))
		}
	}
	if h.cfg.Log != nil {
		if err := h.cfg.Log.Append(now, frame.ID, frame.Data, rec); err != nil {
			errs = append(errs, fmt.Errorf("record log: %w", err))
		}
	}
	if h.cfg.Live != nil {
		h.cfg.Live.Publish(Event{ReceivedAt: now, ID: frame.ID, Kind: rec.PacketType().Kind(), Record: rec})
	}

	if len(errs) > 0 {
		h.sinkErrs.Add(uint64(len(errs)))
		return errors.Join(errs...)
	}
	return nil
}

func (h *Handler) handleControl(msg gfsk.Message) {
	monitoring.Logf("demodulator: %s", msg)

	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	h.state.Updated = h.cfg.Clock.Now()
	switch msg.Type {
	case gfsk.TypeGain:
		h.state.LNAGain = msg.LNA
		h.state.VGAGain = msg.VGA
	case gfsk.TypeCenter:
		h.state.Center = msg.Center
		h.state.Closed = false
	case gfsk.TypeError:
		h.state.LastError = msg.Error
		h.state.ErrorAt = ""
		if msg.File != "" {
			h.state.ErrorAt = fmt.Sprintf("%s:%d", msg.File, msg.Line)
		}
	case gfsk.TypeClosed:
		h.state.Closed = true
	}
}

// Run handles lines until ctx is done or lines is closed. Errors from
// individual lines are logged and do not stop the loop.
func (h *Handler) Run(ctx context.Context, lines <-chan string) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if err := h.HandleLine(line); err != nil {
				monitoring.Logf("ingest: %v", err)
			}
		}
	}
}

// Receiver returns the latest receiver state.
func (h *Handler) Receiver() ReceiverState {
	h.stateMu.RLock()
	defer h.stateMu.RUnlock()
	return h.state
}

// Counters returns a snapshot of the activity counters.
func (h *Handler) Counters() Counters {
	return Counters{
		Lines:        h.lines.Load(),
		Frames:       h.frames.Load(),
		Decoded:      h.decoded.Load(),
		Short:        h.short.Load(),
		CRCFailures:  h.crcFailures.Load(),
		UnknownTypes: h.unknown.Load(),
		ParseErrors:  h.parseErrs.Load(),
		SinkErrors:   h.sinkErrs.Load(),
	}
}
