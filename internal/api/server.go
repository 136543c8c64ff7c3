// Package api serves decoded telemetry over HTTP: a draining poll endpoint
// for the browser client, history and statistics from the store, receiver
// status and a websocket live stream.
package api

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/telemetry.report/internal/db"
	"github.com/banshee-data/telemetry.report/internal/demod"
	"github.com/banshee-data/telemetry.report/internal/httputil"
	"github.com/banshee-data/telemetry.report/internal/ingest"
	"github.com/banshee-data/telemetry.report/internal/monitoring"
	"github.com/banshee-data/telemetry.report/internal/packet"
	"github.com/banshee-data/telemetry.report/internal/units"
	"github.com/banshee-data/telemetry.report/internal/version"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// Drainer hands out buffered records exactly once.
type Drainer interface {
	Drain() []packet.Record
}

// Store is the read side of the packet database.
type Store interface {
	RecentPackets(db.Filter) ([]db.StoredPacket, error)
	TypeCounts(serial *uint16) ([]db.TypeCount, error)
	SeriesFor(t packet.Type, field string, serial *uint16, limit int) ([]float64, error)
}

// Status reports receiver state and ingest counters.
type Status interface {
	Receiver() ingest.ReceiverState
	Counters() ingest.Counters
}

// Live is a source of streamed events.
type Live interface {
	Subscribe() chan ingest.Event
	Unsubscribe(chan ingest.Event)
}

// Config wires a Server. Only Queue is required; routes whose dependency is
// missing answer 503.
type Config struct {
	Queue       Drainer
	Store       Store
	Status      Status
	Live        Live
	Demod       demod.MuxInterface
	SpeedUnits  string
	HeightUnits string
}

type Server struct {
	cfg Config
}

func NewServer(cfg Config) *Server {
	if cfg.SpeedUnits == "" {
		cfg.SpeedUnits = units.MPS
	}
	if cfg.HeightUnits == "" {
		cfg.HeightUnits = units.Metres
	}
	return &Server{cfg: cfg}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Hijack lets websocket upgrades pass through the middleware.
func (lrw *loggingResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := lrw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	lrw.statusCode = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/getdata", s.getData)
	mux.HandleFunc("/api/packets", s.listPackets)
	mux.HandleFunc("/api/stats", s.showStats)
	mux.HandleFunc("/api/receiver", s.showReceiver)
	mux.HandleFunc("/api/live", s.streamLive)
	mux.HandleFunc("/api/version", s.showVersion)
	return mux
}

// getData drains the queue. Each record is returned to exactly one caller.
func (s *Server) getData(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, s.cfg.Queue.Drain())
}

func (s *Server) listPackets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.cfg.Store == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "packet store not configured")
		return
	}

	q := r.URL.Query()
	var f db.Filter
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			httputil.BadRequest(w, "invalid 'limit' parameter")
			return
		}
		f.Limit = n
	}
	if v := q.Get("type"); v != "" {
		n, err := strconv.ParseUint(v, 10, 8)
		if err != nil {
			httputil.BadRequest(w, "invalid 'type' parameter")
			return
		}
		t := packet.Type(n)
		f.Type = &t
	}
	serial, ok := parseSerial(w, r)
	if !ok {
		return
	}
	f.Serial = serial

	packets, err := s.cfg.Store.RecentPackets(f)
	if err != nil {
		monitoring.Logf("failed to list packets: %v", err)
		httputil.InternalServerError(w, "failed to list packets")
		return
	}
	httputil.WriteJSONOK(w, packets)
}

// parseSerial reads the optional serial query parameter, writing a 400 and
// returning false when it is malformed.
func parseSerial(w http.ResponseWriter, r *http.Request) (*uint16, bool) {
	v := r.URL.Query().Get("serial")
	if v == "" {
		return nil, true
	}
	n, err := strconv.ParseUint(v, 10, 16)
	if err != nil {
		httputil.BadRequest(w, "invalid 'serial' parameter")
		return nil, false
	}
	s := uint16(n)
	return &s, true
}

type receiverResponse struct {
	Receiver ingest.ReceiverState `json:"receiver"`
	Ingest   ingest.Counters      `json:"ingest"`
	Demod    *demod.Stats         `json:"demod,omitempty"`
}

func (s *Server) showReceiver(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.cfg.Status == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "receiver status not configured")
		return
	}
	resp := receiverResponse{
		Receiver: s.cfg.Status.Receiver(),
		Ingest:   s.cfg.Status.Counters(),
	}
	if s.cfg.Demod != nil {
		st := s.cfg.Demod.Stats()
		resp.Demod = &st
	}
	httputil.WriteJSONOK(w, resp)
}

func (s *Server) showVersion(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, version.Get())
}
