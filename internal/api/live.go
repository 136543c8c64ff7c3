package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/banshee-data/telemetry.report/internal/httputil"
	"github.com/banshee-data/telemetry.report/internal/monitoring"
)

const liveWriteTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// streamLive upgrades to a websocket and writes one JSON text message per
// decoded record until either side goes away.
func (s *Server) streamLive(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Live == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "live stream not configured")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response
		return
	}
	defer conn.Close()

	events := s.cfg.Live.Subscribe()
	defer s.cfg.Live.Unsubscribe(events)

	// the read side only exists to notice the client closing
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
					time.Now().Add(liveWriteTimeout))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(liveWriteTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				monitoring.Logf("live client write failed: %v", err)
				return
			}
		}
	}
}
