package demod

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func getStats(t *testing.T, base string) Stats {
	t.Helper()
	resp, err := http.Get(base + "/debug/demod-stats")
	if err != nil {
		t.Fatalf("GET demod-stats: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("demod-stats status = %d", resp.StatusCode)
	}
	var s Stats
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		t.Fatalf("decode demod-stats: %v", err)
	}
	return s
}

// readEvent reads lines up to the blank line ending one SSE event.
func readEvent(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	var lines []string
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("reading event: %v", err)
		}
		line = strings.TrimSuffix(line, "\n")
		if line == "" {
			return strings.Join(lines, "\n")
		}
		lines = append(lines, line)
	}
}

func TestAttachAdminRoutes_TailAndStats(t *testing.T) {
	pr, pw := io.Pipe()
	mux := NewMux(pr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mux.Monitor(ctx)

	httpMux := http.NewServeMux()
	mux.AttachAdminRoutes(httpMux)
	srv := httptest.NewServer(httpMux)
	defer srv.Close()
	defer mux.Close()

	reqCtx, disconnect := context.WithCancel(context.Background())
	defer disconnect()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, srv.URL+"/debug/demod-tail", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET demod-tail: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("demod-tail status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}

	body := bufio.NewReader(resp.Body)
	// the ping is written after the tail has subscribed
	if got := readEvent(t, body); got != ": ping" {
		t.Fatalf("first event = %q, want ping", got)
	}

	line := `{"type":"center","center":436550000}`
	if _, err := io.WriteString(pw, line+"\n"); err != nil {
		t.Fatalf("writing to port: %v", err)
	}
	if got := readEvent(t, body); got != "data: "+line {
		t.Errorf("tail event = %q, want %q", got, "data: "+line)
	}

	if s := getStats(t, srv.URL); s.Lines != 1 || s.Subscribers != 1 {
		t.Errorf("Stats = %+v, want 1 line and 1 subscriber", s)
	}

	disconnect()
	resp.Body.Close()

	deadline := time.Now().Add(5 * time.Second)
	for {
		s := getStats(t, srv.URL)
		if s.Subscribers == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("tail subscriber not removed after disconnect: %+v", s)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestAttachAdminRoutes_TailRejectsPost(t *testing.T) {
	mux := NewMux(newTestPort(""))
	defer mux.Close()

	httpMux := http.NewServeMux()
	mux.AttachAdminRoutes(httpMux)
	srv := httptest.NewServer(httpMux)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/debug/demod-tail", "text/plain", nil)
	if err != nil {
		t.Fatalf("POST demod-tail: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusMethodNotAllowed)
	}
	if s := mux.Stats(); s.Subscribers != 0 {
		t.Errorf("rejected request left %d subscribers", s.Subscribers)
	}
}
