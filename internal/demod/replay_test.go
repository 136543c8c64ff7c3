package demod

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/banshee-data/telemetry.report/internal/timeutil"
)

func TestReplayPort_PlaysLinesOnTick(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	port := NewReplayPort([]string{"a", "", "b"}, ReplayOptions{Interval: time.Second, Clock: clock})
	defer port.Close()

	got := make(chan string, 4)
	go func() {
		data, _ := io.ReadAll(port)
		got <- string(data)
	}()

	// two non-blank lines need two ticks; extra advances are harmless
	for i := 0; i < 5; i++ {
		time.Sleep(10 * time.Millisecond)
		clock.Advance(time.Second)
	}

	select {
	case s := <-got:
		if s != "a\nb\n" {
			t.Errorf("replayed %q, want %q", s, "a\nb\n")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("replay did not finish")
	}
}

func TestReplayPort_EmptyCaptureIsEOF(t *testing.T) {
	port := NewReplayPort(nil, ReplayOptions{})
	defer port.Close()

	buf := make([]byte, 8)
	if _, err := port.Read(buf); err != io.EOF {
		t.Errorf("Read() error = %v, want io.EOF", err)
	}
}

func TestReplayPort_CloseStopsLoop(t *testing.T) {
	port := NewReplayPort([]string{"x"}, ReplayOptions{Interval: time.Millisecond, Loop: true})

	buf := make([]byte, 2)
	if _, err := io.ReadFull(port, buf); err != nil {
		t.Fatalf("ReadFull() error = %v", err)
	}
	if string(buf) != "x\n" {
		t.Errorf("read %q, want %q", buf, "x\n")
	}

	done := make(chan struct{})
	go func() {
		port.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return")
	}
}

func TestNewReplayMux(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.jsonl")
	content := `{"type":"gain","lna":16,"vga":20}` + "\n" + `{"type":"closed"}` + "\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	mux, err := NewReplayMux(path, ReplayOptions{Interval: time.Millisecond})
	if err != nil {
		t.Fatalf("NewReplayMux() error = %v", err)
	}
	defer mux.Close()
	_, ch := mux.Subscribe()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := mux.Monitor(ctx); err != nil {
		t.Fatalf("Monitor() error = %v", err)
	}
	if len(ch) != 2 {
		t.Fatalf("received %d lines, want 2", len(ch))
	}
	if got := <-ch; got != `{"type":"gain","lna":16,"vga":20}` {
		t.Errorf("first line = %q", got)
	}
}

func TestNewReplayMux_MissingFile(t *testing.T) {
	if _, err := NewReplayMux(filepath.Join(t.TempDir(), "nope"), ReplayOptions{}); err == nil {
		t.Error("expected error for missing capture")
	}
}
