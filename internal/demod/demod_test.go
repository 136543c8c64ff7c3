package demod

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"
)

// testPort implements Porter. It serves data and then blocks until closed,
// the way a live demodulator pipe does.
type testPort struct {
	r        io.Reader
	closed   chan struct{}
	once     sync.Once
	closeErr error
	eof      bool
}

func newTestPort(data string) *testPort {
	return &testPort{r: strings.NewReader(data), closed: make(chan struct{})}
}

// newEOFPort returns a port that reports EOF once data is exhausted.
func newEOFPort(data string) *testPort {
	p := newTestPort(data)
	p.eof = true
	return p
}

func (p *testPort) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 || !errors.Is(err, io.EOF) || p.eof {
		return n, err
	}
	<-p.closed
	return 0, io.ErrClosedPipe
}

func (p *testPort) Close() error {
	p.once.Do(func() { close(p.closed) })
	return p.closeErr
}

func TestNewMux(t *testing.T) {
	port := newTestPort("")
	mux := NewMux(port)

	if mux.port != port {
		t.Error("Mux port not set correctly")
	}
	if mux.subscribers == nil {
		t.Error("Mux subscribers map not initialized")
	}
	if mux.bufSize != DefaultSubscriberBuffer {
		t.Errorf("bufSize = %d, want %d", mux.bufSize, DefaultSubscriberBuffer)
	}

	mux = NewMux(port, WithSubscriberBuffer(3), WithSubscriberBuffer(-1))
	if mux.bufSize != 3 {
		t.Errorf("bufSize = %d, want 3", mux.bufSize)
	}
}

func TestMux_SubscribeUnsubscribe(t *testing.T) {
	mux := NewMux(newTestPort(""))

	id1, ch1 := mux.Subscribe()
	id2, _ := mux.Subscribe()
	if id1 == "" || id1 == id2 {
		t.Fatalf("expected unique non-empty ids, got %q and %q", id1, id2)
	}
	if got := mux.Stats().Subscribers; got != 2 {
		t.Errorf("Subscribers = %d, want 2", got)
	}

	mux.Unsubscribe(id1)
	if _, ok := <-ch1; ok {
		t.Error("expected channel to be closed after Unsubscribe")
	}
	// a second unsubscribe is a no-op
	mux.Unsubscribe(id1)
	if got := mux.Stats().Subscribers; got != 1 {
		t.Errorf("Subscribers = %d, want 1", got)
	}
}

func TestMux_MonitorFansOut(t *testing.T) {
	mux := NewMux(newEOFPort("one\ntwo\nthree\n"))
	_, a := mux.Subscribe()
	_, b := mux.Subscribe()

	if err := mux.Monitor(context.Background()); err != nil {
		t.Fatalf("Monitor() error = %v", err)
	}

	for _, ch := range []chan string{a, b} {
		var got []string
		for len(ch) > 0 {
			got = append(got, <-ch)
		}
		if strings.Join(got, ",") != "one,two,three" {
			t.Errorf("subscriber got %v", got)
		}
	}
	if s := mux.Stats(); s.Lines != 3 || s.Dropped != 0 {
		t.Errorf("Stats = %+v, want 3 lines 0 dropped", s)
	}
}

func TestMux_MonitorDropsForFullSubscriber(t *testing.T) {
	mux := NewMux(newEOFPort("a\nb\nc\nd\n"), WithSubscriberBuffer(1))
	_, slow := mux.Subscribe()

	if err := mux.Monitor(context.Background()); err != nil {
		t.Fatalf("Monitor() error = %v", err)
	}
	if got := <-slow; got != "a" {
		t.Errorf("first line = %q, want a", got)
	}
	if s := mux.Stats(); s.Lines != 4 || s.Dropped != 3 {
		t.Errorf("Stats = %+v, want 4 lines 3 dropped", s)
	}
}

func TestMux_MonitorContextCancel(t *testing.T) {
	port := newTestPort("hello\n")
	mux := NewMux(port)
	_, ch := mux.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- mux.Monitor(ctx) }()

	select {
	case line := <-ch:
		if line != "hello" {
			t.Errorf("line = %q, want hello", line)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for line")
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Monitor() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Monitor did not return after cancel")
	}
	port.Close()
}

func TestMux_CloseDuringMonitor(t *testing.T) {
	port := newTestPort("")
	mux := NewMux(port)
	_, ch := mux.Subscribe()

	done := make(chan error, 1)
	go func() { done <- mux.Monitor(context.Background()) }()

	if err := mux.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, ok := <-ch; ok {
		t.Error("expected subscriber channel closed")
	}
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Monitor() after Close = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Monitor did not return after Close")
	}

	// idempotent, and late subscribers get a closed channel
	if err := mux.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if _, late := mux.Subscribe(); late != nil {
		if _, ok := <-late; ok {
			t.Error("expected closed channel after Close")
		}
	}
}

func TestMux_ClosePropagatesPortError(t *testing.T) {
	port := newTestPort("")
	port.closeErr = errors.New("boom")
	mux := NewMux(port)
	if err := mux.Close(); err == nil || err.Error() != "boom" {
		t.Errorf("Close() error = %v, want boom", err)
	}
}

func TestDisabledMux(t *testing.T) {
	d := NewDisabledMux()
	var _ MuxInterface = d

	id, ch := d.Subscribe()
	if got := d.Stats().Subscribers; got != 1 {
		t.Errorf("Subscribers = %d, want 1", got)
	}
	d.Unsubscribe(id)
	if _, ok := <-ch; ok {
		t.Error("expected closed channel after Unsubscribe")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := d.Monitor(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Monitor() = %v, want context.Canceled", err)
	}

	_, ch = d.Subscribe()
	if err := d.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, ok := <-ch; ok {
		t.Error("expected closed channel after Close")
	}
	if err := d.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestMux_MonitorEOFEndsSubscribers(t *testing.T) {
	mux := NewMux(newEOFPort("last\n"))
	id, ch := mux.Subscribe()

	if err := mux.Monitor(context.Background()); err != nil {
		t.Fatalf("Monitor() error = %v", err)
	}

	// buffered lines are still delivered before the close
	if line, ok := <-ch; !ok || line != "last" {
		t.Errorf("got (%q, %v), want (\"last\", true)", line, ok)
	}
	if _, ok := <-ch; ok {
		t.Error("expected subscriber channel closed after EOF")
	}
	if got := mux.Stats().Subscribers; got != 0 {
		t.Errorf("Subscribers = %d after EOF, want 0", got)
	}

	// a late subscriber is not left waiting for lines that will never come
	_, late := mux.Subscribe()
	if _, ok := <-late; ok {
		t.Error("expected closed channel for a subscriber after EOF")
	}

	mux.Unsubscribe(id)
	if err := mux.Close(); err != nil {
		t.Errorf("Close() after EOF error = %v", err)
	}
}
