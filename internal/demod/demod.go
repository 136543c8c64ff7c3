// Package demod provides an abstraction over the line-oriented output of an
// external radio demodulator, with the ability for multiple clients to
// subscribe to the lines it produces.
//
// The demodulator may be a child process, a serial-attached receiver or a
// replayed capture; all of them are read through the same Mux.
package demod

import (
	"bufio"
	"context"
	crand "crypto/rand"
	"encoding/hex"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
)

// DefaultSubscriberBuffer is the channel capacity given to each subscriber.
const DefaultSubscriberBuffer = 256

// maxLineLength bounds a single demodulator output line.
const maxLineLength = 1 << 20

// Porter is the minimal interface needed for a demodulator output stream.
type Porter interface {
	io.Reader
	io.Closer
}

// Stats holds counters for a Mux.
type Stats struct {
	Lines       uint64 `json:"lines"`
	Dropped     uint64 `json:"dropped"`
	Subscribers int    `json:"subscribers"`
}

// MuxInterface defines the interface for the Mux type.
type MuxInterface interface {
	// Subscribe creates a new channel for receiving lines from the
	// demodulator. The channel ID is used to identify the unique channel
	// when unsubscribing.
	Subscribe() (string, chan string)
	// Unsubscribe removes a channel from the list of subscribers.
	Unsubscribe(string)
	// Monitor reads lines from the demodulator and sends them to the
	// subscribed channels.
	Monitor(context.Context) error
	// Close closes all subscribed channels and closes the port.
	Close() error
	// Stats returns line and drop counters.
	Stats() Stats

	// AttachAdminRoutes attaches admin debugging endpoints to the given HTTP
	// mux served at /debug/. These routes are accessible only over
	// localhost/via Tailscale and are not publicly accessible.
	AttachAdminRoutes(*http.ServeMux)
}

// Mux is a generic demodulator multiplexer that allows multiple clients to
// subscribe to lines from a single port.
type Mux[T Porter] struct {
	port         T
	subscribers  map[string]chan string
	subscriberMu sync.Mutex
	ended        bool // port reached EOF; guarded by subscriberMu
	closing      bool
	closingMu    sync.Mutex
	bufSize      int

	lines   atomic.Uint64
	dropped atomic.Uint64
}

// Option configures a Mux.
type Option func(*muxOptions)

type muxOptions struct {
	bufSize int
}

// WithSubscriberBuffer sets the channel capacity of new subscribers.
func WithSubscriberBuffer(size int) Option {
	return func(o *muxOptions) {
		if size > 0 {
			o.bufSize = size
		}
	}
}

// NewMux creates a Mux reading from port.
func NewMux[T Porter](port T, opts ...Option) *Mux[T] {
	o := muxOptions{bufSize: DefaultSubscriberBuffer}
	for _, opt := range opts {
		opt(&o)
	}
	return &Mux[T]{
		port:        port,
		subscribers: make(map[string]chan string),
		bufSize:     o.bufSize,
	}
}

// randomID generates a random channel ID (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

func (s *Mux[T]) Subscribe() (string, chan string) {
	id := randomID()
	ch := make(chan string, s.bufSize)

	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	if s.ended || s.isClosing() {
		// no more lines will arrive: hand back a closed channel so callers don't block
		close(ch)
		return id, ch
	}
	s.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber from the mux.
func (s *Mux[T]) Unsubscribe(id string) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	if ch, ok := s.subscribers[id]; ok {
		close(ch)
		delete(s.subscribers, id)
	}
}

// Stats returns the current counters.
func (s *Mux[T]) Stats() Stats {
	s.subscriberMu.Lock()
	n := len(s.subscribers)
	s.subscriberMu.Unlock()
	return Stats{
		Lines:       s.lines.Load(),
		Dropped:     s.dropped.Load(),
		Subscribers: n,
	}
}

// Monitor reads the port line by line and fans each line out to subscribers.
// It returns nil when the port reaches EOF, after closing every subscriber
// channel; ctx.Err() when ctx is done; or the read error.
func (s *Mux[T]) Monitor(ctx context.Context) error {
	scan := bufio.NewScanner(s.port)
	scan.Buffer(make([]byte, 0, 4096), maxLineLength)

	lineChan := make(chan string)
	scanErrChan := make(chan error, 1)

	// the blocking scan.Scan runs in its own goroutine so it does not
	// interfere with the outer loop awaiting lines & context cancellation.
	go func() {
		defer close(lineChan)
		for scan.Scan() {
			select {
			case lineChan <- scan.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scan.Err(); err != nil {
			select {
			case scanErrChan <- err:
			case <-ctx.Done():
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-scanErrChan:
			if s.isClosing() {
				return nil
			}
			return err

		case line, ok := <-lineChan:
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				select {
				case err := <-scanErrChan:
					if !s.isClosing() {
						return err
					}
				default:
				}
				s.endSubscribers()
				return nil
			}
			if s.isClosing() {
				return nil
			}
			s.lines.Add(1)

			s.subscriberMu.Lock()
			for _, ch := range s.subscribers {
				select {
				case ch <- line:
				default:
					// a full subscriber is skipped so as not to block the read loop
					s.dropped.Add(1)
				}
			}
			s.subscriberMu.Unlock()
		}
	}
}

// endSubscribers closes every subscriber once the port is exhausted, so
// consumers see the end of the stream instead of waiting for shutdown.
func (s *Mux[T]) endSubscribers() {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	s.ended = true
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
}

func (s *Mux[T]) isClosing() bool {
	s.closingMu.Lock()
	defer s.closingMu.Unlock()
	return s.closing
}

func (s *Mux[T]) Close() error {
	s.closingMu.Lock()
	if s.closing {
		s.closingMu.Unlock()
		return nil
	}
	s.closing = true
	s.closingMu.Unlock()

	s.subscriberMu.Lock()
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
	s.subscriberMu.Unlock()
	return s.port.Close()
}
