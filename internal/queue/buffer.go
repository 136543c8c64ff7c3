// Package queue holds decoded records between ingest and the polling HTTP
// consumer. Each record is handed out at most once.
package queue

import (
	"sync"

	"github.com/banshee-data/telemetry.report/internal/packet"
)

// DefaultCapacity bounds the number of undrained records.
const DefaultCapacity = 10000

// Buffer is a bounded FIFO of decoded records. When full, the oldest record
// is discarded to make room.
type Buffer struct {
	mu      sync.Mutex
	items   []packet.Record
	cap     int
	dropped uint64
}

// NewBuffer returns a Buffer holding at most capacity records. A
// non-positive capacity selects DefaultCapacity.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{cap: capacity}
}

// Append adds r in arrival order.
func (b *Buffer) Append(r packet.Record) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.items) >= b.cap {
		n := len(b.items) - b.cap + 1
		// zero the discarded slots so the backing array does not pin them
		clear(b.items[:n])
		b.items = b.items[n:]
		b.dropped += uint64(n)
	}
	b.items = append(b.items, r)
}

// Drain returns every buffered record in arrival order and empties the
// buffer in the same critical section. It returns an empty, non-nil slice
// when nothing is buffered.
func (b *Buffer) Drain() []packet.Record {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.items
	b.items = nil
	if out == nil {
		out = []packet.Record{}
	}
	return out
}

// Len reports the number of buffered records.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// Dropped reports how many records were discarded for capacity.
func (b *Buffer) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
