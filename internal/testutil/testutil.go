// Package testutil provides shared test utilities and fixtures.
//
// This package centralises frame construction and HTTP assertions so that
// decoder, ingest and API tests describe telemetry the same way.
package testutil

import (
	"encoding/binary"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t *testing.T, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// NewTestRequest creates a test HTTP request.
func NewTestRequest(method, path string) *http.Request {
	return httptest.NewRequest(method, path, nil)
}

// NewTestRecorder creates a test response recorder.
func NewTestRecorder() *httptest.ResponseRecorder {
	return httptest.NewRecorder()
}

// FrameBuilder assembles 32 byte little-endian telemetry frames.
type FrameBuilder struct {
	buf [32]byte
}

// NewFrame returns a builder for a frame with the given serial, raw tick
// count and type discriminant.
func NewFrame(serial, tick uint16, packetType byte) *FrameBuilder {
	b := &FrameBuilder{}
	b.U16(0, serial).U16(2, tick).U8(4, packetType)
	return b
}

// U8 sets the byte at off.
func (b *FrameBuilder) U8(off int, v uint8) *FrameBuilder {
	b.buf[off] = v
	return b
}

// U16 stores v little-endian at byte offset off.
func (b *FrameBuilder) U16(off int, v uint16) *FrameBuilder {
	binary.LittleEndian.PutUint16(b.buf[off:], v)
	return b
}

// I16 stores v little-endian at byte offset off.
func (b *FrameBuilder) I16(off int, v int16) *FrameBuilder {
	return b.U16(off, uint16(v))
}

// I32 stores v little-endian at byte offset off.
func (b *FrameBuilder) I32(off int, v int32) *FrameBuilder {
	binary.LittleEndian.PutUint32(b.buf[off:], uint32(v))
	return b
}

// Bytes copies p into the frame starting at off.
func (b *FrameBuilder) Bytes(off int, p []byte) *FrameBuilder {
	copy(b.buf[off:], p)
	return b
}

// Build returns a copy of the frame.
func (b *FrameBuilder) Build() []byte {
	out := make([]byte, len(b.buf))
	copy(out, b.buf[:])
	return out
}

// PacketLine renders data as a demodulator packet message line, without the
// trailing newline.
func PacketLine(t *testing.T, data []byte, crc bool, id uint64) string {
	t.Helper()
	ints := make([]int, len(data))
	for i, c := range data {
		ints[i] = int(c)
	}
	line, err := json.Marshal(map[string]any{
		"type": "packet",
		"data": ints,
		"crc":  crc,
		"id":   id,
	})
	if err != nil {
		t.Fatalf("marshal packet line: %v", err)
	}
	return string(line)
}
