// Package packet decodes the fixed-size telemetry frames transmitted by the
// flight computer into typed records.
//
// Every frame is 32 bytes, little-endian, with a type discriminant at byte
// 4. Decoding is pure: a frame is read, never retained or modified, and the
// same bytes always produce the same record.
package packet

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/encoding/unicode"
)

// FrameSize is the number of bytes of a frame that carry telemetry. Longer
// buffers are truncated to this size before decoding.
const FrameSize = 32

const typeOffset = 4

// ErrShortFrame is matched by errors returned for frames shorter than
// FrameSize.
var ErrShortFrame = errors.New("short telemetry frame")

// ShortFrameError reports a frame that is too short to decode.
type ShortFrameError struct {
	Len int
}

func (e *ShortFrameError) Error() string {
	return fmt.Sprintf("short telemetry frame: got %d bytes, need %d", e.Len, FrameSize)
}

// Is reports whether target is ErrShortFrame.
func (e *ShortFrameError) Is(target error) bool {
	return target == ErrShortFrame
}

// RawFrame is one frame as delivered by the demodulator.
type RawFrame struct {
	// Data holds the received bytes; at least FrameSize are required.
	Data []byte
	// CRC is the upstream checksum result. It is propagated, not recomputed.
	CRC bool
	// ID is the demodulator's sequence number for the frame.
	ID uint64
}

// CheckLength returns a *ShortFrameError if the frame cannot be decoded.
func (f RawFrame) CheckLength() error {
	if len(f.Data) < FrameSize {
		return &ShortFrameError{Len: len(f.Data)}
	}
	return nil
}

// view is a private copy of the decoded window. Element k of the 16-bit
// accessors covers bytes 2k and 2k+1; element k of the 32-bit accessor covers
// bytes 4k through 4k+3.
type view [FrameSize]byte

func newView(data []byte) *view {
	var v view
	copy(v[:], data[:FrameSize])
	return &v
}

func (v *view) u8(i int) uint8   { return v[i] }
func (v *view) u16(i int) uint16 { return binary.LittleEndian.Uint16(v[2*i:]) }
func (v *view) i16(i int) int16  { return int16(v.u16(i)) }
func (v *view) i32(i int) int32  { return int32(binary.LittleEndian.Uint32(v[4*i:])) }

// text decodes a NUL padded text field of n bytes starting at off.
func (v *view) text(off, n int) string {
	return decodeText(v[off : off+n])
}

// decodeText stops at the first NUL and replaces invalid UTF-8 with U+FFFD.
func decodeText(b []byte) string {
	for i, c := range b {
		if c == 0 {
			b = b[:i]
			break
		}
	}
	out, err := unicode.UTF8.NewDecoder().Bytes(b)
	if err != nil {
		return strings.ToValidUTF8(string(b), "�")
	}
	return string(out)
}
