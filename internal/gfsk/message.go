// Package gfsk parses the newline-delimited JSON messages written by the GFSK
// demodulator process on its standard output.
package gfsk

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/banshee-data/telemetry.report/internal/packet"
)

// Message types emitted by the demodulator.
const (
	TypePacket = "packet"
	TypeGain   = "gain"
	TypeCenter = "center"
	TypeError  = "error"
	TypeClosed = "closed"
)

var (
	// ErrEmptyLine is returned for blank lines.
	ErrEmptyLine = errors.New("empty demodulator line")
	// ErrUnknownMessage is returned for a well-formed message with an
	// unrecognised type.
	ErrUnknownMessage = errors.New("unknown demodulator message type")
)

// Message is one line of demodulator output. Only the fields relevant to
// Type are populated.
type Message struct {
	Type string `json:"type"`

	// packet
	Data []int  `json:"data,omitempty"`
	CRC  bool   `json:"crc,omitempty"`
	ID   uint64 `json:"id,omitempty"`

	// gain
	LNA int `json:"lna,omitempty"`
	VGA int `json:"vga,omitempty"`

	// center
	Center float64 `json:"center,omitempty"`

	// error
	Error string `json:"error,omitempty"`
	File  string `json:"file,omitempty"`
	Line  int    `json:"line,omitempty"`
}

// ParseMessage decodes a single line of demodulator output.
func ParseMessage(line string) (Message, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Message{}, ErrEmptyLine
	}

	var msg Message
	if err := json.Unmarshal([]byte(line), &msg); err != nil {
		return Message{}, fmt.Errorf("failed to unmarshal demodulator message: %w", err)
	}

	switch msg.Type {
	case TypePacket:
		for i, b := range msg.Data {
			if b < 0 || b > 0xFF {
				return Message{}, fmt.Errorf("packet %d: data[%d]=%d is not a byte", msg.ID, i, b)
			}
		}
	case TypeGain, TypeCenter, TypeError, TypeClosed:
	default:
		return Message{}, fmt.Errorf("%w: %q", ErrUnknownMessage, msg.Type)
	}
	return msg, nil
}

// Frame converts a packet message into a raw frame. ok is false for control
// messages.
func (m Message) Frame() (frame packet.RawFrame, ok bool) {
	if m.Type != TypePacket {
		return packet.RawFrame{}, false
	}
	data := make([]byte, len(m.Data))
	for i, b := range m.Data {
		data[i] = byte(b)
	}
	return packet.RawFrame{Data: data, CRC: m.CRC, ID: m.ID}, true
}

// IsControl reports whether m is a receiver control or status message.
func (m Message) IsControl() bool {
	return m.Type != TypePacket
}

func (m Message) String() string {
	switch m.Type {
	case TypePacket:
		return fmt.Sprintf("packet id=%d len=%d crc=%t", m.ID, len(m.Data), m.CRC)
	case TypeGain:
		return fmt.Sprintf("gain lna=%d vga=%d", m.LNA, m.VGA)
	case TypeCenter:
		return fmt.Sprintf("center %.0f Hz", m.Center)
	case TypeError:
		return fmt.Sprintf("error %q at %s:%d", m.Error, m.File, m.Line)
	default:
		return m.Type
	}
}
