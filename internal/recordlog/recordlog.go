// Package recordlog appends every decoded record to a JSON-lines file so a
// session can be reviewed or replayed after the fact.
package recordlog

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"time"

	"github.com/banshee-data/telemetry.report/internal/fsutil"
	"github.com/banshee-data/telemetry.report/internal/packet"
	"github.com/banshee-data/telemetry.report/internal/security"
)

// Entry is one line of the log.
type Entry struct {
	TS         time.Time     `json:"ts"`
	ID         uint64        `json:"id"`
	Kind       string        `json:"kind"`
	PayloadHex string        `json:"payload_hex"`
	Data       packet.Record `json:"data"`
}

// Log is safe for concurrent use.
type Log struct {
	mu   sync.Mutex
	w    io.WriteCloser
	path string
}

// Open creates dir if needed and opens <prefix>-<unix>.jsonl inside it for
// appending. The prefix is sanitised and the final path must stay within dir.
func Open(fsys fsutil.FileSystem, dir, prefix string, now time.Time) (*Log, error) {
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log dir %s: %w", dir, err)
	}

	name := fmt.Sprintf("%s-%d.jsonl", security.SanitizeFilename(prefix), now.Unix())
	path := filepath.Join(dir, name)
	if _, ok := fsys.(fsutil.OSFileSystem); ok {
		if err := security.ValidatePathWithinDirectory(path, dir); err != nil {
			return nil, err
		}
	}

	w, err := fsys.OpenAppend(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open record log: %w", err)
	}
	return &Log{w: w, path: path}, nil
}

// Path is the file being written.
func (l *Log) Path() string { return l.path }

// Append writes one entry as a single line.
func (l *Log) Append(ts time.Time, id uint64, raw []byte, r packet.Record) error {
	line, err := json.Marshal(Entry{
		TS:         ts.UTC(),
		ID:         id,
		Kind:       r.PacketType().Kind(),
		PayloadHex: hex.EncodeToString(raw),
		Data:       r,
	})
	if err != nil {
		return fmt.Errorf("failed to encode log entry: %w", err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.w == nil {
		return fmt.Errorf("record log %s is closed", l.path)
	}
	if _, err := l.w.Write(line); err != nil {
		return fmt.Errorf("failed to append to %s: %w", l.path, err)
	}
	return nil
}

func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.w == nil {
		return nil
	}
	err := l.w.Close()
	l.w = nil
	return err
}
