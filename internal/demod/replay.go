package demod

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/banshee-data/telemetry.report/internal/timeutil"
)

// DefaultReplayInterval is the delay between replayed lines.
const DefaultReplayInterval = 100 * time.Millisecond

// ReplayPort plays back a captured demodulator transcript one line per tick.
type ReplayPort struct {
	pr *io.PipeReader
	pw *io.PipeWriter

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// ReplayOptions configures a ReplayPort.
type ReplayOptions struct {
	Interval time.Duration
	Loop     bool
	Clock    timeutil.Clock
}

// NewReplayPort starts replaying lines. Blank lines are skipped. When Loop
// is false the port reports EOF after the last line.
func NewReplayPort(lines []string, opts ReplayOptions) *ReplayPort {
	if opts.Interval <= 0 {
		opts.Interval = DefaultReplayInterval
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}

	pr, pw := io.Pipe()
	p := &ReplayPort{pr: pr, pw: pw, done: make(chan struct{})}

	kept := make([]string, 0, len(lines))
	for _, l := range lines {
		if len(bytes.TrimSpace([]byte(l))) > 0 {
			kept = append(kept, l)
		}
	}

	ticker := opts.Clock.NewTicker(opts.Interval)
	p.wg.Add(1)
	go p.play(kept, ticker, opts.Loop)
	return p
}

func (p *ReplayPort) play(lines []string, ticker timeutil.Ticker, loop bool) {
	defer p.wg.Done()
	defer ticker.Stop()

	if len(lines) == 0 {
		p.pw.Close()
		return
	}

	for i := 0; ; i++ {
		if i == len(lines) {
			if !loop {
				p.pw.Close()
				return
			}
			i = 0
		}
		select {
		case <-p.done:
			return
		case <-ticker.C():
		}
		if _, err := io.WriteString(p.pw, lines[i]+"\n"); err != nil {
			return
		}
	}
}

func (p *ReplayPort) Read(b []byte) (int, error) {
	return p.pr.Read(b)
}

// Close stops playback and waits for the playback goroutine to exit.
func (p *ReplayPort) Close() error {
	p.closeOnce.Do(func() {
		close(p.done)
		p.pr.Close()
		p.wg.Wait()
	})
	return nil
}

// ReadCapture reads a capture file into lines.
func ReadCapture(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture %s: %w", path, err)
	}
	defer f.Close()

	var lines []string
	scan := bufio.NewScanner(f)
	scan.Buffer(make([]byte, 0, 4096), maxLineLength)
	for scan.Scan() {
		lines = append(lines, scan.Text())
	}
	if err := scan.Err(); err != nil {
		return nil, fmt.Errorf("failed to read capture %s: %w", path, err)
	}
	return lines, nil
}

// NewReplayMux creates a Mux that replays the capture at path.
func NewReplayMux(path string, opts ReplayOptions, muxOpts ...Option) (*Mux[*ReplayPort], error) {
	lines, err := ReadCapture(path)
	if err != nil {
		return nil, err
	}
	return NewMux(NewReplayPort(lines, opts), muxOpts...), nil
}
