package demod

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"

	"github.com/banshee-data/telemetry.report/internal/monitoring"
)

// ProcessPort runs the demodulator as a child process and reads its standard
// output. Standard error is forwarded to the diagnostic log.
type ProcessPort struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr sync.WaitGroup

	closeOnce sync.Once
	closeErr  error
}

// StartProcess starts name with args and returns a port reading its stdout.
func StartProcess(name string, args ...string) (*ProcessPort, error) {
	cmd := exec.Command(name, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open demodulator stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open demodulator stderr: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start demodulator %q: %w", name, err)
	}
	monitoring.Logf("started demodulator %s (pid %d)", name, cmd.Process.Pid)

	p := &ProcessPort{cmd: cmd, stdout: stdout}
	p.stderr.Add(1)
	go func() {
		defer p.stderr.Done()
		forwardStderr(stderr)
	}()
	return p, nil
}

// forwardStderr copies the demodulator's diagnostics into the service log.
func forwardStderr(r io.Reader) {
	stderrLog := monitoring.Named("demod stderr")
	scan := bufio.NewScanner(r)
	for scan.Scan() {
		stderrLog("%s", scan.Text())
	}
}

func (p *ProcessPort) Read(b []byte) (int, error) {
	return p.stdout.Read(b)
}

// Close kills the process if it is still running and reaps it. The remaining
// stderr output is logged before the process is reaped. An exit caused by
// the kill is not reported as an error.
func (p *ProcessPort) Close() error {
	p.closeOnce.Do(func() {
		if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			monitoring.Logf("failed to kill demodulator: %v", err)
		}
		// Wait closes the pipes, so stderr must be drained first
		p.stderr.Wait()
		var exitErr *exec.ExitError
		if err := p.cmd.Wait(); err != nil && !errors.As(err, &exitErr) {
			p.closeErr = err
		}
		monitoring.Logf("demodulator exited: %s", p.cmd.ProcessState)
	})
	return p.closeErr
}

// NewProcessMux starts the demodulator and creates a Mux over its output.
func NewProcessMux(name string, args []string, muxOpts ...Option) (*Mux[*ProcessPort], error) {
	port, err := StartProcess(name, args...)
	if err != nil {
		return nil, err
	}
	return NewMux(port, muxOpts...), nil
}

// FrequencyArgs formats receive frequencies in Hz as demodulator arguments.
func FrequencyArgs(freqs []float64) []string {
	args := make([]string, len(freqs))
	for i, f := range freqs {
		args[i] = strconv.FormatFloat(f, 'f', 0, 64)
	}
	return args
}
