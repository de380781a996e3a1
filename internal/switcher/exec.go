package switcher

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
)

// diagnosticsBuffer is the number of stderr lines buffered per process.
// Lines beyond it are dropped rather than stalling the encoder.
const diagnosticsBuffer = 256

// ExecLauncher starts real encoder processes in their own process group and
// streams their stderr as diagnostics.
type ExecLauncher struct {
	Log *slog.Logger
}

// Launch implements Launcher.
func (l ExecLauncher) Launch(ctx context.Context, name string, args []string) (Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cmd := exec.Command(name, args...)
	configureProcAttr(cmd)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", name, err)
	}

	p := &execProcess{
		cmd:   cmd,
		log:   l.Log,
		lines: make(chan string, diagnosticsBuffer),
		done:  make(chan struct{}),
	}
	go p.collect(stderr)
	return p, nil
}

type execProcess struct {
	cmd   *exec.Cmd
	log   *slog.Logger
	lines chan string
	done  chan struct{}
	err   error
}

func (p *execProcess) Pid() int                   { return p.cmd.Process.Pid }
func (p *execProcess) Diagnostics() <-chan string { return p.lines }
func (p *execProcess) Done() <-chan struct{}      { return p.done }
func (p *execProcess) Err() error                 { return p.err }
func (p *execProcess) Interrupt() error           { return interruptProcess(p.cmd.Process) }
func (p *execProcess) Kill() error                { return killProcess(p.cmd.Process) }

// collect forwards stderr lines until EOF, then reaps the process. Wait must
// not run before all reads from the pipe have completed.
func (p *execProcess) collect(r io.Reader) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), 64*1024)
	sc.Split(scanProgressLines)
	dropped := 0
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		select {
		case p.lines <- line:
		default:
			dropped++
		}
	}
	if err := sc.Err(); err != nil {
		_, _ = io.Copy(io.Discard, r)
	}
	close(p.lines)

	p.err = p.cmd.Wait()
	if dropped > 0 && p.log != nil {
		p.log.Debug("dropped encoder diagnostics", slog.Int("pid", p.cmd.Process.Pid), slog.Int("dropped", dropped))
	}
	close(p.done)
}

// scanProgressLines splits on '\n' and on the bare '\r' ffmpeg uses to
// redraw its progress line.
func scanProgressLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
