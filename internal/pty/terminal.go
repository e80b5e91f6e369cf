package pty

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"

	ccpty "github.com/creack/pty"
)

// OutputHandler is called for each chunk of raw output from the PTY,
// unmodified, for live fan-out to attached viewers.
type OutputHandler func(data []byte)

// Terminal manages a single PTY session. Alongside the raw byte
// stream it maintains a Grid screen buffer and recognises a small set
// of terminal query escape sequences (cursor position, device
// attributes), answering them itself since nothing else attached to
// the PTY's master side can.
type Terminal struct {
	id       string
	cmd      *exec.Cmd
	ptmx     *os.File
	outputFn OutputHandler
	grid     *Grid
	queries  QueryParser
	mu       sync.Mutex
	stopped  bool
	exitCode int
	exitCh   chan struct{}
}

// Options configures a new Terminal. Shell defaults to the user's
// login shell when empty; Args is only meaningful when Shell names an
// agent binary directly rather than an interactive shell.
type Options struct {
	ID         string
	Shell      string
	Args       []string
	WorkingDir string
	Cols       uint16
	Rows       uint16
}

// Start creates a new PTY terminal session.
func Start(opts Options, outputFn OutputHandler) (*Terminal, error) {
	shell := opts.Shell
	if shell == "" {
		shell = resolveDefaultShell()
	}

	cmd := exec.Command(shell, opts.Args...)
	cmd.Dir = opts.WorkingDir
	cmd.Env = append(os.Environ(),
		"TERM=xterm-256color",
	)

	winSize := &ccpty.Winsize{
		Cols: opts.Cols,
		Rows: opts.Rows,
	}
	if winSize.Cols == 0 {
		winSize.Cols = 80
	}
	if winSize.Rows == 0 {
		winSize.Rows = 24
	}

	ptmx, err := ccpty.StartWithSize(cmd, winSize)
	if err != nil {
		return nil, fmt.Errorf("start pty: %w", err)
	}

	t := &Terminal{
		id:       opts.ID,
		cmd:      cmd,
		ptmx:     ptmx,
		outputFn: outputFn,
		grid:     NewGrid(winSize.Rows, winSize.Cols),
		exitCh:   make(chan struct{}),
	}

	go t.readOutput()
	go t.waitForExit()

	slog.Info("terminal started",
		"terminal_id", opts.ID,
		"shell", shell,
		"pid", cmd.Process.Pid,
	)

	return t, nil
}

// SendInput writes data to the PTY.
func (t *Terminal) SendInput(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped {
		return fmt.Errorf("terminal is stopped")
	}

	_, err := t.ptmx.Write(data)
	return err
}

// Resize changes the terminal dimensions.
func (t *Terminal) Resize(cols, rows uint16) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped {
		return fmt.Errorf("terminal is stopped")
	}

	if err := ccpty.Setsize(t.ptmx, &ccpty.Winsize{
		Cols: cols,
		Rows: rows,
	}); err != nil {
		return err
	}
	t.grid.Resize(rows, cols)
	return nil
}

// Stop terminates the terminal session.
func (t *Terminal) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped {
		return
	}
	t.stopped = true

	_ = t.ptmx.Close()
	if t.cmd.Process != nil {
		_ = t.cmd.Process.Kill()
	}
}

// Wait blocks until the terminal process exits.
func (t *Terminal) Wait() int {
	<-t.exitCh
	return t.exitCode
}

// IsExited returns true if the terminal process has exited.
func (t *Terminal) IsExited() bool {
	select {
	case <-t.exitCh:
		return true
	default:
		return false
	}
}

// ID returns the terminal's ID.
func (t *Terminal) ID() string {
	return t.id
}

// ScreenSnapshot returns a full ANSI redraw of the terminal's current
// screen, for a client attaching after the session has already
// produced output.
func (t *Terminal) ScreenSnapshot() []byte {
	return t.grid.Render()
}

// readOutput is the PTY's single reader goroutine. Every chunk read
// is split by QueryParser into output runs (fed to the grid and
// broadcast raw to outputFn, unchanged) and recognised queries, which
// never reach the grid or a viewer: a synthesised response is written
// straight back into the PTY, the way a real terminal answers the
// program asking where its own cursor is.
func (t *Terminal) readOutput() {
	buf := make([]byte, 32*1024)
	for {
		n, err := t.ptmx.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			for _, ev := range t.queries.Parse(data) {
				switch ev.kind {
				case eventOutput:
					t.grid.Process(ev.data)
					t.outputFn(ev.data)
				case eventQuery:
					t.respondToQuery(ev.query)
				}
			}
		}
		if err != nil {
			if err != io.EOF {
				slog.Debug("terminal read error",
					"terminal_id", t.id,
					"error", err,
				)
			}
			return
		}
	}
}

// respondToQuery synthesises and writes a query response directly
// into the PTY's master side, as if the attached program's own
// terminal had answered it. It never reaches outputFn or the grid.
func (t *Terminal) respondToQuery(query QueryKind) {
	row, col := t.grid.CursorPosition()
	resp := buildQueryResponse(query, row, col)
	if resp == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	if _, err := t.ptmx.Write(resp); err != nil {
		slog.Debug("terminal query response write failed",
			"terminal_id", t.id,
			"error", err,
		)
	}
}

func (t *Terminal) waitForExit() {
	err := t.cmd.Wait()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			t.exitCode = exitErr.ExitCode()
		} else {
			t.exitCode = -1
		}
	}
	close(t.exitCh)

	slog.Info("terminal exited",
		"terminal_id", t.id,
		"exit_code", t.exitCode,
	)
}
