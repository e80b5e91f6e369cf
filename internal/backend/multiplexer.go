package backend

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/shepherdjerred/clauderon/internal/pty"
)

// Multiplexer runs agents as plain host processes attached to a PTY.
// It has no proxy port and no multi-repo support: the sandbox is just
// the host filesystem, so data is always safe and recreate/image
// update make no sense.
type Multiplexer struct {
	registry *pty.Registry
}

// NewMultiplexer wires a Multiplexer backend to an existing PTY
// registry; every Create call Attaches a new PTY session there keyed
// by the returned backend id (== the PTY session id).
func NewMultiplexer(registry *pty.Registry) *Multiplexer {
	return &Multiplexer{registry: registry}
}

func (m *Multiplexer) Create(_ context.Context, name, workdir, initialPrompt string, opts CreateOptions) (string, error) {
	argv := agentArgv(opts.Agent, opts.Model, opts.PrintMode, opts.PlanMode, initialPrompt)
	if err := lookPath(argv[0]); err != nil {
		return "", fmt.Errorf("agent binary %q not found on PATH: %w", argv[0], err)
	}

	id := opts.SessionID
	if id == "" {
		id = name
	}

	_, err := m.registry.Attach(id, pty.Options{
		ID:         id,
		Shell:      argv[0],
		Args:       argv[1:],
		WorkingDir: workdir,
		Rows:       24,
		Cols:       80,
	}, nil)
	if err != nil {
		return "", fmt.Errorf("start multiplexer session: %w", err)
	}
	return id, nil
}

func (m *Multiplexer) Exists(_ context.Context, id string) (bool, error) {
	_, ok := m.registry.Get(id)
	return ok, nil
}

func (m *Multiplexer) Delete(_ context.Context, id string) error {
	m.registry.Detach(id)
	return nil
}

func (m *Multiplexer) AttachCommand(_ context.Context, id string) ([]string, error) {
	if _, ok := m.registry.Get(id); !ok {
		return nil, fmt.Errorf("multiplexer session %s not found", id)
	}
	return []string{"clauderonctl", "attach", id}, nil
}

func (m *Multiplexer) GetOutput(_ context.Context, id string, _ int) (string, error) {
	sess, ok := m.registry.Get(id)
	if !ok {
		return "", fmt.Errorf("multiplexer session %s not found", id)
	}
	return string(sess.ScreenSnapshot()), nil
}

func (m *Multiplexer) CheckHealth(_ context.Context, id string) (Health, error) {
	sess, ok := m.registry.Get(id)
	if !ok {
		return Health{State: HealthNotFound}, nil
	}
	if sess.IsExited() {
		return Health{State: HealthStopped}, nil
	}
	return Health{State: HealthRunning}, nil
}

func (m *Multiplexer) Capabilities() Capabilities {
	return Capabilities{
		CanRecreate:                 false,
		CanUpdateImage:              false,
		PreservesDataOnRecreate:     true,
		CanStart:                    true,
		CanWake:                     false,
		DataPreservationDescription: "the workdir is the host filesystem; nothing is ever lost",
	}
}

func (m *Multiplexer) IsRemote() bool { return false }

// agentArgv builds the argv used to launch the configured coding agent
// under a PTY. Only the agent's own flags are consulted here;
// sandbox-level options (proxy port, images) don't apply on the host.
func agentArgv(agent, model string, printMode, planMode bool, initialPrompt string) []string {
	bin := agent
	if bin == "" {
		bin = "claude"
	}
	argv := []string{bin}
	if model != "" {
		argv = append(argv, "--model", model)
	}
	if printMode {
		argv = append(argv, "--print")
	}
	if planMode {
		argv = append(argv, "--permission-mode", "plan")
	}
	if initialPrompt != "" {
		argv = append(argv, initialPrompt)
	}
	return argv
}

// lookPath resolves an agent binary on PATH, surfaced so Create can
// fail fast with an actionable error instead of leaving a crash-looped
// child process behind.
func lookPath(bin string) error {
	_, err := exec.LookPath(bin)
	return err
}
