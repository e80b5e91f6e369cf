package backend

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
)

// MicroVM runs each sandbox in a remote micro-VM that cannot mount
// local directories; instead it clones the session's repositories
// from their detected `origin` remote. Every clone is invoked with an
// explicit argv — no shell interpolation of a remote URL ever occurs,
// since that URL is attacker-influenced (whatever `git remote
// get-url origin` returns, which may reflect a compromised
// .git/config).
type MicroVM struct {
	// vmExec runs one command inside the target micro-VM and returns
	// combined stdout+stderr. Swappable in tests.
	vmExec func(ctx context.Context, id string, argv []string) ([]byte, error)

	mu      sync.Mutex
	persist map[string]bool // id -> auto_destroy was false at create time
}

// NewMicroVM wires a MicroVM backend to a function capable of
// executing a command inside a named VM (e.g. over SSH, or a
// provider-specific exec API).
func NewMicroVM(vmExec func(ctx context.Context, id string, argv []string) ([]byte, error)) *MicroVM {
	return &MicroVM{vmExec: vmExec, persist: make(map[string]bool)}
}

func (m *MicroVM) Create(ctx context.Context, name, _ string, initialPrompt string, opts CreateOptions) (string, error) {
	id := opts.SessionID
	if id == "" {
		id = name
	}

	for _, repo := range opts.Repositories {
		argv := []string{"git", "clone", "--origin", "origin", repo.CanonicalPath, repo.MountName}
		if repo.Branch != "" {
			argv = append(argv, "--branch", repo.Branch)
		}
		if _, err := m.vmExec(ctx, id, argv); err != nil {
			return "", fmt.Errorf("clone %s into micro-vm %s: %w", repo.MountName, id, err)
		}
	}

	// The workdir and agent argv travel as positional arguments to a
	// fixed script, so no element is ever parsed as shell syntax.
	argv := append([]string{"sh", "-c", `cd "$1" && shift && exec "$@"`, "sh", primaryMount(opts.Repositories)}, agentArgv(opts.Agent, opts.Model, opts.PrintMode, opts.PlanMode, initialPrompt)...)
	if _, err := m.vmExec(ctx, id, argv); err != nil {
		return "", fmt.Errorf("start agent in micro-vm %s: %w", id, err)
	}

	m.mu.Lock()
	m.persist[id] = !opts.AutoDestroy
	m.mu.Unlock()

	return id, nil
}

func primaryMount(repos []Repository) string {
	for _, r := range repos {
		if r.IsPrimary {
			return r.MountName
		}
	}
	if len(repos) > 0 {
		return repos[0].MountName
	}
	return "."
}

func (m *MicroVM) Exists(ctx context.Context, id string) (bool, error) {
	out, err := m.vmExec(ctx, id, []string{"true"})
	if err != nil {
		return false, nil
	}
	_ = out
	return true, nil
}

// Delete honors auto_destroy as recorded at Create time: when it was
// false, the VM is left running (and its data preserved) and only the
// in-memory persist marker is cleared.
func (m *MicroVM) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	persist := m.persist[id]
	delete(m.persist, id)
	m.mu.Unlock()

	if persist {
		return nil
	}

	_, err := m.vmExec(ctx, id, []string{"pkill", "-f", "clauderon-agent"})
	if err != nil && !isAlreadyGone(err) {
		return fmt.Errorf("delete micro-vm sandbox %s: %w", id, err)
	}
	return nil
}

func isAlreadyGone(err error) bool {
	return strings.Contains(err.Error(), "no such")
}

func (m *MicroVM) AttachCommand(_ context.Context, id string) ([]string, error) {
	return []string{"clauderonctl", "vm-attach", id}, nil
}

func (m *MicroVM) GetOutput(ctx context.Context, id string, lines int) (string, error) {
	out, err := m.vmExec(ctx, id, []string{"tail", "-n", fmt.Sprintf("%d", lines), "/var/log/clauderon-agent.log"})
	if err != nil {
		return "", fmt.Errorf("tail output in micro-vm %s: %w", id, err)
	}
	return string(out), nil
}

func (m *MicroVM) CheckHealth(ctx context.Context, id string) (Health, error) {
	out, err := m.vmExec(ctx, id, []string{"pgrep", "-f", "clauderon-agent"})
	if err != nil {
		if ee, ok := err.(*exec.ExitError); ok && ee.ExitCode() == 1 {
			return Health{State: HealthStopped}, nil
		}
		return Health{State: HealthNotFound}, nil
	}
	if len(strings.TrimSpace(string(out))) == 0 {
		return Health{State: HealthStopped}, nil
	}
	return Health{State: HealthRunning}, nil
}

func (m *MicroVM) Capabilities() Capabilities {
	return Capabilities{
		CanRecreate:                 true,
		CanUpdateImage:              false,
		PreservesDataOnRecreate:     false,
		CanStart:                    true,
		CanWake:                     true,
		DataPreservationDescription: "the workspace is a fresh clone inside the VM; recreating discards any changes not pushed to the origin remote",
	}
}

func (m *MicroVM) IsRemote() bool { return true }
