package session

import (
	"context"

	"github.com/shepherdjerred/clauderon/internal/clauderr"
	"github.com/shepherdjerred/clauderon/internal/pty"
	"github.com/shepherdjerred/clauderon/internal/store"
)

// AttachSession ensures a PTY is running for the session's sandbox,
// spawning one under the backend's attach argv if none exists yet, and
// returns that argv. The interactive byte stream itself flows over the
// console WebSocket, not the control socket.
func (m *Manager) AttachSession(ctx context.Context, idOrName string) ([]string, error) {
	sess, err := m.GetSession(idOrName)
	if err != nil {
		return nil, err
	}
	if sess.BackendID == nil {
		return nil, clauderr.Conflict("session %s has no backend resource to attach to", sess.ID)
	}
	impl, err := m.backendFor(sess.Backend)
	if err != nil {
		return nil, err
	}
	command, err := impl.AttachCommand(ctx, *sess.BackendID)
	if err != nil {
		return nil, clauderr.ExternalTool(err, "compute attach command for %s", sess.Name)
	}

	if _, ok := m.ptys.Get(sess.ID); ok {
		return command, nil
	}
	if len(command) == 0 {
		return nil, clauderr.Conflict("backend returned an empty attach command for %s", sess.Name)
	}

	opts := pty.Options{Shell: command[0], Args: command[1:], WorkingDir: sess.WorktreePath, Cols: 80, Rows: 24}
	_, err = m.ptys.Attach(sess.ID, opts, func(sessionID string, exitCode int) {
		m.publish(sessionID, store.EventPTYExited, map[string]any{"exit_code": exitCode})
	})
	if err != nil {
		return nil, clauderr.Backend(true, err, "attach pty for %s", sess.Name)
	}
	return command, nil
}
