package session

import (
	"context"
	"log/slog"

	"github.com/shepherdjerred/clauderon/internal/backend"
	"github.com/shepherdjerred/clauderon/internal/clauderr"
	"github.com/shepherdjerred/clauderon/internal/store"
)

// IsRecreateBlocked returns a non-empty reason Recreate is unavailable
// for this session's backend, or "" if it's allowed.
func (m *Manager) IsRecreateBlocked(idOrName string) (string, error) {
	sess, err := m.GetSession(idOrName)
	if err != nil {
		return "", err
	}
	return m.health.IsRecreateBlocked(sess), nil
}

// RecreateSession destroys and rebuilds the sandbox, preserving the
// worktree and the session's identity (id, name, proxy port). Blocked
// without side effects if the backend's capabilities forbid it.
func (m *Manager) RecreateSession(ctx context.Context, idOrName string) (string, error) {
	sess, err := m.GetSession(idOrName)
	if err != nil {
		return "", err
	}

	var newBackendID string
	err = m.withSessionLock(sess.ID, func() error {
		if reason := m.health.IsRecreateBlocked(sess); reason != "" {
			return clauderr.ActionBlocked(reason)
		}
		id, err := m.recreateLocked(ctx, sess, sess.ProxyPort)
		newBackendID = id
		return err
	})
	return newBackendID, err
}

// RecreateSessionFresh destroys and rebuilds the sandbox without any
// data-preservation expectation — used when the backend reports the
// previous resource was deleted externally and nothing recoverable
// remains.
func (m *Manager) RecreateSessionFresh(ctx context.Context, idOrName string) (string, error) {
	sess, err := m.GetSession(idOrName)
	if err != nil {
		return "", err
	}

	var newBackendID string
	err = m.withSessionLock(sess.ID, func() error {
		id, err := m.recreateLocked(ctx, sess, sess.ProxyPort)
		newBackendID = id
		return err
	})
	return newBackendID, err
}

func (m *Manager) recreateLocked(ctx context.Context, sess *store.Session, proxyPort *int) (string, error) {
	impl, err := m.backendFor(sess.Backend)
	if err != nil {
		return "", err
	}

	if sess.BackendID != nil {
		if err := impl.Delete(ctx, *sess.BackendID); err != nil {
			slog.Warn("recreate session: delete of previous backend resource failed", "session_id", sess.ID, "error", err)
		}
	}

	port := 0
	if proxyPort != nil {
		port = *proxyPort
	}

	opts := backend.CreateOptions{
		Agent:            string(sess.Agent),
		SessionProxyPort: port,
		SessionID:        sess.ID,
	}
	if sess.Model != nil {
		opts.Model = *sess.Model
	}

	backendID, err := impl.Create(ctx, sess.Name, sess.WorktreePath, "", opts)
	if err != nil {
		return "", clauderr.Backend(true, err, "recreate backend sandbox for %s", sess.Name)
	}

	sess.BackendID = &backendID
	sess.Status = store.StatusRunning
	if err := m.store.SaveSession(sess); err != nil {
		return "", clauderr.Storage(err, "save recreated session %s", sess.ID)
	}
	m.publish(sess.ID, store.EventBackendIDSet, map[string]any{"backend_id": backendID})
	return backendID, nil
}

// RefreshSession recreates the sandbox with data preserved, exactly as
// RecreateSession does. It does not pull a newer image: the recreate
// passes no pull policy, so each backend's default image handling applies.
func (m *Manager) RefreshSession(ctx context.Context, idOrName string) (string, error) {
	return m.RecreateSession(ctx, idOrName)
}

// UpdateSessionImage recreates the sandbox against a new container
// image, preserving data. Only meaningful for backends whose
// capabilities report CanUpdateImage.
func (m *Manager) UpdateSessionImage(ctx context.Context, idOrName, image string) (string, error) {
	sess, err := m.GetSession(idOrName)
	if err != nil {
		return "", err
	}
	impl, err := m.backendFor(sess.Backend)
	if err != nil {
		return "", err
	}
	if !impl.Capabilities().CanUpdateImage {
		return "", clauderr.ActionBlocked("backend does not support image updates")
	}

	var newBackendID string
	err = m.withSessionLock(sess.ID, func() error {
		if sess.BackendID != nil {
			if delErr := impl.Delete(ctx, *sess.BackendID); delErr != nil {
				slog.Warn("update session image: delete of previous backend resource failed", "session_id", sess.ID, "error", delErr)
			}
		}
		opts := backend.CreateOptions{
			Agent:          string(sess.Agent),
			SessionID:      sess.ID,
			ContainerImage: image,
		}
		if sess.ProxyPort != nil {
			opts.SessionProxyPort = *sess.ProxyPort
		}
		backendID, err := impl.Create(ctx, sess.Name, sess.WorktreePath, "", opts)
		if err != nil {
			return clauderr.Backend(true, err, "update image for %s", sess.Name)
		}
		newBackendID = backendID
		sess.BackendID = &backendID
		sess.Status = store.StatusRunning
		if err := m.store.SaveSession(sess); err != nil {
			return clauderr.Storage(err, "save session %s", sess.ID)
		}
		m.publish(sess.ID, store.EventBackendIDSet, map[string]any{"backend_id": backendID})
		return nil
	})
	return newBackendID, err
}

// StartSession resumes a Stopped sandbox. The execution backend
// contract has no separate "start" primitive distinct from Create, so
// this re-invokes Create against the preserved worktree — the same
// mechanics as recreate, just gated by can_start rather than
// can_recreate.
func (m *Manager) StartSession(ctx context.Context, idOrName string) (string, error) {
	sess, err := m.GetSession(idOrName)
	if err != nil {
		return "", err
	}
	impl, err := m.backendFor(sess.Backend)
	if err != nil {
		return "", err
	}
	if !impl.Capabilities().CanStart {
		return "", clauderr.ActionBlocked("backend does not support starting a stopped sandbox")
	}

	var newBackendID string
	err = m.withSessionLock(sess.ID, func() error {
		id, err := m.recreateLocked(ctx, sess, sess.ProxyPort)
		newBackendID = id
		return err
	})
	return newBackendID, err
}

// WakeSession resumes a Hibernated sandbox, same mechanics as
// StartSession but gated by can_wake.
func (m *Manager) WakeSession(ctx context.Context, idOrName string) (string, error) {
	sess, err := m.GetSession(idOrName)
	if err != nil {
		return "", err
	}
	impl, err := m.backendFor(sess.Backend)
	if err != nil {
		return "", err
	}
	if !impl.Capabilities().CanWake {
		return "", clauderr.ActionBlocked("backend does not support waking a hibernated sandbox")
	}

	var newBackendID string
	err = m.withSessionLock(sess.ID, func() error {
		id, err := m.recreateLocked(ctx, sess, sess.ProxyPort)
		newBackendID = id
		return err
	})
	return newBackendID, err
}

// CleanupSession removes the session row regardless of backend
// consistency — used when a session's backend resource is gone and
// the user just wants the database entry reclaimed. It always
// succeeds if the session exists.
func (m *Manager) CleanupSession(ctx context.Context, idOrName string) error {
	sess, err := m.GetSession(idOrName)
	if err != nil {
		return err
	}
	return m.withSessionLock(sess.ID, func() error {
		return m.deleteLocked(ctx, sess)
	})
}
