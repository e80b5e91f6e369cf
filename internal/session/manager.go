// Package session implements the Session Manager: the central
// orchestrator that binds together a Git worktree, an execution
// sandbox, and a per-session authenticating proxy into one Session,
// and drives that Session through its lifecycle.
package session

import (
	"log/slog"
	"sync"

	"github.com/shepherdjerred/clauderon/internal/backend"
	"github.com/shepherdjerred/clauderon/internal/clauderr"
	"github.com/shepherdjerred/clauderon/internal/gitutil"
	"github.com/shepherdjerred/clauderon/internal/health"
	"github.com/shepherdjerred/clauderon/internal/httpproxy"
	"github.com/shepherdjerred/clauderon/internal/metrics"
	"github.com/shepherdjerred/clauderon/internal/portalloc"
	"github.com/shepherdjerred/clauderon/internal/pty"
	"github.com/shepherdjerred/clauderon/internal/store"
)

// Store is the persistence contract the Manager needs. Satisfied by
// *store.Store; named here so tests can substitute an in-memory fake.
type Store interface {
	SaveSession(s *store.Session) error
	GetSession(id string) (*store.Session, error)
	GetSessionByName(name string) (*store.Session, error)
	ListSessions() ([]*store.Session, error)
	DeleteSession(id string) error
	RecordEvent(sessionID string, eventType store.EventType, payload any) error
	AddRecentRepo(canonicalize func(string) (string, error), repoPath, subdirectory string) error
}

// WorktreeBackend is the Git worktree lifecycle the Manager drives.
// Satisfied by *gitutil.WorktreeBackend.
type WorktreeBackend interface {
	CreateWorktree(repoRoot, worktreePath, branchName, startPoint string) (*gitutil.Warning, error)
	DeleteWorktree(repoRoot, worktreePath string) error
	WorktreeExists(path string) bool
	GetBranch(worktreePath string) (string, error)
}

// Manager is the central orchestrator described by the daemon's
// control surface: every create/delete/recreate/archive/reconcile
// operation on a Session goes through it.
type Manager struct {
	store       Store
	git         WorktreeBackend
	ports       *portalloc.Allocator
	proxies     *httpproxy.Manager
	backends    map[store.Backend]backend.ExecutionBackend
	health      *health.Service
	ptys        *pty.Registry
	worktreeDir string

	credentialsSecretsDir string
	credentialsKnownHosts []string

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	eventsMu sync.Mutex
	eventSubs map[string]chan EventBroadcast
}

// New wires a Manager to its collaborators. worktreeDir is the parent
// directory new worktrees are created under (one subdirectory per
// session).
func New(
	st Store,
	git WorktreeBackend,
	ports *portalloc.Allocator,
	proxies *httpproxy.Manager,
	backends map[store.Backend]backend.ExecutionBackend,
	healthSvc *health.Service,
	ptys *pty.Registry,
	worktreeDir string,
) *Manager {
	return &Manager{
		store:       st,
		git:         git,
		ports:       ports,
		proxies:     proxies,
		backends:    backends,
		health:      healthSvc,
		ptys:        ptys,
		worktreeDir: worktreeDir,
		locks:       make(map[string]*sync.Mutex),
	}
}

// withSessionLock serializes create/delete/recreate/mode-change
// operations against a single session id. Read-only operations do not
// need it.
func (m *Manager) withSessionLock(id string, fn func() error) error {
	m.locksMu.Lock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	m.locksMu.Unlock()

	l.Lock()
	defer l.Unlock()
	return fn()
}

// SetCredentialsSource records where ReloadCredentials should re-read
// entries from. Called once during daemon wiring with the same
// secretsDir/knownHosts the Credentials Registry was first loaded with.
func (m *Manager) SetCredentialsSource(secretsDir string, knownHosts []string) {
	m.credentialsSecretsDir = secretsDir
	m.credentialsKnownHosts = knownHosts
}

// ReloadCredentials rebuilds the Credentials Registry from its original
// source and publishes it to the proxy manager's shared snapshot.
// Already-running proxies keep the Registry they captured when spawned;
// only proxies spawned after this call use the new entries.
func (m *Manager) ReloadCredentials() error {
	return m.proxies.ReloadCredentials(m.credentialsSecretsDir, m.credentialsKnownHosts)
}

func (m *Manager) backendFor(b store.Backend) (backend.ExecutionBackend, error) {
	impl, ok := m.backends[b]
	if !ok {
		return nil, clauderr.Validation("no execution backend configured for %q", b)
	}
	return impl, nil
}

// GetSession resolves idOrName to a Session, trying it first as an id
// and falling back to a name lookup. The worktree's dirty/changed-file
// counters are refreshed from disk before returning.
func (m *Manager) GetSession(idOrName string) (*store.Session, error) {
	sess, err := m.store.GetSession(idOrName)
	if err == nil {
		m.refreshWorktreeStats(sess)
		return sess, nil
	}
	sess, err2 := m.store.GetSessionByName(idOrName)
	if err2 != nil {
		return nil, clauderr.NotFound("session %q not found", idOrName)
	}
	m.refreshWorktreeStats(sess)
	return sess, nil
}

// refreshWorktreeStats recomputes WorktreeDirty/WorktreeChangedFiles
// from the live worktree and persists them if they've changed, so
// every GetSession call reflects the worktree's current state without
// a separate polling path. A missing worktree or a remote backend
// (which has no local worktree to inspect) leaves the stored values
// untouched — health reporting already surfaces the missing-worktree
// case separately.
func (m *Manager) refreshWorktreeStats(sess *store.Session) {
	impl, err := m.backendFor(sess.Backend)
	if err != nil || impl.IsRemote() {
		return
	}
	if !m.git.WorktreeExists(sess.WorktreePath) {
		return
	}
	changed, err := gitutil.CountChangedFiles(sess.WorktreePath)
	if err != nil {
		slog.Debug("refresh worktree stats: count changed files failed", "session_id", sess.ID, "error", err)
		return
	}
	dirty := changed > 0
	if sess.WorktreeDirty == dirty && sess.WorktreeChangedFiles == changed {
		return
	}
	sess.WorktreeDirty = dirty
	sess.WorktreeChangedFiles = changed
	if err := m.store.SaveSession(sess); err != nil {
		slog.Warn("refresh worktree stats: save failed", "session_id", sess.ID, "error", err)
	}
}

// ListSessions returns every persisted session, with worktree
// dirty/changed-file counters refreshed the same way GetSession
// refreshes them.
func (m *Manager) ListSessions() ([]*store.Session, error) {
	sessions, err := m.store.ListSessions()
	if err != nil {
		return nil, clauderr.Storage(err, "list sessions")
	}
	for _, sess := range sessions {
		m.refreshWorktreeStats(sess)
	}
	return sessions, nil
}

// recordStatus is a small helper used by every lifecycle transition:
// it updates the in-memory session's Status, persists it, and emits a
// StatusChanged event — in that order, so the event always reflects a
// durable state.
func (m *Manager) recordStatus(sess *store.Session, status store.SessionStatus) error {
	sess.Status = status
	if err := m.store.SaveSession(sess); err != nil {
		return clauderr.Storage(err, "save session %s", sess.ID)
	}
	_ = m.store.RecordEvent(sess.ID, store.EventStatusChanged, map[string]any{"status": string(status)})
	return nil
}

// RefreshMetrics recomputes the active-sessions gauge from the current
// store contents. Called after mutations and periodically so the
// gauge never drifts from reality.
func (m *Manager) RefreshMetrics() {
	sessions, err := m.store.ListSessions()
	if err != nil {
		return
	}
	counts := make(map[store.SessionStatus]int)
	for _, s := range sessions {
		counts[s.Status]++
	}
	for _, status := range []store.SessionStatus{
		store.StatusCreating, store.StatusRunning, store.StatusIdle,
		store.StatusArchived, store.StatusDeleting, store.StatusError,
	} {
		metrics.ActiveSessions.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
}
