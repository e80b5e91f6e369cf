package session_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shepherdjerred/clauderon/internal/audit"
	"github.com/shepherdjerred/clauderon/internal/backend"
	"github.com/shepherdjerred/clauderon/internal/clauderr"
	"github.com/shepherdjerred/clauderon/internal/credentials"
	"github.com/shepherdjerred/clauderon/internal/gitutil"
	"github.com/shepherdjerred/clauderon/internal/health"
	"github.com/shepherdjerred/clauderon/internal/httpproxy"
	"github.com/shepherdjerred/clauderon/internal/portalloc"
	"github.com/shepherdjerred/clauderon/internal/proxyca"
	"github.com/shepherdjerred/clauderon/internal/pty"
	"github.com/shepherdjerred/clauderon/internal/session"
	"github.com/shepherdjerred/clauderon/internal/store"
)

// fakeStore is an in-memory Store used so orchestration logic can be
// tested without a real SQLite file.
type fakeStore struct {
	sessions map[string]*store.Session
	events   []store.Event
}

func newFakeStore() *fakeStore {
	return &fakeStore{sessions: make(map[string]*store.Session)}
}

func (f *fakeStore) SaveSession(s *store.Session) error {
	f.sessions[s.ID] = s.Clone()
	return nil
}
func (f *fakeStore) GetSession(id string) (*store.Session, error) {
	s, ok := f.sessions[id]
	if !ok {
		return nil, clauderr.NotFound("session %s not found", id)
	}
	return s.Clone(), nil
}
func (f *fakeStore) GetSessionByName(name string) (*store.Session, error) {
	for _, s := range f.sessions {
		if s.Name == name {
			return s.Clone(), nil
		}
	}
	return nil, clauderr.NotFound("session named %q not found", name)
}
func (f *fakeStore) ListSessions() ([]*store.Session, error) {
	out := make([]*store.Session, 0, len(f.sessions))
	for _, s := range f.sessions {
		out = append(out, s.Clone())
	}
	return out, nil
}
func (f *fakeStore) DeleteSession(id string) error {
	delete(f.sessions, id)
	return nil
}
func (f *fakeStore) RecordEvent(sessionID string, eventType store.EventType, payload any) error {
	f.events = append(f.events, store.Event{SessionID: sessionID, Type: eventType})
	return nil
}
func (f *fakeStore) AddRecentRepo(canonicalize func(string) (string, error), repoPath, subdirectory string) error {
	return nil
}

// fakeGit avoids shelling out to git so tests run without a real repo.
type fakeGit struct {
	existing map[string]bool
	warnNext *gitutil.Warning
}

func (g *fakeGit) CreateWorktree(repoRoot, worktreePath, branchName, startPoint string) (*gitutil.Warning, error) {
	if g.existing == nil {
		g.existing = map[string]bool{}
	}
	g.existing[worktreePath] = true
	return g.warnNext, nil
}
func (g *fakeGit) DeleteWorktree(repoRoot, worktreePath string) error {
	delete(g.existing, worktreePath)
	return nil
}
func (g *fakeGit) WorktreeExists(path string) bool { return g.existing[path] }
func (g *fakeGit) GetBranch(worktreePath string) (string, error) { return "main", nil }

// fakeBackend is a minimal in-memory ExecutionBackend double.
type fakeBackend struct {
	nextID    int
	created   map[string]bool
	caps      backend.Capabilities
	failCreate bool
}

func (f *fakeBackend) Create(_ context.Context, name, workdir, prompt string, opts backend.CreateOptions) (string, error) {
	if f.failCreate {
		return "", assertErr
	}
	f.nextID++
	id := name
	if f.created == nil {
		f.created = map[string]bool{}
	}
	f.created[id] = true
	return id, nil
}
func (f *fakeBackend) Exists(_ context.Context, id string) (bool, error) { return f.created[id], nil }
func (f *fakeBackend) Delete(_ context.Context, id string) error {
	delete(f.created, id)
	return nil
}
func (f *fakeBackend) AttachCommand(context.Context, string) ([]string, error) { return nil, nil }
func (f *fakeBackend) GetOutput(context.Context, string, int) (string, error)  { return "", nil }
func (f *fakeBackend) CheckHealth(_ context.Context, id string) (backend.Health, error) {
	if f.created[id] {
		return backend.Health{State: backend.HealthRunning}, nil
	}
	return backend.Health{State: backend.HealthNotFound}, nil
}
func (f *fakeBackend) Capabilities() backend.Capabilities { return f.caps }
func (f *fakeBackend) IsRemote() bool                     { return false }

var assertErr = &testError{"fake backend create failure"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }

func newTestManager(t *testing.T) (*session.Manager, *fakeStore, *fakeBackend) {
	t.Helper()
	st := newFakeStore()
	git := &fakeGit{}
	fb := &fakeBackend{caps: backend.Capabilities{CanRecreate: true, PreservesDataOnRecreate: true}}

	ca, err := proxyca.Load(t.TempDir())
	require.NoError(t, err)
	creds, err := credentials.Load("", nil)
	require.NoError(t, err)
	auditLog := audit.NoopLogger{}
	ports := portalloc.New(portalloc.DefaultRangeStart, portalloc.DefaultRangeEnd)
	proxies := httpproxy.NewManager(ca, credentials.NewSnapshot(creds), auditLog, ports)

	backends := map[store.Backend]backend.ExecutionBackend{store.BackendMultiplexer: fb}
	healthSvc := health.NewService(git, backends)
	ptys := pty.NewRegistry()

	mgr := session.New(st, git, ports, proxies, backends, healthSvc, ptys, t.TempDir())
	return mgr, st, fb
}

func TestCreateSessionPersistsAndStartsRunning(t *testing.T) {
	mgr, st, _ := newTestManager(t)

	result, err := mgr.CreateSession(context.Background(), session.CreateOptions{
		RepoPath: "/repos/demo",
		Backend:  store.BackendMultiplexer,
		Agent:    store.AgentA,
	})
	require.NoError(t, err)
	require.NotNil(t, result.Session)
	require.Equal(t, store.StatusRunning, result.Session.Status)
	require.NotNil(t, result.Session.BackendID)
	require.Nil(t, result.Session.ProxyPort, "multiplexer backend needs no proxy port")

	stored, err := st.GetSession(result.Session.ID)
	require.NoError(t, err)
	require.Equal(t, result.Session.Name, stored.Name)
}

func TestCreateSessionRollsBackWorktreeOnBackendFailure(t *testing.T) {
	mgr, st, fb := newTestManager(t)
	fb.failCreate = true

	_, err := mgr.CreateSession(context.Background(), session.CreateOptions{
		RepoPath: "/repos/demo",
		Backend:  store.BackendMultiplexer,
		Agent:    store.AgentA,
	})
	require.Error(t, err)
	sessions, _ := st.ListSessions()
	require.Empty(t, sessions, "failed create must not leave a persisted row")
}

func TestDeleteSessionRemovesRowEvenIfBackendDeleteFails(t *testing.T) {
	mgr, st, _ := newTestManager(t)
	result, err := mgr.CreateSession(context.Background(), session.CreateOptions{
		RepoPath: "/repos/demo",
		Backend:  store.BackendMultiplexer,
		Agent:    store.AgentA,
	})
	require.NoError(t, err)

	require.NoError(t, mgr.DeleteSession(context.Background(), result.Session.ID))
	_, err = st.GetSession(result.Session.ID)
	require.Error(t, err)
}

func TestArchiveThenUnarchiveRoundTrip(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	result, err := mgr.CreateSession(context.Background(), session.CreateOptions{
		RepoPath: "/repos/demo",
		Backend:  store.BackendMultiplexer,
		Agent:    store.AgentA,
	})
	require.NoError(t, err)

	require.NoError(t, mgr.ArchiveSession(result.Session.ID))
	sess, err := mgr.GetSession(result.Session.ID)
	require.NoError(t, err)
	require.Equal(t, store.StatusArchived, sess.Status)

	require.NoError(t, mgr.UnarchiveSession(result.Session.ID))
	sess, err = mgr.GetSession(result.Session.ID)
	require.NoError(t, err)
	require.Equal(t, store.StatusRunning, sess.Status)
}

func TestUpdateAccessModePersists(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	result, err := mgr.CreateSession(context.Background(), session.CreateOptions{
		RepoPath: "/repos/demo",
		Backend:  store.BackendMultiplexer,
		Agent:    store.AgentA,
	})
	require.NoError(t, err)

	require.NoError(t, mgr.UpdateAccessMode(result.Session.ID, store.AccessModeReadOnly))
	sess, err := mgr.GetSession(result.Session.ID)
	require.NoError(t, err)
	require.Equal(t, store.AccessModeReadOnly, sess.AccessMode)
}

func TestRecreateSessionBlockedWithoutCanRecreate(t *testing.T) {
	mgr, _, fb := newTestManager(t)
	fb.caps = backend.Capabilities{CanRecreate: false}

	result, err := mgr.CreateSession(context.Background(), session.CreateOptions{
		RepoPath: "/repos/demo",
		Backend:  store.BackendMultiplexer,
		Agent:    store.AgentA,
	})
	require.NoError(t, err)

	_, err = mgr.RecreateSession(context.Background(), result.Session.ID)
	require.Error(t, err)
}

func TestReconcileClassifiesWithoutMutating(t *testing.T) {
	mgr, st, fb := newTestManager(t)
	result, err := mgr.CreateSession(context.Background(), session.CreateOptions{
		RepoPath: "/repos/demo",
		Backend:  store.BackendMultiplexer,
		Agent:    store.AgentA,
	})
	require.NoError(t, err)

	// Simulate the backend losing track of the sandbox externally.
	delete(fb.created, *result.Session.BackendID)

	report, err := mgr.Reconcile(context.Background())
	require.NoError(t, err)
	require.Contains(t, report.MissingBackends, result.Session.ID)

	sess, err := st.GetSession(result.Session.ID)
	require.NoError(t, err)
	require.Equal(t, store.StatusRunning, sess.Status, "reconcile must never mutate session state")
}
