package controlsocket_test

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shepherdjerred/clauderon/internal/audit"
	"github.com/shepherdjerred/clauderon/internal/backend"
	"github.com/shepherdjerred/clauderon/internal/clauderr"
	"github.com/shepherdjerred/clauderon/internal/config"
	"github.com/shepherdjerred/clauderon/internal/controlsocket"
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

type fakeStore struct {
	mu       sync.Mutex
	sessions map[string]*store.Session
}

func newFakeStore() *fakeStore { return &fakeStore{sessions: make(map[string]*store.Session)} }

func (f *fakeStore) SaveSession(s *store.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[s.ID] = s.Clone()
	return nil
}
func (f *fakeStore) GetSession(id string) (*store.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return nil, clauderr.NotFound("session %s not found", id)
	}
	return s.Clone(), nil
}
func (f *fakeStore) GetSessionByName(name string) (*store.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sessions {
		if s.Name == name {
			return s.Clone(), nil
		}
	}
	return nil, clauderr.NotFound("session named %q not found", name)
}
func (f *fakeStore) ListSessions() ([]*store.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*store.Session, 0, len(f.sessions))
	for _, s := range f.sessions {
		out = append(out, s.Clone())
	}
	return out, nil
}
func (f *fakeStore) DeleteSession(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, id)
	return nil
}
func (f *fakeStore) RecordEvent(string, store.EventType, any) error { return nil }
func (f *fakeStore) AddRecentRepo(func(string) (string, error), string, string) error {
	return nil
}
func (f *fakeStore) GetRecentRepos() ([]store.RecentRepo, error) { return nil, nil }

type fakeGit struct{ existing sync.Map }

func (g *fakeGit) CreateWorktree(_, worktreePath, _, _ string) (*gitutil.Warning, error) {
	g.existing.Store(worktreePath, true)
	return nil, nil
}
func (g *fakeGit) DeleteWorktree(_, worktreePath string) error {
	g.existing.Delete(worktreePath)
	return nil
}
func (g *fakeGit) WorktreeExists(path string) bool {
	_, ok := g.existing.Load(path)
	return ok
}
func (g *fakeGit) GetBranch(string) (string, error) { return "main", nil }

type fakeBackend struct {
	mu      sync.Mutex
	created map[string]bool
}

func (f *fakeBackend) Create(_ context.Context, name, _, _ string, _ backend.CreateOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.created == nil {
		f.created = map[string]bool{}
	}
	f.created[name] = true
	return name, nil
}
func (f *fakeBackend) Exists(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created[id], nil
}
func (f *fakeBackend) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.created, id)
	return nil
}
func (f *fakeBackend) AttachCommand(context.Context, string) ([]string, error) { return nil, nil }
func (f *fakeBackend) GetOutput(context.Context, string, int) (string, error)  { return "", nil }
func (f *fakeBackend) CheckHealth(_ context.Context, id string) (backend.Health, error) {
	return backend.Health{State: backend.HealthRunning}, nil
}
func (f *fakeBackend) Capabilities() backend.Capabilities { return backend.Capabilities{} }
func (f *fakeBackend) IsRemote() bool                     { return false }

func startTestServer(t *testing.T) (*fakeStore, string) {
	t.Helper()
	st := newFakeStore()
	git := &fakeGit{}
	fb := &fakeBackend{}

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

	sockPath := filepath.Join(t.TempDir(), "clauderon.sock")
	srv := controlsocket.New(mgr, st, config.DefaultFeatureFlags(), sockPath)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = srv.Serve(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	waitForSocket(t, sockPath)
	return st, sockPath
}

func waitForSocket(t *testing.T, path string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.Dial("unix", path)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("control socket %s never came up", path)
}

func roundTrip(t *testing.T, sockPath string, req controlsocket.Request) []controlsocket.Response {
	t.Helper()
	conn, err := net.Dial("unix", sockPath)
	require.NoError(t, err)
	defer conn.Close()

	enc := json.NewEncoder(conn)
	require.NoError(t, enc.Encode(req))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	scanner := bufio.NewScanner(conn)

	var responses []controlsocket.Response
	for scanner.Scan() {
		var resp controlsocket.Response
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &resp))
		responses = append(responses, resp)
		if resp.Type != "Progress" {
			break
		}
	}
	require.NotEmpty(t, responses, "expected at least one response line")
	return responses
}

func TestListSessionsEmpty(t *testing.T) {
	_, sockPath := startTestServer(t)
	responses := roundTrip(t, sockPath, controlsocket.Request{Type: "ListSessions"})
	last := responses[len(responses)-1]
	require.Equal(t, "Sessions", last.Type)
	require.Empty(t, last.Sessions)
}

func TestCreateThenGetThenDeleteSession(t *testing.T) {
	_, sockPath := startTestServer(t)

	responses := roundTrip(t, sockPath, controlsocket.Request{
		Type:     "CreateSession",
		RepoPath: "/repos/demo",
		Backend:  "Multiplexer",
		Agent:    "agent-A",
	})
	last := responses[len(responses)-1]
	require.Equal(t, "Created", last.Type)
	require.NotEmpty(t, last.ID)

	getResp := roundTrip(t, sockPath, controlsocket.Request{Type: "GetSession", ID: last.ID})
	require.Equal(t, "Session", getResp[0].Type)
	require.Equal(t, "Running", getResp[0].Session.Status)

	delResp := roundTrip(t, sockPath, controlsocket.Request{Type: "DeleteSession", ID: last.ID})
	require.Equal(t, "Deleted", delResp[0].Type)

	notFound := roundTrip(t, sockPath, controlsocket.Request{Type: "GetSession", ID: last.ID})
	require.Equal(t, "Error", notFound[0].Type)
	require.Equal(t, string(clauderr.KindNotFound), notFound[0].Code)
}

func TestUnknownRequestTypeReturnsError(t *testing.T) {
	_, sockPath := startTestServer(t)
	responses := roundTrip(t, sockPath, controlsocket.Request{Type: "DoesNotExist"})
	require.Equal(t, "Error", responses[0].Type)
	require.Equal(t, "INVALID_REQUEST", responses[0].Code)
}
