package httpproxy

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/shepherdjerred/clauderon/internal/audit"
	"github.com/shepherdjerred/clauderon/internal/clauderr"
	"github.com/shepherdjerred/clauderon/internal/credentials"
	"github.com/shepherdjerred/clauderon/internal/metrics"
	"github.com/shepherdjerred/clauderon/internal/portalloc"
	"github.com/shepherdjerred/clauderon/internal/proxyca"
)

const (
	bindVerifyRetries = 10
	bindVerifyDelay    = 50 * time.Millisecond
)

// handle is one running per-session proxy's task and cancellation.
type handle struct {
	proxy  *Proxy
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager owns every live per-session HTTP Auth Proxy.
type Manager struct {
	ca       *proxyca.CA
	creds    *credentials.Snapshot
	auditLog audit.Logger
	ports    *portalloc.Allocator

	mu       sync.RWMutex
	sessions map[string]*handle
}

func NewManager(ca *proxyca.CA, creds *credentials.Snapshot, auditLog audit.Logger, ports *portalloc.Allocator) *Manager {
	return &Manager{ca: ca, creds: creds, auditLog: auditLog, ports: ports, sessions: make(map[string]*handle)}
}

// CreateSessionProxy allocates a port, spawns a proxy, and verifies it
// is accepting TCP within the bind-verification window. On any failure
// the spawn is rolled back (task aborted, port released).
func (m *Manager) CreateSessionProxy(sessionID string, mode AccessMode) (int, error) {
	port, err := m.ports.Allocate(sessionID)
	if err != nil {
		return 0, clauderr.Proxy("allocate port for session %s: %v", sessionID, err)
	}

	p := New(sessionID, m.ca, m.creds, m.auditLog, mode)
	if err := p.Listen(port); err != nil {
		m.ports.Release(port)
		return 0, clauderr.Proxy("listen on port %d for session %s: %v", port, sessionID, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := p.Serve(ctx); err != nil {
			slog.Error("session proxy exited with error", "session_id", sessionID, "error", err)
		}
	}()

	if !verifyBound(port) {
		cancel()
		<-done
		m.ports.Release(port)
		return 0, clauderr.Proxy("proxy for session %s did not bind port %d within %v", sessionID, port, bindVerifyRetries*bindVerifyDelay)
	}

	m.mu.Lock()
	m.sessions[sessionID] = &handle{proxy: p, cancel: cancel, done: done}
	m.mu.Unlock()
	metrics.ActiveProxies.Inc()

	return port, nil
}

func verifyBound(port int) bool {
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	for i := 0; i < bindVerifyRetries; i++ {
		conn, err := net.DialTimeout("tcp", addr, bindVerifyDelay)
		if err == nil {
			_ = conn.Close()
			return true
		}
		time.Sleep(bindVerifyDelay)
	}
	return false
}

// DestroySessionProxy cancels the session's proxy task and releases its
// port only after the task has fully aborted.
func (m *Manager) DestroySessionProxy(sessionID string, port int) {
	m.mu.Lock()
	h, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
	}
	m.mu.Unlock()

	if ok {
		h.cancel()
		<-h.done
		metrics.ActiveProxies.Dec()
	}
	m.ports.Release(port)
}

// ReloadCredentials rebuilds the Credentials Registry from secretsDir
// and knownHosts and publishes it as the new snapshot. Already-running
// proxies keep the Registry they captured when spawned; only proxies
// spawned after this call use the new entries, per the documented
// non-retroactive reload policy.
func (m *Manager) ReloadCredentials(secretsDir string, knownHosts []string) error {
	reg, err := credentials.Load(secretsDir, knownHosts)
	if err != nil {
		return clauderr.Storage(err, "reload credentials")
	}
	m.creds.Reload(reg)
	slog.Info("credentials registry reloaded")
	return nil
}

// UpdateAccessMode updates the live proxy's mode cell. If no live proxy
// exists for the session, this is a no-op — the caller is expected to
// have already updated the durable record.
func (m *Manager) UpdateAccessMode(sessionID string, mode AccessMode) {
	m.mu.RLock()
	h, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if ok {
		h.proxy.SetAccessMode(mode)
	}
}

// RestoreCandidate is one session eligible for proxy restoration on
// startup (Running status, Container backend, and a persisted proxy port).
type RestoreCandidate struct {
	SessionID string
	Port      int
	Mode      AccessMode
}

// RestoreResult reports how many proxies were restored vs skipped.
type RestoreResult struct {
	Restored int
	Skipped  int
}

// RestoreSessionProxies re-spawns a proxy for every candidate, using the
// session's already-allocated port (restored into the Port Allocator by
// the caller beforehand). Failures here leak the port until next
// restart but never abort daemon startup.
func (m *Manager) RestoreSessionProxies(candidates []RestoreCandidate) RestoreResult {
	var result RestoreResult
	for _, c := range candidates {
		p := New(c.SessionID, m.ca, m.creds, m.auditLog, c.Mode)
		if err := p.Listen(c.Port); err != nil {
			slog.Warn("restore session proxy: listen failed", "session_id", c.SessionID, "port", c.Port, "error", err)
			result.Skipped++
			continue
		}

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			defer close(done)
			_ = p.Serve(ctx)
		}()

		if !verifyBound(c.Port) {
			cancel()
			<-done
			slog.Warn("restore session proxy: bind verification failed", "session_id", c.SessionID, "port", c.Port)
			result.Skipped++
			continue
		}

		m.mu.Lock()
		m.sessions[c.SessionID] = &handle{proxy: p, cancel: cancel, done: done}
		m.mu.Unlock()
		metrics.ActiveProxies.Inc()
		result.Restored++
	}

	slog.Info("restored session proxies", "restored", result.Restored, "skipped", result.Skipped)
	return result
}

// Shutdown tears down every running proxy and flushes the audit log.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	handles := make([]*handle, 0, len(m.sessions))
	for _, h := range m.sessions {
		handles = append(handles, h)
	}
	m.sessions = make(map[string]*handle)
	m.mu.Unlock()

	for _, h := range handles {
		h.cancel()
		<-h.done
		metrics.ActiveProxies.Dec()
	}
	m.auditLog.Flush()
}
