package session

import (
	"log/slog"

	"github.com/shepherdjerred/clauderon/internal/httpproxy"
	"github.com/shepherdjerred/clauderon/internal/portalloc"
	"github.com/shepherdjerred/clauderon/internal/store"
)

// RestoreOnStartup rebuilds in-memory state from the store: first the
// Port Allocator's bitmap from every session's persisted proxy_port,
// then the per-session HTTP Auth Proxies for sessions that were
// Running on a Container backend when the daemon last stopped.
// Failure to restore one proxy leaks its port until next restart but
// never aborts startup.
func (m *Manager) RestoreOnStartup() error {
	sessions, err := m.store.ListSessions()
	if err != nil {
		return err
	}

	var pairs []portalloc.Pair
	for _, s := range sessions {
		if s.ProxyPort != nil {
			pairs = append(pairs, portalloc.Pair{Port: *s.ProxyPort, SessionID: s.ID})
		}
	}
	if err := m.ports.RestoreAllocations(pairs); err != nil {
		return err
	}

	var candidates []httpproxy.RestoreCandidate
	for _, s := range sessions {
		if s.Status == store.StatusRunning && s.Backend == store.BackendContainer && s.ProxyPort != nil {
			candidates = append(candidates, httpproxy.RestoreCandidate{
				SessionID: s.ID,
				Port:      *s.ProxyPort,
				Mode:      httpproxy.AccessMode(s.AccessMode),
			})
		}
	}

	result := m.proxies.RestoreSessionProxies(candidates)
	slog.Info("session manager startup restore complete", "sessions", len(sessions), "proxies_restored", result.Restored, "proxies_skipped", result.Skipped)

	m.RefreshMetrics()
	return nil
}
