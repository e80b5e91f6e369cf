// Package httpapi implements the optional HTTP/WebSocket surface: a
// REST mirror of the control socket plus /ws/events and
// /ws/console/{session_id}. Binding beyond localhost requires the
// bearer-token auth collaborator; localhost binding disables auth
// entirely.
package httpapi

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shepherdjerred/clauderon/internal/config"
	"github.com/shepherdjerred/clauderon/internal/controlsocket"
	"github.com/shepherdjerred/clauderon/internal/logging"
	"github.com/shepherdjerred/clauderon/internal/metrics"
	"github.com/shepherdjerred/clauderon/internal/pty"
	"github.com/shepherdjerred/clauderon/internal/session"
)

// RecentRepoStore is the narrow slice of *store.Store the HTTP surface
// needs for GetRecentRepos.
type RecentRepoStore = controlsocket.RecentRepoStore

// Server serves the optional HTTP/WebSocket surface.
type Server struct {
	mgr   *session.Manager
	repos RecentRepoStore
	flags config.FeatureFlags
	ptys  *pty.Registry
	auth  *TokenAuth
	addr  string

	httpSrv *http.Server
}

// New constructs an httpapi Server bound to addr once Serve is called.
// auth gates everything but loopback requests.
func New(mgr *session.Manager, repos RecentRepoStore, flags config.FeatureFlags, ptys *pty.Registry, auth *TokenAuth, addr string) *Server {
	return &Server{mgr: mgr, repos: repos, flags: flags, ptys: ptys, auth: auth, addr: addr}
}

// Serve binds addr and serves until ctx is cancelled, then drains
// in-flight requests with a bounded grace period.
func (s *Server) Serve(ctx context.Context) error {
	mux := http.NewServeMux()
	s.registerREST(mux)
	mux.Handle("/ws/events", http.HandlerFunc(s.handleWSEvents))
	mux.Handle("/ws/console/{id}", http.HandlerFunc(s.handleWSConsole))
	mux.Handle("/metrics", promhttp.Handler())

	handler := logging.HTTPMiddleware(metrics.HTTPMiddleware(s.auth.middleware(mux)))

	s.httpSrv = &http.Server{
		Addr:              s.addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http surface listening", "addr", s.addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http surface: %w", err)
		}
		<-errCh
		return nil
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serve http surface: %w", err)
		}
		return nil
	}
}
