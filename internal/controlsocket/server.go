package controlsocket

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"sync"

	"github.com/shepherdjerred/clauderon/internal/clauderr"
	"github.com/shepherdjerred/clauderon/internal/config"
	"github.com/shepherdjerred/clauderon/internal/session"
	"github.com/shepherdjerred/clauderon/internal/store"
)

// RecentRepoStore is the narrow slice of *store.Store the control
// socket needs directly — everything else goes through the Session
// Manager.
type RecentRepoStore interface {
	GetRecentRepos() ([]store.RecentRepo, error)
}

// Server serves the control socket: one request per line in, one or
// more response lines out.
type Server struct {
	mgr   *session.Manager
	repos RecentRepoStore
	flags config.FeatureFlags
	path  string

	mu sync.Mutex
	ln net.Listener
	wg sync.WaitGroup
}

// New constructs a control socket Server bound to path once Serve is
// called.
func New(mgr *session.Manager, repos RecentRepoStore, flags config.FeatureFlags, path string) *Server {
	return &Server{mgr: mgr, repos: repos, flags: flags, path: path}
}

// Serve binds the Unix socket and accepts connections until ctx is
// cancelled. It returns once every in-flight connection has finished.
func (s *Server) Serve(ctx context.Context) error {
	if err := removeStaleSocket(s.path); err != nil {
		return fmt.Errorf("remove stale control socket: %w", err)
	}

	ln, err := net.Listen("unix", s.path)
	if err != nil {
		return fmt.Errorf("listen unix %s: %w", s.path, err)
	}
	if err := os.Chmod(s.path, 0o600); err != nil {
		_ = ln.Close()
		return fmt.Errorf("chmod control socket: %w", err)
	}

	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	slog.Info("control socket listening", "path", s.path)
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				s.wg.Wait()
				_ = os.Remove(s.path)
				return nil
			default:
				return fmt.Errorf("accept control socket: %w", err)
			}
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(ctx, conn)
		}()
	}
}

func removeStaleSocket(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if info.Mode().Type() == fs.ModeSocket {
		return os.Remove(path)
	}
	return fmt.Errorf("%s exists but is not a socket", path)
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	enc := json.NewEncoder(conn)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			_ = enc.Encode(errorResponse(clauderr.Validation("malformed request: %v", err)))
			continue
		}

		send := func(resp Response) {
			if err := enc.Encode(resp); err != nil {
				slog.Warn("control socket write failed", "error", err)
			}
		}
		s.dispatch(ctx, req, send)
	}
	if err := scanner.Err(); err != nil {
		slog.Debug("control socket connection read error", "error", err)
	}
}

func errorResponse(err error) Response {
	e, ok := clauderr.As(err)
	if !ok {
		return Response{Type: "Error", Code: string(clauderr.KindStorage), Message: err.Error()}
	}
	if e.Kind == clauderr.KindActionBlocked {
		return Response{Type: "ActionBlocked", Reason: e.Reason}
	}
	return Response{Type: "Error", Code: string(e.Kind), Message: e.Error()}
}
