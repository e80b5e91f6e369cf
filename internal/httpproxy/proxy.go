// Package httpproxy implements the per-session TLS-intercepting HTTP
// CONNECT proxy: it terminates sandbox TLS with a minted leaf cert,
// injects per-host credentials, enforces the session's access mode, and
// audits every request.
package httpproxy

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/shepherdjerred/clauderon/internal/audit"
	"github.com/shepherdjerred/clauderon/internal/credentials"
	"github.com/shepherdjerred/clauderon/internal/metrics"
	"github.com/shepherdjerred/clauderon/internal/proxyca"
)

var readOnlyAllowedMethods = map[string]bool{
	http.MethodGet:     true,
	http.MethodHead:    true,
	http.MethodOptions: true,
	http.MethodTrace:   true,
}

// AccessMode mirrors store.AccessMode without importing the store package,
// keeping this package usable independent of persistence concerns.
type AccessMode string

const (
	AccessModeReadOnly  AccessMode = "ReadOnly"
	AccessModeReadWrite AccessMode = "ReadWrite"
)

// Proxy is one per-session HTTP Auth Proxy instance.
type Proxy struct {
	sessionID string
	ca        *proxyca.CA
	creds     *credentials.Registry
	auditLog  audit.Logger

	mode atomic.Pointer[AccessMode]

	listener net.Listener
	server   *http.Server
}

// New constructs a Proxy that keeps the Registry current in creds at
// construction for its whole life; a later reload does not reach it.
// Call Listen to bind localhost:port, then Serve to start accepting
// connections.
func New(sessionID string, ca *proxyca.CA, creds *credentials.Snapshot, auditLog audit.Logger, initialMode AccessMode) *Proxy {
	p := &Proxy{sessionID: sessionID, ca: ca, creds: creds.Current(), auditLog: auditLog}
	p.mode.Store(&initialMode)
	return p
}

// SetAccessMode updates the live mode cell. Updates take effect on the
// next request; no in-flight request is affected.
func (p *Proxy) SetAccessMode(mode AccessMode) {
	p.mode.Store(&mode)
}

func (p *Proxy) currentMode() AccessMode {
	return *p.mode.Load()
}

// Listen binds localhost:port. Separated from Serve so the manager can
// verify the bind succeeded before committing to a spawn.
func (p *Proxy) Listen(port int) error {
	l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return err
	}
	p.listener = l
	return nil
}

// Serve runs the CONNECT proxy loop until ctx is cancelled.
func (p *Proxy) Serve(ctx context.Context) error {
	p.server = &http.Server{
		Handler: http.HandlerFunc(p.handle),
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- p.server.Serve(p.listener)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = p.server.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// Addr returns the bound listener's address, valid after Listen.
func (p *Proxy) Addr() net.Addr {
	if p.listener == nil {
		return nil
	}
	return p.listener.Addr()
}

func (p *Proxy) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodConnect {
		http.Error(w, "only CONNECT is supported", http.StatusMethodNotAllowed)
		return
	}
	p.handleConnect(w, r)
}

func (p *Proxy) handleConnect(w http.ResponseWriter, r *http.Request) {
	targetHost, _, err := net.SplitHostPort(r.Host)
	if err != nil {
		targetHost = r.Host
	}

	hijacker, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "hijacking not supported", http.StatusInternalServerError)
		return
	}
	clientConn, _, err := hijacker.Hijack()
	if err != nil {
		slog.Error("proxy: hijack failed", "session_id", p.sessionID, "error", err)
		return
	}
	defer clientConn.Close()

	if _, err := clientConn.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n")); err != nil {
		return
	}

	leaf, err := p.ca.LeafFor(targetHost)
	if err != nil {
		slog.Error("proxy: mint leaf cert failed", "session_id", p.sessionID, "host", targetHost, "error", err)
		return
	}

	tlsClientConn := tls.Server(clientConn, &tls.Config{
		Certificates: []tls.Certificate{*leaf},
		MinVersion:   tls.VersionTLS12,
	})
	if err := tlsClientConn.Handshake(); err != nil {
		slog.Debug("proxy: client TLS handshake failed", "session_id", p.sessionID, "host", targetHost, "error", err)
		return
	}
	defer tlsClientConn.Close()

	p.serveOverTLS(tlsClientConn, targetHost)
}

// serveOverTLS reads one or more plaintext HTTP requests from the now
// client-TLS-terminated connection and proxies each over a fresh
// upstream TLS connection to the real target.
func (p *Proxy) serveOverTLS(clientConn net.Conn, targetHost string) {
	reader := bufio.NewReader(clientConn)
	for {
		req, err := http.ReadRequest(reader)
		if err != nil {
			if err != io.EOF {
				slog.Debug("proxy: read request failed", "session_id", p.sessionID, "error", err)
			}
			return
		}
		req.URL.Scheme = "https"
		req.URL.Host = targetHost
		req.RequestURI = ""

		p.proxyOne(clientConn, req, targetHost)
	}
}

func (p *Proxy) proxyOne(clientConn net.Conn, req *http.Request, targetHost string) {
	start := time.Now()

	mode := p.currentMode()
	if mode == AccessModeReadOnly && !readOnlyAllowedMethods[req.Method] {
		reason := "access_mode=ReadOnly"
		p.writeErrorResponse(clientConn, req, http.StatusForbidden, fmt.Sprintf("blocked: %s", reason))
		p.record(audit.Entry{
			Timestamp:     time.Now(),
			SessionID:     p.sessionID,
			Method:        req.Method,
			ServiceHost:   targetHost,
			Path:          req.URL.Path,
			AuthInjected:  false,
			StatusCode:    http.StatusForbidden,
			DurationMS:    time.Since(start).Milliseconds(),
			BlockedReason: &reason,
		})
		metrics.ProxyRequestsTotal.WithLabelValues(targetHost, "true").Inc()
		return
	}

	authInjected := false
	if entry, ok := p.creds.Lookup(targetHost); ok {
		credentials.Inject(req, entry)
		authInjected = entry.Scheme != credentials.SchemeNone
	}

	status, err := p.forward(clientConn, req, targetHost)
	if err != nil {
		slog.Debug("proxy: forward failed", "session_id", p.sessionID, "host", targetHost, "error", err)
		status = http.StatusBadGateway
	}

	metrics.ProxyRequestsTotal.WithLabelValues(targetHost, "false").Inc()
	metrics.ProxyRequestDuration.WithLabelValues(targetHost).Observe(time.Since(start).Seconds())

	p.record(audit.Entry{
		Timestamp:    time.Now(),
		SessionID:    p.sessionID,
		Method:       req.Method,
		ServiceHost:  targetHost,
		Path:         req.URL.Path,
		AuthInjected: authInjected,
		StatusCode:   status,
		DurationMS:   time.Since(start).Milliseconds(),
	})
}

func (p *Proxy) forward(clientConn net.Conn, req *http.Request, targetHost string) (int, error) {
	dialAddr := targetHost
	if !strings.Contains(dialAddr, ":") {
		dialAddr += ":443"
	}

	upstream, err := tls.Dial("tcp", dialAddr, &tls.Config{ServerName: targetHost})
	if err != nil {
		return 0, fmt.Errorf("dial upstream %s: %w", dialAddr, err)
	}
	defer upstream.Close()

	if err := req.Write(upstream); err != nil {
		return 0, fmt.Errorf("write upstream request: %w", err)
	}

	resp, err := http.ReadResponse(bufio.NewReader(upstream), req)
	if err != nil {
		return 0, fmt.Errorf("read upstream response: %w", err)
	}
	defer resp.Body.Close()

	if err := resp.Write(clientConn); err != nil {
		return resp.StatusCode, fmt.Errorf("write client response: %w", err)
	}
	return resp.StatusCode, nil
}

func (p *Proxy) writeErrorResponse(conn net.Conn, req *http.Request, status int, body string) {
	resp := &http.Response{
		StatusCode: status,
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header:     http.Header{"Content-Type": []string{"text/plain"}},
		Body:       io.NopCloser(strings.NewReader(body)),
		Request:    req,
	}
	_ = resp.Write(conn)
}

func (p *Proxy) record(e audit.Entry) {
	p.auditLog.Write(e)
}
