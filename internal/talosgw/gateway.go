// Package talosgw implements the mTLS gateway: a single, host-wide
// listener that terminates proxy-CA TLS from sandboxes and
// re-originates the connection as mutually authenticated TLS to the
// configured Talos control-plane endpoint, so sandboxes can speak
// plaintext gRPC without ever holding the cluster's client key.
package talosgw

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/shepherdjerred/clauderon/internal/proxyca"
)

const defaultTalosPort = 50000

// dialRetries bounds how many upstream dial attempts handleConn makes
// before giving up on a client connection — the Talos apid
// endpoint can be transiently unreachable (e.g. a control-plane node
// restarting) but a sandbox's gRPC client has no retry logic of its
// own once its TCP connection fails.
const dialRetries = 4

func newDialBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.Multiplier = 2.0
	b.RandomizationFactor = 0.2
	return b
}

// dialUpstream dials addr with clientTLS, retrying transient failures
// with exponential backoff up to dialRetries attempts.
func dialUpstream(addr string, clientTLS *tls.Config) (*tls.Conn, error) {
	bo := newDialBackoff()
	var lastErr error
	for attempt := 0; attempt < dialRetries; attempt++ {
		conn, err := tls.Dial("tcp", addr, clientTLS)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		if attempt == dialRetries-1 {
			break
		}
		time.Sleep(bo.NextBackOff())
	}
	return nil, lastErr
}

// Gateway is the singleton mTLS gateway. Unlike the per-session HTTP
// Auth Proxy, one Gateway serves every sandbox on the host.
type Gateway struct {
	addr string
	ca   *proxyca.CA

	mu     sync.RWMutex
	config *TalosConfig

	listener net.Listener
}

// New constructs a Gateway bound to 127.0.0.1:port. Call LoadConfig then
// Serve to start accepting connections.
func New(port int, ca *proxyca.CA) *Gateway {
	return &Gateway{addr: fmt.Sprintf("127.0.0.1:%d", port), ca: ca}
}

// LoadConfig reads ~/.talos/config. A missing file leaves the gateway
// unconfigured (IsConfigured reports false) rather than erroring, since
// the gateway is entirely optional functionality.
func (g *Gateway) LoadConfig() error {
	cfg, err := loadTalosConfig()
	if err != nil {
		return err
	}
	if cfg == nil {
		slog.Debug("talos config not found, gateway disabled")
		return nil
	}
	ctx, ok := cfg.Current()
	if !ok {
		slog.Warn("talos config has no matching current context", "context", cfg.Context)
		return nil
	}
	slog.Info("loaded talos config", "contexts", len(cfg.Contexts), "current", cfg.Context, "endpoints", len(ctx.Endpoints))

	g.mu.Lock()
	g.config = cfg
	g.mu.Unlock()
	return nil
}

// IsConfigured reports whether a usable Talos context was loaded.
func (g *Gateway) IsConfigured() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.config == nil {
		return false
	}
	_, ok := g.config.Current()
	return ok
}

func (g *Gateway) currentContext() (TalosContext, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.config == nil {
		return TalosContext{}, false
	}
	return g.config.Current()
}

// Addr returns the gateway's configured listen address.
func (g *Gateway) Addr() string { return g.addr }

// Serve accepts connections until the listener is closed (typically by
// Close, called from the daemon's shutdown sequence). If the gateway
// has no usable config it returns immediately without binding a port.
func (g *Gateway) Serve() error {
	if !g.IsConfigured() {
		slog.Debug("no talos config loaded, gateway disabled")
		return nil
	}

	ctx, _ := g.currentContext()
	clientTLS, err := clientTLSConfig(ctx)
	if err != nil {
		slog.Warn("failed to build talos client identity, gateway disabled", "error", err)
		return nil
	}

	l, err := net.Listen("tcp", g.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", g.addr, err)
	}
	g.listener = l
	slog.Info("talos mTLS gateway listening", "addr", g.addr)

	serverTLS := tls.NewListener(l, g.ca.ServerTLSConfig())

	for {
		conn, err := serverTLS.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		go g.handleConn(conn, ctx, clientTLS)
	}
}

// Close stops accepting new connections. In-flight proxied connections
// run to completion.
func (g *Gateway) Close() error {
	if g.listener == nil {
		return nil
	}
	return g.listener.Close()
}

func (g *Gateway) handleConn(client net.Conn, ctx TalosContext, clientTLS *tls.Config) {
	defer client.Close()

	endpoint := firstEndpoint(ctx)
	if endpoint == "" {
		slog.Error("talos gateway: no endpoints configured")
		return
	}
	host, port := splitEndpoint(endpoint)

	upstream, err := dialUpstream(net.JoinHostPort(host, strconv.Itoa(port)), clientTLS)
	if err != nil {
		slog.Error("talos gateway: dial upstream failed", "endpoint", endpoint, "error", err)
		return
	}
	defer upstream.Close()

	slog.Debug("talos gateway: forwarding connection", "remote", client.RemoteAddr(), "upstream", endpoint)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = io.Copy(upstream, client)
		closeWrite(upstream)
	}()
	go func() {
		defer wg.Done()
		_, _ = io.Copy(client, upstream)
		closeWrite(client)
	}()
	wg.Wait()
}

func closeWrite(conn net.Conn) {
	type writeCloser interface {
		CloseWrite() error
	}
	if wc, ok := conn.(writeCloser); ok {
		_ = wc.CloseWrite()
	}
}

func firstEndpoint(ctx TalosContext) string {
	if len(ctx.Endpoints) == 0 {
		return ""
	}
	return ctx.Endpoints[0]
}

// splitEndpoint parses an endpoint of the form "host:port" or bare
// "host", defaulting to the standard Talos apid port.
func splitEndpoint(endpoint string) (string, int) {
	idx := strings.LastIndex(endpoint, ":")
	if idx < 0 {
		return endpoint, defaultTalosPort
	}
	port, err := strconv.Atoi(endpoint[idx+1:])
	if err != nil {
		return endpoint, defaultTalosPort
	}
	return endpoint[:idx], port
}
