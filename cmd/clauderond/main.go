// Command clauderond is the Clauderon daemon: it wires together the
// Session Manager & Store, the execution backends, the per-session
// HTTP Auth Proxy, the mTLS gateway, and the PTY registry, then serves
// the control socket (and, optionally, the HTTP/WebSocket surface)
// until terminated.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/shepherdjerred/clauderon/internal/audit"
	"github.com/shepherdjerred/clauderon/internal/backend"
	"github.com/shepherdjerred/clauderon/internal/config"
	"github.com/shepherdjerred/clauderon/internal/controlsocket"
	"github.com/shepherdjerred/clauderon/internal/credentials"
	"github.com/shepherdjerred/clauderon/internal/gitutil"
	"github.com/shepherdjerred/clauderon/internal/health"
	"github.com/shepherdjerred/clauderon/internal/httpapi"
	"github.com/shepherdjerred/clauderon/internal/httpproxy"
	"github.com/shepherdjerred/clauderon/internal/logging"
	"github.com/shepherdjerred/clauderon/internal/portalloc"
	"github.com/shepherdjerred/clauderon/internal/proxyca"
	"github.com/shepherdjerred/clauderon/internal/pty"
	"github.com/shepherdjerred/clauderon/internal/session"
	"github.com/shepherdjerred/clauderon/internal/store"
	"github.com/shepherdjerred/clauderon/internal/talosgw"
)

var version = "dev"

func main() {
	logging.Setup()

	cfg := config.DefineFlags()
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	if err := run(cfg); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	logging.PrintBanner(version, cfg.ControlSocketPath())

	flags, err := config.LoadFeatureFlags(cfg.FeatureFile)
	if err != nil {
		return fmt.Errorf("load feature flags: %w", err)
	}
	slog.Info("feature flags loaded", "flags", flags.String())

	db, err := store.Open(cfg.DBPath())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	if err := store.Migrate(db); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	st := store.New(db)

	ca, err := proxyca.Load(cfg.ProxyCADir())
	if err != nil {
		return fmt.Errorf("load proxy CA: %w", err)
	}

	knownHosts := cfg.KnownHostsList()
	credsReg, err := credentials.Load(cfg.CredentialsDir(), knownHosts)
	if err != nil {
		return fmt.Errorf("load credentials: %w", err)
	}
	credsSnap := credentials.NewSnapshot(credsReg)

	auditLog, err := audit.NewFileLogger(cfg.AuditLogPath())
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}

	ports := portalloc.New(portalloc.DefaultRangeStart, portalloc.DefaultRangeEnd)
	proxies := httpproxy.NewManager(ca, credsSnap, auditLog, ports)
	ptys := pty.NewRegistry()
	git := gitutil.NewWorktreeBackend()

	backends := buildBackends(cfg, flags, ptys)
	healthSvc := health.NewService(git, backends)

	worktreeDir := filepath.Join(cfg.DataDir, "worktrees")
	mgr := session.New(st, git, ports, proxies, backends, healthSvc, ptys, worktreeDir)
	mgr.SetCredentialsSource(cfg.CredentialsDir(), knownHosts)
	if err := mgr.RestoreOnStartup(); err != nil {
		return fmt.Errorf("restore session state: %w", err)
	}

	gw := talosgw.New(cfg.TalosPort, ca)
	if err := gw.LoadConfig(); err != nil {
		slog.Warn("talos gateway config not loaded, gateway disabled", "error", err)
	}
	go func() {
		if err := gw.Serve(); err != nil {
			slog.Error("talos gateway exited with error", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ctrlSrv := controlsocket.New(mgr, st, flags, cfg.ControlSocketPath())
	ctrlErrCh := make(chan error, 1)
	go func() { ctrlErrCh <- ctrlSrv.Serve(ctx) }()

	var httpErrCh chan error
	if cfg.HTTPAddr != "" {
		auth, freshToken, err := httpapi.LoadOrGenerateToken(cfg.HTTPAuthTokenPath())
		if err != nil {
			return fmt.Errorf("load http auth token: %w", err)
		}
		if freshToken != "" {
			fmt.Fprintf(os.Stderr, "\n  generated HTTP surface bearer token (shown once): %s\n\n", freshToken)
		}
		httpSrv := httpapi.New(mgr, st, flags, ptys, auth, cfg.HTTPAddr)
		httpErrCh = make(chan error, 1)
		go func() { httpErrCh <- httpSrv.Serve(ctx) }()
	}

	<-ctx.Done()
	slog.Info("shutting down")

	if err := <-ctrlErrCh; err != nil {
		slog.Error("control socket shutdown error", "error", err)
	}
	if httpErrCh != nil {
		if err := <-httpErrCh; err != nil {
			slog.Error("http surface shutdown error", "error", err)
		}
	}
	if err := gw.Close(); err != nil {
		slog.Warn("talos gateway close error", "error", err)
	}

	proxies.Shutdown()
	ptys.StopAll()

	if _, err := db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		slog.Warn("wal checkpoint failed", "error", err)
	}
	if err := db.Close(); err != nil {
		slog.Warn("close database failed", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}

// buildBackends wires every execution backend this process can
// support. The Multiplexer backend always runs locally; Container
// dials the standard Docker environment and is skipped (with a
// warning, not a fatal error) if that fails; Pod and MicroVM are only
// wired when explicitly enabled, since both need operator-provided
// cluster/SSH configuration that isn't always present.
func buildBackends(cfg *config.Config, flags config.FeatureFlags, ptys *pty.Registry) map[store.Backend]backend.ExecutionBackend {
	backends := map[store.Backend]backend.ExecutionBackend{
		store.BackendMultiplexer: backend.NewMultiplexer(ptys),
	}

	if container, err := backend.NewContainer(); err != nil {
		slog.Warn("container backend unavailable", "error", err)
	} else {
		backends[store.BackendContainer] = container
	}

	if flags.EnableKubernetesBackend {
		clientset, err := newKubernetesClientset()
		if err != nil {
			slog.Warn("kubernetes backend unavailable", "error", err)
		} else {
			backends[store.BackendPod] = backend.NewPod(clientset, cfg.Namespace)
		}
	}

	if cfg.MicroVMHost != "" {
		backends[store.BackendMicroVM] = backend.NewMicroVM(sshVMExec(cfg.MicroVMHost))
	}

	return backends
}

// sshVMExec returns a vmExec function that runs one command inside the
// named micro-VM over SSH. The OpenSSH client joins remote-command
// arguments into a single string for the remote shell, so each
// argument is quoted individually before joining — the caller's argv
// elements (e.g. a repository's `origin` URL) are never interpreted by
// the remote shell even though they cross one.
func sshVMExec(host string) func(ctx context.Context, id string, argv []string) ([]byte, error) {
	return func(ctx context.Context, id string, argv []string) ([]byte, error) {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
		defer cancel()
		return execCommand(ctx, "ssh", host, shellJoin(argv))
	}
}

// shellJoin quotes each argument for a POSIX shell (wrapping in single
// quotes, escaping embedded single quotes) and joins them with spaces.
func shellJoin(argv []string) string {
	quoted := make([]string, len(argv))
	for i, a := range argv {
		quoted[i] = "'" + strings.ReplaceAll(a, "'", `'\''`) + "'"
	}
	return strings.Join(quoted, " ")
}
