package config

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Config holds the daemon's runtime configuration.
type Config struct {
	DataDir     string // Data directory for DB, sockets, CA material, audit log
	HTTPAddr    string // Optional HTTP/WebSocket listen address (e.g. ":4327"); empty disables it
	FeatureFile string // Optional TOML feature-flag/backend-default file path
	Namespace   string // Kubernetes namespace for the Pod backend
	KnownHosts  string // Comma-separated hostnames the Credentials Registry resolves via the OS keychain
	MicroVMHost string // SSH host (user@host[:port]) the MicroVM backend execs commands against; empty disables the backend
	TalosPort   int    // Listen port for the mTLS gateway
}

// DefineFlags registers command-line flags for daemon configuration.
// Call flag.Parse() separately after defining all flags.
func DefineFlags() *Config {
	c := &Config{}
	flag.StringVar(&c.DataDir, "data-dir", defaultDataDir(), "data directory")
	flag.StringVar(&c.HTTPAddr, "http-addr", "", "optional HTTP/WebSocket listen address (empty disables it)")
	flag.StringVar(&c.FeatureFile, "feature-file", "", "optional TOML feature-flag/backend-default config file")
	flag.StringVar(&c.Namespace, "namespace", "default", "Kubernetes namespace for the Pod backend")
	flag.StringVar(&c.KnownHosts, "known-hosts", "", "comma-separated hostnames resolved via the OS keychain")
	flag.StringVar(&c.MicroVMHost, "microvm-host", "", "SSH host (user@host[:port]) for the MicroVM backend; empty disables it")
	flag.IntVar(&c.TalosPort, "talos-gateway-port", 50443, "listen port for the mTLS gateway")
	return c
}

// Validate checks the configuration values and ensures required directories exist.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data-dir is required")
	}
	if err := os.MkdirAll(c.DataDir, 0o750); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	return nil
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".config", "clauderon")
	}
	return filepath.Join(home, ".config", "clauderon")
}

// DBPath returns the path to the SQLite database file.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "clauderon.db")
}

// ControlSocketPath returns the path to the control Unix domain socket.
func (c *Config) ControlSocketPath() string {
	return filepath.Join(c.DataDir, "clauderon.sock")
}

// ProxyCADir returns the directory the HTTP Auth Proxy's CA material
// (root cert/key, cached leaf certs) is persisted under.
func (c *Config) ProxyCADir() string {
	return filepath.Join(c.DataDir, "proxy-ca")
}

// CredentialsDir returns the directory `*.cred` files are read from.
func (c *Config) CredentialsDir() string {
	return filepath.Join(c.DataDir, "credentials")
}

// AuditLogPath returns the path the HTTP Auth Proxy's audit log is
// appended to.
func (c *Config) AuditLogPath() string {
	return filepath.Join(c.DataDir, "audit.jsonl")
}

// HTTPAuthTokenPath returns the path the optional HTTP surface's bearer
// token hash is persisted under, for deployments that bind beyond
// localhost.
func (c *Config) HTTPAuthTokenPath() string {
	return filepath.Join(c.DataDir, "http-auth-token")
}

// KnownHostsList splits KnownHosts on commas, trimming whitespace and
// dropping empty entries.
func (c *Config) KnownHostsList() []string {
	if c.KnownHosts == "" {
		return nil
	}
	parts := strings.Split(c.KnownHosts, ",")
	hosts := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			hosts = append(hosts, p)
		}
	}
	return hosts
}
