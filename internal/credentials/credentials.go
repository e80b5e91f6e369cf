// Package credentials holds the hostname -> auth scheme + secret map
// injected into proxied HTTPS requests. Read-only after construction;
// reload publishes a new immutable snapshot via atomic pointer swap so
// already-running proxies keep using the snapshot they started with.
package credentials

import (
	"encoding/base64"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/zalando/go-keyring"
)

// Scheme is the auth injection scheme for one hostname entry.
type Scheme string

const (
	SchemeBearer  Scheme = "Bearer"
	SchemeXApiKey Scheme = "XApiKey"
	SchemeBasic   Scheme = "Basic"
	SchemeCookie  Scheme = "Cookie"
	SchemeNone    Scheme = "None"
)

// Entry is one (scheme, secret) credential, keyed by hostname in Registry.
type Entry struct {
	Scheme Scheme
	Secret string
}

// Registry is an immutable snapshot of hostname -> Entry. Construct a new
// Registry and publish it into a Snapshot on reload.
type Registry struct {
	entries map[string]Entry // hostname -> entry
}

const keyringService = "clauderon"

// Load builds a Registry from environment variables of the form
// CLAUDERON_CRED_<HOST>=<scheme>:<secret> (host with dots replaced by
// underscores, uppercased), then from every *.cred file in secretsDir
// (one line: "<scheme>:<secret>", filename is the hostname), then from
// the OS keychain for any hostname in knownHosts not already resolved.
func Load(secretsDir string, knownHosts []string) (*Registry, error) {
	entries := make(map[string]Entry)

	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(k, "CLAUDERON_CRED_") {
			continue
		}
		host := envKeyToHost(strings.TrimPrefix(k, "CLAUDERON_CRED_"))
		scheme, secret, ok := parseSchemeSecret(v)
		if !ok {
			continue
		}
		entries[host] = Entry{Scheme: scheme, Secret: secret}
	}

	if secretsDir != "" {
		_ = filepath.WalkDir(secretsDir, func(path string, d os.DirEntry, err error) error {
			if err != nil || d == nil || d.IsDir() {
				return nil
			}
			if !strings.HasSuffix(path, ".cred") {
				return nil
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return nil
			}
			scheme, secret, ok := parseSchemeSecret(strings.TrimSpace(string(data)))
			if !ok {
				return nil
			}
			host := strings.TrimSuffix(filepath.Base(path), ".cred")
			entries[host] = Entry{Scheme: scheme, Secret: secret}
			return nil
		})
	}

	for _, host := range knownHosts {
		if _, ok := entries[host]; ok {
			continue
		}
		secret, err := keyring.Get(keyringService, host)
		if err != nil {
			continue
		}
		entries[host] = Entry{Scheme: SchemeBearer, Secret: secret}
	}

	return &Registry{entries: entries}, nil
}

func parseSchemeSecret(v string) (Scheme, string, bool) {
	scheme, secret, ok := strings.Cut(v, ":")
	if !ok {
		return "", "", false
	}
	switch Scheme(scheme) {
	case SchemeBearer, SchemeXApiKey, SchemeBasic, SchemeCookie, SchemeNone:
		return Scheme(scheme), secret, true
	default:
		return "", "", false
	}
}

func envKeyToHost(k string) string {
	return strings.ToLower(strings.ReplaceAll(k, "_", "."))
}

// Lookup finds the entry for host using longest-suffix hostname matching;
// an exact host match wins over a wildcard/suffix match.
func (r *Registry) Lookup(host string) (Entry, bool) {
	if e, ok := r.entries[host]; ok {
		return e, true
	}

	var best Entry
	bestLen := -1
	for k, e := range r.entries {
		if k == host || !strings.HasSuffix(host, "."+k) {
			continue
		}
		if len(k) > bestLen {
			best, bestLen = e, len(k)
		}
	}
	if bestLen >= 0 {
		return best, true
	}
	return Entry{}, false
}

// Inject applies an entry's auth scheme to an outbound request's headers.
func Inject(req *http.Request, e Entry) {
	switch e.Scheme {
	case SchemeBearer:
		req.Header.Set("Authorization", "Bearer "+e.Secret)
	case SchemeXApiKey:
		req.Header.Set("x-api-key", e.Secret)
		req.Header.Del("Authorization")
	case SchemeBasic:
		req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(e.Secret)))
	case SchemeCookie:
		existing := req.Header.Get("Cookie")
		if existing == "" {
			req.Header.Set("Cookie", e.Secret)
		} else {
			req.Header.Set("Cookie", existing+"; "+e.Secret)
		}
	case SchemeNone:
		// pass through unmodified
	}
}

// Snapshot holds the current Registry behind an atomic pointer, so a
// reload can publish a new snapshot without disturbing proxies that
// already captured a reference to the old one.
type Snapshot struct {
	ptr atomic.Pointer[Registry]
}

func NewSnapshot(initial *Registry) *Snapshot {
	s := &Snapshot{}
	s.ptr.Store(initial)
	return s
}

// Current returns the Registry in effect right now. Callers that hold
// onto the returned pointer across a reload intentionally keep using
// the old values — this is the documented non-retroactive reload policy.
func (s *Snapshot) Current() *Registry { return s.ptr.Load() }

// Reload publishes a new Registry for future lookups.
func (s *Snapshot) Reload(r *Registry) { s.ptr.Store(r) }
