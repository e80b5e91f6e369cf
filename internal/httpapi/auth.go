package httpapi

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// TokenAuth gates the optional HTTP surface. Per the external bind
// contract: localhost requests bypass auth entirely; anything else
// must present the bearer token whose hash was persisted at setup.
type TokenAuth struct {
	hash []byte // bcrypt hash of the bearer token; an empty hash matches no token
}

// LoadOrGenerateToken reads the bcrypt hash at path, or mints a fresh
// random token and persists its hash if none exists yet. The plaintext
// token is returned only when freshly generated, so the daemon can
// print it once for the operator to copy.
func LoadOrGenerateToken(path string) (auth *TokenAuth, freshToken string, err error) {
	existing, err := os.ReadFile(path)
	if err == nil {
		return &TokenAuth{hash: existing}, "", nil
	}
	if !os.IsNotExist(err) {
		return nil, "", fmt.Errorf("read http auth token %s: %w", path, err)
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, "", fmt.Errorf("generate http auth token: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(raw)

	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", fmt.Errorf("hash http auth token: %w", err)
	}
	if err := os.WriteFile(path, hash, 0o600); err != nil {
		return nil, "", fmt.Errorf("persist http auth token %s: %w", path, err)
	}
	return &TokenAuth{hash: hash}, token, nil
}

// middleware wraps next so that non-loopback requests must present a
// valid bearer token; loopback requests pass through unauthenticated.
func (a *TokenAuth) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isLoopback(r.RemoteAddr) {
			next.ServeHTTP(w, r)
			return
		}
		token := bearerToken(r)
		if token == "" || bcrypt.CompareHashAndPassword(a.hash, []byte(token)) != nil {
			http.Error(w, `{"code":"AUTH_ERROR","message":"missing or invalid bearer token"}`, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// authenticate performs the same check as middleware but returns a
// bool, for call sites (the WebSocket upgrade path) that cannot send a
// JSON error body once the connection is upgraded.
func (a *TokenAuth) authenticate(r *http.Request) bool {
	if isLoopback(r.RemoteAddr) {
		return true
	}
	token := bearerToken(r)
	return token != "" && bcrypt.CompareHashAndPassword(a.hash, []byte(token)) == nil
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

func isLoopback(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
