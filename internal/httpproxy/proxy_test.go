package httpproxy

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shepherdjerred/clauderon/internal/credentials"
)

// TestReadOnlyMethodAllowlist documents the exact method set the proxy
// must forward under AccessModeReadOnly (GET, HEAD, OPTIONS, TRACE),
// matching the per-session proxy's access-mode enforcement.
func TestReadOnlyMethodAllowlist(t *testing.T) {
	allowed := map[string]bool{
		http.MethodGet:     true,
		http.MethodHead:    true,
		http.MethodOptions: true,
		http.MethodTrace:   true,
		http.MethodPost:    false,
		http.MethodPut:     false,
		http.MethodDelete:  false,
		http.MethodPatch:   false,
	}
	for method, want := range allowed {
		req := httptest.NewRequest(method, "https://api.example/do", nil)
		require.Equal(t, method, req.Method)
		require.Equal(t, want, readOnlyAllowedMethods[req.Method], "method %s", method)
	}
}

func TestUnconfiguredHostHasNoCredential(t *testing.T) {
	reg, err := credentials.Load("", nil)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "https://api.example/x", nil)
	_, ok := reg.Lookup("api.example")
	require.False(t, ok) // no env/secrets configured in this test
	require.Empty(t, req.Header.Get("Authorization"))
}

func TestCredentialInjectSchemes(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "https://api.example/x", nil)
	credentials.Inject(req, credentials.Entry{Scheme: credentials.SchemeBearer, Secret: "tok"})
	require.Equal(t, "Bearer tok", req.Header.Get("Authorization"))

	req2 := httptest.NewRequest(http.MethodGet, "https://api.example/x", nil)
	req2.Header.Set("Authorization", "stale")
	credentials.Inject(req2, credentials.Entry{Scheme: credentials.SchemeXApiKey, Secret: "key"})
	require.Equal(t, "key", req2.Header.Get("x-api-key"))
	require.Empty(t, req2.Header.Get("Authorization"))

	req3 := httptest.NewRequest(http.MethodGet, "https://api.example/x", nil)
	credentials.Inject(req3, credentials.Entry{Scheme: credentials.SchemeCookie, Secret: "sid=1"})
	require.Equal(t, "sid=1", req3.Header.Get("Cookie"))
}
