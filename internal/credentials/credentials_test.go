package credentials_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shepherdjerred/clauderon/internal/credentials"
)

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("CLAUDERON_CRED_API_EXAMPLE_COM", "Bearer:abc123")

	reg, err := credentials.Load("", nil)
	require.NoError(t, err)

	e, ok := reg.Lookup("api.example.com")
	require.True(t, ok)
	require.Equal(t, credentials.SchemeBearer, e.Scheme)
	require.Equal(t, "abc123", e.Secret)
}

func TestLoadFromSecretsDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "svc.internal.cred"), []byte("XApiKey:shh"), 0o600))

	reg, err := credentials.Load(dir, nil)
	require.NoError(t, err)

	e, ok := reg.Lookup("svc.internal")
	require.True(t, ok)
	require.Equal(t, credentials.SchemeXApiKey, e.Scheme)
}

func TestLookupExactWinsOverSuffix(t *testing.T) {
	t.Setenv("CLAUDERON_CRED_EXAMPLE_COM", "Bearer:root")
	t.Setenv("CLAUDERON_CRED_API_EXAMPLE_COM", "Bearer:specific")

	reg, err := credentials.Load("", nil)
	require.NoError(t, err)

	e, ok := reg.Lookup("api.example.com")
	require.True(t, ok)
	require.Equal(t, "specific", e.Secret)

	e2, ok := reg.Lookup("other.example.com")
	require.True(t, ok)
	require.Equal(t, "root", e2.Secret)
}

func TestSnapshotReloadIsNotRetroactive(t *testing.T) {
	regA, err := credentials.Load("", nil)
	require.NoError(t, err)
	snap := credentials.NewSnapshot(regA)

	held := snap.Current()

	t.Setenv("CLAUDERON_CRED_NEW_HOST", "Bearer:new")
	regB, err := credentials.Load("", nil)
	require.NoError(t, err)
	snap.Reload(regB)

	_, ok := held.Lookup("new.host")
	require.False(t, ok, "a reference captured before reload must not see the new entry")

	_, ok = snap.Current().Lookup("new.host")
	require.True(t, ok, "a fresh Current() call after reload must see the new entry")
}
