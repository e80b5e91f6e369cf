package talosgw

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSplitEndpointWithPort(t *testing.T) {
	host, port := splitEndpoint("10.0.0.5:6443")
	require.Equal(t, "10.0.0.5", host)
	require.Equal(t, 6443, port)
}

func TestSplitEndpointWithoutPortUsesDefault(t *testing.T) {
	host, port := splitEndpoint("10.0.0.5")
	require.Equal(t, "10.0.0.5", host)
	require.Equal(t, defaultTalosPort, port)
}

func TestSplitEndpointInvalidPortFallsBackToDefault(t *testing.T) {
	host, port := splitEndpoint("10.0.0.5:notaport")
	require.Equal(t, "10.0.0.5", host)
	require.Equal(t, defaultTalosPort, port)
}

func TestFirstEndpointEmpty(t *testing.T) {
	require.Equal(t, "", firstEndpoint(TalosContext{}))
}

func TestFirstEndpointReturnsFirst(t *testing.T) {
	ctx := TalosContext{Endpoints: []string{"a:1", "b:2"}}
	require.Equal(t, "a:1", firstEndpoint(ctx))
}

func TestTalosConfigCurrentMissingContext(t *testing.T) {
	cfg := &TalosConfig{Context: "prod", Contexts: map[string]TalosContext{}}
	_, ok := cfg.Current()
	require.False(t, ok)
}

func TestTalosConfigCurrentResolves(t *testing.T) {
	cfg := &TalosConfig{
		Context: "prod",
		Contexts: map[string]TalosContext{
			"prod": {Endpoints: []string{"10.0.0.1"}},
		},
	}
	ctx, ok := cfg.Current()
	require.True(t, ok)
	require.Equal(t, []string{"10.0.0.1"}, ctx.Endpoints)
}

func TestGatewayNotConfiguredWithoutLoadedConfig(t *testing.T) {
	g := New(0, nil)
	require.False(t, g.IsConfigured())
}
