package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// FeatureFlags are loaded once at startup; changing one requires a
// daemon restart.
type FeatureFlags struct {
	EnableAIMetadata        bool `toml:"enable_ai_metadata"`
	EnableAutoReconcile     bool `toml:"enable_auto_reconcile"`
	EnableProxyPortReuse    bool `toml:"enable_proxy_port_reuse"`
	EnableUsageTracking     bool `toml:"enable_usage_tracking"`
	EnableKubernetesBackend bool `toml:"enable_kubernetes_backend"`
}

// DefaultFeatureFlags mirrors the product's shipped defaults: AI
// metadata and auto-reconcile on, everything experimental off.
func DefaultFeatureFlags() FeatureFlags {
	return FeatureFlags{
		EnableAIMetadata:    true,
		EnableAutoReconcile: true,
	}
}

type featureFlagsFile struct {
	FeatureFlags *FeatureFlags `toml:"feature_flags"`
}

// envOverrides holds each flag's environment-variable value, or absent
// (nil) if the variable wasn't set — distinguishing "not set" from
// "set false".
type envOverrides struct {
	aiMetadata        *bool
	autoReconcile     *bool
	proxyPortReuse    *bool
	usageTracking     *bool
	kubernetesBackend *bool
}

// LoadFeatureFlags resolves flags in ascending priority: built-in
// defaults, then the TOML file at featureFile (if non-empty and
// present), then CLAUDERON_FEATURE_<NAME> environment variables.
func LoadFeatureFlags(featureFile string) (FeatureFlags, error) {
	flags := DefaultFeatureFlags()

	if featureFile != "" {
		if data, err := os.ReadFile(featureFile); err == nil {
			var f featureFlagsFile
			if err := toml.Unmarshal(data, &f); err != nil {
				return flags, fmt.Errorf("parse feature flag file %s: %w", featureFile, err)
			}
			if f.FeatureFlags != nil {
				flags = *f.FeatureFlags
			}
		} else if !os.IsNotExist(err) {
			return flags, fmt.Errorf("read feature flag file %s: %w", featureFile, err)
		}
	}

	env := loadEnvOverrides()
	applyEnvOverrides(&flags, env)

	return flags, nil
}

func loadEnvOverrides() envOverrides {
	return envOverrides{
		aiMetadata:        parseEnvBool("CLAUDERON_FEATURE_ENABLE_AI_METADATA"),
		autoReconcile:     parseEnvBool("CLAUDERON_FEATURE_ENABLE_AUTO_RECONCILE"),
		proxyPortReuse:    parseEnvBool("CLAUDERON_FEATURE_ENABLE_PROXY_PORT_REUSE"),
		usageTracking:     parseEnvBool("CLAUDERON_FEATURE_ENABLE_USAGE_TRACKING"),
		kubernetesBackend: parseEnvBool("CLAUDERON_FEATURE_ENABLE_KUBERNETES_BACKEND"),
	}
}

func applyEnvOverrides(flags *FeatureFlags, env envOverrides) {
	if env.aiMetadata != nil {
		flags.EnableAIMetadata = *env.aiMetadata
	}
	if env.autoReconcile != nil {
		flags.EnableAutoReconcile = *env.autoReconcile
	}
	if env.proxyPortReuse != nil {
		flags.EnableProxyPortReuse = *env.proxyPortReuse
	}
	if env.usageTracking != nil {
		flags.EnableUsageTracking = *env.usageTracking
	}
	if env.kubernetesBackend != nil {
		flags.EnableKubernetesBackend = *env.kubernetesBackend
	}
}

// parseEnvBool supports true/false, 1/0, yes/no, on/off (case
// insensitive). Returns nil if the variable is unset or unparsable.
func parseEnvBool(key string) *bool {
	val, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	switch strings.ToLower(val) {
	case "true", "1", "yes", "on":
		b := true
		return &b
	case "false", "0", "no", "off":
		b := false
		return &b
	default:
		return nil
	}
}

// String renders the flag set for a single structured log line.
func (f FeatureFlags) String() string {
	return fmt.Sprintf(
		"ai_metadata=%s auto_reconcile=%s proxy_port_reuse=%s usage_tracking=%s kubernetes_backend=%s",
		strconv.FormatBool(f.EnableAIMetadata),
		strconv.FormatBool(f.EnableAutoReconcile),
		strconv.FormatBool(f.EnableProxyPortReuse),
		strconv.FormatBool(f.EnableUsageTracking),
		strconv.FormatBool(f.EnableKubernetesBackend),
	)
}
