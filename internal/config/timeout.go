package config

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Default timeout values, in seconds.
const (
	DefaultAPITimeout            = 10
	DefaultAgentStartupTimeout   = 30
	DefaultWorktreeCreateTimeout = 60
	DefaultWorktreeDeleteTimeout = 60
)

// TimeoutConfig holds the daemon's operation timeouts. Values are
// atomics so they can be adjusted at runtime (e.g. a future admin
// control-socket request) without restarting the daemon.
type TimeoutConfig struct {
	apiTimeout            atomic.Int64
	agentStartupTimeout   atomic.Int64
	worktreeCreateTimeout atomic.Int64
	worktreeDeleteTimeout atomic.Int64
}

type timeoutsFile struct {
	Timeouts *timeoutValues `toml:"timeouts"`
}

type timeoutValues struct {
	APISeconds            int64 `toml:"api_seconds"`
	AgentStartupSeconds   int64 `toml:"agent_startup_seconds"`
	WorktreeCreateSeconds int64 `toml:"worktree_create_seconds"`
	WorktreeDeleteSeconds int64 `toml:"worktree_delete_seconds"`
}

// NewDefaultTimeouts returns a TimeoutConfig seeded with built-in defaults.
func NewDefaultTimeouts() *TimeoutConfig {
	c := &TimeoutConfig{}
	c.apply(timeoutValues{
		APISeconds:            DefaultAPITimeout,
		AgentStartupSeconds:   DefaultAgentStartupTimeout,
		WorktreeCreateSeconds: DefaultWorktreeCreateTimeout,
		WorktreeDeleteSeconds: DefaultWorktreeDeleteTimeout,
	})
	return c
}

// LoadTimeouts reads an optional `[timeouts]` table from the same TOML
// feature-flag file, falling back to defaults for any unset or
// non-positive field. A missing file is not an error.
func LoadTimeouts(featureFile string) (*TimeoutConfig, error) {
	c := NewDefaultTimeouts()
	if featureFile == "" {
		return c, nil
	}
	data, err := os.ReadFile(featureFile)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return nil, fmt.Errorf("read timeout config %s: %w", featureFile, err)
	}
	var f timeoutsFile
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse timeout config %s: %w", featureFile, err)
	}
	if f.Timeouts != nil {
		c.apply(*f.Timeouts)
	}
	return c, nil
}

func (c *TimeoutConfig) apply(v timeoutValues) {
	c.apiTimeout.Store(clampTimeout(v.APISeconds, DefaultAPITimeout))
	c.agentStartupTimeout.Store(clampTimeout(v.AgentStartupSeconds, DefaultAgentStartupTimeout))
	c.worktreeCreateTimeout.Store(clampTimeout(v.WorktreeCreateSeconds, DefaultWorktreeCreateTimeout))
	c.worktreeDeleteTimeout.Store(clampTimeout(v.WorktreeDeleteSeconds, DefaultWorktreeDeleteTimeout))
}

// APITimeout returns the general control-socket/HTTP API timeout.
func (c *TimeoutConfig) APITimeout() time.Duration {
	return time.Duration(c.apiTimeout.Load()) * time.Second
}

// AgentStartupTimeout returns the timeout allowed for a sandbox's agent
// to report its first output after create/start/wake.
func (c *TimeoutConfig) AgentStartupTimeout() time.Duration {
	return time.Duration(c.agentStartupTimeout.Load()) * time.Second
}

// WorktreeCreateTimeout returns the timeout for `git worktree add`.
func (c *TimeoutConfig) WorktreeCreateTimeout() time.Duration {
	return time.Duration(c.worktreeCreateTimeout.Load()) * time.Second
}

// WorktreeDeleteTimeout returns the timeout for `git worktree remove`.
func (c *TimeoutConfig) WorktreeDeleteTimeout() time.Duration {
	return time.Duration(c.worktreeDeleteTimeout.Load()) * time.Second
}

func clampTimeout(val, defaultVal int64) int64 {
	if val <= 0 {
		return defaultVal
	}
	return val
}
