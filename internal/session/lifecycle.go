package session

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/shepherdjerred/clauderon/internal/backend"
	"github.com/shepherdjerred/clauderon/internal/clauderr"
	"github.com/shepherdjerred/clauderon/internal/gitutil"
	"github.com/shepherdjerred/clauderon/internal/httpproxy"
	"github.com/shepherdjerred/clauderon/internal/id"
	"github.com/shepherdjerred/clauderon/internal/store"
	"github.com/shepherdjerred/clauderon/internal/validate"
)

// portRequiredBackends need a session-scoped HTTP auth proxy; the
// Multiplexer backend runs on the host with no network boundary to
// intercept.
var portRequiredBackends = map[store.Backend]bool{
	store.BackendContainer: true,
	store.BackendPod:       true,
	store.BackendMicroVM:   true,
}

// CreateOptions is the closed set of fields a caller may specify when
// creating a session. Backend-specific fields are ignored by backends
// that don't use them.
type CreateOptions struct {
	Name         string
	RepoPath     string
	Subdirectory string
	BranchName   string
	StartPoint   string

	Backend store.Backend
	Agent   store.Agent
	Model   string

	PrintMode     bool
	PlanMode      bool
	InitialPrompt string
	AccessMode    store.AccessMode

	Images              []string
	DangerousSkipChecks bool
	DangerousCopyCreds  bool

	ContainerImage       string
	ContainerResources   *backend.ContainerResources
	Repositories         []backend.Repository
	StorageClassOverride string
	VolumeMode           backend.VolumeMode
	HTTPPort             int
	PullPolicy           backend.ImagePullPolicy
	AutoDestroy          bool

	// OnProgress, if set, is called synchronously as CreateSession
	// advances through its steps, so a streaming caller (the control
	// socket) can relay Progress messages before the terminal response.
	OnProgress func(step, total int, message string)
}

func (o CreateOptions) reportProgress(step, total int, message string) {
	if o.OnProgress != nil {
		o.OnProgress(step, total, message)
	}
}

// CreateResult is the outcome of a successful CreateSession call.
type CreateResult struct {
	Session  *store.Session
	Warnings []string
}

// CreateSession builds a worktree, reserves a proxy port if the
// backend needs one, spawns the per-session proxy, and asks the
// backend to create the sandbox. Any failure after the worktree step
// rolls back everything done so far.
func (m *Manager) CreateSession(ctx context.Context, opts CreateOptions) (*CreateResult, error) {
	if opts.RepoPath == "" && len(opts.Repositories) == 0 {
		return nil, clauderr.Validation("repo_path or repositories is required")
	}
	if opts.Name != "" {
		if err := validate.ValidateName(opts.Name); err != nil {
			return nil, clauderr.Validation("name: %v", err)
		}
	}
	if opts.RepoPath != "" {
		home, _ := os.UserHomeDir()
		clean := validate.SanitizePath(opts.RepoPath, home)
		if clean == "" {
			return nil, clauderr.Validation("repo_path must be an absolute path with no traversal components")
		}
		opts.RepoPath = clean
	}
	for i, r := range opts.Repositories {
		mount, err := validate.ValidateProperty(fmt.Sprintf("repositories[%d].mount_name", i), r.MountName)
		if err != nil {
			return nil, clauderr.Validation("%v", err)
		}
		opts.Repositories[i].MountName = mount
	}
	if opts.StorageClassOverride != "" {
		class, err := validate.SanitizeSlug("storage_class_override", opts.StorageClassOverride)
		if err != nil {
			return nil, clauderr.Validation("%v", err)
		}
		opts.StorageClassOverride = class
	}
	impl, err := m.backendFor(opts.Backend)
	if err != nil {
		return nil, err
	}

	name := opts.Name
	if name == "" {
		name = id.ShortName(filepath.Base(opts.RepoPath))
	}
	sessionID := uuid.NewString()
	branchName := opts.BranchName
	if branchName == "" {
		branchName = "clauderon/" + name
	}
	startPoint := opts.StartPoint
	if startPoint == "" {
		startPoint = "HEAD"
	}
	accessMode := opts.AccessMode
	if accessMode == "" {
		accessMode = store.AccessModeReadOnly
	}

	opts.reportProgress(1, 4, "allocating session identifiers")

	var warnings []string
	worktreePath := filepath.Join(m.worktreeDir, sessionID)

	if !impl.IsRemote() {
		opts.reportProgress(2, 4, "creating git worktree")
		warn, err := m.git.CreateWorktree(opts.RepoPath, worktreePath, branchName, startPoint)
		if err != nil {
			return nil, clauderr.ExternalTool(err, "create worktree for session %s", name)
		}
		if warn != nil {
			warnings = append(warnings, warn.Message)
		}
	}

	rollbackWorktree := func() {
		if !impl.IsRemote() {
			if err := m.git.DeleteWorktree(opts.RepoPath, worktreePath); err != nil {
				slog.Warn("create session: rollback worktree delete failed", "session_id", sessionID, "error", err)
			}
		}
	}

	var proxyPort int
	if portRequiredBackends[opts.Backend] {
		proxyPort, err = m.proxies.CreateSessionProxy(sessionID, httpproxy.AccessMode(accessMode))
		if err != nil {
			rollbackWorktree()
			return nil, clauderr.Proxy("create session proxy for %s: %v", name, err)
		}
	}

	rollbackProxy := func() {
		if proxyPort != 0 {
			m.proxies.DestroySessionProxy(sessionID, proxyPort)
		}
	}

	createOpts := backend.CreateOptions{
		Agent:                string(opts.Agent),
		Model:                opts.Model,
		PrintMode:            opts.PrintMode,
		PlanMode:             opts.PlanMode,
		SessionProxyPort:     proxyPort,
		Images:               opts.Images,
		DangerousSkipChecks:  opts.DangerousSkipChecks,
		DangerousCopyCreds:   opts.DangerousCopyCreds,
		SessionID:            sessionID,
		InitialWorkdir:       opts.Subdirectory,
		ContainerImage:       opts.ContainerImage,
		ContainerResources:   opts.ContainerResources,
		Repositories:         opts.Repositories,
		StorageClassOverride: opts.StorageClassOverride,
		VolumeMode:           opts.VolumeMode,
		HTTPPort:             opts.HTTPPort,
		PullPolicy:           opts.PullPolicy,
		AutoDestroy:          opts.AutoDestroy,
	}

	opts.reportProgress(3, 4, "creating execution sandbox")
	backendID, err := impl.Create(ctx, name, worktreePath, opts.InitialPrompt, createOpts)
	if err != nil {
		rollbackProxy()
		rollbackWorktree()
		return nil, clauderr.Backend(true, err, "create backend sandbox for %s", name)
	}

	opts.reportProgress(4, 4, "persisting session")
	now := time.Now()
	sess := &store.Session{
		ID:           sessionID,
		Name:         name,
		Status:       store.StatusRunning,
		Backend:      opts.Backend,
		Agent:        opts.Agent,
		RepoPath:     opts.RepoPath,
		WorktreePath: worktreePath,
		BranchName:   branchName,
		BackendID:    &backendID,
		AccessMode:   accessMode,
		ClaudeStatus: store.ClaudeStatusUnknown,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if opts.Model != "" {
		sess.Model = &opts.Model
	}
	if opts.Subdirectory != "" {
		sess.Subdirectory = &opts.Subdirectory
	}
	for _, r := range opts.Repositories {
		sess.Repositories = append(sess.Repositories, store.SecondaryRepo{
			MountName: r.MountName, Branch: r.Branch, IsPrimary: r.IsPrimary,
		})
	}
	if proxyPort != 0 {
		sess.ProxyPort = &proxyPort
	}

	if err := m.store.SaveSession(sess); err != nil {
		_ = impl.Delete(ctx, backendID)
		rollbackProxy()
		rollbackWorktree()
		return nil, clauderr.Storage(err, "persist session %s", name)
	}

	m.publish(sessionID, store.EventSessionCreated, map[string]any{"name": name, "backend": string(opts.Backend)})
	if proxyPort != 0 {
		m.publish(sessionID, store.EventProxyPortAllocated, map[string]any{"port": proxyPort})
	}
	m.publish(sessionID, store.EventBackendIDSet, map[string]any{"backend_id": backendID})

	if err := m.store.AddRecentRepo(canonicalizePath, opts.RepoPath, opts.Subdirectory); err != nil {
		slog.Warn("create session: failed to record recent repo", "error", err)
	}

	m.RefreshMetrics()
	return &CreateResult{Session: sess, Warnings: warnings}, nil
}

// DeleteSession destroys the backend sandbox, tears down the proxy,
// best-effort removes the worktree, and deletes the store row.
// Failures in any individual step are logged but never block the
// store row from being removed — the Manager prefers leaked external
// resources over an inconsistent database.
func (m *Manager) DeleteSession(ctx context.Context, idOrName string) error {
	sess, err := m.GetSession(idOrName)
	if err != nil {
		return err
	}
	return m.withSessionLock(sess.ID, func() error {
		return m.deleteLocked(ctx, sess)
	})
}

func (m *Manager) deleteLocked(ctx context.Context, sess *store.Session) error {
	if impl, err := m.backendFor(sess.Backend); err == nil && sess.BackendID != nil {
		if err := impl.Delete(ctx, *sess.BackendID); err != nil {
			slog.Warn("delete session: backend delete failed", "session_id", sess.ID, "error", err)
		}
	}

	if sess.ProxyPort != nil {
		m.proxies.DestroySessionProxy(sess.ID, *sess.ProxyPort)
	}

	if impl, err := m.backendFor(sess.Backend); err == nil && !impl.IsRemote() {
		if err := m.git.DeleteWorktree(sess.RepoPath, sess.WorktreePath); err != nil {
			slog.Warn("delete session: worktree delete failed", "session_id", sess.ID, "error", err)
		}
	}

	m.ptys.Detach(sess.ID)

	if err := m.store.DeleteSession(sess.ID); err != nil {
		return clauderr.Storage(err, "delete session %s", sess.ID)
	}
	m.publish(sess.ID, store.EventSessionDeleted, nil)
	m.RefreshMetrics()
	return nil
}

// ArchiveSession is a pure state transition: archived sessions are
// excluded from health monitoring and no longer shown by default.
func (m *Manager) ArchiveSession(idOrName string) error {
	sess, err := m.GetSession(idOrName)
	if err != nil {
		return err
	}
	return m.withSessionLock(sess.ID, func() error {
		if err := m.recordStatus(sess, store.StatusArchived); err != nil {
			return err
		}
		m.publish(sess.ID, store.EventSessionArchived, nil)
		return nil
	})
}

// UnarchiveSession reverses ArchiveSession, returning the session to
// Running.
func (m *Manager) UnarchiveSession(idOrName string) error {
	sess, err := m.GetSession(idOrName)
	if err != nil {
		return err
	}
	return m.withSessionLock(sess.ID, func() error {
		if err := m.recordStatus(sess, store.StatusRunning); err != nil {
			return err
		}
		m.publish(sess.ID, store.EventSessionUnarchived, nil)
		return nil
	})
}

// UpdateAccessMode persists the new mode, then updates the live
// proxy's mode cell (a no-op if no live proxy exists for the
// session — the DB update still applies).
func (m *Manager) UpdateAccessMode(idOrName string, mode store.AccessMode) error {
	sess, err := m.GetSession(idOrName)
	if err != nil {
		return err
	}
	return m.withSessionLock(sess.ID, func() error {
		sess.AccessMode = mode
		if err := m.store.SaveSession(sess); err != nil {
			return clauderr.Storage(err, "save session %s", sess.ID)
		}
		m.proxies.UpdateAccessMode(sess.ID, httpproxy.AccessMode(mode))
		m.publish(sess.ID, store.EventAccessModeChanged, map[string]any{"access_mode": string(mode)})
		return nil
	})
}

// SendPromptToSession streams prompt as keystrokes into the session's
// attached PTY, terminated by a newline so the agent submits it.
func (m *Manager) SendPromptToSession(idOrName, prompt string) error {
	sess, err := m.GetSession(idOrName)
	if err != nil {
		return err
	}
	ptySess, ok := m.ptys.Get(sess.ID)
	if !ok {
		return clauderr.Conflict("session %s has no attached PTY", sess.ID)
	}
	ptySess.InjectInput([]byte(prompt + "\n"))
	return nil
}

func canonicalizePath(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("canonicalize %s: %w", p, err)
	}
	return abs, nil
}
