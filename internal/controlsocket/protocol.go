// Package controlsocket implements the daemon's primary control
// surface: a Unix domain socket at a well-known per-user path,
// speaking newline-delimited JSON. Every line in is one request, every
// line out is one response; CreateSession may emit several Progress
// responses before its terminal Created or Error.
package controlsocket

// Request is the tagged union of every control-socket request. Only
// the fields relevant to Type are read; the others are ignored.
type Request struct {
	Type string `json:"type"`

	// Addressing (GetSession, DeleteSession, ArchiveSession, ...).
	ID string `json:"id,omitempty"`

	// CreateSession.
	Name                 string                       `json:"name,omitempty"`
	RepoPath             string                       `json:"repo_path,omitempty"`
	Subdirectory         string                       `json:"subdirectory,omitempty"`
	BranchName           string                       `json:"branch_name,omitempty"`
	StartPoint           string                       `json:"start_point,omitempty"`
	Backend              string                       `json:"backend,omitempty"`
	Agent                string                       `json:"agent,omitempty"`
	Model                string                       `json:"model,omitempty"`
	PrintMode            bool                         `json:"print_mode,omitempty"`
	PlanMode             bool                         `json:"plan_mode,omitempty"`
	InitialPrompt        string                       `json:"initial_prompt,omitempty"`
	AccessMode           string                       `json:"access_mode,omitempty"`
	Images               []string                     `json:"images,omitempty"`
	DangerousSkipChecks  bool                         `json:"dangerous_skip_checks,omitempty"`
	DangerousCopyCreds   bool                         `json:"dangerous_copy_creds,omitempty"`
	ContainerImage       string                       `json:"container_image,omitempty"`
	ContainerResources   *ContainerResourcesRequest   `json:"container_resources,omitempty"`
	Repositories         []RepositoryRequest          `json:"repositories,omitempty"`
	StorageClassOverride string                       `json:"storage_class_override,omitempty"`
	VolumeMode           string                       `json:"volume_mode,omitempty"`
	HTTPPort             int                          `json:"http_port,omitempty"`
	PullPolicy           string                       `json:"pull_policy,omitempty"`
	AutoDestroy          bool                         `json:"auto_destroy,omitempty"`

	// GetSessionIdByName.
	SessionName string `json:"session_name,omitempty"`

	// SendPrompt.
	Prompt string `json:"prompt,omitempty"`

	// UpdateSessionImage reuses ContainerImage.
	// MergePr reuses ID.
}

// RepositoryRequest is the wire representation of one repository to
// mount or clone into a sandbox, per CreateOptions' Repositories field.
type RepositoryRequest struct {
	CanonicalPath string `json:"canonical_path"`
	MountName     string `json:"mount_name"`
	Branch        string `json:"branch,omitempty"`
	IsPrimary     bool   `json:"is_primary,omitempty"`
}

// ContainerResourcesRequest is the wire representation of a normalized
// cpu/memory request for Container and Pod backends.
type ContainerResourcesRequest struct {
	CPUMillis int64 `json:"cpu_millis,omitempty"`
	MemoryMB  int64 `json:"memory_mb,omitempty"`
}

// Response is the tagged union of every control-socket response.
type Response struct {
	Type string `json:"type"`

	Sessions    []SessionDTO `json:"sessions,omitempty"`
	Session     *SessionDTO  `json:"session,omitempty"`
	ID          string       `json:"id,omitempty"`
	Warnings    []string     `json:"warnings,omitempty"`
	Step        int          `json:"step,omitempty"`
	Total       int          `json:"total,omitempty"`
	Message     string       `json:"message,omitempty"`
	Command     []string     `json:"command,omitempty"`
	Code        string       `json:"code,omitempty"`
	FeatureFlags any         `json:"feature_flags,omitempty"`
	Health      any          `json:"health,omitempty"`
	RecentRepos []RecentRepoDTO `json:"recent_repos,omitempty"`
	Reason      string       `json:"reason,omitempty"`
	NewBackendID string      `json:"new_backend_id,omitempty"`
	MergeOutput string       `json:"merge_output,omitempty"`
	Report      any          `json:"report,omitempty"`
}

// SessionDTO is the wire representation of a store.Session.
type SessionDTO struct {
	ID                   string  `json:"id"`
	Name                 string  `json:"name"`
	Status               string  `json:"status"`
	Backend              string  `json:"backend"`
	Agent                string  `json:"agent"`
	Model                *string `json:"model,omitempty"`
	RepoPath             string  `json:"repo_path"`
	WorktreePath         string  `json:"worktree_path"`
	Subdirectory         *string `json:"subdirectory,omitempty"`
	BranchName           string  `json:"branch_name"`
	BackendID            *string `json:"backend_id,omitempty"`
	AccessMode           string  `json:"access_mode"`
	ProxyPort            *int    `json:"proxy_port,omitempty"`
	PRURL                *string `json:"pr_url,omitempty"`
	PRCheckStatus        *string `json:"pr_check_status,omitempty"`
	PRReviewStatus       *string `json:"pr_review_status,omitempty"`
	MergeStatus          *string `json:"merge_status,omitempty"`
	ClaudeStatus         string  `json:"claude_status"`
	WorktreeDirty        bool    `json:"worktree_dirty"`
	WorktreeChangedFiles int     `json:"worktree_changed_files"`
	MergeConflict        bool    `json:"merge_conflict"`
	CreatedAt            string  `json:"created_at"`
	UpdatedAt            string  `json:"updated_at"`
}

// RecentRepoDTO is the wire representation of a store.RecentRepo.
type RecentRepoDTO struct {
	RepoPath     string `json:"repo_path"`
	Subdirectory string `json:"subdirectory"`
	LastUsedAt   string `json:"last_used_at"`
}
