package store

import "time"

// SessionStatus is the session's state-machine position.
type SessionStatus string

const (
	StatusCreating SessionStatus = "Creating"
	StatusRunning  SessionStatus = "Running"
	StatusIdle     SessionStatus = "Idle"
	StatusArchived SessionStatus = "Archived"
	StatusDeleting SessionStatus = "Deleting"
	StatusError    SessionStatus = "Error"
)

// Backend identifies the execution backend kind a session is bound to.
// Immutable after create.
type Backend string

const (
	BackendMultiplexer Backend = "Multiplexer"
	BackendContainer   Backend = "Container"
	BackendPod         Backend = "Pod"
	BackendMicroVM     Backend = "MicroVM"
)

// Agent identifies which coding-agent CLI runs inside the sandbox.
// Immutable after create.
type Agent string

const (
	AgentA Agent = "agent-A"
	AgentB Agent = "agent-B"
	AgentC Agent = "agent-C"
)

// AccessMode governs which HTTP methods the session's proxy forwards.
type AccessMode string

const (
	AccessModeReadOnly  AccessMode = "ReadOnly"
	AccessModeReadWrite AccessMode = "ReadWrite"
)

// ClaudeStatus reflects the agent's last reported activity, updated via
// the hook socket.
type ClaudeStatus string

const (
	ClaudeStatusUnknown         ClaudeStatus = "Unknown"
	ClaudeStatusWorking         ClaudeStatus = "Working"
	ClaudeStatusWaitingApproval ClaudeStatus = "WaitingApproval"
	ClaudeStatusWaitingInput    ClaudeStatus = "WaitingInput"
	ClaudeStatusIdle            ClaudeStatus = "Idle"
)

// SecondaryRepo is one entry of a multi-repo session's repository list.
type SecondaryRepo struct {
	MountName string `json:"mount_name"`
	Branch    string `json:"branch"`
	IsPrimary bool   `json:"is_primary"`
}

// Session is the root entity: one worktree + one sandbox + optional proxy.
type Session struct {
	ID           string
	Name         string
	Status       SessionStatus
	Backend      Backend
	Agent        Agent
	Model        *string
	RepoPath     string
	WorktreePath string
	Subdirectory *string
	BranchName   string
	Repositories []SecondaryRepo

	BackendID *string

	AccessMode AccessMode
	ProxyPort  *int

	PRURL           *string
	PRCheckStatus   *string
	PRReviewStatus  *string
	MergeStatus     *string

	ClaudeStatus ClaudeStatus

	WorktreeDirty         bool
	WorktreeChangedFiles  int
	MergeConflict         bool

	ReconcileAttempts  int
	LastReconcileError *string
	LastReconcileAt    *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Clone returns a deep-enough copy for safe handoff across goroutines.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Repositories = append([]SecondaryRepo(nil), s.Repositories...)
	return &c
}

// EventType enumerates every recognised session state transition.
type EventType string

const (
	EventSessionCreated     EventType = "SessionCreated"
	EventStatusChanged      EventType = "StatusChanged"
	EventBackendIDSet       EventType = "BackendIdSet"
	EventPRLinked           EventType = "PrLinked"
	EventSessionArchived    EventType = "SessionArchived"
	EventSessionUnarchived  EventType = "SessionUnarchived"
	EventSessionDeleted     EventType = "SessionDeleted"
	EventAccessModeChanged  EventType = "AccessModeChanged"
	EventProxyPortAllocated EventType = "ProxyPortAllocated"
	EventPTYExited          EventType = "PtyExited"
)

// Event is one immutable append-only log entry for a session.
type Event struct {
	SessionID   string
	Seq         int64
	Timestamp   time.Time
	Type        EventType
	PayloadJSON string
}

// RecentRepo is a recently-used (repo, subdirectory) pair, capped at 20
// entries globally and evicted strictly by oldest LastUsedAt.
type RecentRepo struct {
	CanonicalRepoPath string
	Subdirectory      string
	LastUsedAt        time.Time
}

const RecentReposCap = 20
