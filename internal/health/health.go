// Package health compares a Session's expected state (the database
// row) against its actual state (the backend's live check) and
// produces a report describing what, if anything, the user can do
// about any discrepancy.
package health

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shepherdjerred/clauderon/internal/backend"
	"github.com/shepherdjerred/clauderon/internal/store"
)

// State is the normalized health state of a session, independent of
// its backend's native vocabulary.
type State string

const (
	StateHealthy           State = "Healthy"
	StateStopped           State = "Stopped"
	StateHibernated        State = "Hibernated"
	StatePending           State = "Pending"
	StateMissing           State = "Missing"
	StateError             State = "Error"
	StateCrashLoop         State = "CrashLoop"
	StateDeletedExternally State = "DeletedExternally"
	StateDataLost          State = "DataLost"
	StateWorktreeMissing   State = "WorktreeMissing"
)

// Action is a remediation a user can take from a health report.
type Action string

const (
	ActionStart         Action = "Start"
	ActionWake          Action = "Wake"
	ActionRecreate      Action = "Recreate"
	ActionRecreateFresh Action = "RecreateFresh"
	ActionUpdateImage   Action = "UpdateImage"
	ActionCleanup       Action = "Cleanup"
)

// Report is the health verdict for one session.
type Report struct {
	SessionID         string
	SessionName       string
	Backend           store.Backend
	State             State
	ErrorMessage      string
	AvailableActions  []Action
	RecommendedAction *Action
	DataSafe          bool
	Description       string
	Details           string
}

// WorktreeChecker reports whether a worktree path exists, isolated
// behind an interface so the health service doesn't need to know
// about Git internals.
type WorktreeChecker interface {
	WorktreeExists(path string) bool
}

// Service computes health reports by consulting the backend
// registered for each session's store.Backend kind.
type Service struct {
	git      WorktreeChecker
	backends map[store.Backend]backend.ExecutionBackend
}

// NewService wires a health Service to a worktree checker and the set
// of execution backends the daemon has configured.
func NewService(git WorktreeChecker, backends map[store.Backend]backend.ExecutionBackend) *Service {
	return &Service{git: git, backends: backends}
}

func (s *Service) backendFor(b store.Backend) (backend.ExecutionBackend, error) {
	impl, ok := s.backends[b]
	if !ok {
		return nil, fmt.Errorf("no execution backend configured for %q", b)
	}
	return impl, nil
}

// CheckSession computes the health report for a single session.
// Archived sessions are always reported Healthy regardless of backend
// state, matching the product rule that archival suspends monitoring.
func (s *Service) CheckSession(ctx context.Context, sess *store.Session) Report {
	if sess.Status == store.StatusArchived {
		return s.healthyReport(sess)
	}

	impl, err := s.backendFor(sess.Backend)
	if err != nil {
		return Report{
			SessionID: sess.ID, SessionName: sess.Name, Backend: sess.Backend,
			State: StateError, ErrorMessage: err.Error(),
			Description: "No execution backend is configured for this session's backend kind.",
			DataSafe:    true,
		}
	}

	if !impl.IsRemote() && !s.git.WorktreeExists(sess.WorktreePath) {
		return s.worktreeMissingReport(sess)
	}

	if sess.BackendID == nil {
		return s.missingReport(sess, impl, "No backend resource created yet")
	}

	h, err := impl.CheckHealth(ctx, *sess.BackendID)
	if err != nil {
		slog.Warn("health check failed", "session_id", sess.ID, "backend_id", *sess.BackendID, "error", err)
		recreate := ActionRecreate
		return Report{
			SessionID: sess.ID, SessionName: sess.Name, Backend: sess.Backend,
			State:             StateError,
			ErrorMessage:      fmt.Sprintf("Failed to check health: %v", err),
			AvailableActions:  []Action{ActionRecreate},
			RecommendedAction: &recreate,
			Description:       "Could not determine backend status.",
			Details:           fmt.Sprintf("Health check error: %v", err),
			DataSafe:          true,
		}
	}

	return s.reportFromHealth(sess, impl, h)
}

func (s *Service) healthyReport(sess *store.Session) Report {
	return Report{
		SessionID: sess.ID, SessionName: sess.Name, Backend: sess.Backend,
		State: StateHealthy, DataSafe: true,
		Description: "Session is archived.",
	}
}

func (s *Service) worktreeMissingReport(sess *store.Session) Report {
	cleanup := ActionCleanup
	return Report{
		SessionID: sess.ID, SessionName: sess.Name, Backend: sess.Backend,
		State:             StateWorktreeMissing,
		AvailableActions:  []Action{ActionCleanup},
		RecommendedAction: &cleanup,
		Description:       "The git worktree was deleted.",
		Details:           fmt.Sprintf("The worktree at %s no longer exists. The session should be cleaned up.", sess.WorktreePath),
		DataSafe:          false,
	}
}

func (s *Service) missingReport(sess *store.Session, impl backend.ExecutionBackend, reason string) Report {
	caps := impl.Capabilities()
	actions := []Action{}
	var recommended *Action
	if caps.CanRecreate && caps.PreservesDataOnRecreate {
		r := ActionRecreate
		actions = append(actions, r)
		recommended = &r
	}
	cleanup := ActionCleanup
	actions = append(actions, cleanup)
	if recommended == nil {
		recommended = &cleanup
	}

	return Report{
		SessionID: sess.ID, SessionName: sess.Name, Backend: sess.Backend,
		State:             StateMissing,
		AvailableActions:  actions,
		RecommendedAction: recommended,
		Description:       fmt.Sprintf("Backend resource missing: %s", reason),
		Details:           caps.DataPreservationDescription,
		DataSafe:          caps.PreservesDataOnRecreate,
	}
}

func (s *Service) reportFromHealth(sess *store.Session, impl backend.ExecutionBackend, h backend.Health) Report {
	caps := impl.Capabilities()
	base := Report{SessionID: sess.ID, SessionName: sess.Name, Backend: sess.Backend}

	switch h.State {
	case backend.HealthRunning:
		var actions []Action
		if caps.CanRecreate {
			actions = append(actions, ActionRecreate)
		}
		if caps.CanUpdateImage {
			actions = append(actions, ActionUpdateImage)
		}
		base.State = StateHealthy
		base.AvailableActions = actions
		base.Description = "Session is running normally."
		base.Details = caps.DataPreservationDescription
		base.DataSafe = true
		return base

	case backend.HealthStopped:
		var actions []Action
		if caps.CanStart {
			actions = append(actions, ActionStart)
		}
		if caps.CanRecreate {
			actions = append(actions, ActionRecreate)
		}
		base.State = StateStopped
		base.AvailableActions = actions
		if len(actions) > 0 {
			base.RecommendedAction = &actions[0]
		}
		base.Description = "The container/resource is stopped."
		base.Details = fmt.Sprintf("%s\n\nYou can start it again or recreate it.", caps.DataPreservationDescription)
		base.DataSafe = caps.PreservesDataOnRecreate
		return base

	case backend.HealthHibernated:
		var actions []Action
		if caps.CanWake {
			actions = append(actions, ActionWake)
		}
		if caps.CanRecreate {
			actions = append(actions, ActionRecreate)
		}
		base.State = StateHibernated
		base.AvailableActions = actions
		if len(actions) > 0 {
			base.RecommendedAction = &actions[0]
		}
		base.Description = "The sandbox is hibernated."
		base.Details = fmt.Sprintf("%s\n\nWaking will restore it to its previous state.", caps.DataPreservationDescription)
		base.DataSafe = caps.PreservesDataOnRecreate
		return base

	case backend.HealthPending:
		base.State = StatePending
		base.Description = "The resource is starting up."
		base.Details = "Please wait for the resource to become ready."
		base.DataSafe = true
		return base

	case backend.HealthError:
		actions := []Action{}
		if caps.CanRecreate {
			actions = append(actions, ActionRecreate)
		}
		actions = append(actions, ActionCleanup)
		recreate := ActionRecreate
		base.State = StateError
		base.ErrorMessage = h.Message
		base.AvailableActions = actions
		base.RecommendedAction = &recreate
		base.Description = fmt.Sprintf("The resource is in an error state: %s", h.Message)
		base.Details = caps.DataPreservationDescription
		base.DataSafe = caps.PreservesDataOnRecreate
		return base

	case backend.HealthCrashLoop:
		actions := []Action{}
		if caps.CanRecreate {
			actions = append(actions, ActionRecreate)
		}
		actions = append(actions, ActionCleanup)
		recreate := ActionRecreate
		base.State = StateCrashLoop
		base.AvailableActions = actions
		base.RecommendedAction = &recreate
		base.Description = "The pod is in a crash loop."
		base.Details = fmt.Sprintf("%s\n\nThe container keeps crashing and restarting. Recreation may fix the issue.", caps.DataPreservationDescription)
		base.DataSafe = caps.PreservesDataOnRecreate
		return base

	case backend.HealthNotFound:
		if caps.PreservesDataOnRecreate {
			recreate := ActionRecreate
			base.State = StateMissing
			base.AvailableActions = []Action{ActionRecreate, ActionCleanup}
			base.RecommendedAction = &recreate
			base.Description = "The backend resource is missing."
			base.Details = fmt.Sprintf("%s\n\nThe container/pod was deleted but your data is preserved.", caps.DataPreservationDescription)
			base.DataSafe = true
			return base
		}
		cleanup := ActionCleanup
		base.State = StateDeletedExternally
		base.AvailableActions = []Action{ActionCleanup, ActionRecreateFresh}
		base.RecommendedAction = &cleanup
		base.Description = "The resource was deleted externally."
		base.Details = "The backend resource was deleted outside clauderon. Any uncommitted work and conversation history has been lost."
		base.DataSafe = false
		return base

	default:
		base.State = StateError
		base.ErrorMessage = fmt.Sprintf("unrecognized backend health state: %q", h.State)
		base.DataSafe = true
		return base
	}
}

// IsRecreateBlocked returns a human reason the Recreate action is
// unavailable for sess's backend, or "" if it is allowed.
func (s *Service) IsRecreateBlocked(sess *store.Session) string {
	impl, err := s.backendFor(sess.Backend)
	if err != nil {
		return err.Error()
	}
	caps := impl.Capabilities()
	if !caps.CanRecreate {
		return fmt.Sprintf("Recreation is not supported for this backend. %s", caps.DataPreservationDescription)
	}
	return ""
}

// AggregateResult summarizes a batch of reports: the total healthy
// count, those needing attention (anything not Healthy), and those
// additionally blocked (needing attention with no available action).
type AggregateResult struct {
	Reports         []Report
	Healthy         int
	NeedsAttention  int
	Blocked         int
	ByState         map[State]int
}

// CheckAll runs CheckSession over every session not currently being
// created or deleted, and aggregates the results.
func (s *Service) CheckAll(ctx context.Context, sessions []*store.Session) AggregateResult {
	result := AggregateResult{ByState: make(map[State]int)}

	for _, sess := range sessions {
		if sess.Status == store.StatusCreating || sess.Status == store.StatusDeleting {
			continue
		}
		report := s.CheckSession(ctx, sess)
		result.Reports = append(result.Reports, report)
		result.ByState[report.State]++

		if report.State == StateHealthy {
			result.Healthy++
			continue
		}
		result.NeedsAttention++
		if len(report.AvailableActions) == 0 {
			result.Blocked++
		}
	}

	return result
}
