package controlsocket

import (
	"context"

	"github.com/shepherdjerred/clauderon/internal/store"
)

// dispatch executes one request, relaying every response (Progress
// lines plus the terminal response) through send.
func (s *Server) dispatch(ctx context.Context, req Request, send func(Response)) {
	switch req.Type {
	case "ListSessions":
		sessions, err := s.mgr.ListSessions()
		if err != nil {
			send(errorResponse(err))
			return
		}
		send(Response{Type: "Sessions", Sessions: ToSessionDTOs(sessions)})

	case "GetSession":
		sess, err := s.mgr.GetSession(req.ID)
		if err != nil {
			send(errorResponse(err))
			return
		}
		send(Response{Type: "Session", Session: ToSessionDTO(sess)})

	case "GetSessionIdByName":
		sess, err := s.mgr.GetSession(req.SessionName)
		if err != nil {
			send(errorResponse(err))
			return
		}
		send(Response{Type: "Session", ID: sess.ID})

	case "CreateSession":
		opts := ToCreateOptions(req)
		opts.OnProgress = func(step, total int, message string) {
			send(Response{Type: "Progress", Step: step, Total: total, Message: message})
		}
		result, err := s.mgr.CreateSession(ctx, opts)
		if err != nil {
			send(errorResponse(err))
			return
		}
		send(Response{Type: "Created", ID: result.Session.ID, Warnings: result.Warnings})

	case "DeleteSession":
		if err := s.mgr.DeleteSession(ctx, req.ID); err != nil {
			send(errorResponse(err))
			return
		}
		send(Response{Type: "Deleted"})

	case "ArchiveSession":
		if err := s.mgr.ArchiveSession(req.ID); err != nil {
			send(errorResponse(err))
			return
		}
		send(Response{Type: "Archived"})

	case "UnarchiveSession":
		if err := s.mgr.UnarchiveSession(req.ID); err != nil {
			send(errorResponse(err))
			return
		}
		send(Response{Type: "Unarchived"})

	case "RefreshSession":
		if _, err := s.mgr.RefreshSession(ctx, req.ID); err != nil {
			send(errorResponse(err))
			return
		}
		send(Response{Type: "Refreshed"})

	case "AttachSession":
		command, err := s.mgr.AttachSession(ctx, req.ID)
		if err != nil {
			send(errorResponse(err))
			return
		}
		send(Response{Type: "AttachReady", Command: command})

	case "Reconcile":
		report, err := s.mgr.Reconcile(ctx)
		if err != nil {
			send(errorResponse(err))
			return
		}
		send(Response{Type: "ReconcileReport", Report: report})

	case "UpdateAccessMode":
		if err := s.mgr.UpdateAccessMode(req.ID, store.AccessMode(req.AccessMode)); err != nil {
			send(errorResponse(err))
			return
		}
		send(Response{Type: "AccessModeUpdated"})

	case "Subscribe":
		// Event subscription is served over the HTTP /ws/events surface;
		// the control socket only acknowledges so CLI callers that poll
		// it for parity get a well-formed response instead of an error.
		send(Response{Type: "Subscribed"})

	case "GetRecentRepos":
		repos, err := s.repos.GetRecentRepos()
		if err != nil {
			send(errorResponse(err))
			return
		}
		send(Response{Type: "RecentRepos", RecentRepos: ToRecentRepoDTOs(repos)})

	case "SendPrompt":
		if err := s.mgr.SendPromptToSession(req.ID, req.Prompt); err != nil {
			send(errorResponse(err))
			return
		}
		send(Response{Type: "Ok"})

	case "GetFeatureFlags":
		send(Response{Type: "FeatureFlags", FeatureFlags: s.flags})

	case "GetHealth":
		result, err := s.mgr.GetHealth(ctx)
		if err != nil {
			send(errorResponse(err))
			return
		}
		send(Response{Type: "HealthCheckResult", Health: result})

	case "GetSessionHealth":
		report, err := s.mgr.GetSessionHealth(ctx, req.ID)
		if err != nil {
			send(errorResponse(err))
			return
		}
		send(Response{Type: "SessionHealth", Health: report})

	case "StartSession":
		if _, err := s.mgr.StartSession(ctx, req.ID); err != nil {
			send(errorResponse(err))
			return
		}
		send(Response{Type: "Started"})

	case "WakeSession":
		if _, err := s.mgr.WakeSession(ctx, req.ID); err != nil {
			send(errorResponse(err))
			return
		}
		send(Response{Type: "Woken"})

	case "RecreateSession":
		newID, err := s.mgr.RecreateSession(ctx, req.ID)
		if err != nil {
			send(errorResponse(err))
			return
		}
		send(Response{Type: "Recreated", NewBackendID: newID})

	case "RecreateSessionFresh":
		newID, err := s.mgr.RecreateSessionFresh(ctx, req.ID)
		if err != nil {
			send(errorResponse(err))
			return
		}
		send(Response{Type: "Recreated", NewBackendID: newID})

	case "CleanupSession":
		if err := s.mgr.CleanupSession(ctx, req.ID); err != nil {
			send(errorResponse(err))
			return
		}
		send(Response{Type: "CleanedUp"})

	case "UpdateSessionImage":
		newID, err := s.mgr.UpdateSessionImage(ctx, req.ID, req.ContainerImage)
		if err != nil {
			send(errorResponse(err))
			return
		}
		send(Response{Type: "Recreated", NewBackendID: newID})

	case "ReloadCredentials":
		if err := s.mgr.ReloadCredentials(); err != nil {
			send(errorResponse(err))
			return
		}
		send(Response{Type: "Ok"})

	case "MergePr":
		output, err := s.mgr.MergePullRequest(req.ID)
		if err != nil {
			send(errorResponse(err))
			return
		}
		send(Response{Type: "Ok", MergeOutput: output})

	default:
		send(Response{Type: "Error", Code: "INVALID_REQUEST", Message: "unknown request type: " + req.Type})
	}
}
