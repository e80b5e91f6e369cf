package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/shepherdjerred/clauderon/internal/clauderr"
	"github.com/shepherdjerred/clauderon/internal/controlsocket"
	"github.com/shepherdjerred/clauderon/internal/store"
)

func (s *Server) registerREST(mux *http.ServeMux) {
	mux.HandleFunc("GET /sessions", s.handleListSessions)
	mux.HandleFunc("POST /sessions", s.handleCreateSession)
	mux.HandleFunc("GET /sessions/{id}", s.handleGetSession)
	mux.HandleFunc("DELETE /sessions/{id}", s.handleDeleteSession)
	mux.HandleFunc("POST /sessions/{id}/archive", s.handleArchiveSession)
	mux.HandleFunc("POST /sessions/{id}/unarchive", s.handleUnarchiveSession)
	mux.HandleFunc("POST /sessions/{id}/refresh", s.handleRefreshSession)
	mux.HandleFunc("POST /sessions/{id}/attach", s.handleAttachSession)
	mux.HandleFunc("POST /sessions/{id}/access-mode", s.handleUpdateAccessMode)
	mux.HandleFunc("POST /sessions/{id}/prompt", s.handleSendPrompt)
	mux.HandleFunc("POST /sessions/{id}/start", s.handleStartSession)
	mux.HandleFunc("POST /sessions/{id}/wake", s.handleWakeSession)
	mux.HandleFunc("POST /sessions/{id}/recreate", s.handleRecreateSession)
	mux.HandleFunc("POST /sessions/{id}/recreate-fresh", s.handleRecreateSessionFresh)
	mux.HandleFunc("POST /sessions/{id}/cleanup", s.handleCleanupSession)
	mux.HandleFunc("POST /sessions/{id}/merge", s.handleMergePR)
	mux.HandleFunc("GET /sessions/{id}/health", s.handleGetSessionHealth)
	mux.HandleFunc("POST /reconcile", s.handleReconcile)
	mux.HandleFunc("GET /health", s.handleGetHealth)
	mux.HandleFunc("GET /recent-repos", s.handleGetRecentRepos)
	mux.HandleFunc("GET /feature-flags", s.handleGetFeatureFlags)
	mux.HandleFunc("POST /credentials/reload", s.handleReloadCredentials)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError maps a clauderr.Error to its HTTP status per the spec's
// error-handling design: NOT_FOUND -> 404, VALIDATION_ERROR (an invalid
// request) -> 400, everything else -> 500 with body.
func writeError(w http.ResponseWriter, err error) {
	e, ok := clauderr.As(err)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"code": string(clauderr.KindStorage), "message": err.Error()})
		return
	}
	writeJSON(w, clauderr.HTTPStatus(e.Kind), map[string]string{"code": string(e.Kind), "message": e.Error()})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.mgr.ListSessions()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, controlsocket.ToSessionDTOs(sessions))
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req controlsocket.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, clauderr.Validation("malformed request body: %v", err))
		return
	}
	opts := controlsocket.ToCreateOptions(req)
	result, err := s.mgr.CreateSession(r.Context(), opts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, controlsocket.ToSessionDTO(result.Session))
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.mgr.GetSession(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, controlsocket.ToSessionDTO(sess))
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.mgr.DeleteSession(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleArchiveSession(w http.ResponseWriter, r *http.Request) {
	if err := s.mgr.ArchiveSession(r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUnarchiveSession(w http.ResponseWriter, r *http.Request) {
	if err := s.mgr.UnarchiveSession(r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRefreshSession(w http.ResponseWriter, r *http.Request) {
	newID, err := s.mgr.RefreshSession(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"new_backend_id": newID})
}

func (s *Server) handleAttachSession(w http.ResponseWriter, r *http.Request) {
	command, err := s.mgr.AttachSession(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"command": command})
}

func (s *Server) handleUpdateAccessMode(w http.ResponseWriter, r *http.Request) {
	var body struct {
		AccessMode string `json:"access_mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, clauderr.Validation("malformed request body: %v", err))
		return
	}
	if err := s.mgr.UpdateAccessMode(r.PathValue("id"), store.AccessMode(body.AccessMode)); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSendPrompt(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Prompt string `json:"prompt"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, clauderr.Validation("malformed request body: %v", err))
		return
	}
	if err := s.mgr.SendPromptToSession(r.PathValue("id"), body.Prompt); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	newID, err := s.mgr.StartSession(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"new_backend_id": newID})
}

func (s *Server) handleWakeSession(w http.ResponseWriter, r *http.Request) {
	newID, err := s.mgr.WakeSession(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"new_backend_id": newID})
}

func (s *Server) handleRecreateSession(w http.ResponseWriter, r *http.Request) {
	newID, err := s.mgr.RecreateSession(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"new_backend_id": newID})
}

func (s *Server) handleRecreateSessionFresh(w http.ResponseWriter, r *http.Request) {
	newID, err := s.mgr.RecreateSessionFresh(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"new_backend_id": newID})
}

func (s *Server) handleCleanupSession(w http.ResponseWriter, r *http.Request) {
	if err := s.mgr.CleanupSession(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMergePR(w http.ResponseWriter, r *http.Request) {
	output, err := s.mgr.MergePullRequest(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"merge_output": output})
}

func (s *Server) handleGetSessionHealth(w http.ResponseWriter, r *http.Request) {
	report, err := s.mgr.GetSessionHealth(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	report, err := s.mgr.Reconcile(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleGetHealth(w http.ResponseWriter, r *http.Request) {
	result, err := s.mgr.GetHealth(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetRecentRepos(w http.ResponseWriter, r *http.Request) {
	repos, err := s.repos.GetRecentRepos()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, controlsocket.ToRecentRepoDTOs(repos))
}

func (s *Server) handleGetFeatureFlags(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.flags)
}

func (s *Server) handleReloadCredentials(w http.ResponseWriter, r *http.Request) {
	if err := s.mgr.ReloadCredentials(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
