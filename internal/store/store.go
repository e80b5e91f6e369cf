package store

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/shepherdjerred/clauderon/internal/clauderr"
)

// Store is the durable entity persistence + append-only event log backing
// the Session Manager. One Store wraps one *sql.DB; writes serialize
// through the single-connection pool configured by Open.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store { return &Store{db: db} }

func nullableString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func nullableInt(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}

func intPtr(ni sql.NullInt64) *int {
	if !ni.Valid {
		return nil
	}
	v := int(ni.Int64)
	return &v
}

func timeStr(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) (time.Time, error) { return time.Parse(time.RFC3339Nano, s) }

// SaveSession upserts a session by id. Timestamps are set by the caller.
func (st *Store) SaveSession(s *Session) error {
	reposJSON, err := json.Marshal(s.Repositories)
	if err != nil {
		return clauderr.Storage(err, "marshal repositories")
	}

	var lastReconcileAt sql.NullString
	if s.LastReconcileAt != nil {
		lastReconcileAt = sql.NullString{String: timeStr(*s.LastReconcileAt), Valid: true}
	}

	_, err = st.db.Exec(`
		INSERT INTO sessions (
			id, name, status, backend, agent, model, repo_path, worktree_path,
			subdirectory, branch_name, repositories_json, backend_id, access_mode,
			proxy_port, pr_url, pr_check_status, pr_review_status, merge_status,
			claude_status, worktree_dirty, worktree_changed_files, merge_conflict,
			reconcile_attempts, last_reconcile_error, last_reconcile_at,
			created_at, updated_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			name=excluded.name, status=excluded.status, backend=excluded.backend,
			agent=excluded.agent, model=excluded.model, repo_path=excluded.repo_path,
			worktree_path=excluded.worktree_path, subdirectory=excluded.subdirectory,
			branch_name=excluded.branch_name, repositories_json=excluded.repositories_json,
			backend_id=excluded.backend_id, access_mode=excluded.access_mode,
			proxy_port=excluded.proxy_port, pr_url=excluded.pr_url,
			pr_check_status=excluded.pr_check_status, pr_review_status=excluded.pr_review_status,
			merge_status=excluded.merge_status, claude_status=excluded.claude_status,
			worktree_dirty=excluded.worktree_dirty,
			worktree_changed_files=excluded.worktree_changed_files,
			merge_conflict=excluded.merge_conflict,
			reconcile_attempts=excluded.reconcile_attempts,
			last_reconcile_error=excluded.last_reconcile_error,
			last_reconcile_at=excluded.last_reconcile_at,
			updated_at=excluded.updated_at
	`,
		s.ID, s.Name, s.Status, s.Backend, s.Agent, nullableString(s.Model),
		s.RepoPath, s.WorktreePath, nullableString(s.Subdirectory), s.BranchName,
		string(reposJSON), nullableString(s.BackendID), s.AccessMode,
		nullableInt(s.ProxyPort), nullableString(s.PRURL), nullableString(s.PRCheckStatus),
		nullableString(s.PRReviewStatus), nullableString(s.MergeStatus), s.ClaudeStatus,
		s.WorktreeDirty, s.WorktreeChangedFiles, s.MergeConflict, s.ReconcileAttempts,
		nullableString(s.LastReconcileError), lastReconcileAt,
		timeStr(s.CreatedAt), timeStr(s.UpdatedAt),
	)
	if err != nil {
		return clauderr.Storage(err, "save session %s", s.ID)
	}
	return nil
}

const sessionColumns = `
	id, name, status, backend, agent, model, repo_path, worktree_path,
	subdirectory, branch_name, repositories_json, backend_id, access_mode,
	proxy_port, pr_url, pr_check_status, pr_review_status, merge_status,
	claude_status, worktree_dirty, worktree_changed_files, merge_conflict,
	reconcile_attempts, last_reconcile_error, last_reconcile_at,
	created_at, updated_at`

func scanSession(row interface{ Scan(...any) error }) (*Session, error) {
	var s Session
	var model, subdir, backendID, prURL, prCheck, prReview, mergeStatus sql.NullString
	var lastReconcileErr, lastReconcileAt sql.NullString
	var proxyPort sql.NullInt64
	var reposJSON string
	var createdAt, updatedAt string

	err := row.Scan(
		&s.ID, &s.Name, &s.Status, &s.Backend, &s.Agent, &model, &s.RepoPath, &s.WorktreePath,
		&subdir, &s.BranchName, &reposJSON, &backendID, &s.AccessMode,
		&proxyPort, &prURL, &prCheck, &prReview, &mergeStatus,
		&s.ClaudeStatus, &s.WorktreeDirty, &s.WorktreeChangedFiles, &s.MergeConflict,
		&s.ReconcileAttempts, &lastReconcileErr, &lastReconcileAt,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	s.Model = stringPtr(model)
	s.Subdirectory = stringPtr(subdir)
	s.BackendID = stringPtr(backendID)
	s.PRURL = stringPtr(prURL)
	s.PRCheckStatus = stringPtr(prCheck)
	s.PRReviewStatus = stringPtr(prReview)
	s.MergeStatus = stringPtr(mergeStatus)
	s.ProxyPort = intPtr(proxyPort)
	s.LastReconcileError = stringPtr(lastReconcileErr)

	if lastReconcileAt.Valid {
		t, err := parseTime(lastReconcileAt.String)
		if err == nil {
			s.LastReconcileAt = &t
		}
	}

	if err := json.Unmarshal([]byte(reposJSON), &s.Repositories); err != nil {
		s.Repositories = nil
	}

	if t, err := parseTime(createdAt); err == nil {
		s.CreatedAt = t
	}
	if t, err := parseTime(updatedAt); err == nil {
		s.UpdatedAt = t
	}

	return &s, nil
}

// GetSession returns the session by id, or a clauderr NotFound error.
func (st *Store) GetSession(id string) (*Session, error) {
	row := st.db.QueryRow("SELECT "+sessionColumns+" FROM sessions WHERE id = ?", id)
	s, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, clauderr.NotFound("session %s not found", id)
	}
	if err != nil {
		return nil, clauderr.Storage(err, "get session %s", id)
	}
	return s, nil
}

// GetSessionByName returns the session with the given unique name.
func (st *Store) GetSessionByName(name string) (*Session, error) {
	row := st.db.QueryRow("SELECT "+sessionColumns+" FROM sessions WHERE name = ?", name)
	s, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, clauderr.NotFound("session named %q not found", name)
	}
	if err != nil {
		return nil, clauderr.Storage(err, "get session by name %s", name)
	}
	return s, nil
}

// ListSessions returns every persisted session, ordered by creation time.
func (st *Store) ListSessions() ([]*Session, error) {
	rows, err := st.db.Query("SELECT " + sessionColumns + " FROM sessions ORDER BY created_at ASC")
	if err != nil {
		return nil, clauderr.Storage(err, "list sessions")
	}
	defer rows.Close()

	var out []*Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, clauderr.Storage(err, "scan session row")
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// DeleteSession removes the session row. The event log for this id is
// retained for audit purposes.
func (st *Store) DeleteSession(id string) error {
	_, err := st.db.Exec("DELETE FROM sessions WHERE id = ?", id)
	if err != nil {
		return clauderr.Storage(err, "delete session %s", id)
	}
	return nil
}

// RecordEvent appends an event with a monotonically increasing per-session
// sequence number.
func (st *Store) RecordEvent(sessionID string, eventType EventType, payload any) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return clauderr.Storage(err, "marshal event payload")
	}

	tx, err := st.db.Begin()
	if err != nil {
		return clauderr.Storage(err, "begin event tx")
	}
	defer tx.Rollback()

	var maxSeq sql.NullInt64
	if err := tx.QueryRow("SELECT MAX(seq) FROM events WHERE session_id = ?", sessionID).Scan(&maxSeq); err != nil {
		return clauderr.Storage(err, "query max seq for session %s", sessionID)
	}
	nextSeq := int64(1)
	if maxSeq.Valid {
		nextSeq = maxSeq.Int64 + 1
	}

	_, err = tx.Exec(
		"INSERT INTO events (session_id, seq, timestamp, type, payload_json) VALUES (?,?,?,?,?)",
		sessionID, nextSeq, timeStr(time.Now()), string(eventType), string(payloadJSON),
	)
	if err != nil {
		return clauderr.Storage(err, "insert event for session %s", sessionID)
	}

	return tx.Commit()
}

// GetEvents returns every event for a session, ordered by seq ascending.
func (st *Store) GetEvents(sessionID string) ([]Event, error) {
	rows, err := st.db.Query(
		"SELECT session_id, seq, timestamp, type, payload_json FROM events WHERE session_id = ? ORDER BY seq ASC",
		sessionID,
	)
	if err != nil {
		return nil, clauderr.Storage(err, "get events for session %s", sessionID)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// GetAllEvents returns every event in the log, ordered by session then seq.
func (st *Store) GetAllEvents() ([]Event, error) {
	rows, err := st.db.Query(
		"SELECT session_id, seq, timestamp, type, payload_json FROM events ORDER BY session_id ASC, seq ASC",
	)
	if err != nil {
		return nil, clauderr.Storage(err, "get all events")
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]Event, error) {
	var out []Event
	for rows.Next() {
		var e Event
		var ts, typ string
		if err := rows.Scan(&e.SessionID, &e.Seq, &ts, &typ, &e.PayloadJSON); err != nil {
			return nil, clauderr.Storage(err, "scan event row")
		}
		e.Type = EventType(typ)
		if t, err := parseTime(ts); err == nil {
			e.Timestamp = t
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// AddRecentRepo canonicalises the repo path (the subdirectory is stored
// as given, not canonicalised) then upserts, updating
// last_used_at, then trims to RecentReposCap by oldest last_used_at.
// If canonicalisation fails (path absent), the entry is dropped silently.
func (st *Store) AddRecentRepo(canonicalize func(string) (string, error), repoPath, subdirectory string) error {
	canonical, err := canonicalize(repoPath)
	if err != nil {
		return nil // dropped silently, per contract
	}

	tx, err := st.db.Begin()
	if err != nil {
		return clauderr.Storage(err, "begin recent repo tx")
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO recent_repos (canonical_repo_path, subdirectory, last_used_at)
		VALUES (?,?,?)
		ON CONFLICT(canonical_repo_path, subdirectory) DO UPDATE SET last_used_at=excluded.last_used_at
	`, canonical, subdirectory, timeStr(time.Now()))
	if err != nil {
		return clauderr.Storage(err, "upsert recent repo")
	}

	_, err = tx.Exec(`
		DELETE FROM recent_repos WHERE (canonical_repo_path, subdirectory) NOT IN (
			SELECT canonical_repo_path, subdirectory FROM recent_repos
			ORDER BY last_used_at DESC LIMIT ?
		)
	`, RecentReposCap)
	if err != nil {
		return clauderr.Storage(err, "trim recent repos")
	}

	return tx.Commit()
}

// GetRecentRepos returns up to RecentReposCap entries, most recent first.
func (st *Store) GetRecentRepos() ([]RecentRepo, error) {
	rows, err := st.db.Query(
		"SELECT canonical_repo_path, subdirectory, last_used_at FROM recent_repos ORDER BY last_used_at DESC LIMIT ?",
		RecentReposCap,
	)
	if err != nil {
		return nil, clauderr.Storage(err, "get recent repos")
	}
	defer rows.Close()

	var out []RecentRepo
	for rows.Next() {
		var r RecentRepo
		var ts string
		if err := rows.Scan(&r.CanonicalRepoPath, &r.Subdirectory, &ts); err != nil {
			return nil, clauderr.Storage(err, "scan recent repo row")
		}
		if t, err := parseTime(ts); err == nil {
			r.LastUsedAt = t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
