package session

import (
	"github.com/shepherdjerred/clauderon/internal/clauderr"
	"github.com/shepherdjerred/clauderon/internal/gitutil"
	"github.com/shepherdjerred/clauderon/internal/store"
)

// MergePullRequest merges the session's branch via the Git worktree's
// `gh pr merge` and records the outcome on the session row.
func (m *Manager) MergePullRequest(idOrName string) (string, error) {
	sess, err := m.GetSession(idOrName)
	if err != nil {
		return "", err
	}

	var output string
	err = m.withSessionLock(sess.ID, func() error {
		out, mergeErr := gitutil.MergePullRequest(sess.WorktreePath)
		output = out
		status := "Merged"
		if mergeErr != nil {
			status = "Failed"
		}
		sess.MergeStatus = &status
		if saveErr := m.store.SaveSession(sess); saveErr != nil {
			return clauderr.Storage(saveErr, "save session %s", sess.ID)
		}
		if mergeErr != nil {
			return clauderr.ExternalTool(mergeErr, "merge pull request for %s", sess.Name)
		}
		m.publish(sess.ID, store.EventPRLinked, map[string]any{"merge_status": status})
		return nil
	})
	return output, err
}
