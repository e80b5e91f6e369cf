package session

import (
	"context"

	"github.com/shepherdjerred/clauderon/internal/health"
	"github.com/shepherdjerred/clauderon/internal/metrics"
)

// ReconcileReport classifies every persisted session's discrepancy
// between expected and actual state. Reconciliation never mutates —
// it only reports; any recreation is always a separate, user-initiated
// call.
type ReconcileReport struct {
	MissingWorktrees  []string
	MissingBackends   []string
	OrphanedBackends  []string
	Recreated         []string
	RecreationFailed  []string
	GaveUp            []string
}

// Reconcile examines every session's backend health and worktree
// presence and classifies discrepancies. It never recreates or
// deletes anything itself.
func (m *Manager) Reconcile(ctx context.Context) (ReconcileReport, error) {
	metrics.ReconcileRunsTotal.Inc()

	sessions, err := m.store.ListSessions()
	if err != nil {
		return ReconcileReport{}, err
	}

	result := m.health.CheckAll(ctx, sessions)

	var report ReconcileReport
	for _, r := range result.Reports {
		switch r.State {
		case health.StateWorktreeMissing:
			report.MissingWorktrees = append(report.MissingWorktrees, r.SessionID)
		case health.StateMissing:
			report.MissingBackends = append(report.MissingBackends, r.SessionID)
		case health.StateDeletedExternally:
			report.OrphanedBackends = append(report.OrphanedBackends, r.SessionID)
		case health.StateError, health.StateCrashLoop:
			if len(r.AvailableActions) == 0 {
				report.GaveUp = append(report.GaveUp, r.SessionID)
			}
		}
	}

	return report, nil
}
