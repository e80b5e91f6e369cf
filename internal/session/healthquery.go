package session

import (
	"context"

	"github.com/shepherdjerred/clauderon/internal/health"
)

// GetSessionHealth runs a single health check against one session
// without mutating anything.
func (m *Manager) GetSessionHealth(ctx context.Context, idOrName string) (health.Report, error) {
	sess, err := m.GetSession(idOrName)
	if err != nil {
		return health.Report{}, err
	}
	return m.health.CheckSession(ctx, sess), nil
}

// GetHealth runs a health check against every session and returns the
// aggregate — the same classification Reconcile uses, but returned
// directly instead of summarized into a ReconcileReport.
func (m *Manager) GetHealth(ctx context.Context) (health.AggregateResult, error) {
	sessions, err := m.store.ListSessions()
	if err != nil {
		return health.AggregateResult{}, err
	}
	return m.health.CheckAll(ctx, sessions), nil
}
