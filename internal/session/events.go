package session

import (
	"github.com/google/uuid"

	"github.com/shepherdjerred/clauderon/internal/store"
)

// EventBroadcast is one session lifecycle event, fanned out to every
// subscriber (the HTTP surface's /ws/events among them) in addition to
// being durably recorded via Store.RecordEvent.
type EventBroadcast struct {
	SessionID string
	Type      store.EventType
	Payload   any
}

// Subscribe registers a new event consumer. The returned channel is
// closed by Unsubscribe; callers must drain it promptly or risk
// dropped events (the channel is bounded and non-blocking sends).
func (m *Manager) Subscribe() (id string, ch <-chan EventBroadcast) {
	m.eventsMu.Lock()
	defer m.eventsMu.Unlock()
	if m.eventSubs == nil {
		m.eventSubs = make(map[string]chan EventBroadcast)
	}
	subID := uuid.NewString()
	c := make(chan EventBroadcast, 64)
	m.eventSubs[subID] = c
	return subID, c
}

// Unsubscribe removes and closes a subscriber's channel.
func (m *Manager) Unsubscribe(id string) {
	m.eventsMu.Lock()
	defer m.eventsMu.Unlock()
	if c, ok := m.eventSubs[id]; ok {
		delete(m.eventSubs, id)
		close(c)
	}
}

// publish durably records the event then fans it out to every live
// subscriber, dropping the event for any subscriber whose channel is
// full rather than blocking the caller.
func (m *Manager) publish(sessionID string, eventType store.EventType, payload any) {
	_ = m.store.RecordEvent(sessionID, eventType, payload)

	m.eventsMu.Lock()
	subs := make([]chan EventBroadcast, 0, len(m.eventSubs))
	for _, c := range m.eventSubs {
		subs = append(subs, c)
	}
	m.eventsMu.Unlock()

	ev := EventBroadcast{SessionID: sessionID, Type: eventType, Payload: payload}
	for _, c := range subs {
		select {
		case c <- ev:
		default:
		}
	}
}
