package backend_test

import (
	"context"
	"errors"
	"sync"

	"github.com/shepherdjerred/clauderon/internal/backend"
)

// mockBackend is a minimal in-memory ExecutionBackend used to test
// code written against the interface (session manager, health
// service) without a real sandbox runtime.
type mockBackend struct {
	mu           sync.Mutex
	sandboxes    map[string]backend.Health
	capabilities backend.Capabilities
	isRemote     bool
}

func newMockBackend(caps backend.Capabilities, isRemote bool) *mockBackend {
	return &mockBackend{sandboxes: make(map[string]backend.Health), capabilities: caps, isRemote: isRemote}
}

func (m *mockBackend) Create(_ context.Context, name, _, _ string, opts backend.CreateOptions) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := opts.SessionID
	if id == "" {
		id = name
	}
	m.sandboxes[id] = backend.Health{State: backend.HealthRunning}
	return id, nil
}

func (m *mockBackend) Exists(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sandboxes[id]
	return ok, nil
}

func (m *mockBackend) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sandboxes, id)
	return nil
}

func (m *mockBackend) AttachCommand(_ context.Context, id string) ([]string, error) {
	return []string{"echo", id}, nil
}

func (m *mockBackend) GetOutput(_ context.Context, id string, _ int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sandboxes[id]; !ok {
		return "", errors.New("not found")
	}
	return "", nil
}

func (m *mockBackend) CheckHealth(_ context.Context, id string) (backend.Health, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.sandboxes[id]
	if !ok {
		return backend.Health{State: backend.HealthNotFound}, nil
	}
	return h, nil
}

func (m *mockBackend) setHealth(id string, h backend.Health) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sandboxes[id] = h
}

func (m *mockBackend) Capabilities() backend.Capabilities { return m.capabilities }
func (m *mockBackend) IsRemote() bool                     { return m.isRemote }

var _ backend.ExecutionBackend = (*mockBackend)(nil)
