package conversation

import (
	"context"
	"sync"

	"github.com/ventlabs/vent-backend/internal/service/oracle"
	"github.com/ventlabs/vent-backend/internal/store"
)

// Manager hands out one orchestrator per conversation so concurrent HTTP
// requests against the same conversation share the single-cycle guarantee.
type Manager struct {
	store  store.MessageStore
	oracle oracle.Client
	opts   Options

	mu            sync.Mutex
	orchestrators map[string]*Orchestrator
}

// NewManager bootstraps the orchestrator registry.
func NewManager(st store.MessageStore, oc oracle.Client, opts Options) *Manager {
	return &Manager{
		store:         st,
		oracle:        oc,
		opts:          opts,
		orchestrators: make(map[string]*Orchestrator),
	}
}

// Get returns the conversation's orchestrator, creating and subscribing it on
// first use. The identity of the first caller is bound to the conversation.
func (m *Manager) Get(conversationID string, identity Identity) *Orchestrator {
	m.mu.Lock()
	defer m.mu.Unlock()

	if orch, ok := m.orchestrators[conversationID]; ok {
		return orch
	}

	orch := New(m.store, m.oracle, identity, conversationID, m.opts)
	orch.Subscribe()
	m.orchestrators[conversationID] = orch
	return orch
}

// Clear wipes a conversation. An active orchestrator also resets its session
// history; otherwise the delete goes straight to the store.
func (m *Manager) Clear(ctx context.Context, conversationID string) (int, error) {
	m.mu.Lock()
	orch, ok := m.orchestrators[conversationID]
	m.mu.Unlock()

	if ok {
		return orch.ClearHistory(ctx)
	}
	return m.store.DeleteByConversation(ctx, conversationID)
}

// Close releases every live subscription.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, orch := range m.orchestrators {
		orch.Close()
	}
	m.orchestrators = make(map[string]*Orchestrator)
}
