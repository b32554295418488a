package storage

import (
	"context"
	"sync"

	"github.com/storyloom/narrate/pkg/story"
)

// MockStore is an in-memory StoryStore for tests. Err, when set, is
// returned from every read so callers' degraded paths can be exercised.
type MockStore struct {
	mu    sync.RWMutex
	nodes map[string]map[string]story.NodeText // storyID -> nodeID -> node
	Err   error

	GetNodeCalls int
}

func NewMockStore() *MockStore {
	return &MockStore{nodes: make(map[string]map[string]story.NodeText)}
}

func (m *MockStore) Ping(ctx context.Context) error { return m.Err }
func (m *MockStore) Close() error                   { return nil }

func (m *MockStore) GetNode(ctx context.Context, storyID, nodeID string) (*story.NodeText, error) {
	m.mu.Lock()
	m.GetNodeCalls++
	m.mu.Unlock()

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Err != nil {
		return nil, m.Err
	}
	node, ok := m.nodes[storyID][nodeID]
	if !ok {
		return nil, ErrNotFound
	}
	return &node, nil
}

func (m *MockStore) GetNodes(ctx context.Context, storyID string, nodeIDs []string) ([]story.NodeText, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Err != nil {
		return nil, m.Err
	}
	var out []story.NodeText
	for _, id := range nodeIDs {
		if node, ok := m.nodes[storyID][id]; ok {
			out = append(out, node)
		}
	}
	return out, nil
}

func (m *MockStore) SaveNode(ctx context.Context, storyID string, node story.NodeText) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	if m.nodes[storyID] == nil {
		m.nodes[storyID] = make(map[string]story.NodeText)
	}
	m.nodes[storyID][node.NodeID] = node
	return nil
}

func (m *MockStore) ListNodes(ctx context.Context, storyID string) ([]story.NodeText, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Err != nil {
		return nil, m.Err
	}
	var out []story.NodeText
	for _, node := range m.nodes[storyID] {
		out = append(out, node)
	}
	return out, nil
}
