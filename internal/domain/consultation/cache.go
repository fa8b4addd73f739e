package consultation

import (
	"context"
	"sync"
)

// Cache keys mirror the browser-era storage slots so cached payloads stay
// recognizable across the stack.
const (
	KeySelectedConsultation = "doctorSelectedConsultation"
	KeyCurrentSession       = "doctorCurrentSession"
	KeyConsultations        = "doctorConsultations"
)

// SessionCache is the durable key/value store the persistence bridge
// mirrors live session state into. Implementations must tolerate frequent
// small writes: the bridge re-serializes on every field change mid-edit.
type SessionCache interface {
	// GetItem returns the stored value and whether the key was present.
	GetItem(ctx context.Context, key string) (string, bool, error)
	SetItem(ctx context.Context, key, value string) error
	RemoveItem(ctx context.Context, key string) error
}

// MemoryCache is a process-local SessionCache. It backs tests and
// deployments that accept losing the session on process exit.
type MemoryCache struct {
	mu    sync.RWMutex
	items map[string]string
}

// NewMemoryCache returns an empty in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{items: make(map[string]string)}
}

func (m *MemoryCache) GetItem(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.items[key]
	return v, ok, nil
}

func (m *MemoryCache) SetItem(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = value
	return nil
}

func (m *MemoryCache) RemoveItem(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}
