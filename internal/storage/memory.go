package storage

import (
	"sort"
	"sync"

	"github.com/varhub/varhub/internal/protocol"
)

// MemoryStorage keeps the snapshot in process memory. It is the default
// backend; a restart starts empty.
type MemoryStorage struct {
	mu   sync.Mutex
	vars []protocol.WireVariable
}

// NewMemoryStorage creates an in-memory backend.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{}
}

// ReplaceAll implements Backend.
func (m *MemoryStorage) ReplaceAll(vars []protocol.WireVariable) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vars = append([]protocol.WireVariable(nil), vars...)
	return nil
}

// LoadAll implements Backend. Variables come back sorted by name, matching
// the database backends.
func (m *MemoryStorage) LoadAll() ([]protocol.WireVariable, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]protocol.WireVariable(nil), m.vars...)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Close implements Backend.
func (m *MemoryStorage) Close() error {
	return nil
}
