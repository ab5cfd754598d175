package variable

import (
	"sort"
	"strings"
	"sync"

	"github.com/varhub/varhub/internal/vartype"
)

// Store is the concurrent-safe variable table, keyed by id with a unique
// name index. Reads are served without entering the coordinator's
// serializing loop; writers replace whole records.
type Store struct {
	records map[string]*Record
	names   map[string]string // name -> id, a permanent bijection
	mu      sync.RWMutex
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		records: make(map[string]*Record),
		names:   make(map[string]string),
	}
}

// Get retrieves a record by id.
func (s *Store) Get(id string) (*Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	return r, ok
}

// GetByName retrieves a record by its symbolic name.
func (s *Store) GetByName(name string) (*Record, bool) {
	s.mu.RLock()
	id, ok := s.names[name]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return s.Get(id)
}

// Resolve retrieves a record by id first, then by name.
func (s *Store) Resolve(key string) (*Record, bool) {
	if r, ok := s.Get(key); ok {
		return r, true
	}
	return s.GetByName(key)
}

// NameTaken reports whether a name is already registered.
func (s *Store) NameTaken(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.names[name]
	return ok
}

// Put inserts or replaces a record and maintains the name index.
func (s *Store) Put(r *Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[r.ID] = r
	s.names[r.Name] = r.ID
}

// Delete removes a record, returning it if present.
func (s *Store) Delete(id string) (*Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return nil, false
	}
	delete(s.records, id)
	delete(s.names, r.Name)
	return r, true
}

// Filter narrows List results. Zero value matches everything.
type Filter struct {
	Type       vartype.Tag
	NamePrefix string
}

func (f Filter) matches(r *Record) bool {
	if f.Type != "" && r.Type != f.Type {
		return false
	}
	if f.NamePrefix != "" && !strings.HasPrefix(r.Name, f.NamePrefix) {
		return false
	}
	return true
}

// List returns matching records sorted by name.
func (s *Store) List(f Filter) []*Record {
	s.mu.RLock()
	out := make([]*Record, 0, len(s.records))
	for _, r := range s.records {
		if f.matches(r) {
			out = append(out, r)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Count returns the number of stored variables.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
