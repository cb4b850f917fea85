package index

import (
	"context"
	"sync"

	metrics "github.com/rcrowley/go-metrics"

	"github.com/orneryd/pathfold/pkg/storage"
)

// MemoryIndex is a map-backed index.
//
// Every entry is registered under each of its slot prefixes, so full-key and
// leading-slot lookups are both a single map access.
type MemoryIndex struct {
	usage
	name string
	def  Definition

	mu sync.RWMutex
	// full encoded key -> record IDs
	full map[string]map[storage.RecordID]struct{}
	// encoded slot prefix (including the full key) -> record ID -> entry count
	prefixes map[string]map[storage.RecordID]int
}

// NewMemoryIndex creates an empty in-memory index. registry may be nil.
func NewMemoryIndex(name string, def Definition, registry metrics.Registry) (*MemoryIndex, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &MemoryIndex{
		usage:    newUsage(registry, name),
		name:     name,
		def:      NewDefinition(def.Fields...),
		full:     make(map[string]map[storage.RecordID]struct{}),
		prefixes: make(map[string]map[storage.RecordID]int),
	}, nil
}

// MemoryFactory returns a Factory producing MemoryIndex values whose usage
// counters live in registry.
func MemoryFactory(registry metrics.Registry) Factory {
	return func(name string, def Definition) (Index, error) {
		return NewMemoryIndex(name, def, registry)
	}
}

// Name returns the index name.
func (m *MemoryIndex) Name() string { return m.name }

// Definition returns the indexed fields.
func (m *MemoryIndex) Definition() Definition { return m.def }

// Put adds rid under key. A key with fewer slots than the definition is
// stored as is and only reachable through prefix lookups.
func (m *MemoryIndex) Put(key any, rid storage.RecordID) error {
	if err := validateRecordID(rid); err != nil {
		return err
	}
	slots := slotsOf(key)
	if _, err := encodeLookup(m.def, key); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	fullKey := encodeSlots(slots)
	if m.full[fullKey] == nil {
		m.full[fullKey] = make(map[storage.RecordID]struct{})
	}
	if _, exists := m.full[fullKey][rid]; exists {
		return nil
	}
	m.full[fullKey][rid] = struct{}{}

	for i := 1; i <= len(slots); i++ {
		p := encodeSlots(slots[:i])
		if m.prefixes[p] == nil {
			m.prefixes[p] = make(map[storage.RecordID]int)
		}
		m.prefixes[p][rid]++
	}
	return nil
}

// Remove deletes rid from key.
func (m *MemoryIndex) Remove(key any, rid storage.RecordID) error {
	slots := slotsOf(key)
	if _, err := encodeLookup(m.def, key); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	fullKey := encodeSlots(slots)
	ids := m.full[fullKey]
	if _, exists := ids[rid]; !exists {
		return nil
	}
	delete(ids, rid)
	if len(ids) == 0 {
		delete(m.full, fullKey)
	}

	for i := 1; i <= len(slots); i++ {
		p := encodeSlots(slots[:i])
		counts := m.prefixes[p]
		if counts == nil {
			continue
		}
		counts[rid]--
		if counts[rid] <= 0 {
			delete(counts, rid)
		}
		if len(counts) == 0 {
			delete(m.prefixes, p)
		}
	}
	return nil
}

// Values returns the union of records stored under keys.
func (m *MemoryIndex) Values(ctx context.Context, keys []any) ([]storage.RecordID, error) {
	encoded := make([]string, 0, len(keys))
	for _, key := range keys {
		p, err := encodeLookup(m.def, key)
		if err != nil {
			return nil, err
		}
		encoded = append(encoded, p)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[storage.RecordID]struct{})
	out := []storage.RecordID{}
	for _, p := range encoded {
		for rid := range m.prefixes[p] {
			if _, dup := seen[rid]; dup {
				continue
			}
			seen[rid] = struct{}{}
			out = append(out, rid)
		}
	}
	return storage.SortIDs(out), nil
}

// Len returns the number of distinct full keys.
func (m *MemoryIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.full)
}
